package dockerfile

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/lo"

	"github.com/dofigen/dofigen/pkg/errdefs"
	"github.com/dofigen/dofigen/pkg/generator"
	"github.com/dofigen/dofigen/pkg/model"
)

func mustParse(t *testing.T, text string) *Result {
	t.Helper()
	res, err := Parse(text)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return res
}

func TestParse_RoundTrip(t *testing.T) {
	alpine := model.FromImage(model.ImageName{Path: "alpine", Tag: "3.21"})

	tests := []struct {
		name string
		d    *model.Dofigen
	}{
		{
			name: "minimal",
			d:    &model.Dofigen{Stage: model.Stage{From: model.FromImage(model.ImageName{Path: "ubuntu"})}},
		},
		{
			name: "scratch",
			d: &model.Dofigen{Stage: model.Stage{Copy: []model.CopyResource{
				&model.Copy{Paths: []string{"app"}, Options: model.CopyOptions{Target: "/app"}},
			}}},
		},
		{
			name: "builders and mounts",
			d: &model.Dofigen{
				GlobalArg: map[string]string{"VERSION": "", "REGISTRY": "docker.io"},
				Builders: map[string]model.Stage{
					"deps": {
						From:    alpine,
						Workdir: "/deps",
						Copy:    []model.CopyResource{&model.Copy{Paths: []string{"package.json", "package-lock.json"}}},
						Run: model.Run{
							Run: []string{"npm ci"},
							Cache: []model.Cache{{
								ID:       "npm",
								Target:   "/root/.npm",
								Chmod:    "0755",
								Chown:    &model.User{User: "1000", Group: "1000"},
								Sharing:  model.SharingPrivate,
								ReadOnly: true,
							}},
						},
					},
					"build": {
						From:    model.FromBuilder("deps"),
						Arg:     map[string]string{"TARGET": "release"},
						Env:     map[string]string{"NODE_ENV": "production", "PATH": "$PATH:/deps/node_modules/.bin"},
						Workdir: "/src",
						Copy: []model.CopyResource{
							&model.Copy{
								Paths:   []string{"."},
								Exclude: []string{"*.md", "tests"},
								Parents: lo.ToPtr(true),
								Options: model.CopyOptions{Chmod: "644", Link: lo.ToPtr(false)},
							},
						},
						Run: model.Run{
							Run:   []string{"npm run build", "npm prune --production"},
							Shell: []string{"/bin/bash", "-euo", "pipefail", "-c"},
							Cache: []model.Cache{{Target: "node_modules/.cache", From: model.FromBuilder("deps"), Source: "/deps/cache"}},
							Bind:  []model.Bind{{Target: "/deps", From: model.FromBuilder("deps"), Source: "/deps", ReadWrite: true}},
						},
					},
				},
				Stage: model.Stage{
					From:  alpine,
					Label: map[string]string{"org.opencontainers.image.title": `say "hi" \o/`},
					Copy: []model.CopyResource{
						&model.Copy{From: model.FromBuilder("build"), Paths: []string{"/src/dist"}, Options: model.CopyOptions{Target: "/app", Chown: &model.User{User: "1000"}, Link: lo.ToPtr(true)}},
						&model.AddGitRepo{Repo: "https://github.com/lenra-io/dofigen.git", Exclude: []string{"docs"}, KeepGitDir: lo.ToPtr(true), Options: model.CopyOptions{Target: "/opt/dofigen"}},
						&model.Add{Files: []string{"https://example.com/tini"}, Checksum: "sha256:0123", Options: model.CopyOptions{Target: "/tini", Chmod: "755"}},
						&model.Copy{From: model.FromImage(model.ImageName{Path: "busybox", Tag: "1"}), Paths: []string{"/bin/busybox"}},
					},
					Root: &model.Run{Run: []string{"apk add --no-cache curl"}},
					Run:  model.Run{Run: []string{"set -e\nif [ -f /app/init ]; then\n  /app/init\nfi"}},
				},
				Expose:     []model.Port{{Port: 8080}, {Port: 53, Protocol: model.ProtocolUDP}},
				Volume:     []string{"/data"},
				Entrypoint: []string{"/tini", "--"},
				Cmd:        []string{"node", "/app/index.js"},
				Healthcheck: &model.Healthcheck{
					Cmd:      "curl -f http://localhost:8080/health",
					Interval: "30s",
					Timeout:  "5s",
					Start:    "10s",
					Retries:  lo.ToPtr(3),
				},
			},
		},
		{
			name: "keys needing quotes",
			d: &model.Dofigen{Stage: model.Stage{
				From: alpine,
				Label: map[string]string{
					"a b":                            "c",
					`say "hi"`:                       "d",
					"k=v":                            "e",
					"org.opencontainers.image.title": "app",
				},
				Env:  map[string]string{"PATH": "/usr/bin", "x y": "1"},
				Arg:  map[string]string{"it's": "z"},
				User: &model.User{User: "1000"},
			}},
		},
		{
			name: "root user with heredoc",
			d: &model.Dofigen{Stage: model.Stage{
				From: alpine,
				User: &model.User{User: "0"},
				Run:  model.Run{Run: []string{"cat <<EOF > /etc/motd\nhello\nEOF"}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, err := generator.Generate(tt.d)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			res := mustParse(t, first)
			second, err := generator.Generate(res.Dofigen)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if diff := cmp.Diff(first, second); diff != "" {
				t.Errorf("Round trip mismatch (-first +second):\n%s", diff)
			}
			if len(res.Warnings) != 0 {
				t.Errorf("Expected no warnings, got %v", res.Warnings)
			}
		})
	}
}

func TestParse_SplitOnSecondRun(t *testing.T) {
	res := mustParse(t, `FROM alpine AS build
WORKDIR /src
RUN apk add make
RUN make
`)

	want := &model.Dofigen{
		Builders: map[string]model.Stage{
			"builder-0": {
				From:    model.FromImage(model.ImageName{Path: "alpine"}),
				Workdir: "/src",
				Run:     model.Run{Run: []string{"apk add make"}},
			},
		},
		Stage: model.Stage{
			From:    model.FromBuilder("builder-0"),
			Workdir: "/src",
			Run:     model.Run{Run: []string{"make"}},
		},
	}
	if diff := cmp.Diff(want, res.Dofigen); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_UserSplit(t *testing.T) {
	res := mustParse(t, `FROM debian
USER 0
RUN apt-get update
USER app
RUN make
USER root
RUN rm -rf /tmp/*
`)

	want := &model.Dofigen{
		Builders: map[string]model.Stage{
			"builder-0": {
				From: model.FromImage(model.ImageName{Path: "debian"}),
				Root: &model.Run{Run: []string{"apt-get update"}},
				User: &model.User{User: "app"},
				Run:  model.Run{Run: []string{"make"}},
			},
		},
		Stage: model.Stage{
			From: model.FromBuilder("builder-0"),
			User: &model.User{User: "root"},
			Run:  model.Run{Run: []string{"rm -rf /tmp/*"}},
		},
	}
	if diff := cmp.Diff(want, res.Dofigen); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Heredoc(t *testing.T) {
	res := mustParse(t, "FROM alpine\nRUN <<-EOT\n\techo a\n\techo b\n\tEOT\nRUN echo <<A && cat <<B\nfirst\nA\nsecond\nB\n")

	want := []string{"echo a\necho b"}
	if diff := cmp.Diff(want, res.Dofigen.Builders["builder-0"].Run.Run); diff != "" {
		t.Errorf("Heredoc body mismatch (-want +got):\n%s", diff)
	}
	want = []string{"echo <<A && cat <<B\nfirst\nA\nsecond\nB"}
	if diff := cmp.Diff(want, res.Dofigen.Run.Run); diff != "" {
		t.Errorf("Inline heredocs mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_InlineHeredoc(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "redirect after the opener",
			text: "FROM alpine\nRUN cat <<EOF > /f\ncontent\nEOF\n",
			want: "cat <<EOF > /f\ncontent\nEOF",
		},
		{
			name: "two openers on one line",
			text: "FROM alpine\nRUN cat <<A - <<B > /f\nfirst\nA\nsecond\nB\n",
			want: "cat <<A - <<B > /f\nfirst\nA\nsecond\nB",
		},
		{
			name: "continuation before the opener",
			text: "FROM alpine\nRUN cat \\\n    <<EOF > /f\nline \\\nEOF\n",
			want: "cat <<EOF > /f\nline \\\nEOF",
		},
		{
			name: "tab stripping left to the shell",
			text: "FROM alpine\nRUN cat <<-EOF > /f\n\tcontent\n\tEOF\n",
			want: "cat <<-EOF > /f\n\tcontent\n\tEOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustParse(t, tt.text)
			if diff := cmp.Diff([]string{tt.want}, res.Dofigen.Run.Run); diff != "" {
				t.Fatalf("Run mismatch (-want +got):\n%s", diff)
			}

			out, err := generator.Generate(res.Dofigen)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			again := mustParse(t, out)
			if diff := cmp.Diff(res.Dofigen.Run.Run, again.Dofigen.Run.Run); diff != "" {
				t.Errorf("Run changed after generation (-first +second):\n%s\n%s", diff, out)
			}
		})
	}
}

func TestParse_Sources(t *testing.T) {
	res := mustParse(t, `FROM alpine
RUN make

FROM 0 AS next
COPY --from=0 /a /b
COPY --from=nginx:1.27 /etc/nginx /etc/nginx
COPY --from=assets logo.png /static/
RUN --mount=type=bind,source=/src,target=/mnt,from=scratch ls /mnt
`)

	d := res.Dofigen
	if d.From != model.FromBuilder("builder-0") {
		t.Errorf("Expected the runtime to start from builder-0, got %+v", d.From)
	}
	var froms []model.FromContext
	for _, c := range d.Copy {
		froms = append(froms, c.(*model.Copy).From)
	}
	want := []model.FromContext{
		model.FromBuilder("builder-0"),
		model.FromImage(model.ImageName{Path: "nginx", Tag: "1.27"}),
		model.FromExternal("assets"),
	}
	if diff := cmp.Diff(want, froms); diff != "" {
		t.Errorf("Copy sources mismatch (-want +got):\n%s", diff)
	}
	if !d.Run.Bind[0].From.IsScratch() {
		t.Errorf("Expected a scratch bind source, got %+v", d.Run.Bind[0].From)
	}
}

func TestParse_ImageFieldsFollowTheRuntimeChain(t *testing.T) {
	res := mustParse(t, `FROM alpine AS other
RUN true
CMD ["other"]

FROM alpine AS base
EXPOSE 80
CMD ["base"]
HEALTHCHECK CMD true

FROM base
EXPOSE 443 80
VOLUME /data /cache
HEALTHCHECK NONE
`)

	d := res.Dofigen
	if diff := cmp.Diff([]model.Port{{Port: 80}, {Port: 443}}, d.Expose); diff != "" {
		t.Errorf("Expose mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"base"}, d.Cmd); diff != "" {
		t.Errorf("Cmd mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/data", "/cache"}, d.Volume); diff != "" {
		t.Errorf("Volume mismatch (-want +got):\n%s", diff)
	}
	if d.Healthcheck != nil {
		t.Errorf("Expected HEALTHCHECK NONE to clear the healthcheck, got %+v", d.Healthcheck)
	}
}

func TestParse_Warnings(t *testing.T) {
	res := mustParse(t, `FROM alpine
MAINTAINER Jane Doe <jane@example.com>
ENV PATH /usr/local/bin:/usr/bin
ENV A=1 A=2
ARG VERSION
CMD node index.js
`)

	d := res.Dofigen
	wantEnv := map[string]string{"PATH": "/usr/local/bin:/usr/bin", "A": "2"}
	if diff := cmp.Diff(wantEnv, d.Env); diff != "" {
		t.Errorf("Env mismatch (-want +got):\n%s", diff)
	}
	if got := d.Label[AuthorsLabel]; got != "Jane Doe <jane@example.com>" {
		t.Errorf("Expected the maintainer label, got %q", got)
	}
	if diff := cmp.Diff([]string{"/bin/sh", "-c", "node index.js"}, d.Cmd); diff != "" {
		t.Errorf("Cmd mismatch (-want +got):\n%s", diff)
	}

	var texts []string
	for _, w := range res.Warnings {
		texts = append(texts, w.Text)
	}
	want := []string{
		`line 4: duplicate ENV key "A"`,
		"line 5: ARG is declared after other instructions of the stage and is moved before them",
	}
	if diff := cmp.Diff(want, texts); diff != "" {
		t.Errorf("Warnings mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
	}{
		{name: "unknown instruction", text: "FROM alpine\nONBUILD RUN make\n", line: 2},
		{name: "instruction before FROM", text: "# comment\nRUN make\n", line: 2},
		{name: "unterminated heredoc", text: "FROM alpine\nRUN <<EOF\necho\n", line: 2},
		{name: "heredoc script with more heredocs", text: "FROM alpine\nRUN <<A <<B\necho a\nA\nb\nB\n", line: 2},
		{name: "heredoc script with an interpreter", text: "FROM alpine\nRUN <<EOF python3\nprint(1)\nEOF\n", line: 2},
		{name: "exec form run", text: "FROM alpine\nRUN [\"make\"]\n", line: 2},
		{name: "unsupported mount", text: "FROM alpine\nRUN --mount=type=secret,id=npm make\n", line: 2},
		{name: "unsupported option", text: "FROM alpine\nRUN --network=none make\n", line: 2},
		{name: "heredoc in COPY", text: "FROM alpine\nCOPY <<EOF /etc/motd\nhello\nEOF\n", line: 2},
		{name: "backtick escape", text: "# syntax=docker/dockerfile:1\n# escape=`\nFROM alpine\nRUN make `\n    install\n", line: 2},
		{name: "empty file", text: "", line: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			var e *errdefs.Error
			if !errors.As(err, &e) || e.Kind != errdefs.KindUnsupportedInstruction {
				t.Fatalf("Expected an unsupported instruction error, got: %v", err)
			}
			if e.Line != tt.line {
				t.Errorf("Expected line %d, got %d", tt.line, e.Line)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	src, err := tokenize("# syntax=docker/dockerfile:1.7\n\nrun \\\n    --mount=type=cache,target=/c \\\n    --link \\\n    make \\\n    && make install\n")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var got []string
	for _, tok := range src.tokens {
		got = append(got, tok.Line.String())
	}
	want := []string{
		"# syntax=docker/dockerfile:1.7",
		"",
		"RUN \\\n    --mount=type=cache,target=/c \\\n    --link \\\n    make \\\n    && make install",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Tokens mismatch (-want +got):\n%s", diff)
	}
	if src.tokens[2].line != 3 {
		t.Errorf("Expected the instruction on line 3, got %d", src.tokens[2].line)
	}
}
