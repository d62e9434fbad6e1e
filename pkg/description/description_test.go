package description

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dofigen/dofigen/pkg/errdefs"
	"github.com/dofigen/dofigen/pkg/model"
	"github.com/dofigen/dofigen/pkg/patch"
	"github.com/dofigen/dofigen/pkg/resource"
)

// memoryContext serves the given documents by file name.
func memoryContext(docs map[string]string) *resource.LoadContext {
	return resource.NewLoadContext(resource.WithFetcher(resource.FetcherFunc(
		func(_ context.Context, r resource.Resource) (string, error) {
			text, ok := docs[r.Location]
			if !ok {
				return "", errdefs.Customf(os.ErrNotExist, "failed to read file").WithResource(r.Location)
			}
			return text, nil
		})))
}

func parse(t *testing.T, docs map[string]string, start string, opts Options) (*model.Dofigen, error) {
	t.Helper()
	lc := memoryContext(docs)
	return ParseResource(context.Background(), lc, resource.File(start), opts)
}

func mustParse(t *testing.T, docs map[string]string, start string) *model.Dofigen {
	t.Helper()
	d, err := parse(t, docs, start, Options{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return d
}

func TestParseString_FromPath(t *testing.T) {
	d, err := ParseString(context.Background(), memoryContext(nil), `{ "from": { "path": "ubuntu" } }`, Options{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := model.FromImage(model.ImageName{Path: "ubuntu"})
	if diff := cmp.Diff(want, d.From); diff != "" {
		t.Errorf("From mismatch (-want +got):\n%s", diff)
	}
	if len(d.Builders) != 0 {
		t.Errorf("Expected no builders, got %v", d.Builders)
	}
}

func TestResolve_EmptyExtend(t *testing.T) {
	text := `
fromImage: alpine:3.20
workdir: /app
env:
  A: "1"
run:
  - echo hello
`
	ext, err := Decode(context.Background(), text, resource.File("dofigen.yml"), Options{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	got, err := Resolve(context.Background(), memoryContext(nil), ext, Options{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := patch.Merge(model.Dofigen{}, patch.Patcher[model.Dofigen](ext.Patch))
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Errorf("Resolve mismatch (-want +got):\n%s", diff)
	}
}

func TestParseResource_Extend(t *testing.T) {
	docs := map[string]string{
		"base.yml": `
fromImage: alpine:3.20
workdir: /app
env:
  A: "1"
  B: "2"
run:
  - apk add git
  - git --version
expose: 8080
`,
		"middle.yml": `
extend: base.yml
env:
  B: "3"
run:
  "+": echo middle
`,
		"dofigen.yml": `
extends:
  - middle.yml
fromImage:
  tag: "3.21"
run:
  "0": apk add curl
cmd: [serve]
`,
	}

	d := mustParse(t, docs, "dofigen.yml")

	if got := d.From.Image.String(); got != "alpine:3.21" {
		t.Errorf("Expected merged image alpine:3.21, got %q", got)
	}
	if diff := cmp.Diff(map[string]string{"A": "1", "B": "3"}, d.Env); diff != "" {
		t.Errorf("Env mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"apk add curl", "git --version", "echo middle"}, d.Run.Run); diff != "" {
		t.Errorf("Run mismatch (-want +got):\n%s", diff)
	}
	if d.Workdir != "/app" {
		t.Errorf("Expected inherited workdir, got %q", d.Workdir)
	}
	if diff := cmp.Diff([]model.Port{{Port: 8080}}, d.Expose); diff != "" {
		t.Errorf("Expose mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"serve"}, d.Cmd); diff != "" {
		t.Errorf("Cmd mismatch (-want +got):\n%s", diff)
	}
}

func TestParseResource_ExtendOrder(t *testing.T) {
	docs := map[string]string{
		"a.yml":       "fromImage: a\nuser: \"1\"\n",
		"b.yml":       "fromImage: b\n",
		"dofigen.yml": "extend: [a.yml, b.yml]\n",
	}
	d := mustParse(t, docs, "dofigen.yml")
	if d.From.Image.Path != "b" {
		t.Errorf("Expected the last parent to win, got %q", d.From.Image.Path)
	}
	if d.User == nil || d.User.User != "1" {
		t.Errorf("Expected user from the first parent, got %v", d.User)
	}
}

func TestParseResource_CircularExtend(t *testing.T) {
	tests := []struct {
		name  string
		docs  map[string]string
		start string
		chain string
	}{
		{"self", map[string]string{"a.yml": "extend: a.yml\n"}, "a.yml", "a.yml → a.yml"},
		{"pair from a", map[string]string{"a.yml": "extend: b.yml\n", "b.yml": "extend: a.yml\n"}, "a.yml", "a.yml → b.yml → a.yml"},
		{"pair from b", map[string]string{"a.yml": "extend: b.yml\n", "b.yml": "extend: a.yml\n"}, "b.yml", "b.yml → a.yml → b.yml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.docs, tt.start, Options{})
			if !errdefs.IsKind(err, errdefs.KindCircularDependency) {
				t.Fatalf("Expected circular dependency error, got: %v", err)
			}
			if !strings.HasSuffix(err.Error(), tt.chain) {
				t.Errorf("Expected chain %q in %q", tt.chain, err.Error())
			}
		})
	}
}

func TestParseResource_SiblingExtendIsNotACycle(t *testing.T) {
	docs := map[string]string{
		"common.yml":  "env:\n  COMMON: \"1\"\n",
		"a.yml":       "extend: common.yml\nfromImage: a\n",
		"dofigen.yml": "extend: [a.yml, common.yml]\n",
	}
	d := mustParse(t, docs, "dofigen.yml")
	if d.Env["COMMON"] != "1" {
		t.Errorf("Expected env from shared parent, got %v", d.Env)
	}
}

func TestParseResource_BuilderExtend(t *testing.T) {
	docs := map[string]string{
		"rust.yml": `
fromImage: rust:1.80
workdir: /src
run:
  - cargo build --release
cache:
  - /usr/local/cargo/registry
`,
		"dofigen.yml": `
builders:
  build:
    extend: rust.yml
    copy: [.]
fromImage: debian:bookworm-slim
copy:
  - fromBuilder: build
    paths: [/src/target/release/app]
    target: /bin/app
`,
	}
	d := mustParse(t, docs, "dofigen.yml")

	b, ok := d.Builders["build"]
	if !ok {
		t.Fatalf("Expected builder build, got %v", d.BuilderNames())
	}
	if b.From.Image.String() != "rust:1.80" || b.Workdir != "/src" {
		t.Errorf("Expected builder to inherit rust.yml, got %+v", b)
	}
	if len(b.Copy) != 1 || len(b.Run.Cache) != 1 {
		t.Errorf("Expected local copy and inherited cache, got %+v", b)
	}

	cp, ok := d.Copy[0].(*model.Copy)
	if !ok {
		t.Fatalf("Expected a Copy, got %T", d.Copy[0])
	}
	if cp.From != model.FromBuilder("build") || cp.Options.Target != "/bin/app" {
		t.Errorf("Unexpected copy %+v", cp)
	}
}

func TestDecode_ListPatchCommands(t *testing.T) {
	docs := map[string]string{
		"base.yml": "fromImage: alpine\nrun: [a, b, c]\n",
		"dofigen.yml": `
extend: base.yml
run:
  "+0": first
  "1": B
  "2+": after-b
  "+": last
`,
	}
	d := mustParse(t, docs, "dofigen.yml")
	want := []string{"first", "B", "b", "after-b", "c", "last"}
	if diff := cmp.Diff(want, d.Run.Run); diff != "" {
		t.Errorf("Run mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_ReplaceAllAndClear(t *testing.T) {
	docs := map[string]string{
		"base.yml":    "fromImage: alpine\nrun: [a, b]\nentrypoint: [sh]\n",
		"dofigen.yml": "extend: base.yml\nrun:\n  _: [x]\nentrypoint: null\n",
	}
	d := mustParse(t, docs, "dofigen.yml")
	if diff := cmp.Diff([]string{"x"}, d.Run.Run); diff != "" {
		t.Errorf("Run mismatch (-want +got):\n%s", diff)
	}
	if d.Entrypoint != nil {
		t.Errorf("Expected entrypoint cleared, got %v", d.Entrypoint)
	}
}

func TestDecode_PatchAtCopy(t *testing.T) {
	docs := map[string]string{
		"base.yml": `
fromImage: alpine
copy:
  - paths: [src]
    target: /app/src
    chown: "1000:1000"
`,
		"dofigen.yml": `
extend: base.yml
copy:
  "0<":
    target: /srv
    link: true
`,
	}
	d := mustParse(t, docs, "dofigen.yml")
	cp, ok := d.Copy[0].(*model.Copy)
	if !ok {
		t.Fatalf("Expected a Copy, got %T", d.Copy[0])
	}
	if cp.Options.Target != "/srv" || cp.Options.Link == nil || !*cp.Options.Link {
		t.Errorf("Expected patched options, got %+v", cp.Options)
	}
	if cp.Options.Chown == nil || cp.Options.Chown.String() != "1000:1000" {
		t.Errorf("Expected chown kept, got %v", cp.Options.Chown)
	}
	if diff := cmp.Diff([]string{"src"}, cp.Paths); diff != "" {
		t.Errorf("Paths mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_CopyVariants(t *testing.T) {
	text := `
fromImage: alpine
add:
  - https://github.com/lenra-io/dofigen.git /src
  - https://example.com/file.tar.gz
  - files: [https://example.com/a.txt]
    checksum: sha256:abc
  - repo: git@github.com:lenra-io/dofigen.git
    keepGitDir: true
  - package.json yarn.lock /app/
`
	d, err := ParseString(context.Background(), memoryContext(nil), text, Options{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	var kinds []string
	for _, c := range d.Copy {
		switch c.(type) {
		case *model.Copy:
			kinds = append(kinds, "copy")
		case *model.AddGitRepo:
			kinds = append(kinds, "git")
		case *model.Add:
			kinds = append(kinds, "add")
		}
	}
	if diff := cmp.Diff([]string{"git", "add", "add", "git", "copy"}, kinds); diff != "" {
		t.Errorf("Variant mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Strict(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"canonical keys", "fromImage: alpine\nrun: [echo]\n", false},
		{"alias key", "from: alpine\n", true},
		{"scalar list", "fromImage: alpine\nrun: echo\n", true},
		{"plural alias", "fromImage: alpine\nenvs:\n  A: b\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(context.Background(), memoryContext(nil), tt.text, Options{Strict: true})
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got: %v", tt.wantErr, err)
			}
			if _, err := ParseString(context.Background(), memoryContext(nil), tt.text, Options{}); err != nil {
				t.Errorf("Expected permissive mode to accept, got: %v", err)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
		msg  string
	}{
		{"unknown field", "fromImage: alpine\nworkdir: /app\nunknown: 1\n", 3, `unknown field "unknown"`},
		{"two sources", "fromImage: alpine\nfromBuilder: b\n", 2, "only one of"},
		{"duplicate alias", "env:\n  A: b\nenvs:\n  C: d\n", 3, `duplicate field "env"`},
		{"bad user", "user:\n  - a\n", 2, "expected a string"},
		{"bad sharing", "cache:\n  - target: /c\n    sharing: nope\n", 3, "invalid sharing"},
		{"malformed yaml", "fromImage: [alpine\n", 0, "invalid document"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(context.Background(), tt.text, resource.File("dofigen.yml"), Options{})
			if !errdefs.IsKind(err, errdefs.KindDeserialize) {
				t.Fatalf("Expected deserialize error, got: %v", err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("Expected %q in %q", tt.msg, err.Error())
			}
			if !strings.Contains(err.Error(), "dofigen.yml") {
				t.Errorf("Expected document name in %q", err.Error())
			}
			var derr *errdefs.Error
			if tt.line > 0 {
				if !errors.As(err, &derr) || derr.Line != tt.line {
					t.Errorf("Expected line %d, got %+v", tt.line, derr)
				}
			}
		})
	}
}

func TestDecode_Mounts(t *testing.T) {
	text := `
fromImage: golang
workdir: /src
root:
  run: apt-get update
  cache: /var/cache/apt
run: go build ./...
cache:
  - target: /root/.cache/go-build
    sharing: private
    chown: "1000"
bind:
  - target: /src/go.mod
    source: go.mod
`
	d, err := ParseString(context.Background(), memoryContext(nil), text, Options{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if d.Root == nil || len(d.Root.Run) != 1 || d.Root.Cache[0].Target != "/var/cache/apt" {
		t.Errorf("Unexpected root %+v", d.Root)
	}
	c := d.Run.Cache[0]
	if c.Sharing != model.SharingPrivate || c.Chown == nil || c.Chown.User != "1000" {
		t.Errorf("Unexpected cache %+v", c)
	}
	if d.Run.Bind[0].Source != "go.mod" {
		t.Errorf("Unexpected bind %+v", d.Run.Bind[0])
	}
}

func TestDecode_Formats(t *testing.T) {
	cue := `
fromImage: "alpine:3.20"
env: {
	B: "2"
	A: "1"
}
run: ["echo " + env.A]
`
	star := `
pkgs = ["git", "curl"]
dofigen = {
    "fromImage": "alpine:3.20",
    "root": {"run": ["apk add " + " ".join(pkgs)]},
    "run": ["echo %d" % len(pkgs)],
}
`
	docs := map[string]string{"dofigen.cue": cue, "dofigen.star": star}

	d := mustParse(t, docs, "dofigen.cue")
	if d.From.Image.String() != "alpine:3.20" || d.Env["A"] != "1" {
		t.Errorf("Unexpected cue result %+v", d.Stage)
	}
	if diff := cmp.Diff([]string{"echo 1"}, d.Run.Run); diff != "" {
		t.Errorf("Run mismatch (-want +got):\n%s", diff)
	}

	d = mustParse(t, docs, "dofigen.star")
	if d.Root == nil || d.Root.Run[0] != "apk add git curl" {
		t.Errorf("Unexpected starlark root %+v", d.Root)
	}
	if diff := cmp.Diff([]string{"echo 2"}, d.Run.Run); diff != "" {
		t.Errorf("Run mismatch (-want +got):\n%s", diff)
	}

	if _, err := parse(t, map[string]string{"bad.star": "x = 1\n"}, "bad.star", Options{}); !errdefs.IsKind(err, errdefs.KindDeserialize) {
		t.Errorf("Expected deserialize error for missing global, got: %v", err)
	}
}

func TestDecode_YAMLMergeKey(t *testing.T) {
	text := `
fromImage: alpine
builders:
  base: &base
    fromImage: node:22
    workdir: /app
  build:
    <<: *base
    run: [npm ci]
`
	d, err := ParseString(context.Background(), memoryContext(nil), text, Options{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if d.Builders["build"].Workdir != "/app" {
		t.Errorf("Expected merged builder, got %+v", d.Builders["build"])
	}
}
