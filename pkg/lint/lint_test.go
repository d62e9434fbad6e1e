package lint

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dofigen/dofigen/pkg/model"
)

func copyFrom(builder string, paths ...string) model.CopyResource {
	return &model.Copy{From: model.FromBuilder(builder), Paths: paths}
}

func runStage(from model.FromContext, copies ...model.CopyResource) model.Stage {
	return model.Stage{From: from, Copy: copies, Run: model.Run{Run: []string{"make"}}}
}

func errorsOf(s *Session) []Message {
	var out []Message
	for _, m := range s.Messages() {
		if m.Level == Error {
			out = append(out, m)
		}
	}
	return out
}

func TestSortedBuilders_Chain(t *testing.T) {
	alpine := model.FromImage(model.ImageName{Path: "alpine"})
	d := &model.Dofigen{
		Builders: map[string]model.Stage{
			"builder1": runStage(alpine, copyFrom("builder2", "/out")),
			"builder2": runStage(alpine, copyFrom("builder3", "/out")),
			"builder3": runStage(alpine),
		},
		Stage: model.Stage{From: alpine, Copy: []model.CopyResource{copyFrom("builder1", "/out")}},
	}

	s := Analyze(d)
	if diff := cmp.Diff([]string{"builder3", "builder2", "builder1"}, s.SortedBuilders()); diff != "" {
		t.Errorf("SortedBuilders mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"builder1", "builder2", "builder3"}, s.RecursiveDependencies(model.RuntimeName)); diff != "" {
		t.Errorf("RecursiveDependencies mismatch (-want +got):\n%s", diff)
	}
	if len(s.Messages()) != 0 {
		t.Errorf("Expected no messages, got %v", s.Messages())
	}
}

func TestSortedBuilders_AlphabeticalTies(t *testing.T) {
	alpine := model.FromImage(model.ImageName{Path: "alpine"})
	d := &model.Dofigen{
		Builders: map[string]model.Stage{
			"c":   runStage(alpine),
			"a":   runStage(alpine),
			"b":   runStage(alpine, copyFrom("c", "/x")),
			"zed": runStage(model.FromBuilder("a")),
		},
		Stage: model.Stage{From: alpine, Copy: []model.CopyResource{
			copyFrom("b", "/x"), copyFrom("zed", "/x"),
		}},
	}

	got := Analyze(d).SortedBuilders()
	if diff := cmp.Diff([]string{"a", "c", "b", "zed"}, got); diff != "" {
		t.Errorf("SortedBuilders mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_Cycle(t *testing.T) {
	alpine := model.FromImage(model.ImageName{Path: "alpine"})
	d := &model.Dofigen{
		Builders: map[string]model.Stage{
			"a":    runStage(alpine, copyFrom("b", "/x")),
			"b":    runStage(alpine, copyFrom("c", "/x")),
			"c":    runStage(alpine, copyFrom("a", "/x")),
			"free": runStage(alpine),
		},
		Stage: model.Stage{From: alpine, Copy: []model.CopyResource{copyFrom("a", "/x"), copyFrom("free", "/x")}},
	}

	s := Analyze(d)
	errs := errorsOf(s)
	if len(errs) != 1 {
		t.Fatalf("Expected exactly one cycle error, got %v", errs)
	}
	if !strings.Contains(errs[0].Text, "a -> b -> c -> a") {
		t.Errorf("Expected the full cycle, got %q", errs[0].Text)
	}
	if s.Cycles() != 1 {
		t.Errorf("Expected one cycle, got %d", s.Cycles())
	}
	if diff := cmp.Diff([]string{"free"}, s.SortedBuilders()); diff != "" {
		t.Errorf("Expected cyclic builders to be excluded (-want +got):\n%s", diff)
	}
}

func TestAnalyze_CacheShadow(t *testing.T) {
	alpine := model.FromImage(model.ImageName{Path: "alpine"})
	d := &model.Dofigen{
		Builders: map[string]model.Stage{
			"A": {
				From: alpine,
				Run: model.Run{
					Run:   []string{"build"},
					Cache: []model.Cache{{Target: "/path/to/cache"}},
				},
			},
			"B": runStage(alpine, copyFrom("A", "/path/to/cache/test")),
		},
		Stage: model.Stage{From: alpine},
	}

	errs := errorsOf(Analyze(d))
	if len(errs) != 1 {
		t.Fatalf("Expected exactly one error, got %v", errs)
	}
	if !strings.Contains(errs[0].Text, "'A'") || !strings.Contains(errs[0].Text, "/path/to/cache") {
		t.Errorf("Expected the builder and cache path, got %q", errs[0].Text)
	}
	if got := errs[0].PathString(); got != "builders.B.copy[0].fromBuilder" {
		t.Errorf("Unexpected path %q", got)
	}
}

func TestAnalyze_CacheShadowRelative(t *testing.T) {
	alpine := model.FromImage(model.ImageName{Path: "alpine"})
	d := &model.Dofigen{
		Builders: map[string]model.Stage{
			"A": {
				From:    alpine,
				Workdir: "/app",
				Run: model.Run{
					Run:   []string{"build"},
					Cache: []model.Cache{{Target: "target"}},
				},
			},
		},
		Stage: model.Stage{From: alpine, Copy: []model.CopyResource{
			copyFrom("A", "target/release/app"),
			copyFrom("A", "/app/targets"),
		}},
	}

	errs := errorsOf(Analyze(d))
	if len(errs) != 1 || errs[0].PathString() != "copy[0].fromBuilder" {
		t.Errorf("Expected one shadow error on copy[0], got %v", errs)
	}
}

func TestAnalyze_ReservedName(t *testing.T) {
	alpine := model.FromImage(model.ImageName{Path: "alpine"})
	d := &model.Dofigen{
		Builders: map[string]model.Stage{
			model.RuntimeName: runStage(alpine),
			"ok":              runStage(alpine),
		},
		Stage: model.Stage{From: alpine, Copy: []model.CopyResource{copyFrom("ok", "/x")}},
	}

	s := Analyze(d)
	errs := errorsOf(s)
	if len(errs) != 1 || errs[0].PathString() != "builders.runtime" {
		t.Fatalf("Expected exactly one reserved name error, got %v", errs)
	}
	if diff := cmp.Diff([]string{"ok"}, s.SortedBuilders()); diff != "" {
		t.Errorf("SortedBuilders mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_Messages(t *testing.T) {
	alpine := model.FromImage(model.ImageName{Path: "alpine"})
	d := &model.Dofigen{
		Builders: map[string]model.Stage{
			"empty":  {From: alpine},
			"unused": runStage(alpine),
			"user": {
				From: alpine,
				User: &model.User{User: "app", Group: "app"},
				Copy: []model.CopyResource{copyFrom(model.RuntimeName, "/x")},
			},
			"mounts": {
				From: model.FromExternal("ctx"),
				Run: model.Run{
					Run: []string{"ls"},
					Cache: []model.Cache{
						{Target: "cache"},
						{Target: "/c", From: model.FromExternal("${CTX}")},
					},
					Bind: []model.Bind{{Target: "/b", From: model.FromBuilder("missing")}},
				},
			},
		},
		Stage: model.Stage{
			From: alpine,
			Copy: []model.CopyResource{
				copyFrom("empty", "/x"),
				copyFrom("user", "/x"),
				copyFrom("mounts", "/x"),
				&model.Copy{From: model.FromExternal("other"), Paths: []string{"/x"}},
			},
		},
	}

	var got []string
	for _, m := range Analyze(d).Messages() {
		got = append(got, m.Level.String()+" "+m.PathString())
	}
	want := []string{
		"warn builders.empty",
		"error builders.mounts.bind[0].fromBuilder",
		"warn builders.mounts.cache[0].target",
		"error builders.mounts.cache[1].fromContext",
		"warn builders.mounts.fromContext",
		"warn builders.unused",
		"error builders.user.copy[0].fromBuilder",
		"warn builders.user.user",
		"warn builders.user.user",
		"warn copy[3].fromContext",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Messages mismatch (-want +got):\n%s", diff)
	}
}

func TestMessage_String(t *testing.T) {
	m := Message{Level: Error, Path: fieldPath([]string{"builders", "b"}, "copy", 0, "fromBuilder"), Text: "boom"}
	if got := m.String(); got != "error: builders.b.copy[0].fromBuilder: boom" {
		t.Errorf("Unexpected message %q", got)
	}
	if got := (Message{Level: Warn, Text: "top"}).String(); got != "warn: top" {
		t.Errorf("Unexpected message %q", got)
	}
}

func TestMessage_PathString(t *testing.T) {
	tests := []struct {
		name string
		path []string
		want string
	}{
		{name: "numeric builder name", path: fieldPath(nil, "builders", "1", "user"), want: "builders.1.user"},
		{name: "index", path: fieldPath(nil, "copy", 2, "chown"), want: "copy[2].chown"},
		{name: "nested indexes", path: fieldPath(nil, "builders", "7", "cache", 0), want: "builders.7.cache[0]"},
		{name: "bracketed field name", path: []string{"label", "[x]"}, want: "label.[x]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Message{Path: tt.path}).PathString(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSession_ToDOT(t *testing.T) {
	alpine := model.FromImage(model.ImageName{Path: "alpine"})
	d := &model.Dofigen{
		Builders: map[string]model.Stage{"build": runStage(alpine)},
		Stage:    model.Stage{From: alpine, Copy: []model.CopyResource{copyFrom("build", "/x"), copyFrom("build", "/y")}},
	}
	dot := Analyze(d).ToDOT()
	if !strings.HasPrefix(dot, "digraph Stages {") {
		t.Errorf("Unexpected DOT header: %s", dot)
	}
	if strings.Count(dot, `"build" -> "runtime"`) != 1 {
		t.Errorf("Expected a single deduplicated edge, got:\n%s", dot)
	}
}
