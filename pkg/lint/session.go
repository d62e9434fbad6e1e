package lint

import (
	"cmp"
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/dofigen/dofigen/pkg/model"
)

// DependencyKind is the field a dependency comes from.
type DependencyKind string

const (
	DependencyFrom  DependencyKind = "from"
	DependencyCopy  DependencyKind = "copy"
	DependencyCache DependencyKind = "cache"
	DependencyBind  DependencyKind = "bind"
)

// Dependency is an edge of the stage graph: the stage reads Path from the
// builder Stage.
type Dependency struct {
	Stage  string
	Path   string
	Kind   DependencyKind
	Origin []string
}

// Session holds the result of one analysis. It only reads the description.
type Session struct {
	d        *model.Dofigen
	messages []Message

	deps       map[string][]Dependency
	cachePaths map[string][]string
	recursive  map[string]map[string]bool
	cycles     map[string]bool
}

// Analyze walks every builder and the runtime stage.
func Analyze(d *model.Dofigen) *Session {
	s := &Session{
		d:          d,
		deps:       make(map[string][]Dependency),
		cachePaths: make(map[string][]string),
		recursive:  make(map[string]map[string]bool),
		cycles:     make(map[string]bool),
	}

	if _, ok := d.Builders[model.RuntimeName]; ok {
		s.errorf(fieldPath(nil, "builders", model.RuntimeName), "The builder name '%s' is reserved for the main stage", model.RuntimeName)
	}

	d.Stages(func(name string, stage *model.Stage, isRuntime bool) {
		if isRuntime {
			s.collect(model.RuntimeName, nil, stage)
			return
		}
		if name == model.RuntimeName {
			return
		}
		s.collect(name, fieldPath(nil, "builders", name), stage)
	})

	for _, name := range s.stageNames() {
		s.recursiveDeps(name, nil)
	}

	s.checkDependencies()
	s.checkUnused()

	slices.SortStableFunc(s.messages, func(a, b Message) int {
		return cmp.Or(
			strings.Compare(a.PathString(), b.PathString()),
			cmp.Compare(b.Level, a.Level),
			strings.Compare(a.Text, b.Text),
		)
	})
	return s
}

// Messages returns the diagnostics sorted by path.
func (s *Session) Messages() []Message {
	return slices.Clone(s.messages)
}

// HasErrors reports whether an Error message was emitted.
func (s *Session) HasErrors() bool {
	return slices.ContainsFunc(s.messages, func(m Message) bool { return m.Level == Error })
}

// Dependencies returns the direct dependencies of a stage.
func (s *Session) Dependencies(stage string) []Dependency {
	return slices.Clone(s.deps[stage])
}

// RecursiveDependencies returns the sorted set of builders stage depends
// on, directly or not. Cycles are cut where they close.
func (s *Session) RecursiveDependencies(stage string) []string {
	return slices.Sorted(maps.Keys(s.recursive[stage]))
}

// SortedBuilders returns the builders in build order. Each round takes the
// builders whose dependencies are all placed, sorted by name. Builders in a
// cycle, or depending on one, are left out, and so is a builder named
// runtime.
func (s *Session) SortedBuilders() []string {
	remaining := make(map[string]map[string]bool)
	for _, name := range s.d.BuilderNames() {
		if name == model.RuntimeName {
			continue
		}
		set := make(map[string]bool)
		for _, dep := range s.deps[name] {
			if s.isBuilder(dep.Stage) {
				set[dep.Stage] = true
			}
		}
		remaining[name] = set
	}

	var sorted []string
	for len(remaining) > 0 {
		var ready []string
		for name, set := range remaining {
			if len(set) == 0 {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			break
		}
		slices.Sort(ready)
		sorted = append(sorted, ready...)
		for _, name := range ready {
			delete(remaining, name)
		}
		for _, set := range remaining {
			for _, name := range ready {
				delete(set, name)
			}
		}
	}
	return sorted
}

func (s *Session) isBuilder(name string) bool {
	if name == model.RuntimeName {
		return false
	}
	_, ok := s.d.Builders[name]
	return ok
}

func (s *Session) stageNames() []string {
	names := lo.Filter(s.d.BuilderNames(), func(name string, _ int) bool { return name != model.RuntimeName })
	return append(names, model.RuntimeName)
}

func (s *Session) stage(name string) *model.Stage {
	if name == model.RuntimeName {
		return &s.d.Stage
	}
	b := s.d.Builders[name]
	return &b
}

// recursiveDeps is a memoized depth first walk. When a dependency is
// already on the path the cycle is reported and the branch is not
// descended.
func (s *Session) recursiveDeps(name string, stack []string) map[string]bool {
	if deps, ok := s.recursive[name]; ok {
		return deps
	}
	stack = append(stack, name)

	out := make(map[string]bool)
	for _, dep := range s.deps[name] {
		if !s.isBuilder(dep.Stage) {
			continue
		}
		if i := slices.Index(stack, dep.Stage); i >= 0 {
			s.reportCycle(append(slices.Clone(stack[i:]), dep.Stage), dep.Origin)
			continue
		}
		out[dep.Stage] = true
		for d := range s.recursiveDeps(dep.Stage, stack) {
			out[d] = true
		}
	}
	s.recursive[name] = out
	return out
}

func (s *Session) reportCycle(cycle []string, origin []string) {
	key := slices.Sorted(slices.Values(lo.Uniq(cycle)))
	id := strings.Join(key, ",")
	if s.cycles[id] {
		return
	}
	s.cycles[id] = true
	s.errorf(origin, "Circular dependency detected: %s", strings.Join(cycle, " -> "))
}

// Cycles returns the number of distinct cycles found.
func (s *Session) Cycles() int {
	return len(s.cycles)
}

func (s *Session) checkDependencies() {
	for _, name := range s.stageNames() {
		for _, dep := range s.deps[name] {
			switch {
			case dep.Stage == model.RuntimeName:
				s.errorf(dep.Origin, "The '%s' stage can't be used as a dependency", model.RuntimeName)
				continue
			case !s.isBuilder(dep.Stage):
				s.errorf(dep.Origin, "The builder '%s' does not exist", dep.Stage)
				continue
			}
			if dep.Path == "" {
				continue
			}
			for _, cache := range s.cachePaths[dep.Stage] {
				if dep.Path == cache || strings.HasPrefix(dep.Path, strings.TrimSuffix(cache, "/")+"/") {
					s.errorf(dep.Origin, "Use of the '%s' builder cache path '%s'", dep.Stage, cache)
				}
			}
		}
	}
}

func (s *Session) checkUnused() {
	used := make(map[string]bool)
	for _, deps := range s.deps {
		for _, dep := range deps {
			used[dep.Stage] = true
		}
	}
	for _, name := range s.d.BuilderNames() {
		if name != model.RuntimeName && !used[name] {
			s.warnf(fieldPath(nil, "builders", name), "The builder '%s' is not used and should be removed", name)
		}
	}
}

// resolvePath anchors p in the filesystem of the builder it is read from.
func (s *Session) resolvePath(builder, p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	workdir := "/"
	if s.isBuilder(builder) {
		if w := s.stage(builder).Workdir; path.IsAbs(w) {
			workdir = w
		}
	}
	return path.Join(workdir, p)
}
