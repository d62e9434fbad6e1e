package lint

import (
	"fmt"
	"path"
	"strings"

	"github.com/dofigen/dofigen/pkg/model"
)

func (s *Session) errorf(p []string, format string, args ...any) {
	s.messages = append(s.messages, Message{Level: Error, Path: p, Text: fmt.Sprintf(format, args...)})
}

func (s *Session) warnf(p []string, format string, args ...any) {
	s.messages = append(s.messages, Message{Level: Warn, Path: p, Text: fmt.Sprintf(format, args...)})
}

// collect records the dependencies and cache paths of a stage and runs the
// checks local to it.
func (s *Session) collect(name string, base []string, stage *model.Stage) {
	if name != model.RuntimeName && stage.IsEmpty() {
		s.warnf(base, "The stage is empty and should be removed")
	}

	switch stage.From.Kind {
	case model.FromKindBuilder:
		s.addDependency(name, Dependency{
			Stage:  stage.From.Builder,
			Kind:   DependencyFrom,
			Origin: fieldPath(base, "fromBuilder"),
		})
	case model.FromKindContext:
		if stage.From.Context != "" {
			s.warnf(fieldPath(base, "fromContext"),
				"Prefer to use fromImage or fromBuilder instead of fromContext unless the stage really starts from an external build context")
		}
	}

	if stage.User != nil {
		s.checkUser(fieldPath(base, "user"), *stage.User)
	}

	for i, c := range stage.Copy {
		origin := fieldPath(base, "copy", i)
		opts := c.CopyOptions()
		if opts.Chown != nil {
			s.checkUser(fieldPath(origin, "chown"), *opts.Chown)
		}
		cp, ok := c.(*model.Copy)
		if !ok {
			continue
		}
		if !s.checkMountFrom(origin, cp.From) {
			continue
		}
		for _, p := range cp.Paths {
			s.addDependency(name, Dependency{
				Stage:  cp.From.Builder,
				Path:   s.resolvePath(cp.From.Builder, p),
				Kind:   DependencyCopy,
				Origin: fieldPath(origin, "fromBuilder"),
			})
		}
	}

	if stage.Root != nil {
		s.collectRun(name, fieldPath(base, "root"), stage.Workdir, *stage.Root)
	}
	s.collectRun(name, base, stage.Workdir, stage.Run)
}

func (s *Session) collectRun(name string, base []string, workdir string, run model.Run) {
	for i, c := range run.Cache {
		origin := fieldPath(base, "cache", i)
		if c.Chown != nil {
			s.checkUser(fieldPath(origin, "chown"), *c.Chown)
		}

		target := c.Target
		if !path.IsAbs(target) {
			if workdir == "" {
				s.warnf(fieldPath(origin, "target"), "The cache target should be absolute or a workdir should be defined in the stage")
			}
			target = path.Join("/", workdir, target)
		}
		s.cachePaths[name] = append(s.cachePaths[name], path.Clean(target))

		if s.checkMountFrom(origin, c.From) {
			s.addDependency(name, Dependency{
				Stage:  c.From.Builder,
				Path:   s.resolvePath(c.From.Builder, sourceOrRoot(c.Source)),
				Kind:   DependencyCache,
				Origin: fieldPath(origin, "fromBuilder"),
			})
		}
	}

	for i, b := range run.Bind {
		origin := fieldPath(base, "bind", i)
		if s.checkMountFrom(origin, b.From) {
			s.addDependency(name, Dependency{
				Stage:  b.From.Builder,
				Path:   s.resolvePath(b.From.Builder, sourceOrRoot(b.Source)),
				Kind:   DependencyBind,
				Origin: fieldPath(origin, "fromBuilder"),
			})
		}
	}
}

func sourceOrRoot(source string) string {
	if source == "" {
		return "/"
	}
	return source
}

// checkMountFrom validates the source of a copy or mount and reports
// whether it is a builder.
func (s *Session) checkMountFrom(origin []string, from model.FromContext) bool {
	switch from.Kind {
	case model.FromKindBuilder:
		return true
	case model.FromKindContext:
		if from.Context == "" {
			return false
		}
		if strings.Contains(from.Context, "$") {
			s.errorf(fieldPath(origin, "fromContext"), "Arg substitution is not supported in fromContext of a copy, cache or bind")
			return false
		}
		s.warnf(fieldPath(origin, "fromContext"),
			"Prefer to use fromBuilder instead of fromContext unless the files really come from an external build context")
	}
	return false
}

func (s *Session) checkUser(origin []string, u model.User) {
	if u.User != "" && !model.IsNumeric(u.User) {
		s.warnf(origin, "UID should be used instead of the username '%s' for portability", u.User)
	}
	if u.Group != "" && !model.IsNumeric(u.Group) {
		s.warnf(origin, "GID should be used instead of the group name '%s' for portability", u.Group)
	}
}

func (s *Session) addDependency(name string, dep Dependency) {
	s.deps[name] = append(s.deps[name], dep)
}
