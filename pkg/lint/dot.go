package lint

import (
	"fmt"
	"strings"

	"github.com/dofigen/dofigen/pkg/model"
)

// ToDOT renders the stage graph in Graphviz DOT format. Builders are
// grouped by build round, the runtime stage comes last.
func (s *Session) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Stages {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	sorted := s.SortedBuilders()
	placed := make(map[string]bool, len(sorted))
	for _, name := range sorted {
		placed[name] = true
		sb.WriteString(fmt.Sprintf("  %q;\n", name))
	}
	for _, name := range s.d.BuilderNames() {
		if !placed[name] {
			sb.WriteString(fmt.Sprintf("  %q [color=red];\n", name))
		}
	}
	sb.WriteString(fmt.Sprintf("  %q [style=\"filled,rounded\", fillcolor=lightblue];\n\n", model.RuntimeName))

	for _, name := range s.stageNames() {
		seen := make(map[string]bool)
		for _, dep := range s.deps[name] {
			key := dep.Stage + "/" + string(dep.Kind)
			if seen[key] {
				continue
			}
			seen[key] = true
			sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n", dep.Stage, name, dependencyStyle(dep.Kind)))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func dependencyStyle(kind DependencyKind) string {
	switch kind {
	case DependencyFrom:
		return "style=bold, color=black"
	case DependencyCache:
		return "style=dashed, color=blue"
	case DependencyBind:
		return "style=dotted, color=gray"
	default:
		return "style=solid, color=black"
	}
}
