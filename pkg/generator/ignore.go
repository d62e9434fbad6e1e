package generator

import (
	"strings"

	"github.com/dofigen/dofigen/pkg/model"
)

// GenerateIgnore renders the .dockerignore file. When context entries are
// set everything is ignored except them; ignore patterns follow.
func GenerateIgnore(d *model.Dofigen) string {
	lines := []Line{
		Comment("This file is generated by dofigen"),
		Comment("Edit the description instead of this file"),
		Empty{},
	}
	if len(d.Context) > 0 {
		lines = append(lines, raw("**"))
		for _, c := range d.Context {
			lines = append(lines, raw("!"+strings.TrimPrefix(c, "!")))
		}
	}
	for _, i := range d.Ignore {
		lines = append(lines, raw(i))
	}
	return Render(lines)
}

type raw string

func (r raw) String() string { return string(r) }
