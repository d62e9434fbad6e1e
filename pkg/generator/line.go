// Package generator renders a resolved description into a Dockerfile and
// a .dockerignore file.
package generator

import (
	"strings"
)

// indent prefixes continuation lines.
const indent = "    "

// Line is one element of a rendered Dockerfile.
type Line interface {
	String() string
}

// Comment is a "# text" line.
type Comment string

func (c Comment) String() string {
	return "# " + string(c)
}

// Empty is a blank line.
type Empty struct{}

func (Empty) String() string {
	return ""
}

// Option is an instruction flag: --name or --name=value.
type Option struct {
	Name  string
	Value string
	Flag  bool
}

// Flag returns a valueless option.
func Flag(name string) Option {
	return Option{Name: name, Flag: true}
}

// KV returns a --name=value option.
func KV(name, value string) Option {
	return Option{Name: name, Value: value}
}

func (o Option) String() string {
	if o.Flag {
		return "--" + o.Name
	}
	return "--" + o.Name + "=" + o.Value
}

// Instruction is a Dockerfile instruction. Options are rendered on their own
// continuation lines, followed by the content.
type Instruction struct {
	Command string
	Options []Option
	Content string
}

func (i Instruction) String() string {
	if len(i.Options) == 0 {
		if i.Content == "" {
			return i.Command
		}
		return i.Command + " " + i.Content
	}

	var sb strings.Builder
	sb.WriteString(i.Command)
	for _, o := range i.Options {
		sb.WriteString(" \\\n")
		sb.WriteString(indent)
		sb.WriteString(o.String())
	}
	if i.Content != "" {
		sb.WriteString(" \\\n")
		sb.WriteString(indent)
		sb.WriteString(i.Content)
	}
	return sb.String()
}

// Render joins lines into the file text.
func Render(lines []Line) string {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Quote wraps s in double quotes, escaping backslashes and quotes.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
