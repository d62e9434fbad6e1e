package patch

import (
	"fmt"
	"slices"
)

// CommandKind is a list mutation.
type CommandKind int

const (
	// ReplaceAll clears the list and replaces it with the values.
	ReplaceAll CommandKind = iota
	// Replace replaces the element at the index with the values.
	Replace
	// InsertBefore inserts the values before the index.
	InsertBefore
	// InsertAfter inserts the values after the index.
	InsertAfter
	// Append adds the values at the end.
	Append
	// PatchAt merges a patch onto the element at the index.
	PatchAt
)

var commandNames = map[CommandKind]string{
	ReplaceAll:   "ReplaceAll",
	Replace:      "Replace",
	InsertBefore: "InsertBefore",
	InsertAfter:  "InsertAfter",
	Append:       "Append",
	PatchAt:      "PatchAt",
}

func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// Command is one list mutation.
type Command[T any] struct {
	Kind   CommandKind
	Index  int
	Values []T
	Patch  Patcher[T]
}

// List is an ordered sequence of commands replayed against a base list.
//
// Indexes that fall outside the current list never fail: inserts are
// clamped to the list bounds, Replace appends its values and PatchAt
// appends the patch applied to a zero element.
type List[T any] struct {
	Commands []Command[T]
}

// Values returns a list patch that replaces the whole list.
func Values[T any](values ...T) List[T] {
	return List[T]{Commands: []Command[T]{{Kind: ReplaceAll, Values: values}}}
}

// IsEmpty reports whether the patch has no command.
func (l List[T]) IsEmpty() bool {
	return len(l.Commands) == 0
}

// Add appends a command to the patch.
func (l *List[T]) Add(cmd Command[T]) {
	l.Commands = append(l.Commands, cmd)
}

// Apply replays the commands in declaration order.
func (l List[T]) Apply(base *[]T) {
	if len(l.Commands) == 0 {
		return
	}
	list := slices.Clone(*base)
	for _, cmd := range l.Commands {
		list = cmd.apply(list)
	}
	*base = list
}

func (c Command[T]) apply(list []T) []T {
	switch c.Kind {
	case ReplaceAll:
		return slices.Clone(c.Values)
	case Replace:
		if c.Index < 0 || c.Index >= len(list) {
			return append(list, c.Values...)
		}
		return slices.Replace(list, c.Index, c.Index+1, c.Values...)
	case InsertBefore:
		return slices.Insert(list, clamp(c.Index, len(list)), c.Values...)
	case InsertAfter:
		return slices.Insert(list, clamp(c.Index+1, len(list)), c.Values...)
	case Append:
		return append(list, c.Values...)
	case PatchAt:
		if c.Patch == nil {
			return list
		}
		if c.Index < 0 || c.Index >= len(list) {
			var zero T
			c.Patch.Apply(&zero)
			return append(list, zero)
		}
		c.Patch.Apply(&list[c.Index])
		return list
	default:
		return list
	}
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
