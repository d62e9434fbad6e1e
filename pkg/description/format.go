package description

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"gopkg.in/yaml.v3"

	"github.com/dofigen/dofigen/pkg/errdefs"
)

// Format is a description document syntax.
type Format string

const (
	FormatYAML     Format = "yaml"
	FormatCUE      Format = "cue"
	FormatStarlark Format = "starlark"
)

// StarlarkGlobal is the global a Starlark description assigns.
const StarlarkGlobal = "dofigen"

// starlarkMaxSteps bounds the execution of a Starlark description.
const starlarkMaxSteps = 1_000_000

// FormatOf picks the format from a file extension. JSON is read as YAML.
func FormatOf(ext string) Format {
	switch strings.ToLower(ext) {
	case ".cue":
		return FormatCUE
	case ".star", ".starlark", ".bzl":
		return FormatStarlark
	default:
		return FormatYAML
	}
}

var yamlLine = regexp.MustCompile(`line (\d+)`)

// toNode parses text into a yaml node tree. Documents in CUE or Starlark
// are evaluated first; the resulting node keeps their field order.
func toNode(ctx context.Context, text, name string, format Format) (*yaml.Node, error) {
	switch format {
	case FormatCUE:
		return cueNode(text, name)
	case FormatStarlark:
		return starlarkNode(ctx, text, name)
	}

	var n yaml.Node
	if err := yaml.Unmarshal([]byte(text), &n); err != nil {
		line := 0
		if m := yamlLine.FindStringSubmatch(err.Error()); m != nil {
			line, _ = strconv.Atoi(m[1])
		}
		return nil, errdefs.Deserialize("invalid document", line, 0, err).WithResource(name)
	}
	return &n, nil
}

func cueNode(text, name string) (*yaml.Node, error) {
	val := cuecontext.New().CompileString(text, cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, cueError("invalid cue document", name, err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError("incomplete cue document", name, err)
	}
	data, err := val.MarshalJSON()
	if err != nil {
		return nil, cueError("failed to export cue document", name, err)
	}
	var n yaml.Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, errdefs.Deserialize("failed to read cue export", 0, 0, err).WithResource(name)
	}
	return &n, nil
}

func cueError(msg, name string, err error) error {
	line, col := 0, 0
	for _, e := range cueerrors.Errors(err) {
		if pos := e.Position(); pos.IsValid() {
			line, col = pos.Line(), pos.Column()
			break
		}
	}
	return errdefs.Deserialize(msg, line, col, err).WithResource(name)
}

func starlarkNode(ctx context.Context, text, name string) (*yaml.Node, error) {
	thread := &starlark.Thread{
		Name:  "dofigen",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	thread.SetMaxExecutionSteps(starlarkMaxSteps)

	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	globals, err := starlark.ExecFile(thread, name, text, predeclared)
	if err != nil {
		line, col := 0, 0
		if evalErr, ok := err.(*starlark.EvalError); ok && len(evalErr.CallStack) > 0 {
			pos := evalErr.CallStack.At(0).Pos
			line, col = int(pos.Line), int(pos.Col)
		}
		return nil, errdefs.Deserialize("starlark evaluation failed", line, col, err).WithResource(name)
	}

	val, ok := globals[StarlarkGlobal]
	if !ok {
		return nil, errdefs.Deserialize(fmt.Sprintf("starlark description must assign %q", StarlarkGlobal), 0, 0, nil).WithResource(name)
	}
	n, err := starlarkToNode(val)
	if err != nil {
		return nil, errdefs.Deserialize("invalid starlark value", 0, 0, err).WithResource(name)
	}
	return n, nil
}

// starlarkToNode converts a Starlark value. Dict insertion order is kept.
func starlarkToNode(v starlark.Value) (*yaml.Node, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	case starlark.Bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(bool(val))}, nil
	case starlark.Int:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: val.String()}, nil
	case starlark.Float:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: val.String()}, nil
	case starlark.String:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(val)}, nil
	case *starlark.List:
		return starlarkSeq(val)
	case starlark.Tuple:
		return starlarkSeq(val)
	case *starlark.Dict:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be a string, got %s", item[0].Type())
			}
			child, err := starlarkToNode(item[1])
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(key)}, child)
		}
		return n, nil
	case *starlarkstruct.Struct:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, attr := range val.AttrNames() {
			av, err := val.Attr(attr)
			if err != nil {
				return nil, err
			}
			child, err := starlarkToNode(av)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: attr}, child)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type %s", v.Type())
	}
}

func starlarkSeq(it starlark.Indexable) (*yaml.Node, error) {
	n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for i := 0; i < it.Len(); i++ {
		child, err := starlarkToNode(it.Index(i))
		if err != nil {
			return nil, err
		}
		n.Content = append(n.Content, child)
	}
	return n, nil
}
