package description

import (
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/dofigen/dofigen/pkg/errdefs"
	"github.com/dofigen/dofigen/pkg/model"
	"github.com/dofigen/dofigen/pkg/patch"
	"github.com/dofigen/dofigen/pkg/resource"
)

// Options controls how documents are decoded.
type Options struct {
	// Strict only accepts canonical keys and requires lists where a list
	// is expected.
	Strict bool
}

var (
	extendKeys = map[string]string{
		"extend":  "extend",
		"extends": "extend",
	}

	dofigenKeys = map[string]string{
		"builders":    "builders",
		"globalArg":   "globalArg",
		"context":     "context",
		"ignore":      "ignore",
		"ignores":     "ignore",
		"entrypoint":  "entrypoint",
		"cmd":         "cmd",
		"volume":      "volume",
		"volumes":     "volume",
		"expose":      "expose",
		"port":        "expose",
		"ports":       "expose",
		"healthcheck": "healthcheck",
	}

	stageKeys = map[string]string{
		"fromImage":   "fromImage",
		"from":        "fromImage",
		"image":       "fromImage",
		"fromBuilder": "fromBuilder",
		"fromContext": "fromContext",
		"label":       "label",
		"labels":      "label",
		"user":        "user",
		"workdir":     "workdir",
		"arg":         "arg",
		"args":        "arg",
		"env":         "env",
		"envs":        "env",
		"copy":        "copy",
		"add":         "copy",
		"adds":        "copy",
		"root":        "root",
	}

	runKeys = map[string]string{
		"run":    "run",
		"script": "run",
		"shell":  "shell",
		"cache":  "cache",
		"caches": "cache",
		"bind":   "bind",
		"binds":  "bind",
	}

	fromKeys = map[string]string{
		"fromImage":   "fromImage",
		"fromBuilder": "fromBuilder",
		"fromContext": "fromContext",
	}

	// commandKey matches list patch keys: _, +, N, +N, N+ and N<.
	commandKey = regexp.MustCompile(`^(?:(_)|(\+)|(\d+)|\+(\d+)|(\d+)\+|(\d+)<)$`)
)

// decoder turns yaml nodes into patches. It keeps the document name for
// error positions and the parent resource to resolve extend references.
type decoder struct {
	opts   Options
	name   string
	parent resource.Resource
}

func (d *decoder) errorf(n *yaml.Node, format string, args ...any) error {
	line, col := 0, 0
	if n != nil {
		line, col = n.Line, n.Column
	}
	return errdefs.Deserialize(fmt.Sprintf(format, args...), line, col, nil).WithResource(d.name)
}

// canonical maps key to its canonical name in table.
func (d *decoder) canonical(table map[string]string, key string) (string, bool) {
	c, ok := table[key]
	if !ok || (d.opts.Strict && c != key) {
		return "", false
	}
	return c, true
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && (n.Kind == yaml.AliasNode || n.Kind == yaml.DocumentNode) {
		if n.Kind == yaml.AliasNode {
			n = n.Alias
			continue
		}
		if len(n.Content) == 0 {
			return nil
		}
		n = n.Content[0]
	}
	return n
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}

// fields iterates a mapping in declaration order, expanding merge keys and
// rejecting duplicate canonical keys.
func (d *decoder) fields(n *yaml.Node, fn func(key, value *yaml.Node) error) error {
	n = resolve(n)
	if n == nil {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return d.errorf(n, "expected a mapping, got %s", kindName(n))
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i], n.Content[i+1]
		if key.ShortTag() == "!!merge" {
			merged := resolve(value)
			if merged != nil && merged.Kind == yaml.SequenceNode {
				for _, m := range merged.Content {
					if err := d.fields(m, fn); err != nil {
						return err
					}
				}
				continue
			}
			if err := d.fields(merged, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

// once rejects a canonical key seen twice in the same mapping.
type once map[string]bool

func (o once) check(d *decoder, key *yaml.Node, canonical string) error {
	if o[canonical] {
		return d.errorf(key, "duplicate field %q", canonical)
	}
	o[canonical] = true
	return nil
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "a mapping"
	case yaml.SequenceNode:
		return "a list"
	case yaml.ScalarNode:
		if isNull(n) {
			return "null"
		}
		return fmt.Sprintf("scalar %q", n.Value)
	default:
		return "an unexpected node"
	}
}

// decodeDofigen decodes a top-level description document.
func (d *decoder) decodeDofigen(n *yaml.Node) (Extend[*DofigenPatch], error) {
	ext := Extend[*DofigenPatch]{Patch: &DofigenPatch{}}
	p := ext.Patch
	seen := once{}

	err := d.fields(n, func(k, v *yaml.Node) error {
		if c, ok := d.canonical(extendKeys, k.Value); ok {
			if err := seen.check(d, k, c); err != nil {
				return err
			}
			refs, err := d.decodeExtend(v)
			ext.Extend = refs
			return err
		}

		c, ok := d.canonical(dofigenKeys, k.Value)
		if !ok {
			return d.stageField(&p.Stage, seen, k, v)
		}
		if err := seen.check(d, k, c); err != nil {
			return err
		}

		var err error
		switch c {
		case "builders":
			p.Builders, err = d.decodeBuilders(v)
		case "globalArg":
			p.GlobalArg, err = d.decodeStringMap(v)
		case "context":
			p.Context, err = decodeList(d, v, d.decodeString, nil)
		case "ignore":
			p.Ignore, err = decodeList(d, v, d.decodeString, nil)
		case "entrypoint":
			p.Entrypoint, err = decodeList(d, v, d.decodeString, nil)
		case "cmd":
			p.Cmd, err = decodeList(d, v, d.decodeString, nil)
		case "volume":
			p.Volume, err = decodeList(d, v, d.decodeString, nil)
		case "expose":
			p.Expose, err = decodeList(d, v, d.decodePort, nil)
		case "healthcheck":
			p.Healthcheck, err = d.decodeHealthcheck(v)
		}
		return err
	})
	return ext, err
}

// decodeStage decodes a stage document, as found in builders or in the
// documents builders extend.
func (d *decoder) decodeStage(n *yaml.Node) (Extend[*StagePatch], error) {
	ext := Extend[*StagePatch]{Patch: &StagePatch{}}
	seen := once{}
	err := d.fields(n, func(k, v *yaml.Node) error {
		if c, ok := d.canonical(extendKeys, k.Value); ok {
			if err := seen.check(d, k, c); err != nil {
				return err
			}
			refs, err := d.decodeExtend(v)
			ext.Extend = refs
			return err
		}
		return d.stageField(ext.Patch, seen, k, v)
	})
	return ext, err
}

func (d *decoder) stageField(p *StagePatch, seen once, k, v *yaml.Node) error {
	c, ok := d.canonical(stageKeys, k.Value)
	if !ok {
		if c, ok = d.canonical(runKeys, k.Value); ok {
			if err := seen.check(d, k, c); err != nil {
				return err
			}
			return d.runField(&p.Run, c, v)
		}
		return d.errorf(k, "unknown field %q", k.Value)
	}
	if err := seen.check(d, k, c); err != nil {
		return err
	}

	var err error
	switch c {
	case "fromImage", "fromBuilder", "fromContext":
		if err := seen.check(d, k, "from"); err != nil {
			return d.errorf(k, "only one of fromImage, fromBuilder and fromContext can be set")
		}
		p.From, err = d.decodeFrom(c, v)
	case "label":
		p.Label, err = d.decodeStringMap(v)
	case "user":
		p.User, err = d.decodeUser(v)
	case "workdir":
		p.Workdir, err = d.decodeOptString(v)
	case "arg":
		p.Arg, err = d.decodeStringMap(v)
	case "env":
		p.Env, err = d.decodeStringMap(v)
	case "copy":
		p.Copy, err = decodeList(d, v, d.decodeCopy, d.decodeCopyPatch)
	case "root":
		p.Root, err = d.decodeRoot(v)
	}
	return err
}

func (d *decoder) runField(p *RunPatch, canonical string, v *yaml.Node) error {
	var err error
	switch canonical {
	case "run":
		p.Run, err = decodeList(d, v, d.decodeString, nil)
	case "shell":
		p.Shell, err = decodeList(d, v, d.decodeString, nil)
	case "cache":
		p.Cache, err = decodeList(d, v, d.decodeCache, d.decodeCachePatch)
	case "bind":
		p.Bind, err = decodeList(d, v, d.decodeBind, d.decodeBindPatch)
	}
	return err
}

func (d *decoder) decodeExtend(v *yaml.Node) ([]resource.Resource, error) {
	refs, err := decodeList(d, v, d.decodeString, nil)
	if err != nil {
		return nil, err
	}
	var names []string
	refs.Apply(&names)

	out := make([]resource.Resource, 0, len(names))
	for _, name := range names {
		r, err := d.parent.Join(name)
		if err != nil {
			return nil, d.errorf(v, "invalid extend %q: %v", name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (d *decoder) decodeBuilders(v *yaml.Node) (patch.Map[model.Stage], error) {
	var m patch.Map[model.Stage]
	err := d.fields(v, func(k, sv *yaml.Node) error {
		ext, err := d.decodeStage(sv)
		if err != nil {
			return err
		}
		m.Put(k.Value, &BuilderPatch{Extend: ext.Extend, Body: ext.Patch})
		return nil
	})
	return m, err
}

func (d *decoder) decodeRoot(v *yaml.Node) (patch.Nested[model.Run], error) {
	v = resolve(v)
	if isNull(v) {
		return patch.Nested[model.Run]{State: patch.Null}, nil
	}
	var p RunPatch
	if v.Kind != yaml.MappingNode {
		if d.opts.Strict {
			return patch.Nested[model.Run]{}, d.errorf(v, "expected a mapping for root, got %s", kindName(v))
		}
		cmds, err := decodeList(d, v, d.decodeString, nil)
		p.Run = cmds
		return patch.Some[model.Run](p), err
	}
	seen := once{}
	err := d.fields(v, func(k, rv *yaml.Node) error {
		c, ok := d.canonical(runKeys, k.Value)
		if !ok {
			return d.errorf(k, "unknown field %q in root", k.Value)
		}
		if err := seen.check(d, k, c); err != nil {
			return err
		}
		return d.runField(&p, c, rv)
	})
	return patch.Some[model.Run](p), err
}

// decodeList decodes a list patch. A list replaces the whole list, null
// clears it, and a mapping of command keys mutates it. In permissive mode
// any other value is a single element list.
func decodeList[T any](
	d *decoder,
	n *yaml.Node,
	elem func(*yaml.Node) (T, error),
	patchAt func(*yaml.Node) (patch.Patcher[T], error),
) (patch.List[T], error) {
	n = resolve(n)
	switch {
	case isNull(n):
		return patch.Values[T](), nil
	case n.Kind == yaml.SequenceNode:
		values, err := decodeElems(d, n, elem)
		return patch.Values(values...), err
	case n.Kind == yaml.MappingNode && isCommandMap(n):
		return decodeCommands(d, n, elem, patchAt)
	default:
		if d.opts.Strict {
			return patch.List[T]{}, d.errorf(n, "expected a list, got %s", kindName(n))
		}
		v, err := elem(n)
		return patch.Values(v), err
	}
}

func decodeElems[T any](d *decoder, n *yaml.Node, elem func(*yaml.Node) (T, error)) ([]T, error) {
	n = resolve(n)
	if n.Kind != yaml.SequenceNode {
		if d.opts.Strict {
			return nil, d.errorf(n, "expected a list, got %s", kindName(n))
		}
		v, err := elem(n)
		if err != nil {
			return nil, err
		}
		return []T{v}, nil
	}
	values := make([]T, 0, len(n.Content))
	for _, item := range n.Content {
		v, err := elem(resolve(item))
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func isCommandMap(n *yaml.Node) bool {
	if len(n.Content) == 0 {
		return false
	}
	for i := 0; i < len(n.Content); i += 2 {
		if !commandKey.MatchString(n.Content[i].Value) {
			return false
		}
	}
	return true
}

func decodeCommands[T any](
	d *decoder,
	n *yaml.Node,
	elem func(*yaml.Node) (T, error),
	patchAt func(*yaml.Node) (patch.Patcher[T], error),
) (patch.List[T], error) {
	var list patch.List[T]
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		m := commandKey.FindStringSubmatch(k.Value)

		cmd := patch.Command[T]{}
		var index string
		switch {
		case m[1] != "":
			cmd.Kind = patch.ReplaceAll
		case m[2] != "":
			cmd.Kind = patch.Append
		case m[3] != "":
			cmd.Kind, index = patch.Replace, m[3]
		case m[4] != "":
			cmd.Kind, index = patch.InsertBefore, m[4]
		case m[5] != "":
			cmd.Kind, index = patch.InsertAfter, m[5]
		case m[6] != "":
			cmd.Kind, index = patch.PatchAt, m[6]
		}
		if index != "" {
			idx, err := strconv.Atoi(index)
			if err != nil {
				return list, d.errorf(k, "invalid list index %q", index)
			}
			cmd.Index = idx
		}

		if cmd.Kind == patch.PatchAt && patchAt != nil {
			p, err := patchAt(resolve(v))
			if err != nil {
				return list, err
			}
			cmd.Patch = p
		} else {
			if cmd.Kind == patch.PatchAt {
				cmd.Kind = patch.Replace
			}
			values, err := decodeElems(d, v, elem)
			if err != nil {
				return list, err
			}
			cmd.Values = values
		}
		list.Add(cmd)
	}
	return list, nil
}

func (d *decoder) decodeString(n *yaml.Node) (string, error) {
	n = resolve(n)
	if n == nil || n.Kind != yaml.ScalarNode || isNull(n) {
		return "", d.errorf(n, "expected a string, got %s", nodeKind(n))
	}
	return n.Value, nil
}

func nodeKind(n *yaml.Node) string {
	if n == nil {
		return "nothing"
	}
	return kindName(n)
}

func (d *decoder) decodeOptString(n *yaml.Node) (patch.Opt[string], error) {
	if isNull(resolve(n)) {
		return patch.Clear[string](), nil
	}
	s, err := d.decodeString(n)
	return patch.Set(s), err
}

func (d *decoder) decodeBool(n *yaml.Node) (bool, error) {
	var b bool
	if err := resolve(n).Decode(&b); err != nil {
		return false, d.errorf(n, "expected a boolean, got %s", kindName(n))
	}
	return b, nil
}

func (d *decoder) decodeOptBool(n *yaml.Node) (patch.Opt[bool], error) {
	if isNull(resolve(n)) {
		return patch.Clear[bool](), nil
	}
	b, err := d.decodeBool(n)
	return patch.Set(b), err
}

func (d *decoder) decodeOptBoolPtr(n *yaml.Node) (patch.Opt[*bool], error) {
	if isNull(resolve(n)) {
		return patch.Clear[*bool](), nil
	}
	b, err := d.decodeBool(n)
	return patch.Set(&b), err
}

func (d *decoder) decodeStringMap(n *yaml.Node) (patch.Map[string], error) {
	var m patch.Map[string]
	err := d.fields(n, func(k, v *yaml.Node) error {
		o, err := d.decodeOptString(v)
		if err != nil {
			return err
		}
		m.Put(k.Value, o)
		return nil
	})
	return m, err
}

func (d *decoder) decodeFrom(canonical string, v *yaml.Node) (FromPatch, error) {
	v = resolve(v)
	switch canonical {
	case "fromImage":
		if isNull(v) {
			return FromPatch{State: patch.Null}, nil
		}
		p := FromPatch{State: patch.Present, Kind: model.FromKindImage}
		if v.Kind == yaml.MappingNode {
			img, err := d.decodeImagePatch(v)
			p.Image = img
			return p, err
		}
		s, err := d.decodeString(v)
		if err != nil {
			return p, err
		}
		img, err := model.ParseImageName(s)
		if err != nil {
			return p, d.errorf(v, "%v", err)
		}
		p.Image = fullImagePatch(img)
		return p, nil
	case "fromBuilder":
		if isNull(v) {
			return FromPatch{State: patch.Null}, nil
		}
		s, err := d.decodeString(v)
		return FromPatch{State: patch.Present, Kind: model.FromKindBuilder, Builder: s}, err
	default:
		p := FromPatch{State: patch.Present, Kind: model.FromKindContext}
		if isNull(v) {
			return p, nil
		}
		s, err := d.decodeString(v)
		p.Context = s
		return p, err
	}
}

func (d *decoder) decodeImagePatch(v *yaml.Node) (ImagePatch, error) {
	var p ImagePatch
	err := d.fields(v, func(k, fv *yaml.Node) error {
		var err error
		switch k.Value {
		case "host":
			p.Host, err = d.decodeOptString(fv)
		case "port":
			if isNull(resolve(fv)) {
				p.Port = patch.Clear[int]()
				return nil
			}
			var port int
			if err := resolve(fv).Decode(&port); err != nil || port < 1 || port > 65535 {
				return d.errorf(fv, "invalid registry port")
			}
			p.Port = patch.Set(port)
		case "path":
			p.Path, err = d.decodeOptString(fv)
		case "tag":
			p.Tag, err = d.decodeOptString(fv)
		case "digest":
			p.Digest, err = d.decodeOptString(fv)
		default:
			return d.errorf(k, "unknown field %q in image", k.Value)
		}
		return err
	})
	return p, err
}

func (d *decoder) decodeUser(v *yaml.Node) (patch.Nested[model.User], error) {
	v = resolve(v)
	if isNull(v) {
		return patch.Nested[model.User]{State: patch.Null}, nil
	}
	if v.Kind == yaml.MappingNode {
		var p UserPatch
		err := d.fields(v, func(k, fv *yaml.Node) error {
			var err error
			switch k.Value {
			case "user":
				p.User, err = d.decodeOptString(fv)
			case "group":
				p.Group, err = d.decodeOptString(fv)
			default:
				return d.errorf(k, "unknown field %q in user", k.Value)
			}
			return err
		})
		return patch.Some[model.User](p), err
	}
	s, err := d.decodeString(v)
	if err != nil {
		return patch.Nested[model.User]{}, err
	}
	u, err := model.ParseUser(s)
	if err != nil {
		return patch.Nested[model.User]{}, d.errorf(v, "%v", err)
	}
	return patch.Some[model.User](UserPatch{User: patch.Set(u.User), Group: patch.Set(u.Group)}), nil
}

func (d *decoder) decodePort(v *yaml.Node) (model.Port, error) {
	v = resolve(v)
	if v != nil && v.Kind == yaml.MappingNode {
		var port model.Port
		err := d.fields(v, func(k, fv *yaml.Node) error {
			switch k.Value {
			case "port":
				s, err := d.decodeString(fv)
				if err != nil {
					return err
				}
				p, err := model.ParsePort(s)
				if err != nil {
					return d.errorf(fv, "%v", err)
				}
				port.Port = p.Port
			case "protocol":
				s, err := d.decodeString(fv)
				if err != nil {
					return err
				}
				p, err := model.ParsePort("1/" + s)
				if err != nil {
					return d.errorf(fv, "%v", err)
				}
				port.Protocol = p.Protocol
			default:
				return d.errorf(k, "unknown field %q in port", k.Value)
			}
			return nil
		})
		return port, err
	}
	s, err := d.decodeString(v)
	if err != nil {
		return model.Port{}, err
	}
	p, err := model.ParsePort(s)
	if err != nil {
		return model.Port{}, d.errorf(v, "%v", err)
	}
	return p, nil
}

func (d *decoder) decodeHealthcheck(v *yaml.Node) (patch.Nested[model.Healthcheck], error) {
	v = resolve(v)
	if isNull(v) {
		return patch.Nested[model.Healthcheck]{State: patch.Null}, nil
	}
	var p HealthcheckPatch
	if v.Kind == yaml.ScalarNode {
		p.Cmd = patch.Set(v.Value)
		return patch.Some[model.Healthcheck](p), nil
	}
	err := d.fields(v, func(k, fv *yaml.Node) error {
		var err error
		switch k.Value {
		case "cmd":
			p.Cmd, err = d.decodeOptString(fv)
		case "interval":
			p.Interval, err = d.decodeOptString(fv)
		case "timeout":
			p.Timeout, err = d.decodeOptString(fv)
		case "start":
			p.Start, err = d.decodeOptString(fv)
		case "retries":
			if isNull(resolve(fv)) {
				p.Retries = patch.Clear[*int]()
				return nil
			}
			var r int
			if err := resolve(fv).Decode(&r); err != nil || r < 0 {
				return d.errorf(fv, "invalid retries")
			}
			p.Retries = patch.Set(&r)
		default:
			return d.errorf(k, "unknown field %q in healthcheck", k.Value)
		}
		return err
	})
	return patch.Some[model.Healthcheck](p), err
}

func (d *decoder) decodeCopy(v *yaml.Node) (model.CopyResource, error) {
	if v != nil && v.Kind == yaml.ScalarNode && !isNull(v) {
		c, err := model.ParseCopyResource(v.Value)
		if err != nil {
			return nil, d.errorf(v, "%v", err)
		}
		return c, nil
	}
	p, err := d.decodeCopyFields(v)
	if err != nil {
		return nil, err
	}
	var c model.CopyResource
	p.Apply(&c)
	return c, nil
}

func (d *decoder) decodeCopyPatch(v *yaml.Node) (patch.Patcher[model.CopyResource], error) {
	return d.decodeCopyFields(v)
}

func (d *decoder) decodeCopyFields(v *yaml.Node) (*CopyPatch, error) {
	p := &CopyPatch{}
	seen := once{}
	err := d.fields(v, func(k, fv *yaml.Node) error {
		if err := seen.check(d, k, k.Value); err != nil {
			return err
		}
		var err error
		switch k.Value {
		case "fromImage", "fromBuilder", "fromContext":
			if err := seen.check(d, k, "from"); err != nil {
				return d.errorf(k, "only one of fromImage, fromBuilder and fromContext can be set")
			}
			p.From, err = d.decodeFrom(k.Value, fv)
		case "paths":
			p.variant = setVariant(p.variant, variantCopy)
			p.Paths, err = decodeList(d, fv, d.decodeString, nil)
		case "repo":
			p.variant = setVariant(p.variant, variantGitRepo)
			p.Repo, err = d.decodeOptString(fv)
		case "files":
			p.variant = setVariant(p.variant, variantAdd)
			p.Files, err = decodeList(d, fv, d.decodeString, nil)
		case "target":
			p.Target, err = d.decodeOptString(fv)
		case "chown":
			p.Chown, err = d.decodeUser(fv)
		case "chmod":
			p.Chmod, err = d.decodeOptString(fv)
		case "link":
			p.Link, err = d.decodeOptBoolPtr(fv)
		case "exclude":
			p.Exclude, err = decodeList(d, fv, d.decodeString, nil)
		case "parents":
			p.Parents, err = d.decodeOptBoolPtr(fv)
		case "keepGitDir":
			p.KeepGitDir, err = d.decodeOptBoolPtr(fv)
		case "checksum":
			p.Checksum, err = d.decodeOptString(fv)
		default:
			return d.errorf(k, "unknown field %q in copy", k.Value)
		}
		return err
	})
	if err == nil && p.variant == -1 {
		return nil, d.errorf(v, "only one of paths, repo and files can be set")
	}
	return p, err
}

func setVariant(cur, v copyVariant) copyVariant {
	if cur != variantUnset && cur != v {
		return -1
	}
	return v
}

func (d *decoder) decodeCache(v *yaml.Node) (model.Cache, error) {
	if v != nil && v.Kind == yaml.ScalarNode && !isNull(v) {
		return model.Cache{Target: v.Value}, nil
	}
	p, err := d.decodeCacheFields(v)
	var c model.Cache
	p.Apply(&c)
	return c, err
}

func (d *decoder) decodeCachePatch(v *yaml.Node) (patch.Patcher[model.Cache], error) {
	return d.decodeCacheFields(v)
}

func (d *decoder) decodeCacheFields(v *yaml.Node) (CachePatch, error) {
	var p CachePatch
	seen := once{}
	err := d.fields(v, func(k, fv *yaml.Node) error {
		if err := seen.check(d, k, k.Value); err != nil {
			return err
		}
		var err error
		switch k.Value {
		case "id":
			p.ID, err = d.decodeOptString(fv)
		case "target":
			p.Target, err = d.decodeOptString(fv)
		case "fromImage", "fromBuilder", "fromContext":
			if err := seen.check(d, k, "from"); err != nil {
				return d.errorf(k, "only one of fromImage, fromBuilder and fromContext can be set")
			}
			p.From, err = d.decodeFrom(k.Value, fv)
		case "source":
			p.Source, err = d.decodeOptString(fv)
		case "chmod":
			p.Chmod, err = d.decodeOptString(fv)
		case "chown":
			p.Chown, err = d.decodeUser(fv)
		case "sharing":
			var s patch.Opt[string]
			s, err = d.decodeOptString(fv)
			if err == nil {
				switch model.Sharing(s.Value) {
				case "", model.SharingShared, model.SharingPrivate, model.SharingLocked:
				default:
					return d.errorf(fv, "invalid sharing %q", s.Value)
				}
				p.Sharing = patch.Opt[model.Sharing]{State: s.State, Value: model.Sharing(s.Value)}
			}
		case "readonly":
			p.ReadOnly, err = d.decodeOptBool(fv)
		default:
			return d.errorf(k, "unknown field %q in cache", k.Value)
		}
		return err
	})
	return p, err
}

func (d *decoder) decodeBind(v *yaml.Node) (model.Bind, error) {
	if v != nil && v.Kind == yaml.ScalarNode && !isNull(v) {
		return model.Bind{Target: v.Value}, nil
	}
	p, err := d.decodeBindFields(v)
	var b model.Bind
	p.Apply(&b)
	return b, err
}

func (d *decoder) decodeBindPatch(v *yaml.Node) (patch.Patcher[model.Bind], error) {
	return d.decodeBindFields(v)
}

func (d *decoder) decodeBindFields(v *yaml.Node) (BindPatch, error) {
	var p BindPatch
	seen := once{}
	err := d.fields(v, func(k, fv *yaml.Node) error {
		if err := seen.check(d, k, k.Value); err != nil {
			return err
		}
		var err error
		switch k.Value {
		case "target":
			p.Target, err = d.decodeOptString(fv)
		case "fromImage", "fromBuilder", "fromContext":
			if err := seen.check(d, k, "from"); err != nil {
				return d.errorf(k, "only one of fromImage, fromBuilder and fromContext can be set")
			}
			p.From, err = d.decodeFrom(k.Value, fv)
		case "source":
			p.Source, err = d.decodeOptString(fv)
		case "readwrite":
			p.ReadWrite, err = d.decodeOptBool(fv)
		default:
			return d.errorf(k, "unknown field %q in bind", k.Value)
		}
		return err
	})
	return p, err
}
