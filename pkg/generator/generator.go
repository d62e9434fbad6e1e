package generator

import (
	"bytes"
	"encoding/json"
	"maps"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/dofigen/dofigen/pkg/errdefs"
	"github.com/dofigen/dofigen/pkg/lint"
	"github.com/dofigen/dofigen/pkg/model"
)

// Header is written at the top of every generated Dockerfile.
var Header = []Line{
	Comment("syntax=docker/dockerfile:1.7"),
	Comment("This file is generated by dofigen"),
	Comment("Edit the description instead of this file"),
}

// Generate renders d as Dockerfile text.
func Generate(d *model.Dofigen) (string, error) {
	lines, err := Lines(d)
	if err != nil {
		return "", err
	}
	return Render(lines), nil
}

// Lines renders d as Dockerfile lines. Builders come first, in build order,
// and the runtime stage last.
func Lines(d *model.Dofigen) ([]Line, error) {
	g := &generator{d: d}

	lines := slices.Clone(Header)
	lines = append(lines, Empty{})

	if len(d.GlobalArg) > 0 {
		for _, k := range sortedKeys(d.GlobalArg) {
			lines = append(lines, argLine(k, d.GlobalArg[k]))
		}
		lines = append(lines, Empty{})
	}

	for _, name := range StageOrder(d) {
		b := d.Builders[name]
		stage, err := g.stage(name, &b, false)
		if err != nil {
			return nil, err
		}
		lines = append(lines, stage...)
		lines = append(lines, Empty{})
	}

	runtime, err := g.stage(model.RuntimeName, &d.Stage, true)
	if err != nil {
		return nil, err
	}
	lines = append(lines, runtime...)

	image, err := g.imageInstructions()
	if err != nil {
		return nil, err
	}
	return append(lines, image...), nil
}

// StageOrder returns the builder names in the order they are rendered: the
// lint build order, then the builders it left out, alphabetically. A builder
// named runtime is never rendered.
func StageOrder(d *model.Dofigen) []string {
	order := lint.Analyze(d).SortedBuilders()
	for _, name := range d.BuilderNames() {
		if name != model.RuntimeName && !slices.Contains(order, name) {
			order = append(order, name)
		}
	}
	return order
}

type generator struct {
	d *model.Dofigen
}

func (g *generator) stage(name string, s *model.Stage, isRuntime bool) ([]Line, error) {
	from, err := g.fromName(s.From)
	if err != nil {
		return nil, err
	}
	if from == "" {
		from = "scratch"
	}
	lines := []Line{Instruction{Command: "FROM", Content: from + " AS " + name}}

	for _, k := range sortedKeys(s.Arg) {
		lines = append(lines, argLine(k, s.Arg[k]))
	}
	if l, ok := mapInstruction("LABEL", s.Label); ok {
		lines = append(lines, l)
	}
	if l, ok := mapInstruction("ENV", s.Env); ok {
		lines = append(lines, l)
	}
	if s.Workdir != "" {
		lines = append(lines, Instruction{Command: "WORKDIR", Content: s.Workdir})
	}

	for _, c := range s.Copy {
		l, err := g.copy(c)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}

	if s.Root != nil && !s.Root.IsEmpty() {
		lines = append(lines, Instruction{Command: "USER", Content: "0"})
		run, err := g.run(s.Workdir, *s.Root)
		if err != nil {
			return nil, err
		}
		lines = append(lines, run...)
	}

	if u := s.RuntimeUser(isRuntime); u != nil {
		lines = append(lines, Instruction{Command: "USER", Content: u.String()})
	}

	if !s.Run.IsEmpty() {
		run, err := g.run(s.Workdir, s.Run)
		if err != nil {
			return nil, err
		}
		lines = append(lines, run...)
	}
	return lines, nil
}

// fromName renders a source for FROM or --from. Scratch gives "".
func (g *generator) fromName(f model.FromContext) (string, error) {
	switch f.Kind {
	case model.FromKindImage:
		return f.Image.String(), nil
	case model.FromKindBuilder:
		if _, ok := g.d.Builders[f.Builder]; !ok || f.Builder == model.RuntimeName {
			return "", errdefs.BuilderNotFound(f.Builder)
		}
		return f.Builder, nil
	default:
		return f.Context, nil
	}
}

func (g *generator) copy(c model.CopyResource) (Instruction, error) {
	var (
		opts    []Option
		sources []string
		command = "COPY"
	)
	common := c.CopyOptions()
	chown := func() {
		if common.Chown != nil {
			opts = append(opts, KV("chown", common.Chown.String()))
		}
		if common.Chmod != "" {
			opts = append(opts, KV("chmod", common.Chmod))
		}
	}
	exclude := func(patterns []string) {
		for _, e := range patterns {
			opts = append(opts, KV("exclude", e))
		}
	}

	switch v := c.(type) {
	case *model.Copy:
		from, err := g.fromName(v.From)
		if err != nil {
			return Instruction{}, err
		}
		if from != "" {
			opts = append(opts, KV("from", from))
		}
		chown()
		exclude(v.Exclude)
		opts = appendBool(opts, "parents", v.Parents)
		sources = v.Paths
	case *model.AddGitRepo:
		command = "ADD"
		chown()
		exclude(v.Exclude)
		opts = appendBool(opts, "keep-git-dir", v.KeepGitDir)
		sources = []string{v.Repo}
	case *model.Add:
		command = "ADD"
		chown()
		if v.Checksum != "" {
			opts = append(opts, KV("checksum", v.Checksum))
		}
		sources = v.Files
	}
	opts = appendBool(opts, "link", common.Link)

	target := common.Target
	if target == "" {
		target = model.DefaultCopyTarget
	}
	parts := make([]string, 0, len(sources)+1)
	for _, s := range sources {
		parts = append(parts, Quote(s))
	}
	parts = append(parts, Quote(target))

	return Instruction{Command: command, Options: opts, Content: strings.Join(parts, " ")}, nil
}

func appendBool(opts []Option, name string, b *bool) []Option {
	switch {
	case b == nil:
		return opts
	case *b:
		return append(opts, Flag(name))
	default:
		return append(opts, KV(name, "false"))
	}
}

// run renders SHELL when set and the RUN instruction. Commands are joined
// with && unless one of them spans several lines, in which case the body
// becomes a heredoc.
func (g *generator) run(workdir string, r model.Run) ([]Line, error) {
	var lines []Line
	if len(r.Shell) > 0 {
		shell, err := jsonArray(r.Shell)
		if err != nil {
			return nil, err
		}
		lines = append(lines, Instruction{Command: "SHELL", Content: shell})
	}

	var opts []Option
	for _, c := range r.Cache {
		m, err := g.cacheMount(workdir, c)
		if err != nil {
			return nil, err
		}
		opts = append(opts, KV("mount", m))
	}
	for _, b := range r.Bind {
		m, err := g.bindMount(b)
		if err != nil {
			return nil, err
		}
		opts = append(opts, KV("mount", m))
	}

	var content string
	if slices.ContainsFunc(r.Run, func(c string) bool { return strings.Contains(c, "\n") }) {
		body := strings.Join(r.Run, "\n")
		term := heredocTerminator(body)
		content = "<<" + term + "\n" + body + "\n" + term
	} else {
		content = strings.Join(r.Run, " \\\n"+indent+"&& ")
	}
	return append(lines, Instruction{Command: "RUN", Options: opts, Content: content}), nil
}

// heredocTerminator picks a terminator that no line of body equals.
func heredocTerminator(body string) string {
	lines := strings.Split(body, "\n")
	term := "EOF"
	for i := 1; slices.Contains(lines, term); i++ {
		term = "EOF" + strconv.Itoa(i)
	}
	return term
}

func (g *generator) cacheMount(workdir string, c model.Cache) (string, error) {
	target := c.Target
	if !path.IsAbs(target) && path.IsAbs(workdir) {
		target = path.Join(workdir, target)
	}
	parts := []string{"type=cache", "target=" + target}
	if c.ID != "" {
		parts = append(parts, "id="+c.ID)
	}
	from, err := g.fromName(c.From)
	if err != nil {
		return "", err
	}
	if from != "" {
		parts = append(parts, "from="+from)
	}
	if c.Source != "" {
		parts = append(parts, "source="+c.Source)
	}
	if c.Chmod != "" {
		parts = append(parts, "chmod="+c.Chmod)
	}
	if c.Chown != nil {
		if c.Chown.User != "" {
			parts = append(parts, "uid="+c.Chown.User)
		}
		if c.Chown.Group != "" {
			parts = append(parts, "gid="+c.Chown.Group)
		}
	}
	sharing := c.Sharing
	if sharing == "" {
		sharing = model.SharingLocked
	}
	parts = append(parts, "sharing="+string(sharing))
	if c.ReadOnly {
		parts = append(parts, "readonly")
	}
	return strings.Join(parts, ","), nil
}

func (g *generator) bindMount(b model.Bind) (string, error) {
	parts := []string{"type=bind", "target=" + b.Target}
	from, err := g.fromName(b.From)
	if err != nil {
		return "", err
	}
	if from != "" {
		parts = append(parts, "from="+from)
	}
	if b.Source != "" {
		parts = append(parts, "source="+b.Source)
	}
	if b.ReadWrite {
		parts = append(parts, "rw")
	}
	return strings.Join(parts, ","), nil
}

// imageInstructions renders the instructions that only apply to the final
// image.
func (g *generator) imageInstructions() ([]Line, error) {
	d := g.d
	var lines []Line

	if len(d.Expose) > 0 {
		ports := make([]string, 0, len(d.Expose))
		for _, p := range d.Expose {
			ports = append(ports, p.String())
		}
		lines = append(lines, Instruction{Command: "EXPOSE", Content: strings.Join(ports, " ")})
	}
	if len(d.Volume) > 0 {
		v, err := jsonArray(d.Volume)
		if err != nil {
			return nil, err
		}
		lines = append(lines, Instruction{Command: "VOLUME", Content: v})
	}
	if h := d.Healthcheck; h != nil {
		var opts []Option
		if h.Interval != "" {
			opts = append(opts, KV("interval", h.Interval))
		}
		if h.Timeout != "" {
			opts = append(opts, KV("timeout", h.Timeout))
		}
		if h.Start != "" {
			opts = append(opts, KV("start-period", h.Start))
		}
		if h.Retries != nil {
			opts = append(opts, KV("retries", strconv.Itoa(*h.Retries)))
		}
		lines = append(lines, Instruction{Command: "HEALTHCHECK", Options: opts, Content: "CMD " + h.Cmd})
	}
	if len(d.Entrypoint) > 0 {
		v, err := jsonArray(d.Entrypoint)
		if err != nil {
			return nil, err
		}
		lines = append(lines, Instruction{Command: "ENTRYPOINT", Content: v})
	}
	if len(d.Cmd) > 0 {
		v, err := jsonArray(d.Cmd)
		if err != nil {
			return nil, err
		}
		lines = append(lines, Instruction{Command: "CMD", Content: v})
	}
	return lines, nil
}

var plainKey = regexp.MustCompile(`^[A-Za-z0-9_.:/-]+$`)

// key quotes k unless it is made of plain characters only.
func key(k string) string {
	if plainKey.MatchString(k) {
		return k
	}
	return Quote(k)
}

func argLine(k, value string) Line {
	if value == "" {
		return Instruction{Command: "ARG", Content: key(k)}
	}
	return Instruction{Command: "ARG", Content: key(k) + "=" + Quote(value)}
}

// mapInstruction renders a LABEL or ENV block, one key per continuation
// line when there are several.
func mapInstruction(command string, m map[string]string) (Line, bool) {
	if len(m) == 0 {
		return nil, false
	}
	keys := sortedKeys(m)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, key(k)+"="+Quote(m[k]))
	}
	if len(pairs) == 1 {
		return Instruction{Command: command, Content: pairs[0]}, true
	}
	return Instruction{Command: command, Content: "\\\n" + indent + strings.Join(pairs, " \\\n"+indent)}, true
}

func jsonArray(values []string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(values); err != nil {
		return "", errdefs.New(errdefs.KindFormat, "failed to render JSON array", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
