package dockerfile

import (
	"encoding/json"
	"fmt"
	"maps"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/dofigen/dofigen/pkg/errdefs"
	"github.com/dofigen/dofigen/pkg/generator"
	"github.com/dofigen/dofigen/pkg/lint"
	"github.com/dofigen/dofigen/pkg/model"
)

const (
	// AuthorsLabel replaces the MAINTAINER instruction.
	AuthorsLabel = "org.opencontainers.image.authors"

	builderPrefix = "builder-"
)

var (
	continuation = regexp.MustCompile(`[ \t]*\\\n[ \t]*`)
	runSeparator = regexp.MustCompile(`[ \t]*\\\n[ \t]*&&[ \t]*`)
)

// Result is a Dockerfile read back as a description.
type Result struct {
	Dofigen  *model.Dofigen
	Warnings []lint.Message
}

// Parse reads a Dockerfile. The last stage becomes the runtime stage and the
// others become builders. Instructions the description cannot express fail
// with an UnsupportedInstruction error.
func Parse(text string) (*Result, error) {
	src, err := tokenize(text)
	if err != nil {
		return nil, err
	}

	p := &interpreter{
		src:      src,
		builders: make(map[string]model.Stage),
		images:   make(map[string]imageFields),
	}
	for _, t := range src.tokens {
		in, ok := t.Line.(generator.Instruction)
		if !ok {
			continue
		}
		if err := p.apply(t.line, in); err != nil {
			return nil, err
		}
	}
	return p.result()
}

// imageFields are the instructions that configure the image rather than
// the build. They are kept per stage and folded along the runtime chain.
type imageFields struct {
	expose         []model.Port
	volume         []string
	entrypoint     []string
	entrypointSet  bool
	cmd            []string
	cmdSet         bool
	healthcheck    *model.Healthcheck
	healthcheckSet bool
}

func (f imageFields) apply(d *model.Dofigen) {
	for _, p := range f.expose {
		if !slices.Contains(d.Expose, p) {
			d.Expose = append(d.Expose, p)
		}
	}
	for _, v := range f.volume {
		if !slices.Contains(d.Volume, v) {
			d.Volume = append(d.Volume, v)
		}
	}
	if f.entrypointSet {
		d.Entrypoint = f.entrypoint
	}
	if f.cmdSet {
		d.Cmd = f.cmd
	}
	if f.healthcheckSet {
		d.Healthcheck = f.healthcheck
	}
}

// stageState is the stage being read.
type stageState struct {
	name  string
	stage model.Stage
	image imageFields

	// inRoot is set between a USER 0 and the next USER; RUN goes to root.
	inRoot   bool
	rootUser model.User
	root     model.Run

	// shell applies to the next RUN only.
	shell []string

	// nonArg is set once an instruction other than ARG was seen.
	nonArg bool
}

func (s *stageState) ran() bool {
	return !s.root.IsEmpty() || s.stage.Root != nil || !s.stage.Run.IsEmpty()
}

type interpreter struct {
	src       *source
	globalArg map[string]string
	builders  map[string]model.Stage
	images    map[string]imageFields
	fromOrder []string
	current   *stageState
	auto      int
	warnings  []lint.Message
}

func (p *interpreter) apply(line int, in generator.Instruction) error {
	if in.Command != "RUN" && placeholderPattern.MatchString(in.Content) {
		return errdefs.Unsupported(line, "heredocs are only supported in RUN, not in %s", in.Command)
	}
	if in.Command == "FROM" {
		return p.from(line, in)
	}
	if p.current == nil {
		if in.Command == "ARG" {
			return p.globalArgs(line, in)
		}
		return errdefs.Unsupported(line, "%s before the first FROM", in.Command)
	}

	if in.Command != "ARG" {
		defer func() { p.current.nonArg = true }()
	}

	switch in.Command {
	case "ARG":
		return p.arg(line, in)
	case "LABEL":
		return p.keyValues(line, in, "LABEL", &p.current.stage.Label)
	case "MAINTAINER":
		if p.current.stage.Label == nil {
			p.current.stage.Label = make(map[string]string)
		}
		p.current.stage.Label[AuthorsLabel] = p.text(in)
		return nil
	case "ENV":
		if p.current.ran() {
			p.split()
		}
		return p.keyValues(line, in, "ENV", &p.current.stage.Env)
	case "WORKDIR":
		return p.workdir(line, in)
	case "COPY", "ADD":
		return p.copy(line, in)
	case "USER":
		return p.user(line, in)
	case "RUN":
		return p.run(line, in)
	case "SHELL":
		shell, err := p.jsonArray(line, in)
		if err != nil {
			return err
		}
		p.current.shell = shell
		return nil
	case "EXPOSE":
		for _, f := range strings.Fields(p.text(in)) {
			port, err := model.ParsePort(f)
			if err != nil {
				return errdefs.Unsupported(line, "%v", err)
			}
			p.current.image.expose = append(p.current.image.expose, port)
		}
		return nil
	case "VOLUME":
		text := p.text(in)
		if strings.HasPrefix(text, "[") {
			v, err := p.jsonArray(line, in)
			if err != nil {
				return err
			}
			p.current.image.volume = append(p.current.image.volume, v...)
			return nil
		}
		p.current.image.volume = append(p.current.image.volume, strings.Fields(text)...)
		return nil
	case "CMD":
		cmd, err := p.command(line, in)
		if err != nil {
			return err
		}
		p.current.image.cmd, p.current.image.cmdSet = cmd, true
		return nil
	case "ENTRYPOINT":
		cmd, err := p.command(line, in)
		if err != nil {
			return err
		}
		p.current.image.entrypoint, p.current.image.entrypointSet = cmd, true
		return nil
	case "HEALTHCHECK":
		return p.healthcheck(line, in)
	default:
		return errdefs.Unsupported(line, "unsupported instruction %s", in.Command)
	}
}

// text returns the content with heredocs restored and continuations joined.
func (p *interpreter) text(in generator.Instruction) string {
	return strings.TrimSpace(p.src.expand(continuation.ReplaceAllString(in.Content, " ")))
}

func (p *interpreter) warnf(line int, format string, args ...any) {
	p.warnings = append(p.warnings, lint.Message{
		Level: lint.Warn,
		Text:  fmt.Sprintf("line %d: ", line) + fmt.Sprintf(format, args...),
	})
}

func (p *interpreter) from(line int, in generator.Instruction) error {
	if len(in.Options) > 0 {
		return errdefs.Unsupported(line, "unsupported FROM option --%s", in.Options[0].Name)
	}
	fields := strings.Fields(p.text(in))
	var name string
	switch {
	case len(fields) == 1:
	case len(fields) == 3 && strings.EqualFold(fields[1], "AS"):
		name = fields[2]
	default:
		return errdefs.Unsupported(line, "invalid FROM %q", in.Content)
	}
	if p.current != nil {
		p.fromOrder = append(p.fromOrder, p.close(p.current))
		p.current = nil
	}
	if name != "" && p.known(name) {
		return errdefs.Unsupported(line, "duplicate stage name %q", name)
	}

	from, err := p.resolveFrom(line, fields[0], true)
	if err != nil {
		return err
	}
	p.current = &stageState{name: name, stage: model.Stage{From: from}}
	return nil
}

func (p *interpreter) known(name string) bool {
	_, ok := p.builders[name]
	return ok
}

// resolveFrom turns a FROM source or a --from value into a FromContext.
func (p *interpreter) resolveFrom(line int, s string, isStage bool) (model.FromContext, error) {
	switch {
	case strings.EqualFold(s, "scratch"):
		return model.FromContext{}, nil
	case p.known(s):
		return model.FromBuilder(s), nil
	}
	if i, err := strconv.Atoi(s); err == nil && i >= 0 && i < len(p.fromOrder) {
		return model.FromBuilder(p.fromOrder[i]), nil
	}
	if !isStage && !strings.ContainsAny(s, ":/@") {
		return model.FromExternal(s), nil
	}
	img, err := model.ParseImageName(s)
	if err != nil {
		return model.FromContext{}, errdefs.Unsupported(line, "%v", err)
	}
	return model.FromImage(img), nil
}

func (p *interpreter) autoName() string {
	for {
		name := builderPrefix + strconv.Itoa(p.auto)
		p.auto++
		if !p.known(name) {
			return name
		}
	}
}

// finish settles the pending root work. A stage that never left root runs
// everything as root.
func finish(s *stageState) {
	if !s.inRoot {
		return
	}
	if s.stage.User == nil {
		u := s.rootUser
		s.stage.User = &u
	}
	if !s.root.IsEmpty() {
		s.stage.Run = s.root
	}
	s.inRoot = false
	s.root = model.Run{}
}

// close stores a stage as a builder and returns its name.
func (p *interpreter) close(s *stageState) string {
	finish(s)
	name := s.name
	if name == "" {
		name = p.autoName()
	}
	p.builders[name] = s.stage
	p.images[name] = s.image
	return name
}

// split closes the part of the current stage read so far as an auto named
// builder and continues in a stage built from it.
func (p *interpreter) split() {
	cur := p.current
	closed := *cur
	closed.name = p.autoName()
	name := p.close(&closed)

	next := &stageState{
		name:  cur.name,
		shell: cur.shell,
		stage: model.Stage{
			From:    model.FromBuilder(name),
			Arg:     maps.Clone(cur.stage.Arg),
			Workdir: cur.stage.Workdir,
		},
	}
	if cur.inRoot {
		next.inRoot = true
		next.rootUser = cur.rootUser
	} else if cur.stage.User != nil {
		u := *cur.stage.User
		next.stage.User = &u
	}
	p.current = next
}

func (p *interpreter) result() (*Result, error) {
	if p.current == nil {
		return nil, errdefs.Unsupported(0, "no FROM instruction")
	}
	runtime := p.current
	finish(runtime)

	d := &model.Dofigen{Stage: runtime.stage, GlobalArg: p.globalArg}
	if len(p.builders) > 0 {
		d.Builders = p.builders
	}

	// Image settings of the ancestors apply first.
	var chain []string
	for from := runtime.stage.From; from.Kind == model.FromKindBuilder; {
		if slices.Contains(chain, from.Builder) {
			break
		}
		chain = append(chain, from.Builder)
		from = p.builders[from.Builder].From
	}
	slices.Reverse(chain)
	for _, name := range chain {
		p.images[name].apply(d)
	}
	runtime.image.apply(d)

	return &Result{Dofigen: d, Warnings: p.warnings}, nil
}

func (p *interpreter) globalArgs(line int, in generator.Instruction) error {
	return p.keyValues(line, in, "ARG", &p.globalArg)
}

func (p *interpreter) arg(line int, in generator.Instruction) error {
	st := p.current
	if st.ran() {
		p.split()
		st = p.current
	} else if st.nonArg {
		p.warnf(line, "ARG is declared after other instructions of the stage and is moved before them")
	}
	return p.keyValues(line, in, "ARG", &st.stage.Arg)
}

// keyValues reads key=value pairs into m. The legacy "ENV key value" form is
// accepted, and an ARG may have no value.
func (p *interpreter) keyValues(line int, in generator.Instruction, kind string, m *map[string]string) error {
	text := p.text(in)
	words, err := splitPairs(text)
	if err != nil {
		return errdefs.Unsupported(line, "invalid %s: %v", kind, err)
	}
	if len(words) == 0 {
		return errdefs.Unsupported(line, "empty %s", kind)
	}

	var pairs []pair
	if kind == "ENV" && !words[0].assigned {
		legacy, err := shellwords.Parse(text)
		if err != nil || len(legacy) < 2 {
			return errdefs.Unsupported(line, "ENV %s has no value", words[0].key)
		}
		pairs = append(pairs, pair{key: legacy[0], value: strings.Join(legacy[1:], " ")})
	} else {
		for _, w := range words {
			if !w.assigned && kind != "ARG" {
				return errdefs.Unsupported(line, "invalid %s %q: expected key=value", kind, w.key)
			}
			pairs = append(pairs, w)
		}
	}

	if *m == nil {
		*m = make(map[string]string)
	}
	for _, kv := range pairs {
		if _, ok := (*m)[kv.key]; ok {
			p.warnf(line, "duplicate %s key %q", kind, kv.key)
		}
		(*m)[kv.key] = kv.value
	}
	return nil
}

// pair is one word of a LABEL, ENV or ARG instruction.
type pair struct {
	key, value string
	assigned   bool
}

// splitPairs splits text into shell words and cuts each word at its first
// unquoted '='. Key and value are unquoted separately, so a quoted key may
// hold spaces, quotes or '='.
func splitPairs(text string) ([]pair, error) {
	var (
		pairs []pair
		word  strings.Builder
		eq    = -1
		quote byte
		open  bool
	)
	flush := func() error {
		if !open {
			return nil
		}
		raw := word.String()
		var (
			w   pair
			err error
		)
		if eq < 0 {
			w.key, err = unquote(raw)
		} else {
			w.assigned = true
			if w.key, err = unquote(raw[:eq]); err == nil {
				w.value, err = unquote(raw[eq+1:])
			}
		}
		pairs = append(pairs, w)
		word.Reset()
		eq, open = -1, false
		return err
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\\' && quote != '\'' && i+1 < len(text):
			word.WriteByte(c)
			i++
			word.WriteByte(text[i])
		case quote != 0:
			if c == quote {
				quote = 0
			}
			word.WriteByte(c)
		case c == ' ' || c == '\t' || c == '\n':
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		case c == '"' || c == '\'':
			quote = c
			word.WriteByte(c)
		case c == '=' && eq < 0:
			eq = word.Len()
			word.WriteByte(c)
		default:
			word.WriteByte(c)
		}
		open = true
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return pairs, nil
}

func unquote(s string) (string, error) {
	words, err := shellwords.Parse(s)
	if err != nil {
		return "", err
	}
	return strings.Join(words, " "), nil
}

func (p *interpreter) workdir(line int, in generator.Instruction) error {
	st := p.current
	if st.stage.Workdir != "" || len(st.stage.Copy) > 0 || st.ran() {
		p.split()
		st = p.current
	}
	dir := p.text(in)
	if dir == "" {
		return errdefs.Unsupported(line, "empty WORKDIR")
	}
	if !path.IsAbs(dir) && path.IsAbs(st.stage.Workdir) {
		dir = path.Join(st.stage.Workdir, dir)
	}
	st.stage.Workdir = dir
	return nil
}

func (p *interpreter) user(line int, in generator.Instruction) error {
	u, err := model.ParseUser(p.text(in))
	if err != nil {
		return errdefs.Unsupported(line, "%v", err)
	}
	st := p.current

	if u.IsRoot() {
		if st.inRoot {
			return nil
		}
		if st.stage.User != nil || st.stage.Root != nil || !st.stage.Run.IsEmpty() {
			p.split()
			st = p.current
			st.stage.User = nil
		}
		st.inRoot = true
		st.rootUser = u
		return nil
	}

	if st.stage.User != nil && *st.stage.User == u && st.stage.Run.IsEmpty() {
		return nil
	}
	if st.stage.User != nil || !st.stage.Run.IsEmpty() {
		p.split()
		st = p.current
	}
	if st.inRoot {
		if !st.root.IsEmpty() {
			r := st.root
			st.stage.Root = &r
		}
		st.inRoot = false
		st.root = model.Run{}
	}
	st.stage.User = &u
	return nil
}

func (p *interpreter) run(line int, in generator.Instruction) error {
	var r model.Run
	for _, o := range in.Options {
		if o.Name != "mount" || o.Flag {
			return errdefs.Unsupported(line, "unsupported RUN option --%s", o.Name)
		}
		if err := p.mount(line, o.Value, &r); err != nil {
			return err
		}
	}

	body, whole := p.src.heredocBody(in.Content)
	switch {
	case whole:
		r.Run = []string{body}
	case leadingHeredoc(in.Content):
		return errdefs.Unsupported(line, "RUN with a heredoc script followed by other words is not supported")
	case placeholderPattern.MatchString(in.Content):
		// commands feeding heredocs keep their bodies on the following lines
		r.Run = []string{p.text(in)}
	default:
		text := p.src.expand(in.Content)
		var exec []string
		if json.Unmarshal([]byte(strings.TrimSpace(text)), &exec) == nil {
			return errdefs.Unsupported(line, "exec form RUN is not supported")
		}
		for _, part := range runSeparator.Split(text, -1) {
			if c := strings.TrimSpace(continuation.ReplaceAllString(part, " ")); c != "" {
				r.Run = append(r.Run, c)
			}
		}
	}
	if r.IsEmpty() {
		return errdefs.Unsupported(line, "empty RUN")
	}

	st := p.current
	if st.inRoot {
		if !st.root.IsEmpty() {
			p.split()
			st = p.current
		}
		r.Shell, st.shell = st.shell, nil
		st.root = r
		return nil
	}
	if !st.stage.Run.IsEmpty() {
		p.split()
		st = p.current
	}
	r.Shell, st.shell = st.shell, nil
	st.stage.Run = r
	return nil
}

// mount reads a --mount value into r.
func (p *interpreter) mount(line int, value string, r *model.Run) error {
	attrs := make(map[string]string)
	var order []string
	for _, f := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			v = "true"
		}
		attrs[strings.ToLower(k)] = v
		order = append(order, strings.ToLower(k))
	}
	flag := func(v string) (bool, error) {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, errdefs.Unsupported(line, "invalid mount flag %q", v)
		}
		return b, nil
	}
	from := func(v string) (model.FromContext, error) {
		return p.resolveFrom(line, v, false)
	}

	typ := attrs["type"]
	if typ == "" {
		typ = "bind"
	}
	switch typ {
	case "cache":
		var c model.Cache
		for _, k := range order {
			v := attrs[k]
			var err error
			switch k {
			case "type":
			case "target", "dst", "destination":
				c.Target = v
			case "id":
				c.ID = v
			case "from":
				c.From, err = from(v)
			case "source", "src":
				c.Source = v
			case "mode", "chmod":
				c.Chmod = v
			case "uid":
				if c.Chown == nil {
					c.Chown = &model.User{}
				}
				c.Chown.User = v
			case "gid":
				if c.Chown == nil {
					c.Chown = &model.User{}
				}
				c.Chown.Group = v
			case "sharing":
				c.Sharing = model.Sharing(v)
				if !slices.Contains([]model.Sharing{model.SharingShared, model.SharingPrivate, model.SharingLocked}, c.Sharing) {
					err = errdefs.Unsupported(line, "invalid cache sharing %q", v)
				}
			case "readonly", "ro":
				c.ReadOnly, err = flag(v)
			default:
				err = errdefs.Unsupported(line, "unsupported cache mount option %q", k)
			}
			if err != nil {
				return err
			}
		}
		r.Cache = append(r.Cache, c)
	case "bind":
		var b model.Bind
		for _, k := range order {
			v := attrs[k]
			var err error
			switch k {
			case "type":
			case "target", "dst", "destination":
				b.Target = v
			case "from":
				b.From, err = from(v)
			case "source", "src":
				b.Source = v
			case "rw", "readwrite":
				b.ReadWrite, err = flag(v)
			default:
				err = errdefs.Unsupported(line, "unsupported bind mount option %q", k)
			}
			if err != nil {
				return err
			}
		}
		r.Bind = append(r.Bind, b)
	default:
		return errdefs.Unsupported(line, "unsupported mount type %q", typ)
	}
	return nil
}

func (p *interpreter) copy(line int, in generator.Instruction) error {
	if p.current.ran() {
		p.split()
	}

	text := p.text(in)
	var words []string
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal([]byte(text), &words); err != nil {
			return errdefs.Unsupported(line, "invalid %s: %v", in.Command, err)
		}
	} else {
		var err error
		if words, err = shellwords.Parse(text); err != nil {
			return errdefs.Unsupported(line, "invalid %s: %v", in.Command, err)
		}
	}
	if len(words) < 2 {
		return errdefs.Unsupported(line, "%s needs a source and a target", in.Command)
	}
	sources, target := words[:len(words)-1], words[len(words)-1]

	var (
		opts       = model.CopyOptions{Target: target}
		from       model.FromContext
		exclude    []string
		parents    *bool
		keepGitDir *bool
		checksum   string
	)
	boolOption := func(o generator.Option) (*bool, error) {
		if o.Flag {
			b := true
			return &b, nil
		}
		b, err := strconv.ParseBool(o.Value)
		if err != nil {
			return nil, errdefs.Unsupported(line, "invalid --%s value %q", o.Name, o.Value)
		}
		return &b, nil
	}

	for _, o := range in.Options {
		var err error
		switch {
		case o.Name == "from" && in.Command == "COPY":
			from, err = p.resolveFrom(line, o.Value, false)
		case o.Name == "chown":
			u, perr := model.ParseUser(o.Value)
			if perr != nil {
				err = errdefs.Unsupported(line, "%v", perr)
				break
			}
			opts.Chown = &u
		case o.Name == "chmod":
			opts.Chmod = o.Value
		case o.Name == "link":
			opts.Link, err = boolOption(o)
		case o.Name == "exclude":
			exclude = append(exclude, o.Value)
		case o.Name == "parents" && in.Command == "COPY":
			parents, err = boolOption(o)
		case o.Name == "checksum" && in.Command == "ADD":
			checksum = o.Value
		case o.Name == "keep-git-dir" && in.Command == "ADD":
			keepGitDir, err = boolOption(o)
		default:
			err = errdefs.Unsupported(line, "unsupported %s option --%s", in.Command, o.Name)
		}
		if err != nil {
			return err
		}
	}

	var c model.CopyResource
	switch {
	case in.Command == "COPY":
		c = &model.Copy{From: from, Paths: sources, Options: opts, Exclude: exclude, Parents: parents}
	case len(sources) == 1 && model.IsGitRepo(sources[0]):
		c = &model.AddGitRepo{Repo: sources[0], Options: opts, Exclude: exclude, KeepGitDir: keepGitDir}
	default:
		if len(exclude) > 0 {
			return errdefs.Unsupported(line, "--exclude is only supported for git repositories in ADD")
		}
		c = &model.Add{Files: sources, Checksum: checksum, Options: opts}
	}
	p.current.stage.Copy = append(p.current.stage.Copy, c)
	return nil
}

func (p *interpreter) jsonArray(line int, in generator.Instruction) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(p.text(in)), &out); err != nil {
		return nil, errdefs.Unsupported(line, "%s expects a JSON array: %v", in.Command, err)
	}
	return out, nil
}

// command reads CMD and ENTRYPOINT. The shell form runs through /bin/sh.
func (p *interpreter) command(line int, in generator.Instruction) ([]string, error) {
	text := p.text(in)
	if strings.HasPrefix(text, "[") {
		return p.jsonArray(line, in)
	}
	if text == "" {
		return nil, errdefs.Unsupported(line, "empty %s", in.Command)
	}
	return []string{"/bin/sh", "-c", text}, nil
}

func (p *interpreter) healthcheck(line int, in generator.Instruction) error {
	text := p.text(in)
	img := &p.current.image
	if strings.EqualFold(text, "NONE") {
		img.healthcheck, img.healthcheckSet = nil, true
		return nil
	}

	fields := strings.Fields(text)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "CMD") {
		return errdefs.Unsupported(line, "HEALTHCHECK expects CMD or NONE")
	}
	h := &model.Healthcheck{Cmd: strings.TrimSpace(text[len(fields[0]):])}

	for _, o := range in.Options {
		switch o.Name {
		case "interval":
			h.Interval = o.Value
		case "timeout":
			h.Timeout = o.Value
		case "start-period":
			h.Start = o.Value
		case "retries":
			n, err := strconv.Atoi(o.Value)
			if err != nil {
				return errdefs.Unsupported(line, "invalid HEALTHCHECK retries %q", o.Value)
			}
			h.Retries = &n
		default:
			return errdefs.Unsupported(line, "unsupported HEALTHCHECK option --%s", o.Name)
		}
	}
	img.healthcheck, img.healthcheckSet = h, true
	return nil
}
