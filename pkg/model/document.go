package model

import (
	"encoding/json"
	"maps"
	"slices"
)

// Document is the canonical serialized form of a resolved description. It
// uses the description keys, so it can be read back as a description.
type Document struct {
	StageDocument `yaml:",inline"`

	Builders    map[string]StageDocument `json:"builders,omitempty" yaml:"builders,omitempty"`
	GlobalArg   map[string]string        `json:"globalArg,omitempty" yaml:"globalArg,omitempty"`
	Context     []string                 `json:"context,omitempty" yaml:"context,omitempty"`
	Ignore      []string                 `json:"ignore,omitempty" yaml:"ignore,omitempty"`
	Entrypoint  []string                 `json:"entrypoint,omitempty" yaml:"entrypoint,omitempty"`
	Cmd         []string                 `json:"cmd,omitempty" yaml:"cmd,omitempty"`
	Volume      []string                 `json:"volume,omitempty" yaml:"volume,omitempty"`
	Expose      []string                 `json:"expose,omitempty" yaml:"expose,omitempty"`
	Healthcheck *HealthcheckDocument     `json:"healthcheck,omitempty" yaml:"healthcheck,omitempty"`
}

// FromDocument is the flattened form of a FromContext.
type FromDocument struct {
	FromImage   string  `json:"fromImage,omitempty" yaml:"fromImage,omitempty"`
	FromBuilder string  `json:"fromBuilder,omitempty" yaml:"fromBuilder,omitempty"`
	FromContext *string `json:"fromContext,omitempty" yaml:"fromContext,omitempty"`
}

// RunDocument is the serialized form of a Run.
type RunDocument struct {
	Run   []string        `json:"run,omitempty" yaml:"run,omitempty"`
	Shell []string        `json:"shell,omitempty" yaml:"shell,omitempty"`
	Cache []CacheDocument `json:"cache,omitempty" yaml:"cache,omitempty"`
	Bind  []BindDocument  `json:"bind,omitempty" yaml:"bind,omitempty"`
}

// StageDocument is the serialized form of a Stage.
type StageDocument struct {
	FromDocument `yaml:",inline"`

	Label   map[string]string `json:"label,omitempty" yaml:"label,omitempty"`
	User    string            `json:"user,omitempty" yaml:"user,omitempty"`
	Workdir string            `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	Arg     map[string]string `json:"arg,omitempty" yaml:"arg,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Copy    []CopyDocument    `json:"copy,omitempty" yaml:"copy,omitempty"`
	Root    *RunDocument      `json:"root,omitempty" yaml:"root,omitempty"`

	RunDocument `yaml:",inline"`
}

// CopyDocument is the serialized form of every CopyResource variant.
type CopyDocument struct {
	FromDocument `yaml:",inline"`

	Paths      []string `json:"paths,omitempty" yaml:"paths,omitempty"`
	Repo       string   `json:"repo,omitempty" yaml:"repo,omitempty"`
	Files      []string `json:"files,omitempty" yaml:"files,omitempty"`
	Target     string   `json:"target,omitempty" yaml:"target,omitempty"`
	Chown      string   `json:"chown,omitempty" yaml:"chown,omitempty"`
	Chmod      string   `json:"chmod,omitempty" yaml:"chmod,omitempty"`
	Link       *bool    `json:"link,omitempty" yaml:"link,omitempty"`
	Exclude    []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Parents    *bool    `json:"parents,omitempty" yaml:"parents,omitempty"`
	KeepGitDir *bool    `json:"keepGitDir,omitempty" yaml:"keepGitDir,omitempty"`
	Checksum   string   `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// CacheDocument is the serialized form of a Cache.
type CacheDocument struct {
	FromDocument `yaml:",inline"`

	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Target   string `json:"target" yaml:"target"`
	Source   string `json:"source,omitempty" yaml:"source,omitempty"`
	Chmod    string `json:"chmod,omitempty" yaml:"chmod,omitempty"`
	Chown    string `json:"chown,omitempty" yaml:"chown,omitempty"`
	Sharing  string `json:"sharing,omitempty" yaml:"sharing,omitempty"`
	ReadOnly bool   `json:"readonly,omitempty" yaml:"readonly,omitempty"`
}

// BindDocument is the serialized form of a Bind.
type BindDocument struct {
	FromDocument `yaml:",inline"`

	Target    string `json:"target" yaml:"target"`
	Source    string `json:"source,omitempty" yaml:"source,omitempty"`
	ReadWrite bool   `json:"readwrite,omitempty" yaml:"readwrite,omitempty"`
}

// HealthcheckDocument is the serialized form of a Healthcheck.
type HealthcheckDocument struct {
	Cmd      string `json:"cmd" yaml:"cmd"`
	Interval string `json:"interval,omitempty" yaml:"interval,omitempty"`
	Timeout  string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Start    string `json:"start,omitempty" yaml:"start,omitempty"`
	Retries  *int   `json:"retries,omitempty" yaml:"retries,omitempty"`
}

// ToDocument converts the description to its serialized form.
func (d *Dofigen) ToDocument() Document {
	doc := Document{
		StageDocument: d.Stage.toDocument(),
		GlobalArg:     nilIfEmpty(d.GlobalArg),
		Context:       slices.Clone(d.Context),
		Ignore:        slices.Clone(d.Ignore),
		Entrypoint:    slices.Clone(d.Entrypoint),
		Cmd:           slices.Clone(d.Cmd),
		Volume:        slices.Clone(d.Volume),
	}
	if len(d.Builders) > 0 {
		doc.Builders = make(map[string]StageDocument, len(d.Builders))
		for name, b := range d.Builders {
			doc.Builders[name] = b.toDocument()
		}
	}
	for _, p := range d.Expose {
		doc.Expose = append(doc.Expose, p.String())
	}
	if h := d.Healthcheck; h != nil {
		doc.Healthcheck = &HealthcheckDocument{
			Cmd:      h.Cmd,
			Interval: h.Interval,
			Timeout:  h.Timeout,
			Start:    h.Start,
			Retries:  h.Retries,
		}
	}
	return doc
}

// MarshalYAML implements yaml.Marshaler.
func (d *Dofigen) MarshalYAML() (any, error) {
	return d.ToDocument(), nil
}

// MarshalJSON implements json.Marshaler.
func (d *Dofigen) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.ToDocument())
}

func (s *Stage) toDocument() StageDocument {
	doc := StageDocument{
		FromDocument: fromDocument(s.From),
		Label:        nilIfEmpty(s.Label),
		Workdir:      s.Workdir,
		Arg:          nilIfEmpty(s.Arg),
		Env:          nilIfEmpty(s.Env),
		RunDocument:  runDocument(s.Run),
	}
	if s.User != nil {
		doc.User = s.User.String()
	}
	for _, c := range s.Copy {
		doc.Copy = append(doc.Copy, copyDocument(c))
	}
	if s.Root != nil {
		r := runDocument(*s.Root)
		doc.Root = &r
	}
	return doc
}

func fromDocument(f FromContext) FromDocument {
	switch f.Kind {
	case FromKindImage:
		return FromDocument{FromImage: f.Image.String()}
	case FromKindBuilder:
		return FromDocument{FromBuilder: f.Builder}
	default:
		if f.Context == "" {
			return FromDocument{}
		}
		name := f.Context
		return FromDocument{FromContext: &name}
	}
}

func runDocument(r Run) RunDocument {
	doc := RunDocument{
		Run:   slices.Clone(r.Run),
		Shell: slices.Clone(r.Shell),
	}
	for _, c := range r.Cache {
		cd := CacheDocument{
			FromDocument: fromDocument(c.From),
			ID:           c.ID,
			Target:       c.Target,
			Source:       c.Source,
			Chmod:        c.Chmod,
			Sharing:      string(c.Sharing),
			ReadOnly:     c.ReadOnly,
		}
		if c.Chown != nil {
			cd.Chown = c.Chown.String()
		}
		doc.Cache = append(doc.Cache, cd)
	}
	for _, b := range r.Bind {
		doc.Bind = append(doc.Bind, BindDocument{
			FromDocument: fromDocument(b.From),
			Target:       b.Target,
			Source:       b.Source,
			ReadWrite:    b.ReadWrite,
		})
	}
	return doc
}

func copyDocument(c CopyResource) CopyDocument {
	opts := c.CopyOptions()
	doc := CopyDocument{
		Target: opts.Target,
		Chmod:  opts.Chmod,
		Link:   opts.Link,
	}
	if opts.Chown != nil {
		doc.Chown = opts.Chown.String()
	}
	switch v := c.(type) {
	case *Copy:
		doc.FromDocument = fromDocument(v.From)
		doc.Paths = slices.Clone(v.Paths)
		doc.Exclude = slices.Clone(v.Exclude)
		doc.Parents = v.Parents
	case *AddGitRepo:
		doc.Repo = v.Repo
		doc.Exclude = slices.Clone(v.Exclude)
		doc.KeepGitDir = v.KeepGitDir
	case *Add:
		doc.Files = slices.Clone(v.Files)
		doc.Checksum = v.Checksum
	}
	return doc
}

func nilIfEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return maps.Clone(m)
}
