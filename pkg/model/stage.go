package model

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// RuntimeName is the name of the main stage. It is reserved.
const RuntimeName = "runtime"

// Stage is one FROM-to-next-FROM unit of the build. The same type serves the
// runtime stage and the builders; only their position in the graph differs.
type Stage struct {
	From    FromContext
	Label   map[string]string
	User    *User
	Workdir string
	Arg     map[string]string
	Env     map[string]string
	Copy    []CopyResource `validate:"dive"`
	Root    *Run
	Run     Run
}

// IsEmpty reports whether the stage neither copies nor runs anything.
func (s *Stage) IsEmpty() bool {
	return len(s.Copy) == 0 && s.Run.IsEmpty() && (s.Root == nil || s.Root.IsEmpty())
}

// RuntimeUser returns the user the stage runs its commands as: the explicit
// user, else the default unprivileged user for the runtime stage or a stage
// that did root work, unless it starts from scratch.
func (s *Stage) RuntimeUser(isRuntime bool) *User {
	if s.User != nil {
		u := *s.User
		return &u
	}
	if s.From.IsScratch() {
		return nil
	}
	if isRuntime || (s.Root != nil && !s.Root.IsEmpty()) {
		u := DefaultUser()
		return &u
	}
	return nil
}

// Clone returns a deep copy of the stage.
func (s Stage) Clone() Stage {
	out := s
	out.Label = maps.Clone(s.Label)
	out.Arg = maps.Clone(s.Arg)
	out.Env = maps.Clone(s.Env)
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	if s.Copy != nil {
		out.Copy = make([]CopyResource, len(s.Copy))
		for i, c := range s.Copy {
			out.Copy[i] = c.clone()
		}
	}
	if s.Root != nil {
		r := s.Root.clone()
		out.Root = &r
	}
	out.Run = s.Run.clone()
	return out
}

// Dofigen is a resolved description: the runtime stage and its builders.
type Dofigen struct {
	Stage

	Builders    map[string]Stage `validate:"dive"`
	GlobalArg   map[string]string
	Context     []string
	Ignore      []string
	Entrypoint  []string
	Cmd         []string
	Volume      []string
	Expose      []Port `validate:"dive"`
	Healthcheck *Healthcheck
}

// Clone returns a deep copy of the description.
func (d *Dofigen) Clone() *Dofigen {
	out := &Dofigen{
		Stage:       d.Stage.Clone(),
		GlobalArg:   maps.Clone(d.GlobalArg),
		Context:     slices.Clone(d.Context),
		Ignore:      slices.Clone(d.Ignore),
		Entrypoint:  slices.Clone(d.Entrypoint),
		Cmd:         slices.Clone(d.Cmd),
		Volume:      slices.Clone(d.Volume),
		Expose:      slices.Clone(d.Expose),
		Healthcheck: d.Healthcheck.clone(),
	}
	if d.Builders != nil {
		out.Builders = make(map[string]Stage, len(d.Builders))
		for name, b := range d.Builders {
			out.Builders[name] = b.Clone()
		}
	}
	return out
}

// BuilderNames returns the builder names in alphabetical order.
func (d *Dofigen) BuilderNames() []string {
	return slices.Sorted(maps.Keys(d.Builders))
}

// Stages calls fn for each builder in alphabetical order and then for the
// runtime stage.
func (d *Dofigen) Stages(fn func(name string, stage *Stage, isRuntime bool)) {
	for _, name := range d.BuilderNames() {
		b := d.Builders[name]
		fn(name, &b, false)
	}
	fn(RuntimeName, &d.Stage, true)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks structural constraints that the description format cannot
// express: required targets, port ranges and image digests.
func (d *Dofigen) Validate() error {
	validateOnce.Do(func() {
		validate = validator.New()
	})

	var msgs []string
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed on %q", fe.Namespace(), fe.Tag()))
		}
	}

	d.Stages(func(name string, s *Stage, _ bool) {
		check := func(f FromContext) {
			if f.Kind != FromKindImage {
				return
			}
			if err := f.Image.ValidateDigest(); err != nil {
				msgs = append(msgs, fmt.Sprintf("%s: %v", name, err))
			}
		}
		check(s.From)
		for _, c := range s.Copy {
			if cp, ok := c.(*Copy); ok {
				check(cp.From)
			}
		}
		for _, c := range s.Run.Cache {
			check(c.From)
		}
	})

	if len(msgs) > 0 {
		return fmt.Errorf("invalid description: %s", strings.Join(msgs, "; "))
	}
	return nil
}
