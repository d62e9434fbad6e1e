package model

import "slices"

// Sharing is the sharing mode of a cache mount.
type Sharing string

const (
	SharingShared  Sharing = "shared"
	SharingPrivate Sharing = "private"
	SharingLocked  Sharing = "locked"
)

// Run is an ordered list of shell commands with their mounts.
type Run struct {
	Run   []string
	Shell []string
	Cache []Cache `validate:"dive"`
	Bind  []Bind  `validate:"dive"`
}

// IsEmpty reports whether the run has no command.
func (r Run) IsEmpty() bool {
	return len(r.Run) == 0
}

func (r Run) clone() Run {
	out := Run{
		Run:   slices.Clone(r.Run),
		Shell: slices.Clone(r.Shell),
		Bind:  slices.Clone(r.Bind),
	}
	if r.Cache != nil {
		out.Cache = make([]Cache, len(r.Cache))
		for i, c := range r.Cache {
			out.Cache[i] = c.clone()
		}
	}
	return out
}

// Cache is a persistent cache mount of a RUN.
type Cache struct {
	ID       string
	Target   string `validate:"required"`
	From     FromContext
	Source   string
	Chmod    string
	Chown    *User
	Sharing  Sharing `validate:"omitempty,oneof=shared private locked"`
	ReadOnly bool
}

func (c Cache) clone() Cache {
	if c.Chown != nil {
		u := *c.Chown
		c.Chown = &u
	}
	return c
}

// Bind is a bind mount of a RUN. Bind mounts are not persisted.
type Bind struct {
	Target    string `validate:"required"`
	From      FromContext
	Source    string
	ReadWrite bool
}

// Healthcheck is the image healthcheck.
type Healthcheck struct {
	Cmd      string `validate:"required"`
	Interval string
	Timeout  string
	Start    string
	Retries  *int `validate:"omitempty,min=0"`
}

func (h *Healthcheck) clone() *Healthcheck {
	if h == nil {
		return nil
	}
	cp := *h
	if h.Retries != nil {
		r := *h.Retries
		cp.Retries = &r
	}
	return &cp
}
