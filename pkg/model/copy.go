package model

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mattn/go-shellwords"
)

// DefaultCopyTarget is the target used when a copy names none.
const DefaultCopyTarget = "./"

// CopyOptions are shared by every CopyResource variant.
type CopyOptions struct {
	Target string
	Chown  *User
	Chmod  string
	Link   *bool
}

// CopyResource is one filesystem operation of a stage: a Copy, an
// AddGitRepo or an Add.
type CopyResource interface {
	// CopyOptions returns the shared options.
	CopyOptions() CopyOptions
	clone() CopyResource
}

// Copy copies paths from the build context, a builder or an image.
type Copy struct {
	From    FromContext
	Paths   []string `validate:"required,min=1,dive,required"`
	Options CopyOptions
	Exclude []string
	Parents *bool
}

// AddGitRepo clones a git repository.
type AddGitRepo struct {
	Repo       string `validate:"required"`
	Options    CopyOptions
	Exclude    []string
	KeepGitDir *bool
}

// Add downloads remote files.
type Add struct {
	Files    []string `validate:"required,min=1,dive,required"`
	Checksum string
	Options  CopyOptions
}

func (c *Copy) CopyOptions() CopyOptions       { return c.Options }
func (c *AddGitRepo) CopyOptions() CopyOptions { return c.Options }
func (c *Add) CopyOptions() CopyOptions        { return c.Options }

func (c *Copy) clone() CopyResource {
	cp := *c
	cp.Paths = slices.Clone(c.Paths)
	cp.Exclude = slices.Clone(c.Exclude)
	cp.Options = c.Options.clone()
	cp.Parents = cloneBool(c.Parents)
	return &cp
}

func (c *AddGitRepo) clone() CopyResource {
	cp := *c
	cp.Exclude = slices.Clone(c.Exclude)
	cp.Options = c.Options.clone()
	cp.KeepGitDir = cloneBool(c.KeepGitDir)
	return &cp
}

func (c *Add) clone() CopyResource {
	cp := *c
	cp.Files = slices.Clone(c.Files)
	cp.Options = c.Options.clone()
	return &cp
}

func (o CopyOptions) clone() CopyOptions {
	if o.Chown != nil {
		u := *o.Chown
		o.Chown = &u
	}
	o.Link = cloneBool(o.Link)
	return o
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// ParseCopyResource parses the shorthand "source... [target]" form. A git
// repository source gives an AddGitRepo, http(s) sources give an Add and
// anything else a Copy.
func ParseCopyResource(s string) (CopyResource, error) {
	fields, err := shellwords.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid copy %q: %w", s, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty copy")
	}

	sources, target := fields, ""
	if len(fields) > 1 {
		sources, target = fields[:len(fields)-1], fields[len(fields)-1]
	}
	opts := CopyOptions{Target: target}

	if IsGitRepo(sources[0]) {
		if len(sources) > 1 {
			return nil, fmt.Errorf("invalid copy %q: a git repository must be the only source", s)
		}
		return &AddGitRepo{Repo: sources[0], Options: opts}, nil
	}

	if !slices.ContainsFunc(sources, func(src string) bool { return !IsURL(src) }) {
		return &Add{Files: sources, Options: opts}, nil
	}

	return &Copy{Paths: sources, Options: opts}, nil
}

// IsURL reports whether s is an http(s) URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// IsGitRepo reports whether s designates a git repository.
func IsGitRepo(s string) bool {
	if strings.HasPrefix(s, "git@") || strings.HasPrefix(s, "git://") || strings.HasPrefix(s, "ssh://") {
		return true
	}
	if !IsURL(s) {
		return false
	}
	repo, _, _ := strings.Cut(s, "#")
	return strings.HasSuffix(repo, ".git")
}

// CloneCopyResource returns a deep copy of c.
func CloneCopyResource(c CopyResource) CopyResource {
	if c == nil {
		return nil
	}
	return c.clone()
}
