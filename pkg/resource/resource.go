// Package resource loads description documents from files and URLs.
//
// A LoadContext is created for one resolution run. It caches every loaded
// text and keeps the stack of resources being resolved, which detects
// extension cycles and bounds the nesting depth.
package resource

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Kind is the kind of location a resource points to.
type Kind int

const (
	// KindFile is a filesystem path.
	KindFile Kind = iota
	// KindURL is an http(s) URL.
	KindURL
)

// Resource identifies a description by its location. It is comparable and
// used as a cache key.
type Resource struct {
	Kind     Kind
	Location string
}

// File returns a file resource with a cleaned path.
func File(p string) Resource {
	return Resource{Kind: KindFile, Location: filepath.Clean(p)}
}

// Parse classifies s as a URL or a file path.
func Parse(s string) (Resource, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Resource{}, fmt.Errorf("empty resource")
	}
	if isURL(s) {
		u, err := url.Parse(s)
		if err != nil {
			return Resource{}, fmt.Errorf("invalid resource URL %q: %w", s, err)
		}
		if u.Host == "" {
			return Resource{}, fmt.Errorf("invalid resource URL %q: missing host", s)
		}
		return Resource{Kind: KindURL, Location: u.String()}, nil
	}
	return File(s), nil
}

// Join resolves ref against r: URLs resolve as references, relative paths
// resolve against the directory of r. Absolute references are returned
// as is.
func (r Resource) Join(ref string) (Resource, error) {
	child, err := Parse(ref)
	if err != nil {
		return Resource{}, err
	}
	if child.Kind == KindURL {
		return child, nil
	}

	switch r.Kind {
	case KindURL:
		base, err := url.Parse(r.Location)
		if err != nil {
			return Resource{}, fmt.Errorf("invalid resource URL %q: %w", r.Location, err)
		}
		rel, err := url.Parse(filepath.ToSlash(strings.TrimSpace(ref)))
		if err != nil {
			return Resource{}, fmt.Errorf("invalid resource reference %q: %w", ref, err)
		}
		return Resource{Kind: KindURL, Location: base.ResolveReference(rel).String()}, nil
	default:
		if filepath.IsAbs(child.Location) || r.Location == "" {
			return child, nil
		}
		return File(filepath.Join(filepath.Dir(r.Location), child.Location)), nil
	}
}

// Ext returns the lowercase extension of the resource, without query.
func (r Resource) Ext() string {
	loc := r.Location
	if r.Kind == KindURL {
		if u, err := url.Parse(loc); err == nil {
			loc = u.Path
		}
	}
	return strings.ToLower(path.Ext(loc))
}

// String returns the location.
func (r Resource) String() string {
	return r.Location
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
