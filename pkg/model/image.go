package model

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
)

const (
	// DefaultRegistry is the host images resolve to when none is given.
	DefaultRegistry = "docker.io"

	// DefaultTag is the tag used when an image reference has none.
	DefaultTag = "latest"
)

// ImageName is a container image reference: host[:port]/path[:tag][@digest].
type ImageName struct {
	Host   string `json:"host,omitempty" yaml:"host,omitempty"`
	Port   int    `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Path   string `json:"path" yaml:"path"`
	Tag    string `json:"tag,omitempty" yaml:"tag,omitempty"`
	Digest string `json:"digest,omitempty" yaml:"digest,omitempty"`
}

// ParseImageName parses an image reference without normalizing it, so that
// "ubuntu" stays "ubuntu". References holding build variables are split
// syntactically.
func ParseImageName(s string) (ImageName, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ImageName{}, fmt.Errorf("empty image reference")
	}

	if strings.Contains(s, "$") {
		return splitImageName(s)
	}

	ref, err := reference.Parse(s)
	if err != nil {
		return ImageName{}, fmt.Errorf("invalid image reference %q: %w", s, err)
	}

	named, ok := ref.(reference.Named)
	if !ok {
		return ImageName{}, fmt.Errorf("image reference %q has no name", s)
	}

	img, err := splitName(named.Name())
	if err != nil {
		return ImageName{}, err
	}
	if tagged, ok := ref.(reference.Tagged); ok {
		img.Tag = tagged.Tag()
	}
	if digested, ok := ref.(reference.Digested); ok {
		img.Digest = digested.Digest().String()
	}
	return img, nil
}

// MustParseImageName is like ParseImageName but panics on error.
func MustParseImageName(s string) ImageName {
	img, err := ParseImageName(s)
	if err != nil {
		panic(err)
	}
	return img
}

// splitImageName splits a reference that cannot be validated.
func splitImageName(s string) (ImageName, error) {
	var img ImageName
	name := s
	if i := strings.Index(name, "@"); i >= 0 {
		img.Digest = name[i+1:]
		name = name[:i]
	}
	if i := strings.LastIndex(name, ":"); i > strings.LastIndex(name, "/") {
		img.Tag = name[i+1:]
		name = name[:i]
	}
	parsed, err := splitName(name)
	if err != nil {
		return ImageName{}, err
	}
	parsed.Tag, parsed.Digest = img.Tag, img.Digest
	return parsed, nil
}

// splitName separates the registry host from the repository path using the
// docker heuristic: the first component is a host when it looks like one.
func splitName(name string) (ImageName, error) {
	var img ImageName
	first, rest, found := strings.Cut(name, "/")
	if found && (strings.ContainsAny(first, ".:") || first == "localhost") {
		host, port, hasPort := strings.Cut(first, ":")
		img.Host = host
		if hasPort {
			p, err := strconv.Atoi(port)
			if err != nil && !strings.Contains(port, "$") {
				return ImageName{}, fmt.Errorf("invalid registry port %q", port)
			}
			img.Port = p
		}
		img.Path = rest
	} else {
		img.Path = name
	}
	return img, nil
}

// String renders the reference exactly as it would appear in a Dockerfile.
func (i ImageName) String() string {
	var sb strings.Builder
	if i.Host != "" {
		sb.WriteString(i.Host)
		if i.Port > 0 {
			sb.WriteString(":")
			sb.WriteString(strconv.Itoa(i.Port))
		}
		sb.WriteString("/")
	}
	sb.WriteString(i.Path)
	if i.Tag != "" {
		sb.WriteString(":")
		sb.WriteString(i.Tag)
	}
	if i.Digest != "" {
		sb.WriteString("@")
		sb.WriteString(i.Digest)
	}
	return sb.String()
}

// IsZero reports whether no image is set.
func (i ImageName) IsZero() bool {
	return i.Path == ""
}

// ValidateDigest checks that the digest, when set, is well formed.
func (i ImageName) ValidateDigest() error {
	if i.Digest == "" {
		return nil
	}
	if err := digest.Digest(i.Digest).Validate(); err != nil {
		return fmt.Errorf("image %s: %w", i.Path, err)
	}
	return nil
}

// LockKey identifies an image tag in the lock file.
type LockKey struct {
	Host       string
	Namespace  string
	Repository string
	Tag        string
}

// LockKey returns the normalized registry coordinates of the image.
func (i ImageName) LockKey() (LockKey, error) {
	name := i.Path
	if i.Host != "" {
		host := i.Host
		if i.Port > 0 {
			host += ":" + strconv.Itoa(i.Port)
		}
		name = host + "/" + i.Path
	}

	named, err := reference.ParseNormalizedNamed(name)
	if err != nil {
		return LockKey{}, fmt.Errorf("invalid image reference %q: %w", name, err)
	}

	p := reference.Path(named)
	key := LockKey{
		Host:       reference.Domain(named),
		Namespace:  path.Dir(p),
		Repository: path.Base(p),
		Tag:        i.Tag,
	}
	if key.Namespace == "." {
		key.Namespace = ""
	}
	if key.Tag == "" {
		key.Tag = DefaultTag
	}
	return key, nil
}
