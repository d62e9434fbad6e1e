// Package lock pins the images of a description to content digests and
// records the remote resources it was built from.
//
// The lock file is a YAML document:
//
//	image: |
//	  <effective description>
//	images:
//	  docker.io:
//	    library:
//	      alpine:
//	        "3.21":
//	          digest: sha256:...
//	resources:
//	  https://example.com/base.yml:
//	    hash: sha256:...
//	    content: ...
package lock

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/dofigen/dofigen/pkg/errdefs"
	"github.com/dofigen/dofigen/pkg/model"
	"github.com/dofigen/dofigen/pkg/resource"
)

// DefaultFileName is the lock file written next to the description.
const DefaultFileName = "dofigen.lock"

// DockerTag is the locked version of an image tag.
type DockerTag struct {
	Digest     string     `yaml:"digest"`
	LastPushed *time.Time `yaml:"lastPushed,omitempty"`
}

// Validate checks the digest format.
func (t DockerTag) Validate() error {
	if _, err := digest.Parse(t.Digest); err != nil {
		return fmt.Errorf("invalid digest %q: %w", t.Digest, err)
	}
	return nil
}

// ResourceVersion is the locked text of a remote resource.
type ResourceVersion struct {
	Hash    string `yaml:"hash"`
	Content string `yaml:"content"`
}

// Tags maps tag to locked version.
type Tags map[string]DockerTag

// Repositories maps repository to tags.
type Repositories map[string]Tags

// Namespaces maps namespace to repositories.
type Namespaces map[string]Repositories

// File is the lock file.
type File struct {
	Image     string                     `yaml:"image"`
	Images    map[string]Namespaces      `yaml:"images,omitempty"`
	Resources map[string]ResourceVersion `yaml:"resources,omitempty"`
}

// Load reads a lock file. A missing file gives an empty lock.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &File{}, nil
	}
	if err != nil {
		return nil, errdefs.Customf(err, "failed to read lock file").WithResource(path)
	}
	return Parse(data, path)
}

// Parse decodes lock file data. name is used in errors.
func Parse(data []byte, name string) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errdefs.Deserialize("invalid lock file", 0, 0, err).WithResource(name)
	}
	for key, tag := range f.tags() {
		if err := tag.Validate(); err != nil {
			return nil, errdefs.Deserialize(fmt.Sprintf("invalid lock entry %s/%s/%s:%s", key.Host, key.Namespace, key.Repository, key.Tag), 0, 0, err).
				WithResource(name)
		}
	}
	return &f, nil
}

// Marshal encodes the lock file.
func (f *File) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, errdefs.New(errdefs.KindFormat, "failed to encode lock file", err)
	}
	return data, nil
}

// Save writes the lock file.
func (f *File) Save(path string) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errdefs.Customf(err, "failed to write lock file").WithResource(path)
	}
	return nil
}

// Tag returns the locked version of an image tag.
func (f *File) Tag(key model.LockKey) (DockerTag, bool) {
	tag, ok := f.Images[key.Host][key.Namespace][key.Repository][key.Tag]
	return tag, ok
}

// SetTag records the locked version of an image tag.
func (f *File) SetTag(key model.LockKey, tag DockerTag) {
	if f.Images == nil {
		f.Images = make(map[string]Namespaces)
	}
	ns, ok := f.Images[key.Host]
	if !ok {
		ns = make(Namespaces)
		f.Images[key.Host] = ns
	}
	repos, ok := ns[key.Namespace]
	if !ok {
		repos = make(Repositories)
		ns[key.Namespace] = repos
	}
	tags, ok := repos[key.Repository]
	if !ok {
		tags = make(Tags)
		repos[key.Repository] = tags
	}
	tags[key.Tag] = tag
}

// Retain drops every image tag not in keys.
func (f *File) Retain(keys []model.LockKey) {
	for key := range f.tags() {
		if slices.Contains(keys, key) {
			continue
		}
		tags := f.Images[key.Host][key.Namespace][key.Repository]
		delete(tags, key.Tag)
		if len(tags) == 0 {
			delete(f.Images[key.Host][key.Namespace], key.Repository)
		}
		if len(f.Images[key.Host][key.Namespace]) == 0 {
			delete(f.Images[key.Host], key.Namespace)
		}
		if len(f.Images[key.Host]) == 0 {
			delete(f.Images, key.Host)
		}
	}
}

func (f *File) tags() map[model.LockKey]DockerTag {
	out := make(map[model.LockKey]DockerTag)
	for host, ns := range f.Images {
		for namespace, repos := range ns {
			for repo, tags := range repos {
				for tag, v := range tags {
					out[model.LockKey{Host: host, Namespace: namespace, Repository: repo, Tag: tag}] = v
				}
			}
		}
	}
	return out
}

// ResourceContents returns the locked text of every remote resource, keyed
// by location, for resource.WithLockedContent.
func (f *File) ResourceContents() map[string]string {
	out := make(map[string]string, len(f.Resources))
	for location, v := range f.Resources {
		out[location] = v.Content
	}
	return out
}

// RecordResources replaces the locked resources with the remote resources
// loaded by lc.
func (f *File) RecordResources(lc *resource.LoadContext) {
	f.Resources = nil
	for _, r := range lc.Used() {
		if r.Kind != resource.KindURL {
			continue
		}
		text, ok := lc.Content(r)
		if !ok {
			continue
		}
		if f.Resources == nil {
			f.Resources = make(map[string]ResourceVersion)
		}
		f.Resources[r.Location] = ResourceVersion{
			Hash:    digest.FromString(text).String(),
			Content: text,
		}
	}
}
