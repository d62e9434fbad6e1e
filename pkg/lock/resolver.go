package lock

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/docker/docker/client"
	"resty.dev/v3"

	"github.com/dofigen/dofigen/pkg/errdefs"
	"github.com/dofigen/dofigen/pkg/model"
)

// DockerHubHost is the registry host of Docker Hub images.
const DockerHubHost = "docker.io"

// DefaultHubURL is the Docker Hub API endpoint.
const DefaultHubURL = "https://hub.docker.com"

// Resolver finds the current digest of an image tag.
type Resolver interface {
	Resolve(ctx context.Context, key model.LockKey) (DockerTag, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, key model.LockKey) (DockerTag, error)

// Resolve calls f(ctx, key).
func (f ResolverFunc) Resolve(ctx context.Context, key model.LockKey) (DockerTag, error) {
	return f(ctx, key)
}

// HubResolver queries the Docker Hub tag API.
type HubResolver struct {
	client *resty.Client
}

// NewHubResolver creates a resolver for the given API endpoint. An empty
// baseURL uses DefaultHubURL.
func NewHubResolver(baseURL string) *HubResolver {
	if baseURL == "" {
		baseURL = DefaultHubURL
	}
	return &HubResolver{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

// Close releases the HTTP client.
func (h *HubResolver) Close() error {
	return h.client.Close()
}

type hubTag struct {
	Digest        string    `json:"digest"`
	TagLastPushed time.Time `json:"tag_last_pushed"`
}

// Resolve implements Resolver.
func (h *HubResolver) Resolve(ctx context.Context, key model.LockKey) (DockerTag, error) {
	namespace := key.Namespace
	if namespace == "" {
		namespace = "library"
	}

	var tag hubTag
	resp, err := h.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"namespace":  namespace,
			"repository": key.Repository,
			"tag":        key.Tag,
		}).
		SetResult(&tag).
		Get("/v2/namespaces/{namespace}/repositories/{repository}/tags/{tag}")
	if err != nil {
		return DockerTag{}, errdefs.Customf(err, "failed to query Docker Hub for %s", reference(key))
	}
	if resp.IsError() {
		return DockerTag{}, errdefs.Customf(fmt.Errorf("unexpected status %s", resp.Status()),
			"failed to query Docker Hub for %s", reference(key))
	}

	out := DockerTag{Digest: tag.Digest}
	if !tag.TagLastPushed.IsZero() {
		pushed := tag.TagLastPushed.UTC()
		out.LastPushed = &pushed
	}
	if err := out.Validate(); err != nil {
		return DockerTag{}, errdefs.Customf(err, "Docker Hub returned a bad digest for %s", reference(key))
	}
	return out, nil
}

// DaemonResolver asks the local Docker daemon to inspect the registry.
type DaemonResolver struct {
	once   sync.Once
	client *client.Client
	err    error
}

// NewDaemonResolver creates a resolver using the Docker environment.
func NewDaemonResolver() *DaemonResolver {
	return &DaemonResolver{}
}

func (d *DaemonResolver) docker() (*client.Client, error) {
	d.once.Do(func() {
		d.client, d.err = client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	})
	return d.client, d.err
}

// Close releases the Docker client.
func (d *DaemonResolver) Close() error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}

// Resolve implements Resolver.
func (d *DaemonResolver) Resolve(ctx context.Context, key model.LockKey) (DockerTag, error) {
	cli, err := d.docker()
	if err != nil {
		return DockerTag{}, errdefs.Customf(err, "failed to create Docker client")
	}
	inspect, err := cli.DistributionInspect(ctx, reference(key), "")
	if err != nil {
		return DockerTag{}, errdefs.Customf(err, "failed to inspect %s", reference(key))
	}
	out := DockerTag{Digest: inspect.Descriptor.Digest.String()}
	if err := out.Validate(); err != nil {
		return DockerTag{}, errdefs.Customf(err, "the registry returned a bad digest for %s", reference(key))
	}
	return out, nil
}

// ChainResolver picks a resolver by registry host.
type ChainResolver struct {
	ByHost  map[string]Resolver
	Default Resolver
}

// NewChainResolver uses the Hub API for Docker Hub and the daemon for every
// other registry.
func NewChainResolver(hubURL string) *ChainResolver {
	return &ChainResolver{
		ByHost:  map[string]Resolver{DockerHubHost: NewHubResolver(hubURL)},
		Default: NewDaemonResolver(),
	}
}

// Resolve implements Resolver.
func (c *ChainResolver) Resolve(ctx context.Context, key model.LockKey) (DockerTag, error) {
	if r, ok := c.ByHost[key.Host]; ok {
		return r.Resolve(ctx, key)
	}
	if c.Default == nil {
		return DockerTag{}, errdefs.Customf(nil, "no resolver for registry %s", key.Host)
	}
	return c.Default.Resolve(ctx, key)
}

// Close closes every resolver that holds a client.
func (c *ChainResolver) Close() error {
	var first error
	closeOne := func(r Resolver) {
		if cl, ok := r.(interface{ Close() error }); ok {
			if err := cl.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	for _, r := range c.ByHost {
		closeOne(r)
	}
	if c.Default != nil {
		closeOne(c.Default)
	}
	return first
}

// reference renders host/namespace/repository:tag.
func reference(key model.LockKey) string {
	return path.Join(key.Host, key.Namespace, key.Repository) + ":" + key.Tag
}
