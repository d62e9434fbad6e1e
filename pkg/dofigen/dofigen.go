package dofigen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dofigen/dofigen/pkg/description"
	"github.com/dofigen/dofigen/pkg/dockerfile"
	"github.com/dofigen/dofigen/pkg/errdefs"
	"github.com/dofigen/dofigen/pkg/generator"
	"github.com/dofigen/dofigen/pkg/lint"
	"github.com/dofigen/dofigen/pkg/lock"
	"github.com/dofigen/dofigen/pkg/model"
	"github.com/dofigen/dofigen/pkg/policy"
	"github.com/dofigen/dofigen/pkg/resource"
	"github.com/dofigen/dofigen/pkg/telemetry"
)

// Options controls one resolution run.
type Options struct {
	// Offline refuses network access: remote resources must come from the
	// lock file and images must already be locked.
	Offline bool

	// UpdateResources refetches remote resources instead of using the
	// locked content.
	UpdateResources bool

	// UpdateImages resolves every image again instead of using the locked
	// digests.
	UpdateImages bool

	// Strict decodes descriptions in strict mode and makes Error-level lint
	// messages fatal in Check.
	Strict bool

	// Policies lists extra Rego policy files or directories.
	Policies []string

	// HubURL overrides the Docker Hub API used to resolve docker.io images.
	HubURL string
}

// Config wires a Context. Zero fields get defaults.
type Config struct {
	Options Options

	// Lock is the lock file of the previous run. Nil gives an empty lock.
	Lock *lock.File

	// Fetcher loads resources. Nil gives a resource.DefaultFetcher that
	// honors Options.Offline.
	Fetcher resource.Fetcher

	// Resolver looks up image digests. Nil gives a lock.ChainResolver, or
	// no resolver when offline.
	Resolver lock.Resolver

	// Telemetry receives logs, spans and metrics. Nil gives telemetry.Noop.
	Telemetry *telemetry.Telemetry
}

// Context bundles the state of one resolution run. It must not be shared
// between independent runs.
type Context struct {
	opts     Options
	lc       *resource.LoadContext
	lock     *lock.File
	resolver lock.Resolver
	policies *policy.Engine
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger

	closers []io.Closer
}

// New creates a Context from cfg and loads the configured policies.
func New(ctx context.Context, cfg Config) (*Context, error) {
	c := &Context{
		opts:     cfg.Options,
		lock:     cfg.Lock,
		resolver: cfg.Resolver,
		tel:      cfg.Telemetry,
	}
	if c.tel == nil {
		c.tel = telemetry.Noop()
	}
	c.logger = c.tel.Logger.NewComponentLogger("dofigen")
	if c.lock == nil {
		c.lock = &lock.File{}
	}

	fetcher := cfg.Fetcher
	if fetcher == nil {
		f := resource.NewDefaultFetcher(resource.WithOffline(c.opts.Offline))
		c.closers = append(c.closers, f)
		fetcher = f
	}

	if c.resolver == nil && !c.opts.Offline {
		hubURL := c.opts.HubURL
		if hubURL == "" {
			hubURL = lock.DefaultHubURL
		}
		r := lock.NewChainResolver(hubURL)
		c.closers = append(c.closers, r)
		c.resolver = r
	}
	if c.opts.Offline {
		c.resolver = nil
	}

	loadOpts := []resource.Option{
		resource.WithFetcher(fetcher),
		resource.WithLogger(c.tel.Logger.Zerolog()),
		resource.WithObserver(func(r resource.Resource, src resource.Source) {
			c.tel.Metrics.RecordResourceLoaded(kindName(r), string(src))
		}),
	}
	if !c.opts.UpdateResources {
		loadOpts = append(loadOpts, resource.WithLockedContent(c.lock.ResourceContents()))
	}
	c.lc = resource.NewLoadContext(loadOpts...)

	engine, err := policy.NewEngine(c.tel.Logger.Zerolog())
	if err != nil {
		return nil, err
	}
	if len(c.opts.Policies) > 0 {
		if err := engine.LoadPolicies(ctx, c.opts.Policies); err != nil {
			return nil, err
		}
	}
	c.policies = engine

	return c, nil
}

// Close releases the HTTP clients created by New.
func (c *Context) Close() error {
	var errs []error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options returns the options of the run.
func (c *Context) Options() Options {
	return c.opts
}

// Policies returns the policy engine, to enable or disable policies.
func (c *Context) Policies() *policy.Engine {
	return c.policies
}

// Used returns every resource loaded so far, in load order.
func (c *Context) Used() []resource.Resource {
	return c.lc.Used()
}

func (c *Context) operation(ctx context.Context, phase string, r resource.Resource) *telemetry.InstrumentedContext {
	if telemetry.FromTelemetryContext(ctx) == nil {
		ctx = c.tel.WithContext(ctx)
	}
	if r.Location == "" {
		return telemetry.StartOperation(ctx, phase)
	}
	return telemetry.StartOperation(ctx, phase, telemetry.AttrResource.String(r.String()))
}

func (c *Context) decodeOptions() description.Options {
	return description.Options{Strict: c.opts.Strict}
}

// ParseFrom loads the description at r, resolves its extensions and returns
// the validated model.
func (c *Context) ParseFrom(ctx context.Context, r resource.Resource) (*model.Dofigen, error) {
	op := c.operation(ctx, "load", r)
	d, err := description.ParseResource(op.Ctx, c.lc, r, c.decodeOptions())
	op.End(err)
	if err != nil {
		return nil, err
	}
	op.Logger.WithResource(r.String()).Debugf("Description resolved with %d builders", len(d.Builders))
	return d, nil
}

// ParseText resolves a description given as text, such as standard input.
func (c *Context) ParseText(ctx context.Context, text string) (*model.Dofigen, error) {
	op := c.operation(ctx, "load", resource.File(description.StdinName))
	d, err := description.ParseString(op.Ctx, c.lc, text, c.decodeOptions())
	op.End(err)
	return d, err
}

// ParseDockerfile turns Dockerfile text into a model. Instructions that have
// no description equivalent are reported as warnings.
func (c *Context) ParseDockerfile(ctx context.Context, text string) (*model.Dofigen, []lint.Message, error) {
	op := c.operation(ctx, "parse", resource.Resource{})
	res, err := dockerfile.Parse(text)
	op.End(err)
	if err != nil {
		return nil, nil, err
	}
	for _, w := range res.Warnings {
		c.tel.Metrics.RecordLintMessage(w.Level.String())
	}
	op.Span.SetAttributes(telemetry.AttrMessages.Int(len(res.Warnings)))
	return res.Dofigen, res.Warnings, nil
}

// Lint runs the dependency linter and the enabled policies on d. Messages
// are advisory; see Check.
func (c *Context) Lint(ctx context.Context, d *model.Dofigen) ([]lint.Message, error) {
	op := c.operation(ctx, "lint", resource.Resource{})

	session := lint.Analyze(d)
	messages := session.Messages()

	violations, err := c.policies.Evaluate(op.Ctx, d)
	if err != nil {
		op.End(err)
		return nil, err
	}
	messages = append(messages, violations...)

	for _, m := range messages {
		c.tel.Metrics.RecordLintMessage(m.Level.String())
	}
	op.Span.SetAttributes(telemetry.AttrMessages.Int(len(messages)))
	op.End(nil)
	return messages, nil
}

// Check fails with the Error-level messages when the run is strict.
func (c *Context) Check(messages []lint.Message) error {
	if !c.opts.Strict {
		return nil
	}
	var errs []string
	for _, m := range messages {
		if m.Level == lint.Error {
			errs = append(errs, m.String())
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errdefs.Customf(nil, "%d lint errors:\n%s", len(errs), strings.Join(errs, "\n"))
}

// Pin returns a copy of d with every image pinned to a digest. Digests come
// from the lock file unless Options.UpdateImages is set.
func (c *Context) Pin(ctx context.Context, d *model.Dofigen) (*model.Dofigen, error) {
	op := c.operation(ctx, "lock", resource.Resource{})

	var resolver lock.Resolver
	if c.resolver != nil {
		resolver = lock.ResolverFunc(func(ctx context.Context, key model.LockKey) (lock.DockerTag, error) {
			tag, err := c.resolver.Resolve(ctx, key)
			if err != nil {
				return tag, err
			}
			c.tel.Metrics.RecordImagePinned(key.Host)
			op.Logger.WithFields(map[string]any{
				"image":  fmt.Sprintf("%s/%s/%s:%s", key.Host, key.Namespace, key.Repository, key.Tag),
				"digest": tag.Digest,
			}).Debug("Image resolved")
			return tag, nil
		})
	}

	pinned, err := lock.Pin(op.Ctx, d, c.lock, resolver, c.opts.UpdateImages)
	op.End(err)
	return pinned, err
}

// Generate renders d as a Dockerfile.
func (c *Context) Generate(ctx context.Context, d *model.Dofigen) (string, error) {
	op := c.operation(ctx, "generate", resource.Resource{})
	out, err := generator.Generate(d)
	if err == nil {
		stages := len(generator.StageOrder(d))
		c.tel.Metrics.SetGeneratedStages(stages)
		op.Span.SetAttributes(telemetry.AttrStages.Int(stages))
	}
	op.End(err)
	return out, err
}

// GenerateIgnore renders the .dockerignore content of d.
func (c *Context) GenerateIgnore(d *model.Dofigen) string {
	return generator.GenerateIgnore(d)
}

// LockFile records d and the remote resources loaded by the run in the lock
// file and returns it. d is the resolved description before pinning.
func (c *Context) LockFile(d *model.Dofigen) (*lock.File, error) {
	effective, err := c.Effective(d)
	if err != nil {
		return nil, err
	}
	c.lock.Image = effective
	c.lock.RecordResources(c.lc)
	return c.lock, nil
}

// Effective returns d serialized as a description, with every extension
// merged in.
func (c *Context) Effective(d *model.Dofigen) (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", errdefs.New(errdefs.KindFormat, "failed to encode description", err)
	}
	return string(data), nil
}

func kindName(r resource.Resource) string {
	if r.Kind == resource.KindURL {
		return "url"
	}
	return "file"
}
