package resource

import (
	"context"
	"slices"

	"github.com/rs/zerolog"

	"github.com/dofigen/dofigen/pkg/errdefs"
)

// MaxDepth bounds the resource load stack.
const MaxDepth = 10

// Source tells where a loaded text came from.
type Source string

const (
	SourceFetch Source = "fetch"
	SourceCache Source = "cache"
	SourceLock  Source = "lock"
)

// LoadContext owns the load stack and the content cache of one resolution
// run. It must not be shared between independent runs.
type LoadContext struct {
	fetcher Fetcher
	logger  zerolog.Logger
	locked  map[string]string
	observe func(r Resource, src Source)

	stack []Resource
	cache map[Resource]string
	used  []Resource
}

// Option configures a LoadContext.
type Option func(*LoadContext)

// WithFetcher replaces the default fetcher.
func WithFetcher(f Fetcher) Option {
	return func(lc *LoadContext) {
		lc.fetcher = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(lc *LoadContext) {
		lc.logger = logger.With().Str("component", "resource-loader").Logger()
	}
}

// WithLockedContent serves URL resources from a previous lock file instead
// of fetching them.
func WithLockedContent(content map[string]string) Option {
	return func(lc *LoadContext) {
		lc.locked = content
	}
}

// WithObserver registers a callback invoked for every text returned.
func WithObserver(fn func(r Resource, src Source)) Option {
	return func(lc *LoadContext) {
		lc.observe = fn
	}
}

// NewLoadContext creates an empty load context.
func NewLoadContext(opts ...Option) *LoadContext {
	lc := &LoadContext{
		logger: zerolog.Nop(),
		cache:  make(map[Resource]string),
	}
	for _, opt := range opts {
		opt(lc)
	}
	if lc.fetcher == nil {
		lc.fetcher = NewDefaultFetcher()
	}
	return lc
}

// Load pushes r onto the load stack, reads its text and calls fn with it.
// The stack is popped when Load returns, on every path. Loading a resource
// that is already on the stack fails with a circular dependency error and
// nesting deeper than MaxDepth fails with a max depth error; both list the
// chain.
func (lc *LoadContext) Load(ctx context.Context, r Resource, fn func(text string) error) error {
	if err := lc.push(r); err != nil {
		return err
	}
	defer lc.pop()

	text, err := lc.Text(ctx, r)
	if err != nil {
		return err
	}
	return fn(text)
}

func (lc *LoadContext) push(r Resource) error {
	if slices.Contains(lc.stack, r) {
		return errdefs.CircularDependency(lc.chain(r))
	}
	if len(lc.stack) >= MaxDepth {
		return errdefs.MaxDepthExceeded(MaxDepth, lc.chain(r))
	}
	lc.stack = append(lc.stack, r)
	return nil
}

func (lc *LoadContext) pop() {
	lc.stack = lc.stack[:len(lc.stack)-1]
}

func (lc *LoadContext) chain(next Resource) []string {
	chain := make([]string, 0, len(lc.stack)+1)
	for _, r := range lc.stack {
		chain = append(chain, r.String())
	}
	return append(chain, next.String())
}

// Text returns the text of r from the cache, the locked content or the
// fetcher, without touching the load stack.
func (lc *LoadContext) Text(ctx context.Context, r Resource) (string, error) {
	if text, ok := lc.cache[r]; ok {
		lc.notify(r, SourceCache)
		return text, nil
	}

	src := SourceFetch
	text, ok := "", false
	if r.Kind == KindURL && lc.locked != nil {
		text, ok = lc.locked[r.Location]
		src = SourceLock
	}
	if !ok {
		var err error
		src = SourceFetch
		text, err = lc.fetcher.Fetch(ctx, r)
		if err != nil {
			return "", err
		}
	}

	lc.logger.Debug().
		Str("resource", r.String()).
		Str("source", string(src)).
		Int("depth", len(lc.stack)).
		Msg("Resource loaded")

	lc.cache[r] = text
	lc.used = append(lc.used, r)
	lc.notify(r, src)
	return text, nil
}

func (lc *LoadContext) notify(r Resource, src Source) {
	if lc.observe != nil {
		lc.observe(r, src)
	}
}

// Depth returns the current size of the load stack.
func (lc *LoadContext) Depth() int {
	return len(lc.stack)
}

// Used returns every resource loaded during the run, in load order.
func (lc *LoadContext) Used() []Resource {
	return slices.Clone(lc.used)
}

// Content returns the cached text of r.
func (lc *LoadContext) Content(r Resource) (string, bool) {
	text, ok := lc.cache[r]
	return text, ok
}
