package resource

import (
	"context"
	"fmt"
	"os"
	"time"

	"resty.dev/v3"

	"github.com/dofigen/dofigen/pkg/errdefs"
)

// DefaultTimeout bounds a single HTTP fetch.
const DefaultTimeout = 30 * time.Second

// Fetcher reads the text of a resource.
type Fetcher interface {
	Fetch(ctx context.Context, r Resource) (string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, r Resource) (string, error)

// Fetch calls f(ctx, r).
func (f FetcherFunc) Fetch(ctx context.Context, r Resource) (string, error) {
	return f(ctx, r)
}

// DefaultFetcher reads files from disk and URLs over HTTP.
type DefaultFetcher struct {
	client  *resty.Client
	offline bool
}

// FetcherOption configures a DefaultFetcher.
type FetcherOption func(*DefaultFetcher)

// WithTimeout sets the HTTP timeout. Zero disables it.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *DefaultFetcher) {
		f.client.SetTimeout(d)
	}
}

// WithOffline refuses every URL fetch.
func WithOffline(offline bool) FetcherOption {
	return func(f *DefaultFetcher) {
		f.offline = offline
	}
}

// NewDefaultFetcher creates a fetcher with a dedicated HTTP client.
func NewDefaultFetcher(opts ...FetcherOption) *DefaultFetcher {
	f := &DefaultFetcher{
		client: resty.New().
			SetTimeout(DefaultTimeout).
			SetHeader("Accept", "application/yaml, application/json, text/plain, */*"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Close releases the HTTP client.
func (f *DefaultFetcher) Close() error {
	return f.client.Close()
}

// Fetch implements Fetcher.
func (f *DefaultFetcher) Fetch(ctx context.Context, r Resource) (string, error) {
	switch r.Kind {
	case KindURL:
		return f.fetchURL(ctx, r)
	default:
		data, err := os.ReadFile(r.Location)
		if err != nil {
			return "", errdefs.Customf(err, "failed to read file").WithResource(r.Location)
		}
		return string(data), nil
	}
}

func (f *DefaultFetcher) fetchURL(ctx context.Context, r Resource) (string, error) {
	if f.offline {
		return "", errdefs.Customf(nil, "cannot fetch URL in offline mode").WithResource(r.Location)
	}

	resp, err := f.client.R().SetContext(ctx).Get(r.Location)
	if err != nil {
		return "", errdefs.Customf(err, "failed to fetch URL").WithResource(r.Location)
	}
	if resp.IsError() {
		return "", errdefs.Customf(fmt.Errorf("unexpected status %s", resp.Status()), "failed to fetch URL").
			WithResource(r.Location)
	}
	return resp.String(), nil
}
