package lock

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opencontainers/go-digest"

	"github.com/dofigen/dofigen/pkg/errdefs"
	"github.com/dofigen/dofigen/pkg/model"
	"github.com/dofigen/dofigen/pkg/resource"
)

var (
	alpineDigest = digest.FromString("alpine").String()
	rustDigest   = digest.FromString("rust").String()
)

func alpineKey() model.LockKey {
	return model.LockKey{Host: "docker.io", Namespace: "library", Repository: "alpine", Tag: "3.21"}
}

func TestLoad_Missing(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), DefaultFileName))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(f.Images) != 0 || len(f.Resources) != 0 {
		t.Errorf("Expected an empty lock file, got %+v", f)
	}
}

func TestSaveAndLoad(t *testing.T) {
	pushed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	f := &File{Image: "fromImage: alpine:3.21\n"}
	f.SetTag(alpineKey(), DockerTag{Digest: alpineDigest, LastPushed: &pushed})

	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := f.Save(path); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if diff := cmp.Diff(f, got); diff != "" {
		t.Errorf("Lock file mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_InvalidDigest(t *testing.T) {
	data := []byte(`images:
  docker.io:
    library:
      alpine:
        "3.21":
          digest: md5:nope
`)
	_, err := Parse(data, "dofigen.lock")
	if !errdefs.IsKind(err, errdefs.KindDeserialize) {
		t.Fatalf("Expected a deserialize error, got: %v", err)
	}
}

func TestRetain(t *testing.T) {
	f := &File{}
	rust := model.LockKey{Host: "docker.io", Namespace: "library", Repository: "rust", Tag: "1.80"}
	ghcr := model.LockKey{Host: "ghcr.io", Namespace: "acme", Repository: "tool", Tag: "v1"}
	f.SetTag(alpineKey(), DockerTag{Digest: alpineDigest})
	f.SetTag(rust, DockerTag{Digest: rustDigest})
	f.SetTag(ghcr, DockerTag{Digest: rustDigest})

	f.Retain([]model.LockKey{alpineKey()})

	if _, ok := f.Tag(alpineKey()); !ok {
		t.Error("Expected alpine to be kept")
	}
	if _, ok := f.Tag(rust); ok {
		t.Error("Expected rust to be dropped")
	}
	if _, ok := f.Images["ghcr.io"]; ok {
		t.Error("Expected the empty ghcr.io host to be dropped")
	}
}

func TestRecordResources(t *testing.T) {
	lc := resource.NewLoadContext(resource.WithFetcher(resource.FetcherFunc(
		func(_ context.Context, r resource.Resource) (string, error) {
			return "fromImage: alpine\n", nil
		})))
	remote, err := resource.Parse("https://example.com/base.yml")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	for _, r := range []resource.Resource{remote, resource.File("local.yml")} {
		if _, err := lc.Text(context.Background(), r); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	f := &File{}
	f.RecordResources(lc)

	want := map[string]ResourceVersion{
		"https://example.com/base.yml": {
			Hash:    digest.FromString("fromImage: alpine\n").String(),
			Content: "fromImage: alpine\n",
		},
	}
	if diff := cmp.Diff(want, f.Resources); diff != "" {
		t.Errorf("Resources mismatch (-want +got):\n%s", diff)
	}
	if got := f.ResourceContents()["https://example.com/base.yml"]; got != "fromImage: alpine\n" {
		t.Errorf("Expected locked content, got %q", got)
	}
}

func TestHubResolver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/namespaces/library/repositories/alpine/tags/3.21" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"3.21","digest":"` + alpineDigest + `","tag_last_pushed":"2025-01-02T03:04:05Z"}`))
	}))
	defer server.Close()

	h := NewHubResolver(server.URL)
	defer h.Close()

	tag, err := h.Resolve(context.Background(), alpineKey())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if tag.Digest != alpineDigest {
		t.Errorf("Expected digest %s, got %s", alpineDigest, tag.Digest)
	}
	if tag.LastPushed == nil || !tag.LastPushed.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("Unexpected last pushed time %v", tag.LastPushed)
	}

	missing := alpineKey()
	missing.Repository = "nope"
	if _, err := h.Resolve(context.Background(), missing); err == nil {
		t.Error("Expected an error for an unknown repository")
	}
}

func TestChainResolver(t *testing.T) {
	var hosts []string
	record := func(d string) Resolver {
		return ResolverFunc(func(_ context.Context, key model.LockKey) (DockerTag, error) {
			hosts = append(hosts, key.Host)
			return DockerTag{Digest: d}, nil
		})
	}
	c := &ChainResolver{
		ByHost:  map[string]Resolver{DockerHubHost: record(alpineDigest)},
		Default: record(rustDigest),
	}

	hub, _ := c.Resolve(context.Background(), alpineKey())
	other, _ := c.Resolve(context.Background(), model.LockKey{Host: "ghcr.io", Repository: "tool", Tag: "v1"})
	if hub.Digest != alpineDigest || other.Digest != rustDigest {
		t.Errorf("Unexpected digests %s and %s", hub.Digest, other.Digest)
	}
	if diff := cmp.Diff([]string{"docker.io", "ghcr.io"}, hosts); diff != "" {
		t.Errorf("Hosts mismatch (-want +got):\n%s", diff)
	}
}

func pinFixture() *model.Dofigen {
	alpine := model.FromImage(model.ImageName{Path: "alpine", Tag: "3.21"})
	return &model.Dofigen{
		Builders: map[string]model.Stage{
			"build": {
				From: model.FromImage(model.ImageName{Path: "rust", Tag: "1.80"}),
				Run: model.Run{
					Run:   []string{"cargo build"},
					Cache: []model.Cache{{Target: "/cache", From: alpine}},
				},
			},
		},
		Stage: model.Stage{
			From: alpine,
			Copy: []model.CopyResource{
				&model.Copy{From: model.FromBuilder("build"), Paths: []string{"/app"}},
				&model.Copy{From: model.FromImage(model.ImageName{Path: "busybox", Digest: rustDigest}), Paths: []string{"/bin/sh"}},
			},
		},
	}
}

func TestPin(t *testing.T) {
	calls := map[string]int{}
	resolver := ResolverFunc(func(_ context.Context, key model.LockKey) (DockerTag, error) {
		calls[key.Repository]++
		return DockerTag{Digest: digest.FromString(key.Repository).String()}, nil
	})

	d := pinFixture()
	f := &File{}
	stale := model.LockKey{Host: "docker.io", Namespace: "library", Repository: "node", Tag: "22"}
	f.SetTag(stale, DockerTag{Digest: rustDigest})

	pinned, err := Pin(context.Background(), d, f, resolver, false)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got := pinned.Stage.From.Image.String(); got != "alpine:3.21@"+alpineDigest {
		t.Errorf("Expected pinned runtime image, got %s", got)
	}
	if got := pinned.Builders["build"].From.Image.Digest; got != rustDigest {
		t.Errorf("Expected pinned builder image, got %s", got)
	}
	if got := pinned.Builders["build"].Run.Cache[0].From.Image.Digest; got != alpineDigest {
		t.Errorf("Expected pinned cache source, got %s", got)
	}
	if d.Stage.From.Image.Digest != "" {
		t.Error("Expected the input description to be left untouched")
	}
	if diff := cmp.Diff(map[string]int{"alpine": 1, "rust": 1}, calls); diff != "" {
		t.Errorf("Resolver calls mismatch (-want +got):\n%s", diff)
	}
	if _, ok := f.Tag(stale); ok {
		t.Error("Expected the unused tag to be dropped")
	}
	if _, ok := f.Tag(alpineKey()); !ok {
		t.Error("Expected alpine to be recorded")
	}
}

func TestPin_UsesLockUnlessUpdating(t *testing.T) {
	f := &File{}
	f.SetTag(alpineKey(), DockerTag{Digest: rustDigest})
	d := &model.Dofigen{Stage: model.Stage{From: model.FromImage(model.ImageName{Path: "alpine", Tag: "3.21"})}}

	fresh := ResolverFunc(func(context.Context, model.LockKey) (DockerTag, error) {
		return DockerTag{Digest: alpineDigest}, nil
	})

	tests := []struct {
		name   string
		update bool
		want   string
	}{
		{name: "locked", update: false, want: rustDigest},
		{name: "update", update: true, want: alpineDigest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pinned, err := Pin(context.Background(), d, f, fresh, tt.update)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got := pinned.Stage.From.Image.Digest; got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestPin_Offline(t *testing.T) {
	_, err := Pin(context.Background(), pinFixture(), &File{}, nil, false)
	if !errdefs.IsKind(err, errdefs.KindCustom) {
		t.Fatalf("Expected an error for an unlocked image, got: %v", err)
	}

	boom := errors.New("boom")
	failing := ResolverFunc(func(context.Context, model.LockKey) (DockerTag, error) {
		return DockerTag{}, boom
	})
	if _, err := Pin(context.Background(), pinFixture(), &File{}, failing, false); !errors.Is(err, boom) {
		t.Errorf("Expected the resolver error, got: %v", err)
	}
}

func TestPin_SkipsVariables(t *testing.T) {
	d := &model.Dofigen{Stage: model.Stage{From: model.FromImage(model.ImageName{Path: "alpine", Tag: "${VERSION}"})}}
	pinned, err := Pin(context.Background(), d, &File{}, nil, false)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if pinned.Stage.From.Image.Digest != "" {
		t.Error("Expected an image with build variables to stay unpinned")
	}
}
