// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/invowk/upkeep/internal/store"
	"github.com/invowk/upkeep/internal/testutil"
)

// fakeSource is a ReleaseSource returning a fixed release and counting calls.
type fakeSource struct {
	mu       sync.Mutex
	release  *Release
	err      error
	calls    int
	channels []Channel
	tagged   map[string]*Release
	tags     []string
}

func (f *fakeSource) FetchLatest(_ context.Context, channel Channel) (*Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.channels = append(f.channels, channel)
	if f.err != nil {
		return nil, f.err
	}
	r := *f.release
	return &r, nil
}

func (f *fakeSource) GetReleaseByTag(_ context.Context, tag string) (*Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, tag)
	r, ok := f.tagged[tag]
	if !ok {
		return nil, fmt.Errorf("getting release %s: %w", tag, ErrReleaseNotFound)
	}
	out := *r
	return &out, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) SetRelease(r *Release) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.release = r
}

func TestReleaseCache_HitMissAndExpiry(t *testing.T) {
	t.Parallel()

	clk := testutil.NewFakeClock(time.Time{})
	mem := store.NewMemory(clk)
	src := &fakeSource{release: &Release{TagName: "v1.0.0"}}
	cache := NewReleaseCache(src, mem, testRepo, ChannelStable, clk, nil)
	ctx := context.Background()

	if _, err := cache.GetLatestRelease(ctx, false); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	src.SetRelease(&Release{TagName: "v1.1.0"})

	clk.Advance(59 * time.Second)
	got, err := cache.GetLatestRelease(ctx, false)
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if got.TagName != "v1.0.0" || src.Calls() != 1 {
		t.Errorf("expected cached v1.0.0 after 1 call, got %s after %d calls", got.TagName, src.Calls())
	}

	clk.Advance(2 * time.Second)
	got, err = cache.GetLatestRelease(ctx, false)
	if err != nil {
		t.Fatalf("expired fetch: %v", err)
	}
	if got.TagName != "v1.1.0" || src.Calls() != 2 {
		t.Errorf("expected fresh v1.1.0 after 2 calls, got %s after %d calls", got.TagName, src.Calls())
	}
}

func TestReleaseCache_ForceRefresh(t *testing.T) {
	t.Parallel()

	clk := testutil.NewFakeClock(time.Time{})
	mem := store.NewMemory(clk)
	src := &fakeSource{release: &Release{TagName: "v1.0.0"}}
	cache := NewReleaseCache(src, mem, testRepo, ChannelStable, clk, nil)
	ctx := context.Background()

	if _, err := cache.GetLatestRelease(ctx, false); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	src.SetRelease(&Release{TagName: "v2.0.0"})

	got, err := cache.GetLatestRelease(ctx, true)
	if err != nil {
		t.Fatalf("forced fetch: %v", err)
	}
	if got.TagName != "v2.0.0" || src.Calls() != 2 {
		t.Errorf("force refresh must bypass the cache; got %s after %d calls", got.TagName, src.Calls())
	}

	if _, err := cache.GetLatestRelease(ctx, false); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if src.Calls() != 2 {
		t.Errorf("forced result should be cached; got %d calls", src.Calls())
	}
}

func TestReleaseCache_ErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	clk := testutil.NewFakeClock(time.Time{})
	mem := store.NewMemory(clk)
	src := &fakeSource{err: errors.New("boom")}
	cache := NewReleaseCache(src, mem, testRepo, ChannelStable, clk, nil)

	for range 2 {
		if _, err := cache.GetLatestRelease(context.Background(), false); err == nil {
			t.Fatal("expected error")
		}
	}
	if src.Calls() != 2 {
		t.Errorf("got %d calls, want 2", src.Calls())
	}
}

func TestReleaseCacheKey(t *testing.T) {
	t.Parallel()

	a := ReleaseCacheKey(testRepo, ChannelStable)
	if !strings.HasPrefix(a, "release:") || len(a) != len("release:")+16 {
		t.Errorf("unexpected key shape %q", a)
	}
	if a != ReleaseCacheKey(Repository{Owner: "acme", Name: "widget"}, ChannelStable) {
		t.Error("key must be deterministic")
	}
	if a == ReleaseCacheKey(testRepo, ChannelPrerelease) {
		t.Error("channels must not share a key")
	}
	if a == ReleaseCacheKey(Repository{Owner: "acme", Name: "gadget"}, ChannelStable) {
		t.Error("repositories must not share a key")
	}
}
