package assets

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingStore struct {
	calls   int
	failFor int
	url     string
}

func (s *countingStore) Resolve(ctx context.Context, directory, name string) (string, error) {
	s.calls++
	if s.failFor < 0 || s.calls <= s.failFor {
		return "", errors.New("store unavailable")
	}
	return s.url, nil
}

func recordSleeps(r *Resolver) *[]time.Duration {
	var delays []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return &delays
}

func TestResolveFailsAfterExactlyMaxAttempts(t *testing.T) {
	for _, max := range []int{1, 3, 5} {
		store := &countingStore{failFor: -1}
		r := NewResolver(store, WithMaxAttempts(max))
		if r.MaxAttempts() != max {
			t.Fatalf("MaxAttempts() = %d, want %d", r.MaxAttempts(), max)
		}
		delays := recordSleeps(r)

		url, err := r.Resolve(context.Background(), Ref{Directory: "intros", Name: "calm.mp3"})
		if url != "" {
			t.Fatalf("url = %q, want empty on failure", url)
		}
		if !errors.Is(err, ErrResolutionFailed) {
			t.Fatalf("err = %v, want ErrResolutionFailed", err)
		}
		if store.calls != max {
			t.Fatalf("store calls = %d, want %d", store.calls, max)
		}
		if len(*delays) != max-1 {
			t.Fatalf("waited %d times, want %d", len(*delays), max-1)
		}
	}
}

func TestResolveBackoffIsLinear(t *testing.T) {
	store := &countingStore{failFor: -1}
	r := NewResolver(store, WithMaxAttempts(0))
	if r.MaxAttempts() != 3 {
		t.Fatalf("MaxAttempts() = %d, want default 3", r.MaxAttempts())
	}
	delays := recordSleeps(r)
	r.Resolve(context.Background(), Ref{Name: "x"})
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Fatalf("delays = %v, want %v", *delays, want)
		}
	}
}

func TestResolveSucceedsAfterTransientFailure(t *testing.T) {
	store := &countingStore{failFor: 1, url: "https://cdn.example/calm.mp3"}
	r := NewResolver(store)
	recordSleeps(r)
	url, err := r.Resolve(context.Background(), Ref{Name: "calm.mp3"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if url != store.url || store.calls != 2 {
		t.Fatalf("url=%q calls=%d, want %q after 2 calls", url, store.calls, store.url)
	}
}

func TestResolveUnreachableNeverHitsStore(t *testing.T) {
	store := &countingStore{url: "u"}
	r := NewResolver(store, WithMonitor(StaticMonitor(false)))
	delays := recordSleeps(r)
	_, err := r.Resolve(context.Background(), Ref{Name: "x"})
	if !errors.Is(err, ErrResolutionFailed) || !errors.Is(err, ErrNetworkUnreachable) {
		t.Fatalf("err = %v, want resolution failure caused by unreachable network", err)
	}
	if store.calls != 0 {
		t.Fatalf("store calls = %d, want 0", store.calls)
	}
	for _, d := range *delays {
		if d != DefaultUnreachableDelay {
			t.Fatalf("unreachable delay = %v, want %v", d, DefaultUnreachableDelay)
		}
	}
}

func TestResolveDoesNotCache(t *testing.T) {
	store := &countingStore{url: "u"}
	r := NewResolver(store)
	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), Ref{Name: "x"}); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if store.calls != 3 {
		t.Fatalf("store calls = %d, want 3", store.calls)
	}
}

func TestResolveCanceledDuringBackoff(t *testing.T) {
	store := &countingStore{failFor: -1}
	r := NewResolver(store, WithBackoffUnit(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := r.Resolve(ctx, Ref{Name: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if store.calls != 1 {
		t.Fatalf("store calls = %d, want 1", store.calls)
	}
}

func TestHTTPStoreResolvesSignedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/assets/intros/calm intro.mp3" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"url":"https://cdn.example/calm.mp3?sig=abc"}`))
	}))
	defer srv.Close()

	s := NewHTTPStore(srv.URL+"/assets/", srv.Client())
	url, err := s.Resolve(context.Background(), "intros", "calm intro.mp3")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if url != "https://cdn.example/calm.mp3?sig=abc" {
		t.Fatalf("url = %q", url)
	}
	if _, err := s.Resolve(context.Background(), "intros", "missing.mp3"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("missing asset err = %v, want status 404", err)
	}
}

func TestDirStore(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "intros"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "intros", "calm.wav"), []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := DirStore{Root: root}
	url, err := s.Resolve(context.Background(), "intros", "calm.wav")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "/intros/calm.wav") {
		t.Fatalf("url = %q", url)
	}
	if _, err := s.Resolve(context.Background(), "intros", "nope.wav"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestProbeMonitorTracksListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	m := NewProbeMonitor(addr, time.Second, zerolog.Nop())
	if !m.Probe(context.Background()) || !m.Reachable() {
		t.Fatalf("expected reachable while listening")
	}
	ln.Close()
	if m.Probe(context.Background()) || m.Reachable() {
		t.Fatalf("expected unreachable after listener closed")
	}
}
