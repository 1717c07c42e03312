package predict

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOrFetchFromNetwork(t *testing.T) {
	const body = "METEOR-M2 3\n1 57166U ...\n2 57166 ...\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	dir := t.TempDir()
	s := NewTLEStore(server.URL, dir, 6*time.Hour)

	got, err := s.loadOrFetch(filepath.Join(dir, tleCacheFile))
	if err != nil {
		t.Fatalf("loadOrFetch: %v", err)
	}
	if got != body {
		t.Errorf("body mismatch: got %d bytes, want %d", len(got), len(body))
	}

	// The fetch must have populated the disk cache.
	cached, err := os.ReadFile(filepath.Join(dir, tleCacheFile))
	if err != nil {
		t.Fatalf("cache not written: %v", err)
	}
	if string(cached) != body {
		t.Error("cache content differs from fetched body")
	}
}

func TestLoadOrFetchPrefersFreshCache(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("network copy"))
	}))
	defer server.Close()

	dir := t.TempDir()
	cachePath := filepath.Join(dir, tleCacheFile)
	if err := os.WriteFile(cachePath, []byte("cached copy"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewTLEStore(server.URL, dir, 6*time.Hour)
	got, err := s.loadOrFetch(cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if got != "cached copy" {
		t.Errorf("expected fresh cache to win, got %q", got)
	}
	if hits != 0 {
		t.Errorf("network should not be hit with a fresh cache, got %d requests", hits)
	}
}

func TestLoadOrFetchStaleCacheUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dir := t.TempDir()
	cachePath := filepath.Join(dir, tleCacheFile)
	if err := os.WriteFile(cachePath, []byte("ancient elements"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Age the cache beyond the staleness bound.
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(cachePath, old, old); err != nil {
		t.Fatal(err)
	}

	s := NewTLEStore(server.URL, dir, 6*time.Hour)
	_, err := s.loadOrFetch(cachePath)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable for stale cache + failed fetch, got: %v", err)
	}
}

func TestLoadOrFetchNoCacheNoNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	server.Close() // refuse connections entirely

	dir := t.TempDir()
	s := NewTLEStore(server.URL, dir, 6*time.Hour)
	_, err := s.loadOrFetch(filepath.Join(dir, tleCacheFile))
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got: %v", err)
	}
}

func TestParseForTargetsNoMatches(t *testing.T) {
	s := NewTLEStore("http://unused", t.TempDir(), time.Hour)
	_, err := s.parseForTargets("NOAA 19\n1 33591U garbage\n2 33591 garbage\n")
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable when no METEOR TLEs parse, got: %v", err)
	}
}
