package predict

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/akhenakh/sgp4"
)

// ErrDataUnavailable signals that no usable element set could be obtained:
// the network fetch failed and the disk cache is missing or older than the
// staleness bound. Callers distinguish it with errors.Is; the retry policy
// lives in the scheduler, not here.
var ErrDataUnavailable = errors.New("TLE data unavailable")

const tleCacheFile = "weather.tle"

// TLEStore fetches and caches Two-Line Element sets for the METEOR-M
// satellites. A disk cache younger than maxAge serves directly; otherwise
// the network is fetched and the cache rewritten. A cache older than maxAge
// never satisfies a request, so a failed fetch without a fresh cache means
// the data is unavailable.
type TLEStore struct {
	url      string
	cacheDir string
	maxAge   time.Duration
	client   *http.Client
}

// NewTLEStore returns a store that fetches TLEs from the given URL and
// caches them under cacheDir.
func NewTLEStore(tleURL, cacheDir string, maxAge time.Duration) *TLEStore {
	return &TLEStore{
		url:      tleURL,
		cacheDir: cacheDir,
		maxAge:   maxAge,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch returns TLEs for the METEOR-M targets, keyed by NORAD ID.
func (s *TLEStore) Fetch() (map[int]*sgp4.TLE, error) {
	cachePath := filepath.Join(s.cacheDir, tleCacheFile)

	raw, err := s.loadOrFetch(cachePath)
	if err != nil {
		return nil, err
	}

	return s.parseForTargets(raw)
}

// loadOrFetch walks the fallback chain to get raw TLE text.
func (s *TLEStore) loadOrFetch(cachePath string) (string, error) {
	// Fresh disk cache.
	info, err := os.Stat(cachePath)
	if err == nil && time.Since(info.ModTime()) < s.maxAge {
		if b, readErr := os.ReadFile(cachePath); readErr == nil && len(b) > 0 {
			return string(b), nil
		}
	}

	// Network fetch.
	body, fetchErr := s.fetchFromNetwork()
	if fetchErr == nil {
		// Cache write failure is non-fatal; we already have the data.
		_ = s.writeCache(cachePath, body)
		return body, nil
	}

	// A cache beyond the staleness bound must not be used for scheduling,
	// so a failed fetch with no fresh cache means no data.
	return "", fmt.Errorf("%w: fetch %s: %v", ErrDataUnavailable, s.url, fetchErr)
}

func (s *TLEStore) fetchFromNetwork() (string, error) {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("TLE fetch returned HTTP %d", resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// writeCache atomically writes data via a temp file and rename so readers
// never see a half-written file.
func (s *TLEStore) writeCache(cachePath, data string) error {
	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "tle-*.tmp")
	if err != nil {
		return err
	}

	if _, err := tmp.WriteString(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), cachePath)
}

// parseForTargets extracts TLEs for the METEOR-M targets from a bulk TLE
// text dump in standard 3-line format (name, line 1, line 2).
func (s *TLEStore) parseForTargets(raw string) (map[int]*sgp4.TLE, error) {
	wanted := make(map[int]bool, len(Targets))
	for _, t := range Targets {
		wanted[t.NoradID] = true
	}

	result := make(map[int]*sgp4.TLE)
	lines := strings.Split(strings.TrimSpace(raw), "\n")

	for i := 0; i+2 < len(lines); i += 3 {
		group := strings.TrimSpace(lines[i]) + "\n" +
			strings.TrimSpace(lines[i+1]) + "\n" +
			strings.TrimSpace(lines[i+2])

		tle, err := sgp4.ParseTLE(group)
		if err != nil {
			continue
		}

		if wanted[tle.SatelliteNumber] {
			result[tle.SatelliteNumber] = tle
		}
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("%w: no METEOR-M TLEs found in %d lines of input",
			ErrDataUnavailable, len(lines))
	}

	return result, nil
}
