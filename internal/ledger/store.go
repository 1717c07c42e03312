package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// windowSize bounds how many attempts are retained per target. The fallback
// policy only needs the most recent few; keeping a small rolling window
// keeps the file trivially small to rewrite.
const windowSize = 8

// Store persists capture attempts to a single JSON document under the cache
// directory. Writes go through a temp file and rename so a crash never
// leaves a half-written ledger. Safe for concurrent use, though the
// single-device design means there is only ever one writer at a time.
type Store struct {
	path string
	step time.Duration

	mu       sync.Mutex
	attempts map[string][]Attempt // keyed by target, ordered by AOS
}

// Open loads the ledger from dir (creating the directory if needed).
// A missing file is an empty ledger; a corrupt file is an error so the
// caller can decide whether to discard history.
func Open(dir string, step time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	s := &Store{
		path:     filepath.Join(dir, "attempts.json"),
		step:     step,
		attempts: make(map[string][]Attempt),
	}

	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if err := json.Unmarshal(b, &s.attempts); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", s.path, err)
	}

	for target := range s.attempts {
		sort.Slice(s.attempts[target], func(i, j int) bool {
			return s.attempts[target][i].AOS.Before(s.attempts[target][j].AOS)
		})
	}

	return s, nil
}

// Append records a finalized attempt and persists the ledger. Entries per
// target stay ordered by AOS; only the most recent windowSize survive.
func (s *Store) Append(a Attempt) error {
	if !a.Outcome.Valid() {
		return fmt.Errorf("invalid outcome %q", a.Outcome)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.attempts[a.Target], a)
	sort.Slice(list, func(i, j int) bool {
		return list[i].AOS.Before(list[j].AOS)
	})
	if len(list) > windowSize {
		list = list[len(list)-windowSize:]
	}
	s.attempts[a.Target] = list

	return s.persist()
}

// Recent returns up to k of the most recent attempts for target, oldest
// first.
func (s *Store) Recent(target string, k int) []Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.attempts[target]
	if len(list) > k {
		list = list[len(list)-k:]
	}
	out := make([]Attempt, len(list))
	copy(out, list)
	return out
}

// RecentOutcomes returns the outcomes of the most recent k attempts for
// target, oldest first. This is the fallback policy's input.
func (s *Store) RecentOutcomes(target string, k int) []Outcome {
	attempts := s.Recent(target, k)
	outcomes := make([]Outcome, len(attempts))
	for i, a := range attempts {
		outcomes[i] = a.Outcome
	}
	return outcomes
}

// HasAttempt reports whether an attempt with the same identity key
// (target + AOS truncated to the sampling step) is already recorded.
// The scheduler uses this to stay idempotent across restarts.
func (s *Store) HasAttempt(target string, aos time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := Key(target, aos, s.step)
	for _, a := range s.attempts[target] {
		if Key(a.Target, a.AOS, s.step) == want {
			return true
		}
	}
	return false
}

// All returns every retained attempt across targets, ordered by AOS.
func (s *Store) All() []Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Attempt
	for _, list := range s.attempts {
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AOS.Before(out[j].AOS)
	})
	return out
}

// persist writes the ledger atomically via a temp file and rename.
// Caller must hold s.mu.
func (s *Store) persist() error {
	b, err := json.MarshalIndent(s.attempts, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "attempts-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
