// Package devlock guards the single capture device with a filesystem lock
// token. The token is a JSON file, so exclusivity holds across process
// restarts and accidental duplicate daemon invocations, not just across
// goroutines. A token held longer than its declared maximum is presumed
// abandoned by a crashed holder and may be reclaimed.
package devlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/strikerdlm/meteor/internal/metrics"
)

// ErrBusy is returned when a non-stale lock is held by someone else.
// It is a normal scheduling condition, not a fault.
var ErrBusy = errors.New("capture device busy")

const lockFile = "capture.lock"

// Token is the on-disk lock record.
type Token struct {
	HolderID   string        `json:"holder_id"`
	AcquiredAt time.Time     `json:"acquired_at"`
	MaxHold    time.Duration `json:"max_hold_ns"`
}

// Stale reports whether the token has outlived its declared maximum hold
// as of now.
func (t Token) Stale(now time.Time) bool {
	return now.Sub(t.AcquiredAt) > t.MaxHold
}

// Lock manages the device lock file under a directory.
type Lock struct {
	path string
	log  *log.Logger
}

// New creates a lock rooted in dir. The directory is created if needed.
func New(dir string, logger *log.Logger) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &Lock{path: filepath.Join(dir, lockFile), log: logger}, nil
}

// Acquire takes the device lock, returning ErrBusy if a non-stale holder
// exists. A stale token is forcibly cleared first; reclamation is logged at
// warning level since it means the previous holder never released cleanly.
func (l *Lock) Acquire(maxHold time.Duration) (*Token, error) {
	existing, err := l.read()
	switch {
	case err == nil:
		if !existing.Stale(time.Now().UTC()) {
			return nil, fmt.Errorf("%w: held by %s since %s", ErrBusy,
				existing.HolderID, existing.AcquiredAt.Format(time.RFC3339))
		}
		l.log.Printf("devlock: warning: reclaiming stale lock (holder %s, age %s exceeds max hold %s)",
			existing.HolderID,
			time.Since(existing.AcquiredAt).Truncate(time.Second),
			existing.MaxHold)
		metrics.LockReclamations.Inc()
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("clear stale lock: %w", err)
		}
	case os.IsNotExist(err):
		// Device is free.
	default:
		l.log.Printf("devlock: warning: clearing unreadable lock token: %v", err)
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("clear corrupt lock: %w", err)
		}
	}

	tok := &Token{
		HolderID:   uuid.NewString(),
		AcquiredAt: time.Now().UTC(),
		MaxHold:    maxHold,
	}

	b, err := json.Marshal(tok)
	if err != nil {
		return nil, err
	}

	// O_EXCL makes creation atomic: if two acquirers race, exactly one
	// wins and the other sees ErrBusy.
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("create lock: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(l.path)
		return nil, fmt.Errorf("write lock: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(l.path)
		return nil, fmt.Errorf("close lock: %w", err)
	}

	return tok, nil
}

// Release removes the lock if tok still owns it. Releasing a lock that was
// already reclaimed by someone else is a no-op (the new holder's token stays
// untouched).
func (l *Lock) Release(tok *Token) {
	if tok == nil {
		return
	}
	current, err := l.read()
	if err != nil {
		return
	}
	if current.HolderID != tok.HolderID {
		l.log.Printf("devlock: warning: not releasing lock held by %s (ours was %s)",
			current.HolderID, tok.HolderID)
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.log.Printf("devlock: warning: failed to release lock: %v", err)
	}
}

// Holder returns the current token, or nil when the device is free.
func (l *Lock) Holder() *Token {
	tok, err := l.read()
	if err != nil {
		return nil
	}
	return &tok
}

func (l *Lock) read() (Token, error) {
	var tok Token
	b, err := os.ReadFile(l.path)
	if err != nil {
		return tok, err
	}
	if err := json.Unmarshal(b, &tok); err != nil {
		// An unreadable token is treated as stale garbage.
		return tok, fmt.Errorf("parse lock: %w", err)
	}
	return tok, nil
}
