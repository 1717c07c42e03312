// Package ledger is the durable record of capture attempts. The scheduler
// consults it to avoid re-scheduling passes after a restart, and the fallback
// policy reads the recent outcomes per satellite to pick the next
// frequency/pipeline tier.
package ledger

import (
	"time"
)

// Outcome classifies how a capture attempt ended. The set is closed; every
// consumer switches over it exhaustively.
type Outcome string

const (
	// OutcomeLocked means the demodulator locked but the attempt was cut
	// short (shutdown drain) before any product appeared.
	OutcomeLocked Outcome = "locked"
	// OutcomeFrames means valid frames/products were produced.
	OutcomeFrames Outcome = "frames-produced"
	// OutcomeNoLock means the process ran but the demodulator never locked.
	OutcomeNoLock Outcome = "no-lock"
	// OutcomeNoFrames means the demodulator locked but no valid frames
	// were produced.
	OutcomeNoFrames Outcome = "no-frames"
	// OutcomeProcessError means the process exited nonzero and nothing
	// more specific applies, or the supervisor itself faulted.
	OutcomeProcessError Outcome = "process-error"
	// OutcomeTimeout means the hard timeout fired and the process was
	// forcibly terminated.
	OutcomeTimeout Outcome = "timeout"
)

// Valid reports whether o is one of the defined outcome tags.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeLocked, OutcomeFrames, OutcomeNoLock, OutcomeNoFrames,
		OutcomeProcessError, OutcomeTimeout:
		return true
	}
	return false
}

// Failure reports whether o counts as a failure for fallback escalation.
func (o Outcome) Failure() bool {
	switch o {
	case OutcomeNoLock, OutcomeNoFrames, OutcomeProcessError, OutcomeTimeout:
		return true
	case OutcomeLocked, OutcomeFrames:
		return false
	}
	return false
}

// Attempt is one capture attempt, immutable once appended. Target plus the
// scheduled AOS form its identity key.
type Attempt struct {
	Target      string    `json:"target"`
	AOS         time.Time `json:"aos"`
	FrequencyHz int       `json:"frequency_hz"`
	Pipeline    string    `json:"pipeline"`
	Tier        int       `json:"tier"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Outcome     Outcome   `json:"outcome"`
	OutputDir   string    `json:"output_dir"`
}

// Key returns the dedup identity of the attempt. AOS is truncated to the
// prediction sampling step so a re-predicted pass with a slightly shifted
// AOS still matches its recorded attempt.
func Key(target string, aos time.Time, step time.Duration) string {
	if step <= 0 {
		step = time.Second
	}
	return target + "@" + aos.UTC().Truncate(step).Format(time.RFC3339)
}
