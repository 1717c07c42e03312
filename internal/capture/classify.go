package capture

import (
	"path/filepath"

	"github.com/strikerdlm/meteor/internal/ledger"
)

// framePatterns are the artifact globs that prove valid frames/products
// came out of the pipeline.
var framePatterns = []string{"*.cadu", "*.lrpt", "*.png", "*.jpg", "*.jpeg"}

// lockPatterns indicate the demodulator achieved carrier lock even when no
// product was written.
var lockPatterns = []string{"dataset.json", "*.soft"}

// Classify maps a finished capture to its outcome tag.
//
// Precedence: a hard timeout always classifies as timeout; produced frames
// win over everything else; a nonzero exit with nothing to show is a
// process error; carrier lock without frames is no-frames, except that a
// shutdown-drained capture that at least locked records the neutral locked
// tag; otherwise the demodulator never locked.
func Classify(outDir string, exitCode int, timedOut, cancelled bool) ledger.Outcome {
	if timedOut {
		return ledger.OutcomeTimeout
	}

	frames := anyMatch(outDir, framePatterns)
	locked := anyMatch(outDir, lockPatterns)

	switch {
	case frames:
		return ledger.OutcomeFrames
	case cancelled && locked:
		return ledger.OutcomeLocked
	case exitCode != 0:
		return ledger.OutcomeProcessError
	case locked:
		return ledger.OutcomeNoFrames
	default:
		return ledger.OutcomeNoLock
	}
}

func anyMatch(dir string, patterns []string) bool {
	for _, p := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, p))
		if err == nil && len(matches) > 0 {
			return true
		}
	}
	return false
}
