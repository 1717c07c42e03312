// Package fallback decides which frequency/pipeline tier the next capture
// attempt for a satellite should use, given the recent outcome history.
// It is a pure function: no I/O, no clock, no state.
package fallback

import (
	"github.com/strikerdlm/meteor/internal/config"
	"github.com/strikerdlm/meteor/internal/ledger"
)

// HistoryWindow is how many recent outcomes the policy inspects. Anything
// older cannot change the result once saturation is accounted for.
const HistoryWindow = 4

// Next returns the tier index for the next attempt. The history is ordered
// oldest first. Each failure outcome advances one tier, saturating at the
// last defined tier; frames-produced resets to tier 0; a locked-but-cut-short
// attempt holds the current tier. Empty history means tier 0.
func Next(history []ledger.Outcome, numTiers int) int {
	if numTiers < 1 {
		return 0
	}

	tier := 0
	for _, o := range history {
		switch {
		case o == ledger.OutcomeFrames:
			tier = 0
		case o.Failure():
			if tier < numTiers-1 {
				tier++
			}
		default:
			// locked: neither an escalation nor a success; hold the tier.
		}
	}
	return tier
}

// Plan is the concrete parameter choice for one attempt.
type Plan struct {
	Tier        int
	FrequencyHz int
	Pipeline    string
}

// Select resolves the tier index for the given history against the
// configured tier table.
func Select(history []ledger.Outcome, tiers []config.TierConfig) Plan {
	idx := Next(history, len(tiers))
	return Plan{
		Tier:        idx,
		FrequencyHz: tiers[idx].FrequencyHz,
		Pipeline:    tiers[idx].Pipeline,
	}
}
