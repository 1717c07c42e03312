package predict

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/strikerdlm/meteor/internal/config"
)

// Pass describes a single predicted overhead pass, from acquisition of
// signal (AOS) through loss of signal (LOS).
type Pass struct {
	Target   Target
	AOS      time.Time
	TCA      time.Time // time of closest approach (peak elevation)
	LOS      time.Time
	MaxElev  float64
	Duration time.Duration
}

// Predictor fetches current TLE data and runs SGP4 propagation to find
// upcoming passes over the configured station.
type Predictor struct {
	cfg      config.Config
	log      *log.Logger
	tleStore *TLEStore
}

// NewPredictor creates a predictor backed by a TLE store rooted in the
// configured cache directory.
func NewPredictor(cfg config.Config, logger *log.Logger) *Predictor {
	return &Predictor{
		cfg: cfg,
		log: logger,
		tleStore: NewTLEStore(
			cfg.Predict.TLEURL,
			cfg.Paths.Cache,
			time.Duration(cfg.Predict.TLEMaxAgeHours)*time.Hour,
		),
	}
}

// Predict computes passes within [start, end) whose peak elevation meets
// the configured minimum. Results are sorted by AOS ascending and
// deduplicated by (target, AOS truncated to the sampling step).
// ErrDataUnavailable propagates unchanged when no usable element set
// exists; retry policy belongs to the caller.
func (p *Predictor) Predict(ctx context.Context, start, end time.Time) ([]Pass, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("prediction window end %s not after start %s", end, start)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tles, err := p.tleStore.Fetch()
	if err != nil {
		return nil, err
	}

	step := p.cfg.Predict.StepSeconds
	var all []Pass

	for _, target := range Targets {
		tle, ok := tles[target.NoradID]
		if !ok {
			p.log.Printf("predict: no TLE for %s (NORAD %d)", target.Name, target.NoradID)
			continue
		}

		raw, err := tle.GeneratePasses(
			p.cfg.Station.Latitude, p.cfg.Station.Longitude, p.cfg.Station.Altitude,
			start, end,
			step,
		)
		if err != nil {
			p.log.Printf("predict: error computing passes for %s: %v", target.Name, err)
			continue
		}

		for _, rp := range raw {
			all = append(all, Pass{
				Target:   target,
				AOS:      rp.AOS,
				TCA:      rp.MaxElevationTime,
				LOS:      rp.LOS,
				MaxElev:  rp.MaxElevation,
				Duration: rp.Duration,
			})
		}
	}

	all = Filter(all, start, end, p.cfg.Station.MinElevation,
		time.Duration(step)*time.Second)

	p.log.Printf("predict: %d eligible passes between %s and %s",
		len(all), start.Format(time.RFC3339), end.Format(time.RFC3339))

	return all, nil
}

// Filter sorts passes by AOS, drops those outside the window or below the
// minimum elevation, and deduplicates by (target, AOS truncated to step).
// It is factored out of Predict so the pipeline is testable without SGP4.
func Filter(passes []Pass, start, end time.Time, minElev float64, step time.Duration) []Pass {
	sort.Slice(passes, func(i, j int) bool {
		return passes[i].AOS.Before(passes[j].AOS)
	})

	seen := make(map[string]bool, len(passes))
	out := passes[:0]
	for _, pass := range passes {
		if pass.MaxElev < minElev {
			continue
		}
		if pass.AOS.Before(start) || !pass.LOS.Before(end) {
			continue
		}
		if !pass.AOS.Before(pass.TCA) || !pass.TCA.Before(pass.LOS) {
			continue
		}
		key := pass.Target.Name + "@" + pass.AOS.UTC().Truncate(step).Format(time.RFC3339)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, pass)
	}
	return out
}
