// Package scheduler owns the predict-wait-capture loop that drives the
// meteord daemon. It repeatedly computes upcoming passes, filters out those
// already attempted, waits for the next eligible AOS, and hands the pass to
// the capture supervisor with the tier the fallback policy picked.
package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/strikerdlm/meteor/internal/capture"
	"github.com/strikerdlm/meteor/internal/config"
	"github.com/strikerdlm/meteor/internal/devlock"
	"github.com/strikerdlm/meteor/internal/fallback"
	"github.com/strikerdlm/meteor/internal/ledger"
	"github.com/strikerdlm/meteor/internal/metrics"
	"github.com/strikerdlm/meteor/internal/predict"
	"github.com/strikerdlm/meteor/internal/telemetry"
)

// Scheduler states, surfaced through the setState callback.
const (
	StateIdle       = "IDLE"
	StatePredicting = "PREDICTING"
	StateWaiting    = "WAITING"
	StateCapturing  = "CAPTURING"
	StateShutdown   = "SHUTTING_DOWN"
)

// PassSource produces predicted passes; implemented by predict.Predictor.
type PassSource interface {
	Predict(ctx context.Context, start, end time.Time) ([]predict.Pass, error)
}

// CaptureRunner executes one capture attempt; implemented by
// capture.Supervisor.
type CaptureRunner interface {
	Run(ctx context.Context, req capture.Request) (ledger.Attempt, error)
}

// Runner is the orchestrating control loop. The ledger and pass source are
// injected so restarts and tests share the same wiring as production.
type Runner struct {
	Cfg    config.Config
	Log    *log.Logger
	Source PassSource
	Caps   CaptureRunner
	Ledger *ledger.Store

	// DryRun reports the plan instead of capturing; neither the device
	// lock nor the ledger is touched.
	DryRun bool

	// OnEvent, when set, receives typed telemetry events (for the ws hub).
	OnEvent func(ev any)

	// cachedPasses is the most recent successful prediction, used when
	// fresh predictions keep failing.
	cachedPasses []predict.Pass

	// now is swappable for tests.
	now func() time.Time
}

// New wires a runner from concrete components.
func New(cfg config.Config, logger *log.Logger, src PassSource, caps CaptureRunner, store *ledger.Store) *Runner {
	return &Runner{
		Cfg:    cfg,
		Log:    logger,
		Source: src,
		Caps:   caps,
		Ledger: store,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run drives the loop until ctx is cancelled.
//
// Lifecycle:
//  1. PREDICTING: compute passes (with backoff, falling back to the cached
//     prediction when retries are exhausted)
//  2. filter to eligible passes not already in the ledger
//  3. WAITING: sleep until the next pass's AOS minus pre-roll, or poll
//     again after a bounded interval when nothing is eligible
//  4. CAPTURING: run the supervisor (or log the dry-run plan)
//  5. back to IDLE, immediately re-evaluate
//
// Cancellation interrupts every sleep; an in-flight capture drains through
// its own release path before Run returns.
func (r *Runner) Run(ctx context.Context, setState func(string)) {
	mode := "live"
	if r.DryRun {
		mode = "dry-run"
	}
	r.Log.Printf("scheduler: started (%s)", mode)

	for {
		if ctx.Err() != nil {
			setState(StateShutdown)
			return
		}
		setState(StateIdle)

		setState(StatePredicting)
		passes, err := r.predictWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				setState(StateShutdown)
				return
			}
			// No cache and retries exhausted this episode; keep trying.
			continue
		}

		eligible := r.Eligible(passes)
		if len(eligible) == 0 {
			setState(StateWaiting)
			r.Log.Printf("scheduler: no eligible passes, repredicting in %s",
				r.Cfg.Schedule.PollInterval())
			if !sleepOrCancel(ctx, r.Cfg.Schedule.PollInterval()) {
				setState(StateShutdown)
				return
			}
			continue
		}

		for _, pass := range eligible {
			if ctx.Err() != nil {
				setState(StateShutdown)
				return
			}

			// A long capture may have pushed us past this AOS; move on.
			if r.now().After(pass.AOS) {
				continue
			}
			// Re-check the ledger: an earlier iteration may have
			// recorded this pass.
			if r.Ledger.HasAttempt(pass.Target.Name, pass.AOS) {
				continue
			}

			setState(StateWaiting)
			plan := fallback.Select(
				r.Ledger.RecentOutcomes(pass.Target.Name, fallback.HistoryWindow),
				r.Cfg.Tiers,
			)
			if plan.Tier > 0 {
				r.Log.Printf("scheduler: warning: %s escalated to tier %d (%d Hz, %s)",
					pass.Target.Name, plan.Tier, plan.FrequencyHz, plan.Pipeline)
				metrics.FallbackEscalations.Inc()
			}

			r.announce(pass, plan)

			if !r.waitForWindow(ctx, pass) {
				setState(StateShutdown)
				return
			}

			setState(StateCapturing)
			if r.DryRun {
				r.Log.Printf("scheduler: [dry-run] would capture %s tier %d (%d Hz, %s) %s -> %s",
					pass.Target.Name, plan.Tier, plan.FrequencyHz, plan.Pipeline,
					capture.StartTime(pass.AOS, r.Cfg.Schedule.PreRoll(), r.now()).Format(time.RFC3339),
					pass.LOS.Add(r.Cfg.Schedule.PostRoll()).Format(time.RFC3339))
				continue
			}

			attempt, err := r.Caps.Run(ctx, capture.Request{Pass: pass, Plan: plan})
			switch {
			case err != nil && errors.Is(err, devlock.ErrBusy):
				// Normal contention: another holder owns the device.
				r.Log.Printf("scheduler: %v", err)
			case err != nil && errors.Is(err, context.Canceled):
				// Shutdown before the capture launched; the pass stays
				// unrecorded and the loop exits on the next check.
				r.Log.Printf("scheduler: %v", err)
			case err != nil:
				r.Log.Printf("scheduler: error: capture %s: %v", pass.Target.Name, err)
			default:
				metrics.CaptureOutcomes.WithLabelValues(string(attempt.Outcome)).Inc()
				r.emit(telemetry.CaptureFinished{
					Event:     telemetry.Event{Type: telemetry.EventCaptureFinished, TS: telemetry.NowTS()},
					Target:    attempt.Target,
					Outcome:   string(attempt.Outcome),
					Tier:      attempt.Tier,
					OutputDir: attempt.OutputDir,
				})
			}
			setState(StateIdle)
		}
	}
}

// predictWithRetry queries the pass source with exponential backoff. When
// the backoff budget is exhausted it falls back to the most recent cached
// prediction; with no cache it returns the error and the caller loops.
func (r *Runner) predictWithRetry(ctx context.Context) ([]predict.Pass, error) {
	start := r.now()
	end := start.Add(time.Duration(r.Cfg.Predict.LookaheadHours) * time.Hour)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 5 * time.Minute

	passes, err := backoff.RetryWithData(func() ([]predict.Pass, error) {
		p, err := r.Source.Predict(ctx, start, end)
		if err != nil {
			r.Log.Printf("scheduler: warning: prediction failed: %v", err)
			metrics.PredictionFailures.Inc()
			return nil, err
		}
		return p, nil
	}, backoff.WithContext(bo, ctx))

	if err == nil {
		metrics.PassesPredicted.Add(float64(len(passes)))
		r.cachedPasses = passes
		return passes, nil
	}

	if len(r.cachedPasses) > 0 {
		r.Log.Printf("scheduler: warning: using cached prediction (%d passes) after repeated failures",
			len(r.cachedPasses))
		return r.cachedPasses, nil
	}
	return nil, err
}

// Eligible filters predicted passes to those worth scheduling: future AOS,
// minimum elevation met, and no attempt already recorded for the same
// (target, AOS) key. The elevation re-check is deliberate; cached
// predictions may predate a config reload.
func (r *Runner) Eligible(passes []predict.Pass) []predict.Pass {
	now := r.now()
	var out []predict.Pass
	for _, p := range passes {
		if !p.AOS.After(now) {
			continue
		}
		if p.MaxElev < r.Cfg.Station.MinElevation {
			continue
		}
		if r.Ledger.HasAttempt(p.Target.Name, p.AOS) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// waitForWindow sleeps until AOS minus the pre-roll margin, in bounded
// chunks so cancellation stays prompt. Returns false when cancelled.
func (r *Runner) waitForWindow(ctx context.Context, pass predict.Pass) bool {
	target := pass.AOS.Add(-r.Cfg.Schedule.PreRoll())
	for {
		remaining := target.Sub(r.now())
		if remaining <= 0 {
			return true
		}
		chunk := 30 * time.Second
		if remaining < chunk {
			chunk = remaining
		}
		if !sleepOrCancel(ctx, chunk) {
			return false
		}
	}
}

func (r *Runner) announce(pass predict.Pass, plan fallback.Plan) {
	r.Log.Printf("scheduler: next pass %s AOS %s (max elev %.1f°, duration %s, tier %d)",
		pass.Target.Name, pass.AOS.Format(time.RFC3339), pass.MaxElev,
		pass.Duration.Truncate(time.Second), plan.Tier)
	r.emit(telemetry.PassScheduled{
		Event:       telemetry.Event{Type: telemetry.EventPassScheduled, TS: telemetry.NowTS()},
		Target:      pass.Target.Name,
		NoradID:     pass.Target.NoradID,
		AOS:         pass.AOS.Format(time.RFC3339),
		LOS:         pass.LOS.Format(time.RFC3339),
		MaxElev:     pass.MaxElev,
		DurationS:   int(pass.Duration.Seconds()),
		Tier:        plan.Tier,
		FrequencyHz: plan.FrequencyHz,
		Pipeline:    plan.Pipeline,
		DryRun:      r.DryRun,
	})
}

func (r *Runner) emit(ev any) {
	if r.OnEvent != nil {
		r.OnEvent(ev)
	}
}

// sleepOrCancel blocks for duration d or until the context is cancelled.
// Returns true if the sleep completed, false if interrupted.
func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
