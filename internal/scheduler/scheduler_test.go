package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/strikerdlm/meteor/internal/capture"
	"github.com/strikerdlm/meteor/internal/config"
	"github.com/strikerdlm/meteor/internal/ledger"
	"github.com/strikerdlm/meteor/internal/predict"
	"github.com/strikerdlm/meteor/internal/telemetry"
)

// stubSource serves one canned batch of passes, then empty predictions.
type stubSource struct {
	mu     sync.Mutex
	passes []predict.Pass
	served bool
	err    error
}

func (s *stubSource) Predict(ctx context.Context, start, end time.Time) ([]predict.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.served {
		return nil, nil
	}
	s.served = true
	return s.passes, nil
}

// stubCaps records requests and mirrors production by appending the attempt
// to the ledger, so re-checks in the loop see the pass as done.
type stubCaps struct {
	store   *ledger.Store
	outcome ledger.Outcome
	reqs    chan capture.Request
}

func (c *stubCaps) Run(ctx context.Context, req capture.Request) (ledger.Attempt, error) {
	attempt := ledger.Attempt{
		Target:      req.Pass.Target.Name,
		AOS:         req.Pass.AOS,
		FrequencyHz: req.Plan.FrequencyHz,
		Pipeline:    req.Plan.Pipeline,
		Tier:        req.Plan.Tier,
		StartedAt:   time.Now().UTC(),
		EndedAt:     time.Now().UTC(),
		Outcome:     c.outcome,
	}
	if err := c.store.Append(attempt); err != nil {
		return ledger.Attempt{}, err
	}
	c.reqs <- req
	return attempt, nil
}

func testPass(aos time.Time) predict.Pass {
	return predict.Pass{
		Target:   predict.Targets[0],
		AOS:      aos,
		TCA:      aos.Add(5 * time.Minute),
		LOS:      aos.Add(10 * time.Minute),
		MaxElev:  55.0,
		Duration: 10 * time.Minute,
	}
}

func newTestRunner(t *testing.T, src PassSource, caps CaptureRunner) (*Runner, *ledger.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Cache = t.TempDir()
	cfg.Paths.Outputs = t.TempDir()

	store, err := ledger.Open(cfg.Paths.Cache, time.Duration(cfg.Predict.StepSeconds)*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	r := New(cfg, log.New(io.Discard, "", 0), src, caps, store)
	return r, store
}

// runUntil starts the loop and returns a cancel-and-wait function.
func runUntil(t *testing.T, r *Runner) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, func(string) {})
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("scheduler did not shut down")
		}
	}
}

func TestEligible(t *testing.T) {
	r, store := newTestRunner(t, &stubSource{}, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	future := testPass(now.Add(2 * time.Hour))
	past := testPass(now.Add(-2 * time.Hour))
	low := testPass(now.Add(3 * time.Hour))
	low.MaxElev = 5.0

	got := r.Eligible([]predict.Pass{past, future, low})
	if len(got) != 1 || !got[0].AOS.Equal(future.AOS) {
		t.Fatalf("Eligible = %v, want only the future high pass", got)
	}

	// Once an attempt is recorded for the same target and AOS, a restart
	// must not schedule the pass again.
	if err := store.Append(ledger.Attempt{
		Target:    future.Target.Name,
		AOS:       future.AOS,
		StartedAt: now,
		EndedAt:   now,
		Outcome:   ledger.OutcomeFrames,
	}); err != nil {
		t.Fatal(err)
	}
	if got := r.Eligible([]predict.Pass{future}); len(got) != 0 {
		t.Fatalf("attempted pass still eligible: %v", got)
	}

	// The ledger key truncates to the sampling step, so the jitter between
	// two prediction runs does not defeat the dedup.
	jittered := future
	jittered.AOS = future.AOS.Add(3 * time.Second)
	if got := r.Eligible([]predict.Pass{jittered}); len(got) != 0 {
		t.Fatalf("jittered duplicate still eligible: %v", got)
	}
}

func TestRunCapturesAtPrimaryTier(t *testing.T) {
	src := &stubSource{passes: []predict.Pass{testPass(time.Now().UTC().Add(2 * time.Second))}}
	caps := &stubCaps{outcome: ledger.OutcomeFrames, reqs: make(chan capture.Request, 1)}
	r, store := newTestRunner(t, src, caps)
	caps.store = store

	stop := runUntil(t, r)
	defer stop()

	select {
	case req := <-caps.reqs:
		if req.Plan.Tier != 0 {
			t.Errorf("fresh history scheduled tier %d, want 0", req.Plan.Tier)
		}
		if req.Plan.FrequencyHz != 137_900_000 {
			t.Errorf("frequency = %d, want 137900000", req.Plan.FrequencyHz)
		}
		if req.Plan.Pipeline != "meteor_m2-x_lrpt" {
			t.Errorf("pipeline = %s, want meteor_m2-x_lrpt", req.Plan.Pipeline)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("capture never started")
	}
}

func TestRunEscalatesAfterFailures(t *testing.T) {
	pass := testPass(time.Now().UTC().Add(2 * time.Second))
	src := &stubSource{passes: []predict.Pass{pass}}
	caps := &stubCaps{outcome: ledger.OutcomeFrames, reqs: make(chan capture.Request, 1)}
	r, store := newTestRunner(t, src, caps)
	caps.store = store

	// A prior attempt that produced no frames pushes the next one to the
	// backup frequency.
	if err := store.Append(ledger.Attempt{
		Target:    pass.Target.Name,
		AOS:       pass.AOS.Add(-100 * time.Minute),
		StartedAt: time.Now().UTC().Add(-100 * time.Minute),
		EndedAt:   time.Now().UTC().Add(-90 * time.Minute),
		Outcome:   ledger.OutcomeNoFrames,
	}); err != nil {
		t.Fatal(err)
	}

	stop := runUntil(t, r)
	defer stop()

	select {
	case req := <-caps.reqs:
		if req.Plan.Tier != 1 {
			t.Errorf("tier = %d, want 1", req.Plan.Tier)
		}
		if req.Plan.FrequencyHz != 137_100_000 {
			t.Errorf("frequency = %d, want 137100000", req.Plan.FrequencyHz)
		}
		if req.Plan.Pipeline != "meteor_m2-x_lrpt_80k" {
			t.Errorf("pipeline = %s, want meteor_m2-x_lrpt_80k", req.Plan.Pipeline)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("capture never started")
	}
}

// failIfCalled trips the test on any capture attempt.
type failIfCalled struct{ t *testing.T }

func (f *failIfCalled) Run(ctx context.Context, req capture.Request) (ledger.Attempt, error) {
	f.t.Error("capture invoked in dry-run mode")
	return ledger.Attempt{}, errors.New("unexpected capture")
}

func TestDryRunTouchesNothing(t *testing.T) {
	pass := testPass(time.Now().UTC().Add(2 * time.Second))
	src := &stubSource{passes: []predict.Pass{pass}}
	r, store := newTestRunner(t, src, &failIfCalled{t: t})
	r.DryRun = true

	scheduled := make(chan telemetry.PassScheduled, 4)
	r.OnEvent = func(ev any) {
		if ps, ok := ev.(telemetry.PassScheduled); ok {
			scheduled <- ps
		}
	}

	stop := runUntil(t, r)
	defer stop()

	select {
	case ps := <-scheduled:
		if !ps.DryRun {
			t.Errorf("pass_scheduled event not marked dry_run: %+v", ps)
		}
		if ps.FrequencyHz != 137_900_000 {
			t.Errorf("announced frequency = %d, want 137900000", ps.FrequencyHz)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no pass was announced")
	}

	// Give the loop a moment to run the pass, then verify nothing durable
	// was written.
	time.Sleep(3 * time.Second)
	if got := store.Recent(pass.Target.Name, 10); len(got) != 0 {
		t.Errorf("dry run wrote %d ledger attempts, want 0", len(got))
	}
}

func TestPredictWithRetryFallsBackToCache(t *testing.T) {
	src := &stubSource{passes: []predict.Pass{testPass(time.Now().UTC().Add(time.Hour))}}
	r, _ := newTestRunner(t, src, nil)

	passes, err := r.predictWithRetry(context.Background())
	if err != nil {
		t.Fatalf("predictWithRetry: %v", err)
	}
	if len(passes) != 1 {
		t.Fatalf("got %d passes, want 1", len(passes))
	}

	// Upstream starts failing; a cancelled context exhausts the retry
	// budget immediately and the cached prediction is served instead.
	src.mu.Lock()
	src.err = errors.New("celestrak unreachable")
	src.mu.Unlock()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	passes, err = r.predictWithRetry(cancelled)
	if err != nil {
		t.Fatalf("expected cached fallback, got error: %v", err)
	}
	if len(passes) != 1 {
		t.Fatalf("cached fallback returned %d passes, want 1", len(passes))
	}

	// With no cache at all the error surfaces to the loop.
	r.cachedPasses = nil
	if _, err := r.predictWithRetry(cancelled); err == nil {
		t.Fatal("expected error with no cached prediction")
	}
}
