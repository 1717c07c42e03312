// Package capture supervises a single SatDump recording session for one
// satellite pass: it takes the device lock, spawns the external process with
// the chosen frequency and pipeline, enforces the hard timeout, classifies
// the result from the exit status and output artifacts, and records the
// attempt in the ledger. The lock is released on every exit path.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/strikerdlm/meteor/internal/config"
	"github.com/strikerdlm/meteor/internal/devlock"
	"github.com/strikerdlm/meteor/internal/fallback"
	"github.com/strikerdlm/meteor/internal/ledger"
	"github.com/strikerdlm/meteor/internal/predict"
)

// ErrDeviceBusy is returned when a non-stale lock holder already owns the
// capture device. The scheduler treats this as "skip the pass", not a fault.
var ErrDeviceBusy = devlock.ErrBusy

// Request holds everything needed for one capture attempt: the pass
// geometry and the fallback plan chosen for it.
type Request struct {
	Pass predict.Pass
	Plan fallback.Plan
}

// Supervisor runs SatDump captures. When Simulate is true it fabricates
// output artifacts instead of spawning the process, so the full pipeline
// can run without SDR hardware.
type Supervisor struct {
	Cfg      config.Config
	Log      *log.Logger
	Lock     *devlock.Lock
	Ledger   *ledger.Store
	Simulate bool

	// now is swappable for tests.
	now func() time.Time
}

// New creates a supervisor bound to the given device lock and ledger.
func New(cfg config.Config, logger *log.Logger, lock *devlock.Lock, store *ledger.Store) *Supervisor {
	return &Supervisor{
		Cfg:      cfg,
		Log:      logger,
		Lock:     lock,
		Ledger:   store,
		Simulate: cfg.SatDump.Simulate,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one capture attempt end to end and returns the finalized,
// ledger-recorded attempt. ErrDeviceBusy is returned without touching the
// ledger when a non-stale holder owns the device. Any internal fault still
// releases the lock and records a process-error attempt.
func (s *Supervisor) Run(ctx context.Context, req Request) (ledger.Attempt, error) {
	tok, err := s.Lock.Acquire(s.Cfg.Schedule.LockMaxHold())
	if err != nil {
		if errors.Is(err, devlock.ErrBusy) {
			return ledger.Attempt{}, fmt.Errorf("skip %s: %w", req.Pass.Target.Name, err)
		}
		return ledger.Attempt{}, fmt.Errorf("acquire device lock: %w", err)
	}
	defer s.Lock.Release(tok)

	attempt := ledger.Attempt{
		Target:      req.Pass.Target.Name,
		AOS:         req.Pass.AOS,
		FrequencyHz: req.Plan.FrequencyHz,
		Pipeline:    req.Plan.Pipeline,
		Tier:        req.Plan.Tier,
		StartedAt:   s.now(),
	}

	outDir, err := s.createOutputDir(req.Pass)
	if err != nil {
		s.Log.Printf("capture: error: %v", err)
		attempt.Outcome = ledger.OutcomeProcessError
		attempt.EndedAt = s.now()
		return attempt, s.record(attempt)
	}
	attempt.OutputDir = outDir

	// Hold off until the pre-roll window opens, clamped to now when the
	// pass is already imminent.
	startAt := StartTime(req.Pass.AOS, s.Cfg.Schedule.PreRoll(), s.now())
	if wait := startAt.Sub(s.now()); wait > 0 {
		s.Log.Printf("capture: %s starts in %s", req.Pass.Target.Name, wait.Truncate(time.Second))
		if !sleepOrCancel(ctx, wait) {
			// Nothing was launched, so nothing is recorded: the pass
			// keeps its identity key and stays capturable after a
			// restart. The empty output dir is cleaned up.
			_ = os.Remove(outDir)
			return ledger.Attempt{}, fmt.Errorf("capture %s cancelled before start: %w",
				req.Pass.Target.Name, ctx.Err())
		}
	}

	s.Log.Printf("capture: starting %s tier %d (%d Hz, pipeline %s) -> %s",
		req.Pass.Target.Name, req.Plan.Tier, req.Plan.FrequencyHz, req.Plan.Pipeline, outDir)

	outcome := s.execute(ctx, req, outDir)
	attempt.Outcome = outcome
	attempt.EndedAt = s.now()

	s.Log.Printf("capture: %s finished with outcome %s", req.Pass.Target.Name, outcome)

	return attempt, s.record(attempt)
}

func (s *Supervisor) record(a ledger.Attempt) error {
	if err := s.Ledger.Append(a); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// execute spawns SatDump (or simulates it) and classifies the result.
func (s *Supervisor) execute(ctx context.Context, req Request, outDir string) ledger.Outcome {
	hardTimeout := HardTimeout(req.Pass.Duration, s.Cfg.Schedule.PreRoll(), s.Cfg.Schedule.PostRoll())

	if s.Simulate {
		return s.simulate(ctx, outDir)
	}

	// Daemon cancellation must not kill a recording in flight: the process
	// drains to its own timeout and only the hard deadline bounds it. A
	// second shutdown signal terminates the whole process group instead.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hardTimeout)
	defer cancel()

	args := BuildArgs(s.Cfg.SatDump, s.Cfg.Schedule, req.Plan, outDir, req.Pass.Duration)
	cmd := exec.CommandContext(runCtx, s.Cfg.SatDump.Path, args...)
	cmd.Dir = outDir

	// SatDump's own logs stay with the pass artifacts.
	logFile, err := os.Create(filepath.Join(outDir, "satdump.log"))
	if err == nil {
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	runErr := cmd.Run()

	timedOut := runCtx.Err() == context.DeadlineExceeded
	cancelled := ctx.Err() != nil && !timedOut

	exitCode := 0
	if runErr != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	return Classify(outDir, exitCode, timedOut, cancelled)
}

// simulate fabricates the artifacts of a perfect capture in a few seconds.
func (s *Supervisor) simulate(ctx context.Context, outDir string) ledger.Outcome {
	if !sleepOrCancel(ctx, 2*time.Second) {
		return ledger.OutcomeLocked
	}
	for _, name := range []string{"meteor_m2-x_lrpt.cadu", "dataset.json"} {
		if err := os.WriteFile(filepath.Join(outDir, name), []byte("simulated\n"), 0o644); err != nil {
			s.Log.Printf("capture: simulate write failed: %v", err)
			return ledger.OutcomeProcessError
		}
	}
	return Classify(outDir, 0, false, false)
}

// createOutputDir makes the timestamped per-pass directory, named by the
// scheduled AOS and the satellite.
func (s *Supervisor) createOutputDir(pass predict.Pass) (string, error) {
	ts := pass.AOS.UTC().Format("20060102_150405")
	name := ts + "_" + strings.NewReplacer(" ", "_", "/", "_").Replace(pass.Target.Name)
	dir := filepath.Join(s.Cfg.Paths.Outputs, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir %s: %w", dir, err)
	}
	return dir, nil
}

// StartTime returns AOS minus the pre-roll margin, clamped to now when the
// window has already opened.
func StartTime(aos time.Time, preRoll time.Duration, now time.Time) time.Time {
	start := aos.Add(-preRoll)
	if start.Before(now) {
		return now
	}
	return start
}

// HardTimeout is the supervision deadline: pass duration plus both margins.
func HardTimeout(duration, preRoll, postRoll time.Duration) time.Duration {
	return duration + preRoll + postRoll
}

// BuildArgs assembles the SatDump live command line. The process receives a
// fixed center frequency; Doppler correction is deliberately left to the
// demodulator.
func BuildArgs(sd config.SatDumpConfig, sched config.ScheduleConfig, plan fallback.Plan, outDir string, passDuration time.Duration) []string {
	// The subprocess timeout sits a minute inside the supervision deadline
	// so a clean exit is observed before that deadline fires.
	timeout := HardTimeout(passDuration, sched.PreRoll(), sched.PostRoll()) - time.Minute
	if timeout < passDuration {
		timeout = passDuration
	}

	args := []string{
		"live", plan.Pipeline, outDir,
		"--source", "rtlsdr",
		"--source_id", fmt.Sprintf("%d", sd.DeviceIndex),
		"--samplerate", fmt.Sprintf("%d", sd.SampleRate),
		"--frequency", fmt.Sprintf("%d", plan.FrequencyHz),
		"--gain", fmt.Sprintf("%.1f", sd.Gain),
		"--timeout", fmt.Sprintf("%d", int(timeout.Seconds())),
	}
	if sd.BiasTee {
		args = append(args, "--bias")
	}
	if !sd.EnableAGC {
		args = append(args, "--no-agc")
	}
	if sd.HTTPBind != "" {
		args = append(args, "--http_server", sd.HTTPBind)
	}
	return args
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
