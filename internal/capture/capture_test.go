package capture

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/strikerdlm/meteor/internal/config"
	"github.com/strikerdlm/meteor/internal/devlock"
	"github.com/strikerdlm/meteor/internal/fallback"
	"github.com/strikerdlm/meteor/internal/ledger"
	"github.com/strikerdlm/meteor/internal/predict"
)

func testSupervisor(t *testing.T, simulate bool) (*Supervisor, *devlock.Lock, *ledger.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Outputs = t.TempDir()
	cfg.Paths.Cache = t.TempDir()
	cfg.SatDump.Simulate = simulate

	logger := log.New(io.Discard, "", 0)
	lock, err := devlock.New(cfg.Paths.Cache, logger)
	if err != nil {
		t.Fatal(err)
	}
	store, err := ledger.Open(cfg.Paths.Cache, time.Duration(cfg.Predict.StepSeconds)*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	sup := New(cfg, logger, lock, store)
	return sup, lock, store
}

func testRequest(aos time.Time) Request {
	return Request{
		Pass: predict.Pass{
			Target:   predict.Targets[0],
			AOS:      aos,
			TCA:      aos.Add(5 * time.Minute),
			LOS:      aos.Add(10 * time.Minute),
			MaxElev:  62.0,
			Duration: 10 * time.Minute,
		},
		Plan: fallback.Plan{Tier: 0, FrequencyHz: 137_900_000, Pipeline: "meteor_m2-x_lrpt"},
	}
}

func TestRunSimulatedCapture(t *testing.T) {
	sup, lock, store := testSupervisor(t, true)
	req := testRequest(time.Now().UTC().Add(-time.Minute))

	attempt, err := sup.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempt.Outcome != ledger.OutcomeFrames {
		t.Fatalf("outcome = %s, want %s", attempt.Outcome, ledger.OutcomeFrames)
	}
	if attempt.OutputDir == "" {
		t.Fatal("attempt has no output directory")
	}
	if _, err := os.Stat(filepath.Join(attempt.OutputDir, "dataset.json")); err != nil {
		t.Errorf("simulated artifacts missing: %v", err)
	}

	recent := store.Recent(req.Pass.Target.Name, 10)
	if len(recent) != 1 {
		t.Fatalf("ledger has %d attempts, want 1", len(recent))
	}
	if recent[0].Outcome != ledger.OutcomeFrames {
		t.Errorf("recorded outcome = %s, want %s", recent[0].Outcome, ledger.OutcomeFrames)
	}

	// The lock must be free again after the run.
	if holder := lock.Holder(); holder != nil {
		t.Errorf("device lock still held by %s after capture", holder.HolderID)
	}
}

func TestRunBusyDeviceSkipsWithoutLedgerWrite(t *testing.T) {
	sup, lock, store := testSupervisor(t, true)

	tok, err := lock.Acquire(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release(tok)

	req := testRequest(time.Now().UTC().Add(-time.Minute))
	_, err = sup.Run(context.Background(), req)
	if !errors.Is(err, devlock.ErrBusy) {
		t.Fatalf("Run with held lock: err = %v, want ErrBusy", err)
	}
	if got := store.Recent(req.Pass.Target.Name, 10); len(got) != 0 {
		t.Errorf("busy skip wrote %d ledger attempts, want 0", len(got))
	}
}

func TestRunProcessFailureReleasesLock(t *testing.T) {
	sup, lock, store := testSupervisor(t, false)
	sup.Cfg.SatDump.Path = "false" // exits nonzero immediately

	req := testRequest(time.Now().UTC().Add(-time.Minute))
	attempt, err := sup.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempt.Outcome != ledger.OutcomeProcessError {
		t.Fatalf("outcome = %s, want %s", attempt.Outcome, ledger.OutcomeProcessError)
	}
	if holder := lock.Holder(); holder != nil {
		t.Errorf("device lock still held after failed capture")
	}
	if got := store.Recent(req.Pass.Target.Name, 10); len(got) != 1 {
		t.Errorf("ledger has %d attempts, want 1", len(got))
	}
}

func TestRunDrainsInFlightCaptureOnCancel(t *testing.T) {
	sup, lock, store := testSupervisor(t, false)

	// A stand-in recorder that outlives the cancellation and then writes
	// its product, like a real session running to its own timeout.
	script := filepath.Join(t.TempDir(), "satdump")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 2\ntouch capture.cadu\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	sup.Cfg.SatDump.Path = script

	req := testRequest(time.Now().UTC().Add(-time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(500 * time.Millisecond)
		cancel()
	}()

	started := time.Now()
	attempt, err := sup.Run(ctx, req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(started); elapsed < 1500*time.Millisecond {
		t.Errorf("capture returned after %s; cancellation killed the process instead of draining it", elapsed)
	}
	if attempt.Outcome != ledger.OutcomeFrames {
		t.Errorf("outcome = %s, want %s", attempt.Outcome, ledger.OutcomeFrames)
	}
	if got := store.Recent(req.Pass.Target.Name, 10); len(got) != 1 {
		t.Errorf("ledger has %d attempts, want 1", len(got))
	}
	if holder := lock.Holder(); holder != nil {
		t.Errorf("device lock still held after drained capture")
	}
}

func TestRunCancelledBeforeStartLeavesNoRecord(t *testing.T) {
	sup, lock, store := testSupervisor(t, true)

	// AOS an hour out, so Run parks in the pre-roll wait.
	req := testRequest(time.Now().UTC().Add(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := sup.Run(ctx, req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: err = %v, want context.Canceled", err)
	}

	// Nothing was launched: the pass keeps its identity key for the next
	// daemon start, the lock is free, and no output dir is left behind.
	if store.HasAttempt(req.Pass.Target.Name, req.Pass.AOS) {
		t.Error("pre-launch cancellation consumed the pass identity key")
	}
	if got := store.Recent(req.Pass.Target.Name, 10); len(got) != 0 {
		t.Errorf("ledger has %d attempts, want 0", len(got))
	}
	if holder := lock.Holder(); holder != nil {
		t.Errorf("device lock still held after cancelled wait")
	}
	entries, err := os.ReadDir(sup.Cfg.Paths.Outputs)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("output dir not cleaned up: %v", entries)
	}
}

func TestStartTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	preRoll := 2 * time.Minute

	future := now.Add(10 * time.Minute)
	if got := StartTime(future, preRoll, now); !got.Equal(future.Add(-preRoll)) {
		t.Errorf("future AOS: start = %v, want %v", got, future.Add(-preRoll))
	}

	// AOS inside the pre-roll window clamps to now.
	imminent := now.Add(30 * time.Second)
	if got := StartTime(imminent, preRoll, now); !got.Equal(now) {
		t.Errorf("imminent AOS: start = %v, want now", got)
	}

	past := now.Add(-time.Minute)
	if got := StartTime(past, preRoll, now); !got.Equal(now) {
		t.Errorf("past AOS: start = %v, want now", got)
	}
}

func TestHardTimeout(t *testing.T) {
	got := HardTimeout(12*time.Minute, 2*time.Minute, 2*time.Minute)
	if want := 16 * time.Minute; got != want {
		t.Errorf("HardTimeout = %v, want %v", got, want)
	}
}

func TestBuildArgs(t *testing.T) {
	cfg := config.Default()
	sd := cfg.SatDump
	plan := fallback.Plan{Tier: 1, FrequencyHz: 137_100_000, Pipeline: "meteor_m2-x_lrpt_80k"}

	args := BuildArgs(sd, cfg.Schedule, plan, "/tmp/out", 10*time.Minute)

	if args[0] != "live" || args[1] != plan.Pipeline || args[2] != "/tmp/out" {
		t.Fatalf("args prefix = %v", args[:3])
	}
	joined := " " + strings.Join(args, " ") + " "
	for _, want := range []string{
		" --source rtlsdr ",
		" --samplerate 1024000 ",
		" --frequency 137100000 ",
		" --timeout 780 ", // 600s pass + 240s margins - 60s grace
		" --no-agc ",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %v", strings.TrimSpace(want), args)
		}
	}
	if strings.Contains(joined, "--bias") {
		t.Errorf("bias tee disabled but --bias present: %v", args)
	}
	if strings.Contains(joined, "--http_server") {
		t.Errorf("no http bind configured but --http_server present: %v", args)
	}

	sd.BiasTee = true
	sd.EnableAGC = true
	sd.HTTPBind = "0.0.0.0:8081"
	args = BuildArgs(sd, cfg.Schedule, plan, "/tmp/out", 10*time.Minute)
	joined = " " + strings.Join(args, " ") + " "
	if !strings.Contains(joined, " --bias ") {
		t.Errorf("bias tee enabled but --bias missing: %v", args)
	}
	if strings.Contains(joined, "--no-agc") {
		t.Errorf("AGC enabled but --no-agc present: %v", args)
	}
	if !strings.Contains(joined, " --http_server 0.0.0.0:8081 ") {
		t.Errorf("http bind configured but --http_server missing: %v", args)
	}
}

func TestBuildArgsTimeoutTracksMargins(t *testing.T) {
	cfg := config.Default()
	cfg.Schedule.PreRollSeconds = 300
	cfg.Schedule.PostRollSeconds = 300
	plan := fallback.Plan{Tier: 0, FrequencyHz: 137_900_000, Pipeline: "meteor_m2-x_lrpt"}

	// 600s pass + 600s margins - 60s grace keeps the subprocess timeout
	// inside the 1200s supervision deadline.
	args := BuildArgs(cfg.SatDump, cfg.Schedule, plan, "/tmp/out", 10*time.Minute)
	joined := " " + strings.Join(args, " ") + " "
	if !strings.Contains(joined, " --timeout 1140 ") {
		t.Errorf("args = %v, want --timeout 1140", args)
	}

	// Degenerate margins never push the timeout below the pass itself.
	cfg.Schedule.PreRollSeconds = 0
	cfg.Schedule.PostRollSeconds = 0
	args = BuildArgs(cfg.SatDump, cfg.Schedule, plan, "/tmp/out", 30*time.Second)
	joined = " " + strings.Join(args, " ") + " "
	if !strings.Contains(joined, " --timeout 30 ") {
		t.Errorf("args = %v, want --timeout 30", args)
	}
}
