package app

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/strikerdlm/meteor/internal/config"
	"github.com/strikerdlm/meteor/internal/scheduler"
)

func TestRunWaitsForSchedulerDrain(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.Cache = t.TempDir()
	cfg.Paths.Outputs = t.TempDir()
	cfg.SatDump.Simulate = true

	// A dead TLE endpoint so predictions fail fast instead of reaching out
	// to the network.
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg.Predict.TLEURL = srv.URL
	srv.Close()

	a := New(Options{
		Logger: log.New(io.Discard, "", 0),
		Cfg:    cfg,
		Bind:   "127.0.0.1:0",
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			t.Fatalf("Run returned %v, want http.ErrServerClosed", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Run only returns once the scheduler goroutine has exited, so the
	// state must have reached its terminal value.
	if got := a.state.Load().(string); got != scheduler.StateShutdown {
		t.Errorf("state after Run = %s, want %s", got, scheduler.StateShutdown)
	}
}
