// Package app wires together the HTTP server, WebSocket hub, and the
// scheduling loop. It owns the daemon's lifecycle and is the single source
// of truth for the current operating state.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/strikerdlm/meteor/internal/capture"
	"github.com/strikerdlm/meteor/internal/config"
	"github.com/strikerdlm/meteor/internal/devlock"
	"github.com/strikerdlm/meteor/internal/ledger"
	"github.com/strikerdlm/meteor/internal/metrics"
	"github.com/strikerdlm/meteor/internal/predict"
	"github.com/strikerdlm/meteor/internal/scheduler"
	"github.com/strikerdlm/meteor/internal/telemetry"
	"github.com/strikerdlm/meteor/internal/ws"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger *log.Logger
	Cfg    config.Config
	Bind   string
	DryRun bool
}

// App is the top-level daemon process. It manages the HTTP server, the
// WebSocket event hub, and the scheduler.
type App struct {
	log    *log.Logger
	cfg    config.Config
	bind   string
	dryRun bool
	server *http.Server

	startedAt time.Time
	state     atomic.Value // current state string (BOOTING, IDLE, etc.)

	wsHub     *ws.Hub
	predictor *predict.Predictor
	store     *ledger.Store
	lock      *devlock.Lock
}

// New creates an App in the BOOTING state. Call Run to start serving.
func New(opts Options) *App {
	a := &App{
		log:       opts.Logger,
		cfg:       opts.Cfg,
		bind:      opts.Bind,
		dryRun:    opts.DryRun,
		startedAt: time.Now(),
		wsHub:     ws.NewHub(),
	}
	a.state.Store("BOOTING")
	return a
}

// Run opens the durable stores, starts the HTTP server, WebSocket hub,
// heartbeat ticker, and scheduler, then blocks until the context is
// cancelled or the server returns an error.
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" && a.cfg.Server.Bind != "" {
		bind = a.cfg.Server.Bind
	}
	if bind == "" {
		bind = "0.0.0.0:8080"
	}

	step := time.Duration(a.cfg.Predict.StepSeconds) * time.Second
	store, err := ledger.Open(a.cfg.Paths.Cache, step)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	a.store = store

	lock, err := devlock.New(a.cfg.Paths.Cache, a.log)
	if err != nil {
		return fmt.Errorf("init device lock: %w", err)
	}
	a.lock = lock

	a.predictor = predict.NewPredictor(a.cfg, a.log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.Handle("/api/status", metrics.Middleware(http.HandlerFunc(a.handleStatus)))
	mux.Handle("/api/passes", metrics.Middleware(http.HandlerFunc(a.handlePasses)))
	mux.Handle("/api/attempts", metrics.Middleware(http.HandlerFunc(a.handleAttempts)))
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/ws", a.wsHub.Handler())

	a.server = &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}

	a.log.Printf("listening on http://%s", bind)

	go a.wsHub.Run(ctx)
	a.transition("IDLE")
	go a.heartbeatLoop(ctx)

	sup := capture.New(a.cfg, a.log, lock, store)
	sched := scheduler.New(a.cfg, a.log, a.predictor, sup, store)
	sched.DryRun = a.dryRun
	sched.OnEvent = a.wsHub.BroadcastJSON

	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(schedCtx, a.transition)
	}()

	go func() {
		<-ctx.Done()
		a.log.Printf("shutdown requested")
		a.wsHub.BroadcastJSON(telemetry.LogLine{
			Event:   telemetry.Event{Type: telemetry.EventLog, TS: telemetry.NowTS()},
			Level:   "info",
			Message: "shutdown requested",
		})
		_ = a.server.Shutdown(context.Background())
	}()

	err = a.server.Serve(ln)

	// Wait for the scheduler to drain: an in-flight capture finishes its
	// ledger append and lock release before the process exits.
	cancelSched()
	<-schedDone

	return err
}

// transition atomically updates the daemon state and broadcasts the change
// to all connected WebSocket clients.
func (a *App) transition(newState string) {
	old := a.state.Load().(string)
	if old == newState {
		return
	}
	a.state.Store(newState)
	a.log.Printf("state: %s -> %s", old, newState)

	a.wsHub.BroadcastJSON(telemetry.StateTransition{
		Event: telemetry.Event{Type: telemetry.EventState, TS: telemetry.NowTS()},
		From:  old,
		To:    newState,
	})
}

// heartbeatLoop sends a periodic heartbeat event so clients can detect
// connectivity and track uptime without polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.wsHub.BroadcastJSON(telemetry.Heartbeat{
				Event:         telemetry.Event{Type: telemetry.EventHeartbeat, TS: telemetry.NowTS()},
				State:         a.state.Load().(string),
				UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
			})
		}
	}
}
