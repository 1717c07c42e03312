// Meteord is the headless METEOR-M capture daemon.
//
// It predicts upcoming satellite passes from orbital elements and drives
// timed SatDump captures, escalating through fallback frequency/pipeline
// tiers after repeated failures. Shutdown is handled gracefully on SIGINT
// or SIGTERM: an in-flight capture drains through its lock-release path.
//
// Usage:
//
//	meteord run [--dry-run]
//	meteord list-passes [--hours N] [--target NAME]
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/strikerdlm/meteor/internal/app"
	"github.com/strikerdlm/meteor/internal/config"
	"github.com/strikerdlm/meteor/internal/predict"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/meteord/meteord.toml", "Path to config TOML")
		bind       = pflag.String("bind", "", "HTTP bind address (overrides config)")
		dryRun     = pflag.Bool("dry-run", false, "Plan captures without touching the device or ledger")
		hours      = pflag.Int("hours", 0, "Lookahead hours for list-passes (0 = config value)")
		target     = pflag.String("target", "", "Restrict list-passes to one satellite by name")
		minElev    = pflag.Float64("min-elev", -1, "Minimum elevation override in degrees")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil && !os.IsNotExist(err) {
		log.Fatalf("config load failed: %v", err)
	}
	if os.IsNotExist(err) {
		cfg = config.Default()
	}
	if *minElev >= 0 {
		cfg.Station.MinElevation = *minElev
		if err := config.Validate(cfg); err != nil {
			log.Fatalf("invalid override: %v", err)
		}
	}

	logger := log.New(os.Stdout, "meteord ", log.LstdFlags|log.Lmicroseconds)

	cmd := "run"
	if pflag.NArg() > 0 {
		cmd = pflag.Arg(0)
	}

	switch cmd {
	case "run":
		runDaemon(cfg, logger, *bind, *dryRun)
	case "list-passes":
		if err := listPasses(cfg, logger, *hours, *target); err != nil {
			logger.Fatalf("list-passes failed: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want run or list-passes)\n", cmd)
		os.Exit(2)
	}
}

func runDaemon(cfg config.Config, logger *log.Logger, bind string, dryRun bool) {
	a := app.New(app.Options{
		Logger: logger,
		Cfg:    cfg,
		Bind:   bind,
		DryRun: dryRun,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// After the first signal the daemon drains an in-flight capture before
	// exiting. Restoring default signal handling here means a second signal
	// terminates immediately.
	go func() {
		<-ctx.Done()
		stop()
	}()

	if err := a.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("meteord failed: %v", err)
	}
}

// listPasses prints eligible passes in the lookahead window and exits. It is
// a pure query: no device lock, no ledger writes.
func listPasses(cfg config.Config, logger *log.Logger, hours int, target string) error {
	if hours < 1 {
		hours = cfg.Predict.LookaheadHours
	}

	var only *predict.Target
	if target != "" {
		only = predict.TargetByName(target)
		if only == nil {
			return fmt.Errorf("unknown target %q", target)
		}
	}

	p := predict.NewPredictor(cfg, logger)
	now := time.Now().UTC()

	passes, err := p.Predict(context.Background(), now, now.Add(time.Duration(hours)*time.Hour))
	if err != nil {
		return err
	}

	if only != nil {
		kept := passes[:0]
		for _, pass := range passes {
			if pass.Target.NoradID == only.NoradID {
				kept = append(kept, pass)
			}
		}
		passes = kept
	}

	if len(passes) == 0 {
		fmt.Println("No passes within lookahead window.")
		return nil
	}

	for _, pass := range passes {
		fmt.Printf("%s: AOS %s  TCA %s  LOS %s  max_el %.1f°  dur %ds\n",
			pass.Target.Name,
			pass.AOS.Format(time.RFC3339),
			pass.TCA.Format(time.RFC3339),
			pass.LOS.Format(time.RFC3339),
			pass.MaxElev,
			int(pass.Duration.Seconds()),
		)
	}
	return nil
}
