// Meteorctl is the command-line client for monitoring a running meteord
// instance. It connects over HTTP and WebSocket to query status, passes,
// and the attempt ledger, and to stream live events from the daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/strikerdlm/meteor/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8080", "Meteord daemon URL")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter state,capture_finished)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "passes":
		opts := ctl.PassesOptions{JSON: *jsonOut}
		passFlags := pflag.NewFlagSet("passes", pflag.ContinueOnError)
		passFlags.IntVar(&opts.Hours, "hours", 0, "Lookahead window in hours")
		_ = passFlags.Parse(subArgs)
		err = ctl.Passes(*host, opts)

	case "attempts":
		err = ctl.Attempts(*host, *jsonOut)

	case "watch":
		err = ctl.Watch(*host, ctl.WatchOptions{Filter: *filter, JSON: *jsonOut})

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: meteorctl [flags] <command>

Commands:
  status     Show daemon state, uptime, and device lock
  passes     List eligible upcoming passes [--hours N]
  attempts   List recorded capture attempts
  watch      Stream live events over WebSocket

Flags:
  -H, --host    Daemon URL (default http://127.0.0.1:8080)
      --json    Raw JSON output
      --filter  Event types for watch
`)
}
