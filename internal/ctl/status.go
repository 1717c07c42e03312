package ctl

import (
	"fmt"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	DryRun        bool   `json:"dry_run"`
	OutputsDir    string `json:"outputs_dir"`
	Station       struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
		Alt float64 `json:"alt"`
	} `json:"station"`
	DeviceLock *struct {
		HolderID   string `json:"holder_id"`
		AcquiredAt string `json:"acquired_at"`
		Stale      bool   `json:"stale"`
	} `json:"device_lock"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOut bool) error {
	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(s)
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)
	stateStr := colorize(stateColor(s.State), s.State)
	mode := "live"
	if s.DryRun {
		mode = "dry-run"
	}

	fmt.Println()
	fmt.Println(header("  METEORD STATUS"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 38)))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Daemon:"), s.Name)
	fmt.Printf("  %-12s %s\n", colorize(dim, "State:"), stateStr)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Mode:"), mode)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Printf("  %-12s %.4f, %.4f, %.0fm\n", colorize(dim, "Station:"),
		s.Station.Lat, s.Station.Lon, s.Station.Alt)
	fmt.Printf("  %-12s %s\n", colorize(dim, "Outputs:"), s.OutputsDir)
	if s.DeviceLock != nil {
		staleNote := ""
		if s.DeviceLock.Stale {
			staleNote = colorize(red, " (stale)")
		}
		fmt.Printf("  %-12s held by %s since %s%s\n", colorize(dim, "Device:"),
			s.DeviceLock.HolderID, s.DeviceLock.AcquiredAt, staleNote)
	} else {
		fmt.Printf("  %-12s free\n", colorize(dim, "Device:"))
	}
	fmt.Println()

	return nil
}
