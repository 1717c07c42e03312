// Package telemetry defines the typed event structs that flow over the
// WebSocket connection between meteord and its clients. Every broadcast
// carries the shared envelope fields plus the event-specific payload.
package telemetry

import "time"

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventHeartbeat       EventType = "heartbeat"
	EventState           EventType = "state"
	EventLog             EventType = "log"
	EventPassScheduled   EventType = "pass_scheduled"
	EventCaptureFinished EventType = "capture_finished"
)

// Event is the base envelope shared by every event type.
type Event struct {
	Type EventType `json:"type"`
	TS   string    `json:"ts"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching
// the timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Heartbeat is sent periodically so clients can detect connectivity and
// monitor daemon uptime.
type Heartbeat struct {
	Event
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StateTransition is emitted whenever the scheduler moves between states
// (e.g. WAITING -> CAPTURING).
type StateTransition struct {
	Event
	From string `json:"from"`
	To   string `json:"to"`
}

// PassScheduled announces the next pass the scheduler committed to,
// including the fallback tier parameters chosen for it.
type PassScheduled struct {
	Event
	Target      string  `json:"target"`
	NoradID     int     `json:"norad_id"`
	AOS         string  `json:"aos"`
	LOS         string  `json:"los"`
	MaxElev     float64 `json:"max_elev"`
	DurationS   int     `json:"duration_s"`
	Tier        int     `json:"tier"`
	FrequencyHz int     `json:"frequency_hz"`
	Pipeline    string  `json:"pipeline"`
	DryRun      bool    `json:"dry_run"`
}

// CaptureFinished reports a completed capture attempt and its outcome tag.
type CaptureFinished struct {
	Event
	Target    string `json:"target"`
	Outcome   string `json:"outcome"`
	Tier      int    `json:"tier"`
	OutputDir string `json:"out_dir"`
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Event
	Level   string `json:"level"`
	Message string `json:"message"`
}
