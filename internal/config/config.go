// Package config handles loading, defaulting, and validation of the meteord
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Paths    PathsConfig    `toml:"paths"    json:"paths"`
	Logging  LoggingConfig  `toml:"logging"  json:"logging"`
	Server   ServerConfig   `toml:"server"   json:"server"`
	Station  StationConfig  `toml:"station"  json:"station"`
	SatDump  SatDumpConfig  `toml:"satdump"  json:"satdump"`
	Predict  PredictConfig  `toml:"predict"  json:"predict"`
	Schedule ScheduleConfig `toml:"schedule" json:"schedule"`
	Tiers    []TierConfig   `toml:"tiers"    json:"tiers"`
}

type PathsConfig struct {
	Outputs string `toml:"outputs" json:"outputs"`
	Cache   string `toml:"cache"   json:"cache"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

type ServerConfig struct {
	Bind string `toml:"bind" json:"bind"`
}

type StationConfig struct {
	Latitude     float64 `toml:"latitude"      json:"latitude"`
	Longitude    float64 `toml:"longitude"     json:"longitude"`
	Altitude     float64 `toml:"altitude"      json:"altitude"`
	MinElevation float64 `toml:"min_elevation" json:"min_elevation"`
}

// SatDumpConfig describes how the external SatDump process is invoked.
type SatDumpConfig struct {
	Path        string  `toml:"path"         json:"path"`
	DeviceIndex int     `toml:"device_index" json:"device_index"`
	Gain        float64 `toml:"gain"         json:"gain"`
	SampleRate  int     `toml:"sample_rate"  json:"sample_rate"`
	BiasTee     bool    `toml:"bias_tee"     json:"bias_tee"`
	EnableAGC   bool    `toml:"enable_agc"   json:"enable_agc"`
	HTTPBind    string  `toml:"http_bind"    json:"http_bind"`
	Simulate    bool    `toml:"simulate"     json:"simulate"`
}

type PredictConfig struct {
	TLEURL         string `toml:"tle_url"           json:"tle_url"`
	TLEMaxAgeHours int    `toml:"tle_max_age_hours" json:"tle_max_age_hours"`
	LookaheadHours int    `toml:"lookahead_hours"   json:"lookahead_hours"`
	StepSeconds    int    `toml:"step_seconds"      json:"step_seconds"`
}

type ScheduleConfig struct {
	PreRollSeconds      int `toml:"pre_roll_seconds"      json:"pre_roll_seconds"`
	PostRollSeconds     int `toml:"post_roll_seconds"     json:"post_roll_seconds"`
	PollIntervalMinutes int `toml:"poll_interval_minutes" json:"poll_interval_minutes"`
	LockMaxHoldHours    int `toml:"lock_max_hold_hours"   json:"lock_max_hold_hours"`
}

// TierConfig is one entry of the fallback table. Tier 0 is the primary
// frequency/pipeline; later tiers are tried after repeated failures.
type TierConfig struct {
	FrequencyHz int    `toml:"frequency_hz" json:"frequency_hz"`
	Pipeline    string `toml:"pipeline"     json:"pipeline"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			Outputs: "/var/lib/meteord/outputs",
			Cache:   "/var/lib/meteord/cache",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Bind: "0.0.0.0:8080",
		},
		Station: StationConfig{
			Latitude:     4.7110,
			Longitude:    -74.0721,
			Altitude:     2640.0,
			MinElevation: 20,
		},
		SatDump: SatDumpConfig{
			Path:        "satdump",
			DeviceIndex: 0,
			Gain:        40.0,
			SampleRate:  1024000,
			BiasTee:     false,
			EnableAGC:   false,
			HTTPBind:    "",
			Simulate:    false,
		},
		Predict: PredictConfig{
			TLEURL:         "https://celestrak.org/NORAD/elements/weather.txt",
			TLEMaxAgeHours: 6,
			LookaheadHours: 24,
			StepSeconds:    10,
		},
		Schedule: ScheduleConfig{
			PreRollSeconds:      120,
			PostRollSeconds:     120,
			PollIntervalMinutes: 30,
			LockMaxHoldHours:    4,
		},
		Tiers: []TierConfig{
			{FrequencyHz: 137_900_000, Pipeline: "meteor_m2-x_lrpt"},
			{FrequencyHz: 137_100_000, Pipeline: "meteor_m2-x_lrpt_80k"},
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	// A [[tiers]] block in the file replaces the default table entirely,
	// rather than appending to it.
	var raw struct {
		Tiers []TierConfig `toml:"tiers"`
	}
	if err := toml.Unmarshal(b, &raw); err != nil {
		return cfg, err
	}
	if len(raw.Tiers) > 0 {
		cfg.Tiers = nil
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the constraints the rest of the daemon relies on.
func Validate(cfg Config) error {
	if cfg.Paths.Outputs == "" {
		return errors.New("paths.outputs must not be empty")
	}
	if cfg.Paths.Cache == "" {
		return errors.New("paths.cache must not be empty")
	}
	if cfg.Station.MinElevation < 0 || cfg.Station.MinElevation >= 90 {
		return errors.New("station.min_elevation must be in [0, 90)")
	}
	if cfg.SatDump.SampleRate <= 0 {
		return errors.New("satdump.sample_rate must be > 0")
	}
	if cfg.Predict.TLEMaxAgeHours < 1 {
		return errors.New("predict.tle_max_age_hours must be >= 1")
	}
	if cfg.Predict.LookaheadHours < 1 {
		return errors.New("predict.lookahead_hours must be >= 1")
	}
	if cfg.Predict.StepSeconds < 1 {
		return errors.New("predict.step_seconds must be >= 1")
	}
	if cfg.Schedule.PreRollSeconds < 0 || cfg.Schedule.PostRollSeconds < 0 {
		return errors.New("schedule pre/post roll must be >= 0")
	}
	if cfg.Schedule.PollIntervalMinutes < 1 {
		return errors.New("schedule.poll_interval_minutes must be >= 1")
	}
	if cfg.Schedule.LockMaxHoldHours < 1 {
		return errors.New("schedule.lock_max_hold_hours must be >= 1")
	}
	if len(cfg.Tiers) == 0 {
		return errors.New("at least one [[tiers]] entry is required")
	}
	for i, tier := range cfg.Tiers {
		if tier.FrequencyHz <= 0 {
			return fmt.Errorf("tiers[%d].frequency_hz must be > 0", i)
		}
		if tier.Pipeline == "" {
			return fmt.Errorf("tiers[%d].pipeline must not be empty", i)
		}
	}
	return nil
}

// PreRoll returns the configured pre-roll margin as a duration.
func (s ScheduleConfig) PreRoll() time.Duration {
	return time.Duration(s.PreRollSeconds) * time.Second
}

// PostRoll returns the configured post-roll margin as a duration.
func (s ScheduleConfig) PostRoll() time.Duration {
	return time.Duration(s.PostRollSeconds) * time.Second
}

// PollInterval returns how long the scheduler waits before re-predicting
// when no eligible pass exists.
func (s ScheduleConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMinutes) * time.Minute
}

// LockMaxHold returns the declared maximum device-lock hold duration.
func (s ScheduleConfig) LockMaxHold() time.Duration {
	return time.Duration(s.LockMaxHoldHours) * time.Hour
}
