// Package config loads the gateway's configuration surface from the
// environment. Grounded on glennswest-ipmiserial/config's Load function
// in shape (a typed Config struct pre-populated with defaults, then
// overridden), but env-sourced rather than YAML-sourced: the override
// step here is a small hand-rolled os.Getenv/strconv reader — the one
// ambient concern in this gateway not backed by a third-party library
// (see DESIGN.md).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full environment-sourced configuration surface.
type Config struct {
	DevicePort             int
	MonitorPort            int
	SocketTimeout          time.Duration
	MaxConcurrentSessions  int
	RateLimitFramesPerMin  int
	WarmupMs               time.Duration
	IdleMs                 time.Duration
	SpeedThresholdKmh      float64
	StoreURI               string
	DebugLog               bool
}

// Load builds a Config from environment variables, falling back to
// defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		DevicePort:            5005,
		MonitorPort:           5006,
		SocketTimeout:         300_000 * time.Millisecond,
		MaxConcurrentSessions: 100,
		RateLimitFramesPerMin: 60,
		WarmupMs:              300_000 * time.Millisecond,
		IdleMs:                300_000 * time.Millisecond,
		SpeedThresholdKmh:     3,
		StoreURI:              "memory://",
		DebugLog:              false,
	}

	var err error
	if cfg.DevicePort, err = envInt("DEVICE_PORT", cfg.DevicePort); err != nil {
		return nil, err
	}
	if cfg.MonitorPort, err = envInt("MONITOR_PORT", cfg.MonitorPort); err != nil {
		return nil, err
	}
	if ms, err := envInt("SOCKET_TIMEOUT_MS", int(cfg.SocketTimeout/time.Millisecond)); err != nil {
		return nil, err
	} else {
		cfg.SocketTimeout = time.Duration(ms) * time.Millisecond
	}
	if cfg.MaxConcurrentSessions, err = envInt("MAX_CONCURRENT_SESSIONS", cfg.MaxConcurrentSessions); err != nil {
		return nil, err
	}
	if cfg.RateLimitFramesPerMin, err = envInt("RATE_LIMIT_FRAMES_PER_MIN", cfg.RateLimitFramesPerMin); err != nil {
		return nil, err
	}
	if ms, err := envInt("WARMUP_MS", int(cfg.WarmupMs/time.Millisecond)); err != nil {
		return nil, err
	} else {
		cfg.WarmupMs = time.Duration(ms) * time.Millisecond
	}
	if ms, err := envInt("IDLE_MS", int(cfg.IdleMs/time.Millisecond)); err != nil {
		return nil, err
	} else {
		cfg.IdleMs = time.Duration(ms) * time.Millisecond
	}
	if cfg.SpeedThresholdKmh, err = envFloat("SPEED_THRESHOLD_KMH", cfg.SpeedThresholdKmh); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv("STORE_URI"); ok {
		cfg.StoreURI = v
	}
	if cfg.DebugLog, err = envBool("DEBUG_LOG", cfg.DebugLog); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envInt(name string, def int) (int, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer: %w", name, v, err)
	}
	return n, nil
}

func envFloat(name string, def float64) (float64, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a number: %w", name, v, err)
	}
	return f, nil
}

func envBool(name string, def bool) (bool, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s=%q is not a bool: %w", name, v, err)
	}
	return b, nil
}
