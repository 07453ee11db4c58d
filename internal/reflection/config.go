package reflection

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds reflection coordinator tuning.
type Config struct {
	// PollInterval is how often awaited sessions are re-read.
	PollInterval time.Duration
	// ResponseTimeout bounds the wait for a self-assessment or judge reply.
	ResponseTimeout time.Duration
	// AbortCooldown suppresses reflection for a session after the user
	// interrupted it, so the abort and idle notifications cannot race.
	AbortCooldown time.Duration
	// Markers are substrings identifying internal sessions and reflection
	// prompts; sessions containing them are never reflected on.
	Markers []string
}

// DefaultConfig returns the reflection config, reading overrides from viper
// when available.
func DefaultConfig() Config {
	cfg := Config{
		PollInterval:    2 * time.Second,
		ResponseTimeout: 120 * time.Second,
		AbortCooldown:   10 * time.Second,
		Markers:         DefaultMarkers(),
	}

	if d := viper.GetDuration("reflection.poll_interval"); d > 0 {
		cfg.PollInterval = d
	}
	if d := viper.GetDuration("reflection.response_timeout"); d > 0 {
		cfg.ResponseTimeout = d
	}
	if d := viper.GetDuration("reflection.abort_cooldown"); d > 0 {
		cfg.AbortCooldown = d
	}
	if extra := viper.GetStringSlice("reflection.markers"); len(extra) > 0 {
		cfg.Markers = append(cfg.Markers, extra...)
	}

	return cfg
}
