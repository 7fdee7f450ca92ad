package provision

import (
	"math"
	"time"
)

// PollConfig controls how often readiness is re-checked after a spawn.
type PollConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPollConfig is used for any zero field.
var DefaultPollConfig = PollConfig{
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     time.Second,
	Multiplier:   2.0,
}

func (c PollConfig) withDefaults() PollConfig {
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultPollConfig.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultPollConfig.MaxDelay
	}
	if c.Multiplier < 1.0 {
		c.Multiplier = DefaultPollConfig.Multiplier
	}
	return c
}

// NextDelay returns the wait before check N (1-based).
func (c PollConfig) NextDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return c.InitialDelay
	}
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}
