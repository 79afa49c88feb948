package retry

import (
	"math"
	"math/rand"
	"time"
)

// Config defines quarantine cooldown behavior.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// JitterFrac is the maximum fraction of the delay added or removed as
	// jitter. Jitter keeps a population of endpoints that failed together
	// from retrying together.
	JitterFrac float64
}

// DefaultConfig returns the cooldown settings used for regular endpoints.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 30 * time.Second,
		MaxDelay:     2 * time.Hour,
		Multiplier:   2.0,
		JitterFrac:   0.3,
	}
}

// SeedConfig returns the cooldown settings for bundled seed endpoints. Seeds
// are the last resort when discovery has found nothing, so their cooldown is
// capped short even after repeated failure.
func SeedConfig() Config {
	return Config{
		InitialDelay: 10 * time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		JitterFrac:   0.3,
	}
}

// Quarantine computes the cooldown for an endpoint that has accumulated
// errorCount failures: exponential in errorCount, capped, with random jitter
// drawn from rng. Pure given its inputs, so tests inject a seeded source.
func Quarantine(cfg Config, errorCount int, rng *rand.Rand) time.Duration {
	if errorCount < 1 {
		errorCount = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(errorCount-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.JitterFrac > 0 {
		jitter := rng.Float64() * cfg.JitterFrac * delay
		delay = delay + jitter - (cfg.JitterFrac / 2 * delay)
	}
	return time.Duration(delay)
}
