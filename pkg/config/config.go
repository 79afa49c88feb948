// Package config loads the pool daemon configuration from a TOML file with
// environment-variable overrides for the settings that change per
// deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kachat-network/nodepool/pkg/utils"
)

// Config holds all daemon configuration.
type Config struct {
	Network   string          `toml:"network"`
	Pool      PoolConfig      `toml:"pool"`
	Probe     ProbeConfig     `toml:"probe"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Persist   PersistConfig   `toml:"persist"`
	API       APIConfig       `toml:"api"`
}

// PoolConfig bounds the tracked population and the live routing set.
type PoolConfig struct {
	MaxRecords   int `toml:"max_records"`
	ActiveTarget int `toml:"active_target"`
}

// ProbeConfig shapes the probe budget.
type ProbeConfig struct {
	Burst       int      `toml:"burst"`
	RefillEvery duration `toml:"refill_every"`
	Workers     int      `toml:"workers"`
}

// DiscoveryConfig controls the periodic discovery schedule (cron spec with
// seconds field).
type DiscoveryConfig struct {
	CronSpec string `toml:"cron_spec"`
}

// PersistConfig controls the durable store.
type PersistConfig struct {
	Backend  string `toml:"backend"` // "redis" or "memory"
	CronSpec string `toml:"cron_spec"`
}

// APIConfig controls the diagnostics HTTP server.
type APIConfig struct {
	Addr string `toml:"addr"`
}

// duration lets TOML carry values like "500ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns a configuration that works with no file at all.
func Default() Config {
	return Config{
		Network: "mainnet",
		Pool: PoolConfig{
			MaxRecords:   500,
			ActiveTarget: 5,
		},
		Probe: ProbeConfig{
			Burst:       8,
			RefillEvery: duration{500 * time.Millisecond},
			Workers:     4,
		},
		Discovery: DiscoveryConfig{
			CronSpec: "0 */2 * * * *", // every two minutes
		},
		Persist: PersistConfig{
			Backend:  "memory",
			CronSpec: "30 */5 * * * *", // every five minutes
		},
		API: APIConfig{
			Addr: ":3080",
		},
	}
}

// Load reads the config file at path if it exists, applies environment
// overrides, and returns the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.Network = utils.Env("POOL_NETWORK", cfg.Network)
	cfg.Persist.Backend = utils.Env("POOL_PERSIST_BACKEND", cfg.Persist.Backend)
	cfg.API.Addr = utils.Env("ADDR", cfg.API.Addr)
	return cfg, nil
}

// RefillEvery returns the probe bucket refill interval.
func (p ProbeConfig) Refill() time.Duration { return p.RefillEvery.Duration }
