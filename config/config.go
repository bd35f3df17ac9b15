// Package config handles sleet.toml deployment configuration: the single
// file that parameterises the orchestrator's worker pool and gas budget,
// the policy gate's bundle defaults, the persistence-intent pipeline's
// shard sizing, and the durable store's DSN, for one running instance.
// Grounded on manifest/manifest.go's Load/FindAndLoad/defaults-after-parse
// shape (maggie.toml's project-manifest parsing), generalised from a
// project manifest to a runtime deployment file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level sleet.toml shape.
type Config struct {
	Server      Server      `toml:"server"`
	Orchestrator Orchestrator `toml:"orchestrator"`
	PolicyGate  PolicyGate  `toml:"policygate"`
	Pipeline    Pipeline    `toml:"pipeline"`
	Storage     Storage     `toml:"storage"`
	Auth        Auth        `toml:"auth"`

	// Dir is the directory containing sleet.toml (set at load time).
	Dir string `toml:"-"`
}

// Server configures the httpapi package's listen address.
type Server struct {
	Addr string `toml:"addr"`
}

// Orchestrator configures the orchestrator.Config fields.
type Orchestrator struct {
	WorkerPoolSize   int            `toml:"worker-pool-size"`
	DefaultGasBudget uint64         `toml:"default-gas-budget"`
	MaxBlocksPerStep int            `toml:"max-blocks-per-step"`
	MaxConcurrent    int            `toml:"max-concurrent"`
	TenantQuota      map[string]int `toml:"tenant-quota"`
}

// PolicyGate configures the policygate.PolicyBundle defaults for the
// instance's initial Active bundle.
type PolicyGate struct {
	WeightDepth     float64 `toml:"weight-depth"`
	WeightLatency   float64 `toml:"weight-latency"`
	WeightError     float64 `toml:"weight-error"`
	HalflifeLongSec float64 `toml:"halflife-long-seconds"`
	HalflifeShortSec float64 `toml:"halflife-short-seconds"`
	WarmupSamples   int     `toml:"warmup-samples"`
	TokensMax       float64 `toml:"tokens-max"`
	RefillPerSec    float64 `toml:"refill-per-second"`
	HysteresisPct   float64 `toml:"hysteresis-pct"`
	AmberAdaptSecs  float64 `toml:"amber-adapt-seconds"`
	MaxPayloadBytes int     `toml:"max-payload-bytes"`
	MaxQueueAgeSec  float64 `toml:"max-queue-age-seconds"`
}

// Pipeline configures the pipeline.Config fields.
type Pipeline struct {
	ShardCapacity     int     `toml:"shard-capacity"`
	CoalesceWindowMs  int64   `toml:"coalesce-window-ms"`
	OverflowPolicy    string  `toml:"overflow-policy"` // reject | drop-oldest-low-priority | block
	RedisAddr         string  `toml:"redis-addr"`
	RedisStream       string  `toml:"redis-stream"`
	ConsultPolicyGate bool    `toml:"consult-policy-gate"`
}

// Storage configures the storage package's SQLite DSN.
type Storage struct {
	DSN string `toml:"dsn"`
}

// Auth configures the httpapi package's JWT verification.
type Auth struct {
	Issuer       string `toml:"issuer"`
	SigningKey   string `toml:"signing-key"`
	TokenTTLMins int    `toml:"token-ttl-minutes"`
}

// Load parses a sleet.toml file from the given directory and applies
// defaults to any field left unset.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "sleet.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	c.applyDefaults()
	return &c, nil
}

// FindAndLoad walks up from startDir to find a sleet.toml file, then loads
// and returns it. Returns nil if no config file is found (the caller falls
// back to Default()).
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, "sleet.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Default returns a Config with every field set to its zero-configuration
// default, for running without a sleet.toml at all.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.Orchestrator.WorkerPoolSize == 0 {
		c.Orchestrator.WorkerPoolSize = 4
	}
	if c.Orchestrator.DefaultGasBudget == 0 {
		c.Orchestrator.DefaultGasBudget = 1_000_000
	}
	if c.Orchestrator.MaxBlocksPerStep == 0 {
		c.Orchestrator.MaxBlocksPerStep = 100_000
	}
	if c.PolicyGate.WeightDepth == 0 && c.PolicyGate.WeightLatency == 0 && c.PolicyGate.WeightError == 0 {
		c.PolicyGate.WeightDepth, c.PolicyGate.WeightLatency, c.PolicyGate.WeightError = 0.6, 0.3, 0.1
	}
	if c.PolicyGate.HalflifeLongSec == 0 {
		c.PolicyGate.HalflifeLongSec = 8
	}
	if c.PolicyGate.HalflifeShortSec == 0 {
		c.PolicyGate.HalflifeShortSec = 2
	}
	if c.PolicyGate.WarmupSamples == 0 {
		c.PolicyGate.WarmupSamples = 30
	}
	if c.PolicyGate.TokensMax == 0 {
		c.PolicyGate.TokensMax = 100
	}
	if c.PolicyGate.RefillPerSec == 0 {
		c.PolicyGate.RefillPerSec = 50
	}
	if c.PolicyGate.HysteresisPct == 0 {
		c.PolicyGate.HysteresisPct = 0.1
	}
	if c.PolicyGate.AmberAdaptSecs == 0 {
		c.PolicyGate.AmberAdaptSecs = 10
	}
	if c.PolicyGate.MaxPayloadBytes == 0 {
		c.PolicyGate.MaxPayloadBytes = 1 << 20
	}
	if c.PolicyGate.MaxQueueAgeSec == 0 {
		c.PolicyGate.MaxQueueAgeSec = 300
	}
	if c.Pipeline.ShardCapacity == 0 {
		c.Pipeline.ShardCapacity = 1024
	}
	if c.Pipeline.CoalesceWindowMs == 0 {
		c.Pipeline.CoalesceWindowMs = 500
	}
	if c.Pipeline.OverflowPolicy == "" {
		c.Pipeline.OverflowPolicy = "reject"
	}
	if c.Pipeline.RedisStream == "" {
		c.Pipeline.RedisStream = "sleet.persistence-intents"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "sleet.db"
	}
	if c.Auth.TokenTTLMins == 0 {
		c.Auth.TokenTTLMins = 60
	}
}
