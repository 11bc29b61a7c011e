// Package config loads Abathur's hierarchical key/value configuration:
// environment variables override file values, which override built-in
// defaults. File format is JSONC (comments and trailing commas allowed),
// parsed with tailscale/hujson.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/odgrim/abathur/internal/priority"
	"github.com/odgrim/abathur/internal/recovery"
	"github.com/tailscale/hujson"
)

// Config holds every recognised option, grouped the way its consumers use
// them rather than flattened to match the wire format.
type Config struct {
	DatabasePath string `json:"database_path"`

	MaxConcurrentAgents        int           `json:"max_concurrent_agents"`
	PollInterval               time.Duration `json:"-"`
	PollIntervalSeconds        int           `json:"poll_interval_seconds"`
	IdleTimeout                time.Duration `json:"-"`
	IdleTimeoutSeconds         int           `json:"idle_timeout_seconds"`
	HealthCheckInterval        time.Duration `json:"-"`
	HealthCheckIntervalSeconds int           `json:"health_check_interval_seconds"`

	MaxRetriesDefault int `json:"max_retries_default"`

	RetryInitialBackoffSeconds int     `json:"retry_initial_backoff_seconds"`
	RetryMaxBackoffSeconds     int     `json:"retry_max_backoff_seconds"`
	RetryBackoffMultiplier     float64 `json:"retry_backoff_multiplier"`
	RetryJitterBool            bool    `json:"retry_jitter_bool"`

	PriorityWeightBase     float64 `json:"priority_weight_base"`
	PriorityWeightDepth    float64 `json:"priority_weight_depth"`
	PriorityWeightUrgency  float64 `json:"priority_weight_urgency"`
	PriorityWeightBlocking float64 `json:"priority_weight_blocking"`
	PriorityWeightSource   float64 `json:"priority_weight_source"`

	PriorityDepthMax                int `json:"priority_depth_max"`
	PriorityBlockingMax             int `json:"priority_blocking_max"`
	PriorityUrgencyScaleSeconds     int `json:"priority_urgency_scale_seconds"`
	PriorityResolverCacheTTLSeconds int `json:"priority_resolver_cache_ttl_seconds"`

	StallDetectionIntervalSeconds int `json:"stall_detection_interval_seconds"`
	VacuumConditionalThreshold    int `json:"vacuum_conditional_threshold"`
}

// Defaults returns the built-in default configuration.
func Defaults() Config {
	return Config{
		DatabasePath: filepath.Join(HomePath(), "abathur.db"),

		MaxConcurrentAgents:        4,
		PollIntervalSeconds:        1,
		IdleTimeoutSeconds:         300,
		HealthCheckIntervalSeconds: 30,

		MaxRetriesDefault: 3,

		RetryInitialBackoffSeconds: int(recovery.DefaultBackoffPolicy.InitialBackoff.Seconds()),
		RetryMaxBackoffSeconds:     int(recovery.DefaultBackoffPolicy.MaxBackoff.Seconds()),
		RetryBackoffMultiplier:     recovery.DefaultBackoffPolicy.Multiplier,
		RetryJitterBool:            recovery.DefaultBackoffPolicy.Jitter,

		PriorityWeightBase:     priority.DefaultWeights.Base,
		PriorityWeightDepth:    priority.DefaultWeights.Depth,
		PriorityWeightUrgency:  priority.DefaultWeights.Urgency,
		PriorityWeightBlocking: priority.DefaultWeights.Blocking,
		PriorityWeightSource:   priority.DefaultWeights.Source,

		PriorityDepthMax:                priority.DefaultParams.DepthMax,
		PriorityBlockingMax:             priority.DefaultParams.BlockingMax,
		PriorityUrgencyScaleSeconds:     int(priority.DefaultParams.UrgencyScale.Seconds()),
		PriorityResolverCacheTTLSeconds: 60,

		StallDetectionIntervalSeconds: 60,
		VacuumConditionalThreshold:    100,
	}
}

// envKeys lists every recognised option; each maps to an environment
// variable named ABATHUR_ plus its upper-cased key.
var envKeys = []string{
	"database_path",
	"max_concurrent_agents",
	"poll_interval_seconds",
	"idle_timeout_seconds",
	"health_check_interval_seconds",
	"max_retries_default",
	"retry_initial_backoff_seconds",
	"retry_max_backoff_seconds",
	"retry_backoff_multiplier",
	"retry_jitter_bool",
	"priority_weight_base",
	"priority_weight_depth",
	"priority_weight_urgency",
	"priority_weight_blocking",
	"priority_weight_source",
	"priority_depth_max",
	"priority_blocking_max",
	"priority_urgency_scale_seconds",
	"priority_resolver_cache_ttl_seconds",
	"stall_detection_interval_seconds",
	"vacuum_conditional_threshold",
}

// Load builds a Config by starting from Defaults(), overlaying path's JSONC
// contents (if path is non-empty and the file exists), then overlaying any
// ABATHUR_* environment variables present. Env always wins over file, which
// always wins over defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			std, err := hujson.Standardize(data)
			if err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			if err := unmarshalInto(&cfg, std); err != nil {
				return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	derive(&cfg)

	w := cfg.Weights()
	if sum := w.Base + w.Depth + w.Urgency + w.Blocking + w.Source; math.Abs(sum-1) > 1e-6 {
		return nil, fmt.Errorf("priority weights must sum to 1.0, got %g", sum)
	}
	return &cfg, nil
}

func derive(cfg *Config) {
	cfg.PollInterval = time.Duration(cfg.PollIntervalSeconds) * time.Second
	cfg.IdleTimeout = time.Duration(cfg.IdleTimeoutSeconds) * time.Second
	cfg.HealthCheckInterval = time.Duration(cfg.HealthCheckIntervalSeconds) * time.Second
}

// Weights projects the priority_weight_* options into a priority.Weights.
func (c Config) Weights() priority.Weights {
	return priority.Weights{
		Base:     c.PriorityWeightBase,
		Depth:    c.PriorityWeightDepth,
		Urgency:  c.PriorityWeightUrgency,
		Blocking: c.PriorityWeightBlocking,
		Source:   c.PriorityWeightSource,
	}
}

// PriorityParams projects the priority_* options into a priority.Params.
func (c Config) PriorityParams() priority.Params {
	return priority.Params{
		Weights:      c.Weights(),
		DepthMax:     c.PriorityDepthMax,
		BlockingMax:  c.PriorityBlockingMax,
		UrgencyScale: time.Duration(c.PriorityUrgencyScaleSeconds) * time.Second,
	}
}

// BackoffPolicy projects the retry_* options into a recovery.BackoffPolicy.
func (c Config) BackoffPolicy() recovery.BackoffPolicy {
	return recovery.BackoffPolicy{
		InitialBackoff: time.Duration(c.RetryInitialBackoffSeconds) * time.Second,
		MaxBackoff:     time.Duration(c.RetryMaxBackoffSeconds) * time.Second,
		Multiplier:     c.RetryBackoffMultiplier,
		Jitter:         c.RetryJitterBool,
	}
}

// ResolverCacheTTL projects priority_resolver_cache_ttl_seconds into a
// time.Duration for dependency.NewResolver.
func (c Config) ResolverCacheTTL() time.Duration {
	return time.Duration(c.PriorityResolverCacheTTLSeconds) * time.Second
}

// StallDetectionInterval projects stall_detection_interval_seconds.
func (c Config) StallDetectionInterval() time.Duration {
	return time.Duration(c.StallDetectionIntervalSeconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	for _, key := range envKeys {
		v, ok := os.LookupEnv("ABATHUR_" + upperEnvName(key))
		if !ok {
			continue
		}
		setField(cfg, key, v)
	}
}

func upperEnvName(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func setField(cfg *Config, key, v string) {
	switch key {
	case "database_path":
		cfg.DatabasePath = v
	case "max_concurrent_agents":
		cfg.MaxConcurrentAgents = atoiOr(v, cfg.MaxConcurrentAgents)
	case "poll_interval_seconds":
		cfg.PollIntervalSeconds = atoiOr(v, cfg.PollIntervalSeconds)
	case "idle_timeout_seconds":
		cfg.IdleTimeoutSeconds = atoiOr(v, cfg.IdleTimeoutSeconds)
	case "health_check_interval_seconds":
		cfg.HealthCheckIntervalSeconds = atoiOr(v, cfg.HealthCheckIntervalSeconds)
	case "max_retries_default":
		cfg.MaxRetriesDefault = atoiOr(v, cfg.MaxRetriesDefault)
	case "retry_initial_backoff_seconds":
		cfg.RetryInitialBackoffSeconds = atoiOr(v, cfg.RetryInitialBackoffSeconds)
	case "retry_max_backoff_seconds":
		cfg.RetryMaxBackoffSeconds = atoiOr(v, cfg.RetryMaxBackoffSeconds)
	case "retry_backoff_multiplier":
		cfg.RetryBackoffMultiplier = floatOr(v, cfg.RetryBackoffMultiplier)
	case "retry_jitter_bool":
		cfg.RetryJitterBool = boolOr(v, cfg.RetryJitterBool)
	case "priority_weight_base":
		cfg.PriorityWeightBase = floatOr(v, cfg.PriorityWeightBase)
	case "priority_weight_depth":
		cfg.PriorityWeightDepth = floatOr(v, cfg.PriorityWeightDepth)
	case "priority_weight_urgency":
		cfg.PriorityWeightUrgency = floatOr(v, cfg.PriorityWeightUrgency)
	case "priority_weight_blocking":
		cfg.PriorityWeightBlocking = floatOr(v, cfg.PriorityWeightBlocking)
	case "priority_weight_source":
		cfg.PriorityWeightSource = floatOr(v, cfg.PriorityWeightSource)
	case "priority_depth_max":
		cfg.PriorityDepthMax = atoiOr(v, cfg.PriorityDepthMax)
	case "priority_blocking_max":
		cfg.PriorityBlockingMax = atoiOr(v, cfg.PriorityBlockingMax)
	case "priority_urgency_scale_seconds":
		cfg.PriorityUrgencyScaleSeconds = atoiOr(v, cfg.PriorityUrgencyScaleSeconds)
	case "priority_resolver_cache_ttl_seconds":
		cfg.PriorityResolverCacheTTLSeconds = atoiOr(v, cfg.PriorityResolverCacheTTLSeconds)
	case "stall_detection_interval_seconds":
		cfg.StallDetectionIntervalSeconds = atoiOr(v, cfg.StallDetectionIntervalSeconds)
	case "vacuum_conditional_threshold":
		cfg.VacuumConditionalThreshold = atoiOr(v, cfg.VacuumConditionalThreshold)
	}
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func floatOr(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}

func boolOr(s string, fallback bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return b
}
