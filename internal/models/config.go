// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every component of the
// admission control service.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, admission, audit, etc.)
// - Environment-friendly defaults that work out of the box
// - Comprehensive validation to catch misconfigurations early
// - The tier table, route mappings, trusted proxies and failure policies are
//   loaded once at startup and treated as immutable for the process lifetime
package models

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Counter store backend constants
const (
	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
)

// Audit store backend constants
const (
	AuditTypeMemory   = "memory"
	AuditTypeSQLite   = "sqlite"
	AuditTypePostgres = "postgres"
)

// Failure policy constants. They control how a tier behaves when the counter
// store is unreachable or exceeds the decision budget.
const (
	FailOpen   = "open"   // allow the request, log a warning
	FailClosed = "closed" // deny the request
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP server configuration
	Admission     AdmissionConfig     `yaml:"admission" json:"admission"`         // Rate limiting and request screening
	Audit         AuditConfig         `yaml:"audit" json:"audit"`                 // Denial audit trail persistence
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Monitoring and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing configuration
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

// AdmissionConfig configures the request admission pipeline: the tier table,
// the path-to-tier mapping, exempt paths, trusted proxies, the suspicious
// request detector and the counter store backend.
type AdmissionConfig struct {
	Enabled        bool               `yaml:"enabled" json:"enabled"`
	DefaultTier    string             `yaml:"default_tier" json:"default_tier"`
	Tiers          []TierConfig       `yaml:"tiers" json:"tiers"`
	Routes         []RouteRule        `yaml:"routes" json:"routes"`
	ExemptPaths    []string           `yaml:"exempt_paths" json:"exempt_paths"`
	TrustedProxies []string           `yaml:"trusted_proxies" json:"trusted_proxies"`
	DecisionBudget time.Duration      `yaml:"decision_budget" json:"decision_budget"`
	Store          CounterStoreConfig `yaml:"store" json:"store"`
	Detector       DetectorConfig     `yaml:"detector" json:"detector"`
}

// TierConfig is a named rate-limit policy applied to a class of endpoints.
// FailMode declares what happens when the counter store is unavailable:
// cheap endpoints fail open to preserve availability, endpoints guarding
// expensive downstream work (AI evaluation) fail closed.
type TierConfig struct {
	Name     string        `yaml:"name" json:"name"`
	Window   time.Duration `yaml:"window" json:"window"`
	Limit    int64         `yaml:"limit" json:"limit"`
	FailMode string        `yaml:"fail_mode" json:"fail_mode"`
}

// RouteRule maps a path pattern to a tier. Rules are evaluated in order and
// the first match wins. A pattern ending in "*" matches by prefix, anything
// else matches exactly.
type RouteRule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Tier    string `yaml:"tier" json:"tier"`
}

// CounterStoreConfig selects and tunes the counter backend. Smoothing turns
// on sliding-window interpolation at window rollover; it is a property of the
// counting store, so it applies to every tier counted there (memory backend
// only).
type CounterStoreConfig struct {
	Type          string        `yaml:"type" json:"type"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"` // memory backend GC cadence
	Smoothing     bool          `yaml:"smoothing" json:"smoothing"`
	Redis         RedisConfig   `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr" json:"addr"`
	Password  string        `yaml:"password" json:"password"`
	DB        int           `yaml:"db" json:"db"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
	PoolSize  int           `yaml:"pool_size" json:"pool_size"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"` // per-call budget in the hot path
}

// DetectorConfig configures the suspicious-request screen that runs before
// any counting.
type DetectorConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequireUserAgent  bool          `yaml:"require_user_agent" json:"require_user_agent"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	BadAgentPatterns  []string      `yaml:"bad_agent_patterns" json:"bad_agent_patterns"`
	ReplayThreshold   int           `yaml:"replay_threshold" json:"replay_threshold"` // identical payloads tolerated per window
	ReplayWindow      time.Duration `yaml:"replay_window" json:"replay_window"`
	CacheMaxEntries   int           `yaml:"cache_max_entries" json:"cache_max_entries"`
	CacheTTL          time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	CountAgainstQuota bool          `yaml:"count_against_quota" json:"count_against_quota"` // whether flagged requests still consume tier quota
}

// AuditConfig configures the denial audit trail. Recording is best-effort and
// asynchronous; it never blocks the admission hot path.
type AuditConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Type      string        `yaml:"type" json:"type"`
	Path      string        `yaml:"path" json:"path"` // sqlite database file
	DSN       string        `yaml:"dsn" json:"dsn"`   // postgres connection string
	QueueSize int           `yaml:"queue_size" json:"queue_size"`
	Retention time.Duration `yaml:"retention" json:"retention"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"` // "stdout" or "otlp"
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig returns a configuration with sensible defaults that work
// out of the box: in-memory counters, no external dependencies, a strict
// default tier and a generous tier for cheap content reads.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Admission: AdmissionConfig{
			Enabled:     true,
			DefaultTier: "default",
			Tiers: []TierConfig{
				{Name: "default", Window: time.Minute, Limit: 30, FailMode: FailOpen},
				{Name: "content", Window: time.Minute, Limit: 120, FailMode: FailOpen},
				{Name: "evaluation", Window: time.Minute, Limit: 5, FailMode: FailClosed},
			},
			Routes: []RouteRule{
				{Pattern: "/api/v1/evaluations/*", Tier: "evaluation"},
				{Pattern: "/api/v1/practice/*", Tier: "content"},
			},
			ExemptPaths:    []string{"/health", "/metrics", "/static/*"},
			DecisionBudget: 5 * time.Millisecond,
			Store: CounterStoreConfig{
				Type:          StoreTypeMemory,
				SweepInterval: time.Minute,
				Redis: RedisConfig{
					Addr:      "localhost:6379",
					KeyPrefix: "gatekeeper:",
					PoolSize:  10,
					Timeout:   5 * time.Millisecond,
				},
			},
			Detector: DetectorConfig{
				Enabled:          true,
				RequireUserAgent: true,
				MaxBodyBytes:     1 << 20,
				BadAgentPatterns: []string{"sqlmap", "masscan", "nikto"},
				ReplayThreshold:  10,
				ReplayWindow:     10 * time.Second,
				CacheMaxEntries:  10000,
				CacheTTL:         time.Minute,
			},
		},
		Audit: AuditConfig{
			Enabled:   true,
			Type:      AuditTypeMemory,
			QueueSize: 1024,
			Retention: 7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "gatekeeper",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 0.1,
			},
		},
	}
}

// Validate checks the configuration for consistency across all components.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Admission.Validate(); err != nil {
		return fmt.Errorf("invalid admission config: %w", err)
	}

	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("invalid audit config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (ac *AdmissionConfig) Validate() error {
	if !ac.Enabled {
		return nil
	}

	if len(ac.Tiers) == 0 {
		return errors.New("at least one tier is required")
	}

	names := make(map[string]bool, len(ac.Tiers))
	for _, tier := range ac.Tiers {
		if err := tier.Validate(); err != nil {
			return fmt.Errorf("tier %q: %w", tier.Name, err)
		}
		if names[tier.Name] {
			return fmt.Errorf("duplicate tier name: %s", tier.Name)
		}
		names[tier.Name] = true
	}

	if ac.DefaultTier == "" {
		return errors.New("default tier cannot be empty")
	}
	if !names[ac.DefaultTier] {
		return fmt.Errorf("default tier %q is not defined", ac.DefaultTier)
	}

	for _, rule := range ac.Routes {
		if rule.Pattern == "" {
			return errors.New("route pattern cannot be empty")
		}
		if !names[rule.Tier] {
			return fmt.Errorf("route %q references undefined tier %q", rule.Pattern, rule.Tier)
		}
	}

	for _, proxy := range ac.TrustedProxies {
		if err := validateProxyEntry(proxy); err != nil {
			return err
		}
	}

	if ac.DecisionBudget <= 0 {
		return errors.New("decision budget must be positive")
	}

	if ac.Store.Type != StoreTypeMemory && ac.Store.Type != StoreTypeRedis {
		return fmt.Errorf("invalid counter store type: %s", ac.Store.Type)
	}
	if ac.Store.Type == StoreTypeRedis && ac.Store.Redis.Addr == "" {
		return errors.New("redis addr is required for the redis counter store")
	}

	if err := ac.Detector.Validate(); err != nil {
		return fmt.Errorf("invalid detector config: %w", err)
	}

	return nil
}

func (tc *TierConfig) Validate() error {
	if tc.Name == "" {
		return errors.New("name cannot be empty")
	}
	if tc.Window <= 0 {
		return errors.New("window must be positive")
	}
	if tc.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	if tc.FailMode != FailOpen && tc.FailMode != FailClosed {
		return fmt.Errorf("fail mode must be %q or %q", FailOpen, FailClosed)
	}
	return nil
}

func (dc *DetectorConfig) Validate() error {
	if !dc.Enabled {
		return nil
	}
	if dc.MaxBodyBytes < 0 {
		return errors.New("max body bytes cannot be negative")
	}
	if dc.ReplayThreshold < 0 {
		return errors.New("replay threshold cannot be negative")
	}
	if dc.ReplayThreshold > 0 && dc.ReplayWindow <= 0 {
		return errors.New("replay window must be positive when replay detection is enabled")
	}
	if dc.CacheMaxEntries <= 0 {
		return errors.New("cache max entries must be positive")
	}
	if dc.CacheTTL <= 0 {
		return errors.New("cache TTL must be positive")
	}
	return nil
}

func (auc *AuditConfig) Validate() error {
	if !auc.Enabled {
		return nil
	}

	switch auc.Type {
	case AuditTypeMemory:
	case AuditTypeSQLite:
		if auc.Path == "" {
			return errors.New("path is required for sqlite audit storage")
		}
	case AuditTypePostgres:
		if auc.DSN == "" {
			return errors.New("dsn is required for postgres audit storage")
		}
	default:
		return fmt.Errorf("invalid audit store type: %s", auc.Type)
	}

	if auc.QueueSize <= 0 {
		return errors.New("queue size must be positive")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !containsString(validLevels, strings.ToLower(lc.Level)) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if lc.Format != "json" && lc.Format != "text" {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	if !containsString(validOutputs, strings.ToLower(lc.Output)) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if strings.ToLower(lc.Output) == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}
	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}
	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}
	return nil
}

// validateProxyEntry accepts either a bare IP address or a CIDR prefix.
func validateProxyEntry(entry string) error {
	if _, err := netip.ParsePrefix(entry); err == nil {
		return nil
	}
	if _, err := netip.ParseAddr(entry); err == nil {
		return nil
	}
	return fmt.Errorf("invalid trusted proxy entry: %s", entry)
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
