package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gatekeeper/internal/models"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	if port := os.Getenv("GATEKEEPER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if host := os.Getenv("GATEKEEPER_HOST"); host != "" {
		config.Server.Host = host
	}

	if timeout := os.Getenv("GATEKEEPER_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.ReadTimeout = d
		}
	}

	if timeout := os.Getenv("GATEKEEPER_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.WriteTimeout = d
		}
	}

	if timeout := os.Getenv("GATEKEEPER_IDLE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.IdleTimeout = d
		}
	}

	if tls := os.Getenv("GATEKEEPER_TLS_ENABLED"); tls != "" {
		config.Server.TLSEnabled = strings.ToLower(tls) == "true"
	}

	if certFile := os.Getenv("GATEKEEPER_TLS_CERT_FILE"); certFile != "" {
		config.Server.TLSCertFile = certFile
	}

	if keyFile := os.Getenv("GATEKEEPER_TLS_KEY_FILE"); keyFile != "" {
		config.Server.TLSKeyFile = keyFile
	}

	// Admission configuration
	if enabled := os.Getenv("GATEKEEPER_ADMISSION_ENABLED"); enabled != "" {
		config.Admission.Enabled = strings.ToLower(enabled) == "true"
	}

	if tier := os.Getenv("GATEKEEPER_DEFAULT_TIER"); tier != "" {
		config.Admission.DefaultTier = tier
	}

	if budget := os.Getenv("GATEKEEPER_DECISION_BUDGET"); budget != "" {
		if d, err := time.ParseDuration(budget); err == nil {
			config.Admission.DecisionBudget = d
		}
	}

	if proxies := os.Getenv("GATEKEEPER_TRUSTED_PROXIES"); proxies != "" {
		config.Admission.TrustedProxies = splitAndTrim(proxies)
	}

	if exempt := os.Getenv("GATEKEEPER_EXEMPT_PATHS"); exempt != "" {
		config.Admission.ExemptPaths = splitAndTrim(exempt)
	}

	// Counter store configuration
	if storeType := os.Getenv("GATEKEEPER_STORE_TYPE"); storeType != "" {
		config.Admission.Store.Type = storeType
	}

	if sweep := os.Getenv("GATEKEEPER_STORE_SWEEP_INTERVAL"); sweep != "" {
		if d, err := time.ParseDuration(sweep); err == nil {
			config.Admission.Store.SweepInterval = d
		}
	}

	if smoothing := os.Getenv("GATEKEEPER_STORE_SMOOTHING"); smoothing != "" {
		config.Admission.Store.Smoothing = strings.ToLower(smoothing) == "true"
	}

	// Redis configuration
	if addr := os.Getenv("GATEKEEPER_REDIS_ADDR"); addr != "" {
		config.Admission.Store.Redis.Addr = addr
	}

	if password := os.Getenv("GATEKEEPER_REDIS_PASSWORD"); password != "" {
		config.Admission.Store.Redis.Password = password
	}

	if db := os.Getenv("GATEKEEPER_REDIS_DB"); db != "" {
		if dbNum, err := strconv.Atoi(db); err == nil {
			config.Admission.Store.Redis.DB = dbNum
		}
	}

	if prefix := os.Getenv("GATEKEEPER_REDIS_KEY_PREFIX"); prefix != "" {
		config.Admission.Store.Redis.KeyPrefix = prefix
	}

	if poolSize := os.Getenv("GATEKEEPER_REDIS_POOL_SIZE"); poolSize != "" {
		if size, err := strconv.Atoi(poolSize); err == nil {
			config.Admission.Store.Redis.PoolSize = size
		}
	}

	if timeout := os.Getenv("GATEKEEPER_REDIS_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Admission.Store.Redis.Timeout = d
		}
	}

	// Detector configuration
	if enabled := os.Getenv("GATEKEEPER_DETECTOR_ENABLED"); enabled != "" {
		config.Admission.Detector.Enabled = strings.ToLower(enabled) == "true"
	}

	if required := os.Getenv("GATEKEEPER_DETECTOR_REQUIRE_USER_AGENT"); required != "" {
		config.Admission.Detector.RequireUserAgent = strings.ToLower(required) == "true"
	}

	if maxBody := os.Getenv("GATEKEEPER_DETECTOR_MAX_BODY_BYTES"); maxBody != "" {
		if n, err := strconv.ParseInt(maxBody, 10, 64); err == nil {
			config.Admission.Detector.MaxBodyBytes = n
		}
	}

	if patterns := os.Getenv("GATEKEEPER_DETECTOR_BAD_AGENTS"); patterns != "" {
		config.Admission.Detector.BadAgentPatterns = splitAndTrim(patterns)
	}

	// Audit configuration
	if enabled := os.Getenv("GATEKEEPER_AUDIT_ENABLED"); enabled != "" {
		config.Audit.Enabled = strings.ToLower(enabled) == "true"
	}

	if auditType := os.Getenv("GATEKEEPER_AUDIT_TYPE"); auditType != "" {
		config.Audit.Type = auditType
	}

	if path := os.Getenv("GATEKEEPER_AUDIT_PATH"); path != "" {
		config.Audit.Path = path
	}

	if dsn := os.Getenv("GATEKEEPER_AUDIT_DSN"); dsn != "" {
		config.Audit.DSN = dsn
	}

	if retention := os.Getenv("GATEKEEPER_AUDIT_RETENTION"); retention != "" {
		if d, err := time.ParseDuration(retention); err == nil {
			config.Audit.Retention = d
		}
	}

	// Logging configuration
	if level := os.Getenv("GATEKEEPER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if format := os.Getenv("GATEKEEPER_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if output := os.Getenv("GATEKEEPER_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	if filePath := os.Getenv("GATEKEEPER_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Metrics configuration
	if metrics := os.Getenv("GATEKEEPER_METRICS_ENABLED"); metrics != "" {
		config.Metrics.Enabled = strings.ToLower(metrics) == "true"
	}

	if path := os.Getenv("GATEKEEPER_METRICS_PATH"); path != "" {
		config.Metrics.Path = path
	}

	if port := os.Getenv("GATEKEEPER_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}
}

// splitAndTrim parses a comma-separated environment value.
func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Get default config with some example values
	config := models.NewDefaultConfig()

	// Example production-ish choices: shared counters and a persistent trail
	config.Admission.Store.Type = models.StoreTypeRedis
	config.Admission.TrustedProxies = []string{"10.0.0.0/8"}
	config.Audit.Type = models.AuditTypeSQLite
	config.Audit.Path = "/var/lib/gatekeeper/audit.db"

	// Example TLS configuration
	config.Server.TLSEnabled = false
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
