package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the governance layer configuration
type Config struct {
	Log        LogConfig
	Audit      AuditConfig
	Graph      GraphConfig
	Classifier ClassifierConfig
	Input      InputConfig
	Output     OutputConfig
	RateLimit  RateLimitConfig
	Permission PermissionConfig
	Tracing    TracingConfig
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// AuditConfig contains audit event sink configuration
type AuditConfig struct {
	Enabled       bool
	Sink          string // "file", "stdout"
	FilePath      string
	BufferSize    int
	FlushInterval time.Duration
}

// GraphConfig contains graph store configuration
type GraphConfig struct {
	Backend    string // "noop", "memory", "badger"
	DataDir    string
	SyncWrites bool
	GCInterval time.Duration
}

// ClassifierConfig contains safety classifier client configuration
type ClassifierConfig struct {
	Enabled        bool
	BaseURL        string
	Model          string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	MaxTokens      int
	RequestsPerSec float64
	Burst          int
}

// InputConfig contains input guard configuration
type InputConfig struct {
	MinClassifyLength int
	FailurePolicy     string // "fail_open", "fail_closed"
}

// OutputConfig contains output guard configuration
type OutputConfig struct {
	Paranoid           bool
	LeakSizeThreshold  int
	LeakEmailThreshold int
}

// RateLimitConfig contains rate limiter configuration
type RateLimitConfig struct {
	HistorySize int
	HistoryTTL  time.Duration
	ExemptUsers []string
}

// PermissionConfig contains permission cache configuration
type PermissionConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// TracingConfig contains OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRatio  float64
	InsecureConn   bool
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Log: LogConfig{
			Level:  getEnvString("GUARDRAIL_LOG_LEVEL", "info"),
			Format: getEnvString("GUARDRAIL_LOG_FORMAT", "text"),
		},
		Audit: AuditConfig{
			Enabled:       getEnvBool("GUARDRAIL_AUDIT_ENABLED", true),
			Sink:          getEnvString("GUARDRAIL_AUDIT_SINK", "file"),
			FilePath:      getEnvString("GUARDRAIL_AUDIT_FILE", "./security_audit.ndjson"),
			BufferSize:    getEnvInt("GUARDRAIL_AUDIT_BUFFER_SIZE", 1024),
			FlushInterval: getEnvDuration("GUARDRAIL_AUDIT_FLUSH_INTERVAL", 2*time.Second),
		},
		Graph: GraphConfig{
			Backend:    getEnvString("GUARDRAIL_GRAPH_BACKEND", "noop"),
			DataDir:    getEnvString("GUARDRAIL_GRAPH_DATA_DIR", "./graphdata"),
			SyncWrites: getEnvBool("GUARDRAIL_GRAPH_SYNC_WRITES", true),
			GCInterval: getEnvDuration("GUARDRAIL_GRAPH_GC_INTERVAL", 5*time.Minute),
		},
		Classifier: ClassifierConfig{
			Enabled:        getEnvBool("GUARDRAIL_CLASSIFIER_ENABLED", false),
			BaseURL:        getEnvString("GUARDRAIL_CLASSIFIER_URL", "http://localhost:11434"),
			Model:          getEnvString("GUARDRAIL_CLASSIFIER_MODEL", "llama3.2"),
			Timeout:        getEnvDuration("GUARDRAIL_CLASSIFIER_TIMEOUT", 10*time.Second),
			MaxRetries:     getEnvInt("GUARDRAIL_CLASSIFIER_MAX_RETRIES", 2),
			RetryDelay:     getEnvDuration("GUARDRAIL_CLASSIFIER_RETRY_DELAY", 500*time.Millisecond),
			MaxTokens:      getEnvInt("GUARDRAIL_CLASSIFIER_MAX_TOKENS", 128),
			RequestsPerSec: getEnvFloat("GUARDRAIL_CLASSIFIER_RPS", 5.0),
			Burst:          getEnvInt("GUARDRAIL_CLASSIFIER_BURST", 5),
		},
		Input: InputConfig{
			MinClassifyLength: getEnvInt("GUARDRAIL_INPUT_MIN_CLASSIFY_LENGTH", 20),
			FailurePolicy:     getEnvString("GUARDRAIL_INPUT_FAILURE_POLICY", "fail_open"),
		},
		Output: OutputConfig{
			Paranoid:           getEnvBool("GUARDRAIL_OUTPUT_PARANOID", false),
			LeakSizeThreshold:  getEnvInt("GUARDRAIL_OUTPUT_LEAK_SIZE_THRESHOLD", 5000),
			LeakEmailThreshold: getEnvInt("GUARDRAIL_OUTPUT_LEAK_EMAIL_THRESHOLD", 10),
		},
		RateLimit: RateLimitConfig{
			HistorySize: getEnvInt("GUARDRAIL_RATE_LIMIT_HISTORY_SIZE", 10000),
			HistoryTTL:  getEnvDuration("GUARDRAIL_RATE_LIMIT_HISTORY_TTL", time.Hour),
			ExemptUsers: getEnvStringSlice("GUARDRAIL_RATE_LIMIT_EXEMPT_USERS", nil),
		},
		Permission: PermissionConfig{
			CacheSize: getEnvInt("GUARDRAIL_PERMISSION_CACHE_SIZE", 1000),
			CacheTTL:  getEnvDuration("GUARDRAIL_PERMISSION_CACHE_TTL", 5*time.Minute),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("GUARDRAIL_TRACING_ENABLED", false),
			Endpoint:       getEnvString("GUARDRAIL_TRACING_ENDPOINT", "otel-collector:4318"),
			ServiceName:    getEnvString("GUARDRAIL_TRACING_SERVICE_NAME", "guardrail"),
			ServiceVersion: getEnvString("GUARDRAIL_TRACING_SERVICE_VERSION", "1.0.0"),
			Environment:    getEnvString("GUARDRAIL_TRACING_ENVIRONMENT", "development"),
			SamplingRatio:  getEnvFloat("GUARDRAIL_TRACING_SAMPLING_RATIO", 1.0),
			InsecureConn:   getEnvBool("GUARDRAIL_TRACING_INSECURE", true),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	if c.Audit.Enabled {
		validSinks := map[string]bool{
			"file":   true,
			"stdout": true,
		}
		if !validSinks[c.Audit.Sink] {
			return fmt.Errorf("invalid audit sink: %s (must be file or stdout)", c.Audit.Sink)
		}

		if c.Audit.Sink == "file" && c.Audit.FilePath == "" {
			return fmt.Errorf("audit file path must be specified for the file sink")
		}

		if c.Audit.BufferSize <= 0 {
			return fmt.Errorf("audit buffer size must be positive")
		}

		if c.Audit.FlushInterval <= 0 {
			return fmt.Errorf("audit flush interval must be positive")
		}
	}

	validBackends := map[string]bool{
		"noop":   true,
		"memory": true,
		"badger": true,
	}
	if !validBackends[c.Graph.Backend] {
		return fmt.Errorf("invalid graph backend: %s (must be noop, memory, or badger)", c.Graph.Backend)
	}

	if c.Graph.Backend == "badger" && c.Graph.DataDir == "" {
		return fmt.Errorf("graph data directory must be specified for the badger backend")
	}

	if c.Classifier.Enabled {
		if c.Classifier.BaseURL == "" {
			return fmt.Errorf("classifier base URL must be specified when the classifier is enabled")
		}

		if c.Classifier.Model == "" {
			return fmt.Errorf("classifier model must be specified when the classifier is enabled")
		}

		if c.Classifier.Timeout <= 0 {
			return fmt.Errorf("classifier timeout must be positive")
		}

		if c.Classifier.MaxRetries < 0 {
			return fmt.Errorf("classifier max retries must not be negative")
		}

		if c.Classifier.MaxTokens <= 0 {
			return fmt.Errorf("classifier max tokens must be positive")
		}

		if c.Classifier.RequestsPerSec <= 0 {
			return fmt.Errorf("classifier requests per second must be positive")
		}
	}

	if c.Input.MinClassifyLength < 0 {
		return fmt.Errorf("input min classify length must not be negative")
	}

	validPolicies := map[string]bool{
		"fail_open":   true,
		"fail_closed": true,
	}
	if !validPolicies[c.Input.FailurePolicy] {
		return fmt.Errorf("invalid input failure policy: %s (must be fail_open or fail_closed)", c.Input.FailurePolicy)
	}

	if c.Output.LeakSizeThreshold <= 0 {
		return fmt.Errorf("output leak size threshold must be positive")
	}

	if c.Output.LeakEmailThreshold <= 0 {
		return fmt.Errorf("output leak email threshold must be positive")
	}

	if c.RateLimit.HistorySize <= 0 {
		return fmt.Errorf("rate limit history size must be positive")
	}

	if c.RateLimit.HistoryTTL <= 0 {
		return fmt.Errorf("rate limit history TTL must be positive")
	}

	if c.Permission.CacheSize <= 0 {
		return fmt.Errorf("permission cache size must be positive")
	}

	if c.Permission.CacheTTL <= 0 {
		return fmt.Errorf("permission cache TTL must be positive")
	}

	return nil
}

// getEnvString gets a string environment variable with a default value
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvStringSlice gets a comma-separated string environment variable as a slice with a default value
func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		result := []string{}
		for _, v := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
