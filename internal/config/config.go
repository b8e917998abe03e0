package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	S3         S3Config
	Log        LogConfig
	Parser     ParserConfig
	CORS       CORSConfig
	Batch      BatchConfig
	Retry      RetryConfig
	Circuit    CircuitConfig
	Validation ValidationConfig
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ParserProviderConfig holds settings for a single AI extraction provider.
type ParserProviderConfig struct {
	Provider     string `mapstructure:"provider"`
	APIKey       string `mapstructure:"api_key"`
	DefaultModel string `mapstructure:"default_model"`
	TimeoutSecs  int    `mapstructure:"timeout_secs"`
}

// ParserConfig holds AI provider settings with primary/secondary/tertiary fallback.
type ParserConfig struct {
	Primary   ParserProviderConfig `mapstructure:"primary"`
	Secondary ParserProviderConfig `mapstructure:"secondary"`
	Tertiary  ParserProviderConfig `mapstructure:"tertiary"`
}

// SecondaryConfig returns the secondary provider config, or nil if not configured.
func (p *ParserConfig) SecondaryConfig() *ParserProviderConfig {
	if p.Secondary.Provider != "" {
		return &p.Secondary
	}
	return nil
}

// TertiaryConfig returns the tertiary provider config, or nil if not configured.
func (p *ParserConfig) TertiaryConfig() *ParserProviderConfig {
	if p.Tertiary.Provider != "" {
		return &p.Tertiary
	}
	return nil
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
}

// S3Config holds AWS S3 settings.
type S3Config struct {
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BatchConfig holds batch executor and adaptive scaling settings.
type BatchConfig struct {
	Size               int           `mapstructure:"size"`
	MaxWorkers         int           `mapstructure:"max_workers"`
	MinWorkers         int           `mapstructure:"min_workers"`
	InitialWorkers     int           `mapstructure:"initial_workers"`
	Timeout            time.Duration `mapstructure:"timeout"`
	ThrottleRate       time.Duration `mapstructure:"throttle_rate"`
	TargetSuccessRate  float64       `mapstructure:"target_success_rate"`
	AdaptationInterval int           `mapstructure:"adaptation_interval"`
}

// RetryConfig holds retry policy settings for remote calls.
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
	JitterFraction float64       `mapstructure:"jitter_fraction"`
}

// CircuitConfig holds circuit breaker settings for remote calls.
type CircuitConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

// ValidationConfig holds rule source and confidence settings.
type ValidationConfig struct {
	RulesSource       string  `mapstructure:"rules_source"`
	HighThreshold     float64 `mapstructure:"high_threshold"`
	MediumThreshold   float64 `mapstructure:"medium_threshold"`
	FailurePenalty    float64 `mapstructure:"failure_penalty"`
	DefaultConfidence float64 `mapstructure:"default_confidence"`
}

// Validate rejects configurations that cannot be satisfied at runtime.
func (c *Config) Validate() error {
	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch.size must be positive, got %d", c.Batch.Size)
	}
	if c.Batch.MinWorkers <= 0 || c.Batch.MaxWorkers < c.Batch.MinWorkers {
		return fmt.Errorf("batch workers must satisfy 0 < min (%d) <= max (%d)", c.Batch.MinWorkers, c.Batch.MaxWorkers)
	}
	if c.Batch.TargetSuccessRate < 0 || c.Batch.TargetSuccessRate > 1 {
		return fmt.Errorf("batch.target_success_rate must be within [0,1], got %f", c.Batch.TargetSuccessRate)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be >= 1, got %f", c.Retry.BackoffFactor)
	}
	if c.Circuit.FailureThreshold <= 0 || c.Circuit.HalfOpenMaxCalls <= 0 {
		return fmt.Errorf("circuit thresholds must be positive")
	}
	if c.Validation.MediumThreshold > c.Validation.HighThreshold {
		return fmt.Errorf("validation.medium_threshold (%f) exceeds high_threshold (%f)",
			c.Validation.MediumThreshold, c.Validation.HighThreshold)
	}
	return nil
}

// Load reads configuration from environment variables with the DOCMETA_ prefix.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCMETA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Server defaults
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.environment", "development")

	// S3 defaults
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "docmeta-content")
	v.SetDefault("s3.endpoint", "")

	// Log defaults
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.format", "console")

	v.SetDefault("cors.allowed_origins", "http://localhost:3000,http://127.0.0.1:3000")

	// Parser defaults
	v.SetDefault("parser.primary.provider", "claude")
	v.SetDefault("parser.primary.api_key", "")
	v.SetDefault("parser.primary.default_model", "claude-sonnet-4-20250514")
	v.SetDefault("parser.primary.timeout_secs", 120)
	v.SetDefault("parser.secondary.provider", "")
	v.SetDefault("parser.secondary.api_key", "")
	v.SetDefault("parser.secondary.default_model", "")
	v.SetDefault("parser.secondary.timeout_secs", 120)
	v.SetDefault("parser.tertiary.provider", "")
	v.SetDefault("parser.tertiary.api_key", "")
	v.SetDefault("parser.tertiary.default_model", "")
	v.SetDefault("parser.tertiary.timeout_secs", 120)

	// Batch defaults
	v.SetDefault("batch.size", 10)
	v.SetDefault("batch.max_workers", 8)
	v.SetDefault("batch.min_workers", 1)
	v.SetDefault("batch.initial_workers", 4)
	v.SetDefault("batch.timeout", "5m")
	v.SetDefault("batch.throttle_rate", "100ms")
	v.SetDefault("batch.target_success_rate", 0.9)
	v.SetDefault("batch.adaptation_interval", 3)

	// Retry defaults
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.backoff_factor", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.1)

	// Circuit defaults
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.recovery_timeout", "60s")
	v.SetDefault("circuit.half_open_max_calls", 1)

	// Validation defaults
	v.SetDefault("validation.rules_source", "config/validation_rules.json")
	v.SetDefault("validation.high_threshold", 0.8)
	v.SetDefault("validation.medium_threshold", 0.5)
	v.SetDefault("validation.failure_penalty", 0.4)
	v.SetDefault("validation.default_confidence", 0.5)

	// Bind environment variables explicitly for nested keys
	envBindings := map[string]string{
		"server.port":                    "DOCMETA_SERVER_PORT",
		"server.read_timeout":            "DOCMETA_SERVER_READ_TIMEOUT",
		"server.write_timeout":           "DOCMETA_SERVER_WRITE_TIMEOUT",
		"server.environment":             "DOCMETA_SERVER_ENVIRONMENT",
		"s3.region":                      "DOCMETA_S3_REGION",
		"s3.bucket":                      "DOCMETA_S3_BUCKET",
		"s3.endpoint":                    "DOCMETA_S3_ENDPOINT",
		"s3.access_key":                  "DOCMETA_S3_ACCESS_KEY",
		"s3.secret_key":                  "DOCMETA_S3_SECRET_KEY",
		"log.level":                      "DOCMETA_LOG_LEVEL",
		"log.format":                     "DOCMETA_LOG_FORMAT",
		"cors.allowed_origins":           "DOCMETA_CORS_ALLOWED_ORIGINS",
		"parser.primary.provider":        "DOCMETA_PARSER_PRIMARY_PROVIDER",
		"parser.primary.api_key":         "DOCMETA_PARSER_PRIMARY_API_KEY",
		"parser.primary.default_model":   "DOCMETA_PARSER_PRIMARY_DEFAULT_MODEL",
		"parser.primary.timeout_secs":    "DOCMETA_PARSER_PRIMARY_TIMEOUT_SECS",
		"parser.secondary.provider":      "DOCMETA_PARSER_SECONDARY_PROVIDER",
		"parser.secondary.api_key":       "DOCMETA_PARSER_SECONDARY_API_KEY",
		"parser.secondary.default_model": "DOCMETA_PARSER_SECONDARY_DEFAULT_MODEL",
		"parser.secondary.timeout_secs":  "DOCMETA_PARSER_SECONDARY_TIMEOUT_SECS",
		"parser.tertiary.provider":       "DOCMETA_PARSER_TERTIARY_PROVIDER",
		"parser.tertiary.api_key":        "DOCMETA_PARSER_TERTIARY_API_KEY",
		"parser.tertiary.default_model":  "DOCMETA_PARSER_TERTIARY_DEFAULT_MODEL",
		"parser.tertiary.timeout_secs":   "DOCMETA_PARSER_TERTIARY_TIMEOUT_SECS",
		"batch.size":                     "DOCMETA_BATCH_SIZE",
		"batch.max_workers":              "DOCMETA_BATCH_MAX_WORKERS",
		"batch.min_workers":              "DOCMETA_BATCH_MIN_WORKERS",
		"batch.initial_workers":          "DOCMETA_BATCH_INITIAL_WORKERS",
		"batch.timeout":                  "DOCMETA_BATCH_TIMEOUT",
		"batch.throttle_rate":            "DOCMETA_BATCH_THROTTLE_RATE",
		"batch.target_success_rate":      "DOCMETA_BATCH_TARGET_SUCCESS_RATE",
		"batch.adaptation_interval":      "DOCMETA_BATCH_ADAPTATION_INTERVAL",
		"retry.max_retries":              "DOCMETA_RETRY_MAX_RETRIES",
		"retry.base_delay":               "DOCMETA_RETRY_BASE_DELAY",
		"retry.max_delay":                "DOCMETA_RETRY_MAX_DELAY",
		"retry.backoff_factor":           "DOCMETA_RETRY_BACKOFF_FACTOR",
		"retry.jitter_fraction":          "DOCMETA_RETRY_JITTER_FRACTION",
		"circuit.failure_threshold":      "DOCMETA_CIRCUIT_FAILURE_THRESHOLD",
		"circuit.recovery_timeout":       "DOCMETA_CIRCUIT_RECOVERY_TIMEOUT",
		"circuit.half_open_max_calls":    "DOCMETA_CIRCUIT_HALF_OPEN_MAX_CALLS",
		"validation.rules_source":        "DOCMETA_VALIDATION_RULES_SOURCE",
		"validation.high_threshold":      "DOCMETA_VALIDATION_HIGH_THRESHOLD",
		"validation.medium_threshold":    "DOCMETA_VALIDATION_MEDIUM_THRESHOLD",
		"validation.failure_penalty":     "DOCMETA_VALIDATION_FAILURE_PENALTY",
		"validation.default_confidence":  "DOCMETA_VALIDATION_DEFAULT_CONFIDENCE",
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	cfg := &Config{}

	// PaaS platforms set PORT. Use it if DOCMETA_SERVER_PORT is not explicitly set.
	serverPort := v.GetString("server.port")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("DOCMETA_SERVER_PORT") == "" {
		serverPort = ":" + port
	}

	cfg.Server = ServerConfig{
		Port:         serverPort,
		ReadTimeout:  v.GetDuration("server.read_timeout"),
		WriteTimeout: v.GetDuration("server.write_timeout"),
		Environment:  v.GetString("server.environment"),
	}
	cfg.S3 = S3Config{
		Region:    v.GetString("s3.region"),
		Bucket:    v.GetString("s3.bucket"),
		Endpoint:  v.GetString("s3.endpoint"),
		AccessKey: v.GetString("s3.access_key"),
		SecretKey: v.GetString("s3.secret_key"),
	}
	cfg.Log = LogConfig{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}

	var corsOrigins []string
	for _, o := range strings.Split(v.GetString("cors.allowed_origins"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			corsOrigins = append(corsOrigins, o)
		}
	}
	cfg.CORS = CORSConfig{AllowedOrigins: corsOrigins}

	cfg.Parser = ParserConfig{
		Primary: ParserProviderConfig{
			Provider:     v.GetString("parser.primary.provider"),
			APIKey:       v.GetString("parser.primary.api_key"),
			DefaultModel: v.GetString("parser.primary.default_model"),
			TimeoutSecs:  v.GetInt("parser.primary.timeout_secs"),
		},
		Secondary: ParserProviderConfig{
			Provider:     v.GetString("parser.secondary.provider"),
			APIKey:       v.GetString("parser.secondary.api_key"),
			DefaultModel: v.GetString("parser.secondary.default_model"),
			TimeoutSecs:  v.GetInt("parser.secondary.timeout_secs"),
		},
		Tertiary: ParserProviderConfig{
			Provider:     v.GetString("parser.tertiary.provider"),
			APIKey:       v.GetString("parser.tertiary.api_key"),
			DefaultModel: v.GetString("parser.tertiary.default_model"),
			TimeoutSecs:  v.GetInt("parser.tertiary.timeout_secs"),
		},
	}

	cfg.Batch = BatchConfig{
		Size:               v.GetInt("batch.size"),
		MaxWorkers:         v.GetInt("batch.max_workers"),
		MinWorkers:         v.GetInt("batch.min_workers"),
		InitialWorkers:     v.GetInt("batch.initial_workers"),
		Timeout:            v.GetDuration("batch.timeout"),
		ThrottleRate:       v.GetDuration("batch.throttle_rate"),
		TargetSuccessRate:  v.GetFloat64("batch.target_success_rate"),
		AdaptationInterval: v.GetInt("batch.adaptation_interval"),
	}
	cfg.Retry = RetryConfig{
		MaxRetries:     v.GetInt("retry.max_retries"),
		BaseDelay:      v.GetDuration("retry.base_delay"),
		MaxDelay:       v.GetDuration("retry.max_delay"),
		BackoffFactor:  v.GetFloat64("retry.backoff_factor"),
		JitterFraction: v.GetFloat64("retry.jitter_fraction"),
	}
	cfg.Circuit = CircuitConfig{
		FailureThreshold: v.GetInt("circuit.failure_threshold"),
		RecoveryTimeout:  v.GetDuration("circuit.recovery_timeout"),
		HalfOpenMaxCalls: v.GetInt("circuit.half_open_max_calls"),
	}
	cfg.Validation = ValidationConfig{
		RulesSource:       v.GetString("validation.rules_source"),
		HighThreshold:     v.GetFloat64("validation.high_threshold"),
		MediumThreshold:   v.GetFloat64("validation.medium_threshold"),
		FailurePenalty:    v.GetFloat64("validation.failure_penalty"),
		DefaultConfidence: v.GetFloat64("validation.default_confidence"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
