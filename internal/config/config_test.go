package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docmeta/internal/config"
)

func TestParserConfig_SecondaryConfig_NotConfigured(t *testing.T) {
	cfg := config.ParserConfig{
		Primary: config.ParserProviderConfig{Provider: "claude", APIKey: "sk-test"},
	}

	assert.Nil(t, cfg.SecondaryConfig())
}

func TestParserConfig_SecondaryConfig_Configured(t *testing.T) {
	cfg := config.ParserConfig{
		Primary: config.ParserProviderConfig{Provider: "claude"},
		Secondary: config.ParserProviderConfig{
			Provider:     "openai",
			APIKey:       "sk-openai",
			DefaultModel: "gpt-4o",
		},
	}

	secondary := cfg.SecondaryConfig()

	require.NotNil(t, secondary)
	assert.Equal(t, "openai", secondary.Provider)
	assert.Equal(t, "sk-openai", secondary.APIKey)
	assert.Equal(t, "gpt-4o", secondary.DefaultModel)
}

func TestParserConfig_TertiaryConfig(t *testing.T) {
	cfg := config.ParserConfig{Primary: config.ParserProviderConfig{Provider: "claude"}}
	assert.Nil(t, cfg.TertiaryConfig())

	cfg.Tertiary = config.ParserProviderConfig{Provider: "gemini", APIKey: "g-key"}
	tertiary := cfg.TertiaryConfig()
	require.NotNil(t, tertiary)
	assert.Equal(t, "gemini", tertiary.Provider)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Batch.Size)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 60*time.Second, cfg.Circuit.RecoveryTimeout)
	assert.Equal(t, "claude", cfg.Parser.Primary.Provider)
	assert.Equal(t, "config/validation_rules.json", cfg.Validation.RulesSource)
	assert.Equal(t, []string{"http://localhost:3000", "http://127.0.0.1:3000"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DOCMETA_BATCH_MAX_WORKERS", "16")
	t.Setenv("DOCMETA_RETRY_BASE_DELAY", "250ms")
	t.Setenv("DOCMETA_PARSER_SECONDARY_PROVIDER", "openai")
	t.Setenv("DOCMETA_PARSER_TERTIARY_PROVIDER", "gemini")
	t.Setenv("DOCMETA_PARSER_TERTIARY_DEFAULT_MODEL", "gemini-2.0-flash")
	t.Setenv("DOCMETA_VALIDATION_RULES_SOURCE", "s3://rules/validation_rules.json")
	t.Setenv("PORT", "9000")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Batch.MaxWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, "openai", cfg.Parser.SecondaryConfig().Provider)
	require.NotNil(t, cfg.Parser.TertiaryConfig())
	assert.Equal(t, "gemini-2.0-flash", cfg.Parser.TertiaryConfig().DefaultModel)
	assert.Equal(t, "s3://rules/validation_rules.json", cfg.Validation.RulesSource)
	assert.Equal(t, ":9000", cfg.Server.Port)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("DOCMETA_BATCH_MIN_WORKERS", "8")
	t.Setenv("DOCMETA_BATCH_MAX_WORKERS", "2")

	_, err := config.Load()
	assert.ErrorContains(t, err, "batch workers")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			Batch:      config.BatchConfig{Size: 1, MinWorkers: 1, MaxWorkers: 1, TargetSuccessRate: 0.9},
			Retry:      config.RetryConfig{BackoffFactor: 2},
			Circuit:    config.CircuitConfig{FailureThreshold: 1, HalfOpenMaxCalls: 1},
			Validation: config.ValidationConfig{HighThreshold: 0.8, MediumThreshold: 0.5},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero batch size", func(c *config.Config) { c.Batch.Size = 0 }},
		{"success rate above one", func(c *config.Config) { c.Batch.TargetSuccessRate = 1.5 }},
		{"negative retries", func(c *config.Config) { c.Retry.MaxRetries = -1 }},
		{"backoff below one", func(c *config.Config) { c.Retry.BackoffFactor = 0.5 }},
		{"zero threshold", func(c *config.Config) { c.Circuit.FailureThreshold = 0 }},
		{"medium above high", func(c *config.Config) { c.Validation.MediumThreshold = 0.9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
