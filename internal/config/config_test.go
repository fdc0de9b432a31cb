package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/tokenrisk/internal/signal"
)

// clearEnv blanks every variable Load reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "PROFILE_DIR",
		"RULES_FILE", "DEFAULT_PROFILE", "COLLECT_TIMEOUT", "BATCH_CONCURRENCY",
		"PAYLOAD_DIR", "CACHE_DIR", "CACHE_TTL", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"PROVIDER_RPS", "HISTORY_FILE", "WATCH_PROFILES", "CORS_ORIGINS", "RATE_LIMIT_RPM",
		"WEBHOOK_URLS", "WEBHOOK_SECRET", "WEBHOOK_MIN_TIER", "WEBHOOK_FAILURES",
	} {
		t.Setenv(key, "")
	}
	for _, p := range providerEnv {
		t.Setenv(p.urlKey, "")
		t.Setenv(p.keyKey, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultLogFormat, cfg.LogFormat)
	assert.Equal(t, DefaultProfile, cfg.DefaultProfile)
	assert.Equal(t, DefaultCollectTimeout, cfg.CollectTimeout)
	assert.Equal(t, DefaultBatchConcurrency, cfg.BatchConcurrency)
	assert.Equal(t, DefaultCacheTTL, cfg.CacheTTL)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.Providers)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
	assert.Equal(t, float64(DefaultProviderRPS), cfg.ProviderRPS)
	assert.False(t, cfg.WatchProfiles)
	assert.Empty(t, cfg.WebhookURLs)
	assert.Equal(t, DefaultWebhookMinTier, cfg.WebhookMinTier)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("DEFAULT_PROFILE", "EU")
	t.Setenv("COLLECT_TIMEOUT", "3s")
	t.Setenv("BATCH_CONCURRENCY", "8")
	t.Setenv("CACHE_TTL", "15m")
	t.Setenv("ETHERSCAN_API_URL", "https://api.example.com/{chain}/{token}")
	t.Setenv("ETHERSCAN_API_KEY", "k1")
	t.Setenv("SOCIAL_API_URL", "http://social.local/v1/{token}")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("PROVIDER_RPS", "0.5")
	t.Setenv("PROFILE_DIR", "/etc/tokenrisk/profiles")
	t.Setenv("WATCH_PROFILES", "true")
	t.Setenv("WEBHOOK_URLS", "https://hooks.example/risk")
	t.Setenv("WEBHOOK_MIN_TIER", "medium")
	t.Setenv("WEBHOOK_FAILURES", "1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "eu", cfg.DefaultProfile)
	assert.Equal(t, 3*time.Second, cfg.CollectTimeout)
	assert.Equal(t, 8, cfg.BatchConcurrency)
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 0.5, cfg.ProviderRPS)
	assert.True(t, cfg.WatchProfiles)
	assert.Equal(t, []string{"https://hooks.example/risk"}, cfg.WebhookURLs)
	assert.Equal(t, "medium", cfg.WebhookMinTier)
	assert.True(t, cfg.WebhookFailures)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, Provider{Name: "etherscan", Kind: signal.ProviderExplorer, URL: "https://api.example.com/{chain}/{token}", APIKey: "k1"}, cfg.Providers[0])
	assert.Equal(t, "social", cfg.Providers[1].Name)
	assert.Equal(t, signal.ProviderSocial, cfg.Providers[1].Kind)
}

func TestLoad_UnparseableFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("COLLECT_TIMEOUT", "soon")
	t.Setenv("BATCH_CONCURRENCY", "many")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultCollectTimeout, cfg.CollectTimeout)
	assert.Equal(t, DefaultBatchConcurrency, cfg.BatchConcurrency)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:             "8080",
			LogLevel:         "info",
			LogFormat:        "text",
			DefaultProfile:   "global",
			CollectTimeout:   time.Second,
			BatchConcurrency: 4,
			CacheTTL:         time.Hour,
			RateLimitRPM:     30,
			WebhookMinTier:   "High",
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.Port = "http" }, "PORT"},
		{"port range", func(c *Config) { c.Port = "70000" }, "PORT"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"empty profile", func(c *Config) { c.DefaultProfile = "" }, "DEFAULT_PROFILE"},
		{"zero timeout", func(c *Config) { c.CollectTimeout = 0 }, "COLLECT_TIMEOUT"},
		{"huge timeout", func(c *Config) { c.CollectTimeout = time.Hour }, "COLLECT_TIMEOUT"},
		{"zero concurrency", func(c *Config) { c.BatchConcurrency = 0 }, "BATCH_CONCURRENCY"},
		{"too much concurrency", func(c *Config) { c.BatchConcurrency = 1000 }, "BATCH_CONCURRENCY"},
		{"zero rate limit", func(c *Config) { c.RateLimitRPM = 0 }, "RATE_LIMIT_RPM"},
		{"negative provider rps", func(c *Config) { c.ProviderRPS = -1 }, "PROVIDER_RPS"},
		{"watch without dir", func(c *Config) { c.WatchProfiles = true }, "WATCH_PROFILES"},
		{"negative ttl", func(c *Config) { c.CacheTTL = -time.Second }, "CACHE_TTL"},
		{"provider url", func(c *Config) {
			c.Providers = []Provider{{Name: "goplus", Kind: signal.ProviderSecurity, URL: "ftp://x"}}
		}, "goplus"},
		{"webhook url", func(c *Config) { c.WebhookURLs = []string{"hooks.example"} }, "WEBHOOK_URLS"},
		{"webhook tier", func(c *Config) { c.WebhookMinTier = "severe" }, "WEBHOOK_MIN_TIER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
