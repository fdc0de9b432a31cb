// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/tokenrisk/internal/score"
	"github.com/mbd888/tokenrisk/internal/signal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	CORSOrigins  []string
	RateLimitRPM int // assessment submissions per client per minute

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Scoring configuration
	ProfileDir     string // extra profiles and rule catalog (optional)
	RulesFile      string // normalization rules (optional, embedded defaults otherwise)
	DefaultProfile string

	// Collection
	CollectTimeout   time.Duration
	BatchConcurrency int
	PayloadDir       string // pre-fetched payloads, used instead of HTTP providers when set
	CacheDir         string // badger cache directory (optional, in-memory cache otherwise)
	CacheTTL         time.Duration
	ProviderRPS      float64 // outbound requests per second per provider, 0 disables
	Providers        []Provider

	// History
	HistoryFile   string // sqlite file for CLI history (optional)
	WatchProfiles bool

	// Webhooks
	WebhookURLs     []string
	WebhookSecret   string // HMAC-SHA256 key for X-Tokenrisk-Signature (optional)
	WebhookMinTier  string // lowest tier that is delivered
	WebhookFailures bool   // also deliver failed assessments

	// Tracing
	OTLPEndpoint string
}

// Provider is one HTTP data source.
type Provider struct {
	Name   string
	Kind   signal.ProviderKind
	URL    string
	APIKey string
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultProfile          = "global"
	DefaultCollectTimeout   = 10 * time.Second
	DefaultBatchConcurrency = 4
	DefaultCacheTTL         = time.Hour
	DefaultRateLimitRPM     = 30
	DefaultProviderRPS      = 5
	DefaultWebhookMinTier   = "High"

	MaxCollectTimeout   = 5 * time.Minute
	MaxBatchConcurrency = 64
)

// providerEnv maps each provider to the environment variables that
// configure it. A provider without a URL is disabled.
var providerEnv = []struct {
	name, urlKey, keyKey string
	kind                 signal.ProviderKind
}{
	{"etherscan", "ETHERSCAN_API_URL", "ETHERSCAN_API_KEY", signal.ProviderExplorer},
	{"coingecko", "COINGECKO_API_URL", "COINGECKO_API_KEY", signal.ProviderMarket},
	{"goplus", "GOPLUS_API_URL", "GOPLUS_API_KEY", signal.ProviderSecurity},
	{"compliance", "COMPLIANCE_API_URL", "COMPLIANCE_API_KEY", signal.ProviderCompliance},
	{"governance", "GOVERNANCE_API_URL", "GOVERNANCE_API_KEY", signal.ProviderGovernance},
	{"social", "SOCIAL_API_URL", "SOCIAL_API_KEY", signal.ProviderSocial},
}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		ProfileDir:       os.Getenv("PROFILE_DIR"),
		RulesFile:        os.Getenv("RULES_FILE"),
		DefaultProfile:   strings.ToLower(getEnv("DEFAULT_PROFILE", DefaultProfile)),
		CollectTimeout:   getEnvDuration("COLLECT_TIMEOUT", DefaultCollectTimeout),
		BatchConcurrency: int(getEnvInt64("BATCH_CONCURRENCY", DefaultBatchConcurrency)),
		PayloadDir:       os.Getenv("PAYLOAD_DIR"),
		CacheDir:         os.Getenv("CACHE_DIR"),
		CacheTTL:         getEnvDuration("CACHE_TTL", DefaultCacheTTL),
		ProviderRPS:      getEnvFloat("PROVIDER_RPS", DefaultProviderRPS),
		HistoryFile:      os.Getenv("HISTORY_FILE"),
		WatchProfiles:    getEnvBool("WATCH_PROFILES", false),
		CORSOrigins:      getEnvList("CORS_ORIGINS", []string{"*"}),
		RateLimitRPM:     int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		WebhookURLs:      getEnvList("WEBHOOK_URLS", nil),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		WebhookMinTier:   getEnv("WEBHOOK_MIN_TIER", DefaultWebhookMinTier),
		WebhookFailures:  getEnvBool("WEBHOOK_FAILURES", false),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	for _, p := range providerEnv {
		if u := os.Getenv(p.urlKey); u != "" {
			cfg.Providers = append(cfg.Providers, Provider{
				Name:   p.name,
				Kind:   p.kind,
				URL:    u,
				APIKey: os.Getenv(p.keyKey),
			})
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	if c.DefaultProfile == "" {
		return fmt.Errorf("DEFAULT_PROFILE must not be empty")
	}
	if c.CollectTimeout <= 0 || c.CollectTimeout > MaxCollectTimeout {
		return fmt.Errorf("COLLECT_TIMEOUT must be between 0 and %s", MaxCollectTimeout)
	}
	if c.BatchConcurrency < 1 || c.BatchConcurrency > MaxBatchConcurrency {
		return fmt.Errorf("BATCH_CONCURRENCY must be between 1 and %d", MaxBatchConcurrency)
	}
	if c.RateLimitRPM < 1 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	if c.ProviderRPS < 0 {
		return fmt.Errorf("PROVIDER_RPS must not be negative")
	}
	if c.WatchProfiles && c.ProfileDir == "" {
		return fmt.Errorf("WATCH_PROFILES requires PROFILE_DIR")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("CACHE_TTL must not be negative")
	}
	for _, p := range c.Providers {
		if !isHTTPURL(p.URL) {
			return fmt.Errorf("%s url must be an absolute http(s) URL", p.Name)
		}
	}
	for _, u := range c.WebhookURLs {
		if !isHTTPURL(u) {
			return fmt.Errorf("WEBHOOK_URLS entry %q must be an absolute http(s) URL", u)
		}
	}
	if _, err := score.ParseTier(c.WebhookMinTier); err != nil {
		return fmt.Errorf("WEBHOOK_MIN_TIER: %w", err)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
