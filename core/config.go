package core

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Provider names understood by bananagen.
const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderRequesty   = "requesty"
	ProviderMock       = "mock"
)

// KnownProviders lists every provider name in default priority order.
var KnownProviders = []string{ProviderGemini, ProviderOpenRouter, ProviderRequesty, ProviderMock}

// Default provider endpoints and models.
const (
	DefaultGeminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel       = "gemini-2.5-flash-image-preview"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultRequestyBaseURL   = "https://api.requesty.ai/v1"
	DefaultRoutedModel       = "google/gemini-1.5-flash"
	DefaultReferer           = "https://bananagen.com"
	DefaultAppTitle          = "BananaGen"
)

// ProviderSettings holds the credentials and endpoint for one provider.
type ProviderSettings struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
}

// Configured reports whether the provider has credentials.
func (p ProviderSettings) Configured() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

// MinIOSettings configures the S3-compatible artifact bucket.
type MinIOSettings struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
}

// Enabled reports whether an endpoint is configured.
func (m MinIOSettings) Enabled() bool {
	return strings.TrimSpace(m.Endpoint) != ""
}

// Config holds all configuration values
type Config struct {
	// Provider credentials and endpoints
	Gemini     ProviderSettings
	OpenRouter ProviderSettings
	Requesty   ProviderSettings
	Referer    string // HTTP-Referer sent to routed providers
	AppTitle   string // X-Title sent to routed providers

	// Provider selection
	ProviderOrder []string // Priority order when a job names no provider
	Fallback      bool     // Allow falling back away from an explicitly named provider
	MockMode      bool     // Register the mock provider

	// Orchestration
	Concurrency  int
	RateInterval time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	HTTPTimeout  time.Duration

	// Storage and output
	DBPath      string
	DatabaseURL string // Optional Postgres cache shared between hosts
	OutputDir   string
	SecretKey   string // Seals provider keys stored by `bananagen configure`
	Environment string // development, staging or production

	// RetentionDays is how long finished jobs and batches are kept
	RetentionDays int

	// Optional object storage for artifacts. Empty endpoint means OutputDir.
	MinIO MinIOSettings

	// Server
	Addr         string
	APITokenHash string // bcrypt hash; empty disables bearer auth

	// Logging
	DevMode bool
	LogFile string
}

// ValidEnvironments lists the key environments accepted by configure.
var ValidEnvironments = []string{"development", "staging", "production"}

// LoadConfig builds a Config from environment variables and validates it.
//
// Returns:
//   - *Config: populated from BANANAGEN_*, provider and MINIO_* variables
//   - error: a *ConfigError naming the offending variable and a fix
//
// Mock mode defaults to on when no provider key is present so that a fresh
// checkout can generate (red) images without credentials.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Gemini: ProviderSettings{
			Name:    ProviderGemini,
			APIKey:  GetFirstEnv("NANO_BANANA_API_KEY", "GEMINI_API_KEY"),
			BaseURL: GetEnvOrDefault("GEMINI_BASE_URL", DefaultGeminiBaseURL),
			Model:   GetEnvOrDefault("GEMINI_MODEL", DefaultGeminiModel),
		},
		OpenRouter: ProviderSettings{
			Name:    ProviderOpenRouter,
			APIKey:  GetFirstEnv("OPENROUTER_API_KEY"),
			BaseURL: GetEnvOrDefault("OPENROUTER_BASE_URL", DefaultOpenRouterBaseURL),
			Model:   GetEnvOrDefault("OPENROUTER_MODEL", DefaultRoutedModel),
		},
		Requesty: ProviderSettings{
			Name:    ProviderRequesty,
			APIKey:  GetFirstEnv("REQUESTY_API_KEY"),
			BaseURL: GetEnvOrDefault("REQUESTY_BASE_URL", DefaultRequestyBaseURL),
			Model:   GetEnvOrDefault("REQUESTY_MODEL", DefaultRoutedModel),
		},
		Referer:  GetEnvOrDefault("BANANAGEN_REFERER", DefaultReferer),
		AppTitle: GetEnvOrDefault("BANANAGEN_APP_TITLE", DefaultAppTitle),

		ProviderOrder: ParseListEnv("BANANAGEN_PROVIDER_ORDER", []string{ProviderGemini, ProviderOpenRouter, ProviderRequesty}),
		Fallback:      ParseBoolEnv("BANANAGEN_FALLBACK", false),

		Concurrency:  ParseIntEnv("BANANAGEN_CONCURRENCY", 3),
		RateInterval: ParseSecondsEnv("BANANAGEN_RATE_INTERVAL", time.Second),
		MaxRetries:   ParseIntEnv("BANANAGEN_MAX_RETRIES", 3),
		RetryDelay:   time.Duration(ParseIntEnv("BANANAGEN_RETRY_DELAY_MS", 1000)) * time.Millisecond,
		HTTPTimeout:  ParseDurationEnv("BANANAGEN_HTTP_TIMEOUT", 120),

		DBPath:      GetEnvOrDefault("BANANAGEN_DB_PATH", "bananagen.db"),
		DatabaseURL: GetFirstEnv("DATABASE_URL"),
		OutputDir:   GetEnvOrDefault("BANANAGEN_OUTPUT_DIR", "out"),
		SecretKey:   GetFirstEnv("BANANAGEN_SECRET_KEY"),
		Environment: GetEnvOrDefault("BANANAGEN_ENV", "production"),

		RetentionDays: ParseIntEnv("BANANAGEN_RETENTION_DAYS", 30),

		MinIO: MinIOSettings{
			Endpoint:  GetFirstEnv("MINIO_ENDPOINT"),
			AccessKey: GetFirstEnv("MINIO_ACCESS_KEY"),
			SecretKey: GetFirstEnv("MINIO_SECRET_KEY"),
			Bucket:    GetEnvOrDefault("MINIO_BUCKET", "bananagen"),
			Prefix:    GetFirstEnv("MINIO_PREFIX"),
			Region:    GetEnvOrDefault("MINIO_REGION", "us-east-1"),
			UseSSL:    ParseBoolEnv("MINIO_USE_SSL", true),
		},

		Addr:         GetEnvOrDefault("BANANAGEN_ADDR", ":9090"),
		APITokenHash: GetFirstEnv("BANANAGEN_API_TOKEN_HASH"),

		DevMode: ParseBoolEnv("DEV_MODE", false),
		LogFile: GetEnvOrDefault("BANANAGEN_LOG_FILE", "bananagen.log"),
	}

	anyKey := cfg.Gemini.Configured() || cfg.OpenRouter.Configured() || cfg.Requesty.Configured()
	cfg.MockMode = ParseBoolEnv("BANANAGEN_MOCK_MODE", !anyKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and provider names.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return ErrInvalidValue("BANANAGEN_CONCURRENCY", c.Concurrency, "must be at least 1")
	}
	if c.RateInterval <= 0 {
		return ErrInvalidValue("BANANAGEN_RATE_INTERVAL", c.RateInterval, "must be greater than zero")
	}
	if c.MaxRetries < 1 {
		return ErrInvalidValue("BANANAGEN_MAX_RETRIES", c.MaxRetries, "must be at least 1")
	}
	if c.RetryDelay <= 0 {
		return ErrInvalidValue("BANANAGEN_RETRY_DELAY_MS", c.RetryDelay, "must be greater than zero")
	}
	if c.RetentionDays < 0 {
		return ErrInvalidValue("BANANAGEN_RETENTION_DAYS", c.RetentionDays, "must not be negative")
	}
	if c.MinIO.Enabled() {
		if c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "" {
			return ErrInvalidObjectStore("credentials are required")
		}
		if c.MinIO.Bucket == "" {
			return ErrInvalidObjectStore("bucket is required")
		}
	}
	for _, name := range c.ProviderOrder {
		if !IsKnownProvider(name) {
			return ErrUnknownProvider(name)
		}
	}
	if !IsValidEnvironment(c.Environment) {
		return ErrInvalidValue("BANANAGEN_ENV", c.Environment, "must be development, staging or production")
	}
	return nil
}

// Provider returns the settings for a named provider.
func (c *Config) Provider(name string) (*ProviderSettings, error) {
	switch name {
	case ProviderGemini:
		return &c.Gemini, nil
	case ProviderOpenRouter:
		return &c.OpenRouter, nil
	case ProviderRequesty:
		return &c.Requesty, nil
	default:
		return nil, ErrUnknownProvider(name)
	}
}

// ApplyStoredKey fills a provider key from persistent storage when the
// environment did not supply one. Environment keys always win.
func (c *Config) ApplyStoredKey(name, key string) error {
	settings, err := c.Provider(name)
	if err != nil {
		return err
	}
	if !settings.Configured() {
		settings.APIKey = key
	}
	return nil
}

// EffectiveOrder returns the provider order with mock appended in mock mode.
func (c *Config) EffectiveOrder() []string {
	order := make([]string, 0, len(c.ProviderOrder)+1)
	hasMock := false
	for _, name := range c.ProviderOrder {
		order = append(order, name)
		if name == ProviderMock {
			hasMock = true
		}
	}
	if c.MockMode && !hasMock {
		order = append(order, ProviderMock)
	}
	return order
}

// GetHTTPClient returns an HTTP client using the configured provider timeout.
func (c *Config) GetHTTPClient() *http.Client {
	return &http.Client{Timeout: c.HTTPTimeout}
}

// String renders a redaction-safe summary for logs.
func (c *Config) String() string {
	return fmt.Sprintf("providers=%v mock=%t concurrency=%d rate=%s retries=%d",
		c.EffectiveOrder(), c.MockMode, c.Concurrency, c.RateInterval, c.MaxRetries)
}

// IsKnownProvider reports whether name is a supported provider.
func IsKnownProvider(name string) bool {
	for _, known := range KnownProviders {
		if name == known {
			return true
		}
	}
	return false
}

// IsValidEnvironment reports whether env is a supported key environment.
func IsValidEnvironment(env string) bool {
	for _, valid := range ValidEnvironments {
		if env == valid {
			return true
		}
	}
	return false
}
