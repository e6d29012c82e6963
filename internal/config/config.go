package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"merchant-actions-api/internal/bankwindow"
	"merchant-actions-api/internal/validation"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Redis       RedisConfig       `json:"redis"`
	Security    SecurityConfig    `json:"security"`
	RateLimit   RateLimitConfig   `json:"rate_limit"`
	Crypto      CryptoConfig      `json:"crypto"`
	DeepLink    DeepLinkConfig    `json:"deep_link"`
	Tracing     TracingConfig     `json:"tracing"`
	BankWindows bankwindow.Table  `json:"bank_windows"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port      string `json:"port"`
	Host      string `json:"host"`
	EnableTLS bool   `json:"enable_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// RedisConfig holds the session cache configuration. An empty address
// selects the in-memory cache.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 10MB)
	MaxRequestBodySize int64 `json:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins"`
	// Session lifetime in minutes
	SessionTTLMinutes int `json:"session_ttl_minutes"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled"`
	Rate    int  `json:"rate"`
	Window  int  `json:"window"` // in seconds
}

// CryptoConfig holds the deep-link token secrets, hex-encoded. Shared with
// the merchant web portal; both sides must use identical values.
type CryptoConfig struct {
	KeyHex string `json:"key_hex"`
	IVHex  string `json:"iv_hex"`
}

// DeepLinkConfig holds deep-link handoff configuration.
type DeepLinkConfig struct {
	// Base URL links are minted against, e.g. "merchantapp://auth"
	LinkBaseURL string `json:"link_base_url"`
	// Substring marking internal development-tooling URLs to ignore
	DevToolingMarker string `json:"dev_tooling_marker"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint"`
	ServiceName string  `json:"service_name"`
	Environment string  `json:"environment"`
	SampleRatio float64 `json:"sample_ratio"`
}

// defaultBankWindows is the built-in cut-off table, keyed by the upstream's
// financial-institution identifiers. Overridable per deployment via the
// config file.
func defaultBankWindows() bankwindow.Table {
	return bankwindow.Table{
		"bank_muscat":        {Hour: 22, Minute: 0},
		"nbo":                {Hour: 21, Minute: 30},
		"sohar_international": {Hour: 22, Minute: 0},
		"oman_arab_bank":     {Hour: 21, Minute: 0},
		"ahli_bank":          {Hour: 22, Minute: 30},
	}
}

// LoadConfig loads configuration from environment variables and/or config file.
// Environment variables take precedence over config file values.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:      getEnv("SERVER_PORT", "8080"),
			Host:      getEnv("SERVER_HOST", ""),
			EnableTLS: getEnvBool("SERVER_ENABLE_TLS", false),
			CertFile:  getEnv("SERVER_CERT_FILE", ""),
			KeyFile:   getEnv("SERVER_KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./merchant_actions.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Security: SecurityConfig{
			MaxRequestBodySize: getEnvInt64("MAX_REQUEST_BODY_SIZE", 10<<20), // 10MB default
			AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "*"),
			SessionTTLMinutes:  getEnvInt("SESSION_TTL_MINUTES", 60),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
			Rate:    getEnvInt("RATE_LIMIT_RATE", 100),
			Window:  getEnvInt("RATE_LIMIT_WINDOW", 60),
		},
		Crypto: CryptoConfig{
			KeyHex: getEnv("DEEPLINK_KEY_HEX", ""),
			IVHex:  getEnv("DEEPLINK_IV_HEX", ""),
		},
		DeepLink: DeepLinkConfig{
			LinkBaseURL:      getEnv("DEEPLINK_BASE_URL", "merchantapp://auth"),
			DevToolingMarker: getEnv("DEEPLINK_DEV_MARKER", "/_dev/"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("TRACING_ENDPOINT", "http://localhost:14268/api/traces"),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "merchant-actions-api"),
			Environment: getEnv("TRACING_ENVIRONMENT", "development"),
			SampleRatio: getEnvFloat("TRACING_SAMPLE_RATIO", 0),
		},
		BankWindows: defaultBankWindows(),
	}

	// Load from config file if provided
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables (they take precedence)
	overrideFromEnv(cfg)

	return cfg, nil
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if enableTLS := os.Getenv("SERVER_ENABLE_TLS"); enableTLS != "" {
		cfg.Server.EnableTLS = enableTLS == "true" || enableTLS == "1"
	}
	if certFile := os.Getenv("SERVER_CERT_FILE"); certFile != "" {
		cfg.Server.CertFile = certFile
	}
	if keyFile := os.Getenv("SERVER_KEY_FILE"); keyFile != "" {
		cfg.Server.KeyFile = keyFile
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if maxBodySize := os.Getenv("MAX_REQUEST_BODY_SIZE"); maxBodySize != "" {
		if size, err := strconv.ParseInt(maxBodySize, 10, 64); err == nil {
			cfg.Security.MaxRequestBodySize = size
		}
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Security.AllowedOrigins = origins
	}
	if enabled := os.Getenv("RATE_LIMIT_ENABLED"); enabled != "" {
		cfg.RateLimit.Enabled = enabled == "true" || enabled == "1"
	}
	if rate := os.Getenv("RATE_LIMIT_RATE"); rate != "" {
		if r, err := strconv.Atoi(rate); err == nil {
			cfg.RateLimit.Rate = r
		}
	}
	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		if w, err := strconv.Atoi(window); err == nil {
			cfg.RateLimit.Window = w
		}
	}
	if keyHex := os.Getenv("DEEPLINK_KEY_HEX"); keyHex != "" {
		cfg.Crypto.KeyHex = keyHex
	}
	if ivHex := os.Getenv("DEEPLINK_IV_HEX"); ivHex != "" {
		cfg.Crypto.IVHex = ivHex
	}
	if baseURL := os.Getenv("DEEPLINK_BASE_URL"); baseURL != "" {
		cfg.DeepLink.LinkBaseURL = baseURL
	}
	if marker := os.Getenv("DEEPLINK_DEV_MARKER"); marker != "" {
		cfg.DeepLink.DevToolingMarker = marker
	}
	if enabled := os.Getenv("TRACING_ENABLED"); enabled != "" {
		cfg.Tracing.Enabled = enabled == "true" || enabled == "1"
	}
	if endpoint := os.Getenv("TRACING_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Endpoint = endpoint
	}
}

// getEnv gets an environment variable or returns the default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable or returns the default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvInt64 gets an int64 environment variable or returns the default value.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	// The deep-link secrets are optional at startup (the handoff endpoints
	// reject requests without them), but when set they must be well-formed.
	if c.Crypto.KeyHex != "" {
		if err := validation.ValidateHexSecret(c.Crypto.KeyHex, "crypto.key_hex", 16); err != nil {
			return err
		}
	}
	if c.Crypto.IVHex != "" {
		if err := validation.ValidateHexSecret(c.Crypto.IVHex, "crypto.iv_hex", 16); err != nil {
			return err
		}
	}
	for bank, window := range c.BankWindows {
		if !window.Valid() {
			return fmt.Errorf("bank window for %q is out of range", bank)
		}
	}
	return nil
}

// SessionTTL returns the configured session lifetime.
func (c *Config) SessionTTL() int {
	if c.Security.SessionTTLMinutes <= 0 {
		return 60
	}
	return c.Security.SessionTTLMinutes
}
