package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	DGI        DGIConfig        `yaml:"dgi"`
	Browser    BrowserConfig    `yaml:"browser"`
	Accounting AccountingConfig `yaml:"accounting"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Cache      CacheConfig      `yaml:"cache"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"` // default: "0.0.0.0"
	Port int    `yaml:"port"` // default: 8080
	Mode string `yaml:"mode"` // "debug", "release", "test"; default: "release"
}

// DatabaseConfig selects the record store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"` // default: "sqlite"

	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `yaml:"dsn"` // default: "invoicescan.db"
}

// DGIConfig controls the fast retrieval path against the verification service.
type DGIConfig struct {
	// BaseURL is the origin the direct API shapes are built on.
	BaseURL string `yaml:"base_url"` // default: "https://www.services.fne.dgi.gouv.ci"

	// AllowedHost is the host scanned URLs must point at when EnforceHost is set.
	AllowedHost string `yaml:"allowed_host"` // default: "services.fne.dgi.gouv.ci"

	// EnforceHost rejects scans whose URL is not on AllowedHost.
	EnforceHost bool `yaml:"enforce_host"` // default: true

	// APITimeout bounds each direct API request.
	APITimeout time.Duration `yaml:"api_timeout"` // default: 15s

	// PageTimeout bounds the plain page request.
	PageTimeout time.Duration `yaml:"page_timeout"` // default: 30s

	// ContentSelector scopes visible-text extraction.
	ContentSelector string `yaml:"content_selector"` // default: "body"

	// UserAgent is sent by the fast path and the render path.
	UserAgent string `yaml:"user_agent"`

	// FastPathMemory is how long a host whose fast path yielded nothing goes
	// straight to the render path. Zero always tries the fast path.
	FastPathMemory time.Duration `yaml:"fast_path_memory"` // default: 30m
}

// BrowserConfig controls the render path.
type BrowserConfig struct {
	// Enabled toggles the render path entirely.
	Enabled bool `yaml:"enabled"` // default: true

	Headless  bool `yaml:"headless"`   // default: true
	NoSandbox bool `yaml:"no_sandbox"` // default: true (containers)

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string `yaml:"browser_bin"`

	// AllowDownload lets the launcher fetch a Chromium build when none is installed.
	AllowDownload bool `yaml:"allow_download"` // default: false

	// LaunchAttempts bounds browser launch retries.
	LaunchAttempts int `yaml:"launch_attempts"` // default: 3

	// LaunchBackoff is multiplied by the attempt number between launches.
	LaunchBackoff time.Duration `yaml:"launch_backoff"` // default: 3s

	// LaunchTimeout bounds a single launch attempt.
	LaunchTimeout time.Duration `yaml:"launch_timeout"` // default: 30s

	// NavigationTimeout bounds navigation plus network quiescence.
	NavigationTimeout time.Duration `yaml:"navigation_timeout"` // default: 60s

	// PollInterval and MaxPolls bound the wait for asynchronous content.
	PollInterval time.Duration `yaml:"poll_interval"` // default: 2s
	MaxPolls     int           `yaml:"max_polls"`     // default: 15

	// SessionTimeout bounds navigation, polling and the final read of one
	// render. Zero derives it from NavigationTimeout and the poll budget.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	UserAgent string `yaml:"user_agent"`
	Locale    string `yaml:"locale"` // default: "fr-FR"
}

// AccountingConfig controls supplier invoice creation.
type AccountingConfig struct {
	// AutoValidate posts invoices immediately instead of leaving drafts.
	AutoValidate bool `yaml:"auto_validate"` // default: true

	// AutoCreateSupplier creates unknown suppliers instead of failing.
	AutoCreateSupplier bool `yaml:"auto_create_supplier"` // default: true

	// DefaultExpenseAccount is the account code used for invoice lines.
	DefaultExpenseAccount string `yaml:"default_expense_account"` // default: "607000"

	Currency string `yaml:"currency"` // default: "XOF"
}

// AuthConfig controls request authentication.
type AuthConfig struct {
	// Enabled toggles authentication.
	Enabled bool `yaml:"enabled"` // default: true

	// JWTSecret verifies HS256 bearer tokens.
	JWTSecret string `yaml:"jwt_secret"`

	// APIKeys maps static keys to "organization:user" identities,
	// written as key=organization:user in the environment.
	APIKeys map[string]string `yaml:"api_keys"`
}

// RateLimitConfig controls per-identity rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 5
	Burst             int     `yaml:"burst"`               // default: 10
}

// CacheConfig controls the diagnostic inspection cache.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"` // default: 200
	TTL        time.Duration `yaml:"ttl"`         // default: 10m
}

// WebhookConfig controls scan outcome notifications.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json", "text" or "auto"; default: "auto"
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080, Mode: "release"},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "invoicescan.db",
		},
		DGI: DGIConfig{
			BaseURL:         "https://www.services.fne.dgi.gouv.ci",
			AllowedHost:     "services.fne.dgi.gouv.ci",
			EnforceHost:     true,
			APITimeout:      15 * time.Second,
			PageTimeout:     30 * time.Second,
			ContentSelector: "body",
			UserAgent:       defaultUserAgent,
			FastPathMemory:  30 * time.Minute,
		},
		Browser: BrowserConfig{
			Enabled:           true,
			Headless:          true,
			NoSandbox:         true,
			LaunchAttempts:    3,
			LaunchBackoff:     3 * time.Second,
			LaunchTimeout:     30 * time.Second,
			NavigationTimeout: 60 * time.Second,
			PollInterval:      2 * time.Second,
			MaxPolls:          15,
			UserAgent:         defaultUserAgent,
			Locale:            "fr-FR",
		},
		Accounting: AccountingConfig{
			AutoValidate:          true,
			AutoCreateSupplier:    true,
			DefaultExpenseAccount: "607000",
			Currency:              "XOF",
		},
		Auth:      AuthConfig{Enabled: true},
		RateLimit: RateLimitConfig{RequestsPerSecond: 5, Burst: 10},
		Cache:     CacheConfig{MaxEntries: 200, TTL: 10 * time.Minute},
		Log:       LogConfig{Level: "info", Format: "auto"},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// INVOICESCAN_CONFIG_FILE, then INVOICESCAN_* environment variables. A .env
// file in the working directory is read first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("ignoring unreadable .env file", "error", err)
	}

	cfg := Defaults()
	if path := os.Getenv("INVOICESCAN_CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = envOr("INVOICESCAN_HOST", cfg.Server.Host)
	cfg.Server.Port = envIntOr("INVOICESCAN_PORT", cfg.Server.Port)
	cfg.Server.Mode = envOr("INVOICESCAN_MODE", cfg.Server.Mode)

	cfg.Database.Driver = envOr("INVOICESCAN_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envOr("INVOICESCAN_DB_DSN", cfg.Database.DSN)

	cfg.DGI.BaseURL = envOr("INVOICESCAN_DGI_BASE_URL", cfg.DGI.BaseURL)
	cfg.DGI.AllowedHost = envOr("INVOICESCAN_DGI_ALLOWED_HOST", cfg.DGI.AllowedHost)
	cfg.DGI.EnforceHost = envBoolOr("INVOICESCAN_DGI_ENFORCE_HOST", cfg.DGI.EnforceHost)
	cfg.DGI.APITimeout = envDurationOr("INVOICESCAN_DGI_API_TIMEOUT", cfg.DGI.APITimeout)
	cfg.DGI.PageTimeout = envDurationOr("INVOICESCAN_DGI_PAGE_TIMEOUT", cfg.DGI.PageTimeout)
	cfg.DGI.ContentSelector = envOr("INVOICESCAN_DGI_CONTENT_SELECTOR", cfg.DGI.ContentSelector)
	cfg.DGI.FastPathMemory = envDurationOr("INVOICESCAN_DGI_FAST_PATH_MEMORY", cfg.DGI.FastPathMemory)
	cfg.DGI.UserAgent = envOr("INVOICESCAN_USER_AGENT", cfg.DGI.UserAgent)

	cfg.Browser.Enabled = envBoolOr("INVOICESCAN_BROWSER_ENABLED", cfg.Browser.Enabled)
	cfg.Browser.Headless = envBoolOr("INVOICESCAN_HEADLESS", cfg.Browser.Headless)
	cfg.Browser.NoSandbox = envBoolOr("INVOICESCAN_NO_SANDBOX", cfg.Browser.NoSandbox)
	cfg.Browser.BrowserBin = envOr("INVOICESCAN_BROWSER_BIN", cfg.Browser.BrowserBin)
	cfg.Browser.AllowDownload = envBoolOr("INVOICESCAN_BROWSER_DOWNLOAD", cfg.Browser.AllowDownload)
	cfg.Browser.LaunchAttempts = envIntOr("INVOICESCAN_LAUNCH_ATTEMPTS", cfg.Browser.LaunchAttempts)
	cfg.Browser.LaunchBackoff = envDurationOr("INVOICESCAN_LAUNCH_BACKOFF", cfg.Browser.LaunchBackoff)
	cfg.Browser.LaunchTimeout = envDurationOr("INVOICESCAN_LAUNCH_TIMEOUT", cfg.Browser.LaunchTimeout)
	cfg.Browser.NavigationTimeout = envDurationOr("INVOICESCAN_NAV_TIMEOUT", cfg.Browser.NavigationTimeout)
	cfg.Browser.PollInterval = envDurationOr("INVOICESCAN_POLL_INTERVAL", cfg.Browser.PollInterval)
	cfg.Browser.MaxPolls = envIntOr("INVOICESCAN_MAX_POLLS", cfg.Browser.MaxPolls)
	cfg.Browser.SessionTimeout = envDurationOr("INVOICESCAN_SESSION_TIMEOUT", cfg.Browser.SessionTimeout)
	cfg.Browser.UserAgent = envOr("INVOICESCAN_USER_AGENT", cfg.Browser.UserAgent)
	cfg.Browser.Locale = envOr("INVOICESCAN_LOCALE", cfg.Browser.Locale)

	cfg.Accounting.AutoValidate = envBoolOr("INVOICESCAN_AUTO_VALIDATE", cfg.Accounting.AutoValidate)
	cfg.Accounting.AutoCreateSupplier = envBoolOr("INVOICESCAN_AUTO_CREATE_SUPPLIER", cfg.Accounting.AutoCreateSupplier)
	cfg.Accounting.DefaultExpenseAccount = envOr("INVOICESCAN_EXPENSE_ACCOUNT", cfg.Accounting.DefaultExpenseAccount)
	cfg.Accounting.Currency = envOr("INVOICESCAN_CURRENCY", cfg.Accounting.Currency)

	cfg.Auth.Enabled = envBoolOr("INVOICESCAN_AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.JWTSecret = envOr("INVOICESCAN_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.APIKeys = envMapOr("INVOICESCAN_API_KEYS", cfg.Auth.APIKeys)

	cfg.RateLimit.RequestsPerSecond = envFloatOr("INVOICESCAN_RATE_RPS", cfg.RateLimit.RequestsPerSecond)
	cfg.RateLimit.Burst = envIntOr("INVOICESCAN_RATE_BURST", cfg.RateLimit.Burst)

	cfg.Cache.MaxEntries = envIntOr("INVOICESCAN_CACHE_MAX_ENTRIES", cfg.Cache.MaxEntries)
	cfg.Cache.TTL = envDurationOr("INVOICESCAN_CACHE_TTL", cfg.Cache.TTL)

	cfg.Webhook.URL = envOr("INVOICESCAN_WEBHOOK_URL", cfg.Webhook.URL)
	cfg.Webhook.Secret = envOr("INVOICESCAN_WEBHOOK_SECRET", cfg.Webhook.Secret)

	cfg.Log.Level = envOr("INVOICESCAN_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("INVOICESCAN_LOG_FORMAT", cfg.Log.Format)
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

// envMapOr parses "k1=v1,k2=v2".
func envMapOr(key string, fallback map[string]string) map[string]string {
	pairs := envSliceOr(key, nil)
	if pairs == nil {
		return fallback
	}
	result := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		result[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return result
}
