package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/macjediwizard/notiondavsync/internal/validator"
)

var (
	ErrMissingConfig     = errors.New("missing required configuration")
	ErrInvalidConfig     = errors.New("invalid configuration value")
	ErrSessionSecretSize = errors.New("session secret must be at least 32 characters")
	ErrValidationFailed  = errors.New("configuration validation failed")
)

// Environment represents the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Notion       NotionConfig
	CalDAV       CalDAVConfig
	Admin        AdminConfig
	Database     DatabaseConfig
	Calendar     CalendarConfig
	Sync         SyncConfig
	RateLimiting RateLimitConfig
	OIDC         OIDCConfig
	Alerts       AlertConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        int
	BaseURL     string
	Environment Environment
}

// NotionConfig holds Doc-store API configuration.
type NotionConfig struct {
	Token   string
	BaseURL string
	Version string
}

// CalDAVConfig holds CalDAV server configuration.
type CalDAVConfig struct {
	URL      string
	Username string
	Password string
}

// AdminConfig holds the admin surface configuration.
type AdminConfig struct {
	Token string
}

// DatabaseConfig holds state-store configuration.
type DatabaseConfig struct {
	Path string
}

// CalendarConfig holds defaults used when provisioning the calendar.
type CalendarConfig struct {
	Name             string
	Color            string
	DateOnlyTimezone string
	EmojiStyle       string
}

// SyncConfig holds sync cadence configuration.
type SyncConfig struct {
	FullSyncIntervalMinutes int
	MinIntervalMinutes      int
	MaxIntervalMinutes      int
	Workers                 int
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// OIDCConfig holds optional admin SSO configuration.
// SSO is enabled only when all four OIDC values are present.
type OIDCConfig struct {
	Issuer        string
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	SessionSecret string
}

// AlertConfig holds optional failure alerting configuration.
type AlertConfig struct {
	WebhookURL      string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	SMTPTo          string
	CooldownMinutes int
}

// Load loads configuration from environment variables.
// It attempts to load from .env file first, but continues if not found.
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load() //nolint:errcheck // Intentionally ignore - .env file is optional

	cfg := &Config{}

	// Server configuration
	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%w: PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Server.Port = port
	cfg.Server.BaseURL = getEnv("BASE_URL", "")
	cfg.Server.Environment = Environment(strings.ToLower(getEnv("ENVIRONMENT", "production")))

	// Doc-store configuration
	cfg.Notion.Token = getEnvRequired("NOTION_TOKEN")
	cfg.Notion.BaseURL = getEnv("NOTION_BASE_URL", "https://api.notion.com")
	cfg.Notion.Version = getEnv("NOTION_VERSION", "2025-09-03")

	// CalDAV configuration
	cfg.CalDAV.URL = getEnvRequired("CALDAV_URL")
	cfg.CalDAV.Username = getEnvRequired("CALDAV_USERNAME")
	cfg.CalDAV.Password = getEnvRequired("CALDAV_PASSWORD")

	// Admin configuration
	cfg.Admin.Token = getEnvRequired("ADMIN_TOKEN")

	// Database configuration
	cfg.Database.Path = getEnv("DATABASE_PATH", "./data/notiondavsync.db")

	// Calendar defaults
	cfg.Calendar.Name = getEnv("CALENDAR_NAME", "[N] Catch-all Tray")
	cfg.Calendar.Color = getEnv("CALENDAR_COLOR", "#FF7F00")
	cfg.Calendar.DateOnlyTimezone = getEnv("DATE_ONLY_TIMEZONE", "")
	cfg.Calendar.EmojiStyle = getEnvRequired("STATUS_EMOJI_STYLE")

	// Sync configuration
	interval, err := getEnvInt("FULL_SYNC_INTERVAL_MINUTES", 30)
	if err != nil {
		return nil, fmt.Errorf("%w: FULL_SYNC_INTERVAL_MINUTES: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.FullSyncIntervalMinutes = interval

	minInterval, err := getEnvInt("MIN_SYNC_INTERVAL_MINUTES", 5)
	if err != nil {
		return nil, fmt.Errorf("%w: MIN_SYNC_INTERVAL_MINUTES: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.MinIntervalMinutes = minInterval

	maxInterval, err := getEnvInt("MAX_SYNC_INTERVAL_MINUTES", 1440)
	if err != nil {
		return nil, fmt.Errorf("%w: MAX_SYNC_INTERVAL_MINUTES: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.MaxIntervalMinutes = maxInterval

	workers, err := getEnvInt("SYNC_WORKERS", 8)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_WORKERS: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.Workers = workers

	// Rate limiting configuration
	rps, err := getEnvFloat("RATE_LIMIT_RPS", 10.0)
	if err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_RPS: %w", ErrInvalidConfig, err)
	}
	cfg.RateLimiting.RPS = rps

	burst, err := getEnvInt("RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_BURST: %w", ErrInvalidConfig, err)
	}
	cfg.RateLimiting.Burst = burst

	// OIDC configuration (optional; all-or-nothing)
	cfg.OIDC.Issuer = getEnv("OIDC_ISSUER", "")
	cfg.OIDC.ClientID = getEnv("OIDC_CLIENT_ID", "")
	cfg.OIDC.ClientSecret = getEnv("OIDC_CLIENT_SECRET", "")
	cfg.OIDC.RedirectURL = getEnv("OIDC_REDIRECT_URL", "")
	cfg.OIDC.SessionSecret = getEnv("SESSION_SECRET", "")
	if cfg.OIDC.Enabled() {
		if cfg.OIDC.SessionSecret == "" {
			return nil, fmt.Errorf("%w: SESSION_SECRET (required when OIDC is configured)", ErrMissingConfig)
		}
		if len(cfg.OIDC.SessionSecret) < 32 {
			return nil, ErrSessionSecretSize
		}
	}

	// Alerting configuration (optional)
	cfg.Alerts.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")
	cfg.Alerts.SMTPHost = getEnv("SMTP_HOST", "")
	smtpPort, err := getEnvInt("SMTP_PORT", 587)
	if err != nil {
		return nil, fmt.Errorf("%w: SMTP_PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Alerts.SMTPPort = smtpPort
	cfg.Alerts.SMTPUsername = getEnv("SMTP_USERNAME", "")
	cfg.Alerts.SMTPPassword = getEnv("SMTP_PASSWORD", "")
	cfg.Alerts.SMTPFrom = getEnv("SMTP_FROM", "")
	cfg.Alerts.SMTPTo = getEnv("SMTP_TO", "")
	cooldown, err := getEnvInt("ALERT_COOLDOWN_MINUTES", 60)
	if err != nil {
		return nil, fmt.Errorf("%w: ALERT_COOLDOWN_MINUTES: %w", ErrInvalidConfig, err)
	}
	cfg.Alerts.CooldownMinutes = cooldown

	// Check for missing required configuration
	missing := cfg.getMissingRequired()
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	return cfg, nil
}

// getMissingRequired returns a list of missing required configuration values.
func (c *Config) getMissingRequired() []string {
	var missing []string

	if c.Notion.Token == "" {
		missing = append(missing, "NOTION_TOKEN")
	}
	if c.CalDAV.URL == "" {
		missing = append(missing, "CALDAV_URL")
	}
	if c.CalDAV.Username == "" {
		missing = append(missing, "CALDAV_USERNAME")
	}
	if c.CalDAV.Password == "" {
		missing = append(missing, "CALDAV_PASSWORD")
	}
	if c.Admin.Token == "" {
		missing = append(missing, "ADMIN_TOKEN")
	}
	if c.Calendar.EmojiStyle == "" {
		missing = append(missing, "STATUS_EMOJI_STYLE")
	}

	return missing
}

// Validate validates configuration values and endpoint reachability.
func (c *Config) Validate(ctx context.Context) error {
	v := validator.New()

	if err := v.ValidateURL(c.CalDAV.URL, c.IsProduction()); err != nil {
		return fmt.Errorf("%w: CALDAV_URL: %w", ErrValidationFailed, err)
	}

	if err := v.ValidateURL(c.Notion.BaseURL, c.IsProduction()); err != nil {
		return fmt.Errorf("%w: NOTION_BASE_URL: %w", ErrValidationFailed, err)
	}

	if c.Server.BaseURL != "" {
		if err := v.ValidateURL(c.Server.BaseURL, c.IsProduction()); err != nil {
			return fmt.Errorf("%w: BASE_URL: %w", ErrValidationFailed, err)
		}
	}

	if c.Calendar.EmojiStyle != "emoji" && c.Calendar.EmojiStyle != "symbol" {
		return fmt.Errorf("%w: STATUS_EMOJI_STYLE: expected 'emoji' or 'symbol', got %q", ErrValidationFailed, c.Calendar.EmojiStyle)
	}

	if err := v.ValidateColor(c.Calendar.Color); err != nil {
		return fmt.Errorf("%w: CALENDAR_COLOR: %w", ErrValidationFailed, err)
	}

	if c.Calendar.DateOnlyTimezone != "" {
		if _, err := time.LoadLocation(c.Calendar.DateOnlyTimezone); err != nil {
			return fmt.Errorf("%w: DATE_ONLY_TIMEZONE: %w", ErrValidationFailed, err)
		}
	}

	if err := v.ValidateInterval(c.Sync.FullSyncIntervalMinutes, c.Sync.MinIntervalMinutes, c.Sync.MaxIntervalMinutes); err != nil {
		return fmt.Errorf("%w: FULL_SYNC_INTERVAL_MINUTES: %w", ErrValidationFailed, err)
	}

	if c.Sync.Workers < 1 || c.Sync.Workers > 64 {
		return fmt.Errorf("%w: SYNC_WORKERS: must be between 1 and 64", ErrValidationFailed)
	}

	if c.OIDC.Enabled() {
		if err := v.ValidateOIDCIssuer(ctx, c.OIDC.Issuer); err != nil {
			return fmt.Errorf("%w: OIDC_ISSUER: %w", ErrValidationFailed, err)
		}
		if err := v.ValidateURL(c.OIDC.RedirectURL, c.IsProduction()); err != nil {
			return fmt.Errorf("%w: OIDC_REDIRECT_URL: %w", ErrValidationFailed, err)
		}
	}

	if c.Alerts.WebhookURL != "" {
		if err := v.ValidateWebhookURL(c.Alerts.WebhookURL); err != nil {
			return fmt.Errorf("%w: ALERT_WEBHOOK_URL: %w", ErrValidationFailed, err)
		}
	}

	return nil
}

// Enabled reports whether admin SSO is configured.
func (o *OIDCConfig) Enabled() bool {
	return o.Issuer != "" && o.ClientID != "" && o.ClientSecret != "" && o.RedirectURL != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvRequired returns the value of an environment variable.
// Returns empty string if not set (caller should check for required values).
func getEnvRequired(key string) string {
	return os.Getenv(key)
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	return parsed, nil
}

// getEnvFloat returns the float value of an environment variable or a default.
func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float: %w", err)
	}
	return parsed, nil
}
