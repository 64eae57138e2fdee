// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Site      SiteConfig      `mapstructure:"site"`
	Security  SecurityConfig  `mapstructure:"security"`
	Recaptcha RecaptchaConfig `mapstructure:"recaptcha"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Sink      SinkConfig      `mapstructure:"sink"`
	DB        DBConfig        `mapstructure:"db"`
	Email     EmailConfig     `mapstructure:"email"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// SiteConfig holds the few profile fields the server itself needs.
type SiteConfig struct {
	Name  string `mapstructure:"name"`
	Title string `mapstructure:"title"`
}

// SecurityConfig controls the security-header middleware.
type SecurityConfig struct {
	ExcludedPrefixes []string `mapstructure:"excluded_prefixes"`
}

// RecaptchaConfig configures bot-score verification.
type RecaptchaConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	SiteKey        string  `mapstructure:"site_key"`
	Secret         string  `mapstructure:"secret"`
	MinScore       float64 `mapstructure:"min_score"`
	ExpectedAction string  `mapstructure:"expected_action"`
	VerifyURL      string  `mapstructure:"verify_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// RateLimitConfig governs the contact submission rate limiter.
type RateLimitConfig struct {
	WindowMinutes  int `mapstructure:"window_minutes"`
	MaxRequests    int `mapstructure:"max_requests"`
	SweepThreshold int `mapstructure:"sweep_threshold"`
}

// SinkConfig selects where accepted submissions go.
type SinkConfig struct {
	Provider string `mapstructure:"provider"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// EmailConfig configures the notification email sender.
type EmailConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AuthConfig defines API authentication toggles for admin endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BIOSITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 30)
	v.SetDefault("site.name", "My Profile")
	v.SetDefault("security.excluded_prefixes", []string{"/api/", "/v1/", "/static/", "/healthz", "/readyz", "/metrics"})
	v.SetDefault("recaptcha.enabled", false)
	v.SetDefault("recaptcha.min_score", 0.5)
	v.SetDefault("recaptcha.expected_action", "contact_submit")
	v.SetDefault("recaptcha.verify_url", "https://www.google.com/recaptcha/api/siteverify")
	v.SetDefault("recaptcha.timeout_seconds", 10)
	v.SetDefault("rate_limit.window_minutes", 60)
	v.SetDefault("rate_limit.max_requests", 5)
	v.SetDefault("rate_limit.sweep_threshold", 10000)
	v.SetDefault("sink.provider", "noop")
	v.SetDefault("db.table", "contacts")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("email.endpoint", "https://api.resend.com/emails")
	v.SetDefault("email.from", "Contact Form <onboarding@resend.dev>")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.RateLimit.WindowMinutes <= 0 {
		return fmt.Errorf("rate_limit.window_minutes must be > 0")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be > 0")
	}
	if c.Recaptcha.Enabled && c.Recaptcha.Secret == "" {
		return fmt.Errorf("recaptcha.secret must be set when recaptcha is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Sink.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when sink.provider is postgres")
		}
	case "email":
		if c.Email.APIKey == "" || c.Email.To == "" {
			return fmt.Errorf("email.api_key and email.to must be set when sink.provider is email")
		}
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when sink.provider is pubsub")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown sink.provider: %s", c.Sink.Provider)
	}
	return nil
}

// Window converts the configured rate limit window into a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.RateLimit.WindowMinutes) * time.Minute
}

// VerifyTimeout converts the recaptcha timeout into a duration.
func (c Config) VerifyTimeout() time.Duration {
	return time.Duration(c.Recaptcha.TimeoutSeconds) * time.Second
}
