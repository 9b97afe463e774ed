// Package config loads process configuration from the environment and an optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"
)

type Config struct {
	Port        int    `mapstructure:"port"`
	AppEnv      string `mapstructure:"app_env"`
	FrontendURL string `mapstructure:"frontend_url"`
	Timezone    string `mapstructure:"timezone"`

	Log      Log      `mapstructure:",squash"`
	Database Database `mapstructure:",squash"`
	Session  Session  `mapstructure:",squash"`
	Identity Identity `mapstructure:",squash"`
	OAuth    OAuth    `mapstructure:",squash"`
	Webhook  Webhook  `mapstructure:",squash"`
	S3       S3       `mapstructure:",squash"`
	Redis    Redis    `mapstructure:",squash"`
	Toast    Toast    `mapstructure:",squash"`
	Billing  Billing  `mapstructure:",squash"`
	Jobs     Jobs     `mapstructure:",squash"`
}

type Log struct {
	Level  string `mapstructure:"log_level"`
	Format string `mapstructure:"log_format"`
}

type Database struct {
	DSN string `mapstructure:"db_string"`
}

type Session struct {
	Secret        string  `mapstructure:"session_secret"`
	AuthRateLimit float64 `mapstructure:"auth_rate_limit"`
	AuthRateBurst int     `mapstructure:"auth_rate_burst"`
}

// Identity configures the external email/password identity provider and the
// profile reconciliation policy layered on top of it.
type Identity struct {
	URL               string        `mapstructure:"identity_url"`
	APIKey            string        `mapstructure:"identity_api_key"`
	JWTSecret         string        `mapstructure:"jwt_secret"`
	OperatorEmail     string        `mapstructure:"operator_email"`
	ReconcileAttempts int           `mapstructure:"reconcile_attempts"`
	ReconcileDelay    time.Duration `mapstructure:"reconcile_delay"`
}

type OAuth struct {
	GoogleClientID     string `mapstructure:"google_client_id"`
	GoogleClientSecret string `mapstructure:"google_client_secret"`
	GoogleCallbackURL  string `mapstructure:"google_callback_url"`
}

type Webhook struct {
	InvoiceURL string        `mapstructure:"invoice_webhook_url"`
	Timeout    time.Duration `mapstructure:"invoice_webhook_timeout"`
}

type S3 struct {
	Bucket        string `mapstructure:"aws_s3_bucket"`
	Region        string `mapstructure:"aws_region"`
	EndpointURL   string `mapstructure:"aws_endpoint_url"`
	EncryptionKey string `mapstructure:"document_encryption_key"`
}

type Redis struct {
	URL string `mapstructure:"redis_url"`
}

type Toast struct {
	TTL time.Duration `mapstructure:"toast_ttl"`
}

// Billing is the fixed client organisation printed on every invoice.
type Billing struct {
	ClientName    string `mapstructure:"billing_client_name"`
	ClientAddress string `mapstructure:"billing_client_address"`
	ClientPhone   string `mapstructure:"billing_client_phone"`
	ClientEmail   string `mapstructure:"billing_client_email"`
}

type Jobs struct {
	OverdueSchedule string `mapstructure:"overdue_check_schedule"`
}

var defaults = map[string]any{
	"port":                    8080,
	"app_env":                 "local",
	"frontend_url":            "http://localhost:3000",
	"timezone":                "Asia/Tokyo",
	"log_level":               "info",
	"log_format":              "text",
	"db_string":               "",
	"session_secret":          "",
	"auth_rate_limit":         5.0,
	"auth_rate_burst":         10,
	"identity_url":            "",
	"identity_api_key":        "",
	"jwt_secret":              "",
	"operator_email":          "",
	"reconcile_attempts":      8,
	"reconcile_delay":         500 * time.Millisecond,
	"google_client_id":        "",
	"google_client_secret":    "",
	"google_callback_url":     "",
	"invoice_webhook_url":     "",
	"invoice_webhook_timeout": time.Duration(0),
	"aws_s3_bucket":           "",
	"aws_region":              "ap-northeast-1",
	"aws_endpoint_url":        "",
	"document_encryption_key": "",
	"redis_url":               "",
	"toast_ttl":               5 * time.Second,
	"billing_client_name":     "株式会社ビズマッチ",
	"billing_client_address":  "東京都千代田区丸の内1-1-1",
	"billing_client_phone":    "03-0000-0000",
	"billing_client_email":    "billing@bizmatch.example",
	"overdue_check_schedule":  "@daily",
}

// Load reads the configuration from environment variables. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
		// AutomaticEnv only resolves keys viper already knows about.
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_STRING environment variable is required")
	}
	if c.Session.Secret == "" {
		return fmt.Errorf("SESSION_SECRET environment variable is required")
	}
	if c.Identity.ReconcileAttempts < 1 {
		return fmt.Errorf("RECONCILE_ATTEMPTS must be at least 1")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the business timezone used for invoice dates.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
