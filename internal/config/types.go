package config

import (
	"runtime"
	"time"
)

// Config represents the complete notifyd configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	HTTP     HTTPConfig     `yaml:"http"`
	Shopify  ShopifyConfig  `yaml:"shopify"`
	Database DatabaseConfig `yaml:"database"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Mail     MailConfig     `yaml:"mail"`
	Document DocumentConfig `yaml:"document"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// HTTPConfig defines the webhook listener.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
	// MaxBodySize accepts plain byte counts or KB/MB/GB suffixes (e.g. "1MB").
	MaxBodySize  string        `yaml:"max_body_size"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	// WriteTimeout must cover a document render plus an SMTP send.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ShopifyConfig holds the values every inbound webhook is checked against.
type ShopifyConfig struct {
	ShopDomain    string `yaml:"shop_domain"`
	WebhookSecret string `yaml:"webhook_secret"`
	APIVersion    string `yaml:"api_version"`
	// SignatureEncoding is "hex" or "base64".
	SignatureEncoding string `yaml:"signature_encoding"`
}

// DatabaseConfig selects the relational store holding templates and, by
// default, the event ledger.
type DatabaseConfig struct {
	Driver         string        `yaml:"driver"` // sqlite | postgres
	Path           string        `yaml:"path"`
	URL            string        `yaml:"url"`
	MaxConns       int32         `yaml:"max_conns"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	Migrate        bool          `yaml:"migrate"`
}

// LedgerConfig selects where processed event ids are recorded.
type LedgerConfig struct {
	Driver     string        `yaml:"driver"` // sql | redis | memory
	ClaimLease time.Duration `yaml:"claim_lease"`
	RedisAddr  string        `yaml:"redis_addr"`
	RedisDB    int           `yaml:"redis_db"`
	KeyPrefix  string        `yaml:"key_prefix"`
}

// MailConfig defines the SMTP relay.
type MailConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Mode     string        `yaml:"mode"` // tls | starttls | plain
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DocumentConfig selects the HTML to PDF converter.
type DocumentConfig struct {
	Driver        string        `yaml:"driver"` // builtin | gotenberg
	GotenbergURL  string        `yaml:"gotenberg_url"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "notifyd",
			LogLevel:  "info",
			LogFormat: "json",
		},
		HTTP: HTTPConfig{
			Listen:       "127.0.0.1:8080",
			MaxBodySize:  "1MB",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Shopify: ShopifyConfig{
			SignatureEncoding: "hex",
		},
		Database: DatabaseConfig{
			Driver:         "sqlite",
			Path:           "./data/notifyd.db",
			MaxConns:       10,
			AcquireTimeout: 5 * time.Second,
			Migrate:        true,
		},
		Ledger: LedgerConfig{
			Driver:     "sql",
			ClaimLease: 2 * time.Minute,
			KeyPrefix:  "notifyd:event:",
		},
		Mail: MailConfig{
			Port:    587,
			Mode:    "starttls",
			Timeout: 10 * time.Second,
		},
		Document: DocumentConfig{
			Driver:        "builtin",
			Timeout:       30 * time.Second,
			MaxConcurrent: runtime.GOMAXPROCS(0),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
