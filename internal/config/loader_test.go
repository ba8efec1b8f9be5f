package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
shopify:
  shop_domain: shop.myshopify.com
  webhook_secret: secret
  api_version: "2024-01"
mail:
  host: smtp.example.com
  username: mailer
  password: hunter2
  from: Orders <orders@example.com>
`

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: minimalYAML,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Shopify.ShopDomain != "shop.myshopify.com" {
					t.Error("shopify.shop_domain not parsed")
				}
				if cfg.Shopify.APIVersion != "2024-01" {
					t.Error("shopify.api_version not parsed")
				}
				// Check defaults applied
				if cfg.Shopify.SignatureEncoding != "hex" {
					t.Errorf("signature_encoding = %q, want hex", cfg.Shopify.SignatureEncoding)
				}
				if cfg.Database.Driver != "sqlite" || cfg.Database.Path == "" {
					t.Error("sqlite database defaults not applied")
				}
				if !cfg.Database.Migrate {
					t.Error("database.migrate should default to true")
				}
				if cfg.Ledger.Driver != "sql" || cfg.Ledger.ClaimLease != 2*time.Minute {
					t.Error("ledger defaults not applied")
				}
				if cfg.Mail.Timeout != 10*time.Second {
					t.Errorf("mail.timeout = %v, want 10s", cfg.Mail.Timeout)
				}
				if cfg.Mail.Mode != "starttls" || cfg.Mail.Port != 587 {
					t.Error("mail transport defaults not applied")
				}
				if cfg.HTTP.MaxBodySize != "1MB" {
					t.Error("http.max_body_size default not applied")
				}
				if cfg.Document.MaxConcurrent < 1 {
					t.Error("document.max_concurrent default not applied")
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
shopify:
  shop_domain: ${SHOP_DOMAIN}
  webhook_secret: ${SHOPIFY_SECRET}
  api_version: "2024-01"
mail:
  host: localhost
  port: 1025
  mode: plain
  from: orders@example.com
`,
			env: map[string]string{
				"SHOP_DOMAIN":    "env.myshopify.com",
				"SHOPIFY_SECRET": "from-env",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Shopify.ShopDomain != "env.myshopify.com" {
					t.Errorf("shop_domain = %q", cfg.Shopify.ShopDomain)
				}
				if cfg.Shopify.WebhookSecret != "from-env" {
					t.Error("webhook_secret not interpolated")
				}
				if cfg.Mail.Mode != "plain" || cfg.Mail.Port != 1025 {
					t.Error("plain mail transport not parsed")
				}
			},
		},
		{
			name: "env values are not parsed as yaml",
			yaml: `
shopify:
  shop_domain: shop.myshopify.com
  webhook_secret: ${SHOPIFY_SECRET}
  api_version: "2024-01"
mail:
  host: localhost
  port: ${MAIL_PORT}
  mode: plain
  from: orders@example.com
`,
			env: map[string]string{
				"SHOPIFY_SECRET": "abc #def: ghi",
				"MAIL_PORT":      "1025",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Shopify.WebhookSecret != "abc #def: ghi" {
					t.Errorf("webhook_secret = %q, want it verbatim", cfg.Shopify.WebhookSecret)
				}
				if cfg.Mail.Port != 1025 {
					t.Errorf("mail.port = %d, want 1025", cfg.Mail.Port)
				}
			},
		},
		{
			name:    "write timeout shorter than render plus send",
			yaml:    minimalYAML + "http:\n  write_timeout: 30s\n",
			wantErr: "http.write_timeout (30s) must exceed document.timeout + mail.timeout (40s)",
		},
		{
			name: "write timeout default covers render plus send",
			yaml: minimalYAML,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.HTTP.WriteTimeout <= cfg.Document.Timeout+cfg.Mail.Timeout {
					t.Errorf("write_timeout %v does not exceed %v", cfg.HTTP.WriteTimeout, cfg.Document.Timeout+cfg.Mail.Timeout)
				}
			},
		},
		{
			name: "unset secret variable",
			yaml: strings.Replace(minimalYAML, "webhook_secret: secret", "webhook_secret: ${NOTIFYD_TEST_UNSET}", 1),
			wantErr: "${NOTIFYD_TEST_UNSET} is not set",
		},
		{
			name:    "missing shop domain",
			yaml:    strings.Replace(minimalYAML, "shop_domain: shop.myshopify.com", "", 1),
			wantErr: "shopify.shop_domain is required",
		},
		{
			name: "metrics disabled",
			yaml: minimalYAML + "document:\n  driver: builtin\n" + "metrics:\n  enabled: false\n",
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Metrics.Enabled {
					t.Error("metrics.enabled should be false")
				}
			},
		},
		{
			name:    "invalid signature encoding",
			yaml:    strings.Replace(minimalYAML, `api_version: "2024-01"`, "api_version: \"2024-01\"\n  signature_encoding: base32", 1),
			wantErr: "shopify.signature_encoding must be hex or base64",
		},
		{
			name:    "postgres requires url",
			yaml:    minimalYAML + "database:\n  driver: postgres\n",
			wantErr: "database.url is required",
		},
		{
			name:    "redis ledger requires address",
			yaml:    minimalYAML + "ledger:\n  driver: redis\n",
			wantErr: "ledger.redis_addr is required",
		},
		{
			name:    "gotenberg requires url",
			yaml:    minimalYAML + "document:\n  driver: gotenberg\n",
			wantErr: "document.gotenberg_url is required",
		},
		{
			name:    "bad mail mode",
			yaml:    minimalYAML + "  mode: ssl\n",
			wantErr: "mail.mode must be",
		},
		{
			name:    "bad from address",
			yaml:    strings.Replace(minimalYAML, "from: Orders <orders@example.com>", "from: not-an-address", 1),
			wantErr: "mail.from is not a valid address",
		},
		{
			name:    "bad log level",
			yaml:    minimalYAML + "service:\n  log_level: verbose\n",
			wantErr: "service.log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() error = nil, want %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want substring %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestDiscoverConfigPathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NOTIFYD_CONFIG", path)

	got, err := DiscoverConfigPath()
	if err != nil {
		t.Fatalf("DiscoverConfigPath() error = %v", err)
	}
	if got != path {
		t.Fatalf("DiscoverConfigPath() = %q, want %q", got, path)
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1MB", 1048576, false},
		{"512kb", 512 * 1024, false},
		{"2048", 2048, false},
		{" 1 GB", 1 << 30, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"lots", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseByteSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
