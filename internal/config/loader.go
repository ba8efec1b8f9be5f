package config

import (
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
// ${VAR} references are expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a validated Config from raw YAML.
// ${VAR} references are expanded in scalar values after parsing, so an
// environment value is never read as YAML syntax.
func Parse(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	expandEnvNodes(&doc)

	cfg := Defaults()
	if doc.Kind != 0 {
		if err := doc.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $NOTIFYD_CONFIG, ~/.config/notifyd/config.yaml, /etc/notifyd/config.yaml, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if path := os.Getenv("NOTIFYD_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "notifyd", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/notifyd/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $NOTIFYD_CONFIG, ~/.config/notifyd, /etc/notifyd, ./config.yaml)")
}

// applyConfigDefaults fills values that were explicitly blanked in YAML.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = defaults.HTTP.Listen
	}
	if cfg.HTTP.MaxBodySize == "" {
		cfg.HTTP.MaxBodySize = defaults.HTTP.MaxBodySize
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = defaults.HTTP.ReadTimeout
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = defaults.HTTP.WriteTimeout
	}

	if cfg.Shopify.SignatureEncoding == "" {
		cfg.Shopify.SignatureEncoding = defaults.Shopify.SignatureEncoding
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = defaults.Database.Path
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = defaults.Database.MaxConns
	}
	if cfg.Database.AcquireTimeout == 0 {
		cfg.Database.AcquireTimeout = defaults.Database.AcquireTimeout
	}

	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = defaults.Ledger.Driver
	}
	if cfg.Ledger.ClaimLease == 0 {
		cfg.Ledger.ClaimLease = defaults.Ledger.ClaimLease
	}
	if cfg.Ledger.KeyPrefix == "" {
		cfg.Ledger.KeyPrefix = defaults.Ledger.KeyPrefix
	}

	if cfg.Mail.Mode == "" {
		cfg.Mail.Mode = defaults.Mail.Mode
	}
	if cfg.Mail.Port == 0 {
		cfg.Mail.Port = defaults.Mail.Port
	}
	if cfg.Mail.Timeout == 0 {
		cfg.Mail.Timeout = defaults.Mail.Timeout
	}

	if cfg.Document.Driver == "" {
		cfg.Document.Driver = defaults.Document.Driver
	}
	if cfg.Document.Timeout == 0 {
		cfg.Document.Timeout = defaults.Document.Timeout
	}
	if cfg.Document.MaxConcurrent == 0 {
		cfg.Document.MaxConcurrent = defaults.Document.MaxConcurrent
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaults.Metrics.Path
	}

	return cfg
}

// expandEnvNodes interpolates every scalar under n. A plain scalar that
// changed has its tag cleared so "${PORT}" can still decode into an int.
func expandEnvNodes(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		expanded := interpolateEnv(n.Value)
		if expanded != n.Value {
			n.Value = expanded
			if n.Style == 0 {
				n.Tag = ""
			}
		}
		return
	}
	for _, c := range n.Content {
		expandEnvNodes(c)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if _, err := ParseByteSize(cfg.HTTP.MaxBodySize); err != nil {
		return fmt.Errorf("http.max_body_size %q: %w", cfg.HTTP.MaxBodySize, err)
	}

	for field, value := range map[string]string{
		"shopify.shop_domain":    cfg.Shopify.ShopDomain,
		"shopify.webhook_secret": cfg.Shopify.WebhookSecret,
		"shopify.api_version":    cfg.Shopify.APIVersion,
	} {
		if err := requireResolved(field, value); err != nil {
			return err
		}
	}
	if cfg.Shopify.SignatureEncoding != "hex" && cfg.Shopify.SignatureEncoding != "base64" {
		return fmt.Errorf("shopify.signature_encoding must be hex or base64 (got %q)", cfg.Shopify.SignatureEncoding)
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if err := requireResolved("database.url", cfg.Database.URL); err != nil {
			return err
		}
		if cfg.Database.MaxConns < 1 {
			return fmt.Errorf("database.max_conns must be positive")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres (got %q)", cfg.Database.Driver)
	}

	switch cfg.Ledger.Driver {
	case "sql", "memory":
	case "redis":
		if err := requireResolved("ledger.redis_addr", cfg.Ledger.RedisAddr); err != nil {
			return err
		}
	default:
		return fmt.Errorf("ledger.driver must be sql, redis or memory (got %q)", cfg.Ledger.Driver)
	}
	if cfg.Ledger.ClaimLease <= 0 {
		return fmt.Errorf("ledger.claim_lease must be positive")
	}

	if cfg.HTTP.WriteTimeout <= cfg.Document.Timeout+cfg.Mail.Timeout {
		return fmt.Errorf("http.write_timeout (%s) must exceed document.timeout + mail.timeout (%s)",
			cfg.HTTP.WriteTimeout, cfg.Document.Timeout+cfg.Mail.Timeout)
	}

	if err := requireResolved("mail.host", cfg.Mail.Host); err != nil {
		return err
	}
	if cfg.Mail.Port <= 0 || cfg.Mail.Port > 65535 {
		return fmt.Errorf("mail.port out of range: %d", cfg.Mail.Port)
	}
	switch cfg.Mail.Mode {
	case "tls", "starttls", "plain":
	default:
		return fmt.Errorf("mail.mode must be tls, starttls or plain (got %q)", cfg.Mail.Mode)
	}
	if cfg.Mail.Mode != "plain" && cfg.Mail.Username == "" {
		return fmt.Errorf("mail.username is required for mode %q", cfg.Mail.Mode)
	}
	if cfg.Mail.Password != "" {
		if err := requireResolved("mail.password", cfg.Mail.Password); err != nil {
			return err
		}
	}
	if _, err := mail.ParseAddress(cfg.Mail.From); err != nil {
		return fmt.Errorf("mail.from is not a valid address: %q", cfg.Mail.From)
	}

	switch cfg.Document.Driver {
	case "builtin":
	case "gotenberg":
		if err := requireResolved("document.gotenberg_url", cfg.Document.GotenbergURL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("document.driver must be builtin or gotenberg (got %q)", cfg.Document.Driver)
	}
	if cfg.Document.MaxConcurrent < 1 {
		return fmt.Errorf("document.max_concurrent must be positive")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with / (got %q)", cfg.Metrics.Path)
	}

	return nil
}

// requireResolved rejects empty values and ${VAR} placeholders left behind by
// interpolateEnv.
func requireResolved(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// ParseByteSize parses size strings like "1MB", "512KB", "1048576" to bytes.
func ParseByteSize(size string) (int64, error) {
	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
