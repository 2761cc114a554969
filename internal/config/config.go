package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Server        struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		// InMemory serves the directory from process memory (dev only).
		InMemory bool `mapstructure:"in_memory"`
	} `mapstructure:"db"`
	Router struct {
		CacheTTL         time.Duration `mapstructure:"cache_ttl"`
		SweepInterval    time.Duration `mapstructure:"sweep_interval"`
		LookupTimeout    time.Duration `mapstructure:"lookup_timeout"`
		EstablishTimeout time.Duration `mapstructure:"establish_timeout"`
	} `mapstructure:"router"`
	Backend struct {
		MaxConns int32 `mapstructure:"max_conns"`
		MinConns int32 `mapstructure:"min_conns"`
	} `mapstructure:"backend"`
	Redis struct {
		Enable   bool   `mapstructure:"enable"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Channel  string `mapstructure:"channel"`
	} `mapstructure:"redis"`
	Auth struct {
		OktaDomain      string   `mapstructure:"okta_domain"`
		ClientID        string   `mapstructure:"client_id"`
		ClientSecret    string   `mapstructure:"client_secret"`
		RedirectURL     string   `mapstructure:"redirect_url"`
		AdminPrincipals []string `mapstructure:"admin_principals"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable   bool   `mapstructure:"enable"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
		// SelfSigned generates a development certificate for Hostnames when
		// CertFile does not exist yet.
		SelfSigned bool     `mapstructure:"self_signed"`
		Hostnames  []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Audit struct {
		BufferSize int `mapstructure:"buffer_size"`
	} `mapstructure:"audit"`
}

// setDefaults registers every key. viper's AutomaticEnv only overrides keys
// it already knows, so keys without a meaningful default get a zero value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("server.address", ":8080")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "control_plane")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.in_memory", false)

	v.SetDefault("router.cache_ttl", 5*time.Minute)
	v.SetDefault("router.sweep_interval", 30*time.Second)
	v.SetDefault("router.lookup_timeout", 2*time.Second)
	v.SetDefault("router.establish_timeout", 5*time.Second)

	v.SetDefault("backend.max_conns", 4)
	v.SetDefault("backend.min_conns", 0)

	v.SetDefault("redis.enable", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "casevault:tenant-invalidations")

	v.SetDefault("auth.okta_domain", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.redirect_url", "")
	v.SetDefault("auth.admin_principals", []string{})

	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.self_signed", false)
	v.SetDefault("tls.hostnames", []string{"localhost"})

	v.SetDefault("audit.buffer_size", 1024)
}

// LoadConfig loads the configuration from a file and the environment. An
// empty path searches for config.yaml in . and ./config; a missing file
// falls back to defaults and CASEVAULT_* environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("casevault")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.Router.CacheTTL <= 0 {
		return errors.New("router.cache_ttl must be positive")
	}
	if c.Router.SweepInterval <= 0 {
		return errors.New("router.sweep_interval must be positive")
	}
	if c.Router.LookupTimeout < 0 || c.Router.EstablishTimeout < 0 {
		return errors.New("router timeouts must not be negative")
	}
	if c.DB.InMemory && !c.IsDev() {
		return errors.New("db.in_memory is only allowed in the DEV environment")
	}
	if c.Redis.Enable && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	if c.TLS.Enable && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("tls.cert_file and tls.key_file are required when tls is enabled")
	}
	if c.TLS.SelfSigned && !c.IsDev() {
		return errors.New("tls.self_signed is only allowed in the DEV environment")
	}
	return nil
}

// DSN returns the control-plane connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
