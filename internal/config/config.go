// Package config loads delta-auth settings from delta.yaml, .env and DELTA_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. DELTA_API_BASE_URL.
const EnvPrefix = "DELTA"

// Providers are the social providers that can be configured under oauth.<name>.
var Providers = []string{"google", "apple", "github", "facebook"}

// Config holds all settings for the CLI and the stub server.
type Config struct {
	API     APIConfig              `mapstructure:"api"`
	Session SessionConfig          `mapstructure:"session"`
	Storage StorageConfig          `mapstructure:"storage"`
	Log     LogConfig              `mapstructure:"log"`
	OAuth   map[string]OAuthConfig `mapstructure:"oauth" validate:"dive"`
	Stub    StubConfig             `mapstructure:"stub"`
}

// APIConfig configures the auth API client.
type APIConfig struct {
	BaseURL       string        `mapstructure:"base_url" validate:"required,url"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RatePerSecond float64       `mapstructure:"rate_per_second" validate:"gte=0"`
	RateBurst     int           `mapstructure:"rate_burst" validate:"gte=0"`
}

// SessionConfig configures the session store.
type SessionConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"gte=0"`
	MaxLoginFails   int           `mapstructure:"max_login_fails" validate:"gte=0"`
	LockoutWindow   time.Duration `mapstructure:"lockout_window" validate:"gte=0"`
	LockoutFor      time.Duration `mapstructure:"lockout_for" validate:"gte=0"`
}

// StorageConfig selects and configures the persisted storage backend.
type StorageConfig struct {
	Backend     string        `mapstructure:"backend" validate:"oneof=memory file redis postgres"`
	Dir         string        `mapstructure:"dir"`
	Passphrase  string        `mapstructure:"passphrase"`
	RedisAddr   string        `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	RedisTTL    time.Duration `mapstructure:"redis_ttl" validate:"gte=0"`
	PostgresDSN string        `mapstructure:"postgres_dsn" validate:"required_if=Backend postgres"`
	Namespace   string        `mapstructure:"namespace"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Dev   bool   `mapstructure:"dev"`
}

// OAuthConfig configures one social provider.
type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectPort int    `mapstructure:"redirect_port" validate:"gte=0,lte=65535"`
}

// StubConfig configures cmd/authstub.
type StubConfig struct {
	Addr        string        `mapstructure:"addr" validate:"required"`
	JWTKey      string        `mapstructure:"jwt_key"`
	AccessTTL   time.Duration `mapstructure:"access_ttl" validate:"gte=0"`
	RefreshTTL  time.Duration `mapstructure:"refresh_ttl" validate:"gte=0"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
}

// Load reads configuration. An empty path searches for delta.yaml in the
// working directory and $HOME/.config/delta-auth; a missing file is not an error.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("delta")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/delta-auth")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// nested map keys are not picked up by AutomaticEnv
	for _, p := range Providers {
		for _, k := range []string{"client_id", "client_secret", "redirect_port"} {
			key := "oauth." + p + "." + k
			_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CleanOAuth()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8080/api")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.rate_per_second", 0)
	v.SetDefault("api.rate_burst", 1)

	v.SetDefault("session.refresh_interval", "15m")
	v.SetDefault("session.max_login_fails", 5)
	v.SetDefault("session.lockout_window", "15m")
	v.SetDefault("session.lockout_for", "15m")

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.dir", "")
	v.SetDefault("storage.passphrase", "")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_prefix", "delta-auth")
	v.SetDefault("storage.redis_ttl", "720h")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.namespace", "default")

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.dev", false)

	v.SetDefault("stub.addr", ":8080")
	v.SetDefault("stub.jwt_key", "")
	v.SetDefault("stub.access_ttl", "15m")
	v.SetDefault("stub.refresh_ttl", "720h")
	v.SetDefault("stub.cors_origins", []string{"*"})
}

// CleanOAuth drops providers without a client id.
func (c *Config) CleanOAuth() {
	for name, p := range c.OAuth {
		if strings.TrimSpace(p.ClientID) == "" {
			delete(c.OAuth, name)
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and returns the first violation in a
// readable form.
func (c *Config) Validate() error {
	for name := range c.OAuth {
		if !isProvider(name) {
			return fmt.Errorf("config: unknown oauth provider %q", name)
		}
	}
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return fmt.Errorf("config: %s failed %q validation (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func isProvider(name string) bool {
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}
