package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	API      APIConfig      `mapstructure:"api"`
	Store    StoreConfig    `mapstructure:"store"`
	Identity IdentityConfig `mapstructure:"identity"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

type GatewayConfig struct {
	// URL is the websocket endpoint, e.g. "wss://api.setorin.id/ws/notifications".
	URL              string        `mapstructure:"url"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StoreConfig struct {
	PageSize int `mapstructure:"page_size"` // Default: 50
}

type IdentityConfig struct {
	UserID string `mapstructure:"user_id"`
	Token  string `mapstructure:"token"`
	// Keyring enables persisting the bearer token in the OS keyring.
	Keyring        bool   `mapstructure:"keyring"`
	KeyringService string `mapstructure:"keyring_service"`
}

type NotifyConfig struct {
	Desktop bool `mapstructure:"desktop"`
}

// Load reads configuration from .env, environment variables and config files.
// Environment variables override file values. Prefix: SETORIN_NOTIF_
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()

	// Defaults
	v.SetDefault("server.port", "8095")
	v.SetDefault("server.env", "development")
	v.SetDefault("gateway.url", "ws://localhost:8000/ws/notifications")
	v.SetDefault("gateway.ping_interval", 30*time.Second)
	v.SetDefault("gateway.reconnect_delay", 5*time.Second)
	v.SetDefault("gateway.handshake_timeout", 10*time.Second)
	v.SetDefault("api.base_url", "http://localhost:8000/api/v1")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("store.page_size", 50)
	v.SetDefault("identity.user_id", "")
	v.SetDefault("identity.token", "")
	v.SetDefault("identity.keyring", false)
	v.SetDefault("identity.keyring_service", "setorin-notifclient")
	v.SetDefault("notify.desktop", true)

	// Environment variables (e.g. SETORIN_NOTIF_GATEWAY_URL -> gateway.url)
	v.SetEnvPrefix("SETORIN_NOTIF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also support simple env vars without prefix for Docker Compose convenience
	v.BindEnv("gateway.url", "WS_URL")
	v.BindEnv("api.base_url", "API_URL")
	v.BindEnv("identity.user_id", "USER_ID")
	v.BindEnv("identity.token", "AUTH_TOKEN")
	v.BindEnv("server.port", "PORT")

	// Try loading config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // Not required

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Gateway.URL == "" {
		return errors.New("config: gateway.url is required")
	}
	if !strings.HasPrefix(c.Gateway.URL, "ws://") && !strings.HasPrefix(c.Gateway.URL, "wss://") {
		return fmt.Errorf("config: gateway.url %q must use ws or wss", c.Gateway.URL)
	}
	if c.API.BaseURL == "" {
		return errors.New("config: api.base_url is required")
	}
	if c.Store.PageSize <= 0 {
		return fmt.Errorf("config: store.page_size must be positive, got %d", c.Store.PageSize)
	}
	if c.Gateway.PingInterval <= 0 || c.Gateway.ReconnectDelay <= 0 {
		return errors.New("config: gateway intervals must be positive")
	}
	return nil
}

// IsProduction reports whether the client runs with production settings.
func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}
