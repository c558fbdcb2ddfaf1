package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds bridge configuration values.
type Config struct {
	Log          LogConfig       `mapstructure:"log" yaml:"log"`
	HTTP         HTTPConfig      `mapstructure:"http" yaml:"http"`
	DatabasePath string          `mapstructure:"database_path" yaml:"database_path"`
	Admin        AdminConfig     `mapstructure:"admin" yaml:"admin"`
	Telegram     TelegramConfig  `mapstructure:"telegram" yaml:"telegram"`
	Presence     PresenceConfig  `mapstructure:"presence" yaml:"presence"`
	Reconnect    ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Servers      []ServerConfig  `mapstructure:"servers" yaml:"servers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// AdminConfig protects the HTTP API. PasswordHash is a bcrypt hash, see the
// hash-password command.
type AdminConfig struct {
	Username     string        `mapstructure:"username" yaml:"username"`
	PasswordHash string        `mapstructure:"password_hash" yaml:"password_hash"`
	JWTSecret    string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer    string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience  string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL     time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

type TelegramConfig struct {
	Token        string  `mapstructure:"token" yaml:"token"`
	AdminChatIDs []int64 `mapstructure:"admin_chat_ids" yaml:"admin_chat_ids"`
	// RateLimit is messages per second across all chats.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

type PresenceConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" yaml:"reconcile_interval"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	// LoginGrace suppresses notifications right after a (re)login so the
	// initial burst of user events is not announced.
	LoginGrace     time.Duration `mapstructure:"login_grace" yaml:"login_grace"`
	JoinTimeout    time.Duration `mapstructure:"join_timeout" yaml:"join_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

type ReconnectConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Factor       float64       `mapstructure:"factor" yaml:"factor"`
	Jitter       float64       `mapstructure:"jitter" yaml:"jitter"`
}

// ServerConfig describes one voice/chat server the bridge stays connected to.
type ServerConfig struct {
	Key             string `mapstructure:"key" yaml:"key"`
	Name            string `mapstructure:"name" yaml:"name"`
	URL             string `mapstructure:"url" yaml:"url"`
	Username        string `mapstructure:"username" yaml:"username"`
	Password        string `mapstructure:"password" yaml:"password"`
	Nickname        string `mapstructure:"nickname" yaml:"nickname"`
	Channel         string `mapstructure:"channel" yaml:"channel"`
	ChannelPassword string `mapstructure:"channel_password" yaml:"channel_password"`
	StatusText      string `mapstructure:"status_text" yaml:"status_text"`
	APIKey          string `mapstructure:"api_key" yaml:"api_key"`
	APISecret       string `mapstructure:"api_secret" yaml:"api_secret"`
}

// DisplayName is what subscribers see as the server name.
func (s ServerConfig) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Key
}

// ChannelRef returns the configured channel as a numeric id when it parses as
// one, otherwise ok is false and Channel should be treated as a path.
func (s ServerConfig) ChannelRef() (id int64, ok bool) {
	v := strings.TrimSpace(s.Channel)
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		DatabasePath: "presencebridge.db",
		Admin: AdminConfig{
			Username:    "admin",
			JWTSecret:   "change-me",
			JWTIssuer:   "presencebridge",
			JWTAudience: "presencebridge-admin",
			TokenTTL:    24 * time.Hour,
		},
		Telegram: TelegramConfig{
			RateLimit: 25,
			RateBurst: 5,
		},
		Presence: PresenceConfig{
			ReconcileInterval: 60 * time.Second,
			RetryBackoff:      5 * time.Second,
			LoginGrace:        5 * time.Second,
			JoinTimeout:       10 * time.Second,
			RequestTimeout:    10 * time.Second,
		},
		Reconnect: ReconnectConfig{
			InitialDelay: time.Second,
			MaxDelay:     time.Minute,
			Factor:       2,
			Jitter:       0.2,
		},
	}
}

// Validate reports configuration errors that would make the bridge misbehave.
func (c *Config) Validate() error {
	var errs []error

	seen := make(map[string]struct{}, len(c.Servers))
	for i, srv := range c.Servers {
		if strings.TrimSpace(srv.Key) == "" {
			errs = append(errs, fmt.Errorf("servers[%d]: key is required", i))
		} else if _, dup := seen[srv.Key]; dup {
			errs = append(errs, fmt.Errorf("servers[%d]: duplicate key %q", i, srv.Key))
		} else {
			seen[srv.Key] = struct{}{}
		}
		if strings.TrimSpace(srv.URL) == "" {
			errs = append(errs, fmt.Errorf("servers[%d]: url is required", i))
		}
	}

	if c.Presence.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("presence.reconcile_interval must be positive"))
	}
	if c.Reconnect.Factor < 1 {
		errs = append(errs, errors.New("reconnect.factor must be at least 1"))
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		errs = append(errs, errors.New("reconnect.jitter must be within [0, 1]"))
	}
	if c.Admin.JWTSecret == "" {
		errs = append(errs, errors.New("admin.jwt_secret is required"))
	}

	return errors.Join(errs...)
}
