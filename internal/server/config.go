// Package server provides configuration loading, defaults and validation for
// the leaf-proxy host process and its relays.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kefeimo/leaf-proxy/internal/relay"
)

// EnvPrefix prefixes every environment override, e.g. LEAF_HTTP_ADDR.
const EnvPrefix = "LEAF"

// HTTPConfig configures the HTTP server hosting the routes and /ws.
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// RelayConfig configures one TCP relay.
type RelayConfig struct {
	Name           string        `mapstructure:"name"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	PortPolicy     string        `mapstructure:"port_policy"`
	ReadBufferSize int           `mapstructure:"read_buffer_size"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ExcludeSender  bool          `mapstructure:"exclude_sender"`
}

// WebSocketConfig configures the /ws broadcast endpoint.
type WebSocketConfig struct {
	Path           string        `mapstructure:"path"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ExcludeSender  bool          `mapstructure:"exclude_sender"`
}

// LogConfig selects logger level and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config holds the complete host configuration.
type Config struct {
	HTTP            HTTPConfig      `mapstructure:"http"`
	Relays          []RelayConfig   `mapstructure:"relays"`
	WebSocket       WebSocketConfig `mapstructure:"websocket"`
	Log             LogConfig       `mapstructure:"log"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns the built-in configuration: an echo relay that moves
// to the next free port on conflict, and a reply relay on a fixed port for
// use behind an nginx stream proxy.
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:         "127.0.0.1:8000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Relays: []RelayConfig{
			{
				Name:       "echo",
				Host:       "127.0.0.1",
				Port:       65432,
				Mode:       string(relay.ModeEcho),
				PortPolicy: string(relay.PortPolicyRetry),
			},
			{
				Name:       "stream",
				Host:       "127.0.0.1",
				Port:       9000,
				Mode:       string(relay.ModeReply),
				PortPolicy: string(relay.PortPolicyFixed),
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			AllowedOrigins: []string{"*"},
			MaxMessageSize: 4096,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// NewConfig creates a Config populated with default values.
func NewConfig() *Config {
	cfg := DefaultConfig()
	return &cfg
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// at path, a .env file in the working directory and LEAF_* environment
// variables, in increasing order of precedence. The relay list can only be
// set from the file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Relays) == 0 {
		cfg.Relays = DefaultConfig().Relays
	}

	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", d.HTTP.IdleTimeout)
	v.SetDefault("websocket.path", d.WebSocket.Path)
	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.exclude_sender", d.WebSocket.ExcludeSender)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
}

// Sanitize fills zero values with defaults and validates the relay list.
func (c *Config) Sanitize() error {
	d := DefaultConfig()

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = d.HTTP.Addr
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = d.HTTP.ReadTimeout
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = d.HTTP.WriteTimeout
	}
	if c.HTTP.IdleTimeout <= 0 {
		c.HTTP.IdleTimeout = d.HTTP.IdleTimeout
	}
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = d.WebSocket.Path
	}
	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		c.WebSocket.Path = "/" + c.WebSocket.Path
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		c.WebSocket.MaxMessageSize = d.WebSocket.MaxMessageSize
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}

	seen := make(map[string]struct{}, len(c.Relays))
	for i := range c.Relays {
		rc := &c.Relays[i]
		if err := rc.sanitize(); err != nil {
			return fmt.Errorf("relay %d: %w", i, err)
		}
		if _, dup := seen[rc.Name]; dup {
			return fmt.Errorf("relay %d: duplicate name %q", i, rc.Name)
		}
		seen[rc.Name] = struct{}{}
	}
	return nil
}

func (rc *RelayConfig) sanitize() error {
	mode, err := relay.ParseMode(rc.Mode)
	if err != nil {
		return err
	}
	rc.Mode = string(mode)

	if rc.PortPolicy == "" {
		rc.PortPolicy = string(relay.PortPolicyRetry)
	}
	policy, err := relay.ParsePortPolicy(rc.PortPolicy)
	if err != nil {
		return err
	}
	rc.PortPolicy = string(policy)

	if rc.Port < 1 || rc.Port > 65535 {
		return fmt.Errorf("port %d out of range", rc.Port)
	}
	if rc.Host == "" {
		rc.Host = "127.0.0.1"
	}
	if rc.Name == "" {
		rc.Name = fmt.Sprintf("%s-%d", rc.Mode, rc.Port)
	}
	if rc.ReadBufferSize <= 0 {
		rc.ReadBufferSize = relay.DefaultReadBufferSize
	}
	return nil
}

// ListenerConfig converts a sanitized RelayConfig for relay.NewListener.
func (rc RelayConfig) ListenerConfig() relay.ListenerConfig {
	return relay.ListenerConfig{
		Name:           rc.Name,
		Host:           rc.Host,
		Port:           rc.Port,
		Policy:         relay.PortPolicy(rc.PortPolicy),
		Mode:           relay.Mode(rc.Mode),
		ReadBufferSize: rc.ReadBufferSize,
		WriteTimeout:   rc.WriteTimeout,
		ExcludeSender:  rc.ExcludeSender,
	}
}
