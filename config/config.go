// Package config loads the settings of the jsonrpc-server and jsonrpc-call commands.
//
// Values come from three layers, later ones winning:
//
//	built-in defaults → TOML file → JSONRPC_* environment variables
//
// List values in the environment are separated by semicolons, e.g.
// JSONRPC_ETCD_ENDPOINTS="10.0.0.1:2379;10.0.0.2:2379".
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"

	"mini-jsonrpc/loadbalance"
)

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Client     ClientConfig     `toml:"client"`
	Registry   RegistryConfig   `toml:"registry"`
	Middleware MiddlewareConfig `toml:"middleware"`
	Log        LogConfig        `toml:"log"`
}

type ServerConfig struct {
	Addr          string        `toml:"addr" env:"JSONRPC_ADDR"`
	Persistent    bool          `toml:"persistent" env:"JSONRPC_PERSISTENT"`
	ReadTimeout   time.Duration `toml:"read_timeout" env:"JSONRPC_READ_TIMEOUT"`
	IdleTimeout   time.Duration `toml:"idle_timeout" env:"JSONRPC_IDLE_TIMEOUT"`
	ShutdownGrace time.Duration `toml:"shutdown_grace" env:"JSONRPC_SHUTDOWN_GRACE"`
	MaxBodySize   uint32        `toml:"max_body_size" env:"JSONRPC_MAX_BODY_SIZE"`
	ServiceName   string        `toml:"service_name" env:"JSONRPC_SERVICE_NAME"`
	AdvertiseAddr string        `toml:"advertise_addr" env:"JSONRPC_ADVERTISE_ADDR"`
	Weight        int           `toml:"weight" env:"JSONRPC_WEIGHT"`
}

type ClientConfig struct {
	DialTimeout time.Duration `toml:"dial_timeout" env:"JSONRPC_DIAL_TIMEOUT"`
	CallTimeout time.Duration `toml:"call_timeout" env:"JSONRPC_CALL_TIMEOUT"`
	Retries     int           `toml:"retries" env:"JSONRPC_RETRIES"`
	RetryDelay  time.Duration `toml:"retry_delay" env:"JSONRPC_RETRY_DELAY"`
	Balancer    string        `toml:"balancer" env:"JSONRPC_BALANCER"` // Used with a registry
}

// RegistryConfig enables etcd service registration when Endpoints is not empty.
type RegistryConfig struct {
	Endpoints   []string      `toml:"endpoints" env:"JSONRPC_ETCD_ENDPOINTS"`
	DialTimeout time.Duration `toml:"dial_timeout" env:"JSONRPC_ETCD_DIAL_TIMEOUT"`
	TTL         time.Duration `toml:"ttl" env:"JSONRPC_REGISTRY_TTL"`
}

// MiddlewareConfig switches the server middlewares on. Zero values leave them off.
type MiddlewareConfig struct {
	Timeout   time.Duration `toml:"timeout" env:"JSONRPC_HANDLER_TIMEOUT"`
	RateLimit float64       `toml:"rate_limit" env:"JSONRPC_RATE_LIMIT"`
	RateBurst int           `toml:"rate_burst" env:"JSONRPC_RATE_BURST"`
	Tracing   bool          `toml:"tracing" env:"JSONRPC_TRACING"`
}

type LogConfig struct {
	Level       string `toml:"level" env:"JSONRPC_LOG_LEVEL"`
	Development bool   `toml:"development" env:"JSONRPC_LOG_DEVELOPMENT"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          "127.0.0.1:4000",
			ReadTimeout:   30 * time.Second,
			IdleTimeout:   2 * time.Minute,
			ShutdownGrace: 10 * time.Second,
			MaxBodySize:   16 << 20,
			ServiceName:   "jsonrpc",
			Weight:        1,
		},
		Client: ClientConfig{
			DialTimeout: 5 * time.Second,
			CallTimeout: 30 * time.Second,
			RetryDelay:  100 * time.Millisecond,
			Balancer:    "round_robin",
		},
		Registry: RegistryConfig{
			DialTimeout: 5 * time.Second,
			TTL:         10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the TOML file at path (skipped when path is empty) over the defaults,
// then applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("parse config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	// Only variables that are set override the file.
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Server.MaxBodySize == 0 {
		errs = append(errs, errors.New("server.max_body_size must be positive"))
	}
	if c.Client.Retries < 0 {
		errs = append(errs, errors.New("client.retries must not be negative"))
	}
	if len(c.Registry.Endpoints) > 0 && c.Server.ServiceName == "" {
		errs = append(errs, errors.New("server.service_name is required when a registry is configured"))
	}
	if _, err := loadbalance.New(c.Client.Balancer); err != nil {
		errs = append(errs, fmt.Errorf("client.balancer: %w", err))
	}
	if c.Middleware.RateLimit < 0 || c.Middleware.RateBurst < 0 {
		errs = append(errs, errors.New("middleware rate limits must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
