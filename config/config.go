// Package config loads framechan settings from a TOML or INI file, then
// applies FRAMECHAN_* environment overrides on top.
//
// Precedence, lowest first: Default() < file < environment < CLI flags (applied by cmd/).
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/ini.v1"

	"framechan/codec"
	"framechan/loadbalance"
	"framechan/logging"
)

const (
	EnvHost          = "FRAMECHAN_HOST"
	EnvPort          = "FRAMECHAN_PORT"
	EnvClientID      = "FRAMECHAN_CLIENT_ID"
	EnvListen        = "FRAMECHAN_LISTEN"
	EnvCodec         = "FRAMECHAN_CODEC"
	EnvEtcdEndpoints = "FRAMECHAN_ETCD_ENDPOINTS"
	EnvLogLevel      = "FRAMECHAN_LOG_LEVEL"
)

type Config struct {
	Channel  ChannelConfig  `toml:"channel" ini:"channel"`
	Client   ClientConfig   `toml:"client" ini:"client"`
	Server   ServerConfig   `toml:"server" ini:"server"`
	Registry RegistryConfig `toml:"registry" ini:"registry"`
	Log      logging.Config `toml:"log" ini:"log"`
}

// ChannelConfig is shared by both ends; they must agree on the codec.
type ChannelConfig struct {
	Codec        string        `toml:"codec" ini:"codec"`
	MaxBodyLen   int           `toml:"max_body_len" ini:"max_body_len"`
	ReadTimeout  time.Duration `toml:"read_timeout" ini:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout" ini:"write_timeout"`
}

type ClientConfig struct {
	Host         string        `toml:"host" ini:"host"`
	Port         int           `toml:"port" ini:"port"`
	ClientID     string        `toml:"client_id" ini:"client_id"`
	Service      string        `toml:"service" ini:"service"`
	Balancer     string        `toml:"balancer" ini:"balancer"`
	DialTimeout  time.Duration `toml:"dial_timeout" ini:"dial_timeout"`
	Retries      int           `toml:"retries" ini:"retries"`
	RetryBackoff time.Duration `toml:"retry_backoff" ini:"retry_backoff"`
}

type ServerConfig struct {
	Listen          string        `toml:"listen" ini:"listen"`
	Advertise       string        `toml:"advertise" ini:"advertise"`
	Service         string        `toml:"service" ini:"service"`
	RateLimit       float64       `toml:"rate_limit" ini:"rate_limit"`
	RateBurst       int           `toml:"rate_burst" ini:"rate_burst"`
	HandlerTimeout  time.Duration `toml:"handler_timeout" ini:"handler_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" ini:"shutdown_timeout"`
}

// RegistryConfig enables etcd discovery when Endpoints is non-empty.
type RegistryConfig struct {
	Endpoints   []string      `toml:"endpoints" ini:"endpoints" delim:","`
	Prefix      string        `toml:"prefix" ini:"prefix"`
	TTL         int64         `toml:"ttl" ini:"ttl"`
	DialTimeout time.Duration `toml:"dial_timeout" ini:"dial_timeout"`
}

func Default() Config {
	return Config{
		Channel: ChannelConfig{
			Codec:      "json",
			MaxBodyLen: 16 * 1024 * 1024,
		},
		Client: ClientConfig{
			Host:         "localhost",
			Port:         8765,
			ClientID:     "1234",
			Service:      "framechan",
			Balancer:     loadbalance.NameRoundRobin,
			DialTimeout:  5 * time.Second,
			RetryBackoff: 100 * time.Millisecond,
		},
		Server: ServerConfig{
			Listen:          ":8765",
			Service:         "framechan",
			ShutdownTimeout: 5 * time.Second,
		},
		Registry: RegistryConfig{
			Prefix:      "/framechan/",
			TTL:         10,
			DialTimeout: 3 * time.Second,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load reads path over Default(), applies the process environment and
// validates. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
	case ".ini", ".conf":
		f, err := ini.Load(path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		if err := f.MapTo(cfg); err != nil {
			return fmt.Errorf("map config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("load config %s: unsupported extension %q", path, filepath.Ext(path))
	}
	return nil
}

// ApplyEnv overrides cfg from lookup, which is os.LookupEnv outside tests.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvHost); ok && strings.TrimSpace(v) != "" {
		cfg.Client.Host = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvPort, err)
		}
		cfg.Client.Port = port
	}
	// An explicitly empty client id asks for a generated one
	if v, ok := lookup(EnvClientID); ok {
		cfg.Client.ClientID = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvListen); ok && strings.TrimSpace(v) != "" {
		cfg.Server.Listen = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvCodec); ok && strings.TrimSpace(v) != "" {
		cfg.Channel.Codec = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvEtcdEndpoints); ok {
		cfg.Registry.Endpoints = splitList(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		cfg.Log.Level = strings.TrimSpace(v)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := codec.ParseCodecType(c.Channel.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.Channel.MaxBodyLen <= 0 || uint64(c.Channel.MaxBodyLen) > 1<<32-1 {
		errs = append(errs, fmt.Errorf("channel.max_body_len out of range: %d", c.Channel.MaxBodyLen))
	}
	if c.Client.Port <= 0 || c.Client.Port > 65535 {
		errs = append(errs, fmt.Errorf("client.port out of range: %d", c.Client.Port))
	}
	if strings.TrimSpace(c.Client.Host) == "" {
		errs = append(errs, errors.New("client.host is empty"))
	}
	if c.Client.Retries < 0 {
		errs = append(errs, fmt.Errorf("client.retries must be >= 0: %d", c.Client.Retries))
	}
	if _, err := loadbalance.New(c.Client.Balancer); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen: %w", err))
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		errs = append(errs, errors.New("server.rate_limit and server.rate_burst must be >= 0"))
	}
	if len(c.Registry.Endpoints) > 0 && c.Registry.TTL <= 0 {
		errs = append(errs, fmt.Errorf("registry.ttl must be > 0: %d", c.Registry.TTL))
	}
	return errors.Join(errs...)
}

// ClientAddr is the host:port a client dials when no registry is configured.
func (c Config) ClientAddr() string {
	return net.JoinHostPort(c.Client.Host, strconv.Itoa(c.Client.Port))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
