// Package config loads this engine's startup configuration from a TOML
// file, with environment variables overriding individual fields for
// container deployment, following the same struct-tag decode idiom the
// corpus's TOML schema readers use.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the top-level settings document (spec §7 "configuration").
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
	Admin   AdminConfig   `toml:"admin"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// StorageConfig selects and configures the kv.Backend. Kind is "mem" or
// "bolt"; Path is ignored for "mem".
type StorageConfig struct {
	Kind string `toml:"kind"`
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	Dev   bool   `toml:"dev"`
}

type AdminConfig struct {
	ListenAddr string `toml:"listen_addr"`
	Enabled    bool   `toml:"enabled"`
}

// Default returns the configuration used when no file is given: an
// in-memory backend, a sensible dev-friendly log level, and the admin
// surface enabled on a loopback address, matching a quick local run
// rather than a deployment.
func Default() Config {
	return Config{
		Server:  ServerConfig{ListenAddr: "127.0.0.1:5432"},
		Storage: StorageConfig{Kind: "mem"},
		Logging: LoggingConfig{Level: "info", Dev: true},
		Admin:   AdminConfig{ListenAddr: "127.0.0.1:8081", Enabled: true},
	}
}

// Load reads path as TOML over top of Default(), then applies
// KVSQL_-prefixed environment variable overrides. path == "" skips the
// file read and starts from Default() alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %q: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("KVSQL_LISTEN_ADDR"); ok {
		cfg.Server.ListenAddr = v
	}
	if v, ok := os.LookupEnv("KVSQL_STORAGE_KIND"); ok {
		cfg.Storage.Kind = v
	}
	if v, ok := os.LookupEnv("KVSQL_STORAGE_PATH"); ok {
		cfg.Storage.Path = v
	}
	if v, ok := os.LookupEnv("KVSQL_LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := os.LookupEnv("KVSQL_LOG_DEV"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.Dev = b
		}
	}
	if v, ok := os.LookupEnv("KVSQL_ADMIN_LISTEN_ADDR"); ok {
		cfg.Admin.ListenAddr = v
	}
	if v, ok := os.LookupEnv("KVSQL_ADMIN_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Admin.Enabled = b
		}
	}
}
