// Package config loads server settings from defaults, an optional TOML
// file and QUIPU_ environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides: QUIPU_SERVER_PORT sets server.port.
const EnvPrefix = "QUIPU_"

type Config struct {
	Server Server `koanf:"server"`
	Store  Store  `koanf:"store"`
	Log    Log    `koanf:"log"`
}

type Server struct {
	Host    string   `koanf:"host"`
	Port    int      `koanf:"port"`
	Origins []string `koanf:"origins"`
}

type Store struct {
	Backend string        `koanf:"backend"`
	Path    string        `koanf:"path"`
	Timeout time.Duration `koanf:"timeout"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Addr returns host:port for the listener.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func defaults() map[string]any {
	return map[string]any{
		"server.host":    "0.0.0.0",
		"server.port":    5454,
		"server.origins": "*",
		"store.backend":  "sqlite",
		"store.path":     "./data/quipu.db",
		"store.timeout":  "5s",
		"log.level":      "info",
		"log.format":     "text",
	}
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	// 3. Environment
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	for i, o := range cfg.Server.Origins {
		cfg.Server.Origins[i] = strings.TrimSpace(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Store.Path == "" && c.Store.Backend != "memory" {
		return fmt.Errorf("store.path is required for backend %q", c.Store.Backend)
	}
	return nil
}
