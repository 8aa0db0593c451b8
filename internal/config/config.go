package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default configuration values (production)
const (
	DefaultDomain       = "studyhive.qzz.io"
	DefaultFallbackSTUN = "stun:stun.l.google.com:19302"
)

// Config holds application configuration
type Config struct {
	// Domain is the backend server domain
	Domain string `yaml:"domain"`

	// Insecure switches to ws:// and http:// for local development
	Insecure bool `yaml:"insecure"`

	// FallbackSTUN is used when the ICE discovery endpoint is unreachable
	FallbackSTUN string `yaml:"fallback_stun"`

	// TokenPath is where the access/refresh token pair is stored
	TokenPath string `yaml:"token_path"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile   string
	Domain       string
	Insecure     bool
	FallbackSTUN string
	TokenPath    string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Config file (~/.config/studyhive/config.yaml or --config)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{}

	if path := configFilePath(opts.ConfigFile); path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		} else if opts.ConfigFile != "" {
			// An explicitly requested file must exist
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if v := os.Getenv("STUDYHIVE_DOMAIN"); v != "" {
		cfg.Domain = v
	}
	if v := os.Getenv("STUDYHIVE_FALLBACK_STUN"); v != "" {
		cfg.FallbackSTUN = v
	}
	if v := os.Getenv("STUDYHIVE_TOKEN_PATH"); v != "" {
		cfg.TokenPath = v
	}
	if os.Getenv("STUDYHIVE_INSECURE") == "1" {
		cfg.Insecure = true
	}

	if opts.Domain != "" {
		cfg.Domain = opts.Domain
	}
	if opts.FallbackSTUN != "" {
		cfg.FallbackSTUN = opts.FallbackSTUN
	}
	if opts.TokenPath != "" {
		cfg.TokenPath = opts.TokenPath
	}
	if opts.Insecure {
		cfg.Insecure = true
	}

	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.FallbackSTUN == "" {
		cfg.FallbackSTUN = DefaultFallbackSTUN
	}
	if cfg.TokenPath == "" {
		cfg.TokenPath = defaultTokenPath()
	}

	return cfg, nil
}

func configFilePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "studyhive", "config.yaml")
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "studyhive-tokens.yaml"
	}
	return filepath.Join(home, ".config", "studyhive", "tokens.yaml")
}

// APIBase returns the REST API base URL.
func (c *Config) APIBase() string {
	return fmt.Sprintf("%s://%s/api", c.httpScheme(), c.Domain)
}

// RoomSocketURL returns the websocket endpoint for a room. The access token
// rides in the connection URI; the sub-protocol has no per-frame auth.
func (c *Config) RoomSocketURL(roomID, token string) string {
	return fmt.Sprintf("%s://%s/ws/room/%s/?token=%s", c.wsScheme(), c.Domain, roomID, token)
}

func (c *Config) httpScheme() string {
	if c.Insecure {
		return "http"
	}
	return "https"
}

func (c *Config) wsScheme() string {
	if c.Insecure {
		return "ws"
	}
	return "wss"
}
