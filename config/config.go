// Package config loads the settings for running relme-auth.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider holds the OAuth client credentials for a provider.
type Provider struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type Config struct {
	// Addr is the address to listen on.
	Addr string `yaml:"addr"`
	// BaseURL is the public URL of the service, used to build provider
	// callback URLs.
	BaseURL string `yaml:"base_url"`

	Log struct {
		// Env is "dev" for console output or "prod" for JSON.
		Env   string `yaml:"env"`
		Level string `yaml:"level"`
	} `yaml:"log"`

	// SessionSecret signs the session cookie, it should be 32 or 64 bytes.
	SessionSecret string `yaml:"session_secret"`

	Store struct {
		// Kind is "memory" or "postgres".
		Kind        string `yaml:"kind"`
		DatabaseURL string `yaml:"database_url"`
	} `yaml:"store"`

	Cache struct {
		// Kind is "memory", "redis" or "none".
		Kind     string        `yaml:"kind"`
		RedisURL string        `yaml:"redis_url"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"cache"`

	Fetch struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"fetch"`

	// Providers maps a provider code, like "github", to its credentials.
	// Providers without credentials cannot be signed in with.
	Providers map[string]Provider `yaml:"providers"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{
		Addr:      ":8080",
		BaseURL:   "http://localhost:8080",
		Providers: map[string]Provider{},
	}
	cfg.Log.Env = "dev"
	cfg.Log.Level = "info"
	cfg.Store.Kind = "memory"
	cfg.Cache.Kind = "memory"
	cfg.Cache.TTL = 10 * time.Minute
	cfg.Fetch.Timeout = 10 * time.Second

	return cfg
}

// Load reads the .env file in the working directory if there is one, then the
// YAML file at path if given, then overrides from the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Addr, "ADDR")
	setString(&c.BaseURL, "BASE_URL")
	setString(&c.Log.Env, "APP_ENV")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.SessionSecret, "SESSION_SECRET")

	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.Kind = "postgres"
		c.Store.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Cache.Kind = "redis"
		c.Cache.RedisURL = v
	}

	for _, code := range []string{"github", "gitlab"} {
		prefix := strings.ToUpper(code)
		provider := c.Providers[code]
		setString(&provider.ClientID, prefix+"_CLIENT_ID")
		setString(&provider.ClientSecret, prefix+"_CLIENT_SECRET")
		if provider.ClientID != "" {
			c.Providers[code] = provider
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return errors.New("session_secret is required (or SESSION_SECRET)")
	}

	switch c.Store.Kind {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("store.database_url is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}

	switch c.Cache.Kind {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisURL == "" {
			return errors.New("cache.redis_url is required for the redis cache")
		}
	default:
		return fmt.Errorf("unknown cache kind %q", c.Cache.Kind)
	}

	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be positive")
	}

	return nil
}
