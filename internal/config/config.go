// Package config reads trydod settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	ProviderGoTrue = "gotrue"
	ProviderLocal  = "local"

	StorageMemory = "memory"
	StorageValkey = "valkey"
)

type Config struct {
	Listen       string `env:"TRYDO_LISTEN"        envDefault:":3000"                 validate:"required"`
	PublicURL    string `env:"TRYDO_PUBLIC_URL"    envDefault:"http://localhost:3000" validate:"required,url"`
	CookieSecret string `env:"TRYDO_COOKIE_SECRET"`

	Provider        string `env:"TRYDO_PROVIDER"          envDefault:"local" validate:"oneof=gotrue local"`
	SupabaseURL     string `env:"TRYDO_SUPABASE_URL"      validate:"required_if=Provider gotrue"`
	SupabaseAnonKey string `env:"TRYDO_SUPABASE_ANON_KEY" validate:"required_if=Provider gotrue"`

	LocalUsersFile  string        `env:"TRYDO_LOCAL_USERS_FILE"  envDefault:"trydo_data/users.yaml"`
	LocalJWTSecret  string        `env:"TRYDO_LOCAL_JWT_SECRET"`
	LocalSessionTTL time.Duration `env:"TRYDO_LOCAL_SESSION_TTL" envDefault:"1h" validate:"gt=0"`

	Storage    string `env:"TRYDO_STORAGE"     envDefault:"memory" validate:"oneof=memory valkey"`
	ValkeyAddr string `env:"TRYDO_VALKEY_ADDR" validate:"required_if=Storage valkey"`

	BrowserTTL      time.Duration `env:"TRYDO_BROWSER_TTL"      envDefault:"24h" validate:"gt=0"`
	ProviderTimeout time.Duration `env:"TRYDO_PROVIDER_TIMEOUT" envDefault:"10s" validate:"gt=0"`

	LogDir         string `env:"TRYDO_LOG_DIR"`
	HomeNoticeFile string `env:"TRYDO_HOME_NOTICE_FILE"`
}

// Load reads the given .env files (missing ones are skipped) and then the
// process environment. Variables already set win over file values.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Provider == ProviderGoTrue {
		if u, err := url.Parse(c.SupabaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("validate config: TRYDO_SUPABASE_URL %q is not an absolute URL", c.SupabaseURL)
		}
	}
	if c.LocalJWTSecret != "" && len(c.LocalJWTSecret) < 16 {
		return errors.New("validate config: TRYDO_LOCAL_JWT_SECRET must be at least 16 bytes")
	}
	return nil
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (c Config) SecureCookies() bool {
	return strings.HasPrefix(strings.ToLower(c.PublicURL), "https://")
}
