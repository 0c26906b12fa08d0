package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config defines all environment-driven runtime options.
type Config struct {
	Host     string `env:"MELI_HOST" envDefault:"0.0.0.0"`
	Port     int    `env:"MELI_PORT" envDefault:"3000"`
	DataDir  string `env:"MELI_DATA_DIR" envDefault:"./data"`
	LogLevel string `env:"MELI_LOG_LEVEL" envDefault:"info"`

	ClientID     string `env:"MELI_CLIENT_ID"`
	ClientSecret string `env:"MELI_CLIENT_SECRET"`
	ClientOwner  string `env:"MELI_CLIENT_OWNER"`
	RedirectURL  string `env:"MELI_REDIRECT_URL"`

	// TokenTTLSeconds is the fixed token lifetime applied after every
	// refresh. MercadoLibre does not return a usable expires_in for this
	// flow, so the horizon is configuration.
	TokenTTLSeconds int `env:"MELI_TOKEN_TTL" envDefault:"21000"`

	APIURL  string `env:"MELI_API_URL" envDefault:"https://api.mercadolibre.com"`
	AuthURL string `env:"MELI_AUTH_URL" envDefault:"https://auth.mercadolibre.com.ar/authorization"`
}

// Load reads .env (if present) and parses environment variables into Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	return cfg, nil
}

// TokenTTL returns the configured token lifetime as a duration.
func (c *Config) TokenTTL() time.Duration {
	if c.TokenTTLSeconds <= 0 {
		return 21000 * time.Second
	}
	return time.Duration(c.TokenTTLSeconds) * time.Second
}
