package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DBFile      string        `envconfig:"TETATET_DB" default:"tetatet.db"`
	APIAddr     string        `envconfig:"API_ADDR" default:":8080"`
	AdminAddr   string        `envconfig:"ADMIN_ADDR" default:"localhost:8081"`
	BaseURL     string        `envconfig:"BASE_URL" default:"http://localhost:8080"`
	UploadsPath string        `envconfig:"UPLOADS_PATH" default:"uploads"`
	TokenExpiry time.Duration `envconfig:"TOKEN_EXPIRY" default:"24h"`

	// When set, the admin endpoints require basic auth (user "admin").
	// Leaving it empty relies on the admin listener's localhost binding.
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`

	// Webpush is disabled when the VAPID key pair is left empty.
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	PushSubscriber  string `envconfig:"PUSH_SUBSCRIBER" default:"mailto:admin@localhost"`
}

func Load() (*Config, error) {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID keys must be set together or not at all")
	}
	return nil
}
