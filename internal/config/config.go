package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN        string `env:"DATABASE_DSN,required=true"`
	RedisURL           string `env:"REDIS_URL"`
	MasterKey          string `env:"MASTER_KEY,required=true"`
	EncryptionSalt     string `env:"ENCRYPTION_SALT,required=true"`
	PrimaryAccountName string `env:"PRIMARY_ACCOUNT_NAME,default=primary"`
	VendorRestURL      string `env:"VENDOR_REST_URL"`
	VendorAPIURL       string `env:"VENDOR_API_URL"`
	RateLimitPerSec    int    `env:"RATE_LIMIT_PER_SEC,default=10"`
	APIPort            int    `env:"API_PORT,default=8080"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
