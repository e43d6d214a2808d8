package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/tampertrail/tampertrail-go/pkg/tampertrail"
)

// EnvPrefix is the prefix of every environment variable read by Load
const EnvPrefix = "TAMPERTRAIL_"

// Config holds the process configuration for the shared TamperTrail client.
// The API key is deliberately not validated: a missing key produces
// unauthorized requests, which the emitter drops like any other failure.
type Config struct {
	URL           string        `koanf:"url" validate:"required"`
	APIKey        string        `koanf:"api_key"`
	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
	TLSSkipVerify bool          `koanf:"tls_skip_verify"`
	Proxy         string        `koanf:"proxy" validate:"omitempty,url"`
	Environment   string        `koanf:"environment"`

	// used only when APIKey is a Secrets Manager ARN
	AWSRegion          string `koanf:"aws_region"`
	AWSAccessKeyID     string `koanf:"aws_access_key_id"`
	AWSSecretAccessKey string `koanf:"aws_secret_access_key"`
}

// Default returns the placeholder configuration used when nothing is set
func Default() *Config {
	return &Config{
		URL:       tampertrail.DefaultURL,
		APIKey:    tampertrail.DefaultAPIKey,
		Timeout:   tampertrail.DefaultTimeout,
		AWSRegion: "us-east-1",
	}
}

// Load reads TAMPERTRAIL_* environment variables over the defaults and validates the result
func Load() (*Config, error) {
	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("could not load env variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Client converts the configuration into the shared client settings
func (c *Config) Client() tampertrail.Config {
	return tampertrail.Config{
		URL:           c.URL,
		APIKey:        c.APIKey,
		Timeout:       c.Timeout,
		TLSSkipVerify: c.TLSSkipVerify,
		Proxy:         c.Proxy,
	}
}
