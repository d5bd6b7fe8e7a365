package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

type Config struct {
	ServerAddr         string
	DatabaseDSN        string
	SigningKey         []byte
	AllowedOrigins     []string
	RedisAddr          string
	ClassifierEndpoint string
	ClassifierAPIKey   string
	MigrationsURL      string
	SweepInterval      time.Duration
}

// Options carries the raw values collected from flags and environment
// before validation.
type Options struct {
	ServerAddr         string
	DatabaseDSN        string
	Base64Secret       string
	AllowedOrigins     []string
	RedisAddr          string
	ClassifierEndpoint string
	ClassifierAPIKey   string
	MigrationsURL      string
	SweepInterval      time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(opts Options) (*Config, error) {
	if opts.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if opts.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if opts.Base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if opts.RedisAddr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	signingKey, err := decodeSigningSecret(opts.Base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	if opts.MigrationsURL == "" {
		opts.MigrationsURL = "file://migrations"
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}

	return &Config{
		ServerAddr:         opts.ServerAddr,
		DatabaseDSN:        opts.DatabaseDSN,
		SigningKey:         signingKey,
		AllowedOrigins:     opts.AllowedOrigins,
		RedisAddr:          opts.RedisAddr,
		ClassifierEndpoint: opts.ClassifierEndpoint,
		ClassifierAPIKey:   opts.ClassifierAPIKey,
		MigrationsURL:      opts.MigrationsURL,
		SweepInterval:      opts.SweepInterval,
	}, nil
}
