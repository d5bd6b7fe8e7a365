package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	valid := Options{
		ServerAddr:         "localhost:8080",
		DatabaseDSN:        "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable",
		Base64Secret:       "c29tZV9zZWNyZXQ=",
		AllowedOrigins:     []string{"http://localhost:3000"},
		RedisAddr:          "localhost:6379",
		ClassifierEndpoint: "http://localhost:9000/classify",
		MigrationsURL:      "file://migrations",
		SweepInterval:      30 * time.Second,
	}

	tcases := []struct {
		name   string
		mutate func(o *Options)
		err    bool
	}{
		{
			name:   "valid config",
			mutate: func(o *Options) {},
		},
		{
			name:   "empty address",
			mutate: func(o *Options) { o.ServerAddr = "" },
			err:    true,
		},
		{
			name:   "empty DSN",
			mutate: func(o *Options) { o.DatabaseDSN = "" },
			err:    true,
		},
		{
			name:   "empty signing key",
			mutate: func(o *Options) { o.Base64Secret = "" },
			err:    true,
		},
		{
			name:   "empty redis address",
			mutate: func(o *Options) { o.RedisAddr = "" },
			err:    true,
		},
		{
			name:   "invalid base64 secret",
			mutate: func(o *Options) { o.Base64Secret = "invalid_base64" },
			err:    true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			opts := valid
			tc.mutate(&opts)

			config, err := NewConfig(opts)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, opts.ServerAddr, config.ServerAddr, "expected server address to match")
			assert.Equal(t, opts.DatabaseDSN, config.DatabaseDSN, "expected database DSN to match")
			assert.Equal(t, opts.AllowedOrigins, config.AllowedOrigins, "expected allowed origins to match")
			assert.Equal(t, opts.RedisAddr, config.RedisAddr, "expected redis address to match")
			assert.NotEmpty(t, config.SigningKey, "expected signing key to be decoded and not empty")
		})
	}
}

func TestNewConfig_defaults(t *testing.T) {
	config, err := NewConfig(Options{
		ServerAddr:   "localhost:8080",
		DatabaseDSN:  "host=localhost dbname=agora",
		Base64Secret: "c29tZV9zZWNyZXQ=",
		RedisAddr:    "localhost:6379",
	})
	assert.NoError(t, err)
	assert.Equal(t, "file://migrations", config.MigrationsURL, "expected default migrations URL")
	assert.Equal(t, time.Minute, config.SweepInterval, "expected default sweep interval")
}

func Test_decodeSigningKey(t *testing.T) {
	key, err := decodeSigningSecret("c29tZV9zZWNyZXQ=")
	assert.NoError(t, err)
	assert.Equal(t, []byte("some_secret"), key)

	_, err = decodeSigningSecret("invalid_base64")
	assert.Error(t, err, "expected error for malformed base64")
}
