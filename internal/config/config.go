package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "INKLING"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "inkling.db"
	defaultLogLevel         = "info"
	defaultTokenTTLMinutes  = 30
	defaultPulseSeconds     = 25
	defaultAuthRatePerSec   = 1.0
	defaultAuthRateBurst    = 5
	defaultStreamRatePerSec = 0.5
	defaultStreamRateBurst  = 3
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress         string
	DatabasePath        string
	LogLevel            string
	SigningSecret       string
	IdentitySecret      string
	IdentityIssuer      string
	TokenTTL            time.Duration
	PulseInterval       time.Duration
	AuthRatePerSecond   float64
	AuthRateBurst       int
	StreamRatePerSecond float64
	StreamRateBurst     int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("push.pulse_interval_seconds", defaultPulseSeconds)
	configViper.SetDefault("ratelimit.auth_per_second", defaultAuthRatePerSec)
	configViper.SetDefault("ratelimit.auth_burst", defaultAuthRateBurst)
	configViper.SetDefault("ratelimit.stream_per_second", defaultStreamRatePerSec)
	configViper.SetDefault("ratelimit.stream_burst", defaultStreamRateBurst)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		IdentitySecret:      configViper.GetString("auth.identity_secret"),
		IdentityIssuer:      configViper.GetString("auth.identity_issuer"),
		TokenTTL:            time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		PulseInterval:       time.Duration(configViper.GetInt("push.pulse_interval_seconds")) * time.Second,
		AuthRatePerSecond:   configViper.GetFloat64("ratelimit.auth_per_second"),
		AuthRateBurst:       configViper.GetInt("ratelimit.auth_burst"),
		StreamRatePerSecond: configViper.GetFloat64("ratelimit.stream_per_second"),
		StreamRateBurst:     configViper.GetInt("ratelimit.stream_burst"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.IdentitySecret) == "" {
		return fmt.Errorf("auth.identity_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.PulseInterval <= 0 {
		return fmt.Errorf("push.pulse_interval_seconds must be positive")
	}
	return nil
}
