package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "STRIVE"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "strive.db"
	defaultLogLevel      = "info"
	defaultTokenTTLMin   = 1440
	defaultStorageRoot   = "media"
	defaultMediaBasePath = "/media"
	defaultAppBaseURL    = "https://app.strive.fit"
	defaultAWSRegion     = "us-east-1"
	defaultUploadRetries = 3
	defaultUploadDelayMS = 500
	defaultUploadBackoff = 2.0
)

// AppConfig captures runtime configuration for the API server and batch jobs.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenTTL      time.Duration

	StorageRoot   string
	MediaBasePath string
	AppBaseURL    string

	AWSRegion     string
	EmailFrom     string
	EmailFromName string

	GratitudeEndpoint string
	GratitudeAPIKey   string
	GratitudeModel    string

	UploadMaxAttempts  int
	UploadInitialDelay time.Duration
	UploadMultiplier   float64
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
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMin)
	configViper.SetDefault("storage.root", defaultStorageRoot)
	configViper.SetDefault("storage.media_base_path", defaultMediaBasePath)
	configViper.SetDefault("app.base_url", defaultAppBaseURL)
	configViper.SetDefault("email.aws_region", defaultAWSRegion)
	configViper.SetDefault("gratitude.model", "gpt-4o-mini")
	configViper.SetDefault("upload.max_attempts", defaultUploadRetries)
	configViper.SetDefault("upload.initial_delay_ms", defaultUploadDelayMS)
	configViper.SetDefault("upload.multiplier", defaultUploadBackoff)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,

		StorageRoot:   configViper.GetString("storage.root"),
		MediaBasePath: configViper.GetString("storage.media_base_path"),
		AppBaseURL:    configViper.GetString("app.base_url"),

		AWSRegion:     configViper.GetString("email.aws_region"),
		EmailFrom:     configViper.GetString("email.from_email"),
		EmailFromName: configViper.GetString("email.from_name"),

		GratitudeEndpoint: configViper.GetString("gratitude.endpoint"),
		GratitudeAPIKey:   configViper.GetString("gratitude.api_key"),
		GratitudeModel:    configViper.GetString("gratitude.model"),

		UploadMaxAttempts:  configViper.GetInt("upload.max_attempts"),
		UploadInitialDelay: time.Duration(configViper.GetInt("upload.initial_delay_ms")) * time.Millisecond,
		UploadMultiplier:   configViper.GetFloat64("upload.multiplier"),
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
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.StorageRoot) == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.UploadMaxAttempts <= 0 {
		return fmt.Errorf("upload.max_attempts must be positive")
	}
	if c.UploadMultiplier < 1 {
		return fmt.Errorf("upload.multiplier must be at least 1")
	}
	return nil
}
