package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "PINBOARD"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "pinboard.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "app_session"
	defaultSessionIssuer     = "tauth"
	defaultMarkerSize        = 48
	defaultMarginDegrees     = 2.0
	defaultAnimationDuration = time.Millisecond
	defaultStoriesTimeZone   = "UTC"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	TAuthSigningKey   string
	TAuthCookieName   string
	TAuthIssuer       string
	DatabasePath      string
	LogLevel          string
	RedisURL          string
	MarkerSize        int
	MarginDegrees     float64
	AnimationDuration time.Duration
	StoriesLocation   *time.Location
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
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", defaultSessionIssuer)
	configViper.SetDefault("redis.url", "")
	configViper.SetDefault("markers.size", defaultMarkerSize)
	configViper.SetDefault("viewport.margin_degrees", defaultMarginDegrees)
	configViper.SetDefault("ui.animation_duration", defaultAnimationDuration)
	configViper.SetDefault("stories.time_zone", defaultStoriesTimeZone)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		TAuthSigningKey:   configViper.GetString("tauth.signing_secret"),
		TAuthCookieName:   configViper.GetString("tauth.cookie_name"),
		TAuthIssuer:       configViper.GetString("tauth.issuer"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		RedisURL:          strings.TrimSpace(configViper.GetString("redis.url")),
		MarkerSize:        configViper.GetInt("markers.size"),
		MarginDegrees:     configViper.GetFloat64("viewport.margin_degrees"),
		AnimationDuration: configViper.GetDuration("ui.animation_duration"),
	}

	location, err := time.LoadLocation(strings.TrimSpace(configViper.GetString("stories.time_zone")))
	if err != nil {
		return AppConfig{}, fmt.Errorf("stories.time_zone: %w", err)
	}
	cfg.StoriesLocation = location

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadStore parses only the settings needed to reach the document store.
// Maintenance commands use it so they do not require HTTP session secrets.
func LoadStore(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		RedisURL:     strings.TrimSpace(configViper.GetString("redis.url")),
		MarkerSize:   configViper.GetInt("markers.size"),
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return AppConfig{}, fmt.Errorf("database.path is required")
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	if c.MarkerSize <= 0 {
		return fmt.Errorf("markers.size must be positive")
	}
	if c.MarginDegrees <= 0 {
		return fmt.Errorf("viewport.margin_degrees must be positive")
	}
	if c.AnimationDuration < 0 {
		return fmt.Errorf("ui.animation_duration must not be negative")
	}
	return nil
}
