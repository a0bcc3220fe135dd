package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "TABULA"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "tabula.db"
	defaultUploadDir     = "uploads"
	defaultUploadBaseURL = "/blobs"
	defaultLogLevel      = "info"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	UploadDir     string
	UploadBaseURL string
	LogLevel      string
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
	configViper.SetDefault("upload.dir", defaultUploadDir)
	configViper.SetDefault("upload.base_url", defaultUploadBaseURL)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		UploadDir:     configViper.GetString("upload.dir"),
		UploadBaseURL: configViper.GetString("upload.base_url"),
		LogLevel:      configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.UploadDir) == "" {
		return fmt.Errorf("upload.dir is required")
	}
	if strings.TrimSpace(c.UploadBaseURL) == "" {
		return fmt.Errorf("upload.base_url is required")
	}
	return nil
}
