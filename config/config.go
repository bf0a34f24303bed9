// Package config loads service and training settings.
//
// Values are resolved in this order, later sources winning:
//
//	built-in defaults -> config.yaml -> .env file -> process environment
//
// Environment variables use the WEATHER prefix, e.g. WEATHER_SERVER_PORT or
// WEATHER_MODEL_PATH. The result is validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WEATHER"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Training TrainingConfig `yaml:"training"`
}

type ServerConfig struct {
	Port           int           `yaml:"port" validate:"min=1,max=65535"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	AllowedOrigins []string      `yaml:"allowed_origins" split_words:"true"`
	// APIKey protects sensor writes when set.
	APIKey string `yaml:"api_key" split_words:"true"`
}

type ModelConfig struct {
	Path            string `yaml:"path" validate:"required"`
	RequireArtifact bool   `yaml:"require_artifact" split_words:"true"`
	CacheSize       int    `yaml:"cache_size" split_words:"true" validate:"min=0"`
	Watch           bool   `yaml:"watch"`
}

type DatabaseConfig struct {
	// Path of the SQLite file; empty disables sensor storage.
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=json console"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" split_words:"true" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" split_words:"true" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" split_words:"true" validate:"min=0"`
}

type TrainingConfig struct {
	Samples         int     `yaml:"samples" validate:"min=10"`
	Seed            uint64  `yaml:"seed"`
	TestRatio       float64 `yaml:"test_ratio" split_words:"true" validate:"gt=0,lt=1"`
	Trees           int     `yaml:"trees" validate:"min=1"`
	MaxDepth        int     `yaml:"max_depth" split_words:"true" validate:"min=1"`
	MinSamplesSplit int     `yaml:"min_samples_split" split_words:"true" validate:"min=2"`
	MinSamplesLeaf  int     `yaml:"min_samples_leaf" split_words:"true" validate:"min=1"`
}

// Default returns the configuration used when no file or environment value
// overrides a field.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8000,
			Timeout:        30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Model: ModelConfig{
			Path:            "model/weather_model.json.gz",
			RequireArtifact: true,
			CacheSize:       1024,
		},
		Database: DatabaseConfig{
			Path: "data/weather.db",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Training: TrainingConfig{
			Samples:         5000,
			Seed:            42,
			TestRatio:       0.2,
			Trees:           200,
			MaxDepth:        15,
			MinSamplesSplit: 5,
			MinSamplesLeaf:  2,
		},
	}
}

// ConfigErrorType categorizes loading failures.
type ConfigErrorType string

const (
	ErrFile       ConfigErrorType = "FILE"
	ErrParsing    ConfigErrorType = "PARSING_FAILED"
	ErrEnv        ConfigErrorType = "ENV_FAILED"
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
)

type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load builds the configuration. A missing config file or .env file is not
// an error; defaults and the environment still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
				return nil, &ConfigError{Type: ErrParsing, Message: "decode " + path, Err: err}
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, &ConfigError{Type: ErrFile, Message: "open " + path, Err: err}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &ConfigError{Type: ErrEnv, Message: "load .env", Err: err}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, &ConfigError{Type: ErrEnv, Message: "process environment", Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return &ConfigError{Type: ErrValidation, Message: "invalid configuration", Err: err}
	}
	return nil
}
