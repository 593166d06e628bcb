package internal

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/episodemux/internal/check"
	"github.com/hbomb79/episodemux/internal/request"
	"github.com/hbomb79/episodemux/internal/ytdl"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

// Config is the struct used to contain the various user config supplied
// by file, environment or command line flags. Once loaded and validated
// it is treated as immutable and handed to each component by value.
type Config struct {
	OutputDir    string        `yaml:"output_dir" env:"EPISODEMUX_OUTPUT_DIR" env-default:"."`
	TempDir      string        `yaml:"temp_dir" env:"EPISODEMUX_TEMP_DIR" env-default:"."`
	Workers      int           `yaml:"workers" env:"EPISODEMUX_WORKERS" env-default:"10" validate:"min=1"`
	Verbosity    int           `yaml:"verbosity" env:"EPISODEMUX_VERBOSITY" env-default:"0" validate:"oneof=0 1 2"`
	Quality      string        `yaml:"quality" env:"EPISODEMUX_QUALITY" env-default:"best" validate:"required"`
	Subs         string        `yaml:"subs" env:"EPISODEMUX_SUBS" env-default:"all"`
	DefaultSub   string        `yaml:"default_sub" env:"EPISODEMUX_DEFAULT_SUB" env-default:"esLA"`
	Season       int           `yaml:"season" env:"EPISODEMUX_SEASON" env-default:"1" validate:"min=0"`
	Auth         ytdl.Auth     `yaml:"auth"`
	Tools        check.Config  `yaml:"tools"`
	RequestsFile string        `yaml:"requests_file" env:"EPISODEMUX_REQUESTS_FILE"`
	InboxDir     string        `yaml:"inbox_dir" env:"EPISODEMUX_INBOX_DIR"`
	InboxSettle  time.Duration `yaml:"inbox_settle" env:"EPISODEMUX_INBOX_SETTLE" env-default:"2s" validate:"min=0"`
}

// LoadConfig loads the configuration from the YAML file at the path
// provided (if any), with environment variables taking precedence
// over values in the file. Defaults are applied to anything left unset.
func LoadConfig(configPath string) (Config, error) {
	var config Config
	if configPath != "" {
		if err := cleanenv.ReadConfig(configPath, &config); err != nil {
			return Config{}, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
		}

		return config, nil
	}

	if err := cleanenv.ReadEnv(&config); err != nil {
		return Config{}, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return config, nil
}

// Normalise expands a leading '~' in each configured path, and makes the
// output and temp directories absolute so that they remain valid regardless
// of the working directory of the tools we spawn.
func (config *Config) Normalise() error {
	for _, path := range []*string{&config.OutputDir, &config.TempDir, &config.Auth.CookiesFile, &config.RequestsFile, &config.InboxDir} {
		if *path == "" {
			continue
		}

		expanded, err := homedir.Expand(*path)
		if err != nil {
			return fmt.Errorf("failed to expand path %s: %w", *path, err)
		}
		*path = expanded
	}

	for _, path := range []*string{&config.OutputDir, &config.TempDir} {
		abs, err := filepath.Abs(*path)
		if err != nil {
			return fmt.Errorf("failed to resolve path %s: %w", *path, err)
		}
		*path = abs
	}

	return nil
}

// Validate checks the config against the constraints declared on its fields.
func (config *Config) Validate() error {
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	return nil
}

// RequestDefaults returns the defaults applied to requests which omit
// their default subtitle or season.
func (config *Config) RequestDefaults() request.Defaults {
	return request.Defaults{DefaultSub: config.DefaultSub, Season: config.Season}
}
