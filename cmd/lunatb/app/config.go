package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ConfigError is returned when a configuration file cannot be loaded.
type ConfigError struct {
	msg string
	err error
}

func (e *ConfigError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *ConfigError) Unwrap() error { return e.err }

// Config represents the main application configuration. Every value is a
// fallback for the matching command-line flag; flags win when set.
type Config struct {
	Settings Settings       `yaml:"settings" toml:"settings"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Import   ImportConfig   `yaml:"import" toml:"import"`
}

// Settings represents global application settings.
type Settings struct {
	LogLevel string `yaml:"logLevel" toml:"logLevel"`
	JSONLogs bool   `yaml:"jsonLogs" toml:"jsonLogs"`
}

// DatabaseConfig represents storage settings.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// ImportConfig represents defaults for registry and log imports.
type ImportConfig struct {
	DefaultTimezone string `yaml:"defaultTimezone" toml:"defaultTimezone"`
	SheetName       string `yaml:"sheetName" toml:"sheetName"`
}

// LoadConfig loads a YAML or TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{msg: "reading config file", err: err}
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, &ConfigError{msg: "parsing YAML config", err: err}
		}
	case ".toml":
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, &ConfigError{msg: "parsing TOML config", err: err}
		}
	default:
		return nil, &ConfigError{msg: fmt.Sprintf("unsupported config format: %s", filepath.Ext(path))}
	}

	return &config, nil
}
