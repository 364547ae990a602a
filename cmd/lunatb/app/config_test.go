package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
settings:
  logLevel: debug
  jsonLogs: true
database:
  path: /var/lib/lunatb/lab.db
import:
  defaultTimezone: Europe/Berlin
  sheetName: test runs
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Settings.LogLevel)
	assert.True(t, config.Settings.JSONLogs)
	assert.Equal(t, "/var/lib/lunatb/lab.db", config.Database.Path)
	assert.Equal(t, "Europe/Berlin", config.Import.DefaultTimezone)
	assert.Equal(t, "test runs", config.Import.SheetName)
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[settings]
logLevel = "warn"

[database]
path = "lab.db"

[import]
defaultTimezone = "UTC"
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", config.Settings.LogLevel)
	assert.False(t, config.Settings.JSONLogs)
	assert.Equal(t, "lab.db", config.Database.Path)
	assert.Equal(t, "UTC", config.Import.DefaultTimezone)
}

func TestLoadConfigFormatsAgree(t *testing.T) {
	yamlPath := writeConfig(t, "config.yaml", `
settings:
  logLevel: debug
database:
  path: lab.db
import:
  defaultTimezone: Europe/Berlin
  sheetName: test runs
`)
	tomlPath := writeConfig(t, "config.toml", `
[settings]
logLevel = "debug"

[database]
path = "lab.db"

[import]
defaultTimezone = "Europe/Berlin"
sheetName = "test runs"
`)

	fromYAML, err := LoadConfig(yamlPath)
	require.NoError(t, err)
	fromTOML, err := LoadConfig(tomlPath)
	require.NoError(t, err)

	assert.Equal(t, fromYAML, fromTOML)
}

func TestLoadConfigUnsupportedFormat(t *testing.T) {
	path := writeConfig(t, "config.ini", "logLevel = debug\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "settings: [unterminated\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing YAML config")
}
