// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package core_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kissaten/kissaten/internal/core"
	"github.com/kissaten/kissaten/internal/util"
)

// detab turns the tab-indented YAML literals in this file into the
// space-indented form that the parser wants.
func detab(content string) string {
	return strings.ReplaceAll(content, "\t", "")
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(content), 0o666)
	require.NoError(t, err)
	return path
}

func TestConfigDefaults(t *testing.T) {
	// no file at all is a valid deployment
	cfg, errs := core.NewConfiguration("")
	require.Empty(t, errs)

	assert.Equal(t, ":8000", cfg.ListenAddress)
	assert.Equal(t, "kissaten.db", cfg.DatabasePath)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "https://v6.exchangerate-api.com/v6", cfg.Currency.ProviderURL)
	assert.Equal(t, 23*time.Hour, time.Duration(cfg.Currency.StaleAfter))
	assert.Equal(t, 7*24*time.Hour, time.Duration(cfg.Currency.PurgeAfter))
	assert.Equal(t, "gemini-2.0-flash", cfg.AI.Model)
	assert.Equal(t, 10, cfg.AI.RequestsPerMinute)
	assert.Equal(t, 7*24*time.Hour, time.Duration(cfg.AI.CacheTTL))
}

func TestConfigFromYAML(t *testing.T) {
	path := writeConfigFile(t, detab(`
		listen_address: ":9000"
		database_path: /srv/kissaten.db
		data_dir: /srv/data
		cors_allowed_origins: [ "https://kissaten.example" ]
		loader:
		  incremental: true
		  concurrency: 4
		currency:
		  stale_after: 12h
		ai:
		  requests_per_minute: 5
	`))

	cfg, errs := core.NewConfiguration(path)
	require.Empty(t, errs)

	assert.Equal(t, ":9000", cfg.ListenAddress)
	assert.Equal(t, "/srv/kissaten.db", cfg.DatabasePath)
	assert.Equal(t, "/srv/data", cfg.DataDir)
	assert.Equal(t, []string{"https://kissaten.example"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.Loader.Incremental)
	assert.Equal(t, 4, cfg.Loader.Concurrency)
	assert.Equal(t, util.MarshalableTimeDuration(12*time.Hour), cfg.Currency.StaleAfter)
	assert.Equal(t, 5, cfg.AI.RequestsPerMinute)
}

func TestConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("KISSATEN_LISTEN_ADDRESS", ":7777")
	t.Setenv("KISSATEN_DATA_DIR", "/mnt/scrapes")
	t.Setenv("KISSATEN_GEMINI_API_KEY", "sekrit")
	t.Setenv("KISSATEN_INCREMENTAL", "true")

	cfg, errs := core.NewConfiguration("")
	require.Empty(t, errs)

	assert.Equal(t, ":7777", cfg.ListenAddress)
	assert.Equal(t, "/mnt/scrapes", cfg.DataDir)
	assert.Equal(t, "sekrit", cfg.AI.APIKey)
	assert.True(t, cfg.Loader.Incremental)
}

func TestConfigValidation(t *testing.T) {
	path := writeConfigFile(t, detab(`
		loader:
		  concurrency: -1
		ai:
		  requests_per_minute: -5
	`))

	_, errs := core.NewConfiguration(path)
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}
	assert.Contains(t, messages, "loader.concurrency must not be negative")
	assert.Contains(t, messages, "ai.requests_per_minute must not be negative")

	// unknown keys are rejected, catching typos in deployments
	path = writeConfigFile(t, "listne_address: \":9000\"\n")
	_, errs = core.NewConfiguration(path)
	assert.NotEmpty(t, errs)
}

func TestConfigDataPaths(t *testing.T) {
	cfg := core.Configuration{DataDir: "/srv/data"}

	assert.Equal(t, filepath.FromSlash("/srv/data/roasters"), cfg.RoastersDir())
	assert.Equal(t, filepath.FromSlash("/srv/data/region_mappings"), cfg.RegionMappingsDir())
	assert.Equal(t, filepath.FromSlash("/srv/data/farm_mappings.json"), cfg.FarmMappingsPath())
	assert.Equal(t, filepath.FromSlash("/srv/data/varietal_mappings.json"), cfg.VarietalMappingsPath())
	assert.Equal(t, filepath.FromSlash("/srv/data/processing_methods_mappings.json"), cfg.ProcessingMethodsMappingsPath())
	assert.Equal(t, filepath.FromSlash("/srv/data/roasters.json"), cfg.RoasterRegistryPath())
}
