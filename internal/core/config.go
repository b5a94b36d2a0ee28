// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sapcc/go-bits/errext"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"
	yaml "gopkg.in/yaml.v2"

	"github.com/kissaten/kissaten/internal/util"
)

// Configuration contains all configuration data for the catalog. It is
// instantiated from an optional YAML file; environment variables override
// individual values afterwards, so a bare environment-only deployment works
// without any file at all.
type Configuration struct {
	ListenAddress string `yaml:"listen_address"`
	DatabasePath  string `yaml:"database_path"`
	// DataDir is the root of the scraper output tree. It contains the
	// roasters/ directory and the canonicalization mapping files.
	DataDir string `yaml:"data_dir"`
	// UseRWDatabase opens the warehouse read-write in the API process.
	// The default is a read-only connection, with the loader being the
	// only writer.
	UseRWDatabase      bool     `yaml:"use_rw_database"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	Loader   LoaderConfiguration   `yaml:"loader"`
	Currency CurrencyConfiguration `yaml:"currency"`
	AI       AIConfiguration       `yaml:"ai"`
}

// LoaderConfiguration appears in type Configuration.
type LoaderConfiguration struct {
	// Incremental skips JSON files whose checksum is already recorded in
	// the file-tracking ledger instead of rebuilding the warehouse.
	Incremental bool `yaml:"incremental"`
	// CheckForChanges verifies checksums during incremental filtering, so
	// ledgered files whose contents changed in place are reprocessed.
	CheckForChanges bool `yaml:"check_for_changes"`
	// Concurrency bounds the parallel file parsing. Zero means GOMAXPROCS.
	Concurrency int `yaml:"concurrency"`
}

// CurrencyConfiguration appears in type Configuration.
type CurrencyConfiguration struct {
	ProviderURL string `yaml:"provider_url"`
	APIKey      string `yaml:"api_key"`
	// StaleAfter is the age at which cached exchange rates are refetched.
	// It is deliberately below 24h so that a daily refresh never reuses
	// the previous day's rates.
	StaleAfter util.MarshalableTimeDuration `yaml:"stale_after"`
	// PurgeAfter is the age at which historical rates are deleted.
	PurgeAfter util.MarshalableTimeDuration `yaml:"purge_after"`
}

// AIConfiguration appears in type Configuration.
type AIConfiguration struct {
	Model             string                       `yaml:"model"`
	APIKey            string                       `yaml:"api_key"`
	RequestsPerMinute int                          `yaml:"requests_per_minute"`
	CacheTTL          util.MarshalableTimeDuration `yaml:"cache_ttl"`
}

// NewConfiguration parses the configuration file at the given path (if any),
// fills in defaults, and applies environment overrides.
// Errors are collected instead of short-circuiting so that a misconfigured
// deployment reports everything that is wrong at once.
func NewConfiguration(path string) (cfg Configuration, errs errext.ErrorSet) {
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			errs.Addf("read configuration: %w", err)
			return Configuration{}, errs
		}
		err = yaml.UnmarshalStrict(buf, &cfg)
		if err != nil {
			errs.Addf("parse configuration: %w", err)
			return Configuration{}, errs
		}
	}

	cfg.applyDefaults()
	cfg.applyEnvironment()
	errs.Append(cfg.validate())
	return cfg, errs
}

func (cfg *Configuration) applyDefaults() {
	setDefault := func(target *string, value string) {
		if *target == "" {
			*target = value
		}
	}
	setDefault(&cfg.ListenAddress, ":8000")
	setDefault(&cfg.DataDir, "data")
	setDefault(&cfg.DatabasePath, "kissaten.db")
	setDefault(&cfg.Currency.ProviderURL, "https://v6.exchangerate-api.com/v6")
	setDefault(&cfg.AI.Model, "gemini-2.0-flash")

	if cfg.Currency.StaleAfter == 0 {
		cfg.Currency.StaleAfter = util.MarshalableTimeDuration(23 * time.Hour)
	}
	if cfg.Currency.PurgeAfter == 0 {
		cfg.Currency.PurgeAfter = util.MarshalableTimeDuration(7 * 24 * time.Hour)
	}
	if cfg.AI.RequestsPerMinute == 0 {
		cfg.AI.RequestsPerMinute = 10
	}
	if cfg.AI.CacheTTL == 0 {
		cfg.AI.CacheTTL = util.MarshalableTimeDuration(7 * 24 * time.Hour)
	}
}

func (cfg *Configuration) applyEnvironment() {
	cfg.ListenAddress = osext.GetenvOrDefault("KISSATEN_LISTEN_ADDRESS", cfg.ListenAddress)
	cfg.DatabasePath = osext.GetenvOrDefault("KISSATEN_DATABASE_PATH", cfg.DatabasePath)
	cfg.DataDir = osext.GetenvOrDefault("KISSATEN_DATA_DIR", cfg.DataDir)
	cfg.Currency.APIKey = osext.GetenvOrDefault("KISSATEN_EXCHANGE_API_KEY", cfg.Currency.APIKey)
	cfg.AI.APIKey = osext.GetenvOrDefault("KISSATEN_GEMINI_API_KEY", cfg.AI.APIKey)

	overrideBool(&cfg.UseRWDatabase, "KISSATEN_USE_RW_DB")
	overrideBool(&cfg.Loader.Incremental, "KISSATEN_INCREMENTAL")
	overrideBool(&cfg.Loader.CheckForChanges, "KISSATEN_CHECK_FOR_CHANGES")
}

// overrideBool replaces *target when the environment variable is set.
// An unset variable keeps the YAML value, unlike osext.GetenvBool which
// would flatten it to false.
func overrideBool(target *bool, key string) {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		logg.Fatal("cannot parse %s=%q as a boolean", key, raw)
	}
	*target = value
}

func (cfg Configuration) validate() (errs errext.ErrorSet) {
	missing := func(key string) {
		errs.Addf("missing configuration value: %s", key)
	}

	if cfg.DatabasePath == "" {
		missing("database_path")
	}
	if cfg.DataDir == "" {
		missing("data_dir")
	}
	if cfg.Loader.Concurrency < 0 {
		errs.Addf("loader.concurrency must not be negative")
	}
	if cfg.AI.RequestsPerMinute < 0 {
		errs.Addf("ai.requests_per_minute must not be negative")
	}
	return errs
}

// RoastersDir is where the scraper fleet deposits its dated artifact tree.
func (cfg Configuration) RoastersDir() string {
	return filepath.Join(cfg.DataDir, "roasters")
}

// RegionMappingsDir holds one <COUNTRY_ALPHA2>.json per country.
func (cfg Configuration) RegionMappingsDir() string {
	return filepath.Join(cfg.DataDir, "region_mappings")
}

// FarmMappingsPath is the output artifact of the farm deduplication pipeline.
func (cfg Configuration) FarmMappingsPath() string {
	return filepath.Join(cfg.DataDir, "farm_mappings.json")
}

// VarietalMappingsPath maps original varietal spellings to canonical names.
func (cfg Configuration) VarietalMappingsPath() string {
	return filepath.Join(cfg.DataDir, "varietal_mappings.json")
}

// ProcessingMethodsMappingsPath maps processing methods to common names.
func (cfg Configuration) ProcessingMethodsMappingsPath() string {
	return filepath.Join(cfg.DataDir, "processing_methods_mappings.json")
}

// RoasterRegistryPath is the curated roaster metadata file.
func (cfg Configuration) RoasterRegistryPath() string {
	return filepath.Join(cfg.DataDir, "roasters.json")
}
