// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

// Package canonical loads the canonicalization tables that turn free-form
// scraper output (region spellings, farm names, varietals, processing
// methods) into the canonical values used for browsing and aggregation.
//
// All tables are immutable after loading. The region and farm maps are also
// exposed to SQL as the canonical_state() and canonical_farm() functions, so
// ingest and search queries use exactly the same resolution as Go code.
package canonical

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sapcc/go-bits/errext"
	"github.com/sapcc/go-bits/logg"

	"github.com/kissaten/kissaten/internal/core"
	"github.com/kissaten/kissaten/internal/db"
	"github.com/kissaten/kissaten/internal/util"
)

// RegionEntry is one resolution result in a per-country region mapping file.
// A null CanonicalState marks the region as invalid: it is excluded from
// browsing, but the entry is preserved so the resolver does not retry it.
type RegionEntry struct {
	CanonicalState *string `json:"canonical_state"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// Tables bundles every canonicalization map. Construct with NewTables.
type Tables struct {
	// regions maps country -> folded original region -> entry.
	regions map[string]map[string]RegionEntry
	// farms maps country -> region_slug -> farm_normalized -> canonical name.
	farms map[string]map[string]map[string]string
	// Varietals maps the lowercased original spelling to its canonical
	// names. Compound spellings ("SL28, SL34") carry several.
	Varietals map[string]VarietalEntry
	// Processing maps the lowercased original method to its common name.
	Processing map[string]string
	// Roasters is the curated roaster registry, keyed by directory slug.
	Roasters map[string]RoasterInfo
}

// NewTables eagerly loads all canonicalization tables from the data
// directory. Missing files yield empty tables (a fresh deployment has no farm
// mappings yet); malformed files are collected as errors.
func NewTables(cfg core.Configuration) (*Tables, errext.ErrorSet) {
	var errs errext.ErrorSet
	t := &Tables{
		regions:    make(map[string]map[string]RegionEntry),
		farms:      make(map[string]map[string]map[string]string),
		Varietals:  make(map[string]VarietalEntry),
		Processing: make(map[string]string),
		Roasters:   make(map[string]RoasterInfo),
	}

	errs.Append(t.loadRegionMappings(cfg.RegionMappingsDir()))
	errs.Add(t.loadFarmMappings(cfg.FarmMappingsPath()))
	errs.Add(t.loadVarietalMappings(cfg.VarietalMappingsPath()))
	errs.Add(t.loadProcessingMappings(cfg.ProcessingMethodsMappingsPath()))
	errs.Add(t.loadRoasterRegistry(cfg.RoasterRegistryPath()))
	return t, errs
}

func (t *Tables) loadRegionMappings(dir string) (errs errext.ErrorSet) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logg.Info("no region mappings at %s", dir)
			return nil
		}
		errs.Addf("read region mappings: %w", err)
		return errs
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		country := strings.ToUpper(strings.TrimSuffix(name, ".json"))
		if len(country) != 2 {
			logg.Info("skipping region mapping file with unexpected name: %s", name)
			continue
		}
		buf, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			errs.Addf("read region mapping for %s: %w", country, err)
			continue
		}
		var byOriginal map[string]RegionEntry
		err = json.Unmarshal(buf, &byOriginal)
		if err != nil {
			errs.Addf("parse region mapping for %s: %w", country, err)
			continue
		}
		folded := make(map[string]RegionEntry, len(byOriginal))
		for original, regionEntry := range byOriginal {
			folded[util.FoldText(original)] = regionEntry
		}
		t.regions[country] = folded
	}
	return errs
}

// FarmClusterMapping is one cluster in the farm mappings file, as produced by
// the farm deduplication pipeline.
type FarmClusterMapping struct {
	Country             string   `json:"country"`
	Region              string   `json:"region"` // region_slug
	CanonicalFarmName   string   `json:"canonical_farm_name"`
	NormalizedFarmNames []string `json:"normalized_farm_names"`
}

func (t *Tables) loadFarmMappings(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logg.Info("no farm mappings at %s", path)
			return nil
		}
		return fmt.Errorf("read farm mappings: %w", err)
	}
	var clusters []FarmClusterMapping
	err = json.Unmarshal(buf, &clusters)
	if err != nil {
		return fmt.Errorf("parse farm mappings: %w", err)
	}

	for _, cluster := range clusters {
		country := strings.ToUpper(cluster.Country)
		byRegion := t.farms[country]
		if byRegion == nil {
			byRegion = make(map[string]map[string]string)
			t.farms[country] = byRegion
		}
		byFarm := byRegion[cluster.Region]
		if byFarm == nil {
			byFarm = make(map[string]string)
			byRegion[cluster.Region] = byFarm
		}
		for _, normalized := range cluster.NormalizedFarmNames {
			byFarm[normalized] = cluster.CanonicalFarmName
		}
	}
	return nil
}

// CanonicalState resolves a raw region value for the given country.
// Unmapped regions fall back to the original value; regions that the mapping
// marks as invalid resolve to ok == false.
func (t *Tables) CanonicalState(country, region string) (state string, ok bool) {
	if region == "" {
		return "", false
	}
	entry, exists := t.regions[strings.ToUpper(country)][util.FoldText(region)]
	if !exists {
		return region, true
	}
	if entry.CanonicalState == nil {
		return "", false
	}
	return *entry.CanonicalState, true
}

// CanonicalFarm resolves a normalized farm name within (country, region_slug).
// ok == false when no cluster claims this farm.
func (t *Tables) CanonicalFarm(country, regionSlug, farmNormalized string) (farm string, ok bool) {
	farm, ok = t.farms[strings.ToUpper(country)][regionSlug][farmNormalized]
	return farm, ok
}

// RegionCount reports how many region mappings are loaded, for startup logs.
func (t *Tables) RegionCount() (countries, regions int) {
	for _, m := range t.regions {
		regions += len(m)
	}
	return len(t.regions), regions
}

// SQLFunctions adapts the tables for registration on database connections.
// The SQL binding cannot return NULL, so "no result" is the empty string and
// call sites wrap the function in NULLIF(..., '').
func (t *Tables) SQLFunctions() db.SQLFunctions {
	return db.SQLFunctions{
		CanonicalState: func(country, region string) string {
			state, ok := t.CanonicalState(country, region)
			if !ok {
				return ""
			}
			return state
		},
		CanonicalFarm: func(country, regionSlug, farmNormalized string) string {
			farm, ok := t.CanonicalFarm(country, regionSlug, farmNormalized)
			if !ok {
				return ""
			}
			return farm
		},
		NormalizeRegionName: util.Slugify,
		NormalizeFarmName:   util.Slugify,
		CountryFullName:     core.CountryName,
	}
}
