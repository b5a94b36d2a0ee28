// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package canonical

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/logg"

	"github.com/kissaten/kissaten/internal/db"
)

// VarietalEntry is one resolution in the varietal mappings file. Compound
// spellings like "SL28, SL34" explode into several canonical names.
type VarietalEntry struct {
	CanonicalNames []string
	IsCompound     bool
}

// The varietal mappings file has grown organically: early entries are plain
// strings, compound entries are arrays, and entries from the resolver carry
// full metadata objects. All three shapes are accepted.
func (e *VarietalEntry) UnmarshalJSON(buf []byte) error {
	var asString string
	if err := json.Unmarshal(buf, &asString); err == nil {
		e.CanonicalNames = []string{asString}
		e.IsCompound = false
		return nil
	}
	var asList []string
	if err := json.Unmarshal(buf, &asList); err == nil {
		e.CanonicalNames = asList
		e.IsCompound = len(asList) > 1
		return nil
	}
	var asObject struct {
		CanonicalNames []string `json:"canonical_names"`
		IsCompound     bool     `json:"is_compound"`
	}
	err := json.Unmarshal(buf, &asObject)
	if err != nil {
		return err
	}
	e.CanonicalNames = asObject.CanonicalNames
	e.IsCompound = asObject.IsCompound
	return nil
}

func (t *Tables) loadVarietalMappings(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logg.Info("no varietal mappings at %s", path)
			return nil
		}
		return fmt.Errorf("read varietal mappings: %w", err)
	}

	// The resolver writes a list of full mapping objects; hand-maintained
	// files from before the resolver use a map keyed by original spelling.
	var entries []struct {
		OriginalName   string   `json:"original_name"`
		CanonicalNames []string `json:"canonical_names"`
		IsCompound     bool     `json:"is_compound"`
	}
	err = json.Unmarshal(buf, &entries)
	if err == nil {
		for _, entry := range entries {
			t.Varietals[strings.ToLower(strings.TrimSpace(entry.OriginalName))] = VarietalEntry{
				CanonicalNames: entry.CanonicalNames,
				IsCompound:     entry.IsCompound,
			}
		}
		return nil
	}
	var byOriginal map[string]VarietalEntry
	err = json.Unmarshal(buf, &byOriginal)
	if err != nil {
		return fmt.Errorf("parse varietal mappings: %w", err)
	}
	for original, entry := range byOriginal {
		t.Varietals[strings.ToLower(strings.TrimSpace(original))] = entry
	}
	return nil
}

func (t *Tables) loadProcessingMappings(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logg.Info("no processing method mappings at %s", path)
			return nil
		}
		return fmt.Errorf("read processing method mappings: %w", err)
	}

	// list of mapping objects, or the legacy map shape
	var entries []struct {
		OriginalName string `json:"original_name"`
		CommonName   string `json:"common_name"`
	}
	err = json.Unmarshal(buf, &entries)
	if err == nil {
		for _, entry := range entries {
			t.Processing[strings.ToLower(strings.TrimSpace(entry.OriginalName))] = entry.CommonName
		}
		return nil
	}
	var byOriginal map[string]string
	err = json.Unmarshal(buf, &byOriginal)
	if err != nil {
		return fmt.Errorf("parse processing method mappings: %w", err)
	}
	for original, commonName := range byOriginal {
		t.Processing[strings.ToLower(strings.TrimSpace(original))] = commonName
	}
	return nil
}

// RoasterInfo is one entry of the curated roaster registry. The slug must
// match the roaster's directory name in the scraper output tree.
type RoasterInfo struct {
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	Website      string `json:"website"`
	LocationCode string `json:"location_code"`
	Active       *bool  `json:"active"` // nil counts as active
}

// IsActive resolves the optional active flag.
func (r RoasterInfo) IsActive() bool {
	return r.Active == nil || *r.Active
}

func (t *Tables) loadRoasterRegistry(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logg.Info("no roaster registry at %s", path)
			return nil
		}
		return fmt.Errorf("read roaster registry: %w", err)
	}
	var roasters []RoasterInfo
	err = json.Unmarshal(buf, &roasters)
	if err != nil {
		return fmt.Errorf("parse roaster registry: %w", err)
	}
	for _, roaster := range roasters {
		if roaster.Slug == "" {
			return fmt.Errorf("roaster registry entry without slug: %q", roaster.Name)
		}
		t.Roasters[roaster.Slug] = roaster
	}
	return nil
}

// RoasterDisplayName maps a roaster directory slug to its curated display
// name, falling back to the given default when the registry has no entry.
func (t *Tables) RoasterDisplayName(slug, fallback string) string {
	if info, exists := t.Roasters[slug]; exists && info.Name != "" {
		return info.Name
	}
	return fallback
}

// CanonicalVarietals resolves a raw variety value. The match is
// case-insensitive on the original spelling; unmapped varieties resolve to an
// empty list.
func (t *Tables) CanonicalVarietals(variety string) []string {
	entry, exists := t.Varietals[strings.ToLower(strings.TrimSpace(variety))]
	if !exists {
		return nil
	}
	return entry.CanonicalNames
}

// ProcessCommonName resolves a raw processing method, falling back to the
// original value when unmapped.
func (t *Tables) ProcessCommonName(process string) string {
	if commonName, exists := t.Processing[strings.ToLower(strings.TrimSpace(process))]; exists {
		return commonName
	}
	return process
}

// SyncMappingTables reconciles the varietal_mappings and
// processing_method_mappings DB tables with the loaded files, so that ingest
// queries can join against them.
func (t *Tables) SyncMappingTables(tx *gorp.Transaction) error {
	var existingVarietals []db.VarietalMapping
	_, err := tx.Select(&existingVarietals, `SELECT * FROM varietal_mappings`)
	if err != nil {
		return fmt.Errorf("enumerate varietal mappings: %w", err)
	}
	_, err = db.SetUpdate[db.VarietalMapping, string]{
		ExistingRecords: existingVarietals,
		WantedKeys:      sortedKeys(t.Varietals),
		KeyForRecord:    func(m db.VarietalMapping) string { return m.Original },
		Create:          func(original string) (db.VarietalMapping, error) { return db.VarietalMapping{Original: original}, nil },
		Update: func(m *db.VarietalMapping) error {
			entry := t.Varietals[m.Original]
			buf, err := json.Marshal(entry.CanonicalNames)
			if err != nil {
				return err
			}
			m.CanonicalNamesJSON = string(buf)
			m.IsCompound = entry.IsCompound
			return nil
		},
	}.Execute(tx)
	if err != nil {
		return err
	}

	var existingMethods []db.ProcessingMethodMapping
	_, err = tx.Select(&existingMethods, `SELECT * FROM processing_method_mappings`)
	if err != nil {
		return fmt.Errorf("enumerate processing method mappings: %w", err)
	}
	_, err = db.SetUpdate[db.ProcessingMethodMapping, string]{
		ExistingRecords: existingMethods,
		WantedKeys:      sortedKeys(t.Processing),
		KeyForRecord:    func(m db.ProcessingMethodMapping) string { return m.Original },
		Create: func(original string) (db.ProcessingMethodMapping, error) {
			return db.ProcessingMethodMapping{Original: original}, nil
		},
		Update: func(m *db.ProcessingMethodMapping) error {
			m.CommonName = t.Processing[m.Original]
			return nil
		},
	}.Execute(tx)
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
