// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package canonical

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kissaten/kissaten/internal/core"
)

func tablesFromDataDir(t *testing.T, files map[string]string) *Tables {
	t.Helper()
	cfg := core.Configuration{DataDir: t.TempDir()}
	for name, contents := range files {
		path := filepath.Join(cfg.DataDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o777))
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o666))
	}
	tables, errs := NewTables(cfg)
	for _, err := range errs {
		t.Error(err.Error())
	}
	return tables
}

func TestLoadVarietalMappingsListFormat(t *testing.T) {
	// the resolver output shape: a list of full mapping objects
	tables := tablesFromDataDir(t, map[string]string{
		"varietal_mappings.json": `[
			{"original_name": "Heirloom", "canonical_names": ["Ethiopian Landraces"],
			 "confidence": 0.95, "is_compound": false, "separator": null},
			{"original_name": "SL28, SL34", "canonical_names": ["SL28", "SL34"],
			 "confidence": 0.99, "is_compound": true, "separator": ", "}
		]`,
	})

	assert.Equal(t, []string{"Ethiopian Landraces"}, tables.CanonicalVarietals("heirloom"))
	assert.Equal(t, []string{"SL28", "SL34"}, tables.CanonicalVarietals("SL28, SL34"))
	assert.True(t, tables.Varietals["sl28, sl34"].IsCompound)
	assert.Nil(t, tables.CanonicalVarietals("Gesha"))
}

func TestLoadVarietalMappingsLegacyMapFormat(t *testing.T) {
	tables := tablesFromDataDir(t, map[string]string{
		"varietal_mappings.json": `{
			"heirloom": "Ethiopian Landraces",
			"sl28, sl34": ["SL28", "SL34"],
			"pink bourbon": {"canonical_names": ["Pink Bourbon"], "is_compound": false}
		}`,
	})

	assert.Equal(t, []string{"Ethiopian Landraces"}, tables.CanonicalVarietals("Heirloom"))
	assert.Equal(t, []string{"SL28", "SL34"}, tables.CanonicalVarietals("SL28, SL34"))
	assert.Equal(t, []string{"Pink Bourbon"}, tables.CanonicalVarietals("Pink Bourbon"))
}

func TestLoadProcessingMappingsListFormat(t *testing.T) {
	tables := tablesFromDataDir(t, map[string]string{
		"processing_methods_mappings.json": `[
			{"original_name": "Washed", "common_name": "Washed"},
			{"original_name": "Thermal Shock", "common_name": "Experimental"}
		]`,
	})

	assert.Equal(t, "Experimental", tables.ProcessCommonName("thermal shock"))
	assert.Equal(t, "Washed", tables.ProcessCommonName("Washed"))
	// unmapped methods pass through
	assert.Equal(t, "Honey", tables.ProcessCommonName("Honey"))
}

func TestLoadProcessingMappingsLegacyMapFormat(t *testing.T) {
	tables := tablesFromDataDir(t, map[string]string{
		"processing_methods_mappings.json": `{"thermal shock": "Experimental"}`,
	})
	assert.Equal(t, "Experimental", tables.ProcessCommonName("Thermal Shock"))
}

func TestLoadMappingsRejectsMalformedFiles(t *testing.T) {
	cfg := core.Configuration{DataDir: t.TempDir()}
	path := filepath.Join(cfg.DataDir, "varietal_mappings.json")
	require.NoError(t, os.WriteFile(path, []byte(`"just a string"`), 0o666))

	_, errs := NewTables(cfg)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "parse varietal mappings")
}
