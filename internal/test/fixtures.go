// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteDataFile places a file into the data directory, creating parent
// directories as needed. The path is relative to the data root and uses
// forward slashes.
func WriteDataFile(t *testing.T, dataDir, relPath, content string) {
	t.Helper()
	fullPath := filepath.Join(dataDir, filepath.FromSlash(relPath))
	err := os.MkdirAll(filepath.Dir(fullPath), 0o777)
	if err != nil {
		t.Fatal(err)
	}
	err = os.WriteFile(fullPath, []byte(content), 0o666)
	if err != nil {
		t.Fatal(err)
	}
}

// AddScrapeFile writes a bean JSON file into an existing Setup's scrape tree,
// for tests that mutate the tree between loader runs.
func (s Setup) AddScrapeFile(t *testing.T, roasterDir, scrapeDate, name, content string) {
	t.Helper()
	WriteDataFile(t, s.Config.DataDir, fmt.Sprintf("roasters/%s/%s/%s", roasterDir, scrapeDate, name), content)
}

// RemoveScrapeFile deletes a file from the scrape tree, simulating a scraper
// retracting an artifact.
func (s Setup) RemoveScrapeFile(t *testing.T, roasterDir, scrapeDate, name string) {
	t.Helper()
	fullPath := filepath.Join(s.Config.DataDir, "roasters", roasterDir, scrapeDate, name)
	err := os.Remove(fullPath)
	if err != nil {
		t.Fatal(err)
	}
}

// BeanJSON renders a minimal valid bean record with the given overrides
// spliced in as raw JSON members. Pass e.g. `"price": 18.50` or
// `"in_stock": false`. A single Ethiopian origin is included unless an
// "origins" member overrides it (later members win on decode).
func BeanJSON(name, roaster, url string, extraMembers ...string) string {
	doc := fmt.Sprintf(`{
		"name": %q,
		"roaster": %q,
		"url": %q,
		"scraped_at": "2026-08-15T08:00:00Z",
		"origins": [{"country": "ET", "region": "Yirgacheffe"}]`, name, roaster, url)
	for _, member := range extraMembers {
		doc += ",\n\t\t" + member
	}
	return doc + "\n\t}"
}

// DiffJSON renders a diff record targeting the given product URL.
func DiffJSON(url, scrapedAt string, changedMembers ...string) string {
	doc := fmt.Sprintf(`{
		"url": %q,
		"scraped_at": %q`, url, scrapedAt)
	for _, member := range changedMembers {
		doc += ",\n\t\t" + member
	}
	return doc + "\n\t}"
}

// RoasterRegistryJSON renders a roasters.json document from (slug, name,
// location_code) triples.
func RoasterRegistryJSON(entries ...[3]string) string {
	doc := `[`
	for idx, e := range entries {
		if idx > 0 {
			doc += ", "
		}
		doc += fmt.Sprintf(`{"slug": %q, "name": %q, "location_code": %q}`, e[0], e[1], e[2])
	}
	return doc + `]`
}
