// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"path"
	"regexp"
	"strings"
)

// Scrapers write one artifact per product per run, named
// <bean_slug>_<HHMMSS>.json within a dated directory. The helpers in this
// file derive the identifiers that the catalog hangs off these filenames.

var timeSuffixRx = regexp.MustCompile(`_\d{6}$`)

// FilenameStem strips the artifact extension (".json" or ".diffjson").
func FilenameStem(filename string) string {
	return strings.TrimSuffix(strings.TrimSuffix(path.Base(filename), ".diffjson"), ".json")
}

// CleanSlug removes the trailing _HHMMSS run suffix from a filename stem.
// Artifacts of the same product taken on different runs share this slug, so
// it serves as the deduplication key across scrape dates.
func CleanSlug(stem string) string {
	return timeSuffixRx.ReplaceAllString(stem, "")
}

// BeanURLPath builds the frontend routing path for a bean.
func BeanURLPath(roasterDirectory, cleanSlug string) string {
	return "/" + roasterDirectory + "/" + cleanSlug
}

// StaticImagePath maps an artifact's relative path to the mirrored product
// image that the image capture step stores next to the JSON, e.g.
// "roasters/blue_tokai/20250612/kind_folk_103000.json" becomes
// "/static/data/roasters/blue_tokai/20250612/kind_folk_103000.png".
func StaticImagePath(relPath string) string {
	stem := strings.TrimSuffix(relPath, path.Ext(relPath))
	return "/static/data/" + stem + ".png"
}
