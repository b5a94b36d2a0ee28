// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package reports

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/sapcc/go-bits/sqlext"

	"github.com/kissaten/kissaten/internal/core"
	"github.com/kissaten/kissaten/internal/db"
)

// OriginHit is one typed result of the origin typeahead search.
type OriginHit struct {
	// Type is "country", "region" or "farm".
	Type            string `json:"type"`
	Country         string `json:"country"`
	CountryFullName string `json:"country_full_name"`
	RegionSlug      string `json:"region_slug,omitempty"`
	FarmSlug        string `json:"farm_slug,omitempty"`
	DisplayName     string `json:"display_name"`
	BeanCount       int64  `json:"bean_count"`
}

var originCountrySearchQuery = sqlext.SimplifyWhitespace(`
	SELECT origins.country, COUNT(DISTINCT origins.bean_id) AS cnt
	  FROM origins
	 WHERE origins.country != ''
	   AND (origins.country LIKE ? ESCAPE '\' OR country_full_name(origins.country) LIKE ? ESCAPE '\')
	 GROUP BY origins.country ORDER BY cnt DESC LIMIT ?
`)

var originRegionSearchQuery = sqlext.SimplifyWhitespace(`
	SELECT origins.country,
	       COALESCE(
	         NULLIF(normalize_region_name(NULLIF(canonical_state(origins.country, origins.region), '')), ''),
	         origins.region_normalized),
	       COALESCE(NULLIF(canonical_state(origins.country, origins.region), ''), MIN(origins.region)),
	       COUNT(DISTINCT origins.bean_id) AS cnt
	  FROM origins
	 WHERE origins.region != ''
	   AND (origins.region LIKE ? ESCAPE '\'
	        OR origins.region_normalized LIKE ? ESCAPE '\'
	        OR canonical_state(origins.country, origins.region) LIKE ? ESCAPE '\')
	 GROUP BY 1, 2 ORDER BY cnt DESC LIMIT ?
`)

var originFarmSearchQuery = sqlext.SimplifyWhitespace(`
	SELECT origins.country,
	       COALESCE(
	         NULLIF(normalize_region_name(NULLIF(canonical_state(origins.country, origins.region), '')), ''),
	         origins.region_normalized),
	       origins.farm_normalized, MIN(origins.farm),
	       COUNT(DISTINCT origins.bean_id) AS cnt
	  FROM origins
	 WHERE origins.farm != ''
	   AND (origins.farm LIKE ? ESCAPE '\'
	        OR origins.farm_normalized LIKE ? ESCAPE '\'
	        OR origins.producer LIKE ? ESCAPE '\')
	 GROUP BY 1, 2, 3 ORDER BY cnt DESC LIMIT ?
`)

// SearchOrigins runs the free-text typeahead across countries, regions and
// farms. An empty query yields no hits.
func SearchOrigins(dbi db.Interface, query string, limit int) ([]OriginHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []OriginHit{}, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	pattern := "%" + escapeLike(query) + "%"

	hits := []OriginHit{}
	err := sqlext.ForeachRow(dbi, originCountrySearchQuery, []any{pattern, pattern, limit}, func(rows *sql.Rows) error {
		var hit OriginHit
		err := rows.Scan(&hit.Country, &hit.BeanCount)
		if err != nil {
			return err
		}
		hit.Type = "country"
		hit.CountryFullName = core.CountryName(hit.Country)
		hit.DisplayName = hit.CountryFullName
		hits = append(hits, hit)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search countries: %w", err)
	}

	err = sqlext.ForeachRow(dbi, originRegionSearchQuery, []any{pattern, pattern, pattern, limit}, func(rows *sql.Rows) error {
		var (
			hit  OriginHit
			slug sql.NullString
		)
		err := rows.Scan(&hit.Country, &slug, &hit.DisplayName, &hit.BeanCount)
		if err != nil {
			return err
		}
		if !slug.Valid || slug.String == "" {
			return nil
		}
		hit.Type = "region"
		hit.RegionSlug = slug.String
		hit.CountryFullName = core.CountryName(hit.Country)
		hits = append(hits, hit)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search regions: %w", err)
	}

	err = sqlext.ForeachRow(dbi, originFarmSearchQuery, []any{pattern, pattern, pattern, limit}, func(rows *sql.Rows) error {
		var (
			hit        OriginHit
			regionSlug sql.NullString
		)
		err := rows.Scan(&hit.Country, &regionSlug, &hit.FarmSlug, &hit.DisplayName, &hit.BeanCount)
		if err != nil {
			return err
		}
		hit.Type = "farm"
		hit.RegionSlug = regionSlug.String
		hit.CountryFullName = core.CountryName(hit.Country)
		hits = append(hits, hit)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search farms: %w", err)
	}

	return hits, nil
}

// escapeLike protects LIKE metacharacters in user input.
func escapeLike(input string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(input)
}
