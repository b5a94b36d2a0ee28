// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package reports

import (
	"database/sql"
	"fmt"

	"github.com/sapcc/go-bits/sqlext"

	"github.com/kissaten/kissaten/internal/core"
	"github.com/kissaten/kissaten/internal/db"
	"github.com/kissaten/kissaten/internal/search"
)

// FarmDetail consolidates every origin row of one farm, addressed by
// (country, region slug, normalized farm name).
type FarmDetail struct {
	Country         string   `json:"country"`
	CountryFullName string   `json:"country_full_name"`
	RegionSlug      string   `json:"region_slug"`
	FarmSlug        string   `json:"farm_slug"`
	CanonicalName   string   `json:"canonical_name"`
	// Producers lists every producer spelling seen on this farm's origins.
	Producers    []string    `json:"producers"`
	TotalBeans   int64       `json:"total_beans"`
	RoasterCount int64       `json:"roaster_count"`
	AvgElevation *float64    `json:"avg_elevation"`
	AvgPriceUSD  *float64    `json:"avg_price_usd"`
	Processes    []NameCount `json:"processing_methods"`
	TopVarietals []NameCount `json:"top_varietals"`
	CommonNotes  []NameCount `json:"common_tasting_notes"`
}

// farmBeanScope restricts beans to those with at least one origin on the
// given farm. Args: country, slug, slug, farmSlug.
const farmBeanScope = `EXISTS (
	SELECT 1 FROM origins
	 WHERE origins.bean_id = beans.id AND origins.country = ? AND ` + regionSlugCondition + `
	   AND origins.farm_normalized = ?
)`

// GetFarmDetail builds the report for one farm.
func GetFarmDetail(dbi db.Interface, country, regionSlug, farmSlug string, params search.Parameters) (FarmDetail, error) {
	whereSQL, args, err := beanFilter(params)
	if err != nil {
		return FarmDetail{}, err
	}
	whereSQL += " AND " + farmBeanScope
	args = append(args, country, regionSlug, regionSlug, farmSlug)

	detail := FarmDetail{
		Country:         country,
		CountryFullName: core.CountryName(country),
		RegionSlug:      regionSlug,
		FarmSlug:        farmSlug,
		Producers:       []string{},
	}

	err = sqlext.ForeachRow(dbi, fmt.Sprintf(`
		SELECT COUNT(*), COUNT(DISTINCT beans.roaster_directory), AVG(beans.price_usd)
		  FROM beans WHERE %s
	`, whereSQL), args, func(rows *sql.Rows) error {
		var avgPrice sql.NullFloat64
		err := rows.Scan(&detail.TotalBeans, &detail.RoasterCount, &avgPrice)
		if err != nil {
			return err
		}
		if avgPrice.Valid {
			rounded := round2(avgPrice.Float64)
			detail.AvgPriceUSD = &rounded
		}
		return nil
	})
	if err != nil {
		return FarmDetail{}, fmt.Errorf("aggregate farm stats: %w", err)
	}
	if detail.TotalBeans == 0 {
		return FarmDetail{}, ErrNotFound
	}

	originScope := `origins.country = ? AND ` + regionSlugCondition +
		` AND origins.farm_normalized = ?` +
		` AND origins.bean_id IN (SELECT beans.id FROM beans WHERE ` + whereSQL + `)`
	originArgs := append([]any{country, regionSlug, regionSlug, farmSlug}, args...)

	err = sqlext.ForeachRow(dbi, fmt.Sprintf(`
		SELECT DISTINCT NULLIF(origins.producer, '') AS producer
		  FROM origins WHERE producer IS NOT NULL AND %s ORDER BY 1
	`, originScope), originArgs, func(rows *sql.Rows) error {
		var producer string
		err := rows.Scan(&producer)
		if err != nil {
			return err
		}
		detail.Producers = append(detail.Producers, producer)
		return nil
	})
	if err != nil {
		return FarmDetail{}, fmt.Errorf("enumerate producers: %w", err)
	}

	err = sqlext.ForeachRow(dbi, fmt.Sprintf(`
		SELECT MIN(origins.farm) FROM origins WHERE %s
	`, originScope), originArgs, func(rows *sql.Rows) error {
		var farmName sql.NullString
		err := rows.Scan(&farmName)
		if err != nil {
			return err
		}
		detail.CanonicalName = farmName.String
		return nil
	})
	if err != nil {
		return FarmDetail{}, fmt.Errorf("resolve farm display name: %w", err)
	}

	// the dedup pipeline's canonical name takes precedence over raw spellings
	err = sqlext.ForeachRow(dbi,
		`SELECT NULLIF(canonical_farm(?, ?, ?), '')`,
		[]any{country, regionSlug, farmSlug}, func(rows *sql.Rows) error {
			var canonical sql.NullString
			err := rows.Scan(&canonical)
			if err != nil {
				return err
			}
			if canonical.Valid {
				detail.CanonicalName = canonical.String
			}
			return nil
		})
	if err != nil {
		return FarmDetail{}, fmt.Errorf("resolve canonical farm name: %w", err)
	}

	avgElevation, err := selectNullableAvg(dbi, fmt.Sprintf(`
		SELECT AVG(COALESCE(origins.elevation_min, origins.elevation_max)) FROM origins WHERE %s
	`, originScope), originArgs)
	if err != nil {
		return FarmDetail{}, err
	}
	if avgElevation != nil {
		rounded := round1(*avgElevation)
		detail.AvgElevation = &rounded
	}

	detail.Processes, err = selectNameCounts(dbi, fmt.Sprintf(`
		SELECT COALESCE(NULLIF(origins.process_common_name, ''), origins.process), COUNT(DISTINCT origins.bean_id) AS cnt
		  FROM origins WHERE origins.process != '' AND %s
		 GROUP BY 1 ORDER BY cnt DESC, 1
	`, originScope), originArgs)
	if err != nil {
		return FarmDetail{}, err
	}

	detail.TopVarietals, err = selectNameCounts(dbi, fmt.Sprintf(`
		SELECT varietals.value, COUNT(DISTINCT origins.bean_id) AS cnt
		  FROM origins, json_each(origins.variety_canonical) AS varietals
		 WHERE %s GROUP BY varietals.value ORDER BY cnt DESC, varietals.value
	`, originScope), originArgs)
	if err != nil {
		return FarmDetail{}, err
	}

	detail.CommonNotes, err = selectNameCounts(dbi, fmt.Sprintf(`
		SELECT notes.value, COUNT(*) AS cnt
		  FROM beans, json_each(beans.tasting_notes) AS notes
		 WHERE %s GROUP BY notes.value ORDER BY cnt DESC, notes.value LIMIT 15
	`, whereSQL), args)
	if err != nil {
		return FarmDetail{}, err
	}

	return detail, nil
}
