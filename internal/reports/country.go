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

// CountryDetail aggregates everything the catalog knows about one growing
// country, under the caller's filter set.
type CountryDetail struct {
	Country           string              `json:"country"`
	CountryFullName   string              `json:"country_full_name"`
	TotalBeans        int64               `json:"total_beans"`
	RoasterCount      int64               `json:"roaster_count"`
	RegionCount       int64               `json:"region_count"`
	FarmCount         int64               `json:"farm_count"`
	AvgElevation      *float64            `json:"avg_elevation"`
	AvgPriceUSD       *float64            `json:"avg_price_usd"`
	TopRoasters       []NameCount         `json:"top_roasters"`
	CommonNotes       []NameCount         `json:"common_tasting_notes"`
	TopVarietals      []NameCount         `json:"top_varietals"`
	ProcessingMethods []NameCount         `json:"processing_methods"`
	Elevations        []ElevationBucket   `json:"elevation_distribution"`
}

// NameCount is one aggregated (label, bean count) pair.
type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// ElevationBucket is one 500m band of the elevation histogram.
type ElevationBucket struct {
	FromMeters int64 `json:"from_meters"`
	ToMeters   int64 `json:"to_meters"`
	Count      int64 `json:"count"`
}

// GetCountryDetail builds the report for one country. ErrNotFound is returned
// when no beans match, so that mistyped country codes 404 instead of showing
// an all-zero report.
func GetCountryDetail(dbi db.Interface, country string, params search.Parameters) (CountryDetail, error) {
	whereSQL, args, err := beanFilter(params)
	if err != nil {
		return CountryDetail{}, err
	}

	scope := func(query string) string {
		return fmt.Sprintf(query, whereSQL)
	}
	countryArgs := func(extra ...any) []any {
		return append(append(append([]any{}, args...), country), extra...)
	}

	detail := CountryDetail{
		Country:         country,
		CountryFullName: core.CountryName(country),
	}

	// headline stats
	err = sqlext.ForeachRow(dbi, scope(`
		SELECT COUNT(*), COUNT(DISTINCT beans.roaster_directory), AVG(beans.price_usd)
		  FROM beans
		 WHERE %s AND EXISTS (SELECT 1 FROM origins WHERE origins.bean_id = beans.id AND origins.country = ?)
	`), countryArgs(), func(rows *sql.Rows) error {
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
		return CountryDetail{}, fmt.Errorf("aggregate country stats: %w", err)
	}
	if detail.TotalBeans == 0 {
		return CountryDetail{}, ErrNotFound
	}

	// region, farm and elevation stats come from the origin rows of the
	// filtered beans
	err = sqlext.ForeachRow(dbi, scope(`
		SELECT COUNT(DISTINCT COALESCE(
		         NULLIF(normalize_region_name(NULLIF(canonical_state(origins.country, origins.region), '')), ''),
		         NULLIF(origins.region_normalized, ''))),
		       COUNT(DISTINCT NULLIF(origins.farm_normalized, '')),
		       AVG(COALESCE(origins.elevation_min, origins.elevation_max))
		  FROM origins
		 WHERE origins.country = ? AND origins.bean_id IN (SELECT beans.id FROM beans WHERE %s)
	`), append([]any{country}, args...), func(rows *sql.Rows) error {
		var avgElevation sql.NullFloat64
		err := rows.Scan(&detail.RegionCount, &detail.FarmCount, &avgElevation)
		if err != nil {
			return err
		}
		if avgElevation.Valid {
			rounded := round1(avgElevation.Float64)
			detail.AvgElevation = &rounded
		}
		return nil
	})
	if err != nil {
		return CountryDetail{}, fmt.Errorf("aggregate origin stats: %w", err)
	}

	detail.TopRoasters, err = selectNameCounts(dbi, scope(`
		SELECT beans.roaster, COUNT(*) AS cnt
		  FROM beans
		 WHERE %s AND EXISTS (SELECT 1 FROM origins WHERE origins.bean_id = beans.id AND origins.country = ?)
		 GROUP BY beans.roaster ORDER BY cnt DESC, beans.roaster LIMIT 10
	`), countryArgs())
	if err != nil {
		return CountryDetail{}, err
	}

	detail.CommonNotes, err = selectNameCounts(dbi, scope(`
		SELECT notes.value, COUNT(*) AS cnt
		  FROM beans, json_each(beans.tasting_notes) AS notes
		 WHERE %s AND EXISTS (SELECT 1 FROM origins WHERE origins.bean_id = beans.id AND origins.country = ?)
		 GROUP BY notes.value ORDER BY cnt DESC, notes.value LIMIT 15
	`), countryArgs())
	if err != nil {
		return CountryDetail{}, err
	}

	detail.TopVarietals, err = selectNameCounts(dbi, scope(`
		SELECT varietals.value, COUNT(DISTINCT origins.bean_id) AS cnt
		  FROM origins, json_each(origins.variety_canonical) AS varietals
		 WHERE origins.country = ? AND origins.bean_id IN (SELECT beans.id FROM beans WHERE %s)
		 GROUP BY varietals.value ORDER BY cnt DESC, varietals.value LIMIT 10
	`), append([]any{country}, args...))
	if err != nil {
		return CountryDetail{}, err
	}

	detail.ProcessingMethods, err = selectNameCounts(dbi, scope(`
		SELECT COALESCE(NULLIF(origins.process_common_name, ''), origins.process), COUNT(DISTINCT origins.bean_id) AS cnt
		  FROM origins
		 WHERE origins.country = ? AND origins.process != ''
		   AND origins.bean_id IN (SELECT beans.id FROM beans WHERE %s)
		 GROUP BY 1 ORDER BY cnt DESC, 1 LIMIT 10
	`), append([]any{country}, args...))
	if err != nil {
		return CountryDetail{}, err
	}

	detail.Elevations, err = selectElevationBuckets(dbi, scope(`
		SELECT (COALESCE(origins.elevation_min, origins.elevation_max) / 500) * 500 AS bucket,
		       COUNT(DISTINCT origins.bean_id)
		  FROM origins
		 WHERE origins.country = ?
		   AND COALESCE(origins.elevation_min, origins.elevation_max) IS NOT NULL
		   AND origins.bean_id IN (SELECT beans.id FROM beans WHERE %s)
		 GROUP BY bucket ORDER BY bucket
	`), append([]any{country}, args...))
	if err != nil {
		return CountryDetail{}, err
	}

	return detail, nil
}

func selectNameCounts(dbi db.Interface, query string, args []any) ([]NameCount, error) {
	result := []NameCount{}
	err := sqlext.ForeachRow(dbi, query, args, func(rows *sql.Rows) error {
		var entry NameCount
		err := rows.Scan(&entry.Name, &entry.Count)
		if err != nil {
			return err
		}
		result = append(result, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate counts: %w", err)
	}
	return result, nil
}

func selectElevationBuckets(dbi db.Interface, query string, args []any) ([]ElevationBucket, error) {
	result := []ElevationBucket{}
	err := sqlext.ForeachRow(dbi, query, args, func(rows *sql.Rows) error {
		var bucket ElevationBucket
		err := rows.Scan(&bucket.FromMeters, &bucket.Count)
		if err != nil {
			return err
		}
		bucket.ToMeters = bucket.FromMeters + 500
		result = append(result, bucket)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate elevation distribution: %w", err)
	}
	return result, nil
}
