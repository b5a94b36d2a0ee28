// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package reports

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sapcc/go-bits/sqlext"

	"github.com/kissaten/kissaten/internal/db"
)

// CatalogStats is the headline overview of the whole warehouse. It is not
// filter-aware: the numbers describe the catalog itself.
type CatalogStats struct {
	TotalBeans    int64      `json:"total_beans"`
	InStockBeans  int64      `json:"in_stock_beans"`
	RoasterCount  int64      `json:"roaster_count"`
	CountryCount  int64      `json:"country_count"`
	VarietalCount int64      `json:"varietal_count"`
	AvgPriceUSD   *float64   `json:"avg_price_usd"`
	LastIngestAt  *time.Time `json:"last_ingest_at"`
	TopCountries  []NameCount `json:"top_countries"`
	TopRoasters   []NameCount `json:"top_roasters"`
}

var catalogStatsQuery = sqlext.SimplifyWhitespace(`
	SELECT COUNT(*), COALESCE(SUM(in_stock), 0), COUNT(DISTINCT roaster_directory), AVG(price_usd)
	  FROM beans
`)

// GetCatalogStats builds the catalog overview.
func GetCatalogStats(dbi db.Interface) (CatalogStats, error) {
	var stats CatalogStats

	err := sqlext.ForeachRow(dbi, catalogStatsQuery, nil, func(rows *sql.Rows) error {
		var avgPrice sql.NullFloat64
		err := rows.Scan(&stats.TotalBeans, &stats.InStockBeans, &stats.RoasterCount, &avgPrice)
		if err != nil {
			return err
		}
		if avgPrice.Valid {
			rounded := round2(avgPrice.Float64)
			stats.AvgPriceUSD = &rounded
		}
		return nil
	})
	if err != nil {
		return CatalogStats{}, fmt.Errorf("aggregate catalog stats: %w", err)
	}

	err = sqlext.ForeachRow(dbi, sqlext.SimplifyWhitespace(`
		SELECT COUNT(DISTINCT NULLIF(origins.country, '')),
		       (SELECT COUNT(DISTINCT varietals.value)
		          FROM origins, json_each(origins.variety_canonical) AS varietals)
		  FROM origins
	`), nil, func(rows *sql.Rows) error {
		return rows.Scan(&stats.CountryCount, &stats.VarietalCount)
	})
	if err != nil {
		return CatalogStats{}, fmt.Errorf("aggregate origin stats: %w", err)
	}

	err = sqlext.ForeachRow(dbi,
		`SELECT MAX(processed_at) FROM processed_files`, nil, func(rows *sql.Rows) error {
			var latest sql.NullTime
			err := rows.Scan(&latest)
			if err != nil {
				return err
			}
			if latest.Valid {
				stats.LastIngestAt = &latest.Time
			}
			return nil
		})
	if err != nil {
		return CatalogStats{}, fmt.Errorf("read ingest timestamp: %w", err)
	}

	stats.TopCountries, err = selectNameCounts(dbi, sqlext.SimplifyWhitespace(`
		SELECT country_full_name(origins.country), COUNT(DISTINCT origins.bean_id) AS cnt
		  FROM origins WHERE origins.country != ''
		 GROUP BY origins.country ORDER BY cnt DESC, 1 LIMIT 10
	`), nil)
	if err != nil {
		return CatalogStats{}, err
	}

	stats.TopRoasters, err = selectNameCounts(dbi, sqlext.SimplifyWhitespace(`
		SELECT roaster, COUNT(*) AS cnt FROM beans
		 GROUP BY roaster ORDER BY cnt DESC, roaster LIMIT 10
	`), nil)
	if err != nil {
		return CatalogStats{}, err
	}

	return stats, nil
}
