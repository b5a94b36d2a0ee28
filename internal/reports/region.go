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

// RegionDetail aggregates one growing region, addressed by country and the
// normalized canonical state slug. Farm summaries are included in-line.
type RegionDetail struct {
	Country         string        `json:"country"`
	CountryFullName string        `json:"country_full_name"`
	RegionSlug      string        `json:"region_slug"`
	CanonicalState  string        `json:"canonical_state,omitempty"`
	// RawRegions lists the original spellings that resolve to this slug.
	RawRegions   []string    `json:"raw_regions"`
	TotalBeans   int64       `json:"total_beans"`
	RoasterCount int64       `json:"roaster_count"`
	AvgElevation *float64    `json:"avg_elevation"`
	AvgPriceUSD  *float64    `json:"avg_price_usd"`
	CommonNotes  []NameCount `json:"common_tasting_notes"`
	TopVarietals []NameCount `json:"top_varietals"`
	Farms        []FarmSummary `json:"farms"`
}

// FarmSummary is the in-line farm listing of a region detail report.
type FarmSummary struct {
	FarmSlug      string `json:"farm_slug"`
	CanonicalName string `json:"canonical_name"`
	Producer      string `json:"producer,omitempty"`
	BeanCount     int64  `json:"bean_count"`
}

// regionBeanScope restricts beans to those with at least one origin in the
// given (country, region slug) pair. Args: country, slug, slug.
const regionBeanScope = `EXISTS (
	SELECT 1 FROM origins
	 WHERE origins.bean_id = beans.id AND origins.country = ? AND ` + regionSlugCondition + `
)`

// GetRegionDetail builds the report for one region.
func GetRegionDetail(dbi db.Interface, country, regionSlug string, params search.Parameters) (RegionDetail, error) {
	whereSQL, args, err := beanFilter(params)
	if err != nil {
		return RegionDetail{}, err
	}
	whereSQL += " AND " + regionBeanScope
	args = append(args, country, regionSlug, regionSlug)

	detail := RegionDetail{
		Country:         country,
		CountryFullName: core.CountryName(country),
		RegionSlug:      regionSlug,
		RawRegions:      []string{},
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
		return RegionDetail{}, fmt.Errorf("aggregate region stats: %w", err)
	}
	if detail.TotalBeans == 0 {
		return RegionDetail{}, ErrNotFound
	}

	// scope for queries rooted at origins rather than beans
	originScope := `origins.country = ? AND ` + regionSlugCondition +
		` AND origins.bean_id IN (SELECT beans.id FROM beans WHERE ` + whereSQL + `)`
	originArgs := append([]any{country, regionSlug, regionSlug}, args...)

	err = sqlext.ForeachRow(dbi, fmt.Sprintf(`
		SELECT DISTINCT origins.region, NULLIF(canonical_state(origins.country, origins.region), '')
		  FROM origins WHERE %s ORDER BY origins.region
	`, originScope), originArgs, func(rows *sql.Rows) error {
		var (
			rawRegion string
			state     sql.NullString
		)
		err := rows.Scan(&rawRegion, &state)
		if err != nil {
			return err
		}
		if rawRegion != "" {
			detail.RawRegions = append(detail.RawRegions, rawRegion)
		}
		if state.Valid && detail.CanonicalState == "" {
			detail.CanonicalState = state.String
		}
		return nil
	})
	if err != nil {
		return RegionDetail{}, fmt.Errorf("enumerate region spellings: %w", err)
	}

	avgElevation, err := selectNullableAvg(dbi, fmt.Sprintf(`
		SELECT AVG(COALESCE(origins.elevation_min, origins.elevation_max)) FROM origins WHERE %s
	`, originScope), originArgs)
	if err != nil {
		return RegionDetail{}, err
	}
	if avgElevation != nil {
		rounded := round1(*avgElevation)
		detail.AvgElevation = &rounded
	}

	detail.CommonNotes, err = selectNameCounts(dbi, fmt.Sprintf(`
		SELECT notes.value, COUNT(*) AS cnt
		  FROM beans, json_each(beans.tasting_notes) AS notes
		 WHERE %s GROUP BY notes.value ORDER BY cnt DESC, notes.value LIMIT 15
	`, whereSQL), args)
	if err != nil {
		return RegionDetail{}, err
	}

	detail.TopVarietals, err = selectNameCounts(dbi, fmt.Sprintf(`
		SELECT varietals.value, COUNT(DISTINCT origins.bean_id) AS cnt
		  FROM origins, json_each(origins.variety_canonical) AS varietals
		 WHERE %s GROUP BY varietals.value ORDER BY cnt DESC, varietals.value LIMIT 10
	`, originScope), originArgs)
	if err != nil {
		return RegionDetail{}, err
	}

	detail.Farms, err = selectFarmSummaries(dbi, fmt.Sprintf(`
		SELECT origins.farm_normalized,
		       COALESCE(NULLIF(canonical_farm(origins.country, ?, origins.farm_normalized), ''), MIN(origins.farm)),
		       MIN(NULLIF(origins.producer, '')),
		       COUNT(DISTINCT origins.bean_id) AS cnt
		  FROM origins
		 WHERE origins.farm_normalized != '' AND %s
		 GROUP BY origins.farm_normalized ORDER BY cnt DESC, origins.farm_normalized
	`, originScope), append([]any{regionSlug}, originArgs...))
	if err != nil {
		return RegionDetail{}, err
	}

	return detail, nil
}

func selectNullableAvg(dbi db.Interface, query string, args []any) (*float64, error) {
	var result *float64
	err := sqlext.ForeachRow(dbi, query, args, func(rows *sql.Rows) error {
		var avg sql.NullFloat64
		err := rows.Scan(&avg)
		if err != nil {
			return err
		}
		if avg.Valid {
			value := avg.Float64
			result = &value
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate average: %w", err)
	}
	return result, nil
}

func selectFarmSummaries(dbi db.Interface, query string, args []any) ([]FarmSummary, error) {
	result := []FarmSummary{}
	err := sqlext.ForeachRow(dbi, query, args, func(rows *sql.Rows) error {
		var (
			summary  FarmSummary
			producer sql.NullString
		)
		err := rows.Scan(&summary.FarmSlug, &summary.CanonicalName, &producer, &summary.BeanCount)
		if err != nil {
			return err
		}
		summary.Producer = producer.String
		result = append(result, summary)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate farm summaries: %w", err)
	}
	return result, nil
}
