// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package reports

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sapcc/go-bits/sqlext"

	"github.com/kissaten/kissaten/internal/core"
	"github.com/kissaten/kissaten/internal/db"
	"github.com/kissaten/kissaten/internal/search"
)

// RoasterSummary is one entry of the roaster listing.
type RoasterSummary struct {
	Slug         string     `json:"slug"`
	Name         string     `json:"name"`
	LocationCode string     `json:"location_code,omitempty"`
	Location     string     `json:"location,omitempty"`
	Website      string     `json:"website,omitempty"`
	Active       bool       `json:"active"`
	BeanCount    int64      `json:"bean_count"`
	InStockCount int64      `json:"in_stock_count"`
	LastScraped  *time.Time `json:"last_scraped"`
}

// RoasterDetail extends the summary with catalog aggregates.
type RoasterDetail struct {
	RoasterSummary
	AvgPriceUSD *float64    `json:"avg_price_usd"`
	Countries   []NameCount `json:"countries"`
	CommonNotes []NameCount `json:"common_tasting_notes"`
	RoastLevels []NameCount `json:"roast_levels"`
}

var roasterListQuery = sqlext.SimplifyWhitespace(`
	SELECT r.slug, r.name, r.location_code, r.website, r.active, r.last_scraped,
	       COUNT(beans.id), COALESCE(SUM(beans.in_stock), 0)
	  FROM roasters r
	  LEFT OUTER JOIN beans ON beans.roaster_directory = r.slug AND %s
	 GROUP BY r.slug ORDER BY r.name COLLATE NOCASE
`)

// ListRoasters enumerates all known roasters with their bean counts under
// the current filters.
func ListRoasters(dbi db.Interface, params search.Parameters) ([]RoasterSummary, error) {
	whereSQL, args, err := beanFilter(params)
	if err != nil {
		return nil, err
	}

	result := []RoasterSummary{}
	err = sqlext.ForeachRow(dbi, fmt.Sprintf(roasterListQuery, whereSQL), args, func(rows *sql.Rows) error {
		summary, err := scanRoasterSummary(rows)
		if err != nil {
			return err
		}
		result = append(result, summary)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate roasters: %w", err)
	}
	return result, nil
}

func scanRoasterSummary(rows *sql.Rows) (RoasterSummary, error) {
	var (
		summary     RoasterSummary
		lastScraped sql.NullTime
	)
	err := rows.Scan(&summary.Slug, &summary.Name, &summary.LocationCode, &summary.Website,
		&summary.Active, &lastScraped, &summary.BeanCount, &summary.InStockCount)
	if err != nil {
		return RoasterSummary{}, err
	}
	if lastScraped.Valid {
		summary.LastScraped = &lastScraped.Time
	}
	summary.Location = core.CountryName(summary.LocationCode)
	if summary.LocationCode == "" {
		summary.Location = ""
	}
	return summary, nil
}

// GetRoasterDetail builds the report for one roaster, addressed by its
// directory slug.
func GetRoasterDetail(dbi db.Interface, slug string, params search.Parameters) (RoasterDetail, error) {
	whereSQL, args, err := beanFilter(params)
	if err != nil {
		return RoasterDetail{}, err
	}

	var detail RoasterDetail
	found := false
	err = sqlext.ForeachRow(dbi, fmt.Sprintf(`
		SELECT r.slug, r.name, r.location_code, r.website, r.active, r.last_scraped,
		       COUNT(beans.id), COALESCE(SUM(beans.in_stock), 0)
		  FROM roasters r
		  LEFT OUTER JOIN beans ON beans.roaster_directory = r.slug AND %s
		 WHERE r.slug = ? GROUP BY r.slug
	`, whereSQL), append(append([]any{}, args...), slug), func(rows *sql.Rows) error {
		summary, err := scanRoasterSummary(rows)
		if err != nil {
			return err
		}
		detail.RoasterSummary = summary
		found = true
		return nil
	})
	if err != nil {
		return RoasterDetail{}, fmt.Errorf("load roaster: %w", err)
	}
	if !found {
		return RoasterDetail{}, ErrNotFound
	}

	scopedWhere := whereSQL + ` AND beans.roaster_directory = ?`
	scopedArgs := append(append([]any{}, args...), slug)

	avgPrice, err := selectNullableAvg(dbi, fmt.Sprintf(`
		SELECT AVG(beans.price_usd) FROM beans WHERE %s
	`, scopedWhere), scopedArgs)
	if err != nil {
		return RoasterDetail{}, err
	}
	if avgPrice != nil {
		rounded := round2(*avgPrice)
		detail.AvgPriceUSD = &rounded
	}

	detail.Countries, err = selectNameCounts(dbi, fmt.Sprintf(`
		SELECT country_full_name(origins.country), COUNT(DISTINCT origins.bean_id) AS cnt
		  FROM origins
		 WHERE origins.country != '' AND origins.bean_id IN (SELECT beans.id FROM beans WHERE %s)
		 GROUP BY origins.country ORDER BY cnt DESC, 1
	`, scopedWhere), scopedArgs)
	if err != nil {
		return RoasterDetail{}, err
	}

	detail.CommonNotes, err = selectNameCounts(dbi, fmt.Sprintf(`
		SELECT notes.value, COUNT(*) AS cnt
		  FROM beans, json_each(beans.tasting_notes) AS notes
		 WHERE %s GROUP BY notes.value ORDER BY cnt DESC, notes.value LIMIT 15
	`, scopedWhere), scopedArgs)
	if err != nil {
		return RoasterDetail{}, err
	}

	detail.RoastLevels, err = selectNameCounts(dbi, fmt.Sprintf(`
		SELECT beans.roast_level, COUNT(*) AS cnt
		  FROM beans WHERE beans.roast_level IS NOT NULL AND %s
		 GROUP BY beans.roast_level ORDER BY cnt DESC, beans.roast_level
	`, scopedWhere), scopedArgs)
	if err != nil {
		return RoasterDetail{}, err
	}

	return detail, nil
}
