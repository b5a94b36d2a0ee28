// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package reports

import (
	"database/sql"
	"fmt"

	"github.com/sapcc/go-bits/sqlext"

	"github.com/kissaten/kissaten/internal/db"
	"github.com/kissaten/kissaten/internal/search"
	"github.com/kissaten/kissaten/internal/util"
)

// VarietalSummary is one entry of the varietal listing.
type VarietalSummary struct {
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	BeanCount int64  `json:"bean_count"`
}

// VarietalDetail aggregates one canonical varietal.
type VarietalDetail struct {
	Name         string      `json:"name"`
	Slug         string      `json:"slug"`
	TotalBeans   int64       `json:"total_beans"`
	RoasterCount int64       `json:"roaster_count"`
	AvgPriceUSD  *float64    `json:"avg_price_usd"`
	AvgElevation *float64    `json:"avg_elevation"`
	Countries    []NameCount `json:"countries"`
	CommonNotes  []NameCount `json:"common_tasting_notes"`
	// OriginalSpellings lists raw spellings that canonicalize to this name.
	OriginalSpellings []string `json:"original_spellings"`
}

// varietalBeanScope restricts beans to those with the given canonical
// varietal on any origin. Args: canonical name.
const varietalBeanScope = `EXISTS (
	SELECT 1 FROM origins, json_each(origins.variety_canonical) AS varietals
	 WHERE origins.bean_id = beans.id AND varietals.value = ? COLLATE NOCASE
)`

var varietalListQuery = sqlext.SimplifyWhitespace(`
	SELECT varietals.value, COUNT(DISTINCT origins.bean_id) AS cnt
	  FROM origins, json_each(origins.variety_canonical) AS varietals
	 WHERE origins.bean_id IN (SELECT beans.id FROM beans WHERE %s)
	 GROUP BY varietals.value ORDER BY cnt DESC, varietals.value
`)

// ListVarietals enumerates every canonical varietal over the filtered beans.
func ListVarietals(dbi db.Interface, params search.Parameters) ([]VarietalSummary, error) {
	whereSQL, args, err := beanFilter(params)
	if err != nil {
		return nil, err
	}

	result := []VarietalSummary{}
	err = sqlext.ForeachRow(dbi, fmt.Sprintf(varietalListQuery, whereSQL), args, func(rows *sql.Rows) error {
		var summary VarietalSummary
		err := rows.Scan(&summary.Name, &summary.BeanCount)
		if err != nil {
			return err
		}
		summary.Slug = util.Slugify(summary.Name)
		result = append(result, summary)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate varietals: %w", err)
	}
	return result, nil
}

// ResolveVarietalSlug maps a routing slug back to the canonical varietal
// name, case-insensitively. ok is false when no varietal matches.
func ResolveVarietalSlug(dbi db.Interface, slug string) (name string, ok bool, err error) {
	err = sqlext.ForeachRow(dbi, sqlext.SimplifyWhitespace(`
		SELECT DISTINCT varietals.value
		  FROM origins, json_each(origins.variety_canonical) AS varietals
	`), nil, func(rows *sql.Rows) error {
		var candidate string
		err := rows.Scan(&candidate)
		if err != nil {
			return err
		}
		if util.Slugify(candidate) == util.Slugify(slug) {
			name = candidate
			ok = true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("resolve varietal slug: %w", err)
	}
	return name, ok, nil
}

// GetVarietalDetail builds the report for one canonical varietal, addressed
// by its slug.
func GetVarietalDetail(dbi db.Interface, slug string, params search.Parameters) (VarietalDetail, error) {
	name, ok, err := ResolveVarietalSlug(dbi, slug)
	if err != nil {
		return VarietalDetail{}, err
	}
	if !ok {
		return VarietalDetail{}, ErrNotFound
	}

	whereSQL, args, err := beanFilter(params)
	if err != nil {
		return VarietalDetail{}, err
	}
	whereSQL += " AND " + varietalBeanScope
	args = append(args, name)

	detail := VarietalDetail{
		Name:              name,
		Slug:              util.Slugify(name),
		OriginalSpellings: []string{},
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
		return VarietalDetail{}, fmt.Errorf("aggregate varietal stats: %w", err)
	}
	if detail.TotalBeans == 0 {
		return VarietalDetail{}, ErrNotFound
	}

	originScope := `EXISTS (SELECT 1 FROM json_each(origins.variety_canonical) AS varietals WHERE varietals.value = ? COLLATE NOCASE)` +
		` AND origins.bean_id IN (SELECT beans.id FROM beans WHERE ` + whereSQL + `)`
	originArgs := append([]any{name}, args...)

	avgElevation, err := selectNullableAvg(dbi, fmt.Sprintf(`
		SELECT AVG(COALESCE(origins.elevation_min, origins.elevation_max)) FROM origins WHERE %s
	`, originScope), originArgs)
	if err != nil {
		return VarietalDetail{}, err
	}
	if avgElevation != nil {
		rounded := round1(*avgElevation)
		detail.AvgElevation = &rounded
	}

	detail.Countries, err = selectNameCounts(dbi, fmt.Sprintf(`
		SELECT country_full_name(origins.country), COUNT(DISTINCT origins.bean_id) AS cnt
		  FROM origins WHERE origins.country != '' AND %s
		 GROUP BY origins.country ORDER BY cnt DESC, 1
	`, originScope), originArgs)
	if err != nil {
		return VarietalDetail{}, err
	}

	detail.CommonNotes, err = selectNameCounts(dbi, fmt.Sprintf(`
		SELECT notes.value, COUNT(*) AS cnt
		  FROM beans, json_each(beans.tasting_notes) AS notes
		 WHERE %s GROUP BY notes.value ORDER BY cnt DESC, notes.value LIMIT 15
	`, whereSQL), args)
	if err != nil {
		return VarietalDetail{}, err
	}

	err = sqlext.ForeachRow(dbi, sqlext.SimplifyWhitespace(`
		SELECT original FROM varietal_mappings
		 WHERE EXISTS (SELECT 1 FROM json_each(varietal_mappings.canonical_names) AS names
		                WHERE names.value = ? COLLATE NOCASE)
		 ORDER BY original
	`), []any{name}, func(rows *sql.Rows) error {
		var spelling string
		err := rows.Scan(&spelling)
		if err != nil {
			return err
		}
		detail.OriginalSpellings = append(detail.OriginalSpellings, spelling)
		return nil
	})
	if err != nil {
		return VarietalDetail{}, fmt.Errorf("enumerate varietal spellings: %w", err)
	}

	return detail, nil
}

// VarietalBeanCondition returns a filter fragment that the search engine can
// append to restrict results to one canonical varietal.
func VarietalBeanCondition(name string) (condition string, args []any) {
	return varietalBeanScope, []any{name}
}
