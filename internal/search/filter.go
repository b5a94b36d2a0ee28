// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package search

import (
	"fmt"
	"strings"

	"github.com/kissaten/kissaten/internal/db"
	"github.com/kissaten/kissaten/internal/query"
)

// CompileError marks mini-language syntax errors that the API reports as 400.
type CompileError struct {
	Option  string
	Message string
}

// Error implements the builtin error interface.
func (e CompileError) Error() string {
	return fmt.Sprintf("invalid %s expression: %s", e.Option, e.Message)
}

// originScope correlates a per-origin predicate with the surrounding bean.
const originScope = "origins WHERE origins.bean_id = beans.id"

// The compile targets for every text filter. The variety target runs against
// both the original spelling and the canonical names, so a search for either
// form returns the same beans. The region target additionally resolves
// through the canonical state, matching what the browse endpoints do.
var (
	varietyTarget = query.AnyOf(
		query.Exists(originScope, query.Column("origins.variety")),
		query.Exists(originScope, query.JSONList("origins.variety_canonical")),
	)
	processTarget = query.Exists(originScope, query.AnyOf(
		query.Column("origins.process"),
		query.Column("origins.process_common_name"),
	))
	regionTarget = query.Exists(originScope, query.AnyOf(
		query.Column("origins.region"),
		query.Column("origins.region_normalized"),
		query.Column("NULLIF(canonical_state(origins.country, origins.region), '')"),
		query.Column("NULLIF(normalize_region_name(NULLIF(canonical_state(origins.country, origins.region), '')), '')"),
	))
	producerTarget     = query.Exists(originScope, query.Column("origins.producer"))
	farmTarget         = query.Exists(originScope, query.Column("origins.farm"))
	roastLevelTarget   = query.Column("beans.roast_level")
	roastProfileTarget = query.Column("beans.roast_profile")
	tastingNotesTarget = query.JSONList("beans.tasting_notes")

	// the free-text query matches across all descriptive fields
	freeTextTarget = query.AnyOf(
		query.Column("beans.name"),
		query.Column("beans.roaster"),
		query.Column("beans.description"),
		tastingNotesTarget,
		query.Exists(originScope, query.AnyOf(
			query.Column("country_full_name(origins.country)"),
			query.Column("origins.region"),
			query.Column("origins.farm"),
		)),
	)
)

// dedupCondition keeps only the newest bean per (roaster, clean URL slug), so
// the same physical product seen on several scrape dates appears once.
const dedupCondition = `beans.id IN (
	SELECT id FROM (
		SELECT id, ROW_NUMBER() OVER (PARTITION BY roaster_directory, clean_url_slug ORDER BY scraped_at DESC, id DESC) AS rn
		FROM beans
	) WHERE rn = 1
)`

// BuildFilter compiles the parameters into a WHERE clause over the beans
// table (origins are reached through correlated subqueries). When a price
// range is given together with a conversion currency, targetRate carries the
// USD rate of that currency and the range applies to converted prices.
//
// The browse endpoints share this filter surface, so "beans in Huila with
// chocolate notes under $20" means the same thing everywhere.
func BuildFilter(params Parameters, targetRate *float64) (whereSQL string, args []any, err error) {
	conditions := []string{dedupCondition}
	addArgs := func(condition string, condArgs ...any) {
		conditions = append(conditions, condition)
		args = append(args, condArgs...)
	}
	compile := func(option, input string, target query.Target) error {
		sql, compileArgs, err := query.Compile(input, target)
		if err != nil {
			return CompileError{Option: option, Message: err.Error()}
		}
		addArgs(sql, compileArgs...)
		return nil
	}

	if params.Query != "" {
		target := freeTextTarget
		if params.TastingNotesOnly {
			target = tastingNotesTarget
		}
		err := compile("query", params.Query, target)
		if err != nil {
			return "", nil, err
		}
	}
	textFilters := []struct {
		option string
		input  string
		target query.Target
	}{
		{"tasting_notes_query", params.TastingNotesQuery, tastingNotesTarget},
		{"variety", params.Variety, varietyTarget},
		{"process", params.Process, processTarget},
		{"roast_level", params.RoastLevel, roastLevelTarget},
		{"roast_profile", params.RoastProfile, roastProfileTarget},
		{"region", params.Region, regionTarget},
		{"producer", params.Producer, producerTarget},
		{"farm", params.Farm, farmTarget},
	}
	for _, filter := range textFilters {
		if filter.input == "" {
			continue
		}
		err := compile(filter.option, filter.input, filter.target)
		if err != nil {
			return "", nil, err
		}
	}

	if len(params.Roasters) > 0 {
		nameCondition, nameArgs := db.BuildSimpleWhereClause(map[string]any{"beans.roaster": params.Roasters})
		slugCondition, slugArgs := db.BuildSimpleWhereClause(map[string]any{"beans.roaster_directory": params.Roasters})
		addArgs("("+nameCondition+" OR "+slugCondition+")", append(nameArgs, slugArgs...)...)
	}
	if len(params.RoasterLocations) > 0 {
		condition, condArgs := db.BuildSimpleWhereClause(map[string]any{"location_code": params.RoasterLocations})
		addArgs("beans.roaster_directory IN (SELECT slug FROM roasters WHERE "+condition+")", condArgs...)
	}
	if len(params.Origins) > 0 {
		condition, condArgs := db.BuildSimpleWhereClause(map[string]any{"origins.country": params.Origins})
		addArgs("EXISTS (SELECT 1 FROM "+originScope+" AND "+condition+")", condArgs...)
	}

	priceExpr := "beans.price"
	var priceExprArgs []any
	if targetRate != nil {
		priceExpr = "(beans.price_usd * ?)"
		priceExprArgs = []any{*targetRate}
	}
	if params.MinPrice != nil {
		addArgs(priceExpr+" >= ?", append(append([]any{}, priceExprArgs...), *params.MinPrice)...)
	}
	if params.MaxPrice != nil {
		addArgs(priceExpr+" <= ?", append(append([]any{}, priceExprArgs...), *params.MaxPrice)...)
	}
	if params.MinWeight != nil {
		addArgs("beans.weight_grams >= ?", *params.MinWeight)
	}
	if params.MaxWeight != nil {
		addArgs("beans.weight_grams <= ?", *params.MaxWeight)
	}
	if params.MinElevation != nil || params.MaxElevation != nil {
		// a bean matches when any origin's elevation range overlaps the filter
		var (
			elevationConditions []string
			elevationArgs       []any
		)
		if params.MinElevation != nil {
			elevationConditions = append(elevationConditions, "COALESCE(origins.elevation_max, origins.elevation_min) >= ?")
			elevationArgs = append(elevationArgs, *params.MinElevation)
		}
		if params.MaxElevation != nil {
			elevationConditions = append(elevationConditions, "COALESCE(origins.elevation_min, origins.elevation_max) <= ?")
			elevationArgs = append(elevationArgs, *params.MaxElevation)
		}
		addArgs("EXISTS (SELECT 1 FROM "+originScope+" AND "+strings.Join(elevationConditions, " AND ")+")", elevationArgs...)
	}

	if params.InStockOnly {
		conditions = append(conditions, "beans.in_stock")
	}
	if params.IsDecaf != nil {
		addArgs("COALESCE(beans.is_decaf, FALSE) = ?", *params.IsDecaf)
	}
	if params.IsSingleOrigin != nil {
		addArgs("COALESCE(beans.is_single_origin, FALSE) = ?", *params.IsSingleOrigin)
	}

	return strings.Join(conditions, " AND "), args, nil
}
