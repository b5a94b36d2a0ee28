// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

// Package reports implements the browse surface of the catalog: aggregated
// views over countries, regions, farms, varietals, roasters and tasting
// notes. Every report accepts the same filter surface as the search engine,
// so a filtered search and the matching report always agree on which beans
// they are talking about.
package reports

import (
	"errors"
	"math"

	"github.com/kissaten/kissaten/internal/search"
)

// ErrNotFound is returned when the addressed resource (country, region,
// farm, varietal, roaster) has no beans under the current filters. The API
// layer maps it to 404.
var ErrNotFound = errors.New("not found")

// beanFilter compiles the shared search filter surface into a WHERE fragment
// over the beans table. Reports never convert prices, so price bounds apply
// to the native listing price, same as an unconverted search.
func beanFilter(params search.Parameters) (whereSQL string, args []any, err error) {
	params.ApplyDefaults()
	err = params.Validate()
	if err != nil {
		return "", nil, err
	}
	return search.BuildFilter(params, nil)
}

// regionSlugCondition matches an origin row against a region slug through the
// union rule: either the normalized canonical state resolves to the slug, or
// the raw normalized region does. Appends two copies of the slug to args.
const regionSlugCondition = `(
	NULLIF(normalize_region_name(NULLIF(canonical_state(origins.country, origins.region), '')), '') = ?
	OR origins.region_normalized = ?
)`

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
