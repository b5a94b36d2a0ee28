// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package search

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/kissaten/kissaten/internal/core"
	"github.com/kissaten/kissaten/internal/currency"
	"github.com/kissaten/kissaten/internal/db"
)

// Engine answers search requests over the warehouse. It is safe for
// concurrent use; all its queries are reads.
type Engine struct {
	DB       *gorp.DbMap
	Currency *currency.Service
}

// NewEngine builds an Engine.
func NewEngine(dbm *gorp.DbMap, currencySvc *currency.Service) *Engine {
	return &Engine{DB: dbm, Currency: currencySvc}
}

// BeanOrigin is the API serialization of one origin of a bean.
type BeanOrigin struct {
	Country           string     `json:"country,omitempty"`
	CountryFullName   string     `json:"country_full_name,omitempty"`
	Region            string     `json:"region,omitempty"`
	RegionNormalized  string     `json:"region_normalized,omitempty"`
	Producer          string     `json:"producer,omitempty"`
	Farm              string     `json:"farm,omitempty"`
	FarmNormalized    string     `json:"farm_normalized,omitempty"`
	ElevationMin      *int64     `json:"elevation_min,omitempty"`
	ElevationMax      *int64     `json:"elevation_max,omitempty"`
	Latitude          *float64   `json:"latitude,omitempty"`
	Longitude         *float64   `json:"longitude,omitempty"`
	Process           string     `json:"process,omitempty"`
	ProcessCommonName string     `json:"process_common_name,omitempty"`
	Variety           string     `json:"variety,omitempty"`
	VarietyCanonical  []string   `json:"variety_canonical,omitempty"`
	HarvestDate       *time.Time `json:"harvest_date,omitempty"`
}

// Bean is the API serialization of one catalog bean.
type Bean struct {
	ID               int64        `json:"id"`
	Name             string       `json:"name"`
	Roaster          string       `json:"roaster"`
	RoasterDirectory string       `json:"roaster_directory"`
	URL              string       `json:"url"`
	ImageURL         string       `json:"image_url,omitempty"`
	BeanURLPath      string       `json:"bean_url_path"`
	IsSingleOrigin   *bool        `json:"is_single_origin"`
	IsDecaf          *bool        `json:"is_decaf"`
	Price            *float64     `json:"price"`
	Currency         string       `json:"currency,omitempty"`
	PriceUSD         *float64     `json:"price_usd"`
	OriginalPrice    *float64     `json:"original_price,omitempty"`
	OriginalCurrency string       `json:"original_currency,omitempty"`
	PriceConverted   bool         `json:"price_converted"`
	WeightGrams      *int64       `json:"weight"`
	RoastLevel       *string      `json:"roast_level"`
	RoastProfile     *string      `json:"roast_profile"`
	CuppingScore     *float64     `json:"cupping_score"`
	TastingNotes     []string     `json:"tasting_notes"`
	Description      string       `json:"description,omitempty"`
	InStock          bool         `json:"in_stock"`
	ScrapedAt        time.Time    `json:"scraped_at"`
	DateAdded        time.Time    `json:"date_added"`
	Origins          []BeanOrigin `json:"origins"`
	RelevanceScore   *float64     `json:"relevance_score,omitempty"`
}

// Pagination is the paging block of a search response.
type Pagination struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalItems int64 `json:"total_items"`
	TotalPages int64 `json:"total_pages"`
}

// Metadata carries scoring and conversion information about a result set.
type Metadata struct {
	MaxPossibleScore   float64 `json:"max_possible_score,omitempty"`
	ConversionCurrency string  `json:"conversion_currency,omitempty"`
	PricesConverted    int     `json:"prices_converted,omitempty"`
}

// Result is one page of search results.
type Result struct {
	Beans      []Bean     `json:"beans"`
	Pagination Pagination `json:"pagination"`
	Metadata   Metadata   `json:"metadata"`
}

// Search runs one search request. Parameter and expression errors come back
// as ValidationError and CompileError respectively.
func (e *Engine) Search(params Parameters) (Result, error) {
	return e.search(params, "", nil)
}

// SearchByPaths restricts the search to beans whose frontend routing path is
// in the given list (1..100 entries). All other filters still apply.
func (e *Engine) SearchByPaths(params Parameters, paths []string) (Result, error) {
	if len(paths) == 0 || len(paths) > 100 {
		return Result{}, ValidationError{Message: "bean_url_paths must contain between 1 and 100 entries"}
	}
	condition, args := db.BuildSimpleWhereClause(map[string]any{"beans.bean_url_path": paths})
	return e.search(params, condition, args)
}

// SearchWithCondition runs a search with an additional SQL condition over
// the beans table, for report endpoints that list beans scoped to a resource.
func (e *Engine) SearchWithCondition(params Parameters, condition string, args []any) (Result, error) {
	return e.search(params, condition, args)
}

func (e *Engine) search(params Parameters, extraCondition string, extraArgs []any) (Result, error) {
	params.ApplyDefaults()
	err := params.Validate()
	if err != nil {
		return Result{}, err
	}

	var targetRate *float64
	if params.ConvertToCurrency != "" {
		rate, ok := e.Currency.Rate(params.ConvertToCurrency)
		if !ok {
			return Result{}, ValidationError{Message: fmt.Sprintf("no exchange rate for currency %s", params.ConvertToCurrency)}
		}
		targetRate = &rate
	}

	whereSQL, args, err := BuildFilter(params, targetRate)
	if err != nil {
		return Result{}, err
	}
	if extraCondition != "" {
		whereSQL += " AND " + extraCondition
		args = append(args, extraArgs...)
	}

	scored := params.SortBy == "relevance" || (params.Query != "" && params.SortBy == "")
	scoreExpr := "0"
	var scoreArgs []any
	if scored && params.Query != "" {
		scoreExpr, scoreArgs = buildScoreExpr(params.Query)
	}

	orderSQL := buildOrderClause(params, scored)

	total, err := e.DB.SelectInt(`SELECT COUNT(*) FROM beans WHERE `+whereSQL, args...)
	if err != nil {
		return Result{}, fmt.Errorf("count search results: %w", err)
	}

	pageQuery := fmt.Sprintf(`SELECT beans.id, %s AS score FROM beans WHERE %s ORDER BY %s LIMIT ? OFFSET ?`,
		scoreExpr, whereSQL, orderSQL)
	pageArgs := append(append(append([]any{}, scoreArgs...), args...),
		params.PerPage, (params.Page-1)*params.PerPage)

	var (
		pageIDs []int64
		scores  = make(map[int64]float64)
	)
	err = sqlext.ForeachRow(e.DB, pageQuery, pageArgs, func(rows *sql.Rows) error {
		var (
			id    int64
			score float64
		)
		err := rows.Scan(&id, &score)
		if err != nil {
			return err
		}
		pageIDs = append(pageIDs, id)
		scores[id] = score
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("select search results: %w", err)
	}

	beans, err := e.loadBeans(pageIDs)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Beans: beans,
		Pagination: Pagination{
			Page:       params.Page,
			PerPage:    params.PerPage,
			TotalItems: total,
			TotalPages: (total + int64(params.PerPage) - 1) / int64(params.PerPage),
		},
	}
	if scored {
		result.Metadata.MaxPossibleScore = MaxPossibleScore
		for idx := range result.Beans {
			score := scores[result.Beans[idx].ID]
			result.Beans[idx].RelevanceScore = &score
		}
	}
	if params.ConvertToCurrency != "" {
		result.Metadata.ConversionCurrency = params.ConvertToCurrency
		result.Metadata.PricesConverted = e.convertPrices(result.Beans, params.ConvertToCurrency)
	}
	return result, nil
}

// loadBeans fetches full bean rows plus their origins for a page of IDs,
// preserving the given order.
func (e *Engine) loadBeans(ids []int64) ([]Bean, error) {
	if len(ids) == 0 {
		return []Bean{}, nil
	}

	idArgs := make([]any, len(ids))
	for idx, id := range ids {
		idArgs[idx] = id
	}
	condition, args := db.BuildSimpleWhereClause(map[string]any{"id": idArgs})
	rowsByID, err := db.BuildIndexOfDBResult(e.DB,
		func(b db.Bean) int64 { return int64(b.ID) },
		`SELECT * FROM beans WHERE `+condition, args...)
	if err != nil {
		return nil, fmt.Errorf("load beans: %w", err)
	}

	condition, args = db.BuildSimpleWhereClause(map[string]any{"bean_id": idArgs})
	originsByBean, err := db.BuildArrayIndexOfDBResult(e.DB,
		func(o db.Origin) int64 { return int64(o.BeanID) },
		`SELECT * FROM origins WHERE `+condition+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("load origins: %w", err)
	}

	beans := make([]Bean, 0, len(ids))
	for _, id := range ids {
		row, exists := rowsByID[id]
		if !exists {
			continue
		}
		beans = append(beans, renderBean(row, originsByBean[id]))
	}
	return beans, nil
}

func renderBean(row db.Bean, origins []db.Origin) Bean {
	bean := Bean{
		ID:               int64(row.ID),
		Name:             row.Name,
		Roaster:          row.Roaster,
		RoasterDirectory: row.RoasterDirectory,
		URL:              row.URL,
		ImageURL:         row.ImageURL,
		BeanURLPath:      row.BeanURLPath,
		IsSingleOrigin:   row.IsSingleOrigin,
		IsDecaf:          row.IsDecaf,
		Price:            row.Price,
		Currency:         row.Currency,
		PriceUSD:         row.PriceUSD,
		WeightGrams:      row.WeightGrams,
		RoastLevel:       row.RoastLevel,
		RoastProfile:     row.RoastProfile,
		CuppingScore:     row.CuppingScore,
		TastingNotes:     row.TastingNotes(),
		Description:      row.Description,
		InStock:          row.InStock,
		ScrapedAt:        row.ScrapedAt,
		DateAdded:        row.DateAdded,
		Origins:          make([]BeanOrigin, 0, len(origins)),
	}
	if bean.TastingNotes == nil {
		bean.TastingNotes = []string{}
	}
	for _, origin := range origins {
		bean.Origins = append(bean.Origins, renderOrigin(origin))
	}
	return bean
}

func renderOrigin(row db.Origin) BeanOrigin {
	var canonical []string
	if names := row.VarietyCanonical; names != "" && names != "[]" {
		err := json.Unmarshal([]byte(names), &canonical)
		if err != nil {
			canonical = nil
		}
	}
	fullName := ""
	if row.Country != "" {
		fullName = core.CountryName(row.Country)
	}
	return BeanOrigin{
		Country:           row.Country,
		CountryFullName:   fullName,
		Region:            row.Region,
		RegionNormalized:  row.RegionNormalized,
		Producer:          row.Producer,
		Farm:              row.Farm,
		FarmNormalized:    row.FarmNormalized,
		ElevationMin:      row.ElevationMin,
		ElevationMax:      row.ElevationMax,
		Latitude:          row.Latitude,
		Longitude:         row.Longitude,
		Process:           row.Process,
		ProcessCommonName: row.ProcessCommonName,
		Variety:           row.Variety,
		VarietyCanonical:  canonical,
		HarvestDate:       row.HarvestDate,
	}
}

// convertPrices rewrites result prices into the target currency, keeping the
// originals in original_price / original_currency. Beans without a usable
// rate keep their price untouched with price_converted = false.
func (e *Engine) convertPrices(beans []Bean, target string) (converted int) {
	for idx := range beans {
		bean := &beans[idx]
		if bean.Price == nil || bean.Currency == "" || strings.EqualFold(bean.Currency, target) {
			continue
		}
		value, ok := e.Currency.Convert(*bean.Price, bean.Currency, target)
		if !ok {
			continue
		}
		rounded := math.Round(value*100) / 100
		bean.OriginalPrice = bean.Price
		bean.OriginalCurrency = bean.Currency
		bean.Price = &rounded
		bean.Currency = target
		bean.PriceConverted = true
		converted++
	}
	return converted
}

// buildOrderClause renders the ORDER BY clause. Beans with a NULL sort key
// (e.g. price-per-gram without a weight) sort last within the direction.
func buildOrderClause(params Parameters, scored bool) string {
	direction := "ASC"
	switch params.SortOrder {
	case "desc":
		direction = "DESC"
	case "random":
		return "random()"
	}

	sortBy := params.SortBy
	if sortBy == "" {
		if scored {
			sortBy = "relevance"
		} else {
			sortBy = "name"
		}
	}

	switch sortBy {
	case "relevance":
		return "score DESC, beans.in_stock DESC, beans.name COLLATE NOCASE ASC"
	case "random":
		return "random()"
	case "name":
		return "beans.name COLLATE NOCASE " + direction
	case "roaster":
		return "beans.roaster COLLATE NOCASE " + direction + ", beans.name COLLATE NOCASE ASC"
	case "price":
		// compare per-gram prices in USD so that units and currencies are comparable
		expr := "(CASE WHEN beans.weight_grams > 0 THEN beans.price_usd / beans.weight_grams ELSE NULL END)"
		return "(" + expr + " IS NULL) ASC, " + expr + " " + direction
	case "weight":
		return "(beans.weight_grams IS NULL) ASC, beans.weight_grams " + direction
	case "scraped_at":
		return "beans.scraped_at " + direction
	case "date_added":
		return "beans.date_added " + direction
	case "origin":
		expr := "(SELECT MIN(country_full_name(origins.country)) FROM origins WHERE origins.bean_id = beans.id)"
		return "(" + expr + " IS NULL) ASC, " + expr + " " + direction
	case "variety":
		expr := "(SELECT MIN(NULLIF(origins.variety, '')) FROM origins WHERE origins.bean_id = beans.id)"
		return "(" + expr + " IS NULL) ASC, " + expr + " " + direction
	case "roast_level":
		expr := "(CASE beans.roast_level WHEN 'Light' THEN 1 WHEN 'Medium-Light' THEN 2 WHEN 'Medium' THEN 3 WHEN 'Medium-Dark' THEN 4 WHEN 'Dark' THEN 5 ELSE NULL END)"
		return "(" + expr + " IS NULL) ASC, " + expr + " " + direction
	case "roast_profile":
		return "(beans.roast_profile IS NULL) ASC, beans.roast_profile " + direction
	default:
		return "beans.name COLLATE NOCASE ASC"
	}
}
