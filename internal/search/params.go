// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

// Package search implements the structured search over the bean catalog:
// filter compilation, relevance scoring, slug deduplication, pagination and
// on-the-fly currency conversion of result prices.
package search

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Parameters is the full filter surface of the search API. The JSON form is
// what the AI translator produces and what the translation cache stores.
type Parameters struct {
	// free text (wildcard mini-language)
	Query             string `json:"query,omitempty"`
	TastingNotesQuery string `json:"tasting_notes_search,omitempty"`
	// Deprecated: restricts Query to tasting notes; use TastingNotesQuery.
	TastingNotesOnly bool `json:"tasting_notes_only,omitempty"`

	// multi-select equality
	Roasters         []string `json:"roaster,omitempty"`
	RoasterLocations []string `json:"roaster_location,omitempty"`
	Origins          []string `json:"origin,omitempty" validate:"dive,len=2,alpha"`

	// single-column wildcard filters
	Variety      string `json:"variety,omitempty"`
	Process      string `json:"process,omitempty"`
	RoastLevel   string `json:"roast_level,omitempty"`
	RoastProfile string `json:"roast_profile,omitempty"`
	Region       string `json:"region,omitempty"`
	Producer     string `json:"producer,omitempty"`
	Farm         string `json:"farm,omitempty"`

	// ranges
	MinPrice     *float64 `json:"min_price,omitempty" validate:"omitempty,gte=0"`
	MaxPrice     *float64 `json:"max_price,omitempty" validate:"omitempty,gte=0"`
	MinWeight    *int64   `json:"min_weight,omitempty" validate:"omitempty,gte=0"`
	MaxWeight    *int64   `json:"max_weight,omitempty" validate:"omitempty,gte=0"`
	MinElevation *int64   `json:"min_elevation,omitempty" validate:"omitempty,gte=0,lte=3000"`
	MaxElevation *int64   `json:"max_elevation,omitempty" validate:"omitempty,gte=0,lte=3000"`

	// booleans
	InStockOnly    bool  `json:"in_stock_only,omitempty"`
	IsDecaf        *bool `json:"is_decaf,omitempty"`
	IsSingleOrigin *bool `json:"is_single_origin,omitempty"`

	// sorting and pagination
	SortBy    string `json:"sort_by,omitempty" validate:"omitempty,oneof=name roaster price weight scraped_at origin variety roast_level roast_profile relevance random date_added"`
	SortOrder string `json:"sort_order,omitempty" validate:"omitempty,oneof=asc desc random"`
	Page      int    `json:"page,omitempty" validate:"min=1"`
	PerPage   int    `json:"per_page,omitempty" validate:"min=1,max=100"`

	// currency conversion of result prices
	ConvertToCurrency string `json:"convert_to_currency,omitempty" validate:"omitempty,len=3,alpha"`
}

// ValidationError marks parameter errors that the API reports as 422.
type ValidationError struct {
	Message string
}

// Error implements the builtin error interface.
func (e ValidationError) Error() string {
	return e.Message
}

// IsValidationError checks if the error (or any error in its tree) is a
// ValidationError.
func IsValidationError(err error) bool {
	var verr ValidationError
	return errors.As(err, &verr)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ApplyDefaults fills pagination defaults and normalizes enum spellings.
func (p *Parameters) ApplyDefaults() {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.PerPage == 0 {
		p.PerPage = 20
	}
	p.SortBy = strings.ToLower(strings.TrimSpace(p.SortBy))
	p.SortOrder = strings.ToLower(strings.TrimSpace(p.SortOrder))
	p.ConvertToCurrency = strings.ToUpper(strings.TrimSpace(p.ConvertToCurrency))
	for idx, code := range p.Origins {
		p.Origins[idx] = strings.ToUpper(strings.TrimSpace(code))
	}
}

// Validate checks parameter bounds and enums. The returned error is a
// ValidationError suitable for a 422 response.
func (p Parameters) Validate() error {
	err := validate.Struct(p)
	if err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return ValidationError{Message: fmt.Sprintf("invalid value for %s", jsonNameOf(first.Field()))}
		}
		return ValidationError{Message: err.Error()}
	}
	if p.MinPrice != nil && p.MaxPrice != nil && *p.MinPrice > *p.MaxPrice {
		return ValidationError{Message: "min_price exceeds max_price"}
	}
	if p.MinWeight != nil && p.MaxWeight != nil && *p.MinWeight > *p.MaxWeight {
		return ValidationError{Message: "min_weight exceeds max_weight"}
	}
	if p.MinElevation != nil && p.MaxElevation != nil && *p.MinElevation > *p.MaxElevation {
		return ValidationError{Message: "min_elevation exceeds max_elevation"}
	}
	return nil
}

// jsonNameOf renders a Go field name in the snake_case spelling that API
// users know from the query string.
func jsonNameOf(field string) string {
	var sb strings.Builder
	for idx, r := range field {
		if r >= 'A' && r <= 'Z' {
			if idx > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r - 'A' + 'a')
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// ParseParameters reads the recognized options out of a query string.
// Unrecognized options are ignored. Defaults are applied, but Validate is
// left to the caller so that programmatic uses (the AI translator) share the
// same checking path.
func ParseParameters(values url.Values) (Parameters, error) {
	var (
		p    Parameters
		errs []string
	)

	getString := func(key string, target *string) {
		if value := strings.TrimSpace(values.Get(key)); value != "" {
			*target = value
		}
	}
	getStrings := func(key string, target *[]string) {
		for _, value := range values[key] {
			for _, part := range strings.Split(value, ",") {
				if part = strings.TrimSpace(part); part != "" {
					*target = append(*target, part)
				}
			}
		}
	}
	getBool := func(key string, target *bool) {
		if value := values.Get(key); value != "" {
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s must be a boolean", key))
				return
			}
			*target = parsed
		}
	}
	getOptBool := func(key string, target **bool) {
		if value := values.Get(key); value != "" {
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s must be a boolean", key))
				return
			}
			*target = &parsed
		}
	}
	getFloat := func(key string, target **float64) {
		if value := values.Get(key); value != "" {
			parsed, err := strconv.ParseFloat(value, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s must be a number", key))
				return
			}
			*target = &parsed
		}
	}
	getInt := func(key string, target **int64) {
		if value := values.Get(key); value != "" {
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s must be an integer", key))
				return
			}
			*target = &parsed
		}
	}
	getPageInt := func(key string, target *int) {
		if value := values.Get(key); value != "" {
			parsed, err := strconv.Atoi(value)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s must be an integer", key))
				return
			}
			*target = parsed
		}
	}

	getString("query", &p.Query)
	getString("tasting_notes_query", &p.TastingNotesQuery)
	getBool("tasting_notes_only", &p.TastingNotesOnly)
	getStrings("roaster", &p.Roasters)
	getStrings("roaster_location", &p.RoasterLocations)
	getStrings("origin", &p.Origins)
	getString("variety", &p.Variety)
	getString("process", &p.Process)
	getString("roast_level", &p.RoastLevel)
	getString("roast_profile", &p.RoastProfile)
	getString("region", &p.Region)
	getString("producer", &p.Producer)
	getString("farm", &p.Farm)
	getFloat("min_price", &p.MinPrice)
	getFloat("max_price", &p.MaxPrice)
	getInt("min_weight", &p.MinWeight)
	getInt("max_weight", &p.MaxWeight)
	getInt("min_elevation", &p.MinElevation)
	getInt("max_elevation", &p.MaxElevation)
	getBool("in_stock_only", &p.InStockOnly)
	getOptBool("is_decaf", &p.IsDecaf)
	getOptBool("is_single_origin", &p.IsSingleOrigin)
	getString("sort_by", &p.SortBy)
	getString("sort_order", &p.SortOrder)
	getPageInt("page", &p.Page)
	getPageInt("per_page", &p.PerPage)
	getString("convert_to_currency", &p.ConvertToCurrency)

	if len(errs) > 0 {
		return p, ValidationError{Message: strings.Join(errs, "; ")}
	}
	p.ApplyDefaults()
	return p, nil
}

// CanonicalQueryString renders the parameters as a normalized /search query
// string with sorted keys, for the AI redirect endpoint.
func (p Parameters) CanonicalQueryString() string {
	values := make(url.Values)
	set := func(key, value string) {
		if value != "" {
			values.Set(key, value)
		}
	}
	set("query", p.Query)
	set("tasting_notes_query", p.TastingNotesQuery)
	if p.TastingNotesOnly {
		values.Set("tasting_notes_only", "true")
	}
	for _, roaster := range p.Roasters {
		values.Add("roaster", roaster)
	}
	for _, location := range p.RoasterLocations {
		values.Add("roaster_location", location)
	}
	for _, origin := range p.Origins {
		values.Add("origin", origin)
	}
	set("variety", p.Variety)
	set("process", p.Process)
	set("roast_level", p.RoastLevel)
	set("roast_profile", p.RoastProfile)
	set("region", p.Region)
	set("producer", p.Producer)
	set("farm", p.Farm)
	setFloat := func(key string, value *float64) {
		if value != nil {
			values.Set(key, strconv.FormatFloat(*value, 'f', -1, 64))
		}
	}
	setInt := func(key string, value *int64) {
		if value != nil {
			values.Set(key, strconv.FormatInt(*value, 10))
		}
	}
	setFloat("min_price", p.MinPrice)
	setFloat("max_price", p.MaxPrice)
	setInt("min_weight", p.MinWeight)
	setInt("max_weight", p.MaxWeight)
	setInt("min_elevation", p.MinElevation)
	setInt("max_elevation", p.MaxElevation)
	if p.InStockOnly {
		values.Set("in_stock_only", "true")
	}
	if p.IsDecaf != nil {
		values.Set("is_decaf", strconv.FormatBool(*p.IsDecaf))
	}
	if p.IsSingleOrigin != nil {
		values.Set("is_single_origin", strconv.FormatBool(*p.IsSingleOrigin))
	}
	set("sort_by", p.SortBy)
	set("sort_order", p.SortOrder)
	set("convert_to_currency", p.ConvertToCurrency)
	return values.Encode() // Encode sorts by key
}
