// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BeanRecord is one coffee offering as emitted by a scraper. One JSON
// artifact file contains exactly one of these.
type BeanRecord struct {
	Name           string     `json:"name" validate:"required"`
	Roaster        string     `json:"roaster" validate:"required"`
	URL            string     `json:"url" validate:"required,url"`
	ImageURL       string     `json:"image_url"`
	IsSingleOrigin OptBool    `json:"is_single_origin"`
	IsDecaf        OptBool    `json:"is_decaf"`
	Price          OptFloat   `json:"price"`
	Currency       string     `json:"currency"`
	PriceUSD       OptFloat   `json:"price_usd"`
	WeightGrams    OptInt     `json:"weight"`
	RoastLevel     OptString  `json:"roast_level"`
	RoastProfile   OptString  `json:"roast_profile"`
	CuppingScore   OptFloat   `json:"cupping_score"`
	TastingNotes   StringList `json:"tasting_notes"`
	Description    string     `json:"description"`
	InStock        OptBool    `json:"in_stock"`
	GreenPrice     OptFloat   `json:"price_paid_for_green_coffee"`
	GreenCurrency  string     `json:"green_price_currency"`
	ScrapedAt      Time       `json:"scraped_at"`
	ScraperVersion string     `json:"scraper_version"`

	Origins []OriginRecord `json:"origins" validate:"required,min=1"`
}

// OriginRecord describes one growing origin of a bean. Blends have several.
type OriginRecord struct {
	Country      string   `json:"country"`
	Region       string   `json:"region"`
	Producer     string   `json:"producer"`
	Farm         string   `json:"farm"`
	ElevationMin OptInt   `json:"elevation_min"`
	ElevationMax OptInt   `json:"elevation_max"`
	Elevation    OptInt   `json:"elevation"`     // legacy single-value field
	Latitude     OptFloat `json:"latitude"`
	Longitude    OptFloat `json:"longitude"`
	Process      string   `json:"process"`
	Variety      string   `json:"variety"`
	HarvestDate  Time     `json:"harvest_date"`
}

// DiffRecord is a partial update for a previously scraped bean, identified by
// its product URL. Only the fields that were present in the JSON are applied;
// anything outside this schema is dropped on decode.
type DiffRecord struct {
	URL          string     `json:"url" validate:"required"`
	Price        OptFloat   `json:"price"`
	Currency     OptString  `json:"currency"`
	PriceUSD     OptFloat   `json:"price_usd"`
	InStock      OptBool    `json:"in_stock"`
	Stock        OptBool    `json:"stock"`                   // legacy spelling of in_stock
	WeightGrams  OptInt     `json:"weight"`
	RoastLevel   OptString  `json:"roast_level"`
	RoastProfile OptString  `json:"roast_profile"`
	CuppingScore OptFloat   `json:"cupping_score"`
	TastingNotes StringList `json:"tasting_notes"`
	Description  OptString  `json:"description"`
	ScrapedAt    Time       `json:"scraped_at"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports whether the record carries the fields that every usable
// artifact must have. Records failing this check are skipped entirely.
func (r BeanRecord) Validate() error {
	return validate.Struct(r)
}

// Validate reports whether the diff carries a product URL.
func (r DiffRecord) Validate() error {
	return validate.Struct(r)
}

// RoastLevels enumerates the accepted values for BeanRecord.RoastLevel.
var RoastLevels = []string{"Light", "Medium-Light", "Medium", "Medium-Dark", "Dark"}

// NormalizeRoastLevel maps free-form roast level spellings onto the canonical
// enum. The bool result is false when the input does not resemble any level.
func NormalizeRoastLevel(input string) (string, bool) {
	cleaned := strings.ToLower(strings.TrimSpace(input))
	cleaned = strings.NewReplacer(" ", "-", "_", "-", "–", "-").Replace(cleaned)
	for _, level := range RoastLevels {
		if cleaned == strings.ToLower(level) {
			return level, true
		}
	}
	return "", false
}

var titleCaser = cases.Title(language.English)

// NormalizeTastingNotes deduplicates notes case-insensitively (first
// occurrence wins) and renders each note in title case.
func NormalizeTastingNotes(notes []string) []string {
	seen := make(map[string]bool, len(notes))
	var result []string
	for _, note := range notes {
		note = strings.Join(strings.Fields(note), " ")
		if note == "" {
			continue
		}
		key := strings.ToLower(note)
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, titleCaser.String(note))
	}
	return result
}

// harvestDateFloor is the earliest harvest date that we accept as plausible.
var harvestDateFloor = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Sanitize enforces the per-field value constraints, degrading out-of-range
// values to null rather than rejecting the record. The returned list
// describes every repair that was made, for logging at the call site.
func (r *BeanRecord) Sanitize(now time.Time) (issues []string) {
	complain := func(msg string, args ...any) {
		issues = append(issues, fmt.Sprintf(msg, args...))
	}

	if r.Price.Valid && r.Price.Value <= 0 {
		complain("price %g is not positive", r.Price.Value)
		r.Price.Valid = false
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency != "" && !isCurrencyCode(r.Currency) {
		complain("currency %q is not a three-letter code", r.Currency)
		r.Currency = ""
	}
	r.GreenCurrency = strings.ToUpper(strings.TrimSpace(r.GreenCurrency))
	if r.GreenCurrency != "" && !isCurrencyCode(r.GreenCurrency) {
		complain("green price currency %q is not a three-letter code", r.GreenCurrency)
		r.GreenCurrency = ""
	}
	if r.GreenPrice.Valid && r.GreenPrice.Value <= 0 {
		complain("green coffee price %g is not positive", r.GreenPrice.Value)
		r.GreenPrice.Valid = false
	}
	if r.WeightGrams.Valid && (r.WeightGrams.Value < 50 || r.WeightGrams.Value > 10000) {
		complain("weight %d g is outside [50, 10000]", r.WeightGrams.Value)
		r.WeightGrams.Valid = false
	}
	if r.CuppingScore.Valid && (r.CuppingScore.Value < 70 || r.CuppingScore.Value > 100) {
		complain("cupping score %g is outside [70, 100]", r.CuppingScore.Value)
		r.CuppingScore.Valid = false
	}
	if r.RoastLevel.Valid {
		level, ok := NormalizeRoastLevel(r.RoastLevel.Value)
		if ok {
			r.RoastLevel.Value = level
		} else {
			complain("roast level %q is not recognized", r.RoastLevel.Value)
			r.RoastLevel.Valid = false
		}
	}
	// Unknown availability counts as available: storefronts that do not
	// expose stock state only list products that can be bought.
	if !r.InStock.Valid {
		r.InStock = Bool(true)
	}
	r.TastingNotes.Values = NormalizeTastingNotes(r.TastingNotes.Values)

	for idx := range r.Origins {
		for _, issue := range r.Origins[idx].sanitize(now) {
			complain("origin %d: %s", idx+1, issue)
		}
	}
	return issues
}

func (o *OriginRecord) sanitize(now time.Time) (issues []string) {
	complain := func(msg string, args ...any) {
		issues = append(issues, fmt.Sprintf(msg, args...))
	}

	// Old artifacts carry a single elevation value instead of a range.
	if o.Elevation.Valid && !o.ElevationMin.Valid && !o.ElevationMax.Valid {
		o.ElevationMin = o.Elevation
		o.ElevationMax = o.Elevation
	}
	checkElevation := func(name string, e *OptInt) {
		if e.Valid && (e.Value < 0 || e.Value > 3000) {
			complain("%s %d m is outside [0, 3000]", name, e.Value)
			e.Valid = false
		}
	}
	checkElevation("elevation_min", &o.ElevationMin)
	checkElevation("elevation_max", &o.ElevationMax)
	if o.ElevationMin.Valid && o.ElevationMax.Valid && o.ElevationMin.Value > o.ElevationMax.Value {
		complain("elevation range %d..%d m is inverted", o.ElevationMin.Value, o.ElevationMax.Value)
		o.ElevationMin, o.ElevationMax = o.ElevationMax, o.ElevationMin
	}
	if o.Latitude.Valid && (o.Latitude.Value < -90 || o.Latitude.Value > 90) {
		complain("latitude %g is outside [-90, 90]", o.Latitude.Value)
		o.Latitude.Valid = false
	}
	if o.Longitude.Valid && (o.Longitude.Value < -180 || o.Longitude.Value > 180) {
		complain("longitude %g is outside [-180, 180]", o.Longitude.Value)
		o.Longitude.Valid = false
	}
	if o.HarvestDate.Valid && (o.HarvestDate.Value.Before(harvestDateFloor) || o.HarvestDate.Value.After(now)) {
		complain("harvest date %s is outside the plausible window", o.HarvestDate.Value.Format("2006-01-02"))
		o.HarvestDate.Valid = false
	}
	return issues
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// SortedTastingNotes returns a sorted copy, for places that need a stable
// rendering of the note set.
func SortedTastingNotes(notes []string) []string {
	result := make([]string, len(notes))
	copy(result, notes)
	sort.Strings(result)
	return result
}
