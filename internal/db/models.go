// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"encoding/json"
	"time"

	"github.com/go-gorp/gorp/v3"
)

// Bean contains a record from the `beans` table: one coffee offering in its
// most recently scraped state. Historical offerings stay in the table with
// in_stock = false.
type Bean struct {
	ID                BeanID    `db:"id"`
	Name              string    `db:"name"`
	Roaster           string    `db:"roaster"`
	RoasterDirectory  string    `db:"roaster_directory"`
	URL               string    `db:"url"`
	ImageURL          string    `db:"image_url"`
	IsSingleOrigin    *bool     `db:"is_single_origin"`     // pointer type to allow for NULL value
	IsDecaf           *bool     `db:"is_decaf"`
	Price             *float64  `db:"price"`
	Currency          string    `db:"currency"`
	PriceUSD          *float64  `db:"price_usd"`
	PricePaidForGreen *float64  `db:"price_paid_for_green"`
	GreenCurrency     string    `db:"green_price_currency"`
	WeightGrams       *int64    `db:"weight_grams"`
	RoastLevel        *string   `db:"roast_level"`
	RoastProfile      *string   `db:"roast_profile"`
	CuppingScore      *float64  `db:"cupping_score"`
	TastingNotesJSON  string    `db:"tasting_notes"`
	Description       string    `db:"description"`
	InStock           bool      `db:"in_stock"`
	ScrapedAt         time.Time `db:"scraped_at"`
	ScraperVersion    string    `db:"scraper_version"`
	Filename          string    `db:"filename"`
	CleanURLSlug      string    `db:"clean_url_slug"`
	BeanURLPath       string    `db:"bean_url_path"`
	DateAdded         time.Time `db:"date_added"`
}

// TastingNotes decodes the tasting_notes JSON column.
func (b Bean) TastingNotes() []string {
	var notes []string
	err := json.Unmarshal([]byte(b.TastingNotesJSON), &notes)
	if err != nil {
		return nil
	}
	return notes
}

// Origin contains a record from the `origins` table: one growing origin of a
// bean. Single-origin coffees have one, blends have several.
type Origin struct {
	ID                OriginID   `db:"id"`
	BeanID            BeanID     `db:"bean_id"`
	Country           string     `db:"country"`
	Region            string     `db:"region"`
	RegionNormalized  string     `db:"region_normalized"`
	Producer          string     `db:"producer"`
	Farm              string     `db:"farm"`
	FarmNormalized    string     `db:"farm_normalized"`
	ElevationMin      *int64     `db:"elevation_min"`       // pointer type to allow for NULL value
	ElevationMax      *int64     `db:"elevation_max"`
	Latitude          *float64   `db:"latitude"`
	Longitude         *float64   `db:"longitude"`
	Process           string     `db:"process"`
	ProcessCommonName string     `db:"process_common_name"`
	Variety           string     `db:"variety"`
	VarietyCanonical  string     `db:"variety_canonical"`   // JSON array of canonical names
	HarvestDate       *time.Time `db:"harvest_date"`
}

// Roaster contains a record from the `roasters` table. It mirrors the curated
// roaster registry, enriched with ingest statistics.
type Roaster struct {
	Slug              string     `db:"slug"`
	Name              string     `db:"name"`
	Website           string     `db:"website"`
	LocationCode      string     `db:"location_code"`
	Active            bool       `db:"active"`
	LastScraped       *time.Time `db:"last_scraped"`        // pointer type to allow for NULL value
	TotalBeansScraped int64      `db:"total_beans_scraped"`
}

// ProcessedFile contains a record from the `processed_files` table, the
// file-tracking ledger of the ingest pipeline. Filenames are relative to the
// data root.
type ProcessedFile struct {
	Filename    string    `db:"filename"`
	Checksum    string    `db:"checksum"`
	FileType    string    `db:"file_type"`    // "json" or "diffjson"
	ProcessedAt time.Time `db:"processed_at"`
}

// VarietalMapping contains a record from the `varietal_mappings` table.
// The original spelling is stored lowercased; compound entries ("SL28, SL34")
// explode into several canonical names.
type VarietalMapping struct {
	Original           string `db:"original"`
	CanonicalNamesJSON string `db:"canonical_names"`
	IsCompound         bool   `db:"is_compound"`
}

// CanonicalNames decodes the canonical_names JSON column.
func (m VarietalMapping) CanonicalNames() []string {
	var names []string
	err := json.Unmarshal([]byte(m.CanonicalNamesJSON), &names)
	if err != nil {
		return nil
	}
	return names
}

// ProcessingMethodMapping contains a record from the
// `processing_method_mappings` table.
type ProcessingMethodMapping struct {
	Original   string `db:"original"`
	CommonName string `db:"common_name"`
}

// CurrencyRate contains a record from the `currency_rates` table. Rates are
// USD-based: `rate` is the amount of `target` currency per one USD.
type CurrencyRate struct {
	ID            int64      `db:"id"`
	Base          string     `db:"base"`
	Target        string     `db:"target"`
	Rate          float64    `db:"rate"`
	FetchedAt     time.Time  `db:"fetched_at"`
	DataTimestamp *time.Time `db:"data_timestamp"` // pointer type to allow for NULL value
}

// AICacheEntry contains a record from the `ai_translation_cache` table. It
// maps the SHA-256 of a natural-language query (or uploaded image) to the
// structured search parameters a model produced for it.
type AICacheEntry struct {
	QueryHash        string    `db:"query_hash"`
	QueryType        string    `db:"query_type"`     // "text" or "image"
	OriginalQuery    *string   `db:"original_query"`
	SearchParamsJSON string    `db:"search_params"`
	HitCount         int64     `db:"hit_count"`
	CreatedAt        time.Time `db:"created_at"`
	LastAccessed     time.Time `db:"last_accessed"`
	ExpiresAt        time.Time `db:"expires_at"`
}

// initGorp is used by InitORM() to set up the ORM part of the database
// connection. Bean IDs are assigned by the loader (sequentially after the
// current maximum), so the beans table does not use autoincrement keys.
func initGorp(db *gorp.DbMap) {
	db.AddTableWithName(Bean{}, "beans").SetKeys(false, "id")
	db.AddTableWithName(Origin{}, "origins").SetKeys(true, "id")
	db.AddTableWithName(Roaster{}, "roasters").SetKeys(false, "slug")
	db.AddTableWithName(ProcessedFile{}, "processed_files").SetKeys(false, "filename")
	db.AddTableWithName(VarietalMapping{}, "varietal_mappings").SetKeys(false, "original")
	db.AddTableWithName(ProcessingMethodMapping{}, "processing_method_mappings").SetKeys(false, "original")
	db.AddTableWithName(CurrencyRate{}, "currency_rates").SetKeys(true, "id")
	db.AddTableWithName(AICacheEntry{}, "ai_translation_cache").SetKeys(false, "query_hash")
}
