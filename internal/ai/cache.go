// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

// Package ai translates natural-language (and image) queries into structured
// search parameters via the Gemini API, with a warehouse-backed response
// cache so repeated queries never hit the provider.
package ai

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/mohae/deepcopy"

	"github.com/kissaten/kissaten/internal/db"
	"github.com/kissaten/kissaten/internal/search"
)

// Cache stores translated queries in the ai_translation_cache table. Expired
// entries stay in the table (they are mined for fine-tuning datasets); only
// Clear removes rows.
type Cache struct {
	DB  *gorp.DbMap
	TTL time.Duration
	// Usually time.Now, but can be changed inside unit tests.
	TimeNow func() time.Time
}

// NewCache builds a Cache with the given entry lifetime.
func NewCache(dbm *gorp.DbMap, ttl time.Duration) *Cache {
	return &Cache{DB: dbm, TTL: ttl, TimeNow: time.Now}
}

// CachedTranslation is one cache hit.
type CachedTranslation struct {
	Params     search.Parameters
	Confidence float64
}

type cachedPayload struct {
	Params     search.Parameters `json:"params"`
	Confidence float64           `json:"confidence"`
}

// HashText derives the cache key for a natural-language query. Whitespace
// runs and letter case do not affect the key.
func HashText(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// HashImage derives the cache key for an uploaded image.
func HashImage(imageBytes []byte) string {
	sum := sha256.Sum256(imageBytes)
	return hex.EncodeToString(sum[:])
}

// Get looks up a cache entry by hash. A miss (including an expired entry)
// returns nil. Hits bump hit_count and last_accessed.
func (c *Cache) Get(queryHash string) (*CachedTranslation, error) {
	var entry db.AICacheEntry
	err := c.DB.SelectOne(&entry, `SELECT * FROM ai_translation_cache WHERE query_hash = ?`, queryHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read translation cache: %w", err)
	}

	now := c.TimeNow().UTC()
	if now.After(entry.ExpiresAt) {
		return nil, nil
	}

	_, err = c.DB.Exec(
		`UPDATE ai_translation_cache SET hit_count = hit_count + 1, last_accessed = ? WHERE query_hash = ?`,
		now, queryHash)
	if err != nil {
		return nil, fmt.Errorf("update translation cache stats: %w", err)
	}

	var payload cachedPayload
	err = json.Unmarshal([]byte(entry.SearchParamsJSON), &payload)
	if err != nil {
		return nil, fmt.Errorf("decode cached translation: %w", err)
	}
	result := deepcopy.Copy(CachedTranslation(payload)).(CachedTranslation)
	return &result, nil
}

// Put upserts a cache entry. originalQuery is stored for text queries only;
// pass "" for images.
func (c *Cache) Put(queryHash, queryType, originalQuery string, translation CachedTranslation) error {
	buf, err := json.Marshal(cachedPayload(translation))
	if err != nil {
		return fmt.Errorf("encode translation: %w", err)
	}

	now := c.TimeNow().UTC()
	entry := db.AICacheEntry{
		QueryHash:        queryHash,
		QueryType:        queryType,
		SearchParamsJSON: string(buf),
		HitCount:         0,
		CreatedAt:        now,
		LastAccessed:     now,
		ExpiresAt:        now.Add(c.TTL),
	}
	if originalQuery != "" {
		entry.OriginalQuery = &originalQuery
	}

	_, err = c.DB.Exec(`
		INSERT INTO ai_translation_cache
		       (query_hash, query_type, original_query, search_params, hit_count, created_at, last_accessed, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (query_hash) DO UPDATE
		SET query_type = excluded.query_type, original_query = excluded.original_query,
		    search_params = excluded.search_params, last_accessed = excluded.last_accessed,
		    expires_at = excluded.expires_at`,
		entry.QueryHash, entry.QueryType, entry.OriginalQuery, entry.SearchParamsJSON,
		entry.HitCount, entry.CreatedAt, entry.LastAccessed, entry.ExpiresAt)
	if err != nil {
		return fmt.Errorf("write translation cache: %w", err)
	}
	return nil
}

// Cleanup reports how many entries are past their expiry. Nothing is
// deleted: expired rows keep their value as a query dataset.
func (c *Cache) Cleanup() (expired int64, err error) {
	expired, err = c.DB.SelectInt(
		`SELECT COUNT(*) FROM ai_translation_cache WHERE expires_at < ?`, c.TimeNow().UTC())
	if err != nil {
		return 0, fmt.Errorf("count expired cache entries: %w", err)
	}
	return expired, nil
}

// Clear deletes all cache entries and returns how many were removed.
func (c *Cache) Clear() (removed int64, err error) {
	result, err := c.DB.Exec(`DELETE FROM ai_translation_cache`)
	if err != nil {
		return 0, fmt.Errorf("clear translation cache: %w", err)
	}
	removed, err = result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return removed, nil
}
