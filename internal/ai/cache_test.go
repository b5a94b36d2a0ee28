// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kissaten/kissaten/internal/search"
	"github.com/kissaten/kissaten/internal/test"
)

func newCache(s test.Setup) *Cache {
	c := NewCache(s.DB, time.Duration(s.Config.AI.CacheTTL))
	c.TimeNow = s.Clock.Now
	return c
}

func sampleTranslation() CachedTranslation {
	maxPrice := 25.0
	return CachedTranslation{
		Params: search.Parameters{
			Origins:           []string{"ET"},
			TastingNotesQuery: "fruit*|berry*",
			MaxPrice:          &maxPrice,
		},
		Confidence: 0.85,
	}
}

func TestHashTextNormalization(t *testing.T) {
	// case and whitespace runs do not change the key
	reference := HashText("fruity Ethiopian under £25")
	assert.Equal(t, reference, HashText("  Fruity   ETHIOPIAN under £25 "))
	assert.Equal(t, reference, HashText("fruity\nethiopian\tunder £25"))
	assert.NotEqual(t, reference, HashText("fruity Colombian under £25"))
}

func TestCacheRoundTrip(t *testing.T) {
	s := test.NewSetup(t)
	c := newCache(s)
	hash := HashText("fruity ethiopian under 25")

	// a miss is (nil, nil), not an error
	hit, err := c.Get(hash)
	require.NoError(t, err)
	assert.Nil(t, hit)

	require.NoError(t, c.Put(hash, "text", "fruity ethiopian under 25", sampleTranslation()))

	hit, err = c.Get(hash)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, sampleTranslation(), *hit)

	// each hit bumps the counter
	_, err = c.Get(hash)
	require.NoError(t, err)
	hitCount, err := s.DB.SelectInt(`SELECT hit_count FROM ai_translation_cache WHERE query_hash = ?`, hash)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hitCount)
}

func TestCacheHitsAreIsolatedCopies(t *testing.T) {
	s := test.NewSetup(t)
	c := newCache(s)
	hash := HashText("kenyan peaberry")
	require.NoError(t, c.Put(hash, "text", "kenyan peaberry", CachedTranslation{
		Params:     search.Parameters{Origins: []string{"KE"}},
		Confidence: 0.9,
	}))

	first, err := c.Get(hash)
	require.NoError(t, err)
	require.NotNil(t, first)
	first.Params.Origins[0] = "mutated"

	second, err := c.Get(hash)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, []string{"KE"}, second.Params.Origins)
}

func TestCacheExpiry(t *testing.T) {
	s := test.NewSetup(t)
	c := newCache(s)
	hash := HashText("geisha from panama")
	require.NoError(t, c.Put(hash, "text", "geisha from panama", sampleTranslation()))

	// one hour before expiry the entry still serves
	s.Clock.StepBy(time.Duration(s.Config.AI.CacheTTL) - time.Hour)
	hit, err := c.Get(hash)
	require.NoError(t, err)
	assert.NotNil(t, hit)

	// past expiry it reads as a miss, but the row stays in the table
	s.Clock.StepBy(2 * time.Hour)
	hit, err = c.Get(hash)
	require.NoError(t, err)
	assert.Nil(t, hit)
	count, err := s.DB.SelectInt(`SELECT COUNT(*) FROM ai_translation_cache`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// a fresh Put revives the entry with a new expiry, keeping the hit count
	require.NoError(t, c.Put(hash, "text", "geisha from panama", sampleTranslation()))
	hit, err = c.Get(hash)
	require.NoError(t, err)
	assert.NotNil(t, hit)
	hitCount, err := s.DB.SelectInt(`SELECT hit_count FROM ai_translation_cache WHERE query_hash = ?`, hash)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hitCount)
}

func TestCacheCleanupOnlyCounts(t *testing.T) {
	s := test.NewSetup(t)
	c := newCache(s)
	require.NoError(t, c.Put(HashText("old query"), "text", "old query", sampleTranslation()))

	s.Clock.StepBy(time.Duration(s.Config.AI.CacheTTL) + time.Hour)
	require.NoError(t, c.Put(HashText("new query"), "text", "new query", sampleTranslation()))

	expired, err := c.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	// expired entries are kept as dataset material
	count, err := s.DB.SelectInt(`SELECT COUNT(*) FROM ai_translation_cache`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCacheClear(t *testing.T) {
	s := test.NewSetup(t)
	c := newCache(s)
	require.NoError(t, c.Put(HashText("one"), "text", "one", sampleTranslation()))
	require.NoError(t, c.Put(HashImage([]byte("fake image bytes")), "image", "", sampleTranslation()))

	removed, err := c.Clear()
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	count, err := s.DB.SelectInt(`SELECT COUNT(*) FROM ai_translation_cache`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestTranslateTextWithoutProviderServesCacheOnly(t *testing.T) {
	s := test.NewSetup(t)
	c := newCache(s)
	translator, err := NewTranslator(s.Ctx, c, s.Config.AI) // no API key
	require.NoError(t, err)

	// a miss cannot be translated without a provider
	_, _, err = translator.TranslateText(s.Ctx, "fruity ethiopian")
	assert.ErrorIs(t, err, ErrUnavailable)

	// a cached entry serves fine
	require.NoError(t, c.Put(HashText("fruity ethiopian"), "text", "fruity ethiopian", sampleTranslation()))
	result, fromCache, err := translator.TranslateText(s.Ctx, "Fruity  ETHIOPIAN")
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, sampleTranslation(), result)
}
