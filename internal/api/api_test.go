// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"
	"github.com/stretchr/testify/require"

	"github.com/kissaten/kissaten/internal/ai"
	"github.com/kissaten/kissaten/internal/loader"
	"github.com/kissaten/kissaten/internal/search"
	"github.com/kissaten/kissaten/internal/test"
)

// apiSetup loads a one-bean catalog behind the full API handler.
func apiSetup(t *testing.T) test.Setup {
	t.Helper()
	s := test.NewSetup(t,
		test.WithAPIHandler(NewV1API),
		test.WithExchangeRates(map[string]float64{"EUR": 0.90, "GBP": 0.80}),
		test.WithDataFile("roasters.json", test.RoasterRegistryJSON(
			[3]string{"blue-bottle", "Blue Bottle Coffee", "US"},
		)),
		test.WithDataFile("roasters/blue-bottle/20260815/yirgacheffe_100000.json",
			test.BeanJSON("Ethiopia Yirgacheffe", "Blue Bottle", "https://bluebottle.example/products/yirgacheffe",
				`"price": 18.50`, `"currency": "USD"`, `"weight": 250`,
				`"tasting_notes": ["blueberry", "jasmine"]`)),
	)

	l := loader.New(s.DB, s.Config, s.Tables)
	l.TimeNow = s.Clock.Now
	_, err := l.Run(s.Ctx)
	require.NoError(t, err)
	return s
}

func TestVersionAdvertisement(t *testing.T) {
	s := apiSetup(t)

	versionObject := assert.JSONObject{
		"status": "CURRENT",
		"id":     "v1",
		"links": []assert.JSONObject{
			{"href": "/v1/", "rel": "self"},
		},
	}
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/",
		ExpectStatus: http.StatusMultipleChoices,
		ExpectBody:   assert.JSONObject{"versions": []assert.JSONObject{versionObject}},
	}.Check(t, s.Handler)
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/",
		ExpectStatus: http.StatusOK,
		ExpectBody:   assert.JSONObject{"version": versionObject},
	}.Check(t, s.Handler)
}

func TestGetSearch(t *testing.T) {
	s := apiSetup(t)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/search",
		ExpectStatus: http.StatusOK,
		ExpectBody: assert.JSONObject{
			"beans": []assert.JSONObject{{
				"id":                1,
				"name":              "Ethiopia Yirgacheffe",
				"roaster":           "Blue Bottle Coffee",
				"roaster_directory": "blue-bottle",
				"url":               "https://bluebottle.example/products/yirgacheffe",
				"bean_url_path":     "/blue-bottle/yirgacheffe",
				"is_single_origin":  nil,
				"is_decaf":          nil,
				"price":             18.5,
				"currency":          "USD",
				"price_usd":         18.5,
				"price_converted":   false,
				"weight":            250,
				"roast_level":       nil,
				"roast_profile":     nil,
				"cupping_score":     nil,
				"tasting_notes":     []string{"Blueberry", "Jasmine"},
				"in_stock":          true,
				"scraped_at":        "2026-08-15T08:00:00Z",
				"date_added":        "2026-08-15T08:00:00Z",
				"origins": []assert.JSONObject{{
					"country":           "ET",
					"country_full_name": "Ethiopia",
					"region":            "Yirgacheffe",
					"region_normalized": "yirgacheffe",
				}},
			}},
			"pagination": assert.JSONObject{
				"page":        1,
				"per_page":    20,
				"total_items": 1,
				"total_pages": 1,
			},
			"metadata": assert.JSONObject{},
		},
	}.Check(t, s.Handler)
}

func TestGetSearchErrorMapping(t *testing.T) {
	s := apiSetup(t)

	// unbalanced parenthesis in a wildcard expression
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/search?tasting_notes_query=" + "%28chocolate",
		ExpectStatus: http.StatusBadRequest,
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/search?per_page=500",
		ExpectStatus: http.StatusUnprocessableEntity,
		ExpectBody:   assert.StringData("invalid value for per_page\n"),
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/search?min_price=20&max_price=10",
		ExpectStatus: http.StatusUnprocessableEntity,
		ExpectBody:   assert.StringData("min_price exceeds max_price\n"),
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/search?convert_to_currency=XYZ",
		ExpectStatus: http.StatusUnprocessableEntity,
		ExpectBody:   assert.StringData("no exchange rate for currency XYZ\n"),
	}.Check(t, s.Handler)
}

func TestSearchByPaths(t *testing.T) {
	s := apiSetup(t)

	assert.HTTPRequest{
		Method: "POST",
		Path:   "/v1/search/by-paths",
		Body: assert.JSONObject{
			"bean_url_paths": []string{"/blue-bottle/yirgacheffe", "/blue-bottle/no-such-bean"},
		},
		ExpectStatus: http.StatusOK,
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/v1/search/by-paths",
		Body:         assert.JSONObject{"bean_url_paths": []string{}},
		ExpectStatus: http.StatusUnprocessableEntity,
		ExpectBody:   assert.StringData("bean_url_paths must contain between 1 and 100 entries\n"),
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/v1/search/by-paths",
		Body:         assert.StringData("not json"),
		ExpectStatus: http.StatusBadRequest,
	}.Check(t, s.Handler)
}

func TestOriginEndpoints(t *testing.T) {
	s := apiSetup(t)

	// the country code is case-insensitive in the path
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/origins/et",
		ExpectStatus: http.StatusOK,
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/origins/XX",
		ExpectStatus: http.StatusNotFound,
		ExpectBody:   assert.StringData("not found\n"),
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/origins/search?q=ethiopia",
		ExpectStatus: http.StatusOK,
		ExpectBody: assert.JSONObject{
			"results": []assert.JSONObject{{
				"type":              "country",
				"country":           "ET",
				"country_full_name": "Ethiopia",
				"display_name":      "Ethiopia",
				"bean_count":        1,
			}},
		},
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/origins/search?q=ethiopia&limit=abc",
		ExpectStatus: http.StatusUnprocessableEntity,
		ExpectBody:   assert.StringData("limit must be an integer\n"),
	}.Check(t, s.Handler)
}

func TestBrowseEndpoints(t *testing.T) {
	s := apiSetup(t)

	// without varietal mappings and varieties in the data, the list is empty
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/varietals",
		ExpectStatus: http.StatusOK,
	}.Check(t, s.Handler)
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/varietals/no-such-varietal",
		ExpectStatus: http.StatusNotFound,
		ExpectBody:   assert.StringData("not found\n"),
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/roasters",
		ExpectStatus: http.StatusOK,
	}.Check(t, s.Handler)
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/roasters/no-such-roaster",
		ExpectStatus: http.StatusNotFound,
		ExpectBody:   assert.StringData("not found\n"),
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/tasting-note-categories",
		ExpectStatus: http.StatusOK,
	}.Check(t, s.Handler)
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/stats",
		ExpectStatus: http.StatusOK,
	}.Check(t, s.Handler)
}

func TestCurrencyEndpoints(t *testing.T) {
	s := apiSetup(t)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/currencies",
		ExpectStatus: http.StatusOK,
		ExpectBody: assert.JSONObject{
			"base":       "USD",
			"currencies": []string{"EUR", "GBP", "USD"},
		},
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/convert?amount=10&from=USD&to=EUR",
		ExpectStatus: http.StatusOK,
		ExpectBody: assert.JSONObject{
			"amount":           10,
			"from":             "USD",
			"to":               "EUR",
			"converted_amount": 9,
		},
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/convert?amount=abc&from=USD&to=EUR",
		ExpectStatus: http.StatusUnprocessableEntity,
		ExpectBody:   assert.StringData("amount must be a number\n"),
	}.Check(t, s.Handler)
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/convert?amount=10&from=us&to=EUR",
		ExpectStatus: http.StatusUnprocessableEntity,
		ExpectBody:   assert.StringData("from and to must be three-letter currency codes\n"),
	}.Check(t, s.Handler)
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/v1/convert?amount=10&from=USD&to=XYZ",
		ExpectStatus: http.StatusUnprocessableEntity,
		ExpectBody:   assert.StringData("unknown currency\n"),
	}.Check(t, s.Handler)

	// the seeded rates are fresh, so no provider fetch happens
	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/v1/currencies/update",
		ExpectStatus: http.StatusOK,
		ExpectBody:   assert.JSONObject{"currencies": []string{"EUR", "GBP", "USD"}},
	}.Check(t, s.Handler)
}

func TestInternalErrorsAreObfuscated(t *testing.T) {
	s := apiSetup(t)

	// the configured provider is unreachable, so the forced refresh fails
	// server-side; the response must not echo the provider URL or any other
	// detail of the underlying error
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/currencies/refresh", nil)
	s.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "unreachable.invalid")
}

func TestAISearchWithoutProvider(t *testing.T) {
	s := apiSetup(t)

	// no API key is configured, so cache misses degrade to 503
	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/v1/ai/search",
		Body:         assert.JSONObject{"query": "fruity ethiopian"},
		ExpectStatus: http.StatusServiceUnavailable,
		ExpectBody:   assert.StringData("AI search is currently unavailable\n"),
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/v1/ai/search",
		Body:         assert.JSONObject{"query": "   "},
		ExpectStatus: http.StatusUnprocessableEntity,
		ExpectBody:   assert.StringData("query must not be empty\n"),
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/v1/ai/search/redirect",
		Body:         assert.JSONObject{"query": "fruity ethiopian"},
		ExpectStatus: http.StatusServiceUnavailable,
		ExpectBody:   assert.StringData("AI search is currently unavailable\n"),
	}.Check(t, s.Handler)
}

func TestAISearchServesCachedTranslations(t *testing.T) {
	s := apiSetup(t)

	// the handler's translator reads from the same cache table
	cache := ai.NewCache(s.DB, time.Duration(s.Config.AI.CacheTTL))
	cache.TimeNow = s.Clock.Now
	translation := ai.CachedTranslation{
		Params:     search.Parameters{Origins: []string{"ET"}, InStockOnly: true},
		Confidence: 0.9,
	}
	err := cache.Put(ai.HashText("fruity ethiopian"), "text", "fruity ethiopian", translation)
	require.NoError(t, err)

	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/v1/ai/search",
		Body:         assert.JSONObject{"query": "Fruity  ETHIOPIAN"},
		ExpectStatus: http.StatusOK,
	}.Check(t, s.Handler)
}
