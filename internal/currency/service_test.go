// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package currency_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kissaten/kissaten/internal/test"
)

// fakeProvider serves a fixed USD rate table and counts how often it was hit.
func fakeProvider(t *testing.T, body string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write([]byte(body))
		if err != nil {
			t.Error(err)
		}
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func serviceWithProvider(t *testing.T, s test.Setup, providerURL string) *Service {
	t.Helper()
	cfg := s.Config.Currency
	cfg.ProviderURL = providerURL
	svc, err := NewService(s.DB, cfg)
	require.NoError(t, err)
	svc.TimeNow = s.Clock.Now
	return svc
}

func TestConvertPivotsThroughUSD(t *testing.T) {
	s := test.NewSetup(t, test.WithExchangeRates(map[string]float64{
		"EUR": 0.90,
		"GBP": 0.80,
	}))

	// the snapshot is primed from the warehouse without any provider fetch
	value, ok := s.Currency.Convert(10, "USD", "EUR")
	require.True(t, ok)
	assert.InDelta(t, 9.0, value, 0.0001)

	value, ok = s.Currency.Convert(8, "GBP", "EUR")
	require.True(t, ok)
	assert.InDelta(t, 9.0, value, 0.0001)

	// round trip is lossless up to float precision
	there, ok := s.Currency.Convert(123.45, "USD", "GBP")
	require.True(t, ok)
	back, ok := s.Currency.Convert(there, "GBP", "USD")
	require.True(t, ok)
	assert.InDelta(t, 123.45, back, 0.0001)

	_, ok = s.Currency.Convert(10, "USD", "XYZ")
	assert.False(t, ok)

	rate, ok := s.Currency.Rate("usd")
	require.True(t, ok)
	assert.Equal(t, 1.0, rate)

	assert.Equal(t, []string{"EUR", "GBP", "USD"}, s.Currency.KnownCurrencies())
}

func TestRefreshStoresAndReplacesRates(t *testing.T) {
	s := test.NewSetup(t)
	server, hits := fakeProvider(t, `{"base": "USD", "rates": {"EUR": 0.90, "GBP": 0.80, "JPY": 148.0}}`)
	svc := serviceWithProvider(t, s, server.URL)

	err := svc.Refresh(s.Ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, []string{"EUR", "GBP", "JPY", "USD"}, svc.KnownCurrencies())

	count, err := s.DB.SelectInt(`SELECT COUNT(*) FROM currency_rates`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// a second refresh on the same day replaces today's rows instead of
	// stacking duplicates
	err = svc.Refresh(s.Ctx)
	require.NoError(t, err)
	count, err = s.DB.SelectInt(`SELECT COUNT(*) FROM currency_rates`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestRefreshAcceptsExchangerateAPIShape(t *testing.T) {
	s := test.NewSetup(t)
	server, _ := fakeProvider(t, `{"base_code": "USD", "conversion_rates": {"EUR": 0.92}, "time_last_update_unix": 1755216000}`)
	svc := serviceWithProvider(t, s, server.URL)

	err := svc.Refresh(s.Ctx)
	require.NoError(t, err)
	rate, ok := svc.Rate("EUR")
	require.True(t, ok)
	assert.InDelta(t, 0.92, rate, 0.0001)
}

func TestRefreshRejectsNonUSDBase(t *testing.T) {
	s := test.NewSetup(t)
	server, _ := fakeProvider(t, `{"base": "EUR", "rates": {"USD": 1.09}}`)
	svc := serviceWithProvider(t, s, server.URL)

	err := svc.Refresh(s.Ctx)
	assert.ErrorContains(t, err, `returned base "EUR"`)
}

func TestRefreshIfStaleSkipsFreshRates(t *testing.T) {
	s := test.NewSetup(t, test.WithExchangeRates(map[string]float64{"EUR": 0.90}))
	server, hits := fakeProvider(t, `{"base": "USD", "rates": {"EUR": 0.91}}`)
	svc := serviceWithProvider(t, s, server.URL)

	// the seeded rates are from right now, so nothing is fetched
	err := svc.RefreshIfStale(s.Ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), hits.Load())

	// one day later they are past the staleness window
	s.Clock.StepBy(24 * time.Hour)
	err = svc.RefreshIfStale(s.Ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
	rate, ok := svc.Rate("EUR")
	require.True(t, ok)
	assert.InDelta(t, 0.91, rate, 0.0001)
}

func TestRefreshPurgesOldHistory(t *testing.T) {
	s := test.NewSetup(t, test.WithExchangeRates(map[string]float64{"EUR": 0.90}))
	server, _ := fakeProvider(t, `{"base": "USD", "rates": {"EUR": 0.91}}`)
	svc := serviceWithProvider(t, s, server.URL)

	// eight days later the seeded row is past the retention window
	s.Clock.StepBy(8 * 24 * time.Hour)
	err := svc.Refresh(s.Ctx)
	require.NoError(t, err)

	count, err := s.DB.SelectInt(`SELECT COUNT(*) FROM currency_rates`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	s := test.NewSetup(t, test.WithExchangeRates(map[string]float64{"EUR": 0.90}))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)
	svc := serviceWithProvider(t, s, server.URL)

	err := svc.Refresh(s.Ctx)
	require.Error(t, err)

	// conversions keep working from the last good snapshot
	rate, ok := svc.Rate("EUR")
	require.True(t, ok)
	assert.InDelta(t, 0.90, rate, 0.0001)
}
