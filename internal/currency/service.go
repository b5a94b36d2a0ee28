// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

// Package currency maintains the exchange rate table used for price
// normalization. Rates are fetched USD-based from an external provider on a
// daily cadence and kept as an append-only history in the warehouse;
// conversions between arbitrary pairs pivot through USD.
package currency

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"
	"github.com/sony/gobreaker"

	"github.com/kissaten/kissaten/internal/core"
	"github.com/kissaten/kissaten/internal/db"
	"github.com/kissaten/kissaten/internal/util"
)

// Service fetches, stores and serves exchange rates. Convert is safe for
// concurrent use while a refresh is writing.
type Service struct {
	DB     *gorp.DbMap
	Config core.CurrencyConfiguration
	// Usually time.Now, but can be changed inside unit tests.
	TimeNow func() time.Time

	client  *http.Client
	breaker *gobreaker.CircuitBreaker

	mu sync.RWMutex
	// newest USD->target rate per currency, mirroring the newest rows in
	// the currency_rates table
	rates map[string]float64
}

// NewService builds a Service and primes the in-memory rate snapshot from the
// warehouse, so conversions work even before the first provider fetch.
func NewService(dbm *gorp.DbMap, cfg core.CurrencyConfiguration) (*Service, error) {
	s := &Service{
		DB:      dbm,
		Config:  cfg,
		TimeNow: time.Now,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: util.AddLoggingRoundTripper(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "currency-provider",
			Timeout: 5 * time.Minute,
		}),
		rates: make(map[string]float64),
	}
	err := s.reloadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("load currency rates: %w", err)
	}
	return s, nil
}

// reloadSnapshot rebuilds the in-memory rate map from the newest row per
// target currency.
func (s *Service) reloadSnapshot() error {
	rates := make(map[string]float64)
	fetchedAt := make(map[string]time.Time)
	err := sqlext.ForeachRow(s.DB, `SELECT target, rate, fetched_at FROM currency_rates`, nil, func(rows *sql.Rows) error {
		var (
			target  string
			rate    float64
			fetched time.Time
		)
		err := rows.Scan(&target, &rate, &fetched)
		if err != nil {
			return err
		}
		if previous, exists := fetchedAt[target]; !exists || fetched.After(previous) {
			rates[target] = rate
			fetchedAt[target] = fetched
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.rates = rates
	s.mu.Unlock()
	return nil
}

// RefreshIfStale fetches a fresh rate table unless a sufficiently recent
// fetch is already recorded. The staleness window is deliberately below 24h
// so that a daily refresh never reuses the previous day's rates.
func (s *Service) RefreshIfStale(ctx context.Context) error {
	cutoff := s.TimeNow().Add(-s.Config.StaleAfter.Into())
	count, err := s.DB.SelectInt(`SELECT COUNT(*) FROM currency_rates WHERE fetched_at > ?`, cutoff)
	if err != nil {
		return fmt.Errorf("check currency rate freshness: %w", err)
	}
	if count > 0 {
		logg.Debug("currency rates are fresh, skipping fetch")
		return nil
	}
	return s.Refresh(ctx)
}

// providerResponse decodes the provider's rate table. Both the generic shape
// ({base, rates, timestamp}) and the exchangerate-api v6 shape
// ({conversion_rates, time_last_update_unix}) are accepted.
type providerResponse struct {
	Base            string             `json:"base"`
	BaseCode        string             `json:"base_code"`
	Rates           map[string]float64 `json:"rates"`
	ConversionRates map[string]float64 `json:"conversion_rates"`
	Timestamp       *int64             `json:"timestamp"`
	LastUpdateUnix  *int64             `json:"time_last_update_unix"`
}

func (r providerResponse) base() string {
	if r.Base != "" {
		return r.Base
	}
	return r.BaseCode
}

func (r providerResponse) rateTable() map[string]float64 {
	if len(r.Rates) > 0 {
		return r.Rates
	}
	return r.ConversionRates
}

func (r providerResponse) dataTimestamp() *time.Time {
	unix := r.Timestamp
	if unix == nil {
		unix = r.LastUpdateUnix
	}
	if unix == nil {
		return nil
	}
	t := time.Unix(*unix, 0).UTC()
	return &t
}

func (s *Service) fetchURL() string {
	base := strings.TrimSuffix(s.Config.ProviderURL, "/")
	if s.Config.APIKey == "" {
		return base
	}
	return base + "/" + s.Config.APIKey + "/latest/USD"
}

// Refresh unconditionally fetches the provider's USD rate table and replaces
// today's rows with it. Rows older than the retention window are purged.
func (s *Service) Refresh(ctx context.Context) error {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		return fmt.Errorf("fetch exchange rates: %w", err)
	}
	resp := result.(providerResponse)

	table := resp.rateTable()
	if len(table) == 0 {
		return fmt.Errorf("exchange rate provider returned no rates")
	}
	if base := resp.base(); base != "" && base != "USD" {
		return fmt.Errorf("exchange rate provider returned base %q, expected USD", base)
	}

	now := s.TimeNow().UTC()
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dataTimestamp := resp.dataTimestamp()

	err = sqlext.WithTransaction(s.DB, func(tx *gorp.Transaction) error {
		// replace today's rows atomically, then purge the old history
		_, err := tx.Exec(`DELETE FROM currency_rates WHERE fetched_at >= ?`, startOfToday)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`DELETE FROM currency_rates WHERE fetched_at < ?`, now.Add(-s.Config.PurgeAfter.Into()))
		if err != nil {
			return err
		}
		for _, target := range sortedCurrencies(table) {
			err := tx.Insert(&db.CurrencyRate{
				Base:          "USD",
				Target:        target,
				Rate:          table[target],
				FetchedAt:     now,
				DataTimestamp: dataTimestamp,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store exchange rates: %w", err)
	}

	s.mu.Lock()
	s.rates = table
	s.mu.Unlock()
	logg.Info("refreshed %d exchange rates", len(table))
	return nil
}

func (s *Service) fetch(ctx context.Context) (providerResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.fetchURL(), http.NoBody)
	if err != nil {
		return providerResponse{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return providerResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return providerResponse{}, fmt.Errorf("provider returned %s: %q", resp.Status, strings.TrimSpace(string(buf)))
	}
	var decoded providerResponse
	err = json.NewDecoder(resp.Body).Decode(&decoded)
	if err != nil {
		return providerResponse{}, fmt.Errorf("cannot decode provider response: %w", err)
	}
	return decoded, nil
}

// Rate returns the newest USD->target rate. The USD rate is always 1.
func (s *Service) Rate(target string) (float64, bool) {
	target = strings.ToUpper(target)
	if target == "USD" {
		return 1, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rate, exists := s.rates[target]
	return rate, exists
}

// Convert converts an amount between two currencies, pivoting through USD.
// ok is false when either leg is missing or the source rate is zero.
func (s *Service) Convert(amount float64, from, to string) (float64, bool) {
	fromRate, fromOK := s.Rate(from)
	toRate, toOK := s.Rate(to)
	if !fromOK || !toOK || fromRate == 0 {
		return 0, false
	}
	return amount / fromRate * toRate, true
}

// KnownCurrencies lists every currency with a usable rate, sorted.
func (s *Service) KnownCurrencies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	currencies := make([]string, 0, len(s.rates)+1)
	hasUSD := false
	for target := range s.rates {
		if target == "USD" {
			hasUSD = true
		}
		currencies = append(currencies, target)
	}
	if !hasUSD {
		currencies = append(currencies, "USD")
	}
	sort.Strings(currencies)
	return currencies
}

func sortedCurrencies(table map[string]float64) []string {
	currencies := make([]string, 0, len(table))
	for target := range table {
		currencies = append(currencies, target)
	}
	sort.Strings(currencies)
	return currencies
}
