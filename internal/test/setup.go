// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

// Package test provides the shared harness for unit tests: an in-memory
// warehouse, a synthetic scrape tree under t.TempDir(), and optional API
// wiring.
package test

import (
	"context"
	"net/http"
	"testing"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/mock"
	"github.com/sapcc/go-bits/osext"

	"github.com/kissaten/kissaten/internal/canonical"
	"github.com/kissaten/kissaten/internal/core"
	"github.com/kissaten/kissaten/internal/currency"
	"github.com/kissaten/kissaten/internal/db"
	"github.com/kissaten/kissaten/internal/util"
)

// APIBuilder matches the signature of api.NewV1API. The function cannot be
// referenced here directly because that would create an import cycle, so
// API tests pass it in through WithAPIHandler.
type APIBuilder func(core.Configuration, *gorp.DbMap, *canonical.Tables, *currency.Service, func() time.Time) httpapi.API

type setupParams struct {
	DataFiles      map[string]string
	Rates          map[string]float64
	APIBuilder     APIBuilder
	APIMiddlewares []httpapi.API
}

// SetupOption is an option that can be given to NewSetup().
type SetupOption func(*setupParams)

// WithDataFile is a SetupOption that places a file into the data directory
// before the canonicalization tables are loaded. The path is relative to the
// data root, e.g. "roasters/blue-bottle/20260815/ethiopia-yirgacheffe.json"
// or "region_mappings/ET.json".
func WithDataFile(relPath, content string) SetupOption {
	return func(params *setupParams) {
		params.DataFiles[relPath] = content
	}
}

// WithExchangeRates is a SetupOption that seeds the currency_rates table with
// USD-based rates, so price conversion works without a provider fetch.
func WithExchangeRates(rates map[string]float64) SetupOption {
	return func(params *setupParams) {
		params.Rates = rates
	}
}

// WithAPIHandler is a SetupOption that initializes an http.Handler with the
// full API.
func WithAPIHandler(apiBuilder APIBuilder, middlewares ...httpapi.API) SetupOption {
	return func(params *setupParams) {
		params.APIBuilder = apiBuilder
		params.APIMiddlewares = middlewares
	}
}

// Setup contains all the pieces that are needed for most tests.
type Setup struct {
	// fields that are always set
	Ctx      context.Context //nolint:containedctx // only used in tests
	Config   core.Configuration
	DB       *gorp.DbMap
	Tables   *canonical.Tables
	Currency *currency.Service
	Clock    *mock.Clock
	Registry *prometheus.Registry
	// only set if WithAPIHandler is given
	Handler http.Handler
}

// NewSetup prepares most or all pieces of Kissaten for a test.
func NewSetup(t *testing.T, opts ...SetupOption) Setup {
	t.Helper()
	logg.ShowDebug = osext.GetenvBool("KISSATEN_DEBUG")
	params := setupParams{DataFiles: make(map[string]string)}
	for _, option := range opts {
		option(&params)
	}

	var s Setup
	s.Ctx = t.Context()
	s.Clock = mock.NewClock()
	// a fixed date well past the epoch keeps staleness and TTL math sane
	s.Clock.StepBy(time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC).Sub(time.Unix(0, 0)))
	s.Registry = prometheus.NewPedanticRegistry()

	s.Config = core.Configuration{
		DataDir:      t.TempDir(),
		DatabasePath: ":memory:",
		Currency: core.CurrencyConfiguration{
			ProviderURL: "http://unreachable.invalid",
			StaleAfter:  util.MarshalableTimeDuration(23 * time.Hour),
			PurgeAfter:  util.MarshalableTimeDuration(7 * 24 * time.Hour),
		},
		AI: core.AIConfiguration{
			Model:             "gemini-2.0-flash",
			RequestsPerMinute: 10,
			CacheTTL:          util.MarshalableTimeDuration(7 * 24 * time.Hour),
		},
	}

	for relPath, content := range params.DataFiles {
		WriteDataFile(t, s.Config.DataDir, relPath, content)
	}

	tables, errs := canonical.NewTables(s.Config)
	for _, err := range errs {
		t.Error(err)
	}
	if t.Failed() {
		t.FailNow()
	}
	s.Tables = tables

	dbConn, err := db.Connect(db.Options{Path: ":memory:"}, s.Tables.SQLFunctions())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dbConn.Close() })
	s.DB = db.InitORM(dbConn)

	if params.Rates != nil {
		seedExchangeRates(t, s.DB, s.Clock.Now(), params.Rates)
	}
	s.Currency, err = currency.NewService(s.DB, s.Config.Currency)
	if err != nil {
		t.Fatal(err)
	}
	s.Currency.TimeNow = s.Clock.Now

	if params.APIBuilder != nil {
		s.Handler = httpapi.Compose(
			append([]httpapi.API{
				params.APIBuilder(s.Config, s.DB, s.Tables, s.Currency, s.Clock.Now),
				httpapi.WithoutLogging(),
			}, params.APIMiddlewares...)...,
		)
	}

	return s
}

func seedExchangeRates(t *testing.T, dbm *gorp.DbMap, now time.Time, rates map[string]float64) {
	t.Helper()
	for target, rate := range rates {
		err := dbm.Insert(&db.CurrencyRate{
			Base:      "USD",
			Target:    target,
			Rate:      rate,
			FetchedAt: now,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}
