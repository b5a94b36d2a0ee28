// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

// Package api provides the HTTP API of the catalog.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-gorp/gorp/v3"
	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/kissaten/kissaten/internal/ai"
	"github.com/kissaten/kissaten/internal/canonical"
	"github.com/kissaten/kissaten/internal/core"
	"github.com/kissaten/kissaten/internal/currency"
	"github.com/kissaten/kissaten/internal/search"
)

// VersionData is used by version advertisement handlers.
type VersionData struct {
	Status string            `json:"status"`
	ID     string            `json:"id"`
	Links  []VersionLinkData `json:"links"`
}

// VersionLinkData is used by version advertisement handlers, as part of the
// VersionData struct.
type VersionLinkData struct {
	URL      string `json:"href"`
	Relation string `json:"rel"`
	Type     string `json:"type,omitempty"`
}

type v1Provider struct {
	Config      core.Configuration
	DB          *gorp.DbMap
	Tables      *canonical.Tables
	Currency    *currency.Service
	Engine      *search.Engine
	Translator  *ai.Translator
	VersionData VersionData
	// slots for test doubles
	timeNow func() time.Time
}

// NewV1API creates an httpapi.API that serves the Kissaten v1 API.
func NewV1API(cfg core.Configuration, dbm *gorp.DbMap, tables *canonical.Tables, currencySvc *currency.Service, timeNow func() time.Time) httpapi.API {
	p := &v1Provider{
		Config:   cfg,
		DB:       dbm,
		Tables:   tables,
		Currency: currencySvc,
		Engine:   search.NewEngine(dbm, currencySvc),
		timeNow:  timeNow,
	}
	p.VersionData = VersionData{
		Status: "CURRENT",
		ID:     "v1",
		Links: []VersionLinkData{
			{
				Relation: "self",
				URL:      "/v1/",
			},
		},
	}

	cache := ai.NewCache(dbm, time.Duration(cfg.AI.CacheTTL))
	cache.TimeNow = timeNow
	translator, err := ai.NewTranslator(context.Background(), cache, cfg.AI)
	if err != nil {
		// the AI endpoints degrade to 503, everything else keeps working
		logg.Error("cannot initialize AI translator: %s", err.Error())
	} else {
		p.Translator = translator
	}

	return p
}

// AddTo implements the httpapi.API interface.
func (p *v1Provider) AddTo(r *mux.Router) {
	r.Methods("HEAD", "GET").Path("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpapi.IdentifyEndpoint(r, "/")
		httpapi.SkipRequestLog(r)
		respondwith.JSON(w, 300, map[string]any{"versions": []VersionData{p.VersionData}})
	})

	r.Methods("GET").Path("/v1/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpapi.IdentifyEndpoint(r, "/v1/")
		httpapi.SkipRequestLog(r)
		respondwith.JSON(w, 200, map[string]any{"version": p.VersionData})
	})

	r.Methods("GET").Path("/v1/search").HandlerFunc(p.GetSearch)
	r.Methods("POST").Path("/v1/search/by-paths").HandlerFunc(p.SearchByPaths)

	r.Methods("GET").Path("/v1/varietals").HandlerFunc(p.ListVarietals)
	r.Methods("GET").Path("/v1/varietals/{slug}").HandlerFunc(p.GetVarietal)
	r.Methods("GET").Path("/v1/varietals/{slug}/beans").HandlerFunc(p.GetVarietalBeans)

	// "search" must be registered before the {country} wildcard
	r.Methods("GET").Path("/v1/origins/search").HandlerFunc(p.SearchOrigins)
	r.Methods("GET").Path("/v1/origins/{country}").HandlerFunc(p.GetCountry)
	r.Methods("GET").Path("/v1/origins/{country}/{region_slug}").HandlerFunc(p.GetRegion)
	r.Methods("GET").Path("/v1/origins/{country}/{region_slug}/{farm_slug}").HandlerFunc(p.GetFarm)

	r.Methods("GET").Path("/v1/tasting-note-categories").HandlerFunc(p.GetTastingNoteCategories)

	r.Methods("GET").Path("/v1/roasters").HandlerFunc(p.ListRoasters)
	r.Methods("GET").Path("/v1/roasters/{slug}").HandlerFunc(p.GetRoaster)

	r.Methods("GET").Path("/v1/stats").HandlerFunc(p.GetStats)

	r.Methods("GET").Path("/v1/currencies").HandlerFunc(p.ListCurrencies)
	r.Methods("GET").Path("/v1/convert").HandlerFunc(p.ConvertAmount)
	r.Methods("POST").Path("/v1/currencies/update").HandlerFunc(p.UpdateCurrencies)
	r.Methods("POST").Path("/v1/currencies/refresh").HandlerFunc(p.RefreshCurrencies)

	r.Methods("POST").Path("/v1/ai/search").HandlerFunc(p.AISearch)
	r.Methods("POST").Path("/v1/ai/search/redirect").HandlerFunc(p.AISearchRedirect)
}

// RequireJSON will parse the request body into the given data structure, or
// write an error response if that fails.
func RequireJSON(w http.ResponseWriter, r *http.Request, data any) bool {
	err := json.NewDecoder(r.Body).Decode(data)
	if err != nil {
		http.Error(w, "request body is not valid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
