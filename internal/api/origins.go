// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/kissaten/kissaten/internal/reports"
	"github.com/kissaten/kissaten/internal/search"
)

// GetCountry handles GET /v1/origins/:country.
func (p *v1Provider) GetCountry(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/origins/:country")

	params, err := search.ParseParameters(r.URL.Query())
	if err != nil {
		respondWithError(w, err)
		return
	}
	country := strings.ToUpper(mux.Vars(r)["country"])
	detail, err := reports.GetCountryDetail(p.DB, country, params)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, detail)
}

// GetRegion handles GET /v1/origins/:country/:region_slug.
func (p *v1Provider) GetRegion(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/origins/:country/:region_slug")

	params, err := search.ParseParameters(r.URL.Query())
	if err != nil {
		respondWithError(w, err)
		return
	}
	vars := mux.Vars(r)
	country := strings.ToUpper(vars["country"])
	detail, err := reports.GetRegionDetail(p.DB, country, vars["region_slug"], params)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, detail)
}

// GetFarm handles GET /v1/origins/:country/:region_slug/:farm_slug.
func (p *v1Provider) GetFarm(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/origins/:country/:region_slug/:farm_slug")

	params, err := search.ParseParameters(r.URL.Query())
	if err != nil {
		respondWithError(w, err)
		return
	}
	vars := mux.Vars(r)
	country := strings.ToUpper(vars["country"])
	detail, err := reports.GetFarmDetail(p.DB, country, vars["region_slug"], vars["farm_slug"], params)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, detail)
}

// SearchOrigins handles GET /v1/origins/search.
func (p *v1Provider) SearchOrigins(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/origins/search")

	limit := 0
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			respondWithError(w, search.ValidationError{Message: "limit must be an integer"})
			return
		}
		limit = parsed
	}
	hits, err := reports.SearchOrigins(p.DB, r.URL.Query().Get("q"), limit)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"results": hits})
}
