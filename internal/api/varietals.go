// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/kissaten/kissaten/internal/reports"
	"github.com/kissaten/kissaten/internal/search"
)

// ListVarietals handles GET /v1/varietals.
func (p *v1Provider) ListVarietals(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/varietals")

	params, err := search.ParseParameters(r.URL.Query())
	if err != nil {
		respondWithError(w, err)
		return
	}
	varietals, err := reports.ListVarietals(p.DB, params)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"varietals": varietals})
}

// GetVarietal handles GET /v1/varietals/:slug.
func (p *v1Provider) GetVarietal(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/varietals/:slug")

	params, err := search.ParseParameters(r.URL.Query())
	if err != nil {
		respondWithError(w, err)
		return
	}
	detail, err := reports.GetVarietalDetail(p.DB, mux.Vars(r)["slug"], params)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, detail)
}

// GetVarietalBeans handles GET /v1/varietals/:slug/beans. It runs a regular
// search scoped to beans carrying the canonical varietal, so all search
// filters, sorting and currency conversion apply.
func (p *v1Provider) GetVarietalBeans(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/varietals/:slug/beans")

	params, err := search.ParseParameters(r.URL.Query())
	if err != nil {
		respondWithError(w, err)
		return
	}
	name, ok, err := reports.ResolveVarietalSlug(p.DB, mux.Vars(r)["slug"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	if !ok {
		respondWithError(w, reports.ErrNotFound)
		return
	}
	condition, args := reports.VarietalBeanCondition(name)
	result, err := p.Engine.SearchWithCondition(params, condition, args)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, result)
}
