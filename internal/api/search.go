// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/kissaten/kissaten/internal/search"
)

// GetSearch handles GET /v1/search.
func (p *v1Provider) GetSearch(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/search")

	params, err := search.ParseParameters(r.URL.Query())
	if err != nil {
		respondWithError(w, err)
		return
	}
	result, err := p.Engine.Search(params)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, result)
}

// SearchByPaths handles POST /v1/search/by-paths.
func (p *v1Provider) SearchByPaths(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/search/by-paths")

	var req struct {
		BeanURLPaths []string `json:"bean_url_paths"`
	}
	if !RequireJSON(w, r, &req) {
		return
	}
	// filters and currency conversion come through the query string, same as
	// on GET /v1/search
	params, err := search.ParseParameters(r.URL.Query())
	if err != nil {
		respondWithError(w, err)
		return
	}
	result, err := p.Engine.SearchByPaths(params, req.BeanURLPaths)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, result)
}
