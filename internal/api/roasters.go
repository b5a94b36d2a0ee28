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

// ListRoasters handles GET /v1/roasters.
func (p *v1Provider) ListRoasters(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/roasters")

	params, err := search.ParseParameters(r.URL.Query())
	if err != nil {
		respondWithError(w, err)
		return
	}
	roasters, err := reports.ListRoasters(p.DB, params)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"roasters": roasters})
}

// GetRoaster handles GET /v1/roasters/:slug.
func (p *v1Provider) GetRoaster(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/roasters/:slug")

	params, err := search.ParseParameters(r.URL.Query())
	if err != nil {
		respondWithError(w, err)
		return
	}
	detail, err := reports.GetRoasterDetail(p.DB, mux.Vars(r)["slug"], params)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, detail)
}
