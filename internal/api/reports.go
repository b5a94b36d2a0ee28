// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/kissaten/kissaten/internal/reports"
	"github.com/kissaten/kissaten/internal/search"
)

// GetTastingNoteCategories handles GET /v1/tasting-note-categories.
func (p *v1Provider) GetTastingNoteCategories(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/tasting-note-categories")

	params, err := search.ParseParameters(r.URL.Query())
	if err != nil {
		respondWithError(w, err)
		return
	}
	categories, err := reports.GetNoteCategories(p.DB, params)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"categories": categories})
}

// GetStats handles GET /v1/stats.
func (p *v1Provider) GetStats(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/stats")

	stats, err := reports.GetCatalogStats(p.DB)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, stats)
}
