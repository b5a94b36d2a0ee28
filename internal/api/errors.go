// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"errors"
	"net/http"

	"github.com/sapcc/go-bits/respondwith"

	"github.com/kissaten/kissaten/internal/ai"
	"github.com/kissaten/kissaten/internal/reports"
	"github.com/kissaten/kissaten/internal/search"
)

// respondWithError translates domain errors into the documented status codes:
// 400 for malformed wildcard expressions, 422 for out-of-range parameters,
// 404 for unknown slugs, 503 when the AI provider cannot be reached. Anything
// else is an internal error whose details are only logged, not leaked.
func respondWithError(w http.ResponseWriter, err error) {
	var compileErr search.CompileError
	switch {
	case errors.As(err, &compileErr):
		http.Error(w, compileErr.Error(), http.StatusBadRequest)
	case search.IsValidationError(err):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, reports.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ai.ErrUnavailable):
		http.Error(w, "AI search is currently unavailable", http.StatusServiceUnavailable)
	default:
		respondwith.ObfuscatedErrorText(w, err)
	}
}
