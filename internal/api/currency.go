// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/kissaten/kissaten/internal/search"
)

// ListCurrencies handles GET /v1/currencies.
func (p *v1Provider) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/currencies")
	respondwith.JSON(w, http.StatusOK, map[string]any{
		"base":       "USD",
		"currencies": p.Currency.KnownCurrencies(),
	})
}

// ConvertAmount handles GET /v1/convert.
func (p *v1Provider) ConvertAmount(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/convert")

	query := r.URL.Query()
	amount, err := strconv.ParseFloat(query.Get("amount"), 64)
	if err != nil {
		respondWithError(w, search.ValidationError{Message: "amount must be a number"})
		return
	}
	from := strings.ToUpper(strings.TrimSpace(query.Get("from")))
	to := strings.ToUpper(strings.TrimSpace(query.Get("to")))
	if len(from) != 3 || len(to) != 3 {
		respondWithError(w, search.ValidationError{Message: "from and to must be three-letter currency codes"})
		return
	}

	converted, ok := p.Currency.Convert(amount, from, to)
	if !ok {
		respondWithError(w, search.ValidationError{Message: "unknown currency"})
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{
		"amount":           amount,
		"from":             from,
		"to":               to,
		"converted_amount": converted,
	})
}

// UpdateCurrencies handles POST /v1/currencies/update. It fetches fresh rates
// only when the stored ones have gone stale.
func (p *v1Provider) UpdateCurrencies(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/currencies/update")

	err := p.Currency.RefreshIfStale(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{
		"currencies": p.Currency.KnownCurrencies(),
	})
}

// RefreshCurrencies handles POST /v1/currencies/refresh. It always fetches,
// replacing today's stored rates.
func (p *v1Provider) RefreshCurrencies(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/currencies/refresh")

	err := p.Currency.Refresh(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{
		"currencies": p.Currency.KnownCurrencies(),
	})
}
