// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/kissaten/kissaten/internal/ai"
	"github.com/kissaten/kissaten/internal/search"
)

// maxImageBytes bounds label photo uploads.
const maxImageBytes = 10 << 20

// AISearch handles POST /v1/ai/search. The request is either a JSON body with
// a "query" member, or a multipart form with an "image" file (a photo of a
// coffee bag label).
func (p *v1Provider) AISearch(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/ai/search")

	translation, fromCache, ok := p.translateRequest(w, r)
	if !ok {
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{
		"request_id": newRequestID(),
		"parameters": translation.Params,
		"confidence": translation.Confidence,
		"from_cache": fromCache,
		"search_url": "/v1/search?" + translation.Params.CanonicalQueryString(),
	})
}

// AISearchRedirect handles POST /v1/ai/search/redirect. Instead of the full
// parameter set it answers with the canonical /v1/search URL, for clients
// that just want to navigate there.
func (p *v1Provider) AISearchRedirect(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v1/ai/search/redirect")

	translation, fromCache, ok := p.translateRequest(w, r)
	if !ok {
		return
	}
	url := "/v1/search?" + translation.Params.CanonicalQueryString()
	w.Header().Set("Location", url)
	respondwith.JSON(w, http.StatusOK, map[string]any{
		"request_id": newRequestID(),
		"url":        url,
		"from_cache": fromCache,
	})
}

// translateRequest decodes a text or image query and runs it through the
// translator. On failure the response has already been written and ok is
// false.
func (p *v1Provider) translateRequest(w http.ResponseWriter, r *http.Request) (translation ai.CachedTranslation, fromCache, ok bool) {
	if p.Translator == nil {
		respondWithError(w, ai.ErrUnavailable)
		return ai.CachedTranslation{}, false, false
	}

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		imageBytes, mimeType, imageOK := readImageUpload(w, r)
		if !imageOK {
			return ai.CachedTranslation{}, false, false
		}
		translation, fromCache, err = p.Translator.TranslateImage(r.Context(), imageBytes, mimeType)
	} else {
		var req struct {
			Query string `json:"query"`
		}
		if !RequireJSON(w, r, &req) {
			return ai.CachedTranslation{}, false, false
		}
		if strings.TrimSpace(req.Query) == "" {
			respondWithError(w, search.ValidationError{Message: "query must not be empty"})
			return ai.CachedTranslation{}, false, false
		}
		translation, fromCache, err = p.Translator.TranslateText(r.Context(), req.Query)
	}
	if err != nil {
		respondWithError(w, err)
		return ai.CachedTranslation{}, false, false
	}
	return translation, fromCache, true
}

func readImageUpload(w http.ResponseWriter, r *http.Request) (imageBytes []byte, mimeType string, ok bool) {
	err := r.ParseMultipartForm(maxImageBytes)
	if err != nil {
		http.Error(w, "cannot parse multipart form: "+err.Error(), http.StatusBadRequest)
		return nil, "", false
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, `multipart form needs an "image" file`, http.StatusBadRequest)
		return nil, "", false
	}
	defer file.Close()
	imageBytes, err = io.ReadAll(io.LimitReader(file, maxImageBytes))
	if err != nil {
		respondWithError(w, err)
		return nil, "", false
	}
	mimeType = header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return imageBytes, mimeType, true
}

// newRequestID tags each AI response so that client-side reports can
// reference a specific translation.
func newRequestID() string {
	// only fails if the OS entropy source is broken
	id, err := uuid.NewV4()
	if err != nil {
		panic(err.Error())
	}
	return id.String()
}
