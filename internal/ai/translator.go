// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sapcc/go-bits/logg"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/kissaten/kissaten/internal/core"
	"github.com/kissaten/kissaten/internal/search"
)

// ErrUnavailable is returned when no API key is configured or the provider
// circuit breaker is open. The API layer degrades to 503.
var ErrUnavailable = errors.New("AI translation is not available")

// Translator turns natural-language queries and label photos into structured
// search parameters. Responses are cached; the provider is only consulted on
// cache misses, rate-limited and behind a circuit breaker.
type Translator struct {
	Cache  *Cache
	Config core.AIConfiguration

	client  *genai.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewTranslator builds a Translator. Without an API key the Translator still
// serves cache hits, but misses fail with ErrUnavailable.
func NewTranslator(ctx context.Context, cache *Cache, cfg core.AIConfiguration) (*Translator, error) {
	t := &Translator{
		Cache:   cache,
		Config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "gemini",
		}),
	}
	if cfg.APIKey != "" {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("create Gemini client: %w", err)
		}
		t.client = client
	}
	return t, nil
}

const translatePrompt = `You translate a specialty coffee shopper's request into search filters
for a coffee bean catalog. Respond with JSON only. Use ISO 3166-1 alpha-2
codes in "origin". Use the wildcard syntax (*, ?, &, |, !, "...") in text
filters only when the request clearly calls for it. Set "confidence"
between 0 and 1 for how well the filters capture the request.`

// translationResult is the JSON document the model is asked to produce: the
// search parameter surface plus a confidence estimate.
type translationResult struct {
	search.Parameters
	Confidence float64 `json:"confidence"`
}

func responseSchema() *genai.Schema {
	strProp := &genai.Schema{Type: genai.TypeString}
	numProp := &genai.Schema{Type: genai.TypeNumber}
	boolProp := &genai.Schema{Type: genai.TypeBoolean}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"query":                strProp,
			"tasting_notes_search": strProp,
			"roaster":              {Type: genai.TypeArray, Items: strProp},
			"origin":               {Type: genai.TypeArray, Items: strProp},
			"region":               strProp,
			"producer":             strProp,
			"farm":                 strProp,
			"variety":              strProp,
			"process":              strProp,
			"roast_level":          strProp,
			"roast_profile":        strProp,
			"min_price":            numProp,
			"max_price":            numProp,
			"min_weight":           {Type: genai.TypeInteger},
			"max_weight":           {Type: genai.TypeInteger},
			"min_elevation":        {Type: genai.TypeInteger},
			"max_elevation":        {Type: genai.TypeInteger},
			"in_stock_only":        boolProp,
			"is_decaf":             boolProp,
			"is_single_origin":     boolProp,
			"confidence":           numProp,
		},
		Required: []string{"confidence"},
	}
}

// TranslateText resolves a natural-language query, consulting the cache
// first. fromCache reports whether the provider was skipped.
func (t *Translator) TranslateText(ctx context.Context, query string) (result CachedTranslation, fromCache bool, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return CachedTranslation{}, false, fmt.Errorf("empty query")
	}
	hash := HashText(query)

	cached, err := t.Cache.Get(hash)
	if err != nil {
		return CachedTranslation{}, false, err
	}
	if cached != nil {
		return *cached, true, nil
	}

	contents := []*genai.Content{
		genai.NewContentFromText(translatePrompt+"\n\nRequest: "+query, genai.RoleUser),
	}
	result, err = t.generate(ctx, contents)
	if err != nil {
		return CachedTranslation{}, false, err
	}

	err = t.Cache.Put(hash, "text", query, result)
	if err != nil {
		// a failed cache write must not fail the translation
		logg.Error("cannot cache AI translation: %s", err.Error())
	}
	return result, false, nil
}

// TranslateImage resolves a photo of a coffee bag label.
func (t *Translator) TranslateImage(ctx context.Context, imageBytes []byte, mimeType string) (result CachedTranslation, fromCache bool, err error) {
	if len(imageBytes) == 0 {
		return CachedTranslation{}, false, fmt.Errorf("empty image")
	}
	hash := HashImage(imageBytes)

	cached, err := t.Cache.Get(hash)
	if err != nil {
		return CachedTranslation{}, false, err
	}
	if cached != nil {
		return *cached, true, nil
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(imageBytes, mimeType),
			genai.NewPartFromText(translatePrompt + "\n\nThe request is the coffee shown on this label."),
		}, genai.RoleUser),
	}
	result, err = t.generate(ctx, contents)
	if err != nil {
		return CachedTranslation{}, false, err
	}

	err = t.Cache.Put(hash, "image", "", result)
	if err != nil {
		logg.Error("cannot cache AI translation: %s", err.Error())
	}
	return result, false, nil
}

func (t *Translator) generate(ctx context.Context, contents []*genai.Content) (CachedTranslation, error) {
	if t.client == nil {
		return CachedTranslation{}, ErrUnavailable
	}
	err := t.limiter.Wait(ctx)
	if err != nil {
		return CachedTranslation{}, err
	}

	raw, err := t.breaker.Execute(func() (any, error) {
		resp, err := t.client.Models.GenerateContent(ctx, t.Config.Model, contents, &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   responseSchema(),
		})
		if err != nil {
			return nil, err
		}
		return resp.Text(), nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return CachedTranslation{}, ErrUnavailable
	}
	if err != nil {
		return CachedTranslation{}, fmt.Errorf("query Gemini: %w", err)
	}

	var decoded translationResult
	err = json.Unmarshal([]byte(raw.(string)), &decoded)
	if err != nil {
		return CachedTranslation{}, fmt.Errorf("cannot decode Gemini response: %w", err)
	}

	decoded.Parameters.ApplyDefaults()
	err = decoded.Parameters.Validate()
	if err != nil {
		return CachedTranslation{}, fmt.Errorf("Gemini produced unusable filters: %w", err)
	}
	if decoded.Confidence < 0 || decoded.Confidence > 1 {
		decoded.Confidence = 0
	}
	return CachedTranslation{Params: decoded.Parameters, Confidence: decoded.Confidence}, nil
}
