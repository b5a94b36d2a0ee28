// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package util

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Origin names arrive with every diacritic and spelling the scrapers find in
// the wild ("Chiapas, México", "Finca El Paraíso"). All cross-source matching
// goes through the folding below so that "Sidamo" and "sidamo " and "Sídamo"
// land on the same key.

var asciiFolder = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldText strips diacritics (NFKD decomposition, then removal of combining
// marks), lowercases, and trims surrounding whitespace.
func FoldText(input string) string {
	folded, _, err := transform.String(asciiFolder, input)
	if err != nil {
		// Remove() and the normalizers cannot fail on valid UTF-8;
		// for garbage input we keep the original bytes.
		folded = input
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// Slugify renders a name as a URL-safe slug: FoldText, then every run of
// non-alphanumeric characters becomes a single hyphen. This is the
// normalization rule for region_normalized and farm_normalized.
func Slugify(input string) string {
	folded := FoldText(input)
	var sb strings.Builder
	sb.Grow(len(folded))
	pendingHyphen := false
	for _, r := range folded {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			if pendingHyphen && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			pendingHyphen = false
			sb.WriteRune(r)
		} else {
			pendingHyphen = true
		}
	}
	return sb.String()
}

// MatchKey folds a name down to just its alphanumeric characters. It is the
// loosest comparison key we use, e.g. for matching country aliases where
// punctuation and spacing carry no meaning ("Côte d'Ivoire" == "cotedivoire").
func MatchKey(input string) string {
	slug := Slugify(input)
	return strings.ReplaceAll(slug, "-", "")
}
