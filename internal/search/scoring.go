// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package search

import (
	"strconv"
	"strings"
)

// Relevance field weights. More specific matches score higher; the score of
// a bean is the sum of the weights whose predicate matches.
const (
	scoreExactName     = 50
	scoreNamePrefix    = 35
	scoreNameSubstring = 30
	scoreTastingNotes  = 20
	scoreRoaster       = 15
	scoreCountry       = 12
	scoreRegionFarm    = 10
	scoreDescription   = 5
)

// MaxPossibleScore is the score of a hypothetical bean matching on every
// scored field, reported in the search metadata so clients can normalize.
const MaxPossibleScore = scoreExactName + scoreNamePrefix + scoreNameSubstring +
	scoreTastingNotes + scoreRoaster + scoreCountry + scoreRegionFarm + scoreDescription

// buildScoreExpr renders the relevance score of a bean as one SQL expression.
// Scoring treats the query as literal text: operators and wildcards are
// stripped, since the boolean structure already decided which beans match.
func buildScoreExpr(queryText string) (sqlExpr string, args []any) {
	literal := scoreLiteral(queryText)
	substring := "%" + literal + "%"
	prefix := literal + "%"

	var terms []string
	add := func(weight int, predicate string, predicateArgs ...any) {
		terms = append(terms, "(CASE WHEN "+predicate+" THEN "+strconv.Itoa(weight)+" ELSE 0 END)")
		args = append(args, predicateArgs...)
	}

	add(scoreExactName, "beans.name = ? COLLATE NOCASE", literal)
	add(scoreNamePrefix, "beans.name LIKE ?", prefix)
	add(scoreNameSubstring, "beans.name LIKE ?", substring)
	add(scoreTastingNotes, "EXISTS (SELECT 1 FROM json_each(beans.tasting_notes) WHERE value LIKE ?)", substring)
	add(scoreRoaster, "beans.roaster LIKE ?", substring)
	add(scoreCountry, "EXISTS (SELECT 1 FROM origins WHERE origins.bean_id = beans.id AND country_full_name(origins.country) LIKE ?)", substring)
	add(scoreRegionFarm, "EXISTS (SELECT 1 FROM origins WHERE origins.bean_id = beans.id AND (origins.region LIKE ? OR origins.farm LIKE ?))", substring, substring)
	add(scoreDescription, "beans.description LIKE ?", substring)

	return "(" + strings.Join(terms, " + ") + ")", args
}

// scoreLiteral strips mini-language syntax from the query, leaving the plain
// text for the weighted field comparisons.
func scoreLiteral(queryText string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`*?&|!()"%_\`, r) {
			return -1
		}
		return r
	}, queryText)
	return strings.Join(strings.Fields(cleaned), " ")
}
