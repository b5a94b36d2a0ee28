// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSingleTerm(t *testing.T) {
	sql, args, err := Compile("gesha", Column("origins.variety"))
	require.NoError(t, err)
	assert.Equal(t, `origins.variety LIKE ? ESCAPE '\'`, sql)
	assert.Equal(t, []any{"%gesha%"}, args)
}

func TestCompileWildcards(t *testing.T) {
	sql, args, err := Compile("gesh* ?ourbon", Column("c"))
	require.NoError(t, err)
	// adjacent atoms are an implicit AND
	assert.Equal(t, `(c LIKE ? ESCAPE '\' AND c LIKE ? ESCAPE '\')`, sql)
	assert.Equal(t, []any{"gesh%", "_ourbon"}, args)
}

func TestCompileEscapesLikeMetacharacters(t *testing.T) {
	_, args, err := Compile("100%_natural", Column("c"))
	require.NoError(t, err)
	assert.Equal(t, []any{`%100\%\_natural%`}, args)
}

func TestCompilePhrase(t *testing.T) {
	sql, args, err := Compile(`"Yellow Bourbon"`, Column("c"))
	require.NoError(t, err)
	assert.Equal(t, "c = ? COLLATE NOCASE", sql)
	assert.Equal(t, []any{"Yellow Bourbon"}, args)
}

func TestCompileBooleanComposition(t *testing.T) {
	sql, args, err := Compile("washed|natural&!honey", Column("c"))
	require.NoError(t, err)
	assert.Equal(t, `(c LIKE ? ESCAPE '\' OR (c LIKE ? ESCAPE '\' AND NOT (c LIKE ? ESCAPE '\')))`, sql)
	assert.Equal(t, []any{"%washed%", "%natural%", "%honey%"}, args)
}

func TestCompileGrouping(t *testing.T) {
	sql, args, err := Compile("(washed|natural)&!honey", Column("c"))
	require.NoError(t, err)
	assert.Equal(t, `((c LIKE ? ESCAPE '\' OR c LIKE ? ESCAPE '\') AND NOT (c LIKE ? ESCAPE '\'))`, sql)
	assert.Len(t, args, 3)
}

func TestCompileDoubleNegation(t *testing.T) {
	sql, _, err := Compile("!!washed", Column("c"))
	require.NoError(t, err)
	assert.Equal(t, `NOT (NOT (c LIKE ? ESCAPE '\'))`, sql)
}

func TestParseErrors(t *testing.T) {
	for input, msg := range map[string]string{
		`"unterminated`: "unterminated phrase",
		"":              "empty expression",
		"   ":           "empty expression",
		"washed&!":      "empty expression after '!'",
		"(washed":       "mismatched parentheses",
		"washed)":       "mismatched parentheses",
		"|washed":       "unexpected '|'",
	} {
		_, err := Parse(input)
		if assert.Error(t, err, "input %q", input) {
			assert.Equal(t, msg, err.Error(), "input %q", input)
		}
	}
}

func TestCompileJSONListTarget(t *testing.T) {
	sql, args, err := Compile("berry*", JSONList("beans.tasting_notes"))
	require.NoError(t, err)
	assert.Equal(t, `EXISTS (SELECT 1 FROM json_each(beans.tasting_notes) WHERE value LIKE ? ESCAPE '\')`, sql)
	assert.Equal(t, []any{"berry%"}, args)
}

func TestCompileExistsTarget(t *testing.T) {
	target := Exists("origins WHERE origins.bean_id = beans.id", Column("origins.farm"))
	sql, _, err := Compile("!paraiso", target)
	require.NoError(t, err)
	// negation wraps the EXISTS: "no origin matches"
	assert.Equal(t, `NOT (EXISTS (SELECT 1 FROM origins WHERE origins.bean_id = beans.id AND (origins.farm LIKE ? ESCAPE '\')))`, sql)
}

func TestCompileAnyOfTarget(t *testing.T) {
	target := AnyOf(Column("origins.variety"), JSONList("origins.variety_canonical"))
	sql, args, err := Compile(`"SL28"`, target)
	require.NoError(t, err)
	assert.Equal(t, `(origins.variety = ? COLLATE NOCASE OR EXISTS (SELECT 1 FROM json_each(origins.variety_canonical) WHERE value = ? COLLATE NOCASE))`, sql)
	assert.Equal(t, []any{"SL28", "SL28"}, args)
}
