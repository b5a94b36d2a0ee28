// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldText(t *testing.T) {
	assert.Equal(t, "sidamo", FoldText("  Sídamo "))
	assert.Equal(t, "chiapas, mexico", FoldText("Chiapas, México"))
	assert.Equal(t, "finca el paraiso", FoldText("Finca El Paraíso"))
	assert.Equal(t, "", FoldText("   "))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "yirgacheffe", Slugify("Yirgacheffe"))
	assert.Equal(t, "finca-el-paraiso", Slugify("Finca El Paraíso"))
	// runs of punctuation collapse into a single hyphen
	assert.Equal(t, "santa-rosa-de-cabal", Slugify("Santa Rosa  (de) Cabal"))
	// leading and trailing separators do not leave hyphens behind
	assert.Equal(t, "huila", Slugify("¡Huila!"))
	assert.Equal(t, "", Slugify("---"))
}

func TestMatchKey(t *testing.T) {
	assert.Equal(t, "cotedivoire", MatchKey("Côte d'Ivoire"))
	assert.Equal(t, MatchKey("USA"), MatchKey("U.S.A."))
}
