// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanSlug(t *testing.T) {
	assert.Equal(t, "kind-folk", CleanSlug("kind-folk_103000"))
	// only a six-digit run suffix is stripped
	assert.Equal(t, "blend_19", CleanSlug("blend_19"))
	assert.Equal(t, "lot_1234567", CleanSlug("lot_1234567"))
	assert.Equal(t, "kind-folk", CleanSlug("kind-folk"))
}

func TestFilenameStem(t *testing.T) {
	assert.Equal(t, "kind-folk_103000", FilenameStem("roasters/blue-bottle/20260815/kind-folk_103000.json"))
	assert.Equal(t, "kind-folk_103000", FilenameStem("kind-folk_103000.diffjson"))
}

func TestBeanURLPath(t *testing.T) {
	assert.Equal(t, "/blue-bottle/kind-folk", BeanURLPath("blue-bottle", "kind-folk"))
}

func TestStaticImagePath(t *testing.T) {
	assert.Equal(t,
		"/static/data/roasters/blue-bottle/20260815/kind-folk_103000.png",
		StaticImagePath("roasters/blue-bottle/20260815/kind-folk_103000.json"))
}
