// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package spawn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripFooter(t *testing.T) {
	text := "my reply\n\n" + sentinel + "\nReplying to Alice:\n> hello\n"
	assert.Equal(t, "my reply", StripFooter(text))
	assert.Equal(t, "plain text", StripFooter("  plain text\n"))
	assert.Equal(t, "", StripFooter("\n  \n"))
	assert.Equal(t, "", StripFooter(sentinel+"\nonly footer"))
}

func TestGetText_RequiresEditor(t *testing.T) {
	t.Setenv("EDITOR", "")
	_, err := GetText("", "", false)
	assert.ErrorContains(t, err, "$EDITOR")
}
