// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyCombo_Match(t *testing.T) {
	combo := NewKeyCombo("dd")
	assert.False(t, combo.Record('d'))
	assert.True(t, combo.Record('d'))
	// The combo resets after matching.
	assert.False(t, combo.Record('d'))
	assert.True(t, combo.Record('d'))
}

func TestKeyCombo_Mismatch(t *testing.T) {
	combo := NewKeyCombo("dd")
	assert.False(t, combo.Record('d'))
	assert.False(t, combo.Record('x'))
	assert.False(t, combo.Record('d'))
	assert.True(t, combo.Record('d'))
}

func TestKeyCombo_MismatchRestartsSequence(t *testing.T) {
	combo := NewKeyCombo("dd")
	assert.False(t, combo.Record('x'))
	assert.False(t, combo.Record('d'))
	// The d after the mismatch counted as a fresh start.
	assert.True(t, combo.Record('d'))
}

func TestKeyCombo_Timeout(t *testing.T) {
	combo := NewKeyCombo("dd")
	times := []time.Duration{0, 600 * time.Millisecond, 700 * time.Millisecond}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	idx := 0
	combo.now = func() time.Time {
		ts := base.Add(times[idx])
		idx++
		return ts
	}

	assert.False(t, combo.Record('d'))
	// 600ms later the first press has expired.
	assert.False(t, combo.Record('d'))
	// But that press starts a new frame, completed 100ms later.
	assert.True(t, combo.Record('d'))
}

func TestKeyCombo_Empty(t *testing.T) {
	combo := NewKeyCombo("")
	assert.False(t, combo.Record('d'))
}

func TestKeyCombo_Reset(t *testing.T) {
	combo := NewKeyCombo("dd")
	assert.False(t, combo.Record('d'))
	combo.Reset()
	assert.False(t, combo.Record('d'))
	assert.True(t, combo.Record('d'))
}
