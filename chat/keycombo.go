// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chat

import (
	"time"
)

// comboFrame is how quickly the whole sequence has to be typed.
const comboFrame = 500 * time.Millisecond

// KeyCombo recognizes a fixed multi-key sequence typed within a time
// frame, like vim's dd. Any mismatch or pause resets progress.
type KeyCombo struct {
	target  []rune
	buf     []rune
	last    time.Time
	now     func() time.Time
}

// NewKeyCombo makes a recognizer for the given sequence.
func NewKeyCombo(target string) *KeyCombo {
	return &KeyCombo{
		target: []rune(target),
		now:    time.Now,
	}
}

// Record feeds one key and reports whether the full sequence has now been
// typed within the frame.
func (k *KeyCombo) Record(ch rune) bool {
	if len(k.target) == 0 {
		return false
	}
	now := k.now()
	if len(k.buf) > 0 && now.Sub(k.last) > comboFrame {
		k.buf = k.buf[:0]
	}
	k.last = now

	if ch != k.target[len(k.buf)] {
		k.buf = k.buf[:0]
		// A mismatch may still be the start of a fresh attempt.
		if ch == k.target[0] {
			k.buf = append(k.buf, ch)
		}
		return false
	}
	k.buf = append(k.buf, ch)
	if len(k.buf) == len(k.target) {
		k.buf = k.buf[:0]
		return true
	}
	return false
}

// Reset clears any partial progress.
func (k *KeyCombo) Reset() {
	k.buf = k.buf[:0]
}
