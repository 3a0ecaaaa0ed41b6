// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	matuiterm "go.mau.fi/matui/term"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		event any
		used  int
	}{
		{"Letter", []byte("j"), matuiterm.Key('j'), 1},
		{"Space", []byte(" "), matuiterm.Key(' '), 1},
		{"Enter", []byte("\r"), matuiterm.KeyEvent{Code: matuiterm.KeyEnter}, 1},
		{"Tab", []byte("\t"), matuiterm.KeyEvent{Code: matuiterm.KeyTab}, 1},
		{"Backspace", []byte{0x7f}, matuiterm.KeyEvent{Code: matuiterm.KeyBackspace}, 1},
		{"CtrlC", []byte{0x03}, matuiterm.CtrlKey('c'), 1},
		{"CtrlU", []byte{0x15}, matuiterm.CtrlKey('u'), 1},
		{"Up", []byte("\x1b[A"), matuiterm.KeyEvent{Code: matuiterm.KeyUp}, 3},
		{"Down", []byte("\x1b[B"), matuiterm.KeyEvent{Code: matuiterm.KeyDown}, 3},
		{"Home", []byte("\x1b[H"), matuiterm.KeyEvent{Code: matuiterm.KeyHome}, 3},
		{"PageUp", []byte("\x1b[5~"), matuiterm.KeyEvent{Code: matuiterm.KeyPageUp}, 4},
		{"Delete", []byte("\x1b[3~"), matuiterm.KeyEvent{Code: matuiterm.KeyDelete}, 4},
		{"FocusIn", []byte("\x1b[I"), matuiterm.FocusEvent{}, 3},
		{"FocusOut", []byte("\x1b[O"), matuiterm.BlurEvent{}, 3},
		{"EscThenKey", []byte("\x1bq"), matuiterm.KeyEvent{Code: matuiterm.KeyEsc}, 1},
		{"Utf8", []byte("ä"), matuiterm.Key('ä'), 2},
		{"Emoji", []byte("❤"), matuiterm.Key('❤'), 3},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			evt, used := parseKey(test.input)
			assert.Equal(t, test.event, evt)
			assert.Equal(t, test.used, used)
		})
	}
}

func TestParseKey_IncompleteSequences(t *testing.T) {
	for _, input := range [][]byte{
		[]byte("\x1b"),
		[]byte("\x1b["),
		[]byte("\x1b[5"),
		{0xe2, 0x9d}, // truncated multi-byte rune
	} {
		evt, used := parseKey(input)
		assert.Nil(t, evt, "input %q", input)
		assert.Zero(t, used, "input %q", input)
	}
}

func TestParseKey_UnknownCSIResyncs(t *testing.T) {
	evt, used := parseKey([]byte("\x1b[Zj"))
	assert.Nil(t, evt)
	assert.Equal(t, 3, used)

	evt, used = parseKey([]byte("j"))
	assert.Equal(t, matuiterm.Key('j'), evt)
	assert.Equal(t, 1, used)
}

func TestDispatch_EmitsCompleteAndKeepsLeftover(t *testing.T) {
	events := make(chan any, 8)
	term := &terminal{events: events}

	pending := term.dispatch([]byte("ab\x1b["))
	assert.Equal(t, []byte("\x1b["), pending)
	assert.Equal(t, matuiterm.Key('a'), <-events)
	assert.Equal(t, matuiterm.Key('b'), <-events)
	assert.Empty(t, events)

	// The continuation arrives on a later read.
	pending = term.dispatch(append(pending, 'A'))
	assert.Empty(t, pending)
	assert.Equal(t, matuiterm.KeyEvent{Code: matuiterm.KeyUp}, <-events)
}

func TestFlushEscape(t *testing.T) {
	events := make(chan any, 1)
	term := &terminal{events: events}

	pending := term.flushEscape([]byte{0x1b})
	assert.Empty(t, pending)
	assert.Equal(t, matuiterm.KeyEvent{Code: matuiterm.KeyEsc}, <-events)

	// Anything longer might still grow into a full sequence.
	pending = term.flushEscape([]byte("\x1b["))
	assert.Equal(t, []byte("\x1b["), pending)
	assert.Empty(t, events)
}
