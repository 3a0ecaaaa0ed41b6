// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package term defines the events that flow between the terminal and the
// application loop. The escape-sequence decoder that produces key events
// lives in the binary; everything else only consumes these types.
package term

// KeyCode identifies a non-character key.
type KeyCode int

const (
	KeyChar KeyCode = iota
	KeyEnter
	KeyEsc
	KeyBackspace
	KeyTab
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
	KeyPageUp
	KeyPageDown
	KeyDelete
)

// KeyEvent is a single decoded key press.
type KeyEvent struct {
	Code KeyCode
	Char rune
	Ctrl bool
}

// Key makes a plain character press.
func Key(ch rune) KeyEvent {
	return KeyEvent{Code: KeyChar, Char: ch}
}

// CtrlKey makes a control-modified character press.
func CtrlKey(ch rune) KeyEvent {
	return KeyEvent{Code: KeyChar, Char: ch, Ctrl: true}
}

// Is reports whether the event is the given unmodified character.
func (k KeyEvent) Is(ch rune) bool {
	return k.Code == KeyChar && !k.Ctrl && k.Char == ch
}

// IsCtrl reports whether the event is the given control-modified character.
func (k KeyEvent) IsCtrl(ch rune) bool {
	return k.Code == KeyChar && k.Ctrl && k.Char == ch
}

// TickEvent fires once a second to drive animations and timestamps.
type TickEvent struct {
	Timestamp int64
}

// RedrawEvent requests a repaint with no state change.
type RedrawEvent struct{}

// FocusEvent means the terminal window gained focus.
type FocusEvent struct{}

// BlurEvent means the terminal window lost focus, or that it has been idle
// long enough that it should be treated as unfocused.
type BlurEvent struct{}
