// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	matuiterm "go.mau.fi/matui/term"
)

// focusReporting asks the terminal to send CSI I / CSI O on focus change.
const (
	focusReportingOn  = "\x1b[?1004h"
	focusReportingOff = "\x1b[?1004l"
)

const pollInterval = 100 * time.Millisecond

// terminal owns raw mode and the stdin reader. Park releases the tty to
// a spawned program (editor, viewer); the reader polls with a deadline
// so it never has a read pending while something else owns the tty.
type terminal struct {
	log     zerolog.Logger
	fd      int
	state   *term.State
	events  chan<- any
	parked  atomic.Bool
	redraws chan struct{}
}

func newTerminal(events chan<- any, log zerolog.Logger) (*terminal, error) {
	t := &terminal{
		log:     log.With().Str("component", "terminal").Logger(),
		fd:      int(os.Stdin.Fd()),
		events:  events,
		redraws: make(chan struct{}, 1),
	}
	state, err := term.MakeRaw(t.fd)
	if err != nil {
		return nil, fmt.Errorf("failed to enter raw mode: %w", err)
	}
	t.state = state
	fmt.Print(focusReportingOn)
	return t, nil
}

// Close restores the terminal.
func (t *terminal) Close() {
	fmt.Print(focusReportingOff)
	if err := term.Restore(t.fd, t.state); err != nil {
		t.log.Warn().Err(err).Msg("Failed to restore terminal")
	}
}

func (t *terminal) Park() {
	t.parked.Store(true)
	fmt.Print(focusReportingOff)
	if err := term.Restore(t.fd, t.state); err != nil {
		t.log.Warn().Err(err).Msg("Failed to restore terminal for spawn")
	}
}

func (t *terminal) Unpark() {
	state, err := term.MakeRaw(t.fd)
	if err != nil {
		t.log.Error().Err(err).Msg("Failed to re-enter raw mode")
	} else {
		t.state = state
	}
	fmt.Print(focusReportingOn)
	t.parked.Store(false)
}

// Redraw signals the renderer. The channel holds one pending repaint,
// further requests coalesce.
func (t *terminal) Redraw() {
	select {
	case t.redraws <- struct{}{}:
	default:
	}
}

// Redraws is the repaint signal stream for a front-end.
func (t *terminal) Redraws() <-chan struct{} {
	return t.redraws
}

func (t *terminal) Size() (int, int) {
	width, height, err := term.GetSize(t.fd)
	if err != nil {
		return 0, 0
	}
	return width, height
}

// readKeys decodes stdin into key and focus events until stdin closes.
// Meant to run on its own goroutine.
func (t *terminal) readKeys() {
	var pending []byte
	buf := make([]byte, 64)
	for {
		if t.parked.Load() {
			time.Sleep(pollInterval)
			continue
		}
		if err := os.Stdin.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			// Without deadlines a read would block forever and never
			// notice parking. Hand off to the blocking reader.
			t.log.Warn().Err(err).Msg("Stdin does not support read deadlines, switching to blocking reads")
			t.readKeysBlocking(pending)
			return
		}
		n, err := os.Stdin.Read(buf)
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return
		}
		pending = t.dispatch(append(pending, buf[:n]...))
		pending = t.flushEscape(pending)
	}
}

// readKeysBlocking reads stdin without deadlines, with the read itself on
// a separate goroutine so parking still gets polled. In this mode a read
// stays pending while a spawned program owns the tty, so keystrokes meant
// for it can land here; dropping whatever arrives while parked is the
// best this path can do.
func (t *terminal) readKeysBlocking(pending []byte) {
	chunks := make(chan []byte)
	go func() {
		defer close(chunks)
		for {
			buf := make([]byte, 64)
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				chunks <- buf[:n]
			}
			if err != nil {
				return
			}
		}
	}()
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if t.parked.Load() {
				pending = pending[:0]
				continue
			}
			pending = t.dispatch(append(pending, chunk...))
		case <-time.After(pollInterval):
			if !t.parked.Load() {
				pending = t.flushEscape(pending)
			}
		}
	}
}

// dispatch emits every complete sequence at the head of pending and
// returns the leftover bytes.
func (t *terminal) dispatch(pending []byte) []byte {
	for len(pending) > 0 {
		evt, used := parseKey(pending)
		if used == 0 {
			break
		}
		pending = pending[used:]
		if evt != nil {
			t.events <- evt
		}
	}
	return pending
}

// A lone escape never gets a continuation; flush it rather than wait
// for bytes that aren't coming.
func (t *terminal) flushEscape(pending []byte) []byte {
	if len(pending) == 1 && pending[0] == 0x1b {
		t.events <- matuiterm.KeyEvent{Code: matuiterm.KeyEsc}
		return pending[:0]
	}
	return pending
}

// parseKey decodes one key press or focus report from the head of buf,
// returning the event and how many bytes it consumed. Zero consumed
// means the buffer holds an incomplete sequence.
func parseKey(buf []byte) (any, int) {
	switch b := buf[0]; {
	case b == 0x1b:
		return parseEscape(buf)
	case b == '\r', b == '\n':
		return matuiterm.KeyEvent{Code: matuiterm.KeyEnter}, 1
	case b == '\t':
		return matuiterm.KeyEvent{Code: matuiterm.KeyTab}, 1
	case b == 0x7f, b == 0x08:
		return matuiterm.KeyEvent{Code: matuiterm.KeyBackspace}, 1
	case b < 0x20:
		// Ctrl-A through Ctrl-Z arrive as 0x01..0x1a.
		return matuiterm.CtrlKey(rune('a' + b - 1)), 1
	case b < utf8.RuneSelf:
		return matuiterm.Key(rune(b)), 1
	default:
		if !utf8.FullRune(buf) {
			return nil, 0
		}
		r, size := utf8.DecodeRune(buf)
		if r == utf8.RuneError {
			return nil, size
		}
		return matuiterm.Key(r), size
	}
}

var escapeSequences = map[byte]any{
	'A': matuiterm.KeyEvent{Code: matuiterm.KeyUp},
	'B': matuiterm.KeyEvent{Code: matuiterm.KeyDown},
	'C': matuiterm.KeyEvent{Code: matuiterm.KeyRight},
	'D': matuiterm.KeyEvent{Code: matuiterm.KeyLeft},
	'H': matuiterm.KeyEvent{Code: matuiterm.KeyHome},
	'F': matuiterm.KeyEvent{Code: matuiterm.KeyEnd},
	'I': matuiterm.FocusEvent{},
	'O': matuiterm.BlurEvent{},
}

var tildeSequences = map[byte]any{
	'3': matuiterm.KeyEvent{Code: matuiterm.KeyDelete},
	'5': matuiterm.KeyEvent{Code: matuiterm.KeyPageUp},
	'6': matuiterm.KeyEvent{Code: matuiterm.KeyPageDown},
}

func parseEscape(buf []byte) (any, int) {
	if len(buf) < 2 {
		return nil, 0
	}
	if buf[1] != '[' && buf[1] != 'O' {
		// Escape followed by an unrelated key.
		return matuiterm.KeyEvent{Code: matuiterm.KeyEsc}, 1
	}
	if len(buf) < 3 {
		return nil, 0
	}
	final := buf[2]
	if evt, ok := escapeSequences[final]; ok {
		return evt, 3
	}
	if evt, ok := tildeSequences[final]; ok {
		if len(buf) < 4 {
			return nil, 0
		}
		if buf[3] == '~' {
			return evt, 4
		}
		return nil, 4
	}
	// Unknown CSI, drop the introducer and resync.
	return nil, 3
}
