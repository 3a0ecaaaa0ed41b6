// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package app

import (
	"strings"
	"time"

	"maunium.net/go/mautrix/id"

	"go.mau.fi/matui/matrix"
	"go.mau.fi/matui/message"
	"go.mau.fi/matui/term"
)

// Popup is a modal that eats all key input while it is up. HandleKey
// returns what should happen to the popup and, optionally, a mutation to
// run against the app after the popup is done with the key.
type Popup interface {
	HandleKey(k term.KeyEvent) PopupResult
}

// PopupResult is the outcome of one key press inside a popup.
type PopupResult struct {
	Close bool
	Apply func(a *App)
}

var (
	popupStay  = PopupResult{}
	popupClose = PopupResult{Close: true}
)

// ConfirmPopup asks a yes/no question. With a nil OnYes it is a plain
// acknowledgement box.
type ConfirmPopup struct {
	Header  string
	Message string
	Yes     string
	No      string
	OnYes   func()
}

func (p *ConfirmPopup) HandleKey(k term.KeyEvent) PopupResult {
	switch {
	case k.Is('y'), k.Code == term.KeyEnter:
		if p.OnYes != nil {
			p.OnYes()
		}
		return popupClose
	case k.Is('n'), k.Code == term.KeyEsc:
		return popupClose
	}
	return popupStay
}

// ErrorPopup shows one error until any key is pressed.
type ErrorPopup struct {
	Message string
}

func (p *ErrorPopup) HandleKey(term.KeyEvent) PopupResult {
	return popupClose
}

// HelpPopup lists the key bindings until any key is pressed.
type HelpPopup struct{}

func (p *HelpPopup) HandleKey(term.KeyEvent) PopupResult {
	return popupClose
}

// ProgressPopup is a spinner for a background task. It stays invisible
// until the task has run longer than the delay, so fast operations never
// flash a popup. It swallows keys but acts on none.
type ProgressPopup struct {
	Message string
	since   time.Time
	delay   time.Duration
	visible bool
}

func NewProgressPopup(message string, delayMS int64) *ProgressPopup {
	return &ProgressPopup{
		Message: message,
		since:   time.Now(),
		delay:   time.Duration(delayMS) * time.Millisecond,
	}
}

// Tick advances the delay gate. Reports whether visibility changed.
func (p *ProgressPopup) Tick(now time.Time) bool {
	if !p.visible && now.Sub(p.since) >= p.delay {
		p.visible = true
		return true
	}
	return false
}

func (p *ProgressPopup) Visible() bool {
	return p.visible
}

func (p *ProgressPopup) HandleKey(term.KeyEvent) PopupResult {
	return popupStay
}

// SigninPopup collects the username and password.
type SigninPopup struct {
	Username strings.Builder
	Password strings.Builder
	// OnPassword is true while the password field has focus.
	OnPassword bool
}

func (p *SigninPopup) HandleKey(k term.KeyEvent) PopupResult {
	field := &p.Username
	if p.OnPassword {
		field = &p.Password
	}
	switch k.Code {
	case term.KeyEnter:
		if !p.OnPassword {
			p.OnPassword = true
			return popupStay
		}
		username := p.Username.String()
		password := p.Password.String()
		if username == "" || password == "" {
			return popupStay
		}
		return PopupResult{Close: true, Apply: func(a *App) {
			a.backend.Login(username, password)
		}}
	case term.KeyTab:
		p.OnPassword = !p.OnPassword
		return popupStay
	case term.KeyBackspace:
		popRune(field)
		return popupStay
	case term.KeyChar:
		if !k.Ctrl {
			field.WriteRune(k.Char)
		}
		return popupStay
	}
	return popupStay
}

// RecoverPopup collects the account's recovery key or passphrase so
// cross-signing keys can be imported from secret storage.
type RecoverPopup struct {
	Input strings.Builder
}

func (p *RecoverPopup) HandleKey(k term.KeyEvent) PopupResult {
	switch k.Code {
	case term.KeyEsc:
		return popupClose
	case term.KeyEnter:
		input := p.Input.String()
		if input == "" {
			return popupStay
		}
		return PopupResult{Close: true, Apply: func(a *App) {
			a.backend.Recover(input)
		}}
	case term.KeyBackspace:
		popRune(&p.Input)
	case term.KeyChar:
		if !k.Ctrl {
			p.Input.WriteRune(k.Char)
		}
	}
	return popupStay
}

// RoomsPopup is the fuzzy room picker.
type RoomsPopup struct {
	rooms    []*matrix.DecoratedRoom
	Filter   strings.Builder
	Selected int
}

func NewRoomsPopup(rooms []*matrix.DecoratedRoom) *RoomsPopup {
	return &RoomsPopup{rooms: rooms}
}

// SetRooms replaces the list when a fresh fetch lands while the picker
// is open.
func (p *RoomsPopup) SetRooms(rooms []*matrix.DecoratedRoom) {
	p.rooms = rooms
	p.clamp()
}

// Visible returns the rooms that match the current filter.
func (p *RoomsPopup) Visible() []*matrix.DecoratedRoom {
	filter := p.Filter.String()
	if filter == "" {
		return p.rooms
	}
	var out []*matrix.DecoratedRoom
	for _, room := range p.rooms {
		if room.Matches(filter) {
			out = append(out, room)
		}
	}
	return out
}

func (p *RoomsPopup) clamp() {
	if max := len(p.Visible()) - 1; p.Selected > max {
		p.Selected = max
	}
	if p.Selected < 0 {
		p.Selected = 0
	}
}

func (p *RoomsPopup) HandleKey(k term.KeyEvent) PopupResult {
	switch {
	case k.Code == term.KeyEsc:
		return popupClose
	case k.Code == term.KeyEnter:
		visible := p.Visible()
		if p.Selected >= len(visible) {
			return popupStay
		}
		roomID := visible[p.Selected].ID
		return PopupResult{Close: true, Apply: func(a *App) {
			a.selectRoom(roomID)
		}}
	case k.Code == term.KeyDown, k.IsCtrl('n'), k.IsCtrl('j'):
		p.Selected++
		p.clamp()
	case k.Code == term.KeyUp, k.IsCtrl('p'), k.IsCtrl('k'):
		p.Selected--
		p.clamp()
	case k.Code == term.KeyBackspace:
		popRune(&p.Filter)
		p.clamp()
	case k.Code == term.KeyChar && !k.Ctrl:
		p.Filter.WriteRune(k.Char)
		p.Selected = 0
		p.clamp()
	}
	return popupStay
}

// SearchPopup collects a search term for the open chat.
type SearchPopup struct {
	Term strings.Builder
}

func (p *SearchPopup) HandleKey(k term.KeyEvent) PopupResult {
	switch k.Code {
	case term.KeyEsc:
		return PopupResult{Close: true, Apply: func(a *App) {
			if a.chat != nil {
				a.chat.SetSearch("")
			}
		}}
	case term.KeyEnter:
		pattern := p.Term.String()
		return PopupResult{Close: true, Apply: func(a *App) {
			if a.chat != nil {
				a.chat.SetSearch(pattern)
			}
		}}
	case term.KeyBackspace:
		popRune(&p.Term)
	case term.KeyChar:
		if !k.Ctrl {
			p.Term.WriteRune(k.Char)
		}
	}
	return popupStay
}

// ReactPopup picks one reaction key from a list.
type ReactPopup struct {
	Options  []string
	Selected int
	OnPick   func(key string)
}

func (p *ReactPopup) HandleKey(k term.KeyEvent) PopupResult {
	switch {
	case k.Code == term.KeyEsc:
		return popupClose
	case k.Code == term.KeyEnter:
		if p.Selected < len(p.Options) && p.OnPick != nil {
			p.OnPick(p.Options[p.Selected])
		}
		return popupClose
	case k.Code == term.KeyRight, k.Is('l'), k.Code == term.KeyDown, k.Is('j'):
		if p.Selected < len(p.Options)-1 {
			p.Selected++
		}
	case k.Code == term.KeyLeft, k.Is('h'), k.Code == term.KeyUp, k.Is('k'):
		if p.Selected > 0 {
			p.Selected--
		}
	}
	return popupStay
}

// VerifyPopup shows the SAS emojis and asks whether they match the other
// device.
type VerifyPopup struct {
	TxnID  id.VerificationTransactionID
	Emojis []string
}

// Row renders the emojis padded to even terminal cells.
func (p *VerifyPopup) Row() string {
	return message.FormatEmojis(p.Emojis)
}

func (p *VerifyPopup) HandleKey(k term.KeyEvent) PopupResult {
	switch {
	case k.Is('y'), k.Code == term.KeyEnter:
		txnID := p.TxnID
		return PopupResult{Close: true, Apply: func(a *App) {
			a.backend.ConfirmVerification(txnID)
		}}
	case k.Is('n'), k.Code == term.KeyEsc:
		txnID := p.TxnID
		return PopupResult{Close: true, Apply: func(a *App) {
			a.backend.MismatchedVerification(txnID)
		}}
	}
	return popupStay
}

// popRune drops the last rune from a builder. Builders have no delete,
// so the content is rebuilt.
func popRune(b *strings.Builder) {
	s := b.String()
	if s == "" {
		return
	}
	runes := []rune(s)
	b.Reset()
	b.WriteString(string(runes[:len(runes)-1]))
}
