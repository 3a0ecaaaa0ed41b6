// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package app runs the application event loop: one goroutine consuming
// the event channel, routing keys between the active popup and the open
// chat, and turning backend events into state changes.
package app

import (
	"time"

	"github.com/rs/zerolog"

	"maunium.net/go/mautrix/id"

	"go.mau.fi/matui/chat"
	"go.mau.fi/matui/matrix"
	"go.mau.fi/matui/settings"
	"go.mau.fi/matui/spawn"
	"go.mau.fi/matui/term"
)

// Backend is the slice of the Matrix façade the loop drives. Everything
// is fire-and-forget; results come back as events on the channel.
type Backend interface {
	chat.Commander

	Init()
	Login(username, password string)
	Recover(key string)
	Sync()
	FetchRooms()
	ConfirmVerification(txnID id.VerificationTransactionID)
	MismatchedVerification(txnID id.VerificationTransactionID)
	RoomVisitEvent(roomID id.RoomID)
	FocusEvent()
	BlurEvent()
	Me() id.UserID
}

// Terminal is what the loop needs from the terminal layer: parking raw
// mode around spawned programs and requesting repaints.
type Terminal interface {
	Park()
	Unpark()
	Redraw()
	Size() (width, height int)
}

// App is the loop state. It is only touched from the Run goroutine.
type App struct {
	log      zerolog.Logger
	backend  Backend
	settings *settings.Store
	termio   Terminal
	events   chan any

	chat  *chat.Chat
	popup Popup
	quit  bool
}

func NewApp(events chan any, backend Backend, cfg *settings.Store, termio Terminal, log zerolog.Logger) *App {
	return &App{
		log:      log.With().Str("component", "app").Logger(),
		backend:  backend,
		settings: cfg,
		termio:   termio,
		events:   events,
	}
}

// Chat returns the open chat, or nil before a room is selected.
func (a *App) Chat() *chat.Chat {
	return a.chat
}

// Popup returns the active popup, or nil.
func (a *App) Popup() Popup {
	return a.popup
}

// Run consumes events until quit. The channel is owned by the caller and
// stays open; Run just stops reading.
func (a *App) Run() {
	a.backend.Init()
	for evt := range a.events {
		a.Handle(evt)
		if a.quit {
			return
		}
		a.termio.Redraw()
	}
}

// Handle applies one event to the app state.
func (a *App) Handle(evt any) {
	switch evt := evt.(type) {
	case term.KeyEvent:
		a.handleKey(evt)
	case term.TickEvent:
		if progress, ok := a.popup.(*ProgressPopup); ok {
			progress.Tick(time.Unix(evt.Timestamp, 0))
		}
	case term.RedrawEvent:
		// Redraw happens after every event anyway.
	case term.FocusEvent:
		a.backend.FocusEvent()
		if a.chat != nil {
			a.chat.Focus()
		}
	case term.BlurEvent:
		a.backend.BlurEvent()
		if a.chat != nil {
			a.chat.Blur()
		}

	case matrix.LoginRequired:
		a.popup = &SigninPopup{}
	case matrix.LoginStarted:
		a.popup = NewProgressPopup("Logging in", 0)
	case matrix.LoginComplete:
		a.closeProgress()
	case matrix.SyncStarted:
		message := "Syncing"
		if evt.Type == matrix.SyncInitial {
			message = "Performing initial sync, this may take a while"
		}
		a.popup = NewProgressPopup(message, 0)
	case matrix.SyncComplete:
		a.closeProgress()
		a.backend.Sync()
		if a.chat == nil {
			a.openRoomPicker()
		}
	case matrix.ProgressStarted:
		if progress, ok := a.popup.(*ProgressPopup); ok {
			progress.Message = evt.Message
		} else if a.popup == nil {
			a.popup = NewProgressPopup(evt.Message, evt.Delay)
		}
	case matrix.ProgressComplete:
		a.closeProgress()

	case matrix.Error:
		if a.chat != nil {
			a.chat.FetchFailed()
		}
		a.popup = &ErrorPopup{Message: evt.Message}
	case matrix.Confirm:
		a.popup = &ConfirmPopup{Header: evt.Header, Message: evt.Message, Yes: "Ok"}

	case matrix.Timeline:
		if a.chat != nil {
			a.chat.TimelineEvent(evt.Event)
		}
	case matrix.TimelineBatch:
		if a.chat != nil {
			a.chat.Batch(evt.RoomID, evt.Events, evt.Cursor)
		}
	case matrix.Receipt:
		if a.chat != nil {
			a.chat.Receipt(evt.RoomID, evt.Content)
		}
	case matrix.Typing:
		if a.chat != nil {
			a.chat.SetTyping(evt.RoomID, evt.UserIDs)
		}
	case matrix.RoomMember:
		if a.chat != nil {
			a.chat.RoomMember(evt.RoomID, evt.Member)
		}

	case matrix.Rooms:
		if picker, ok := a.popup.(*RoomsPopup); ok {
			picker.SetRooms(evt.Rooms)
		}
	case matrix.RoomSelected:
		a.selectRoom(evt.RoomID)

	case matrix.VerificationStarted:
		a.popup = &VerifyPopup{TxnID: evt.TxnID, Emojis: evt.Emojis}
	case matrix.VerificationCompleted:
		a.popup = &ConfirmPopup{Header: "Verified", Message: "This device is now verified.", Yes: "Ok"}
	case matrix.RecoverNeeded:
		// Emoji verification may already be showing, it wins.
		if a.popup == nil {
			a.popup = &RecoverPopup{}
		}
	}
}

func (a *App) handleKey(k term.KeyEvent) {
	if k.IsCtrl('c') {
		a.quit = true
		return
	}
	if a.popup != nil {
		result := a.popup.HandleKey(k)
		if result.Close {
			a.popup = nil
		}
		if result.Apply != nil {
			result.Apply(a)
		}
		return
	}

	switch {
	case k.Is(' '):
		a.openRoomPicker()
	case k.Is('q'):
		a.quit = true
	case k.Is('?'):
		a.popup = &HelpPopup{}
	case k.Is('/'):
		if a.chat != nil {
			a.popup = &SearchPopup{}
		}
	default:
		if a.chat != nil {
			a.applyChatResult(a.chat.HandleKey(k))
		}
	}
}

// applyChatResult turns popup requests from the chat into popups.
func (a *App) applyChatResult(result chat.Result) {
	switch {
	case result.Err != nil:
		a.popup = &ErrorPopup{Message: result.Err.Error()}
	case result.Confirm != nil:
		a.popup = &ConfirmPopup{
			Header:  result.Confirm.Header,
			Message: result.Confirm.Message,
			Yes:     result.Confirm.Yes,
			No:      result.Confirm.No,
			OnYes:   result.Confirm.OnYes,
		}
	case result.React != nil:
		a.popup = &ReactPopup{Options: result.React.Options, OnPick: result.React.OnPick}
	}
}

func (a *App) openRoomPicker() {
	a.popup = NewRoomsPopup(nil)
	a.backend.FetchRooms()
}

func (a *App) selectRoom(roomID id.RoomID) {
	if a.chat != nil && a.chat.RoomID() == roomID {
		return
	}
	a.chat = chat.NewChat(roomID, a.backend.Me(), a.backend, chatEnv{a}, a.settings, a.log)
	if width, height := a.termio.Size(); width > 0 {
		a.chat.SetViewport(width, height)
	}
	a.backend.RoomVisitEvent(roomID)
}

// closeProgress dismisses the popup only if it is a progress spinner, so
// a completion event can't eat an unrelated popup.
func (a *App) closeProgress() {
	if _, ok := a.popup.(*ProgressPopup); ok {
		a.popup = nil
	}
}

// chatEnv adapts the app to the chat's environment interface.
type chatEnv struct {
	a *App
}

func (e chatEnv) Park()   { e.a.termio.Park() }
func (e chatEnv) Unpark() { e.a.termio.Unpark() }
func (e chatEnv) Redraw() { e.a.termio.Redraw() }
func (e chatEnv) PickFiles() ([]string, error) {
	return spawn.PickFiles()
}
