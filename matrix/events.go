// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package matrix

import (
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/matui/message"
)

// The types in this file are what the façade pushes onto the application
// event channel. The loop consumes them with a type switch.

// Confirm announces a completed background action, like a finished save.
type Confirm struct {
	Header  string
	Message string
}

// Error surfaces a user-actionable failure.
type Error struct {
	Message string
}

// LoginRequired means no usable session was found on disk.
type LoginRequired struct{}

// LoginStarted means credentials were submitted and login is in flight.
type LoginStarted struct{}

// LoginComplete means the client is built and authenticated.
type LoginComplete struct{}

// SyncType says which kind of one-shot sync is running.
type SyncType int

const (
	// SyncInitial is a first sync with no token, after a fresh login.
	SyncInitial SyncType = iota
	// SyncLatest resumes from a persisted token.
	SyncLatest
)

func (st SyncType) String() string {
	if st == SyncInitial {
		return "initial"
	}
	return "latest"
}

// SyncStarted means the one-shot catch-up sync began.
type SyncStarted struct {
	Type SyncType
}

// SyncComplete means the one-shot sync finished and rooms are populated.
type SyncComplete struct{}

// ProgressStarted asks for a progress indicator, but only if the work
// takes longer than Delay milliseconds.
type ProgressStarted struct {
	Message string
	Delay   int64
}

// ProgressComplete dismisses the progress indicator.
type ProgressComplete struct{}

// Timeline carries one live room event.
type Timeline struct {
	Event *event.Event
}

// TimelineBatch carries one page of history with the cursor for the next
// page. An empty cursor means the start of history was reached.
type TimelineBatch struct {
	RoomID id.RoomID
	Events []*event.Event
	Cursor string
}

// Receipt carries a room's read-receipt update.
type Receipt struct {
	RoomID  id.RoomID
	Content *event.ReceiptEventContent
}

// Typing carries the currently-typing members of a room.
type Typing struct {
	RoomID  id.RoomID
	UserIDs []id.UserID
}

// RoomMember resolves one member profile requested on demand.
type RoomMember struct {
	RoomID id.RoomID
	Member message.Member
}

// Rooms carries the decorated room list for the picker, most recently
// active first.
type Rooms struct {
	Rooms []*DecoratedRoom
}

// RoomSelected asks the app to open a room, e.g. after a notification
// click.
type RoomSelected struct {
	RoomID id.RoomID
}

// VerificationStarted means SAS keys were exchanged and the user has to
// compare the emojis.
type VerificationStarted struct {
	TxnID  id.VerificationTransactionID
	Emojis []string
}

// VerificationCompleted means the verification finished successfully.
type VerificationCompleted struct{}

// RecoverNeeded means the account has secret storage set up and this
// device could be cross-signed with the recovery key or passphrase.
type RecoverNeeded struct{}
