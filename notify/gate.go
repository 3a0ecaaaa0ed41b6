// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package notify

import (
	"maunium.net/go/mautrix/id"
)

// gateInput is everything the notification decision depends on.
type gateInput struct {
	Sender  id.UserID
	Me      id.UserID
	RoomID  id.RoomID
	Muted   bool
	Focused bool
	Current id.RoomID
}

// shouldNotify decides whether an incoming message deserves a desktop
// notification. Own messages never do, muted rooms never do, and the
// room the user is looking at right now doesn't either.
func shouldNotify(in gateInput) bool {
	if in.Sender == in.Me {
		return false
	}
	if in.Muted {
		return false
	}
	if in.Focused && in.RoomID == in.Current {
		return false
	}
	return true
}
