// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package message

import (
	"strings"

	"maunium.net/go/mautrix/id"
)

// Member is a room member with whatever profile data has arrived so far.
type Member struct {
	ID          id.UserID
	DisplayName string
}

// Username is a user ID paired with a display name that may show up later
// than the messages it belongs to. Rendering falls back to the ID until the
// profile arrives.
type Username struct {
	ID          id.UserID
	DisplayName string
}

// NewUsername starts with only the ID known.
func NewUsername(userID id.UserID) Username {
	return Username{ID: userID}
}

// Update fills in the display name once the member profile is known.
func (u *Username) Update(name string) {
	u.DisplayName = name
}

// String renders the display name, or the full user ID before the profile
// has arrived.
func (u Username) String() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID.String()
}

// FirstName returns the first whitespace-separated token of the rendered
// name, used where space is tight.
func (u Username) FirstName() string {
	name := u.String()
	if idx := strings.IndexAny(name, " \t"); idx > 0 {
		return name[:idx]
	}
	return name
}
