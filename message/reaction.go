// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package message

import (
	"fmt"

	"go.mau.fi/util/variationselector"

	"maunium.net/go/mautrix/id"
)

// ReactionEvent is one user's vote on a reaction key.
type ReactionEvent struct {
	ID     id.EventID
	Sender Username
}

// Reaction is one reaction key on a message with everyone who sent it.
// Keys are compared fully qualified so "❤" and "❤️" collapse together.
type Reaction struct {
	Key    string
	Events []*ReactionEvent
}

// NewReaction wraps a single reaction event.
func NewReaction(key string, eventID id.EventID, sender id.UserID) *Reaction {
	return &Reaction{
		Key: variationselector.FullyQualify(key),
		Events: []*ReactionEvent{{
			ID:     eventID,
			Sender: NewUsername(sender),
		}},
	}
}

// MergeReactions collapses duplicate keys, preserving first-seen key order
// and event order within a key.
func MergeReactions(reactions []*Reaction) []*Reaction {
	var merged []*Reaction
	byKey := make(map[string]*Reaction)
	for _, reaction := range reactions {
		key := variationselector.FullyQualify(reaction.Key)
		if existing, ok := byKey[key]; ok {
			existing.Events = append(existing.Events, reaction.Events...)
			continue
		}
		reaction.Key = key
		byKey[key] = reaction
		merged = append(merged, reaction)
	}
	return merged
}

// SentBy returns the event ID of the given user's vote, if any.
func (r *Reaction) SentBy(userID id.UserID) (id.EventID, bool) {
	for _, evt := range r.Events {
		if evt.Sender.ID == userID {
			return evt.ID, true
		}
	}
	return "", false
}

// Display renders the key with its count when more than one user reacted.
func (r *Reaction) Display() string {
	if len(r.Events) > 1 {
		return fmt.Sprintf("%s %d", PadEmoji(r.Key), len(r.Events))
	}
	return PadEmoji(r.Key)
}

// PrettySenders names everyone who sent this reaction.
func (r *Reaction) PrettySenders() string {
	names := make([]string, len(r.Events))
	for i, evt := range r.Events {
		names[i] = evt.Sender.FirstName()
	}
	return PrettyList(names)
}

// MergeTreeReactions coalesces reaction keys on the message and every
// reply under it.
func (m *Message) MergeTreeReactions() {
	m.Reactions = MergeReactions(m.Reactions)
	for _, reply := range m.Replies {
		reply.MergeTreeReactions()
	}
}
