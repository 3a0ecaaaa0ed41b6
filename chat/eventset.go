// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chat

import (
	"slices"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// EventSet keeps timeline events sorted by origin timestamp with the event
// ID as tiebreaker, deduplicating by ID. Sync delivery order is close to
// but not exactly timestamp order, and pagination overlaps live sync, so
// both properties matter.
type EventSet struct {
	events []*event.Event
	ids    map[id.EventID]struct{}
}

// NewEventSet makes an empty set.
func NewEventSet() *EventSet {
	return &EventSet{ids: make(map[id.EventID]struct{})}
}

func compareEvents(a, b *event.Event) int {
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	return strings.Compare(string(a.ID), string(b.ID))
}

// Insert adds an event in order. Returns false when the ID is already
// present, leaving the set unchanged.
func (s *EventSet) Insert(evt *event.Event) bool {
	if _, ok := s.ids[evt.ID]; ok {
		return false
	}
	s.ids[evt.ID] = struct{}{}
	idx, _ := slices.BinarySearchFunc(s.events, evt, compareEvents)
	s.events = slices.Insert(s.events, idx, evt)
	return true
}

// Contains reports whether the event ID is in the set.
func (s *EventSet) Contains(eventID id.EventID) bool {
	_, ok := s.ids[eventID]
	return ok
}

// List returns the events oldest first. The returned slice is shared, do
// not modify it.
func (s *EventSet) List() []*event.Event {
	return s.events
}

// Len returns the number of distinct events.
func (s *EventSet) Len() int {
	return len(s.events)
}
