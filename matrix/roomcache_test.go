// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package matrix

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

func cacheEvent(room id.RoomID, sender id.UserID, body string, ts int64) *event.Event {
	return &event.Event{
		ID:        id.EventID(fmt.Sprintf("$%s-%d", room, ts)),
		RoomID:    room,
		Sender:    sender,
		Type:      event.EventMessage,
		Timestamp: ts,
		Content: event.Content{
			Parsed: &event.MessageEventContent{
				MsgType: event.MsgText,
				Body:    body,
			},
		},
	}
}

func TestRoomCache_PreviewTracksNewest(t *testing.T) {
	m, _ := newTestMatrix(t)
	cache := m.cache
	ctx := context.Background()

	cache.TimelineEvent(ctx, cacheEvent("!a:x", "@alice:x", "first", 100))
	cache.TimelineEvent(ctx, cacheEvent("!a:x", "@alice:x", "second", 200))

	rooms := cache.Rooms()
	assert.Len(t, rooms, 1)
	assert.Equal(t, "second", rooms[0].LastMessage)
	assert.Equal(t, int64(200), rooms[0].LastTS)

	// Out of order events do not regress the preview.
	cache.TimelineEvent(ctx, cacheEvent("!a:x", "@alice:x", "stale", 150))
	assert.Equal(t, "second", cache.Rooms()[0].LastMessage)
}

func TestRoomCache_UnreadCounting(t *testing.T) {
	m, _ := newTestMatrix(t)
	cache := m.cache
	ctx := context.Background()

	cache.TimelineEvent(ctx, cacheEvent("!a:x", "@alice:x", "one", 100))
	cache.TimelineEvent(ctx, cacheEvent("!a:x", "@alice:x", "two", 200))

	room := cache.Rooms()[0]
	assert.Equal(t, 2, room.Unread())
	assert.False(t, room.Highlighted())

	cache.Visit("!a:x")
	room = cache.Rooms()[0]
	assert.True(t, room.Visited)
	assert.Zero(t, room.Unread())

	cache.TimelineEvent(ctx, cacheEvent("!a:x", "@alice:x", "three", 300))
	assert.Equal(t, 1, cache.Rooms()[0].Unread())
}

func TestRoomCache_HighlightOnMention(t *testing.T) {
	m, _ := newTestMatrix(t)
	cache := m.cache
	ctx := context.Background()

	evt := cacheEvent("!a:x", "@alice:x", "hey you", 100)
	evt.Content.Parsed.(*event.MessageEventContent).Mentions = &event.Mentions{
		UserIDs: []id.UserID{"@me:example.com"},
	}
	cache.TimelineEvent(ctx, evt)
	assert.True(t, cache.Rooms()[0].Highlighted())

	cache.Visit("!a:x")
	assert.False(t, cache.Rooms()[0].Highlighted())
}

func TestRoomCache_SortByActivity(t *testing.T) {
	m, _ := newTestMatrix(t)
	cache := m.cache
	ctx := context.Background()

	cache.TimelineEvent(ctx, cacheEvent("!old:x", "@alice:x", "old", 100))
	cache.TimelineEvent(ctx, cacheEvent("!new:x", "@alice:x", "new", 200))

	rooms := cache.Rooms()
	assert.Equal(t, id.RoomID("!new:x"), rooms[0].ID)
	assert.Equal(t, id.RoomID("!old:x"), rooms[1].ID)
}

func TestDecoratedRoom_Matches(t *testing.T) {
	room := &DecoratedRoom{Name: "Go Nuts"}
	assert.True(t, room.Matches("nuts"))
	assert.True(t, room.Matches("GO"))
	assert.True(t, room.Matches(""))
	assert.False(t, room.Matches("rust"))
}

func readReceipt(room id.RoomID, reader id.UserID, ts time.Time) *event.Event {
	content := event.ReceiptEventContent{
		"$target": event.Receipts{
			event.ReceiptTypeRead: event.UserReceipts{
				reader: event.ReadReceipt{Timestamp: ts},
			},
		},
	}
	return &event.Event{
		Type:    event.EphemeralEventReceipt,
		RoomID:  room,
		Content: event.Content{Parsed: &content},
	}
}

func TestRoomCache_OwnReceiptClearsUnread(t *testing.T) {
	m, events := newTestMatrix(t)
	ctx := context.Background()

	m.cache.TimelineEvent(ctx, cacheEvent("!a:x", "@alice:x", "one", 100))
	m.cache.TimelineEvent(ctx, cacheEvent("!a:x", "@alice:x", "two", 200))
	assert.Equal(t, 2, m.cache.Rooms()[0].Unread())

	// Someone else reading the room changes nothing.
	m.receiptEvent(ctx, readReceipt("!a:x", "@alice:x", time.UnixMilli(200)))
	assert.Equal(t, 2, m.cache.Rooms()[0].Unread())

	// The local user reading on another device marks it visited.
	m.receiptEvent(ctx, readReceipt("!a:x", "@me:example.com", time.UnixMilli(200)))
	room := m.cache.Rooms()[0]
	assert.True(t, room.Visited)
	assert.Zero(t, room.Unread())

	// Both receipts still reach the app loop.
	assert.IsType(t, Receipt{}, <-events)
	assert.IsType(t, Receipt{}, <-events)
}

func TestApplyPreview_SkipsNonDisplayable(t *testing.T) {
	room := &DecoratedRoom{ID: "!a:x"}
	evt := cacheEvent("!a:x", "@alice:x", "", 100)
	evt.Content.Parsed = &event.ReactionEventContent{}
	evt.Type = event.EventReaction

	assert.False(t, applyPreview(room, evt))
	assert.Empty(t, room.LastMessage)
}
