// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package matrix

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/matui/message"
)

const populateConcurrency = 8

// DecoratedRoom is a joined room with everything the room picker shows:
// a resolved display name, a last-message preview and unread counters.
type DecoratedRoom struct {
	ID      id.RoomID
	Name    string
	Visited bool

	LastMessage string
	LastSender  message.Username
	LastTS      int64

	unread    int
	highlight bool
}

// Unread returns the number of messages since the room was last visited.
func (r *DecoratedRoom) Unread() int {
	if r.Visited {
		return 0
	}
	return r.unread
}

// Highlighted reports whether any unread message mentioned the user.
func (r *DecoratedRoom) Highlighted() bool {
	return !r.Visited && r.highlight
}

// Matches does a case-insensitive substring match against the room name,
// used by the picker filter.
func (r *DecoratedRoom) Matches(pattern string) bool {
	return strings.Contains(strings.ToLower(r.Name), strings.ToLower(pattern))
}

// RoomCache keeps decorated rooms up to date from the sync stream so the
// picker opens instantly.
type RoomCache struct {
	m *Matrix

	mu    sync.Mutex
	rooms map[id.RoomID]*DecoratedRoom
}

func NewRoomCache(m *Matrix) *RoomCache {
	return &RoomCache{m: m, rooms: make(map[id.RoomID]*DecoratedRoom)}
}

// Populate builds the cache from scratch after the catch-up sync. Rooms
// decorate in parallel, name resolution and previews each cost a couple
// of requests.
func (c *RoomCache) Populate(ctx context.Context) {
	resp, err := c.m.client.JoinedRooms(ctx)
	if err != nil {
		c.m.log.Err(err).Msg("Failed to list joined rooms")
		return
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(populateConcurrency)
	for _, roomID := range resp.JoinedRooms {
		group.Go(func() error {
			room := c.decorate(gctx, roomID)
			c.mu.Lock()
			c.rooms[roomID] = room
			c.mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
}

func (c *RoomCache) decorate(ctx context.Context, roomID id.RoomID) *DecoratedRoom {
	room := &DecoratedRoom{ID: roomID}
	room.Name = c.displayName(ctx, roomID)
	c.preview(ctx, room)
	return room
}

// displayName resolves a room name the way clients are told to: explicit
// name, then canonical alias, then the other members' names.
func (c *RoomCache) displayName(ctx context.Context, roomID id.RoomID) string {
	var name event.RoomNameEventContent
	err := c.m.client.StateEvent(ctx, roomID, event.StateRoomName, "", &name)
	if err == nil && name.Name != "" {
		return name.Name
	}

	var alias event.CanonicalAliasEventContent
	err = c.m.client.StateEvent(ctx, roomID, event.StateCanonicalAlias, "", &alias)
	if err == nil && alias.Alias != "" {
		return alias.Alias.String()
	}

	members, err := c.m.client.JoinedMembers(ctx, roomID)
	if err != nil {
		return roomID.String()
	}
	var names []string
	for userID, member := range members.Joined {
		if userID == c.m.Me() {
			continue
		}
		if member.DisplayName != "" {
			names = append(names, member.DisplayName)
		} else {
			names = append(names, userID.String())
		}
	}
	if len(names) == 0 {
		return roomID.String()
	}
	sort.Strings(names)
	return message.PrettyList(message.LimitList(names, 3))
}

// preview scans backwards for the newest renderable message.
func (c *RoomCache) preview(ctx context.Context, room *DecoratedRoom) {
	resp, err := c.m.client.Messages(ctx, room.ID, "", "", mautrix.DirectionBackward, nil, 16)
	if err != nil {
		c.m.log.Debug().Err(err).Stringer("room_id", room.ID).Msg("Failed to fetch room preview")
		return
	}
	for _, evt := range resp.Chunk {
		if applyPreview(room, evt) {
			return
		}
	}
}

// applyPreview fills the preview fields from an event if it is newer than
// the current preview and renderable. Reports whether it was applied.
func applyPreview(room *DecoratedRoom, evt *event.Event) bool {
	if evt.Timestamp < room.LastTS {
		return false
	}
	_ = evt.Content.ParseRaw(evt.Type)
	msg := message.NewMessage(evt, true)
	if msg == nil {
		// Unrecognized msgtypes still make a usable preview if the raw
		// content carries a body.
		body := gjson.GetBytes(evt.Content.VeryRaw, "body")
		if evt.Type != event.EventMessage || !body.Exists() {
			return false
		}
		room.LastMessage = body.Str
		room.LastSender = message.NewUsername(evt.Sender)
		room.LastTS = evt.Timestamp
		return true
	}
	room.LastMessage = msg.Display()
	room.LastSender = message.NewUsername(evt.Sender)
	room.LastTS = evt.Timestamp
	return true
}

// TimelineEvent updates the preview and unread counters from a live sync
// event.
func (c *RoomCache) TimelineEvent(ctx context.Context, evt *event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms[evt.RoomID]
	if !ok {
		room = &DecoratedRoom{ID: evt.RoomID, Name: evt.RoomID.String()}
		c.rooms[evt.RoomID] = room
	}
	applyPreview(room, evt)
	if evt.Sender != c.m.Me() {
		room.Visited = false
		room.unread++
		if mentionsUser(evt, c.m.Me()) {
			room.highlight = true
		}
	}
}

func mentionsUser(evt *event.Event, userID id.UserID) bool {
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.Mentions == nil {
		return false
	}
	return content.Mentions.Has(userID)
}

// Visit marks a room read.
func (c *RoomCache) Visit(roomID id.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room, ok := c.rooms[roomID]; ok {
		room.Visited = true
		room.unread = 0
		room.highlight = false
	}
}

// Rooms returns the cache sorted by most recent activity.
func (c *RoomCache) Rooms() []*DecoratedRoom {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]*DecoratedRoom, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].LastTS > rooms[j].LastTS
	})
	return rooms
}
