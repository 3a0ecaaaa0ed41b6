// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package chat_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/matui/chat"
	"go.mau.fi/matui/message"
	"go.mau.fi/matui/term"
)

const testRoom = id.RoomID("!room:example.org")
const me = id.UserID("@me:example.org")

var baseTS = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fetchCall struct {
	cursor string
	limit  int
}

type fakeCommander struct {
	fetches    []fetchCall
	members    []id.UserID
	readTo     []id.EventID
	redacted   []id.EventID
	reactions  []string
	sent       []string
	replies    []id.EventID
	typing     []bool
	uploads    [][]string
}

func (f *fakeCommander) FetchMessages(roomID id.RoomID, cursor string, limit int) {
	f.fetches = append(f.fetches, fetchCall{cursor: cursor, limit: limit})
}
func (f *fakeCommander) FetchRoomMember(roomID id.RoomID, userID id.UserID) {
	f.members = append(f.members, userID)
}
func (f *fakeCommander) SendTextMessage(roomID id.RoomID, text string) {
	f.sent = append(f.sent, text)
}
func (f *fakeCommander) SendReply(roomID id.RoomID, inReplyTo id.EventID, text string) {
	f.replies = append(f.replies, inReplyTo)
}
func (f *fakeCommander) ReplaceEvent(roomID id.RoomID, target id.EventID, text string) {}
func (f *fakeCommander) SendReaction(roomID id.RoomID, target id.EventID, key string) {
	f.reactions = append(f.reactions, key)
}
func (f *fakeCommander) RedactEvent(roomID id.RoomID, target id.EventID) {
	f.redacted = append(f.redacted, target)
}
func (f *fakeCommander) SendAttachments(roomID id.RoomID, paths []string) {
	f.uploads = append(f.uploads, paths)
}
func (f *fakeCommander) OpenContent(msg *message.Message)  {}
func (f *fakeCommander) SaveContent(msg *message.Message)  {}
func (f *fakeCommander) ReadTo(roomID id.RoomID, eventID id.EventID) {
	f.readTo = append(f.readTo, eventID)
}
func (f *fakeCommander) TypingNotification(roomID id.RoomID, typing bool) {
	f.typing = append(f.typing, typing)
}

type fakeEnv struct {
	picked []string
}

func (f *fakeEnv) Park()   {}
func (f *fakeEnv) Unpark() {}
func (f *fakeEnv) Redraw() {}
func (f *fakeEnv) PickFiles() ([]string, error) {
	return f.picked, nil
}

type fakeSettings struct {
	maxEvents int
	muted     map[id.RoomID]bool
}

func (f *fakeSettings) IsMuted(roomID id.RoomID) bool { return f.muted[roomID] }
func (f *fakeSettings) ToggleMute(roomID id.RoomID) bool {
	if f.muted == nil {
		f.muted = make(map[id.RoomID]bool)
	}
	f.muted[roomID] = !f.muted[roomID]
	return f.muted[roomID]
}
func (f *fakeSettings) Reactions() []string { return []string{"👍", "🎉"} }
func (f *fakeSettings) CleanVim() bool      { return false }
func (f *fakeSettings) MaxEvents() int      { return f.maxEvents }

func newTestChat(t *testing.T) (*chat.Chat, *fakeCommander) {
	t.Helper()
	commander := &fakeCommander{}
	c := chat.NewChat(testRoom, me, commander, &fakeEnv{}, &fakeSettings{maxEvents: -1}, zerolog.Nop())
	// The initial history fetch fires immediately.
	require.Len(t, commander.fetches, 1)
	assert.Equal(t, 32, commander.fetches[0].limit)
	return c, commander
}

func textEvent(eventID string, sender id.UserID, body string, offset time.Duration) *event.Event {
	return &event.Event{
		ID:        id.EventID(eventID),
		Sender:    sender,
		Type:      event.EventMessage,
		Timestamp: baseTS.Add(offset).UnixMilli(),
		RoomID:    testRoom,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func seedHistory(c *chat.Chat, count int) {
	events := make([]*event.Event, count)
	for i := 0; i < count; i++ {
		events[i] = textEvent(fmt.Sprintf("$%d", i), "@alice:example.org", fmt.Sprintf("msg %d", i), time.Duration(i)*time.Minute)
	}
	c.Batch(testRoom, events, "cursor-0")
}

func TestChat_DedupByEventID(t *testing.T) {
	c, _ := newTestChat(t)
	evt := textEvent("$1", "@alice:example.org", "hi", 0)
	c.TimelineEvent(evt)
	c.TimelineEvent(evt)
	c.TimelineEvent(textEvent("$1", "@alice:example.org", "hi again", time.Minute))

	assert.Len(t, c.Messages(), 1)
	assert.Equal(t, "hi", c.Messages()[0].Display())
}

func TestChat_IgnoresOtherRooms(t *testing.T) {
	c, _ := newTestChat(t)
	evt := textEvent("$1", "@alice:example.org", "hi", 0)
	evt.RoomID = "!other:example.org"
	c.TimelineEvent(evt)
	assert.Empty(t, c.Messages())
}

func TestChat_SelectionFollowsNewest(t *testing.T) {
	c, _ := newTestChat(t)
	c.TimelineEvent(textEvent("$1", "@alice:example.org", "one", 0))
	c.TimelineEvent(textEvent("$2", "@alice:example.org", "two", time.Minute))

	require.NotNil(t, c.SelectedMessage())
	assert.Equal(t, id.EventID("$2"), c.SelectedMessage().ID)
}

func TestChat_BookmarkStability(t *testing.T) {
	c, _ := newTestChat(t)
	c.TimelineEvent(textEvent("$50", "@alice:example.org", "fifty", 50*time.Minute))
	c.TimelineEvent(textEvent("$51", "@alice:example.org", "fifty-one", 51*time.Minute))
	c.Prev()
	require.Equal(t, id.EventID("$50"), c.SelectedMessage().ID)

	// Earlier history arriving must not move the selection.
	var older []*event.Event
	for i := 0; i < 40; i++ {
		older = append(older, textEvent(fmt.Sprintf("$h%d", i), "@bob:example.org", "old", time.Duration(i)*time.Second))
	}
	c.Batch(testRoom, older, "")

	assert.Equal(t, id.EventID("$50"), c.SelectedMessage().ID)
}

func TestChat_Transcript(t *testing.T) {
	c, _ := newTestChat(t)
	c.TimelineEvent(textEvent("$1", "@alice:example.org", "first", 0))
	c.TimelineEvent(textEvent("$2", "@bob:example.org", "second", time.Minute))

	out := c.Transcript(baseTS.Add(time.Hour))
	first := strings.Index(out, "first")
	second := strings.Index(out, "second")
	require.GreaterOrEqual(t, first, 0)
	require.GreaterOrEqual(t, second, 0)
	assert.Less(t, first, second)
	assert.Contains(t, out, "@alice:example.org")
	assert.Contains(t, out, "@bob:example.org")
}

func TestChat_BookmarkKeepsWindowOffset(t *testing.T) {
	c, _ := newTestChat(t)
	c.TimelineEvent(textEvent("$1", "@alice:example.org", "one", 0))
	c.TimelineEvent(textEvent("$2", "@alice:example.org", "two", time.Minute))
	c.Prev()
	require.Equal(t, id.EventID("$1"), c.SelectedMessage().ID)
	offset := c.ScrollOffset()

	// New messages stack below without changing where the selected
	// message sits on screen.
	c.TimelineEvent(textEvent("$3", "@alice:example.org", "three", 2*time.Minute))
	assert.Equal(t, id.EventID("$1"), c.SelectedMessage().ID)
	assert.Equal(t, offset, c.ScrollOffset())
}

func TestChat_PaginationTrigger(t *testing.T) {
	c, commander := newTestChat(t)
	seedHistory(c, 10)
	// A short history leaves the selection near the top, so another page
	// is requested with the batch cursor.
	require.Len(t, commander.fetches, 2)
	assert.Equal(t, "cursor-0", commander.fetches[1].cursor)
	assert.Equal(t, 32, commander.fetches[1].limit)
}

func TestChat_PaginationStopsAtEnd(t *testing.T) {
	c, commander := newTestChat(t)
	c.Batch(testRoom, []*event.Event{textEvent("$1", "@alice:example.org", "hi", 0)}, "")
	before := len(commander.fetches)
	c.TimelineEvent(textEvent("$2", "@alice:example.org", "more", time.Minute))
	// An empty cursor means the start of history, no more fetches.
	assert.Len(t, commander.fetches, before)
}

func TestChat_PaginationRespectsMaxEvents(t *testing.T) {
	commander := &fakeCommander{}
	c := chat.NewChat(testRoom, me, commander, &fakeEnv{}, &fakeSettings{maxEvents: 5}, zerolog.Nop())
	seedHistory(c, 10)
	// 10 events with a cap of 5: the follow-up fetch is suppressed.
	assert.Len(t, commander.fetches, 1)
}

func TestChat_FetchFailureReenablesPagination(t *testing.T) {
	c, commander := newTestChat(t)
	// The initial fetch errors out, no batch ever arrives.
	c.FetchFailed()
	c.SetSearch("needle")
	require.Len(t, commander.fetches, 2)
	assert.Equal(t, 256, commander.fetches[1].limit)
}

func TestChat_FetchFailureRetriesMembers(t *testing.T) {
	c, commander := newTestChat(t)
	c.Batch(testRoom, []*event.Event{textEvent("$1", "@alice:example.org", "hi", 0)}, "cursor")
	require.Equal(t, []id.UserID{"@alice:example.org"}, commander.members)

	// The profile fetch failed, the next rebuild asks again.
	c.FetchFailed()
	c.TimelineEvent(textEvent("$2", "@alice:example.org", "again", time.Minute))
	assert.Equal(t, []id.UserID{"@alice:example.org", "@alice:example.org"}, commander.members)
}

func TestChat_SearchFilterAndIdempotence(t *testing.T) {
	c, commander := newTestChat(t)
	// Enough history that the selection sits far from the top and no
	// automatic pagination is in flight.
	seedHistory(c, 50)
	c.TimelineEvent(textEvent("$x", "@alice:example.org", "the needle is here", 90*time.Minute))

	c.SetSearch("NEEDLE")
	require.Len(t, c.Messages(), 1)
	assert.Equal(t, id.EventID("$x"), c.Messages()[0].ID)
	assert.Equal(t, "needle", c.SearchTerm())

	// Searching back-fills aggressively with the large page size.
	last := commander.fetches[len(commander.fetches)-1]
	assert.Equal(t, 256, last.limit)

	c.SetSearch("")
	assert.Len(t, c.Messages(), 51)
}

func TestChat_ReadMarkOnlyWhenChanged(t *testing.T) {
	c, commander := newTestChat(t)
	c.TimelineEvent(textEvent("$1", "@alice:example.org", "one", 0))
	require.Equal(t, []id.EventID{"$1"}, commander.readTo)

	// Motion without a new newest message does not resend.
	c.Home()
	assert.Equal(t, []id.EventID{"$1"}, commander.readTo)

	c.TimelineEvent(textEvent("$2", "@alice:example.org", "two", time.Minute))
	assert.Equal(t, []id.EventID{"$1", "$2"}, commander.readTo)
}

func TestChat_NoReadMarkWhileBlurred(t *testing.T) {
	c, commander := newTestChat(t)
	c.Blur()
	c.TimelineEvent(textEvent("$1", "@alice:example.org", "one", 0))
	assert.Empty(t, commander.readTo)

	// Focus catches up.
	c.Focus()
	assert.Equal(t, []id.EventID{"$1"}, commander.readTo)
}

func TestChat_Navigation(t *testing.T) {
	c, _ := newTestChat(t)
	for i := 0; i < 3; i++ {
		c.TimelineEvent(textEvent(fmt.Sprintf("$%d", i), "@alice:example.org", "m", time.Duration(i)*time.Minute))
	}
	require.Equal(t, id.EventID("$2"), c.SelectedMessage().ID)

	c.HandleKey(term.Key('k'))
	assert.Equal(t, id.EventID("$1"), c.SelectedMessage().ID)
	c.HandleKey(term.Key('k'))
	assert.Equal(t, id.EventID("$0"), c.SelectedMessage().ID)
	// Already at the oldest message.
	c.HandleKey(term.Key('k'))
	assert.Equal(t, id.EventID("$0"), c.SelectedMessage().ID)

	c.HandleKey(term.Key('j'))
	assert.Equal(t, id.EventID("$1"), c.SelectedMessage().ID)
	c.HandleKey(term.Key('G'))
	assert.Equal(t, id.EventID("$2"), c.SelectedMessage().ID)
}

func TestChat_DeleteCombo(t *testing.T) {
	c, commander := newTestChat(t)
	c.TimelineEvent(textEvent("$1", "@alice:example.org", "delete me", 0))

	result := c.HandleKey(term.Key('d'))
	assert.True(t, result.Consumed)
	assert.Nil(t, result.Confirm)

	result = c.HandleKey(term.Key('d'))
	require.NotNil(t, result.Confirm)
	assert.Equal(t, "Yes", result.Confirm.Yes)
	assert.Empty(t, commander.redacted)

	result.Confirm.OnYes()
	assert.Equal(t, []id.EventID{"$1"}, commander.redacted)
}

func TestChat_ReactRequest(t *testing.T) {
	c, commander := newTestChat(t)
	c.TimelineEvent(textEvent("$1", "@alice:example.org", "react to me", 0))

	result := c.HandleKey(term.Key('r'))
	require.NotNil(t, result.React)
	assert.Equal(t, []string{"👍", "🎉"}, result.React.Options)

	result.React.OnPick("🎉")
	assert.Equal(t, []string{"🎉"}, commander.reactions)
}

func TestChat_Upload(t *testing.T) {
	commander := &fakeCommander{}
	env := &fakeEnv{picked: []string{"/tmp/cat.png"}}
	c := chat.NewChat(testRoom, me, commander, env, &fakeSettings{maxEvents: -1}, zerolog.Nop())

	result := c.HandleKey(term.Key('u'))
	assert.True(t, result.Consumed)
	require.Len(t, commander.uploads, 1)
	assert.Equal(t, []string{"/tmp/cat.png"}, commander.uploads[0])
}

func TestChat_MemberRequestDedup(t *testing.T) {
	c, commander := newTestChat(t)
	c.TimelineEvent(textEvent("$1", "@alice:example.org", "one", 0))
	c.TimelineEvent(textEvent("$2", "@alice:example.org", "two", time.Minute))

	// One in-flight profile fetch per user no matter how many messages.
	count := 0
	for _, userID := range commander.members {
		if userID == "@alice:example.org" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	c.RoomMember(testRoom, message.Member{ID: "@alice:example.org", DisplayName: "Alice"})
	assert.Equal(t, "Alice", c.Messages()[0].Sender.String())
}

func TestChat_Typing(t *testing.T) {
	c, _ := newTestChat(t)
	c.SetTyping(testRoom, []id.UserID{me, "@alice:example.org"})
	assert.Equal(t, "@alice:example.org is typing", c.TypingString())

	c.RoomMember(testRoom, message.Member{ID: "@alice:example.org", DisplayName: "Alice Smith"})
	c.SetTyping(testRoom, []id.UserID{"@alice:example.org", "@bob:example.org"})
	assert.Equal(t, "Alice and @bob:example.org are typing", c.TypingString())

	c.SetTyping(testRoom, nil)
	assert.Equal(t, "", c.TypingString())
}
