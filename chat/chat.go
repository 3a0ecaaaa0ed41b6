// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package chat owns the view of a single room: the ordered event store,
// the derived message tree, selection, search, pagination and the keys
// that act on the selected message.
package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/matui/message"
	"go.mau.fi/matui/spawn"
	"go.mau.fi/matui/term"
)

const (
	// windowRadius messages either side of the selection are laid out,
	// everything further away stays unrendered.
	windowRadius = 100
	// paginateThreshold is how few lines may remain above the selection
	// before another history page is requested.
	paginateThreshold = 100
	pageSize          = 32
	searchPageSize    = 256
	defaultWidth      = 80
	defaultHeight     = 24
)

// Commander is the slice of the Matrix façade the chat drives. Every call
// is fire-and-forget, results come back through the event channel.
type Commander interface {
	FetchMessages(roomID id.RoomID, cursor string, limit int)
	FetchRoomMember(roomID id.RoomID, userID id.UserID)
	SendTextMessage(roomID id.RoomID, text string)
	SendReply(roomID id.RoomID, inReplyTo id.EventID, text string)
	ReplaceEvent(roomID id.RoomID, target id.EventID, text string)
	SendReaction(roomID id.RoomID, target id.EventID, key string)
	RedactEvent(roomID id.RoomID, target id.EventID)
	SendAttachments(roomID id.RoomID, paths []string)
	OpenContent(msg *message.Message)
	SaveContent(msg *message.Message)
	ReadTo(roomID id.RoomID, eventID id.EventID)
	TypingNotification(roomID id.RoomID, typing bool)
}

// Environment is what the chat needs from the surrounding application:
// parking the input thread around external programs and picking files.
type Environment interface {
	Park()
	Unpark()
	Redraw()
	PickFiles() ([]string, error)
}

// Settings is the slice of the config store the chat reads.
type Settings interface {
	IsMuted(roomID id.RoomID) bool
	ToggleMute(roomID id.RoomID) bool
	Reactions() []string
	CleanVim() bool
	MaxEvents() int
}

// ConfirmRequest asks the app to raise a yes/no popup.
type ConfirmRequest struct {
	Header  string
	Message string
	Yes     string
	No      string
	OnYes   func()
}

// ReactRequest asks the app to raise the reaction chooser.
type ReactRequest struct {
	Options []string
	OnPick  func(key string)
}

// Result says what a key press did.
type Result struct {
	Consumed bool
	Confirm  *ConfirmRequest
	React    *ReactRequest
	Err      error
}

var consumed = Result{Consumed: true}

// Bookmark pins the selection to a message so the scroll position
// survives list rebuilds while events stream in.
type Bookmark struct {
	MessageID id.EventID
	// LineOffset is the selected line within the message.
	LineOffset int
	// WindowOffset is the distance from the selection to the bottom of
	// the line index when the bookmark was taken, so the renderer can
	// hold the message at its row while newer lines stack up below.
	WindowOffset int
}

type line struct {
	msg        *message.Message
	selectable bool
}

// Chat is the per-room model. It is only ever touched from the event
// loop thread.
type Chat struct {
	log      zerolog.Logger
	matrix   Commander
	env      Environment
	settings Settings
	me       id.UserID
	room     id.RoomID

	events   *EventSet
	receipts *message.Receipts
	messages []*message.Message
	visible  []*message.Message
	members  map[id.UserID]string
	pending  map[id.UserID]struct{}
	typing   []id.UserID

	width, height int
	lines         []line
	selected      int
	bookmark      *Bookmark
	windowStart   int
	windowEnd     int

	cursor     string
	fetching   bool
	allFetched bool
	search     string
	focused    bool
	lastRead   id.EventID
	delete     *KeyCombo
}

// NewChat opens a room view and kicks off the initial history fetch.
func NewChat(roomID id.RoomID, me id.UserID, matrix Commander, env Environment, settings Settings, log zerolog.Logger) *Chat {
	c := &Chat{
		log:      log.With().Str("component", "chat").Stringer("room_id", roomID).Logger(),
		matrix:   matrix,
		env:      env,
		settings: settings,
		me:       me,
		room:     roomID,
		events:   NewEventSet(),
		receipts: message.NewReceipts(me),
		members:  make(map[id.UserID]string),
		pending:  make(map[id.UserID]struct{}),
		width:    defaultWidth,
		height:   defaultHeight,
		focused:  true,
		fetching: true,
		delete:   NewKeyCombo("dd"),
	}
	matrix.FetchMessages(roomID, "", pageSize)
	return c
}

// RoomID returns the room this chat views.
func (c *Chat) RoomID() id.RoomID {
	return c.room
}

// SetViewport tells the chat how big the rendered area is.
func (c *Chat) SetViewport(width, height int) {
	if width == c.width && height == c.height {
		return
	}
	c.width = width
	c.height = height
	c.rebuild()
}

// TimelineEvent ingests one live event. Events for other rooms are
// ignored so a single dispatch point can fan out blindly.
func (c *Chat) TimelineEvent(evt *event.Event) {
	if evt.RoomID != c.room {
		return
	}
	if !c.events.Insert(evt) {
		return
	}
	c.rebuild()
	c.markRead()
}

// Batch ingests one page of history and decides whether to keep going.
func (c *Chat) Batch(roomID id.RoomID, events []*event.Event, cursor string) {
	if roomID != c.room {
		return
	}
	c.fetching = false
	c.cursor = cursor
	if cursor == "" {
		c.allFetched = true
	}
	for _, evt := range events {
		c.events.Insert(evt)
	}
	c.rebuild()
	c.maybePaginate()
	c.markRead()
}

// Receipt folds a read-receipt event into the index.
func (c *Chat) Receipt(roomID id.RoomID, content *event.ReceiptEventContent) {
	if roomID != c.room {
		return
	}
	c.receipts.Apply(content)
	c.rebuild()
}

// RoomMember resolves a display name that arrived after the messages.
func (c *Chat) RoomMember(roomID id.RoomID, member message.Member) {
	if roomID != c.room {
		return
	}
	c.members[member.ID] = member.DisplayName
	delete(c.pending, member.ID)
	c.rebuild()
}

// SetTyping replaces the set of currently-typing users.
func (c *Chat) SetTyping(roomID id.RoomID, userIDs []id.UserID) {
	if roomID != c.room {
		return
	}
	c.typing = c.typing[:0]
	for _, userID := range userIDs {
		if userID != c.me {
			c.typing = append(c.typing, userID)
		}
	}
}

// TypingString renders who is typing, or "".
func (c *Chat) TypingString() string {
	if len(c.typing) == 0 {
		return ""
	}
	names := make([]string, len(c.typing))
	for i, userID := range c.typing {
		name := message.NewUsername(userID)
		if display, ok := c.members[userID]; ok {
			name.Update(display)
		}
		names[i] = name.FirstName()
	}
	names = message.LimitList(names, 3)
	if len(c.typing) == 1 {
		return names[0] + " is typing"
	}
	return message.PrettyList(names) + " are typing"
}

// SetSearch filters the list down to chains matching the term and
// back-fills history aggressively so the filter has something to chew on.
func (c *Chat) SetSearch(term string) {
	c.search = strings.ToLower(term)
	c.bookmark = nil
	c.rebuild()
	if c.search != "" {
		c.maybeFetch(searchPageSize)
	}
}

// SearchTerm returns the active lowercased filter.
func (c *Chat) SearchTerm() string {
	return c.search
}

// Focus marks the terminal focused and pushes the read marker forward.
func (c *Chat) Focus() {
	c.focused = true
	c.markRead()
}

// Blur marks the terminal unfocused, pausing read markers.
func (c *Chat) Blur() {
	c.focused = false
}

// Messages returns the visible roots, oldest first.
func (c *Chat) Messages() []*message.Message {
	return c.visible
}

// SelectedMessage returns the message under the cursor, or nil while the
// room is still empty.
func (c *Chat) SelectedMessage() *message.Message {
	if c.selected < 0 || c.selected >= len(c.lines) {
		return nil
	}
	return c.lines[c.selected].msg
}

// rebuild derives everything from the event set: the tree, the search
// view, the window and the restored selection.
func (c *Chat) rebuild() {
	var roots []*message.Message
	for _, evt := range c.events.List() {
		if msg := message.NewMessage(evt, false); msg != nil {
			roots = append(roots, msg)
			continue
		}
		if message.ApplyEvent(&roots, evt, 0) == message.Missed {
			// Orphan reply, likely its parent is beyond the fetched
			// history. Show it as a root rather than dropping it.
			if forced := message.NewMessage(evt, true); forced != nil {
				roots = append(roots, forced)
			}
		}
	}
	for _, root := range roots {
		root.MergeTreeReactions()
	}
	message.ApplyReceipts(roots, c.receipts.Heap())
	for _, root := range roots {
		root.UpdateSenders(c.members)
	}
	c.messages = roots

	if c.search == "" {
		c.visible = roots
	} else {
		visible := make([]*message.Message, 0, len(roots))
		for _, root := range roots {
			if root.Matches(c.search) {
				visible = append(visible, root)
			}
		}
		c.visible = visible
	}

	c.layoutWindow()
	c.restoreBookmark()
	c.requestMembers()
}

// layoutWindow renders up to 2*windowRadius+1 messages around the
// bookmarked (or newest) message into the line index.
func (c *Chat) layoutWindow() {
	center := len(c.visible) - 1
	if c.bookmark != nil {
		for i, root := range c.visible {
			if chainContains(root, c.bookmark.MessageID) {
				center = i
				break
			}
		}
	}
	c.windowStart = max(0, center-windowRadius)
	c.windowEnd = min(len(c.visible), center+windowRadius+1)

	c.lines = c.lines[:0]
	for i := c.windowStart; i < c.windowEnd; i++ {
		for _, msg := range c.visible[i].Flatten() {
			height := msg.Height(c.width, msg.InReplyTo != "")
			for l := 0; l < height; l++ {
				c.lines = append(c.lines, line{msg: msg, selectable: true})
			}
			// Dead space between messages.
			c.lines = append(c.lines, line{})
		}
	}
	if len(c.lines) > 0 {
		c.lines = c.lines[:len(c.lines)-1]
	}
}

func chainContains(root *message.Message, eventID id.EventID) bool {
	for _, msg := range root.Flatten() {
		if msg.ID == eventID {
			return true
		}
	}
	return false
}

// restoreBookmark puts the selection back on the bookmarked message, or
// on the newest message when there is no bookmark yet.
func (c *Chat) restoreBookmark() {
	if len(c.lines) == 0 {
		c.selected = 0
		return
	}
	if c.bookmark != nil {
		start := -1
		height := 0
		for i, ln := range c.lines {
			if ln.msg != nil && ln.msg.ID == c.bookmark.MessageID {
				if start < 0 {
					start = i
				}
				height++
			}
		}
		if start >= 0 {
			c.selected = start + min(c.bookmark.LineOffset, height-1)
			return
		}
		// The bookmarked message is gone (redacted or filtered out).
		c.bookmark = nil
	}
	c.selectLast()
}

func (c *Chat) selectLast() {
	for i := len(c.lines) - 1; i >= 0; i-- {
		if c.lines[i].selectable {
			c.selected = i
			c.updateBookmark()
			return
		}
	}
	c.selected = 0
}

func (c *Chat) newestMessage() *message.Message {
	for i := len(c.lines) - 1; i >= 0; i-- {
		if c.lines[i].msg != nil {
			return c.lines[i].msg
		}
	}
	return nil
}

func (c *Chat) updateBookmark() {
	msg := c.SelectedMessage()
	if msg == nil {
		c.bookmark = nil
		return
	}
	// While the newest message is selected the view sticks to the bottom
	// and follows new arrivals instead of pinning.
	if msg == c.newestMessage() {
		c.bookmark = nil
		return
	}
	offset := 0
	for i := c.selected - 1; i >= 0 && c.lines[i].msg == msg; i-- {
		offset++
	}
	c.bookmark = &Bookmark{
		MessageID:    msg.ID,
		LineOffset:   offset,
		WindowOffset: len(c.lines) - 1 - c.selected,
	}
}

// ScrollOffset is how many lines sit between the selection and the
// bottom of the view. While a bookmark is held it is the distance
// recorded when the selection was made.
func (c *Chat) ScrollOffset() int {
	if c.bookmark != nil {
		return c.bookmark.WindowOffset
	}
	return len(c.lines) - 1 - c.selected
}

// requestMembers fetches profiles for senders whose display names are
// still unknown, deduplicating in-flight requests.
func (c *Chat) requestMembers() {
	for _, root := range c.visible {
		for _, msg := range root.Flatten() {
			c.requestMember(msg.Sender.ID)
			for _, reaction := range msg.Reactions {
				for _, re := range reaction.Events {
					c.requestMember(re.Sender.ID)
				}
			}
			for _, receipt := range msg.Receipts {
				c.requestMember(receipt.ID)
			}
		}
	}
}

func (c *Chat) requestMember(userID id.UserID) {
	if _, known := c.members[userID]; known {
		return
	}
	if _, inflight := c.pending[userID]; inflight {
		return
	}
	c.pending[userID] = struct{}{}
	c.matrix.FetchRoomMember(c.room, userID)
}

// maybePaginate fetches another page when the selection is close to the
// top of the fetched history.
func (c *Chat) maybePaginate() {
	if c.windowStart > 0 || c.selected >= paginateThreshold {
		return
	}
	limit := pageSize
	if c.search != "" {
		limit = searchPageSize
	}
	c.maybeFetch(limit)
}

func (c *Chat) maybeFetch(limit int) {
	if c.fetching || c.allFetched {
		return
	}
	if maxEvents := c.settings.MaxEvents(); maxEvents >= 0 && c.events.Len() >= maxEvents {
		return
	}
	c.fetching = true
	c.matrix.FetchMessages(c.room, c.cursor, limit)
}

// FetchFailed clears in-flight state after a background fetch errored
// out, otherwise pagination and member lookups would stay blocked on a
// response that is never coming.
func (c *Chat) FetchFailed() {
	c.fetching = false
	for userID := range c.pending {
		delete(c.pending, userID)
	}
}

// markRead advances the server-side read marker to the newest visible
// message, but only while focused and only when it moved.
func (c *Chat) markRead() {
	if !c.focused {
		return
	}
	newest := c.newestMessage()
	if newest == nil || newest.ID == c.lastRead {
		return
	}
	c.lastRead = newest.ID
	c.matrix.ReadTo(c.room, newest.ID)
}

// Next moves the selection down to the following message.
func (c *Chat) Next() {
	current := c.SelectedMessage()
	for i := c.selected + 1; i < len(c.lines); i++ {
		if c.lines[i].selectable && c.lines[i].msg != current {
			c.selected = i
			break
		}
	}
	c.afterMove()
}

// Prev moves the selection up to the previous message.
func (c *Chat) Prev() {
	current := c.SelectedMessage()
	for i := c.selected - 1; i >= 0; i-- {
		if !c.lines[i].selectable || c.lines[i].msg == current {
			continue
		}
		// Land on the first line of that message.
		target := c.lines[i].msg
		for i > 0 && c.lines[i-1].msg == target {
			i--
		}
		c.selected = i
		break
	}
	c.afterMove()
}

// HalfPageDown moves the selection half a viewport towards the newest
// message.
func (c *Chat) HalfPageDown() {
	c.moveLines(c.height / 2)
}

// HalfPageUp moves the selection half a viewport towards history.
func (c *Chat) HalfPageUp() {
	c.moveLines(-c.height / 2)
}

func (c *Chat) moveLines(delta int) {
	target := c.selected + delta
	target = max(0, min(len(c.lines)-1, target))
	step := 1
	if delta < 0 {
		step = -1
	}
	for target >= 0 && target < len(c.lines) && !c.lines[target].selectable {
		target += step
	}
	if target >= 0 && target < len(c.lines) {
		c.selected = target
	}
	c.afterMove()
}

// Home jumps to the newest message.
func (c *Chat) Home() {
	c.selectLast()
	c.markRead()
}

func (c *Chat) afterMove() {
	c.updateBookmark()
	c.layoutWindow()
	c.restoreBookmark()
	c.maybePaginate()
	c.markRead()
}

// HandleKey processes one key of the chat's key surface. Keys it does not
// recognize are left for the caller.
func (c *Chat) HandleKey(k term.KeyEvent) Result {
	switch {
	case k.Is('j') || k.Code == term.KeyDown:
		c.Next()
		return consumed
	case k.Is('k') || k.Code == term.KeyUp:
		c.Prev()
		return consumed
	case k.IsCtrl('d'):
		c.HalfPageDown()
		return consumed
	case k.IsCtrl('u'):
		c.HalfPageUp()
		return consumed
	case k.Is('G'):
		c.Home()
		return consumed
	case k.Code == term.KeyEnter:
		return c.open()
	case k.Is('s'):
		return c.save()
	case k.Is('m'):
		c.settings.ToggleMute(c.room)
		return consumed
	case k.Is('c'):
		return c.edit()
	case k.Is('i'):
		return c.compose()
	case k.Is('R'):
		return c.reply()
	case k.Is('v'):
		return c.viewMessage()
	case k.Is('V'):
		return c.viewRoom()
	case k.Is('r'):
		return c.react()
	case k.Is('u'):
		return c.upload()
	case k.Is('d'):
		return c.maybeDelete()
	}
	return Result{}
}

func (c *Chat) open() Result {
	msg := c.SelectedMessage()
	if msg == nil {
		return consumed
	}
	switch msg.Body.MsgType {
	case event.MsgImage, event.MsgVideo, event.MsgAudio, event.MsgFile:
		c.matrix.OpenContent(msg)
	default:
		if err := spawn.OpenLinks(msg.Display()); err != nil {
			return Result{Consumed: true, Err: err}
		}
	}
	return consumed
}

func (c *Chat) save() Result {
	msg := c.SelectedMessage()
	if msg == nil {
		return consumed
	}
	switch msg.Body.MsgType {
	case event.MsgImage, event.MsgVideo, event.MsgAudio, event.MsgFile:
		c.matrix.SaveContent(msg)
	}
	return consumed
}

func (c *Chat) edit() Result {
	msg := c.SelectedMessage()
	if msg == nil {
		return consumed
	}
	if msg.Sender.ID != c.me {
		return consumed
	}
	text, err := c.editor(msg.Body.Body, "")
	if err != nil {
		return Result{Consumed: true, Err: err}
	}
	if text != "" && text != msg.Body.Body {
		c.matrix.ReplaceEvent(c.room, msg.ID, text)
	}
	return consumed
}

func (c *Chat) compose() Result {
	c.matrix.TypingNotification(c.room, true)
	text, err := c.editor("", "")
	c.matrix.TypingNotification(c.room, false)
	if err != nil {
		return Result{Consumed: true, Err: err}
	}
	if text != "" {
		c.matrix.SendTextMessage(c.room, text)
	}
	return consumed
}

func (c *Chat) reply() Result {
	msg := c.SelectedMessage()
	if msg == nil {
		return consumed
	}
	quote := quoteTemplate(msg)
	c.matrix.TypingNotification(c.room, true)
	text, err := c.editor("", quote)
	c.matrix.TypingNotification(c.room, false)
	if err != nil {
		return Result{Consumed: true, Err: err}
	}
	if text != "" {
		c.matrix.SendReply(c.room, msg.ID, text)
	}
	return consumed
}

func quoteTemplate(msg *message.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Replying to %s:\n\n", msg.Sender.String())
	for _, l := range strings.Split(msg.DisplayBody(true), "\n") {
		fmt.Fprintf(&sb, "> %s\n", l)
	}
	return sb.String()
}

func (c *Chat) viewMessage() Result {
	msg := c.SelectedMessage()
	if msg == nil {
		return consumed
	}
	c.env.Park()
	err := spawn.ViewText(msg.DisplayFull(time.Now()))
	c.env.Unpark()
	c.env.Redraw()
	if err != nil {
		return Result{Consumed: true, Err: err}
	}
	return consumed
}

// viewRoom dumps the loaded conversation into the external viewer.
func (c *Chat) viewRoom() Result {
	c.env.Park()
	err := spawn.ViewText(c.Transcript(time.Now()))
	c.env.Unpark()
	c.env.Redraw()
	if err != nil {
		return Result{Consumed: true, Err: err}
	}
	return consumed
}

// Transcript renders every visible message as text, oldest first, replies
// indented under their parents.
func (c *Chat) Transcript(now time.Time) string {
	var sb strings.Builder
	for _, root := range c.visible {
		for _, msg := range root.Flatten() {
			indent := ""
			if msg.InReplyTo != "" {
				indent = "    "
			}
			fmt.Fprintf(&sb, "%s%s (%s):\n", indent, msg.Sender.String(), message.PrettyElapsed(msg.Sent, now))
			for _, l := range strings.Split(msg.DisplayBody(msg.InReplyTo != ""), "\n") {
				fmt.Fprintf(&sb, "%s%s\n", indent, l)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (c *Chat) react() Result {
	msg := c.SelectedMessage()
	if msg == nil {
		return consumed
	}
	options := c.settings.Reactions()
	// Keys already on the message come first so piling on is one press.
	var seen []string
	for _, reaction := range msg.Reactions {
		seen = append(seen, reaction.Key)
	}
	for _, opt := range options {
		found := false
		for _, key := range seen {
			if key == opt {
				found = true
				break
			}
		}
		if !found {
			seen = append(seen, opt)
		}
	}
	target := msg.ID
	room := c.room
	matrix := c.matrix
	return Result{Consumed: true, React: &ReactRequest{
		Options: seen,
		OnPick: func(key string) {
			matrix.SendReaction(room, target, key)
		},
	}}
}

func (c *Chat) upload() Result {
	paths, err := c.env.PickFiles()
	c.env.Redraw()
	if err != nil {
		return Result{Consumed: true, Err: err}
	}
	if len(paths) > 0 {
		c.matrix.SendAttachments(c.room, paths)
	}
	return consumed
}

func (c *Chat) maybeDelete() Result {
	if !c.delete.Record('d') {
		return consumed
	}
	msg := c.SelectedMessage()
	if msg == nil {
		return consumed
	}
	target := msg.ID
	room := c.room
	matrix := c.matrix
	return Result{Consumed: true, Confirm: &ConfirmRequest{
		Header:  "Delete message?",
		Message: msg.Display(),
		Yes:     "Yes",
		No:      "No",
		OnYes: func() {
			matrix.RedactEvent(room, target)
		},
	}}
}

// editor runs $EDITOR with the event thread parked and the screen redrawn
// afterwards.
func (c *Chat) editor(prefill, footer string) (string, error) {
	c.env.Park()
	defer func() {
		c.env.Unpark()
		c.env.Redraw()
	}()
	return spawn.GetText(prefill, footer, c.settings.CleanVim())
}
