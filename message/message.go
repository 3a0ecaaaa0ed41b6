// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package message builds display-ready message trees out of raw timeline
// events. Fresh messages become tree nodes; edits, replies, reactions and
// redactions are modifiers that merge into an existing tree.
package message

import (
	"container/heap"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Replies nest at most this many levels deep. Anything deeper renders as a
// sibling of the deepest allowed level.
const maxReplyDepth = 3

// MergeResult says what happened when an event was offered to a tree.
type MergeResult int

const (
	// Ignored means the event was neither a fresh message nor a modifier
	// with a known target.
	Ignored MergeResult = iota
	// Consumed means the event was folded into the tree.
	Consumed
	// Missed means the event was a modifier whose target is not in the
	// tree. Missed replies are worth forcing into roots of their own.
	Missed
)

// Message is one rendered message with everything hanging off it.
type Message struct {
	ID        id.EventID
	RoomID    id.RoomID
	InReplyTo id.EventID
	Sent      time.Time
	Sender    Username
	Body      *event.MessageEventContent
	History   []*event.MessageEventContent
	Reactions []*Reaction
	Replies   []*Message
	Receipts  []Username

	lastHeight heightCache
}

type heightCache struct {
	width  int
	height int
}

// NewMessage turns a timeline event into a fresh tree node, or returns nil
// when the event is a modifier or not displayable. Replies only become
// nodes when forced, the normal path merges them under their parent.
func NewMessage(evt *event.Event, force bool) *Message {
	if evt.Type != event.EventMessage {
		return nil
	}
	content := evt.Content.AsMessage()
	if content == nil || content.RelatesTo.GetReplaceID() != "" {
		return nil
	}
	replyTo := content.RelatesTo.GetReplyTo()
	if replyTo != "" && !force {
		return nil
	}
	if !displayable(content.MsgType) {
		return nil
	}
	return &Message{
		ID:        evt.ID,
		RoomID:    evt.RoomID,
		InReplyTo: replyTo,
		Sent:      time.UnixMilli(evt.Timestamp),
		Sender:    NewUsername(evt.Sender),
		Body:      content,
	}
}

func displayable(msgType event.MessageType) bool {
	switch msgType {
	case event.MsgText, event.MsgEmote, event.MsgNotice,
		event.MsgImage, event.MsgVideo, event.MsgAudio, event.MsgFile:
		return true
	default:
		return false
	}
}

// ApplyEvent merges a modifier event into the tree. Fresh messages are not
// handled here, the caller appends those itself.
func ApplyEvent(messages *[]*Message, evt *event.Event, depth int) MergeResult {
	result := Ignored

	switch evt.Type {
	case event.EventMessage:
		content := evt.Content.AsMessage()
		if content == nil {
			break
		}
		if replaceID := content.RelatesTo.GetReplaceID(); replaceID != "" {
			for _, msg := range *messages {
				if msg.ID == replaceID {
					newContent := content.NewContent
					if newContent == nil {
						newContent = content
					}
					msg.Edit(newContent)
					return Consumed
				}
			}
		} else if replyTo := content.RelatesTo.GetReplyTo(); replyTo != "" {
			for i, msg := range *messages {
				if msg.ID != replyTo {
					continue
				}
				reply := NewMessage(evt, true)
				if reply == nil {
					return Ignored
				}
				if depth > maxReplyDepth {
					// Too deep to nest further, show it as a sibling.
					*messages = append(*messages, reply)
				} else {
					msg.Replies = append(msg.Replies, reply)
					// The whole chain bubbles to the newest position.
					*messages = append(append((*messages)[:i], (*messages)[i+1:]...), msg)
				}
				return Consumed
			}
			result = Missed
		}
	case event.EventReaction:
		content := evt.Content.AsReaction()
		if content == nil || content.RelatesTo.EventID == "" {
			break
		}
		for _, msg := range *messages {
			if msg.ID == content.RelatesTo.EventID {
				msg.Reactions = append(msg.Reactions, NewReaction(content.RelatesTo.Key, evt.ID, evt.Sender))
				return Consumed
			}
		}
		result = Missed
	case event.EventRedaction:
		redacts := evt.Redacts
		if redacts == "" {
			if content := evt.Content.AsRedaction(); content != nil {
				redacts = content.Redacts
			}
		}
		if redacts == "" {
			break
		}
		removed := false
		for _, msg := range *messages {
			for _, reaction := range msg.Reactions {
				filtered := reaction.Events[:0]
				for _, re := range reaction.Events {
					if re.ID == redacts {
						removed = true
					} else {
						filtered = append(filtered, re)
					}
				}
				reaction.Events = filtered
			}
			// Reactions with no events left disappear entirely.
			kept := msg.Reactions[:0]
			for _, reaction := range msg.Reactions {
				if len(reaction.Events) > 0 {
					kept = append(kept, reaction)
				}
			}
			msg.Reactions = kept
		}
		keptMsgs := (*messages)[:0]
		for _, msg := range *messages {
			if msg.ID == redacts {
				removed = true
			} else {
				keptMsgs = append(keptMsgs, msg)
			}
		}
		*messages = keptMsgs
		if removed {
			result = Consumed
		}
	}

	// Continue down the tree, propagating a miss unless someone deeper
	// consumed the event.
	for _, msg := range *messages {
		if len(msg.Replies) == 0 {
			continue
		}
		if sub := ApplyEvent(&msg.Replies, evt, depth+1); sub != Missed {
			if sub == Consumed {
				return Consumed
			}
		} else if result == Ignored {
			result = Missed
		}
	}

	return result
}

// ApplyReceipts walks the tree newest-first, popping receipts off the heap
// and attaching each one to the newest message at least as old as it. Reply
// chains consume their receipts from a clone, and the parent pops but skips
// anything a reply already covered, so a user shows up at most once per
// chain.
func ApplyReceipts(messages []*Message, h *ReceiptHeap) {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		var nextNewer time.Time
		if len(msg.Replies) > 0 {
			ApplyReceipts(msg.Replies, h.Clone())
			nextNewer = msg.Replies[0].Sent
		}
		msg.Receipts = msg.Receipts[:0]
		for h.Len() > 0 {
			candidate := h.Peek()
			if candidate.Timestamp.Before(msg.Sent) {
				break
			}
			heap.Pop(h)
			if !nextNewer.IsZero() && !candidate.Timestamp.Before(nextNewer) {
				// Attached somewhere up the reply chain already.
				continue
			}
			msg.Receipts = append(msg.Receipts, NewUsername(candidate.UserID))
		}
	}
}

// Edit replaces the body, pushing the old one onto the history.
func (m *Message) Edit(newContent *event.MessageEventContent) {
	m.History = append(m.History, m.Body)
	m.Body = newContent
	m.lastHeight = heightCache{}
}

// UpdateSenders fills in display names everywhere a user appears in the
// tree.
func (m *Message) UpdateSenders(members map[id.UserID]string) {
	if name, ok := members[m.Sender.ID]; ok {
		m.Sender.Update(name)
	}
	for _, reaction := range m.Reactions {
		for _, re := range reaction.Events {
			if name, ok := members[re.Sender.ID]; ok {
				re.Sender.Update(name)
			}
		}
	}
	for i := range m.Receipts {
		if name, ok := members[m.Receipts[i].ID]; ok {
			m.Receipts[i].Update(name)
		}
	}
	for _, reply := range m.Replies {
		reply.UpdateSenders(members)
	}
}

// SortTS is the timestamp a chain sorts by: the newest reply keeps the
// whole chain near the bottom.
func (m *Message) SortTS() time.Time {
	if len(m.Replies) > 0 {
		return m.Replies[len(m.Replies)-1].SortTS()
	}
	return m.Sent
}

// Flatten returns the chain in render order, parent before replies.
func (m *Message) Flatten() []*Message {
	out := []*Message{m}
	for _, reply := range m.Replies {
		out = append(out, reply.Flatten()...)
	}
	return out
}

// Display renders the message body for the timeline.
func (m *Message) Display() string {
	switch m.Body.MsgType {
	case event.MsgImage:
		return fmt.Sprintf("🖼️ %s", m.fileName("image"))
	case event.MsgVideo:
		return fmt.Sprintf("🎥 %s", m.fileName("video"))
	case event.MsgAudio:
		return fmt.Sprintf("🔉 %s", m.fileName("audio"))
	case event.MsgFile:
		return fmt.Sprintf("📎 %s", m.fileName("file"))
	case event.MsgEmote:
		return fmt.Sprintf("* %s %s", m.Sender.FirstName(), m.Body.Body)
	default:
		return m.Body.Body
	}
}

func (m *Message) fileName(kind string) string {
	if m.Body.FileName != "" {
		return m.Body.FileName
	}
	if m.Body.Body != "" {
		return m.Body.Body
	}
	return kind
}

// DisplayFull renders everything known about the message for the detail
// view: sender, time, body, edit history, reactions and receipts.
func (m *Message) DisplayFull(now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\n", m.Sender.String())
	fmt.Fprintf(&sb, "Sent: %s (%s)\n", m.Sent.Format(time.RFC1123), PrettyElapsed(m.Sent, now))
	fmt.Fprintf(&sb, "ID: %s\n\n", m.ID)
	sb.WriteString(m.Display())
	sb.WriteString("\n")
	if len(m.History) > 0 {
		sb.WriteString("\nEdits:\n")
		for _, old := range m.History {
			fmt.Fprintf(&sb, "  %s\n", old.Body)
		}
	}
	for _, reaction := range m.Reactions {
		fmt.Fprintf(&sb, "\n%s from %s", reaction.Display(), reaction.PrettySenders())
	}
	if len(m.Receipts) > 0 {
		names := make([]string, len(m.Receipts))
		for i, u := range m.Receipts {
			names[i] = u.FirstName()
		}
		fmt.Fprintf(&sb, "\n\nSeen by %s", PrettyList(LimitList(names, 5)))
	}
	return sb.String()
}

// RemoveReplyHeader strips the quoted-fallback lines Matrix prepends to
// reply bodies.
func RemoveReplyHeader(body string) string {
	lines := strings.Split(body, "\n")
	i := 0
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed != "" && !strings.HasPrefix(lines[i], "> ") {
			break
		}
	}
	return strings.Join(lines[i:], "\n")
}

// DisplayBody is the body shown in the timeline, with reply fallbacks
// stripped when the message renders nested under its parent.
func (m *Message) DisplayBody(nested bool) string {
	body := m.Display()
	if nested {
		return RemoveReplyHeader(body)
	}
	return body
}

// Height is how many terminal rows the message occupies at the given
// width: the wrapped body plus a sender line, a gap line, an optional
// receipts line and one line per reaction. The result is cached per width.
func (m *Message) Height(width int, nested bool) int {
	if m.lastHeight.width == width && m.lastHeight.height > 0 {
		return m.lastHeight.height
	}
	height := wrapCount(m.DisplayBody(nested), width) + 2
	if len(m.Receipts) > 0 {
		height++
	}
	height += len(m.Reactions)
	m.lastHeight = heightCache{width: width, height: height}
	return height
}

func wrapCount(body string, width int) int {
	if width <= 0 {
		width = 1
	}
	count := 0
	for _, line := range strings.Split(body, "\n") {
		w := runewidth.StringWidth(line)
		if w == 0 {
			count++
			continue
		}
		count += (w + width - 1) / width
	}
	if count == 0 {
		count = 1
	}
	return count
}

// Matches reports whether the message or any reply under it contains the
// term, case-insensitively.
func (m *Message) Matches(term string) bool {
	if term == "" {
		return true
	}
	needle := strings.ToLower(term)
	if strings.Contains(strings.ToLower(m.Display()), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(m.Sender.String()), needle) {
		return true
	}
	for _, reply := range m.Replies {
		if reply.Matches(term) {
			return true
		}
	}
	return false
}
