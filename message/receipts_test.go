// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package message_test

import (
	"container/heap"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/matui/message"
)

func receiptContent(target id.EventID, readers map[id.UserID]time.Time) *event.ReceiptEventContent {
	userReceipts := make(event.UserReceipts, len(readers))
	for userID, ts := range readers {
		userReceipts[userID] = event.ReadReceipt{Timestamp: ts}
	}
	content := event.ReceiptEventContent{
		target: event.Receipts{event.ReceiptTypeRead: userReceipts},
	}
	return &content
}

func TestReceipts_Apply(t *testing.T) {
	receipts := message.NewReceipts("@me:example.org")
	receipts.Apply(receiptContent("$1", map[id.UserID]time.Time{
		"@bob:example.org": baseTS.Add(time.Minute),
		"@me:example.org":  baseTS.Add(time.Hour),
	}))

	h := receipts.Heap()
	// The local user is never indexed.
	require.Equal(t, 1, h.Len())
	assert.Equal(t, id.UserID("@bob:example.org"), h.Peek().UserID)
}

func TestReceipts_HeapOrder(t *testing.T) {
	receipts := message.NewReceipts("@me:example.org")
	receipts.ApplyUser("@a:example.org", baseTS.Add(time.Minute))
	receipts.ApplyUser("@b:example.org", baseTS.Add(3*time.Minute))
	receipts.ApplyUser("@c:example.org", baseTS.Add(2*time.Minute))

	h := receipts.Heap()
	var order []id.UserID
	for h.Len() > 0 {
		order = append(order, heap.Pop(h).(message.Receipt).UserID)
	}
	// Newest first.
	assert.Equal(t, []id.UserID{"@b:example.org", "@c:example.org", "@a:example.org"}, order)
}

func TestReceipts_HeapCloneIsIndependent(t *testing.T) {
	receipts := message.NewReceipts("@me:example.org")
	receipts.ApplyUser("@a:example.org", baseTS)
	receipts.ApplyUser("@b:example.org", baseTS.Add(time.Minute))

	h := receipts.Heap()
	clone := h.Clone()
	heap.Pop(h)
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 2, clone.Len())
}

func TestSenders(t *testing.T) {
	content := receiptContent("$1", map[id.UserID]time.Time{
		"@me:example.org":  baseTS,
		"@bob:example.org": baseTS,
	})
	senders := message.Senders(content)
	assert.Len(t, senders, 2)
	assert.Contains(t, senders, id.UserID("@me:example.org"))
	assert.Contains(t, senders, id.UserID("@bob:example.org"))
}
