// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package message

import (
	"container/heap"
	"slices"
	"sync"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Receipts tracks the latest read timestamp per user in a room. The local
// user is excluded, their read position is tracked separately.
type Receipts struct {
	lock   sync.Mutex
	users  map[id.UserID]time.Time
	ignore id.UserID
}

// NewReceipts makes an empty index that drops receipts from ignore.
func NewReceipts(ignore id.UserID) *Receipts {
	return &Receipts{
		users:  make(map[id.UserID]time.Time),
		ignore: ignore,
	}
}

// Apply folds an m.receipt event into the index. Private read receipts for
// other users never arrive, so only m.read is considered.
func (r *Receipts) Apply(content *event.ReceiptEventContent) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, receipts := range *content {
		for userID, receipt := range receipts[event.ReceiptTypeRead] {
			r.apply(userID, receipt.Timestamp)
		}
	}
}

// ApplyUser records a single user's read position directly.
func (r *Receipts) ApplyUser(userID id.UserID, ts time.Time) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.apply(userID, ts)
}

func (r *Receipts) apply(userID id.UserID, ts time.Time) {
	if userID == r.ignore {
		return
	}
	if existing, ok := r.users[userID]; !ok || ts.After(existing) {
		r.users[userID] = ts
	}
}

// Senders returns the users named in a receipt event, including the
// ignored one. Used to detect the local user reading elsewhere.
func Senders(content *event.ReceiptEventContent) []id.UserID {
	var senders []id.UserID
	for _, receipts := range *content {
		for userID := range receipts[event.ReceiptTypeRead] {
			if !slices.Contains(senders, userID) {
				senders = append(senders, userID)
			}
		}
	}
	return senders
}

// Receipt is one user's read position.
type Receipt struct {
	UserID    id.UserID
	Timestamp time.Time
}

// ReceiptHeap is a max-heap of read positions ordered by timestamp, with
// user ID as the tiebreaker for determinism.
type ReceiptHeap []Receipt

var _ heap.Interface = (*ReceiptHeap)(nil)

func (h ReceiptHeap) Len() int { return len(h) }

func (h ReceiptHeap) Less(i, j int) bool {
	if !h[i].Timestamp.Equal(h[j].Timestamp) {
		return h[i].Timestamp.After(h[j].Timestamp)
	}
	return h[i].UserID < h[j].UserID
}

func (h ReceiptHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *ReceiptHeap) Push(x any) { *h = append(*h, x.(Receipt)) }

func (h *ReceiptHeap) Pop() any {
	old := *h
	last := old[len(old)-1]
	*h = old[:len(old)-1]
	return last
}

// Peek returns the newest receipt without removing it.
func (h ReceiptHeap) Peek() Receipt { return h[0] }

// Clone deep-copies the heap so each reply chain can consume its own copy.
func (h ReceiptHeap) Clone() *ReceiptHeap {
	cloned := slices.Clone(h)
	return &cloned
}

// Heap snapshots the index into a fresh max-heap.
func (r *Receipts) Heap() *ReceiptHeap {
	r.lock.Lock()
	defer r.lock.Unlock()
	h := make(ReceiptHeap, 0, len(r.users))
	for userID, ts := range r.users {
		h = append(h, Receipt{UserID: userID, Timestamp: ts})
	}
	heap.Init(&h)
	return &h
}
