// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package matrix

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/matui/message"
	"go.mau.fi/matui/session"
)

const (
	syncRetries    = 10
	syncRetryWait  = time.Second
	requestTimeout = 30000
)

// syncStore persists the sync token into the session file so the next run
// resumes where this one stopped. The filter ID only lives for the
// process, servers mint them cheaply.
type syncStore struct {
	sessions *session.Store
	filterID string
}

var _ mautrix.SyncStore = (*syncStore)(nil)

func (s *syncStore) SaveFilterID(_ context.Context, _ id.UserID, filterID string) error {
	s.filterID = filterID
	return nil
}

func (s *syncStore) LoadFilterID(_ context.Context, _ id.UserID) (string, error) {
	return s.filterID, nil
}

func (s *syncStore) SaveNextBatch(_ context.Context, _ id.UserID, token string) error {
	return s.sessions.SetSyncToken(token)
}

func (s *syncStore) LoadNextBatch(_ context.Context, _ id.UserID) (string, error) {
	sess, err := s.sessions.Load()
	if err != nil {
		return "", nil
	}
	return sess.SyncToken, nil
}

// newSyncer builds the syncer with the lazy-load-members filter and all
// the event handlers wired to the channel.
func (m *Matrix) newSyncer() *mautrix.DefaultSyncer {
	syncer := mautrix.NewDefaultSyncer()
	syncer.FilterJSON = &mautrix.Filter{
		Room: &mautrix.RoomFilter{
			State: &mautrix.FilterPart{
				LazyLoadMembers: true,
			},
		},
	}

	for _, evtType := range []event.Type{event.EventMessage, event.EventReaction, event.EventRedaction, event.EventSticker} {
		syncer.OnEventType(evtType, m.timelineEvent)
	}
	syncer.OnEventType(event.EventEncrypted, m.undecryptableEvent)
	syncer.OnEventType(event.StateMember, m.memberEvent)
	syncer.OnEventType(event.EphemeralEventTyping, m.typingEvent)
	syncer.OnEventType(event.EphemeralEventReceipt, m.receiptEvent)
	return syncer
}

// timelineEvent fans a live room event out to the cache, the notifier and
// the app.
func (m *Matrix) timelineEvent(ctx context.Context, evt *event.Event) {
	m.cache.TimelineEvent(ctx, evt)
	if m.notify != nil {
		if err := m.notify.TimelineEvent(ctx, evt); err != nil {
			m.log.Warn().Err(err).Msg("Failed to send notification")
		}
	}
	m.send(Timeline{Event: evt})
}

// undecryptableEvent surfaces events that stayed encrypted, usually for
// lack of keys. Successfully decrypted ones re-dispatch as their real
// type and never get here.
func (m *Matrix) undecryptableEvent(ctx context.Context, evt *event.Event) {
	m.log.Debug().
		Stringer("event_id", evt.ID).
		Stringer("room_id", evt.RoomID).
		Msg("Event could not be decrypted")
}

func (m *Matrix) memberEvent(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsMember()
	if content == nil || evt.StateKey == nil {
		return
	}
	m.send(RoomMember{
		RoomID: evt.RoomID,
		Member: memberFromContent(id.UserID(*evt.StateKey), content),
	})
}

func (m *Matrix) typingEvent(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsTyping()
	if content == nil {
		return
	}
	m.send(Typing{RoomID: evt.RoomID, UserIDs: content.UserIDs})
}

func (m *Matrix) receiptEvent(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsReceipt()
	if content == nil {
		return
	}
	// Our own receipt means the room was read on another device.
	if slices.Contains(message.Senders(content), m.Me()) {
		m.cache.Visit(evt.RoomID)
	}
	m.send(Receipt{RoomID: evt.RoomID, Content: content})
}

// syncOnce runs a single catch-up sync, retrying transient failures a few
// times before giving up.
func (m *Matrix) syncOnce(ctx context.Context, since string) error {
	filterID, err := m.ensureFilter(ctx)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < syncRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, err := m.client.FullSyncRequest(ctx, mautrix.ReqSync{
			Timeout:  requestTimeout,
			Since:    since,
			FilterID: filterID,
		})
		if err != nil {
			m.log.Warn().Err(err).Int("attempt", attempt+1).Msg("Catch-up sync failed")
			continue
		}
		if err = m.client.Store.SaveNextBatch(ctx, m.client.UserID, resp.NextBatch); err != nil {
			return err
		}
		if err = m.client.Syncer.ProcessResponse(ctx, resp, since); err != nil {
			return fmt.Errorf("failed to process sync response: %w", err)
		}
		return nil
	}
	return errors.New("Sync timeout.")
}

func (m *Matrix) ensureFilter(ctx context.Context) (string, error) {
	filterID, err := m.client.Store.LoadFilterID(ctx, m.client.UserID)
	if err != nil || filterID != "" {
		return filterID, err
	}
	resp, err := m.client.CreateFilter(ctx, m.client.Syncer.GetFilterJSON(m.client.UserID))
	if err != nil {
		return "", fmt.Errorf("failed to create sync filter: %w", err)
	}
	if err = m.client.Store.SaveFilterID(ctx, m.client.UserID, resp.FilterID); err != nil {
		return "", err
	}
	return resp.FilterID, nil
}

// Sync starts the long-running sync loop. It reconnects on transient
// errors by itself and only stops with the context.
func (m *Matrix) Sync() {
	m.rt.Go(func(ctx context.Context) {
		for {
			err := m.client.SyncWithContext(ctx)
			if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			m.log.Error().Err(err).Msg("Sync loop died, restarting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(syncRetryWait):
			}
		}
	})
}
