// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package matrix

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/matui/session"
	"go.mau.fi/matui/settings"
	"go.mau.fi/matui/term"
)

func newTestMatrix(t *testing.T) (*Matrix, chan any) {
	t.Helper()
	events := make(chan any, 16)
	cfg, err := settings.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	rt := NewRunner(context.Background(), zerolog.Nop())
	t.Cleanup(rt.Shutdown)
	m := NewMatrix(events, session.NewStoreAt(t.TempDir()), cfg, rt, zerolog.Nop())
	m.client, err = mautrix.NewClient("https://example.com", "@me:example.com", "token")
	require.NoError(t, err)
	return m, events
}

func TestBlurDebounce_FiresAfterDelay(t *testing.T) {
	m, events := newTestMatrix(t)

	fired := make(chan time.Time, 1)
	orig := timeAfter
	timeAfter = func(seconds int) <-chan time.Time {
		assert.Equal(t, 30, seconds)
		return fired
	}
	t.Cleanup(func() { timeAfter = orig })

	m.FocusEvent()
	fired <- time.Now()

	select {
	case evt := <-events:
		assert.IsType(t, term.BlurEvent{}, evt)
	case <-time.After(time.Second):
		t.Fatal("expected synthetic blur event")
	}
}

func TestBlurDebounce_CancelledByRealBlur(t *testing.T) {
	m, events := newTestMatrix(t)

	fired := make(chan time.Time, 1)
	orig := timeAfter
	timeAfter = func(int) <-chan time.Time { return fired }
	t.Cleanup(func() { timeAfter = orig })

	m.FocusEvent()
	m.BlurEvent()
	fired <- time.Now()

	select {
	case evt := <-events:
		t.Fatalf("unexpected event after real blur: %T", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBlurDebounce_RefocusSupersedes(t *testing.T) {
	m, events := newTestMatrix(t)

	first := make(chan time.Time, 1)
	second := make(chan time.Time, 1)
	channels := []chan time.Time{first, second}
	orig := timeAfter
	timeAfter = func(int) <-chan time.Time {
		ch := channels[0]
		channels = channels[1:]
		return ch
	}
	t.Cleanup(func() { timeAfter = orig })

	m.FocusEvent()
	m.FocusEvent()

	// The first timer is stale once the second focus arms a new one.
	first <- time.Now()
	select {
	case evt := <-events:
		t.Fatalf("stale timer produced event: %T", evt)
	case <-time.After(50 * time.Millisecond):
	}

	second <- time.Now()
	select {
	case evt := <-events:
		assert.IsType(t, term.BlurEvent{}, evt)
	case <-time.After(time.Second):
		t.Fatal("expected synthetic blur event")
	}
}

func TestMemberFromContent(t *testing.T) {
	member := memberFromContent("@alice:example.com", &event.MemberEventContent{Displayname: "Alice"})
	assert.Equal(t, id.UserID("@alice:example.com"), member.ID)
	assert.Equal(t, "Alice", member.DisplayName)

	member = memberFromContent("@bob:example.com", &event.MemberEventContent{})
	assert.Equal(t, "@bob:example.com", member.DisplayName)
}

func TestMsgTypeForMime(t *testing.T) {
	assert.Equal(t, event.MsgImage, msgTypeForMime("image/png"))
	assert.Equal(t, event.MsgVideo, msgTypeForMime("video/mp4"))
	assert.Equal(t, event.MsgAudio, msgTypeForMime("audio/ogg"))
	assert.Equal(t, event.MsgFile, msgTypeForMime("application/pdf"))
	assert.Equal(t, event.MsgFile, msgTypeForMime(""))
}

func TestSyncStore_RoundTrip(t *testing.T) {
	sessions := session.NewStoreAt(t.TempDir())
	cs, err := sessions.NewClientSession("example.com")
	require.NoError(t, err)
	require.NoError(t, sessions.Save(&session.FullSession{
		ClientSession: cs,
		UserSession:   session.UserSession{UserID: "@alice:example.com"},
	}))

	store := &syncStore{sessions: sessions}
	ctx := context.Background()

	token, err := store.LoadNextBatch(ctx, "@alice:example.com")
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, store.SaveNextBatch(ctx, "@alice:example.com", "s123_456"))
	token, err = store.LoadNextBatch(ctx, "@alice:example.com")
	require.NoError(t, err)
	assert.Equal(t, "s123_456", token)

	require.NoError(t, store.SaveFilterID(ctx, "@alice:example.com", "f1"))
	filterID, err := store.LoadFilterID(ctx, "@alice:example.com")
	require.NoError(t, err)
	assert.Equal(t, "f1", filterID)
}
