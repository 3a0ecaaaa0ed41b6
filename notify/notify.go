// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package notify sends desktop notifications for incoming messages over
// the org.freedesktop.Notifications D-Bus interface. Notifications
// coalesce per room and clicking one selects the room in the app.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/esiqveland/notify"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/matui/message"
)

const appName = "matui"

// Client is the slice of the Matrix layer the notifier uses: the local
// user for the gate and media fetches for avatars. Me is resolved per
// message because the notifier is wired up before login finishes.
type Client interface {
	Me() id.UserID
	AvatarURL(ctx context.Context, userID id.UserID) (id.ContentURI, error)
	Download(ctx context.Context, uri id.ContentURI) ([]byte, error)
}

// Settings is the slice of the config store the gate reads.
type Settings interface {
	IsMuted(roomID id.RoomID) bool
}

// Notifier owns a private session bus connection and the per-room
// notification state.
type Notifier struct {
	log      zerolog.Logger
	client   Client
	settings Settings
	avatars  *avatarCache
	onSelect func(roomID id.RoomID)

	conn   *dbus.Conn
	bus    notify.Notifier
	cancel context.CancelFunc

	mu      sync.Mutex
	focused bool
	current id.RoomID
	// active maps rooms to their outstanding notification and back, so
	// new messages replace instead of stack and clicks resolve to rooms.
	active map[id.RoomID]uint32
	rooms  map[uint32]id.RoomID
}

// NewNotifier connects to the session bus. onSelect runs on the bus
// goroutine when a notification is clicked.
func NewNotifier(client Client, settings Settings, onSelect func(roomID id.RoomID), log zerolog.Logger) (*Notifier, error) {
	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	if err = conn.Auth(nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to authenticate to session bus: %w", err)
	}
	if err = conn.Hello(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("session bus hello failed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		log:      log.With().Str("component", "notify").Logger(),
		client:   client,
		settings: settings,
		avatars:  newAvatarCache(client, log),
		onSelect: onSelect,
		conn:     conn,
		cancel:   cancel,
		active:   make(map[id.RoomID]uint32),
		rooms:    make(map[uint32]id.RoomID),
	}
	n.bus, err = notify.New(conn,
		notify.WithOnAction(n.onAction),
		notify.WithOnClosed(n.onClosed),
	)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to attach to notification service: %w", err)
	}
	go n.avatars.run(ctx)
	return n, nil
}

// Close tears down the bus connection.
func (n *Notifier) Close() error {
	n.cancel()
	if n.bus != nil {
		_ = n.bus.Close()
	}
	return n.conn.Close()
}

// SetFocus tracks terminal focus. A focused terminal suppresses
// notifications for the visible room.
func (n *Notifier) SetFocus(focused bool) {
	n.mu.Lock()
	n.focused = focused
	n.mu.Unlock()
}

// RoomVisit marks the room as the one on screen and dismisses its
// outstanding notification.
func (n *Notifier) RoomVisit(roomID id.RoomID) {
	n.mu.Lock()
	n.current = roomID
	notifID, ok := n.active[roomID]
	if ok {
		delete(n.active, roomID)
		delete(n.rooms, notifID)
	}
	n.mu.Unlock()
	if ok {
		if _, err := n.bus.CloseNotification(notifID); err != nil {
			n.log.Debug().Err(err).Msg("Failed to close notification")
		}
	}
}

// TimelineEvent notifies for one live message if the gate lets it
// through.
func (n *Notifier) TimelineEvent(ctx context.Context, evt *event.Event) error {
	msg := message.NewMessage(evt, true)
	if msg == nil {
		return nil
	}

	n.mu.Lock()
	in := gateInput{
		Sender:  evt.Sender,
		Me:      n.client.Me(),
		RoomID:  evt.RoomID,
		Muted:   n.settings.IsMuted(evt.RoomID),
		Focused: n.focused,
		Current: n.current,
	}
	replaces := n.active[evt.RoomID]
	n.mu.Unlock()
	if !shouldNotify(in) {
		return nil
	}

	notification := notify.Notification{
		AppName:    appName,
		ReplacesID: replaces,
		Summary:    msg.Sender.String(),
		Body:       msg.Display(),
		Actions: []notify.Action{
			{Key: "default", Label: "Open"},
		},
		Hints:         map[string]dbus.Variant{},
		ExpireTimeout: notify.ExpireTimeoutSetByNotificationServer,
	}
	if path := n.avatars.path(ctx, evt.Sender); path != "" {
		notification.Hints["image-path"] = dbus.MakeVariant(path)
	}

	notifID, err := n.bus.SendNotification(notification)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	n.mu.Lock()
	if old, ok := n.active[evt.RoomID]; ok {
		delete(n.rooms, old)
	}
	n.active[evt.RoomID] = notifID
	n.rooms[notifID] = evt.RoomID
	n.mu.Unlock()
	return nil
}

func (n *Notifier) onAction(action *notify.ActionInvokedSignal) {
	n.mu.Lock()
	roomID, ok := n.rooms[action.ID]
	n.mu.Unlock()
	if ok && n.onSelect != nil {
		n.onSelect(roomID)
	}
}

func (n *Notifier) onClosed(closed *notify.NotificationClosedSignal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if roomID, ok := n.rooms[closed.ID]; ok {
		delete(n.rooms, closed.ID)
		delete(n.active, roomID)
	}
}
