// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package matrix wraps the Matrix SDK behind a fire-and-forget command
// façade. Commands spawn background tasks and everything the UI needs to
// know comes back as events on the application channel.
package matrix

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/matui/message"
	"go.mau.fi/matui/session"
	"go.mau.fi/matui/settings"
	"go.mau.fi/matui/term"
)

const deviceDisplayName = "Matui"

// Notifier is the slice of the desktop notification gate the façade
// drives.
type Notifier interface {
	TimelineEvent(ctx context.Context, evt *event.Event) error
	RoomVisit(roomID id.RoomID)
	SetFocus(focused bool)
}

// Matrix is the façade. One instance lives for the whole process.
type Matrix struct {
	log      zerolog.Logger
	events   chan<- any
	sessions *session.Store
	settings *settings.Store
	rt       *Runner
	cache    *RoomCache
	notify   Notifier

	client *mautrix.Client
	crypto *cryptohelper.CryptoHelper
	verify *verifier

	// focusKey invalidates pending blur timers. Zero means blurred.
	focusKey atomic.Int64

	typingMu   sync.Mutex
	typingStop context.CancelFunc
}

// NewMatrix wires the façade to the application channel. Nothing touches
// the network until Init or Login.
func NewMatrix(events chan<- any, sessions *session.Store, cfg *settings.Store, rt *Runner, log zerolog.Logger) *Matrix {
	m := &Matrix{
		log:      log.With().Str("component", "matrix").Logger(),
		events:   events,
		sessions: sessions,
		settings: cfg,
		rt:       rt,
	}
	m.cache = NewRoomCache(m)
	return m
}

// SetNotifier attaches the desktop notification gate. Optional, headless
// environments run without one.
func (m *Matrix) SetNotifier(n Notifier) {
	m.notify = n
}

func (m *Matrix) send(evt any) {
	m.events <- evt
}

// Me returns the logged-in user, or "" before login.
func (m *Matrix) Me() id.UserID {
	if m.client == nil {
		return ""
	}
	return m.client.UserID
}

// Init restores the persisted session if there is one, otherwise asks
// for credentials.
func (m *Matrix) Init() {
	m.rt.Go(func(ctx context.Context) {
		if !m.sessions.Exists() {
			m.send(LoginRequired{})
			return
		}
		sess, err := m.sessions.Load()
		if err != nil {
			m.log.Err(err).Msg("Failed to load session")
			m.send(Error{Message: fmt.Sprintf("Failed to load session: %v", err)})
			m.send(LoginRequired{})
			return
		}
		if err = m.restore(ctx, sess); err != nil {
			m.log.Err(err).Msg("Failed to restore session")
			m.send(Error{Message: fmt.Sprintf("Failed to restore session: %v", err)})
			m.send(LoginRequired{})
		}
	})
}

func (m *Matrix) restore(ctx context.Context, sess *session.FullSession) error {
	baseURL := m.resolveHomeserver(ctx, sess.ClientSession.Homeserver)
	cli, err := mautrix.NewClient(baseURL, sess.UserSession.UserID, sess.UserSession.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	cli.DeviceID = sess.UserSession.DeviceID
	if err = m.setupClient(ctx, cli, sess.ClientSession, nil); err != nil {
		return err
	}

	m.send(SyncStarted{Type: SyncLatest})
	if err = m.syncOnce(ctx, sess.SyncToken); err != nil {
		return err
	}
	m.cache.Populate(ctx)
	m.send(SyncComplete{})
	return nil
}

// Login performs a password login, persists the session and runs the
// initial sync.
func (m *Matrix) Login(username, password string) {
	m.rt.Go(func(ctx context.Context) {
		m.send(LoginStarted{})
		if err := m.login(ctx, username, password); err != nil {
			m.log.Err(err).Msg("Login failed")
			m.send(Error{Message: fmt.Sprintf("Login failed: %v", err)})
			m.send(LoginRequired{})
		}
	})
}

func (m *Matrix) login(ctx context.Context, username, password string) error {
	userID := id.UserID(username)
	_, homeserver, err := userID.Parse()
	if err != nil {
		return fmt.Errorf("invalid user ID: %w", err)
	}

	baseURL := m.resolveHomeserver(ctx, homeserver)
	cli, err := mautrix.NewClient(baseURL, "", "")
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}

	cs, err := m.sessions.NewClientSession(homeserver)
	if err != nil {
		return err
	}
	login := &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: username,
		},
		Password:                 password,
		InitialDeviceDisplayName: deviceDisplayName,
		StoreCredentials:         true,
	}
	if err = m.setupClient(ctx, cli, cs, login); err != nil {
		return err
	}

	err = m.sessions.Save(&session.FullSession{
		ClientSession: cs,
		UserSession: session.UserSession{
			UserID:      cli.UserID,
			DeviceID:    cli.DeviceID,
			AccessToken: cli.AccessToken,
		},
	})
	if err != nil {
		return err
	}
	m.send(LoginComplete{})

	m.send(SyncStarted{Type: SyncInitial})
	if err = m.syncOnce(ctx, ""); err != nil {
		return err
	}
	m.cache.Populate(ctx)
	m.send(SyncComplete{})

	// Ask the user's other devices to verify this one so it can receive
	// old message keys.
	m.verify.requestSelf(ctx)

	// With secret storage set up the recovery key works too, offer it.
	if _, err = m.crypto.Machine().SSSS.GetDefaultKeyID(ctx); err == nil {
		m.send(RecoverNeeded{})
	}
	return nil
}

// setupClient attaches the syncer, the store, end-to-end encryption and
// verification to a bare client. loginAs is nil when credentials are
// already set.
func (m *Matrix) setupClient(ctx context.Context, cli *mautrix.Client, cs session.ClientSession, loginAs *mautrix.ReqLogin) error {
	cli.Log = m.log.With().Str("component", "mautrix").Logger()
	cli.Store = &syncStore{sessions: m.sessions}
	cli.Syncer = m.newSyncer()

	crypto, err := cryptohelper.NewCryptoHelper(cli, []byte(cs.Passphrase), cs.DBPath)
	if err != nil {
		return fmt.Errorf("failed to build crypto store: %w", err)
	}
	crypto.LoginAs = loginAs
	if err = crypto.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize crypto: %w", err)
	}
	cli.Crypto = crypto

	m.client = cli
	m.crypto = crypto
	m.verify, err = newVerifier(ctx, m)
	if err != nil {
		return fmt.Errorf("failed to initialize verification: %w", err)
	}
	return nil
}

// resolveHomeserver discovers the client API base URL for a server name,
// falling back to https on the bare hostname.
func (m *Matrix) resolveHomeserver(ctx context.Context, host string) string {
	resp, err := mautrix.DiscoverClientAPI(ctx, host)
	if err == nil && resp != nil && resp.Homeserver.BaseURL != "" {
		return resp.Homeserver.BaseURL
	}
	m.log.Debug().Err(err).Str("host", host).Msg("Well-known discovery failed, using hostname")
	return "https://" + host
}

// FocusEvent arms the synthetic blur timer and updates the notification
// gate.
func (m *Matrix) FocusEvent() {
	if m.notify != nil {
		m.notify.SetFocus(true)
	}
	delay := m.settings.BlurDelay()
	if delay <= 0 {
		return
	}
	key := m.focusKey.Add(1)
	m.rt.Go(func(ctx context.Context) {
		select {
		case <-ctx.Done():
			return
		case <-timeAfter(delay):
		}
		if m.focusKey.Load() == key {
			m.send(term.BlurEvent{})
		}
	})
}

// BlurEvent cancels any pending synthetic blur and updates the gate.
func (m *Matrix) BlurEvent() {
	m.focusKey.Store(0)
	if m.notify != nil {
		m.notify.SetFocus(false)
	}
}

// RoomVisitEvent marks a room read in the cache and closes its
// notifications.
func (m *Matrix) RoomVisitEvent(roomID id.RoomID) {
	m.cache.Visit(roomID)
	if m.notify != nil {
		m.notify.RoomVisit(roomID)
	}
}

// AvatarURL resolves a user's avatar, for the notifier.
func (m *Matrix) AvatarURL(ctx context.Context, userID id.UserID) (id.ContentURI, error) {
	return m.client.GetAvatarURL(ctx, userID)
}

// Download fetches raw bytes from the media repo, for the notifier.
func (m *Matrix) Download(ctx context.Context, uri id.ContentURI) ([]byte, error) {
	return m.client.DownloadBytes(ctx, uri)
}

// Shutdown drains background tasks and closes the crypto store.
func (m *Matrix) Shutdown() {
	m.rt.Shutdown()
	if m.crypto != nil {
		if err := m.crypto.Close(); err != nil {
			m.log.Warn().Err(err).Msg("Failed to close crypto store")
		}
	}
}

// timeAfter is swapped out in tests to avoid waiting for real blur
// delays.
var timeAfter = func(seconds int) <-chan time.Time {
	return time.After(time.Duration(seconds) * time.Second)
}

func memberFromContent(userID id.UserID, content *event.MemberEventContent) message.Member {
	member := message.Member{ID: userID, DisplayName: content.Displayname}
	if member.DisplayName == "" {
		member.DisplayName = userID.String()
	}
	return member
}
