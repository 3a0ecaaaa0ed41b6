// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package session persists login credentials and the sync token between runs.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/sjson"
	"go.mau.fi/util/random"

	"maunium.net/go/mautrix/id"
)

const (
	sessionFileName = "session.json"
	dbFileName      = "matui.db"
	passphraseLen   = 32
	storeDirLen     = 7
)

// ClientSession holds everything needed to rebuild the client and its
// crypto store without talking to the homeserver.
type ClientSession struct {
	Homeserver string `json:"homeserver"`
	DBPath     string `json:"db_path"`
	Passphrase string `json:"passphrase"`
}

// UserSession holds the credentials returned by login.
type UserSession struct {
	UserID      id.UserID   `json:"user_id"`
	DeviceID    id.DeviceID `json:"device_id"`
	AccessToken string      `json:"access_token"`
}

// FullSession is the on-disk shape of a persisted login.
type FullSession struct {
	ClientSession ClientSession `json:"client_session"`
	UserSession   UserSession   `json:"user_session"`
	SyncToken     string        `json:"sync_token,omitempty"`
}

// Store reads and writes the session file in the data directory.
type Store struct {
	dataDir string
	file    string
}

// NewStore places the session under the XDG data directory.
func NewStore() (*Store, error) {
	dir, err := defaultDataDir()
	if err != nil {
		return nil, err
	}
	return NewStoreAt(dir), nil
}

// NewStoreAt places the session under an explicit directory.
func NewStoreAt(dir string) *Store {
	return &Store{
		dataDir: dir,
		file:    filepath.Join(dir, sessionFileName),
	}
}

func defaultDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "matui"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "matui"), nil
}

// DataDir returns the directory holding the session and crypto stores.
func (s *Store) DataDir() string {
	return s.dataDir
}

// Exists reports whether a persisted session is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.file)
	return err == nil
}

// Load reads the persisted session.
func (s *Store) Load() (*FullSession, error) {
	data, err := os.ReadFile(s.file)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var sess FullSession
	if err = json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	if sess.UserSession.AccessToken == "" {
		return nil, errors.New("session file has no access token")
	}
	return &sess, nil
}

// Save writes the session atomically so a crash mid-write never leaves a
// truncated file behind.
func (s *Store) Save(sess *FullSession) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return s.writeAtomic(data)
}

// SetSyncToken patches only the sync token into the existing file, leaving
// the credentials untouched.
func (s *Store) SetSyncToken(token string) error {
	data, err := os.ReadFile(s.file)
	if err != nil {
		return fmt.Errorf("failed to read session file: %w", err)
	}
	patched, err := sjson.SetBytes(data, "sync_token", token)
	if err != nil {
		return fmt.Errorf("failed to patch sync token: %w", err)
	}
	return s.writeAtomic(patched)
}

func (s *Store) writeAtomic(data []byte) error {
	if err := os.MkdirAll(s.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, s.file); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// NewClientSession mints a fresh client session for a first login: a random
// crypto store directory and a random pickle passphrase.
func (s *Store) NewClientSession(homeserver string) (ClientSession, error) {
	storeDir := filepath.Join(s.dataDir, random.String(storeDirLen))
	if err := os.MkdirAll(storeDir, 0700); err != nil {
		return ClientSession{}, fmt.Errorf("failed to create crypto store directory: %w", err)
	}
	return ClientSession{
		Homeserver: homeserver,
		DBPath:     filepath.Join(storeDir, dbFileName),
		Passphrase: random.String(passphraseLen),
	}, nil
}

// Delete removes the persisted session. The crypto store directory is kept
// so a re-login on the same homeserver can be recovered manually.
func (s *Store) Delete() error {
	err := os.Remove(s.file)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
