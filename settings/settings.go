// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package settings loads the TOML config file and keeps it fresh while the
// app is running. Mute toggles made at runtime are layered on top of the
// file and win over it until the process exits.
package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"maunium.net/go/mautrix/id"
)

const configFileName = "config.toml"

// Config is the on-disk shape of the config file.
type Config struct {
	// Reactions offered by the reaction picker, in order.
	Reactions []string `toml:"reactions"`
	// Muted rooms never produce desktop notifications.
	Muted []id.RoomID `toml:"muted"`
	// CleanVim starts the editor with --clean to skip user vimrc files.
	CleanVim bool `toml:"clean_vim"`
	// BlurDelay is how many seconds of idle focus count as a blur.
	// Zero disables the synthetic blur entirely.
	BlurDelay int `toml:"blur_delay"`
	// MaxEvents caps how many events back-pagination will accumulate per
	// room. -1 means unbounded.
	MaxEvents int `toml:"max_events"`
}

// DefaultConfig is written out on first run.
func DefaultConfig() Config {
	return Config{
		Reactions: []string{"❤️", "👍", "👎", "😂", "‼️", "❓️"},
		CleanVim:  false,
		BlurDelay: 30,
		MaxEvents: 5000,
	}
}

// Store is the live view of the config plus runtime mute overrides.
type Store struct {
	log  zerolog.Logger
	path string

	lock      sync.RWMutex
	cfg       Config
	overrides map[id.RoomID]bool
}

// DefaultConfigDir resolves the XDG config directory for the app.
func DefaultConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "matui"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".config", "matui"), nil
}

// NewStore loads the config file from dir, writing out the defaults first
// if no file exists yet.
func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		log:       log.With().Str("component", "settings").Logger(),
		path:      filepath.Join(dir, configFileName),
		cfg:       DefaultConfig(),
		overrides: make(map[id.RoomID]bool),
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err = s.writeDefaults(dir); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) writeDefaults(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	file, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()
	if err = toml.NewEncoder(file).Encode(s.cfg); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}

func (s *Store) reload() error {
	var cfg Config
	if _, err := toml.DecodeFile(s.path, &cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(cfg.Reactions) == 0 {
		cfg.Reactions = DefaultConfig().Reactions
	}
	s.lock.Lock()
	s.cfg = cfg
	s.lock.Unlock()
	return nil
}

// Path returns the config file path.
func (s *Store) Path() string {
	return s.path
}

// Watch reloads the config whenever the file changes on disk, until the
// context is cancelled. Parse failures keep the previous config.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err = watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Name != s.path || !evt.Op.Has(fsnotify.Write) && !evt.Op.Has(fsnotify.Create) {
					continue
				}
				if err := s.reload(); err != nil {
					s.log.Warn().Err(err).Msg("Failed to reload config")
				} else {
					s.log.Debug().Msg("Reloaded config")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn().Err(err).Msg("Config watcher error")
			}
		}
	}()
	return nil
}

// Reactions returns a copy of the configured reaction picker entries.
func (s *Store) Reactions() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return slices.Clone(s.cfg.Reactions)
}

// CleanVim reports whether the editor should skip user vim configuration.
func (s *Store) CleanVim() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.cfg.CleanVim
}

// BlurDelay returns the idle-blur delay in seconds. Zero means disabled.
func (s *Store) BlurDelay() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.cfg.BlurDelay
}

// MaxEvents returns the per-room pagination cap. -1 means unbounded.
func (s *Store) MaxEvents() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.cfg.MaxEvents
}

// IsMuted reports whether a room is muted, with runtime toggles taking
// precedence over the file.
func (s *Store) IsMuted(roomID id.RoomID) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if muted, ok := s.overrides[roomID]; ok {
		return muted
	}
	return slices.Contains(s.cfg.Muted, roomID)
}

// ToggleMute flips a room's mute state for the rest of the process and
// returns the new state. The config file is not modified.
func (s *Store) ToggleMute(roomID id.RoomID) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	muted, ok := s.overrides[roomID]
	if !ok {
		muted = slices.Contains(s.cfg.Muted, roomID)
	}
	s.overrides[roomID] = !muted
	return !muted
}
