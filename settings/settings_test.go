// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package settings_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mau.fi/matui/settings"
)

func TestNewStore_WritesDefaults(t *testing.T) {
	dir := t.TempDir()
	store, err := settings.NewStore(dir, zerolog.Nop())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.Equal(t, settings.DefaultConfig().Reactions, store.Reactions())
	assert.Equal(t, 30, store.BlurDelay())
	assert.Equal(t, 5000, store.MaxEvents())
	assert.False(t, store.CleanVim())
}

func TestNewStore_LoadsExisting(t *testing.T) {
	dir := t.TempDir()
	cfg := `
reactions = ["🦊"]
muted = ["!muted:example.org"]
clean_vim = true
blur_delay = 5
max_events = -1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(cfg), 0600))

	store, err := settings.NewStore(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"🦊"}, store.Reactions())
	assert.True(t, store.IsMuted("!muted:example.org"))
	assert.False(t, store.IsMuted("!other:example.org"))
	assert.True(t, store.CleanVim())
	assert.Equal(t, 5, store.BlurDelay())
	assert.Equal(t, -1, store.MaxEvents())
}

func TestStore_ToggleMute(t *testing.T) {
	dir := t.TempDir()
	cfg := `muted = ["!muted:example.org"]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(cfg), 0600))

	store, err := settings.NewStore(dir, zerolog.Nop())
	require.NoError(t, err)

	// Runtime toggles override the file in both directions.
	assert.False(t, store.ToggleMute("!muted:example.org"))
	assert.False(t, store.IsMuted("!muted:example.org"))
	assert.True(t, store.ToggleMute("!muted:example.org"))
	assert.True(t, store.IsMuted("!muted:example.org"))

	assert.True(t, store.ToggleMute("!other:example.org"))
	assert.True(t, store.IsMuted("!other:example.org"))
}

func TestStore_EmptyReactionsFallBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`blur_delay = 1`), 0600))

	store, err := settings.NewStore(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, settings.DefaultConfig().Reactions, store.Reactions())
}
