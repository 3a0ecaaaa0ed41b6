// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package notify

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"

	"maunium.net/go/mautrix/id"

	_ "image/gif"
	_ "image/jpeg"
)

// Notification servers want small images, avatars get scaled down to fit.
const avatarSize = 250

// avatarCache resolves sender avatars to local image paths. Fetches run
// on a single background goroutine so a burst of messages doesn't fan
// out into parallel downloads; until the avatar lands, notifications
// just go out without one.
type avatarCache struct {
	log   zerolog.Logger
	media Client
	dir   string

	mu      sync.Mutex
	paths   map[id.UserID]string
	pending map[id.UserID]bool
	queue   chan id.UserID
}

func newAvatarCache(media Client, log zerolog.Logger) *avatarCache {
	dir := ""
	if base, err := os.UserCacheDir(); err == nil {
		dir = filepath.Join(base, "matui", "avatars")
	}
	return &avatarCache{
		log:     log.With().Str("component", "avatars").Logger(),
		media:   media,
		dir:     dir,
		paths:   make(map[id.UserID]string),
		pending: make(map[id.UserID]bool),
		queue:   make(chan id.UserID, 64),
	}
}

// path returns the cached avatar path for a user, or "" while it is
// still being fetched.
func (c *avatarCache) path(_ context.Context, userID id.UserID) string {
	if c.dir == "" {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if path, ok := c.paths[userID]; ok {
		return path
	}
	if path := c.diskPath(userID); fileExists(path) {
		c.paths[userID] = path
		return path
	}
	if !c.pending[userID] {
		select {
		case c.queue <- userID:
			c.pending[userID] = true
		default:
		}
	}
	return ""
}

func (c *avatarCache) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case userID := <-c.queue:
			path, err := c.fetch(ctx, userID)
			c.mu.Lock()
			delete(c.pending, userID)
			if err == nil {
				c.paths[userID] = path
			} else {
				// Negative-cache so a user without an avatar is not
				// re-fetched for every message.
				c.paths[userID] = ""
				c.log.Debug().Err(err).Stringer("user_id", userID).Msg("Failed to fetch avatar")
			}
			c.mu.Unlock()
		}
	}
}

func (c *avatarCache) fetch(ctx context.Context, userID id.UserID) (string, error) {
	url, err := c.media.AvatarURL(ctx, userID)
	if err != nil {
		return "", err
	}
	data, err := c.media.Download(ctx, url)
	if err != nil {
		return "", err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	img = resize.Thumbnail(avatarSize, avatarSize, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err = png.Encode(&buf, img); err != nil {
		return "", err
	}
	path := c.diskPath(userID)
	if err = os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err = os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (c *avatarCache) diskPath(userID id.UserID) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '@', '/', '\\':
			return '_'
		}
		return r
	}, userID.String())
	return filepath.Join(c.dir, name+".png")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
