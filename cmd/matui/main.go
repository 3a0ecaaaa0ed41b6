// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exerrors"
	"go.mau.fi/util/exzerolog"
	"go.mau.fi/zeroconfig"

	"maunium.net/go/mautrix/id"

	"go.mau.fi/matui/app"
	"go.mau.fi/matui/matrix"
	"go.mau.fi/matui/notify"
	"go.mau.fi/matui/session"
	"go.mau.fi/matui/settings"
	matuiterm "go.mau.fi/matui/term"
)

var version = "0.1.0"

func main() {
	versionFlag := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()
	if *versionFlag {
		fmt.Println("matui", version)
		return
	}

	sessions := exerrors.Must(session.NewStore())
	// Stderr belongs to the TUI, logs go to a rotated file in the data
	// dir instead.
	minLevel := zerolog.DebugLevel
	log := exerrors.Must((&zeroconfig.Config{
		MinLevel: &minLevel,
		Writers: []zeroconfig.WriterConfig{{
			Type:   zeroconfig.WriterTypeFile,
			Format: zeroconfig.LogFormatJSON,
			FileConfig: zeroconfig.FileConfig{
				Filename:   filepath.Join(sessions.DataDir(), "matui.log"),
				MaxSize:    10,
				MaxBackups: 2,
			},
		}},
	}).Compile())
	exzerolog.SetupDefaults(log)

	cfg := exerrors.Must(settings.NewStore(exerrors.Must(settings.DefaultConfigDir()), *log))

	events := make(chan any, 64)
	ctx := log.WithContext(context.Background())
	runner := matrix.NewRunner(ctx, *log)
	client := matrix.NewMatrix(events, sessions, cfg, runner, *log)

	notifier, err := notify.NewNotifier(client, cfg, func(roomID id.RoomID) {
		events <- matrix.RoomSelected{RoomID: roomID}
	}, *log)
	if err != nil {
		log.Warn().Err(err).Msg("Desktop notifications unavailable")
	} else {
		client.SetNotifier(notifier)
		defer notifier.Close()
	}

	runner.Go(func(ctx context.Context) {
		if err := cfg.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("Config watcher stopped")
		}
	})
	runner.Go(func(ctx context.Context) {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				events <- matuiterm.TickEvent{Timestamp: now.Unix()}
			}
		}
	})

	termio, err := newTerminal(events, *log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to set up terminal")
		fmt.Fprintln(os.Stderr, "matui needs an interactive terminal:", err)
		os.Exit(1)
	}
	go termio.readKeys()

	app.NewApp(events, client, cfg, termio, *log).Run()

	// Keep draining the channel while background tasks finish, nothing
	// consumes it once the loop has exited.
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-events:
			case <-done:
				return
			}
		}
	}()
	client.Shutdown()
	close(done)
	termio.Close()
}
