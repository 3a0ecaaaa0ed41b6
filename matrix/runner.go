// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package matrix

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// drainTimeout is how long shutdown waits for in-flight tasks.
const drainTimeout = 10 * time.Second

// Runner tracks the background tasks the façade spawns so shutdown can
// drain them instead of cutting uploads off mid-request.
type Runner struct {
	log    zerolog.Logger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner makes a runner whose tasks stop when the parent context does.
func NewRunner(parent context.Context, log zerolog.Logger) *Runner {
	ctx, cancel := context.WithCancel(parent)
	return &Runner{
		log:    log.With().Str("component", "runner").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go spawns a task. Panics are contained, a background task must never
// take the process down.
func (r *Runner) Go(fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.log.Error().Any("panic", p).Msg("Background task panicked")
			}
		}()
		fn(r.ctx)
	}()
}

// Shutdown lets in-flight tasks drain for up to the timeout, then cancels
// whatever is left.
func (r *Runner) Shutdown() {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		r.log.Warn().Msg("Shutdown drain timed out, cancelling remaining tasks")
	}
	r.cancel()
}
