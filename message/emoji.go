// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package message

import (
	"strings"

	"github.com/mattn/go-runewidth"
	"go.mau.fi/util/variationselector"
)

// Emojis that render double-wide in most terminal fonts even though
// go-runewidth counts them as narrow. They get a trailing space so columns
// behind them stay aligned.
var wideRenderedEmojis = map[string]struct{}{
	"☁️":  {},
	"❤️":  {},
	"☂️":  {},
	"✏️":  {},
	"✂️":  {},
	"☎️":  {},
	"✈️":  {},
	"‼️":  {},
}

// PadEmoji appends a space after emojis whose measured width undercounts
// their rendered width.
func PadEmoji(s string) string {
	if _, ok := wideRenderedEmojis[variationselector.FullyQualify(s)]; ok {
		return s + " "
	}
	return s
}

// CenterEmoji pads an emoji to a fixed cell width for tabular display.
func CenterEmoji(s string, width int) string {
	w := runewidth.StringWidth(s)
	if _, ok := wideRenderedEmojis[variationselector.FullyQualify(s)]; ok {
		w++
	}
	if w >= width {
		return s
	}
	left := (width - w) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-w-left)
}

// FormatEmojis lays out a short authentication string row for display.
func FormatEmojis(emojis []string) string {
	parts := make([]string, len(emojis))
	for i, e := range emojis {
		parts[i] = CenterEmoji(variationselector.Add(e), 4)
	}
	return strings.Join(parts, " ")
}
