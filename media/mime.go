// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package media

import (
	"mime"
	"path/filepath"
	"strings"
)

// Extensions the stdlib table misses or resolves inconsistently across
// systems.
var extraMimeTypes = map[string]string{
	".flac": "audio/flac",
	".heic": "image/heic",
	".m4a":  "audio/mp4",
	".md":   "text/markdown",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".webm": "video/webm",
	".webp": "image/webp",
}

// MimeFromPath guesses a content type from the file extension, falling
// back to application/octet-stream.
func MimeFromPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mt, ok := extraMimeTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		// Strip any charset parameter, Matrix wants the bare type.
		if idx := strings.Index(mt, ";"); idx > 0 {
			mt = mt[:idx]
		}
		return mt
	}
	return "application/octet-stream"
}
