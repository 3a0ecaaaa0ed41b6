// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package spawn runs the external programs the chat leans on: the editor,
// file viewers, link openers and the file picker. The caller is expected
// to park the input thread around anything here that takes over the tty.
package spawn

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Sentinel line separating the user's text from instructions appended to
// the editor buffer. The sentinel and everything below it is stripped.
const sentinel = "<!-- Text below this line is not sent. -->"

// GetText opens $EDITOR on a temporary markdown file and returns the
// trimmed result. existing pre-fills the buffer, footer is appended below
// a sentinel and stripped again on the way out. An empty return with nil
// error means the user wrote nothing.
func GetText(existing, footer string, cleanVim bool) (string, error) {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		return "", errors.New("$EDITOR is not set")
	}

	tmp, err := os.CreateTemp("", "matui-*.md")
	if err != nil {
		return "", fmt.Errorf("failed to create editor buffer: %w", err)
	}
	defer os.Remove(tmp.Name())

	content := existing
	if footer != "" {
		content = existing + "\n\n" + sentinel + "\n" + footer
	}
	if content != "" {
		if _, err = tmp.WriteString(content); err != nil {
			tmp.Close()
			return "", fmt.Errorf("failed to pre-fill editor buffer: %w", err)
		}
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to flush editor buffer: %w", err)
	}

	var args []string
	// Set up vim just right, if that's what we're using.
	if strings.HasSuffix(editor, "vim") || strings.HasSuffix(editor, "vi") {
		if existing == "" {
			// Start in insert mode and let a bare enter save and quit.
			args = append(args, "+star", "-c", "imap <C-M> <esc>:wq<enter>")
		}
		args = append(args, "-c", "set wrap linebreak nolist")
		if cleanVim {
			args = append(args, "--clean")
		}
	}
	args = append(args, tmp.Name())

	cmd := exec.Command(editor, args...)
	// xterm1 is a terminfo that ignores the alternate screen, so the
	// editor doesn't bounce us back to the shell's main screen.
	cmd.Env = append(os.Environ(), "TERM=xterm1")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err = cmd.Run(); err != nil {
		return "", fmt.Errorf("editor exited abnormally: %w", err)
	}

	out, err := os.ReadFile(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("failed to read editor buffer: %w", err)
	}
	return StripFooter(string(out)), nil
}

// StripFooter removes the sentinel line and everything after it, then
// trims surrounding whitespace.
func StripFooter(text string) string {
	if idx := strings.Index(text, sentinel); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
