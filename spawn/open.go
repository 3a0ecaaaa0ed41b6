// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package spawn

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"mvdan.cc/xurls/v2"
)

func openerCommand(target string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", "-W", target)
	default:
		return exec.Command("xdg-open", target)
	}
}

// ViewFile opens a file with the desktop's default application and waits
// for the viewer to exit, so temporary files stay alive long enough.
func ViewFile(path string) error {
	cmd := openerCommand(path)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ViewText dumps text to a temporary file and opens it with the default
// viewer, blocking until the viewer exits.
func ViewText(text string) error {
	tmp, err := os.CreateTemp("", "matui-*.txt")
	if err != nil {
		return fmt.Errorf("failed to create view file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err = tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write view file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to flush view file: %w", err)
	}
	return ViewFile(tmp.Name())
}

// OpenLinks finds URLs in the text and opens each in the default browser
// without waiting for it.
func OpenLinks(text string) error {
	links := xurls.Strict().FindAllString(text, -1)
	var failed []string
	for _, link := range links {
		cmd := openerCommand(link)
		cmd.Stdout = nil
		cmd.Stderr = nil
		if err := cmd.Start(); err != nil {
			failed = append(failed, link)
			continue
		}
		go cmd.Wait()
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to open %s", strings.Join(failed, ", "))
	}
	return nil
}

// PickFiles shows a multi-select file dialog rooted at the home
// directory. An empty result with nil error means the user cancelled.
func PickFiles() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/"
	}
	cmd := exec.Command("zenity", "--file-selection", "--multiple", "--separator=\n", "--filename="+home+"/")
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			// Cancelled.
			return nil, nil
		}
		return nil, fmt.Errorf("file dialog failed: %w", err)
	}
	var paths []string
	for _, p := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}
