// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package media extracts upload metadata and thumbnails from local files,
// shelling out to ffmpeg/ffprobe for anything with frames.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Info describes the primary file being uploaded.
type Info struct {
	Width    int
	Height   int
	Size     int
	Duration time.Duration
	Animated bool
}

// Thumbnail is a JPEG preview for videos and animated images.
type Thumbnail struct {
	Data   []byte
	Mime   string
	Width  int
	Height int
}

// Analyze inspects a local file and returns its info plus a thumbnail
// where one is worth generating. Static images get info only, other file
// types get neither.
func Analyze(path, mime string) (*Info, *Thumbnail, error) {
	switch {
	case strings.HasPrefix(mime, "video/"):
		return videoThumbnail(path)
	case mime == "image/gif" || mime == "image/webp":
		return animatedThumbnail(path)
	case strings.HasPrefix(mime, "image/"):
		info, err := imageInfo(path)
		return info, nil, err
	default:
		stat, err := os.Stat(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		return &Info{Size: int(stat.Size())}, nil, nil
	}
}

func imageInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &Info{Width: cfg.Width, Height: cfg.Height, Size: len(data)}, nil
}

// videoThumbnail grabs a frame at half the duration, which tends to be
// more representative than the first frame.
func videoThumbnail(path string) (*Info, *Thumbnail, error) {
	duration, err := videoDuration(path)
	if err != nil {
		return nil, nil, err
	}
	thumb, err := extractFrame(path, duration/2)
	if err != nil {
		return nil, nil, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	info := &Info{
		Width:    thumb.Width,
		Height:   thumb.Height,
		Size:     int(stat.Size()),
		Duration: time.Duration(duration * float64(time.Second)),
	}
	return info, thumb, nil
}

func animatedThumbnail(path string) (*Info, *Thumbnail, error) {
	thumb, err := extractFrame(path, 0)
	if err != nil {
		return nil, nil, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	info := &Info{
		Width:    thumb.Width,
		Height:   thumb.Height,
		Size:     int(stat.Size()),
		Animated: true,
	}
	return info, thumb, nil
}

func extractFrame(path string, offset float64) (*Thumbnail, error) {
	tmp, err := os.CreateTemp("", "matui-thumb-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create thumbnail file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	args := []string{"-y", "-loglevel", "error"}
	if offset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(offset, 'f', 3, 64))
	}
	args = append(args, "-i", path, "-frames:v", "1", "-update", "true", tmp.Name())
	if out, err := exec.Command("ffmpeg", args...).CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read thumbnail: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode thumbnail: %w", err)
	}
	return &Thumbnail{
		Data:   data,
		Mime:   "image/jpeg",
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

func videoDuration(path string) (float64, error) {
	out, err := exec.Command("ffprobe",
		"-loglevel", "error",
		"-of", "csv=p=0",
		"-show_entries", "format=duration",
		path).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable video duration: %w", err)
	}
	return duration, nil
}
