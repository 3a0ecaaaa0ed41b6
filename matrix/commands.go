// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package matrix

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/xid"
	"go.mau.fi/util/variationselector"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/attachment"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/matui/media"
	"go.mau.fi/matui/message"
	"go.mau.fi/matui/spawn"
)

// Progress popup delays in milliseconds. Fast operations never get a
// spinner at all.
const (
	sendDelay     = 500
	fetchDelay    = 1000
	downloadDelay = 250

	defaultPageSize = 25

	typingTimeout = 4 * time.Second
	typingRefresh = time.Second
)

// task runs fn in the background with a delayed progress indicator
// bracketing it. Errors become Error events.
func (m *Matrix) task(progress string, delay int64, fn func(ctx context.Context) error) {
	m.rt.Go(func(ctx context.Context) {
		m.send(ProgressStarted{Message: progress, Delay: delay})
		defer m.send(ProgressComplete{})
		if err := fn(ctx); err != nil {
			m.log.Err(err).Str("task", progress).Msg("Background task failed")
			m.send(Error{Message: fmt.Sprintf("%s: %v", progress, err)})
		}
	})
}

// FetchRooms re-emits the decorated room list, e.g. when the picker
// opens.
func (m *Matrix) FetchRooms() {
	m.rt.Go(func(ctx context.Context) {
		m.send(Rooms{Rooms: m.cache.Rooms()})
	})
}

// FetchMessages pages room history backwards from the cursor. An empty
// cursor starts at the current end of the timeline.
func (m *Matrix) FetchMessages(roomID id.RoomID, cursor string, limit int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	m.task("Fetching messages", fetchDelay, func(ctx context.Context) error {
		resp, err := m.client.Messages(ctx, roomID, cursor, "", mautrix.DirectionBackward, nil, limit)
		if err != nil {
			return err
		}
		events := make([]*event.Event, 0, len(resp.Chunk))
		for _, evt := range resp.Chunk {
			events = append(events, m.prepareEvent(ctx, evt))
		}
		m.send(TimelineBatch{RoomID: roomID, Events: events, Cursor: resp.End})
		return nil
	})
}

// prepareEvent parses and, if necessary, decrypts a raw history event so
// it looks like one that came through sync.
func (m *Matrix) prepareEvent(ctx context.Context, evt *event.Event) *event.Event {
	if err := evt.Content.ParseRaw(evt.Type); err != nil {
		m.log.Debug().Err(err).Stringer("event_id", evt.ID).Msg("Failed to parse event content")
	}
	if evt.Type != event.EventEncrypted {
		return evt
	}
	decrypted, err := m.crypto.Decrypt(ctx, evt)
	if err != nil {
		m.log.Debug().Err(err).Stringer("event_id", evt.ID).Msg("Failed to decrypt history event")
		return evt
	}
	return decrypted
}

// FetchRoomMember resolves one member profile on demand. Lazy-loaded
// sync means most profiles arrive this way.
func (m *Matrix) FetchRoomMember(roomID id.RoomID, userID id.UserID) {
	m.rt.Go(func(ctx context.Context) {
		var content event.MemberEventContent
		err := m.client.StateEvent(ctx, roomID, event.StateMember, userID.String(), &content)
		if err != nil {
			m.log.Debug().Err(err).Stringer("user_id", userID).Msg("Failed to fetch member profile")
			return
		}
		m.send(RoomMember{RoomID: roomID, Member: memberFromContent(userID, &content)})
	})
}

// SendTextMessage sends markdown-formatted text.
func (m *Matrix) SendTextMessage(roomID id.RoomID, text string) {
	m.task("Sending message", sendDelay, func(ctx context.Context) error {
		content := format.RenderMarkdown(text, true, false)
		_, err := m.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content)
		return err
	})
}

// SendReply sends markdown-formatted text as a rich reply.
func (m *Matrix) SendReply(roomID id.RoomID, inReplyTo id.EventID, text string) {
	m.task("Sending reply", sendDelay, func(ctx context.Context) error {
		content := format.RenderMarkdown(text, true, false)
		content.RelatesTo = (&event.RelatesTo{}).SetReplyTo(inReplyTo)
		_, err := m.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content)
		return err
	})
}

// ReplaceEvent edits a previously sent message.
func (m *Matrix) ReplaceEvent(roomID id.RoomID, target id.EventID, text string) {
	m.task("Sending edit", sendDelay, func(ctx context.Context) error {
		content := format.RenderMarkdown(text, true, false)
		content.SetEdit(target)
		_, err := m.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content)
		return err
	})
}

// SendReaction reacts to a message. The key is fully qualified so other
// clients group it with their own emoji variants.
func (m *Matrix) SendReaction(roomID id.RoomID, target id.EventID, key string) {
	m.task("Sending reaction", sendDelay, func(ctx context.Context) error {
		_, err := m.client.SendReaction(ctx, roomID, target, variationselector.Add(key))
		return err
	})
}

// RedactEvent deletes a message or reaction.
func (m *Matrix) RedactEvent(roomID id.RoomID, target id.EventID) {
	m.task("Deleting message", sendDelay, func(ctx context.Context) error {
		_, err := m.client.RedactEvent(ctx, roomID, target)
		return err
	})
}

// SendAttachments uploads each picked file and sends it as the matching
// message type, with a thumbnail for videos.
func (m *Matrix) SendAttachments(roomID id.RoomID, paths []string) {
	m.task("Uploading", 0, func(ctx context.Context) error {
		encrypted, err := m.client.StateStore.IsEncrypted(ctx, roomID)
		if err != nil {
			return fmt.Errorf("failed to check room encryption: %w", err)
		}
		for i, path := range paths {
			m.send(ProgressStarted{Message: fmt.Sprintf("Uploading %d of %d.", i+1, len(paths))})
			if err = m.sendAttachment(ctx, roomID, path, encrypted); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
		}
		return nil
	})
}

func (m *Matrix) sendAttachment(ctx context.Context, roomID id.RoomID, path string, encrypted bool) error {
	mime := media.MimeFromPath(path)
	info, thumb, err := media.Analyze(path, mime)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	content := event.MessageEventContent{
		MsgType: msgTypeForMime(mime),
		Body:    filepath.Base(path),
		Info: &event.FileInfo{
			MimeType: mime,
			Size:     len(data),
		},
	}
	if info != nil {
		content.Info.Width = info.Width
		content.Info.Height = info.Height
		content.Info.Duration = int(info.Duration.Milliseconds())
	}

	url, file, err := m.upload(ctx, data, mime, filepath.Base(path), encrypted)
	if err != nil {
		return err
	}
	if file != nil {
		content.File = file
	} else {
		content.URL = url
	}

	if thumb != nil {
		thumbURL, thumbFile, err := m.upload(ctx, thumb.Data, thumb.Mime, "thumbnail", encrypted)
		if err != nil {
			return err
		}
		content.Info.ThumbnailInfo = &event.FileInfo{
			MimeType: thumb.Mime,
			Width:    thumb.Width,
			Height:   thumb.Height,
			Size:     len(thumb.Data),
		}
		if thumbFile != nil {
			content.Info.ThumbnailFile = thumbFile
		} else {
			content.Info.ThumbnailURL = thumbURL
		}
	}

	_, err = m.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content)
	return err
}

// upload pushes bytes to the media repo, encrypting them first when the
// room is encrypted. Exactly one of the returns is set.
func (m *Matrix) upload(ctx context.Context, data []byte, mime, name string, encrypted bool) (id.ContentURIString, *event.EncryptedFileInfo, error) {
	var file *event.EncryptedFileInfo
	if encrypted {
		file = &event.EncryptedFileInfo{EncryptedFile: *attachment.NewEncryptedFile()}
		file.EncryptInPlace(data)
		mime = "application/octet-stream"
	}
	resp, err := m.client.UploadMedia(ctx, mautrix.ReqUploadMedia{
		ContentBytes: data,
		ContentType:  mime,
		FileName:     name,
	})
	if err != nil {
		return "", nil, err
	}
	if file != nil {
		file.URL = resp.ContentURI.CUString()
		return "", file, nil
	}
	return resp.ContentURI.CUString(), nil, nil
}

func msgTypeForMime(mime string) event.MessageType {
	switch {
	case len(mime) > 6 && mime[:6] == "image/":
		return event.MsgImage
	case len(mime) > 6 && mime[:6] == "video/":
		return event.MsgVideo
	case len(mime) > 6 && mime[:6] == "audio/":
		return event.MsgAudio
	default:
		return event.MsgFile
	}
}

// OpenContent downloads a message's attachment to a temp file and hands
// it to the system opener.
func (m *Matrix) OpenContent(msg *message.Message) {
	m.task("Downloading", downloadDelay, func(ctx context.Context) error {
		data, name, err := m.download(ctx, msg)
		if err != nil {
			return err
		}
		// Prefix with a unique ID so two downloads with the same file
		// name never clobber each other.
		path := filepath.Join(os.TempDir(), xid.New().String()+"-"+name)
		if err = os.WriteFile(path, data, 0o600); err != nil {
			return err
		}
		defer os.Remove(path)
		return spawn.ViewFile(path)
	})
}

// SaveContent downloads a message's attachment into ~/Downloads.
func (m *Matrix) SaveContent(msg *message.Message) {
	m.task("Downloading", downloadDelay, func(ctx context.Context) error {
		data, name, err := m.download(ctx, msg)
		if err != nil {
			return err
		}
		path, err := spawn.SaveToDownloads(data, name)
		if err != nil {
			return err
		}
		m.send(Confirm{Header: "Saved", Message: path})
		return nil
	})
}

// download fetches and, if needed, decrypts a message attachment.
func (m *Matrix) download(ctx context.Context, msg *message.Message) ([]byte, string, error) {
	content := msg.Body
	if content == nil {
		return nil, "", fmt.Errorf("message has no content")
	}
	url := content.URL
	if content.File != nil {
		url = content.File.URL
	}
	mxc, err := url.Parse()
	if err != nil {
		return nil, "", fmt.Errorf("invalid content URL: %w", err)
	}
	data, err := m.client.DownloadBytes(ctx, mxc)
	if err != nil {
		return nil, "", err
	}
	if content.File != nil {
		if err = content.File.DecryptInPlace(data); err != nil {
			return nil, "", fmt.Errorf("failed to decrypt attachment: %w", err)
		}
	}
	name := content.Body
	if name == "" {
		name = mxc.FileID
	}
	return data, name, nil
}

// ReadTo moves both the fully-read marker and the public read receipt.
func (m *Matrix) ReadTo(roomID id.RoomID, eventID id.EventID) {
	m.rt.Go(func(ctx context.Context) {
		err := m.client.SetReadMarkers(ctx, roomID, &mautrix.ReqSetReadMarkers{
			FullyRead: eventID,
			Read:      eventID,
		})
		if err != nil {
			m.log.Warn().Err(err).Stringer("event_id", eventID).Msg("Failed to set read markers")
		}
	})
}

// TypingNotification starts or stops the typing pulse. While typing, the
// notice is refreshed every second against the short server expiry so it
// stays up for as long as the editor is open.
func (m *Matrix) TypingNotification(roomID id.RoomID, typing bool) {
	m.typingMu.Lock()
	if m.typingStop != nil {
		m.typingStop()
		m.typingStop = nil
	}
	if typing {
		stop, cancel := context.WithCancel(context.Background())
		m.typingStop = cancel
		m.rt.Go(func(ctx context.Context) {
			m.typingPulse(ctx, stop, roomID)
		})
	} else {
		m.rt.Go(func(ctx context.Context) {
			if _, err := m.client.UserTyping(ctx, roomID, false, 0); err != nil {
				m.log.Debug().Err(err).Msg("Failed to clear typing notification")
			}
		})
	}
	m.typingMu.Unlock()
}

func (m *Matrix) typingPulse(ctx, stop context.Context, roomID id.RoomID) {
	ticker := time.NewTicker(typingRefresh)
	defer ticker.Stop()
	for {
		if _, err := m.client.UserTyping(ctx, roomID, true, typingTimeout); err != nil {
			m.log.Debug().Err(err).Msg("Failed to send typing notification")
		}
		select {
		case <-ctx.Done():
			return
		case <-stop.Done():
			return
		case <-ticker.C:
		}
	}
}

// ConfirmVerification tells the helper the emojis matched.
func (m *Matrix) ConfirmVerification(txnID id.VerificationTransactionID) {
	m.rt.Go(func(ctx context.Context) {
		if err := m.verify.confirm(ctx, txnID); err != nil {
			m.send(Error{Message: fmt.Sprintf("Verification failed: %v", err)})
		}
	})
}

// MismatchedVerification cancels the verification because the emojis did
// not match.
func (m *Matrix) MismatchedVerification(txnID id.VerificationTransactionID) {
	m.rt.Go(func(ctx context.Context) {
		if err := m.verify.mismatch(ctx, txnID); err != nil {
			m.send(Error{Message: fmt.Sprintf("Failed to cancel verification: %v", err)})
		}
	})
}
