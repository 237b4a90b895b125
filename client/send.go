package client

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/example/agent-chat/domain/chat"
)

// ErrNotConnected is returned when a send is attempted without an open
// channel. No retry queue exists; the caller decides whether to resend.
var ErrNotConnected = errors.New("channel not connected")

var uploadingStatus = domain.Status{Content: "Uploading files...", Icon: "⏳"}

// Send uploads any staged files, appends the message locally and transmits
// it over the channel.
//
// Staged files are uploaded sequentially; if any upload fails the whole send
// is aborted with no transcript change and no frame transmitted. The local
// optimistic echo therefore never shows a message claiming files that failed
// to upload. References to already-uploaded files are merged in after the
// fresh uploads, preserving order.
//
// Send is not reentrant-safe: two concurrent sends interleave their uploads
// arbitrarily. A single chat input drives it, so this is accepted.
func (c *Connector) Send(ctx context.Context, text string, staged []StagedFile, referenced []domain.FileRef) error {
	if !c.IsConnected() {
		c.cfg.Notifier.Notify(Notice{Kind: NoticeConnectionLost, Text: "Connection lost. Please try again."})
		return ErrNotConnected
	}

	var refs []domain.FileRef
	if len(staged) > 0 {
		c.model.SetStatus(uploadingStatus)
		token := c.accessToken()
		for _, file := range staged {
			ref, err := c.cfg.Files.Upload(ctx, token, file)
			if err != nil {
				c.model.ClearStatus()
				c.cfg.Notifier.Notify(Notice{
					Kind: NoticeUploadFailed,
					Text: fmt.Sprintf("Failed to upload %s.", file.Filename),
				})
				return fmt.Errorf("failed to upload %s: %w", file.Filename, err)
			}
			refs = append(refs, ref)
		}
	}
	refs = append(refs, referenced...)

	msg := domain.NewUserMessage(text, refs)

	// Echo and transmit on the run loop so they stay ordered with inbound
	// frames and the channel cannot change underneath the write.
	errc := make(chan error, 1)
	c.post(func() {
		if c.machine.State != StateOpen || c.ch == nil {
			errc <- ErrNotConnected
			return
		}

		data, err := domain.EncodeFrame(domain.MessageFrame(msg))
		if err != nil {
			errc <- err
			return
		}

		c.model.Append(msg)
		if err := c.ch.WriteMessage(data); err != nil {
			// The message was already echoed; delivery is assumed and not
			// reconciled. The reconnect loop will surface the dead channel.
			c.cfg.Logger.Warn("Transmit failed after local echo", "error", err)
		}
		c.model.ClearStatus()
		errc <- nil
	})

	select {
	case err := <-errc:
		if errors.Is(err, ErrNotConnected) {
			c.model.ClearStatus()
			c.cfg.Notifier.Notify(Notice{Kind: NoticeConnectionLost, Text: "Connection lost. Please try again."})
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// ClearHistory asks the backend to drop the stored transcript and, on
// success, empties the local one. On failure the transcript is left
// untouched; the operation is idempotent and safe to retry.
func (c *Connector) ClearHistory(ctx context.Context) error {
	if err := c.cfg.API.ClearHistory(ctx, c.accessToken()); err != nil {
		c.cfg.Notifier.Notify(Notice{Kind: NoticeError, Text: "Failed to clear chat history."})
		return fmt.Errorf("failed to clear history: %w", err)
	}
	c.model.Clear()
	return nil
}
