package gateway

import (
	"context"
	"log/slog"
	"time"
)

// Reliable wraps a Messenger and retries timeout-class failures with a
// fixed delay, indefinitely, until the context is cancelled. Terminal
// failures (missing file, closed connection) pass through unchanged.
type Reliable struct {
	inner Messenger
	delay time.Duration
}

// NewReliable wraps m with indefinite fixed-delay retry on timeouts.
func NewReliable(m Messenger, delay time.Duration) *Reliable {
	return &Reliable{inner: m, delay: delay}
}

func (r *Reliable) retry(ctx context.Context, op string, chatID int64, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		slog.Warn("gateway request timed out, retrying",
			"op", op, "chat_id", chatID, "attempt", attempt, "delay", r.delay)
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Reliable) SendText(ctx context.Context, chatID int64, text string) error {
	return r.retry(ctx, "send_text", chatID, func() error {
		return r.inner.SendText(ctx, chatID, text)
	})
}

func (r *Reliable) SendVoice(ctx context.Context, chatID int64, filePath string) error {
	return r.retry(ctx, "send_voice", chatID, func() error {
		return r.inner.SendVoice(ctx, chatID, filePath)
	})
}

func (r *Reliable) SendImage(ctx context.Context, chatID int64, filePath string) error {
	return r.retry(ctx, "send_image", chatID, func() error {
		return r.inner.SendImage(ctx, chatID, filePath)
	})
}

func (r *Reliable) DownloadVoice(ctx context.Context, voiceRef, destDir string) (string, error) {
	var path string
	err := r.retry(ctx, "download_voice", 0, func() error {
		var err error
		path, err = r.inner.DownloadVoice(ctx, voiceRef, destDir)
		return err
	})
	return path, err
}

func (r *Reliable) LeaveChat(ctx context.Context, chatID int64) error {
	return r.retry(ctx, "leave_chat", chatID, func() error {
		return r.inner.LeaveChat(ctx, chatID)
	})
}
