// Package gateway abstracts the chat transport behind a narrow
// send/receive interface.
package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout marks a transport timeout. Timeouts are the only retryable
// failure class: a lost outbound message silently breaks the
// conversation, so callers retry these indefinitely.
var ErrTimeout = errors.New("gateway: request timed out")

// IsRetryable reports whether the error warrants another send attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Update is one inbound message from the chat platform.
type Update struct {
	ChatID    int64     `json:"chat_id"`
	ChatKind  string    `json:"chat_kind"` // "direct" or "group"
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	ChatTitle string    `json:"chat_title,omitempty"`
	Text      string    `json:"text,omitempty"`
	VoiceRef  string    `json:"voice_ref,omitempty"` // fetchable reference to the voice file
	Received  time.Time `json:"received"`
}

// IsVoice reports whether the update carries a voice recording.
func (u Update) IsVoice() bool {
	return u.VoiceRef != ""
}

// Messenger is the delivery adapter consumed by the engine and the
// scheduler. Implementations return ErrTimeout-wrapped errors for
// transient transport failures; all other errors are terminal for the
// operation.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendVoice(ctx context.Context, chatID int64, filePath string) error
	SendImage(ctx context.Context, chatID int64, filePath string) error

	// DownloadVoice fetches the voice recording behind an update's
	// VoiceRef into destDir and returns the local file path.
	DownloadVoice(ctx context.Context, voiceRef, destDir string) (string, error)

	// LeaveChat exits a group chat; the bot is for direct chats only.
	LeaveChat(ctx context.Context, chatID int64) error
}
