package domain

import "time"

// PayloadKind discriminates what a scheduled send delivers.
type PayloadKind string

const (
	PayloadText  PayloadKind = "text"
	PayloadVoice PayloadKind = "voice"
	PayloadImage PayloadKind = "image"
)

// ScheduledSend is a durable record of one future message delivery.
// Exactly one delivery attempt is owed per record: Completed flips once,
// either when the timer fires it or at reconciliation time when its
// target has already elapsed.
type ScheduledSend struct {
	ID        int64       `json:"id"`
	ChatID    int64       `json:"chat_id"`
	DeliverAt time.Time   `json:"deliver_at"`
	Kind      PayloadKind `json:"kind"`

	// Payload is the message body for text sends and a file path for
	// voice and image sends.
	Payload string `json:"payload"`

	// NextStatus, when non-empty, is applied to the owning session after
	// delivery.
	NextStatus Status `json:"next_status,omitempty"`

	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}
