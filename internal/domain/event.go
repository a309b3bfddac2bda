package domain

import "time"

// EventKind classifies audit log entries.
type EventKind string

const (
	EventStatusChange EventKind = "status_change"
	EventRecvText     EventKind = "recv_text"
	EventRecvVoice    EventKind = "recv_voice"
	EventSendText     EventKind = "send_text"
	EventSendVoice    EventKind = "send_voice"
	EventSendImage    EventKind = "send_image"
)

// Event is one append-only audit log entry. The log records every status
// transition and every inbound/outbound message, and is replayable to
// reconstruct a session's history.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Sender     string    `json:"sender"`
	SenderID   int64     `json:"sender_id"`
	Receiver   string    `json:"receiver"`
	ReceiverID int64     `json:"receiver_id"`
	Kind       EventKind `json:"kind"`
	Filename   string    `json:"filename,omitempty"`
	Status     Status    `json:"status,omitempty"`
}
