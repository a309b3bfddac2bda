// Package domain contains core domain types for WisperBot.
package domain

import (
	"time"
)

// ChatKind distinguishes one-on-one chats from group chats.
type ChatKind string

const (
	ChatDirect ChatKind = "direct"
	ChatGroup  ChatKind = "group"
)

// Session holds the conversation state for one chat. It is rehydrated
// from the store at startup and persisted on every mutating operation;
// sessions are never deleted (cancellation is a status, not a removal).
type Session struct {
	ChatID    int64    `json:"chat_id"`
	Name      string   `json:"name"`
	FirstName string   `json:"first_name"`
	Kind      ChatKind `json:"kind"`

	Status     Status `json:"status"`
	Week       int    `json:"week"`
	VoiceCount int    `json:"voice_count"`

	// StartDate anchors this session's week-1 schedule. Week2StartDate is
	// set once, lazily, when the pair rolls over to week 2.
	StartDate      time.Time  `json:"start_date"`
	Week2StartDate *time.Time `json:"week2_start_date,omitempty"`

	// PairedUser is the partner's name from the pairing directory.
	// PairedChatID is resolved lazily once the partner's session exists;
	// zero means not yet resolved.
	PairedUser   string `json:"paired_user,omitempty"`
	PairedChatID int64  `json:"paired_chat_id,omitempty"`

	// Sent tracks artifact identifiers already delivered to this chat so
	// nothing is sent twice.
	Sent []string `json:"sent,omitempty"`

	// Subdir is the working subdirectory for incoming voice files,
	// switched as the participant moves between phases.
	Subdir string `json:"subdir"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// PendingJobs buffers scheduled-send ids read from the store before a
	// live delivery context existed. In-memory only; replayed on the next
	// touch of this session.
	PendingJobs []int64 `json:"-"`
}

// Paired reports whether the partner's name is known.
func (s *Session) Paired() bool {
	return s.PairedUser != ""
}

// PartnerResolved reports whether the partner's chat id is known.
func (s *Session) PartnerResolved() bool {
	return s.PairedChatID != 0
}

// Cancelled reports whether the session was abandoned.
func (s *Session) Cancelled() bool {
	return s.Status == StatusCancelled
}

// HasSent reports whether the artifact was already delivered to this chat.
func (s *Session) HasSent(artifact string) bool {
	for _, a := range s.Sent {
		if a == artifact {
			return true
		}
	}
	return false
}

// Anchor returns the baseline date for the session's current week.
func (s *Session) Anchor() time.Time {
	if s.Week >= 2 && s.Week2StartDate != nil {
		return *s.Week2StartDate
	}
	return s.StartDate
}
