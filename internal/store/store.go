// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/wisper-social/wisperbot/internal/domain"
)

// Repository defines the interface for persisting conversation state.
// It is the single source of truth across process restarts: in-memory
// session and job registries are caches reconcilable from it.
type Repository interface {
	// GetSession retrieves a session by chat id. Returns (nil, nil) if
	// no session exists for the chat.
	GetSession(ctx context.Context, chatID int64) (*domain.Session, error)

	// ListSessions retrieves all persisted sessions, used to rehydrate
	// the in-memory registry at startup.
	ListSessions(ctx context.Context) ([]*domain.Session, error)

	// UpsertSession creates or updates a session record.
	UpsertSession(ctx context.Context, s *domain.Session) error

	// InsertScheduledSend persists a new pending send and returns its id.
	InsertScheduledSend(ctx context.Context, send *domain.ScheduledSend) (int64, error)

	// GetScheduledSend retrieves one scheduled send by id. Returns
	// (nil, nil) if absent.
	GetScheduledSend(ctx context.Context, id int64) (*domain.ScheduledSend, error)

	// ListPendingSends retrieves all non-completed scheduled sends,
	// ordered by delivery time.
	ListPendingSends(ctx context.Context) ([]*domain.ScheduledSend, error)

	// MarkSendCompleted flips the completed flag for a send. It reports
	// whether this call performed the flip, making it usable as a
	// single-writer gate against double delivery.
	MarkSendCompleted(ctx context.Context, id int64) (bool, error)

	// AppendEvent records one entry in the append-only audit log.
	AppendEvent(ctx context.Context, e *domain.Event) error

	// ListEventsByChat returns the audit log entries involving a chat,
	// oldest first, sufficient to replay that session's history.
	ListEventsByChat(ctx context.Context, chatID int64) ([]*domain.Event, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
