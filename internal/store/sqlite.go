package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wisper-social/wisperbot/internal/domain"
	"github.com/wisper-social/wisperbot/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	upsertRetries   = 3
	upsertBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	sendMu sync.Mutex // Mutex for scheduled-send writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		chat_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		chat_kind TEXT NOT NULL,
		status TEXT NOT NULL,
		week INTEGER NOT NULL DEFAULT 1,
		voice_count INTEGER NOT NULL DEFAULT 0,
		start_date INTEGER NOT NULL,
		week2_start_date INTEGER,
		paired_user TEXT,
		paired_chat_id INTEGER,
		sent_json TEXT NOT NULL DEFAULT '[]',
		subdir TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_name ON sessions(name);

	CREATE TABLE IF NOT EXISTS scheduled_sends (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER NOT NULL,
		deliver_at INTEGER NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		next_status TEXT NOT NULL DEFAULT '',
		completed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sends_pending ON scheduled_sends(deliver_at) WHERE completed = 0;

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		sender TEXT NOT NULL DEFAULT '',
		sender_id INTEGER NOT NULL DEFAULT 0,
		receiver TEXT NOT NULL DEFAULT '',
		receiver_id INTEGER NOT NULL DEFAULT 0,
		kind TEXT NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_events_sender ON events(sender_id, ts);
	CREATE INDEX IF NOT EXISTS idx_events_receiver ON events(receiver_id, ts);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const sessionColumns = `chat_id, name, first_name, chat_kind, status, week, voice_count,
	       start_date, week2_start_date, paired_user, paired_chat_id,
	       sent_json, subdir, created_at, updated_at`

// GetSession retrieves a session by chat id.
func (s *SQLiteStore) GetSession(ctx context.Context, chatID int64) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE chat_id = ?`

	row := s.db.QueryRowContext(ctx, query, chatID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// ListSessions retrieves all persisted sessions.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY chat_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			// A malformed row must not abort startup; skip it with a warning.
			slog.Warn("skipping malformed session row", "error", err)
			continue
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		sess         domain.Session
		status       string
		week2        sql.NullInt64
		pairedUser   sql.NullString
		pairedChatID sql.NullInt64
		sentJSON     string
		startDate    int64
		createdAt    int64
		updatedAt    int64
	)

	err := row.Scan(
		&sess.ChatID, &sess.Name, &sess.FirstName, &sess.Kind, &status,
		&sess.Week, &sess.VoiceCount, &startDate, &week2,
		&pairedUser, &pairedChatID, &sentJSON, &sess.Subdir,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := domain.ParseStatus(status)
	if err != nil {
		// Unknown tags fall back to the initial state rather than
		// propagating an invented status into the state machine.
		slog.Warn("session has unknown status, resetting to none", "chat_id", sess.ChatID, "status", status)
		parsed = domain.StatusNone
	}
	sess.Status = parsed

	sess.StartDate = time.Unix(startDate, 0)
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	if week2.Valid {
		ts := time.Unix(week2.Int64, 0)
		sess.Week2StartDate = &ts
	}
	sess.PairedUser = pairedUser.String
	sess.PairedChatID = pairedChatID.Int64

	if err := json.Unmarshal([]byte(sentJSON), &sess.Sent); err != nil {
		slog.Warn("session has malformed sent list, resetting", "chat_id", sess.ChatID, "error", err)
		sess.Sent = nil
	}

	return &sess, nil
}

// UpsertSession creates or updates a session record.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *domain.Session) error {
	sentJSON, err := json.Marshal(sess.Sent)
	if err != nil {
		return fmt.Errorf("marshal sent list: %w", err)
	}

	query := `
	INSERT INTO sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_id) DO UPDATE SET
		name = excluded.name,
		first_name = excluded.first_name,
		chat_kind = excluded.chat_kind,
		status = excluded.status,
		week = excluded.week,
		voice_count = excluded.voice_count,
		start_date = excluded.start_date,
		week2_start_date = COALESCE(excluded.week2_start_date, sessions.week2_start_date),
		paired_user = excluded.paired_user,
		paired_chat_id = excluded.paired_chat_id,
		sent_json = excluded.sent_json,
		subdir = excluded.subdir,
		updated_at = excluded.updated_at`

	var week2 interface{}
	if sess.Week2StartDate != nil {
		week2 = sess.Week2StartDate.Unix()
	}
	var pairedUser interface{}
	if sess.PairedUser != "" {
		pairedUser = sess.PairedUser
	}
	var pairedChatID interface{}
	if sess.PairedChatID != 0 {
		pairedChatID = sess.PairedChatID
	}

	return shared.RetrySQLite(ctx, "UpsertSession", upsertRetries, upsertBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			sess.ChatID, sess.Name, sess.FirstName, string(sess.Kind), string(sess.Status),
			sess.Week, sess.VoiceCount, sess.StartDate.Unix(), week2,
			pairedUser, pairedChatID, string(sentJSON), sess.Subdir,
			sess.CreatedAt.Unix(), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// InsertScheduledSend persists a new pending send and returns its id.
func (s *SQLiteStore) InsertScheduledSend(ctx context.Context, send *domain.ScheduledSend) (int64, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	query := `
	INSERT INTO scheduled_sends (chat_id, deliver_at, kind, payload, next_status, completed, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	completed := 0
	if send.Completed {
		completed = 1
	}

	res, err := s.db.ExecContext(ctx, query,
		send.ChatID, send.DeliverAt.Unix(), string(send.Kind), send.Payload,
		string(send.NextStatus), completed, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert scheduled send: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("scheduled send id: %w", err)
	}
	send.ID = id
	return id, nil
}

// GetScheduledSend retrieves one scheduled send by id.
func (s *SQLiteStore) GetScheduledSend(ctx context.Context, id int64) (*domain.ScheduledSend, error) {
	query := `
		SELECT id, chat_id, deliver_at, kind, payload, next_status, completed, created_at
		FROM scheduled_sends WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	send, err := scanSend(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan scheduled send: %w", err)
	}
	return send, nil
}

// ListPendingSends retrieves all non-completed sends ordered by delivery time.
func (s *SQLiteStore) ListPendingSends(ctx context.Context) ([]*domain.ScheduledSend, error) {
	query := `
		SELECT id, chat_id, deliver_at, kind, payload, next_status, completed, created_at
		FROM scheduled_sends WHERE completed = 0 ORDER BY deliver_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pending sends: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close pending send rows", "error", closeErr)
		}
	}()

	var sends []*domain.ScheduledSend
	for rows.Next() {
		send, err := scanSend(rows)
		if err != nil {
			slog.Warn("skipping malformed scheduled send row", "error", err)
			continue
		}
		sends = append(sends, send)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending sends: %w", err)
	}
	return sends, nil
}

func scanSend(row rowScanner) (*domain.ScheduledSend, error) {
	var (
		send       domain.ScheduledSend
		deliverAt  int64
		createdAt  int64
		completed  int
		nextStatus string
	)
	if err := row.Scan(&send.ID, &send.ChatID, &deliverAt, &send.Kind,
		&send.Payload, &nextStatus, &completed, &createdAt); err != nil {
		return nil, err
	}
	send.DeliverAt = time.Unix(deliverAt, 0)
	send.CreatedAt = time.Unix(createdAt, 0)
	send.Completed = completed != 0
	if nextStatus != "" {
		parsed, err := domain.ParseStatus(nextStatus)
		if err != nil {
			return nil, fmt.Errorf("scheduled send %d: %w", send.ID, err)
		}
		send.NextStatus = parsed
	}
	return &send, nil
}

// MarkSendCompleted flips the completed flag, reporting whether this call
// performed the flip.
func (s *SQLiteStore) MarkSendCompleted(ctx context.Context, id int64) (bool, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	var flipped bool
	err := shared.RetrySQLite(ctx, "MarkSendCompleted", upsertRetries, upsertBaseDelay, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE scheduled_sends SET completed = 1 WHERE id = ? AND completed = 0`, id)
		if err != nil {
			return fmt.Errorf("mark send completed: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		flipped = rows > 0
		return nil
	})
	return flipped, err
}

// AppendEvent records one audit log entry.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e *domain.Event) error {
	query := `
	INSERT INTO events (id, ts, sender, sender_id, receiver, receiver_id, kind, filename, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return shared.RetrySQLite(ctx, "AppendEvent", upsertRetries, upsertBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			e.ID, e.Timestamp.Unix(), e.Sender, e.SenderID,
			e.Receiver, e.ReceiverID, string(e.Kind), e.Filename, string(e.Status),
		)
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		return nil
	})
}

// ListEventsByChat returns audit entries involving a chat, oldest first.
// ts has second granularity, so the insertion rowid breaks ties between
// entries recorded within the same second.
func (s *SQLiteStore) ListEventsByChat(ctx context.Context, chatID int64) ([]*domain.Event, error) {
	query := `
		SELECT id, ts, sender, sender_id, receiver, receiver_id, kind, filename, status
		FROM events WHERE sender_id = ? OR receiver_id = ? ORDER BY ts, rowid`

	rows, err := s.db.QueryContext(ctx, query, chatID, chatID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close event rows", "error", closeErr)
		}
	}()

	var events []*domain.Event
	for rows.Next() {
		var (
			e      domain.Event
			ts     int64
			kind   string
			status string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Sender, &e.SenderID,
			&e.Receiver, &e.ReceiverID, &kind, &e.Filename, &status); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		e.Kind = domain.EventKind(kind)
		e.Status = domain.Status(status)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
