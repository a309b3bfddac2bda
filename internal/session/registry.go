// Package session owns participant session lifetime and persistence.
// Nothing outside this package constructs a domain.Session for a live
// chat; all status changes flow through the registry's SetStatus choke
// point so the event log and the durable store stay consistent.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wisper-social/wisperbot/internal/domain"
	"github.com/wisper-social/wisperbot/internal/pairing"
	"github.com/wisper-social/wisperbot/internal/store"
)

// BotName identifies the bot side in audit log entries.
const BotName = "wisperbot"

// Hint carries the identity details of an inbound update, used when a
// session has to be created or refreshed.
type Hint struct {
	ChatID    int64
	Name      string
	FirstName string
	Kind      domain.ChatKind
}

// Registry is the in-memory session cache backed by the durable store.
type Registry struct {
	repo     store.Repository
	dir      *pairing.Directory
	baseline time.Time

	mu     sync.Mutex
	byChat map[int64]*domain.Session
	byName map[string]int64

	// pairMu serializes partner-barrier critical sections so that the
	// two members of a pair reaching a barrier concurrently cannot both
	// observe the other as "not ready".
	pairMu sync.Mutex
}

// NewRegistry creates a registry. baseline anchors the week-1 schedule
// of sessions created fresh.
func NewRegistry(repo store.Repository, dir *pairing.Directory, baseline time.Time) *Registry {
	return &Registry{
		repo:     repo,
		dir:      dir,
		baseline: baseline,
		byChat:   make(map[int64]*domain.Session),
		byName:   make(map[string]int64),
	}
}

// RehydrateAll loads every persisted session into memory at startup and
// re-links pairs whose two sides are both present.
func (r *Registry) RehydrateAll(ctx context.Context) error {
	sessions, err := r.repo.ListSessions(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	for _, s := range sessions {
		r.byChat[s.ChatID] = s
		if s.Name != "" {
			r.byName[s.Name] = s.ChatID
		}
	}
	r.mu.Unlock()

	for _, s := range sessions {
		r.ResolvePairing(ctx, s)
	}

	slog.Info("sessions rehydrated", "count", len(sessions))
	return nil
}

// GetOrCreate returns the session for a chat, loading it from the store
// or creating a fresh one if absent. The name index entry is recorded so
// pairing resolution can find this chat later.
func (r *Registry) GetOrCreate(ctx context.Context, hint Hint) (*domain.Session, error) {
	r.mu.Lock()
	if s, ok := r.byChat[hint.ChatID]; ok {
		if hint.Name != "" {
			r.byName[hint.Name] = hint.ChatID
		}
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	// Not resident; try the durable store before constructing fresh.
	s, err := r.repo.GetSession(ctx, hint.ChatID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		now := time.Now()
		start := r.baseline
		if start.IsZero() {
			start = now
		}
		s = &domain.Session{
			ChatID:    hint.ChatID,
			Name:      hint.Name,
			FirstName: hint.FirstName,
			Kind:      hint.Kind,
			Status:    domain.StatusNone,
			Week:      1,
			StartDate: start,
			Subdir:    "tutorialresponses",
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.Persist(ctx, s)
		slog.Info("session created", "chat_id", s.ChatID, "name", s.Name, "kind", s.Kind)
	} else if hint.Name != "" && s.Name != hint.Name {
		s.Name = hint.Name
		s.FirstName = hint.FirstName
		r.Persist(ctx, s)
	}

	r.mu.Lock()
	// Another goroutine may have raced us here; keep the first one in.
	if existing, ok := r.byChat[hint.ChatID]; ok {
		s = existing
	} else {
		r.byChat[hint.ChatID] = s
	}
	if s.Name != "" {
		r.byName[s.Name] = s.ChatID
	}
	r.mu.Unlock()

	r.ResolvePairing(ctx, s)
	return s, nil
}

// ByChatID returns the resident session for a chat, if any.
func (r *Registry) ByChatID(chatID int64) (*domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byChat[chatID]
	return s, ok
}

// Partner returns the resident session of s's partner, if resolved.
func (r *Registry) Partner(s *domain.Session) (*domain.Session, bool) {
	if !s.PartnerResolved() {
		return nil, false
	}
	return r.ByChatID(s.PairedChatID)
}

// Snapshot returns the resident sessions for inspection.
func (r *Registry) Snapshot() []*domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Session, 0, len(r.byChat))
	for _, s := range r.byChat {
		out = append(out, s)
	}
	return out
}

// SetStatus is the single choke point for status transitions: it logs
// the old and new value, appends an audit event, and persists the
// session. Setting the current status again is a no-op.
func (r *Registry) SetStatus(ctx context.Context, s *domain.Session, status domain.Status) {
	if s.Status == status {
		return
	}
	old := s.Status
	s.Status = status
	s.UpdatedAt = time.Now()
	slog.Info("status changed", "chat_id", s.ChatID, "name", s.Name, "from", old, "to", status)

	r.Audit(ctx, &domain.Event{
		Sender:   s.Name,
		SenderID: s.ChatID,
		Receiver: BotName,
		Kind:     domain.EventStatusChange,
		Status:   status,
	})
	r.Persist(ctx, s)
}

// RecordSent marks an artifact as delivered to this chat and persists.
func (r *Registry) RecordSent(ctx context.Context, s *domain.Session, artifact string) {
	if s.HasSent(artifact) {
		return
	}
	s.Sent = append(s.Sent, artifact)
	r.Persist(ctx, s)
}

// Persist writes the session through to the store. A store failure is
// logged and the in-memory state stands: the live conversation takes
// precedence over strict durability.
func (r *Registry) Persist(ctx context.Context, s *domain.Session) {
	s.UpdatedAt = time.Now()
	if err := r.repo.UpsertSession(ctx, s); err != nil {
		slog.Error("failed to persist session, in-memory state retained",
			"chat_id", s.ChatID, "status", s.Status, "error", err)
	}
}

// Audit appends an event to the durable audit log, assigning id and
// timestamp. Failures are logged, never propagated.
func (r *Registry) Audit(ctx context.Context, e *domain.Event) {
	e.ID = uuid.NewString()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if err := r.repo.AppendEvent(ctx, e); err != nil {
		slog.Error("failed to append audit event", "kind", e.Kind, "error", err)
	}
}

// ResolvePairing looks up s's partner in the pairing directory and, when
// the partner's session is already resident, links both sides
// symmetrically and persists them. Until then only the partner's name is
// recorded; id resolution is deferred to the next touch of either side.
func (r *Registry) ResolvePairing(ctx context.Context, s *domain.Session) {
	partnerName, ok := r.dir.Lookup(s.Name)
	if !ok {
		return
	}
	if s.PairedUser != partnerName {
		s.PairedUser = partnerName
		r.Persist(ctx, s)
	}
	if s.PartnerResolved() {
		return
	}

	r.mu.Lock()
	partnerChatID, resident := r.byName[partnerName]
	var partner *domain.Session
	if resident {
		partner = r.byChat[partnerChatID]
	}
	r.mu.Unlock()

	if partner == nil {
		return
	}

	s.PairedChatID = partner.ChatID
	partner.PairedUser = s.Name
	partner.PairedChatID = s.ChatID
	r.Persist(ctx, s)
	r.Persist(ctx, partner)
	slog.Info("pair linked", "chat_id", s.ChatID, "partner_chat_id", partner.ChatID)
}

// SyncPair runs fn inside the pair-barrier critical section. Barrier
// checks and the paired advancement they trigger must happen here so
// that either arrival order leaves the pair in the same final state.
func (r *Registry) SyncPair(fn func()) {
	r.pairMu.Lock()
	defer r.pairMu.Unlock()
	fn()
}

// BufferJob parks a scheduled-send id on the session for replay once the
// session is next touched with a live delivery context.
func (r *Registry) BufferJob(s *domain.Session, id int64) {
	for _, existing := range s.PendingJobs {
		if existing == id {
			return
		}
	}
	s.PendingJobs = append(s.PendingJobs, id)
	slog.Info("buffered pending job for offline session", "chat_id", s.ChatID, "send_id", id)
}

// TakePendingJobs drains the session's buffered job ids.
func (r *Registry) TakePendingJobs(s *domain.Session) []int64 {
	jobs := s.PendingJobs
	s.PendingJobs = nil
	return jobs
}
