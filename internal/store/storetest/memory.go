// Package storetest provides an in-memory Repository for tests.
package storetest

import (
	"context"
	"sort"
	"sync"

	"github.com/wisper-social/wisperbot/internal/domain"
)

// Repo is an in-memory store.Repository. Sessions and sends are copied
// on the way in and out, so tests observe the same decoupling between
// live objects and persisted rows that the real database gives.
type Repo struct {
	mu       sync.Mutex
	sessions map[int64]*domain.Session
	sends    map[int64]*domain.ScheduledSend
	events   []*domain.Event
	nextSend int64

	// UpsertErr, when set, makes UpsertSession fail.
	UpsertErr error
	// Upserts counts UpsertSession calls.
	Upserts int
}

// NewRepo creates an empty in-memory repository.
func NewRepo() *Repo {
	return &Repo{
		sessions: make(map[int64]*domain.Session),
		sends:    make(map[int64]*domain.ScheduledSend),
	}
}

func copySession(s *domain.Session) *domain.Session {
	c := *s
	c.Sent = append([]string(nil), s.Sent...)
	c.PendingJobs = nil
	if s.Week2StartDate != nil {
		t := *s.Week2StartDate
		c.Week2StartDate = &t
	}
	return &c
}

func copySend(s *domain.ScheduledSend) *domain.ScheduledSend {
	c := *s
	return &c
}

func (r *Repo) GetSession(ctx context.Context, chatID int64) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

func (r *Repo) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, copySession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (r *Repo) UpsertSession(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Upserts++
	if r.UpsertErr != nil {
		return r.UpsertErr
	}
	r.sessions[s.ChatID] = copySession(s)
	return nil
}

func (r *Repo) InsertScheduledSend(ctx context.Context, send *domain.ScheduledSend) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSend++
	c := copySend(send)
	c.ID = r.nextSend
	r.sends[c.ID] = c
	return c.ID, nil
}

func (r *Repo) GetScheduledSend(ctx context.Context, id int64) (*domain.ScheduledSend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sends[id]
	if !ok {
		return nil, nil
	}
	return copySend(s), nil
}

func (r *Repo) ListPendingSends(ctx context.Context) ([]*domain.ScheduledSend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ScheduledSend
	for _, s := range r.sends {
		if !s.Completed {
			out = append(out, copySend(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeliverAt.Before(out[j].DeliverAt) })
	return out, nil
}

func (r *Repo) MarkSendCompleted(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sends[id]
	if !ok || s.Completed {
		return false, nil
	}
	s.Completed = true
	return true, nil
}

func (r *Repo) AppendEvent(ctx context.Context, e *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *e
	r.events = append(r.events, &c)
	return nil
}

func (r *Repo) ListEventsByChat(ctx context.Context, chatID int64) ([]*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Event
	for _, e := range r.events {
		if e.SenderID == chatID || e.ReceiverID == chatID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// Events returns a snapshot of the full audit log.
func (r *Repo) Events() []*domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Event, 0, len(r.events))
	for _, e := range r.events {
		c := *e
		out = append(out, &c)
	}
	return out
}

// PutSession seeds a session directly, as if persisted by a prior run.
func (r *Repo) PutSession(s *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ChatID] = copySession(s)
}

func (r *Repo) Ping(ctx context.Context) error { return nil }

func (r *Repo) Close() error { return nil }
