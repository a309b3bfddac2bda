// Package scheduler delivers time-delayed message sends that survive
// process restarts. Pending sends live in the durable store; timers are
// re-armed from it at startup.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wisper-social/wisperbot/internal/domain"
	"github.com/wisper-social/wisperbot/internal/gateway"
	"github.com/wisper-social/wisperbot/internal/session"
	"github.com/wisper-social/wisperbot/internal/store"
)

const fireTimeout = 5 * time.Minute

// Dispatcher serializes a task with the rest of a chat's handling. When
// one is wired, timer firings run on the chat's own worker instead of
// the timer goroutine, so session state is never touched from two
// goroutines at once.
type Dispatcher func(chatID int64, fn func(context.Context))

// Scheduler owns the delayed-execution timers for scheduled sends.
type Scheduler struct {
	repo  store.Repository
	msgr  gateway.Messenger
	reg   *session.Registry
	grace time.Duration

	mu     sync.Mutex
	disp   Dispatcher
	timers map[int64]*time.Timer
	// deferred buffers job ids whose owning session was not resident at
	// reconciliation time, keyed by chat id. They move onto the session's
	// own pending-jobs list when that session is next touched.
	deferred map[int64][]int64
	stopped  bool
}

// New creates a scheduler. grace is how far past its target a send may
// still be delivered at reconciliation instead of being dropped.
func New(repo store.Repository, msgr gateway.Messenger, reg *session.Registry, grace time.Duration) *Scheduler {
	return &Scheduler{
		repo:     repo,
		msgr:     msgr,
		reg:      reg,
		grace:    grace,
		timers:   make(map[int64]*time.Timer),
		deferred: make(map[int64][]int64),
	}
}

// SetDispatcher routes timer firings onto their chat's serialized
// worker. Must be wired before any timer can fire.
func (s *Scheduler) SetDispatcher(d Dispatcher) {
	s.mu.Lock()
	s.disp = d
	s.mu.Unlock()
}

// Schedule queues one send. A delivery time that is now or past delivers
// immediately, applying the associated status change synchronously;
// otherwise the send is persisted as pending and a timer is armed.
func (s *Scheduler) Schedule(ctx context.Context, send *domain.ScheduledSend) error {
	now := time.Now()
	if !send.DeliverAt.After(now) {
		s.deliver(ctx, send)
		return nil
	}

	id, err := s.repo.InsertScheduledSend(ctx, send)
	if err != nil {
		return err
	}
	s.arm(id, send.DeliverAt.Sub(now))
	slog.Info("send scheduled", "send_id", id, "chat_id", send.ChatID,
		"kind", send.Kind, "deliver_at", send.DeliverAt)
	return nil
}

func (s *Scheduler) arm(id int64, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, armed := s.timers[id]; armed {
		return
	}
	s.timers[id] = time.AfterFunc(delay, func() {
		s.onFire(id)
	})
}

// onFire is invoked by an expired timer. The completed flag in the store
// is the single-writer gate: whichever of a timer firing and a
// reconciliation pass flips it first owns the (only) delivery. The flip
// and the delivery run on the chat's serialized worker.
func (s *Scheduler) onFire(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()

	send, err := s.repo.GetScheduledSend(ctx, id)
	if err != nil {
		slog.Error("failed to load scheduled send", "send_id", id, "error", err)
		return
	}
	if send == nil {
		slog.Error("scheduled send vanished", "send_id", id)
		return
	}
	if send.Completed {
		return
	}

	s.run(send.ChatID, func(ctx context.Context) {
		flipped, err := s.repo.MarkSendCompleted(ctx, id)
		if err != nil {
			slog.Error("failed to mark send completed", "send_id", id, "error", err)
			return
		}
		if !flipped {
			// Someone else owned it.
			return
		}
		s.deliver(ctx, send)
	})
}

// run hands fn to the chat's serialized worker when a dispatcher is
// wired, and executes it inline otherwise.
func (s *Scheduler) run(chatID int64, fn func(context.Context)) {
	task := func(parent context.Context) {
		ctx, cancel := context.WithTimeout(parent, fireTimeout)
		defer cancel()
		fn(ctx)
	}
	s.mu.Lock()
	disp := s.disp
	s.mu.Unlock()
	if disp != nil {
		disp(chatID, task)
		return
	}
	task(context.Background())
}

// deliver pushes the payload through the delivery adapter and applies
// the associated status change to the owning session.
func (s *Scheduler) deliver(ctx context.Context, send *domain.ScheduledSend) {
	var (
		err  error
		kind domain.EventKind
	)
	switch send.Kind {
	case domain.PayloadText:
		kind = domain.EventSendText
		err = s.msgr.SendText(ctx, send.ChatID, send.Payload)
	case domain.PayloadVoice:
		kind = domain.EventSendVoice
		err = s.msgr.SendVoice(ctx, send.ChatID, send.Payload)
	case domain.PayloadImage:
		kind = domain.EventSendImage
		err = s.msgr.SendImage(ctx, send.ChatID, send.Payload)
	default:
		slog.Error("scheduled send has unknown payload kind", "send_id", send.ID, "kind", send.Kind)
		return
	}
	if err != nil {
		slog.Error("failed to deliver scheduled send", "send_id", send.ID,
			"chat_id", send.ChatID, "kind", send.Kind, "error", err)
		return
	}

	owner, ok := s.reg.ByChatID(send.ChatID)
	if !ok {
		// The owning session could not be resolved; the message went out,
		// but no status can be applied.
		slog.Warn("delivered send for unknown session", "send_id", send.ID, "chat_id", send.ChatID)
		return
	}

	event := &domain.Event{
		Sender:     session.BotName,
		Receiver:   owner.Name,
		ReceiverID: owner.ChatID,
		Kind:       kind,
	}
	if send.Kind != domain.PayloadText {
		event.Filename = send.Payload
		s.reg.RecordSent(ctx, owner, send.Payload)
	}
	s.reg.Audit(ctx, event)

	if send.NextStatus != "" {
		if owner.Status.Terminal() {
			// A queued send may still go out after /cancel or a group
			// leave, but it never advances a closed session.
			slog.Info("send delivered to closed session, status not applied",
				"send_id", send.ID, "chat_id", send.ChatID, "status", owner.Status)
			return
		}
		s.reg.SetStatus(ctx, owner, send.NextStatus)
	}
}

// ReconcileOnStartup scans all non-completed sends after the registry
// has been rehydrated. Sends missed by more than the grace window are
// dropped (marked completed, nothing delivered); sends within the window
// are delivered now; sends for sessions that did not reload are deferred
// until the session reappears; everything else is re-armed.
func (s *Scheduler) ReconcileOnStartup(ctx context.Context) error {
	pending, err := s.repo.ListPendingSends(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	var dropped, rearmed, fired, parked int
	for _, send := range pending {
		overdue := now.Sub(send.DeliverAt)

		if overdue > s.grace {
			// Stale prompts are not replayed after downtime.
			if _, err := s.repo.MarkSendCompleted(ctx, send.ID); err != nil {
				slog.Error("failed to drop stale send", "send_id", send.ID, "error", err)
				continue
			}
			dropped++
			slog.Info("dropped stale scheduled send", "send_id", send.ID,
				"chat_id", send.ChatID, "overdue", overdue)
			continue
		}

		if _, resident := s.reg.ByChatID(send.ChatID); !resident {
			s.mu.Lock()
			s.deferred[send.ChatID] = append(s.deferred[send.ChatID], send.ID)
			s.mu.Unlock()
			parked++
			continue
		}

		if overdue >= 0 {
			// Within the grace window: deliver anyway.
			id := send.ID
			go s.onFire(id)
			fired++
			continue
		}

		s.arm(send.ID, send.DeliverAt.Sub(now))
		rearmed++
	}

	slog.Info("scheduled sends reconciled", "pending", len(pending),
		"rearmed", rearmed, "fired", fired, "dropped", dropped, "deferred", parked)
	return nil
}

// FlushPending replays jobs parked for a session that has just been
// touched: deferred ids move onto the session's pending-jobs buffer and
// are then fired or re-armed depending on their target time.
func (s *Scheduler) FlushPending(ctx context.Context, sess *domain.Session) {
	s.mu.Lock()
	ids := s.deferred[sess.ChatID]
	delete(s.deferred, sess.ChatID)
	s.mu.Unlock()

	for _, id := range ids {
		s.reg.BufferJob(sess, id)
	}

	for _, id := range s.reg.TakePendingJobs(sess) {
		send, err := s.repo.GetScheduledSend(ctx, id)
		if err != nil || send == nil || send.Completed {
			continue
		}
		now := time.Now()
		overdue := now.Sub(send.DeliverAt)
		switch {
		case overdue > s.grace:
			if _, err := s.repo.MarkSendCompleted(ctx, id); err != nil {
				slog.Error("failed to drop stale deferred send", "send_id", id, "error", err)
			}
		case overdue >= 0:
			go s.onFire(id)
		default:
			s.arm(id, send.DeliverAt.Sub(now))
		}
	}
}

// Stop cancels all armed timers. Pending records stay in the store for
// the next start's reconciliation.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
