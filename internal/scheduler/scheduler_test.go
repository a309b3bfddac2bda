package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wisper-social/wisperbot/internal/domain"
	"github.com/wisper-social/wisperbot/internal/pairing"
	"github.com/wisper-social/wisperbot/internal/session"
	"github.com/wisper-social/wisperbot/internal/store/storetest"
)

type fakeMessenger struct {
	mu     sync.Mutex
	texts  []string
	voices []string
	images []string
}

func (f *fakeMessenger) SendText(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeMessenger) SendVoice(ctx context.Context, chatID int64, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voices = append(f.voices, filePath)
	return nil
}

func (f *fakeMessenger) SendImage(ctx context.Context, chatID int64, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, filePath)
	return nil
}

func (f *fakeMessenger) DownloadVoice(ctx context.Context, voiceRef, destDir string) (string, error) {
	return filepath.Join(destDir, voiceRef), nil
}

func (f *fakeMessenger) LeaveChat(ctx context.Context, chatID int64) error { return nil }

func (f *fakeMessenger) textCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestRegistry(t *testing.T, repo *storetest.Repo) *session.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pairs.csv")
	if err := os.WriteFile(path, []byte("alice,bob\n"), 0644); err != nil {
		t.Fatalf("failed to write pairs file: %v", err)
	}
	dir, err := pairing.Load(path)
	if err != nil {
		t.Fatalf("failed to load pairing directory: %v", err)
	}
	return session.NewRegistry(repo, dir, time.Now())
}

func residentSession(t *testing.T, reg *session.Registry, chatID int64, name string) *domain.Session {
	t.Helper()
	sess, err := reg.GetOrCreate(context.Background(), session.Hint{
		ChatID: chatID, Name: name, Kind: domain.ChatDirect,
	})
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	return sess
}

func TestScheduleDeliversPastSendsImmediately(t *testing.T) {
	repo := storetest.NewRepo()
	msgr := &fakeMessenger{}
	reg := newTestRegistry(t, repo)
	sched := New(repo, msgr, reg, 5*time.Second)
	defer sched.Stop()

	sess := residentSession(t, reg, 1, "alice")
	err := sched.Schedule(context.Background(), &domain.ScheduledSend{
		ChatID:     1,
		DeliverAt:  time.Now().Add(-time.Second),
		Kind:       domain.PayloadText,
		Payload:    "hello",
		NextStatus: domain.StatusStartWelcomed,
	})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	if msgr.textCount() != 1 {
		t.Fatalf("texts sent = %d, want 1", msgr.textCount())
	}
	if sess.Status != domain.StatusStartWelcomed {
		t.Fatalf("status = %q, want %q", sess.Status, domain.StatusStartWelcomed)
	}
	// Immediate deliveries never become pending rows.
	pending, err := repo.ListPendingSends(context.Background())
	if err != nil {
		t.Fatalf("ListPendingSends failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending sends = %d, want 0", len(pending))
	}
}

func TestTimerFiresFutureSend(t *testing.T) {
	repo := storetest.NewRepo()
	msgr := &fakeMessenger{}
	reg := newTestRegistry(t, repo)
	sched := New(repo, msgr, reg, 5*time.Second)
	defer sched.Stop()

	sess := residentSession(t, reg, 1, "alice")
	err := sched.Schedule(context.Background(), &domain.ScheduledSend{
		ChatID:     1,
		DeliverAt:  time.Now().Add(50 * time.Millisecond),
		Kind:       domain.PayloadText,
		Payload:    "later",
		NextStatus: domain.StatusStartWelcomed,
	})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if msgr.textCount() != 0 {
		t.Fatal("future send delivered early")
	}

	waitFor(t, "timer delivery", func() bool { return msgr.textCount() == 1 })
	waitFor(t, "status transition", func() bool { return sess.Status == domain.StatusStartWelcomed })
}

func TestDeliveryHappensAtMostOnce(t *testing.T) {
	repo := storetest.NewRepo()
	msgr := &fakeMessenger{}
	reg := newTestRegistry(t, repo)
	sched := New(repo, msgr, reg, 5*time.Second)
	defer sched.Stop()

	residentSession(t, reg, 1, "alice")
	id, err := repo.InsertScheduledSend(context.Background(), &domain.ScheduledSend{
		ChatID:    1,
		DeliverAt: time.Now().Add(-time.Second),
		Kind:      domain.PayloadText,
		Payload:   "once",
	})
	if err != nil {
		t.Fatalf("InsertScheduledSend failed: %v", err)
	}

	// A racing timer and reconciliation pass both route through onFire;
	// the completed-flag flip admits only one of them.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.onFire(id)
		}()
	}
	wg.Wait()

	if msgr.textCount() != 1 {
		t.Fatalf("deliveries = %d, want exactly 1", msgr.textCount())
	}
}

func TestClosedSessionIsNeverAdvanced(t *testing.T) {
	repo := storetest.NewRepo()
	msgr := &fakeMessenger{}
	reg := newTestRegistry(t, repo)
	sched := New(repo, msgr, reg, 5*time.Second)
	defer sched.Stop()

	sess := residentSession(t, reg, 1, "alice")
	reg.SetStatus(context.Background(), sess, domain.StatusCancelled)

	// A send queued before the cancellation still goes out, but it must
	// not pull the session back out of its terminal state.
	err := sched.Schedule(context.Background(), &domain.ScheduledSend{
		ChatID:     1,
		DeliverAt:  time.Now().Add(-time.Second),
		Kind:       domain.PayloadText,
		Payload:    "queued before cancel",
		NextStatus: domain.AwaitingWeekVT(1),
	})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	if msgr.textCount() != 1 {
		t.Fatalf("texts sent = %d, want 1", msgr.textCount())
	}
	if sess.Status != domain.StatusCancelled {
		t.Fatalf("status = %q, want %q", sess.Status, domain.StatusCancelled)
	}
}

func TestTimerFiringRunsOnDispatcher(t *testing.T) {
	repo := storetest.NewRepo()
	msgr := &fakeMessenger{}
	reg := newTestRegistry(t, repo)
	sched := New(repo, msgr, reg, 5*time.Second)
	defer sched.Stop()

	var (
		mu         sync.Mutex
		dispatched []int64
	)
	sched.SetDispatcher(func(chatID int64, fn func(context.Context)) {
		mu.Lock()
		dispatched = append(dispatched, chatID)
		mu.Unlock()
		fn(context.Background())
	})

	sess := residentSession(t, reg, 1, "alice")
	err := sched.Schedule(context.Background(), &domain.ScheduledSend{
		ChatID:     1,
		DeliverAt:  time.Now().Add(20 * time.Millisecond),
		Kind:       domain.PayloadText,
		Payload:    "routed",
		NextStatus: domain.StatusStartWelcomed,
	})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	waitFor(t, "dispatched delivery", func() bool { return msgr.textCount() == 1 })
	waitFor(t, "status transition", func() bool { return sess.Status == domain.StatusStartWelcomed })
	mu.Lock()
	defer mu.Unlock()
	if len(dispatched) != 1 || dispatched[0] != 1 {
		t.Fatalf("dispatched chats = %v, want [1]", dispatched)
	}
}

func TestReconcileDropsStaleSends(t *testing.T) {
	repo := storetest.NewRepo()
	msgr := &fakeMessenger{}
	reg := newTestRegistry(t, repo)
	sched := New(repo, msgr, reg, 5*time.Second)
	defer sched.Stop()

	residentSession(t, reg, 1, "alice")
	id, err := repo.InsertScheduledSend(context.Background(), &domain.ScheduledSend{
		ChatID:    1,
		DeliverAt: time.Now().Add(-30 * time.Second),
		Kind:      domain.PayloadText,
		Payload:   "stale",
	})
	if err != nil {
		t.Fatalf("InsertScheduledSend failed: %v", err)
	}

	if err := sched.ReconcileOnStartup(context.Background()); err != nil {
		t.Fatalf("ReconcileOnStartup failed: %v", err)
	}

	if msgr.textCount() != 0 {
		t.Fatal("stale send was delivered")
	}
	send, err := repo.GetScheduledSend(context.Background(), id)
	if err != nil {
		t.Fatalf("GetScheduledSend failed: %v", err)
	}
	if !send.Completed {
		t.Fatal("stale send not marked completed")
	}
}

func TestReconcileDeliversWithinGrace(t *testing.T) {
	repo := storetest.NewRepo()
	msgr := &fakeMessenger{}
	reg := newTestRegistry(t, repo)
	sched := New(repo, msgr, reg, 5*time.Second)
	defer sched.Stop()

	residentSession(t, reg, 1, "alice")
	_, err := repo.InsertScheduledSend(context.Background(), &domain.ScheduledSend{
		ChatID:    1,
		DeliverAt: time.Now().Add(-3 * time.Second),
		Kind:      domain.PayloadText,
		Payload:   "just missed",
	})
	if err != nil {
		t.Fatalf("InsertScheduledSend failed: %v", err)
	}

	if err := sched.ReconcileOnStartup(context.Background()); err != nil {
		t.Fatalf("ReconcileOnStartup failed: %v", err)
	}
	waitFor(t, "grace-window delivery", func() bool { return msgr.textCount() == 1 })
}

func TestReconcileDefersNonResidentSessions(t *testing.T) {
	repo := storetest.NewRepo()
	msgr := &fakeMessenger{}
	reg := newTestRegistry(t, repo)
	sched := New(repo, msgr, reg, 5*time.Second)
	defer sched.Stop()

	// Chat 9 has a pending send but no session survived the restart.
	_, err := repo.InsertScheduledSend(context.Background(), &domain.ScheduledSend{
		ChatID:    9,
		DeliverAt: time.Now().Add(-time.Second),
		Kind:      domain.PayloadText,
		Payload:   "parked",
	})
	if err != nil {
		t.Fatalf("InsertScheduledSend failed: %v", err)
	}

	if err := sched.ReconcileOnStartup(context.Background()); err != nil {
		t.Fatalf("ReconcileOnStartup failed: %v", err)
	}
	if msgr.textCount() != 0 {
		t.Fatal("send for non-resident session delivered during reconcile")
	}

	// The job replays once the session is touched.
	sess := residentSession(t, reg, 9, "alice")
	sched.FlushPending(context.Background(), sess)
	waitFor(t, "deferred delivery", func() bool { return msgr.textCount() == 1 })
}
