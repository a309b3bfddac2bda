package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wisper-social/wisperbot/internal/domain"
	"github.com/wisper-social/wisperbot/internal/pairing"
	"github.com/wisper-social/wisperbot/internal/store/storetest"
)

func testDirectory(t *testing.T, content string) *pairing.Directory {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pairs.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write pairs file: %v", err)
	}
	dir, err := pairing.Load(path)
	if err != nil {
		t.Fatalf("failed to load pairing directory: %v", err)
	}
	return dir
}

func countEvents(repo *storetest.Repo, kind domain.EventKind) int {
	n := 0
	for _, e := range repo.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestGetOrCreateFreshSession(t *testing.T) {
	repo := storetest.NewRepo()
	baseline := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	reg := NewRegistry(repo, testDirectory(t, "alice,bob\n"), baseline)
	ctx := context.Background()

	sess, err := reg.GetOrCreate(ctx, Hint{ChatID: 1, Name: "alice", FirstName: "Alice", Kind: domain.ChatDirect})
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if sess.Status != domain.StatusNone {
		t.Fatalf("Status = %q, want %q", sess.Status, domain.StatusNone)
	}
	if sess.Week != 1 {
		t.Fatalf("Week = %d, want 1", sess.Week)
	}
	if !sess.StartDate.Equal(baseline) {
		t.Fatalf("StartDate = %v, want baseline %v", sess.StartDate, baseline)
	}
	if sess.PairedUser != "bob" {
		t.Fatalf("PairedUser = %q, want bob", sess.PairedUser)
	}

	persisted, err := repo.GetSession(ctx, 1)
	if err != nil || persisted == nil {
		t.Fatalf("fresh session not persisted: %v, %v", persisted, err)
	}

	again, err := reg.GetOrCreate(ctx, Hint{ChatID: 1, Name: "alice"})
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if again != sess {
		t.Fatal("second GetOrCreate returned a different instance")
	}
}

func TestSetStatusIsIdempotent(t *testing.T) {
	repo := storetest.NewRepo()
	reg := NewRegistry(repo, testDirectory(t, "alice,bob\n"), time.Now())
	ctx := context.Background()

	sess, err := reg.GetOrCreate(ctx, Hint{ChatID: 1, Name: "alice", Kind: domain.ChatDirect})
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	reg.SetStatus(ctx, sess, domain.StatusStartWelcomed)
	changes := countEvents(repo, domain.EventStatusChange)
	upserts := repo.Upserts

	// Re-applying the current status must not log, audit, or persist.
	reg.SetStatus(ctx, sess, domain.StatusStartWelcomed)
	if got := countEvents(repo, domain.EventStatusChange); got != changes {
		t.Fatalf("status_change events = %d after no-op, want %d", got, changes)
	}
	if repo.Upserts != upserts {
		t.Fatalf("upserts = %d after no-op, want %d", repo.Upserts, upserts)
	}
	if sess.Status != domain.StatusStartWelcomed {
		t.Fatalf("Status = %q, want %q", sess.Status, domain.StatusStartWelcomed)
	}
}

func TestSetStatusSurvivesPersistFailure(t *testing.T) {
	repo := storetest.NewRepo()
	reg := NewRegistry(repo, testDirectory(t, "alice,bob\n"), time.Now())
	ctx := context.Background()

	sess, err := reg.GetOrCreate(ctx, Hint{ChatID: 1, Name: "alice", Kind: domain.ChatDirect})
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	repo.UpsertErr = os.ErrPermission
	reg.SetStatus(ctx, sess, domain.StatusStartWelcomed)
	// The in-memory transition stands even though the write failed.
	if sess.Status != domain.StatusStartWelcomed {
		t.Fatalf("Status = %q, want %q", sess.Status, domain.StatusStartWelcomed)
	}
}

func TestPairingResolvesWhenBothResident(t *testing.T) {
	repo := storetest.NewRepo()
	reg := NewRegistry(repo, testDirectory(t, "alice,bob\n"), time.Now())
	ctx := context.Background()

	alice, err := reg.GetOrCreate(ctx, Hint{ChatID: 1, Name: "alice", Kind: domain.ChatDirect})
	if err != nil {
		t.Fatalf("GetOrCreate(alice) failed: %v", err)
	}
	if alice.PartnerResolved() {
		t.Fatal("alice resolved a partner before bob existed")
	}

	bob, err := reg.GetOrCreate(ctx, Hint{ChatID: 2, Name: "bob", Kind: domain.ChatDirect})
	if err != nil {
		t.Fatalf("GetOrCreate(bob) failed: %v", err)
	}

	if bob.PairedChatID != 1 || alice.PairedChatID != 2 {
		t.Fatalf("pair link not symmetric: alice=%d bob=%d", alice.PairedChatID, bob.PairedChatID)
	}
	partner, ok := reg.Partner(alice)
	if !ok || partner != bob {
		t.Fatal("Partner(alice) did not return bob's session")
	}
}

func TestRehydrateAllRelinksPairs(t *testing.T) {
	repo := storetest.NewRepo()
	now := time.Now()
	repo.PutSession(&domain.Session{ChatID: 1, Name: "alice", Kind: domain.ChatDirect,
		Status: domain.StatusReceivedIntro, Week: 1, StartDate: now})
	repo.PutSession(&domain.Session{ChatID: 2, Name: "bob", Kind: domain.ChatDirect,
		Status: domain.StatusAwaitingIntro, Week: 1, StartDate: now})

	reg := NewRegistry(repo, testDirectory(t, "alice,bob\n"), now)
	if err := reg.RehydrateAll(context.Background()); err != nil {
		t.Fatalf("RehydrateAll failed: %v", err)
	}

	alice, ok := reg.ByChatID(1)
	if !ok {
		t.Fatal("alice not resident after rehydrate")
	}
	if alice.Status != domain.StatusReceivedIntro {
		t.Fatalf("alice status = %q, want %q", alice.Status, domain.StatusReceivedIntro)
	}
	if alice.PairedChatID != 2 {
		t.Fatalf("alice PairedChatID = %d, want 2", alice.PairedChatID)
	}
}

func TestBufferJobDeduplicates(t *testing.T) {
	repo := storetest.NewRepo()
	reg := NewRegistry(repo, testDirectory(t, "alice,bob\n"), time.Now())

	sess := &domain.Session{ChatID: 1}
	reg.BufferJob(sess, 10)
	reg.BufferJob(sess, 10)
	reg.BufferJob(sess, 11)

	jobs := reg.TakePendingJobs(sess)
	if len(jobs) != 2 || jobs[0] != 10 || jobs[1] != 11 {
		t.Fatalf("jobs = %v, want [10 11]", jobs)
	}
	if len(reg.TakePendingJobs(sess)) != 0 {
		t.Fatal("TakePendingJobs did not drain the buffer")
	}
}
