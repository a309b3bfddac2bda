package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type flakySender struct {
	Messenger
	failures int
	calls    int
	err      error
}

func (f *flakySender) SendText(ctx context.Context, chatID int64, text string) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func TestReliableRetriesTimeouts(t *testing.T) {
	inner := &flakySender{failures: 3, err: fmt.Errorf("send: %w", ErrTimeout)}
	r := NewReliable(inner, time.Millisecond)

	if err := r.SendText(context.Background(), 1, "hi"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if inner.calls != 4 {
		t.Fatalf("calls = %d, want 4 (three timeouts then success)", inner.calls)
	}
}

func TestReliablePassesThroughTerminalErrors(t *testing.T) {
	permanent := errors.New("file not found")
	inner := &flakySender{failures: 10, err: permanent}
	r := NewReliable(inner, time.Millisecond)

	err := r.SendText(context.Background(), 1, "hi")
	if !errors.Is(err, permanent) {
		t.Fatalf("SendText error = %v, want %v", err, permanent)
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on terminal error)", inner.calls)
	}
}

func TestReliableStopsOnContextCancel(t *testing.T) {
	inner := &flakySender{failures: 1 << 30, err: fmt.Errorf("send: %w", ErrTimeout)}
	r := NewReliable(inner, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := r.SendText(ctx, 1, "hi")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SendText error = %v, want context deadline", err)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("wrapped: %w", ErrTimeout)) {
		t.Fatal("wrapped timeout should be retryable")
	}
	if IsRetryable(errors.New("boom")) {
		t.Fatal("arbitrary error should not be retryable")
	}
	if IsRetryable(nil) {
		t.Fatal("nil should not be retryable")
	}
}

func TestUpdateIsVoice(t *testing.T) {
	if (Update{Text: "hello"}).IsVoice() {
		t.Fatal("text update reported as voice")
	}
	if !(Update{VoiceRef: "abc"}).IsVoice() {
		t.Fatal("voice update not detected")
	}
}
