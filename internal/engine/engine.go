// Package engine drives the scripted conversation: it consumes inbound
// updates, advances each chat's step state machine, and hands timed
// follow-ups to the scheduler. Updates for the same chat are handled in
// arrival order; distinct chats run concurrently.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wisper-social/wisperbot/internal/domain"
	"github.com/wisper-social/wisperbot/internal/gateway"
	"github.com/wisper-social/wisperbot/internal/scheduler"
	"github.com/wisper-social/wisperbot/internal/session"
	"github.com/wisper-social/wisperbot/internal/store"
	"github.com/wisper-social/wisperbot/internal/transcribe"
)

const (
	handleTimeout = 5 * time.Minute
	mailboxSize   = 16

	// bundleSpacing keeps multi-message bundles readable in order.
	bundleSpacing = time.Second
)

// Options carries the engine's tunables out of configuration.
type Options struct {
	MediaDir    string
	TutorialDir string
	ContentDir  string

	// Interval is the length of one scripted day.
	Interval time.Duration

	// StartingStatus optionally fast-forwards fresh sessions past the
	// onboarding script, for test deployments. Empty means normal flow.
	StartingStatus domain.Status
}

// Engine is the conversation state machine driver.
type Engine struct {
	reg   *session.Registry
	sched *scheduler.Scheduler
	msgr  gateway.Messenger
	trans transcribe.Transcriber
	repo  store.Repository
	opts  Options

	boxMu  sync.Mutex
	boxes  map[int64]chan func(context.Context)
	wg     sync.WaitGroup
	closed bool
}

// New assembles an engine over its collaborators.
func New(reg *session.Registry, sched *scheduler.Scheduler, msgr gateway.Messenger,
	trans transcribe.Transcriber, repo store.Repository, opts Options) *Engine {
	return &Engine{
		reg:   reg,
		sched: sched,
		msgr:  msgr,
		trans: trans,
		repo:  repo,
		opts:  opts,
		boxes: make(map[int64]chan func(context.Context)),
	}
}

// Run consumes updates until the context is cancelled or the channel
// closes. Each chat gets its own mailbox goroutine so a slow download in
// one conversation never stalls another.
func (e *Engine) Run(ctx context.Context, updates <-chan gateway.Update) {
	defer e.drain()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			update := u
			e.Dispatch(update.ChatID, func(taskCtx context.Context) {
				e.handle(taskCtx, update)
			})
		}
	}
}

// Dispatch queues fn on the chat's mailbox, serialized with every other
// task for that chat. The scheduler routes timer firings here so a
// delivery's session mutations never run concurrently with the chat's
// own handling.
func (e *Engine) Dispatch(chatID int64, fn func(context.Context)) {
	e.boxMu.Lock()
	if e.closed {
		e.boxMu.Unlock()
		slog.Warn("engine stopped, dropping task", "chat_id", chatID)
		return
	}
	box, exists := e.boxes[chatID]
	if !exists {
		box = make(chan func(context.Context), mailboxSize)
		e.boxes[chatID] = box
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for task := range box {
				task(context.Background())
			}
		}()
	}
	e.boxMu.Unlock()

	select {
	case box <- fn:
	default:
		slog.Warn("chat mailbox full, dropping task", "chat_id", chatID)
	}
}

func (e *Engine) drain() {
	e.boxMu.Lock()
	e.closed = true
	for _, box := range e.boxes {
		close(box)
	}
	e.boxMu.Unlock()
	e.wg.Wait()
}

func (e *Engine) handle(parent context.Context, u gateway.Update) {
	ctx, cancel := context.WithTimeout(parent, handleTimeout)
	defer cancel()

	if u.ChatKind == string(domain.ChatGroup) {
		e.leaveGroup(ctx, u)
		return
	}

	sess, err := e.reg.GetOrCreate(ctx, session.Hint{
		ChatID:    u.ChatID,
		Name:      u.Username,
		FirstName: u.FirstName,
		Kind:      domain.ChatDirect,
	})
	if err != nil {
		slog.Error("failed to resolve session", "chat_id", u.ChatID, "error", err)
		return
	}

	if sess.Status == domain.StatusNone && e.opts.StartingStatus != "" {
		e.reg.SetStatus(ctx, sess, e.opts.StartingStatus)
	}

	// Jobs parked while this session was offline replay on first touch.
	e.sched.FlushPending(ctx, sess)

	// A participant stuck after the tutorial advances as soon as their
	// pairing resolves, on whatever update touched them.
	e.promoteIfPaired(ctx, sess)

	if sess.Status.Terminal() {
		if strings.TrimSpace(u.Text) != "" {
			e.sendText(ctx, sess, "You have left the Wisper experience. There's nothing more for me to send you. Take care! 💜")
		}
		return
	}

	switch {
	case u.IsVoice():
		e.handleVoice(ctx, sess, u)
	case strings.HasPrefix(strings.TrimSpace(u.Text), "/"):
		e.handleCommand(ctx, sess, strings.TrimSpace(u.Text))
	default:
		e.handleText(ctx, sess, strings.TrimSpace(u.Text))
	}
}

// leaveGroup declines group chats: the exchange is strictly one-on-one.
func (e *Engine) leaveGroup(ctx context.Context, u gateway.Update) {
	slog.Info("leaving group chat", "chat_id", u.ChatID, "title", u.ChatTitle)
	if err := e.msgr.SendText(ctx, u.ChatID, groupFarewell); err != nil {
		slog.Error("failed to send group farewell", "chat_id", u.ChatID, "error", err)
	}
	if err := e.msgr.LeaveChat(ctx, u.ChatID); err != nil {
		slog.Error("failed to leave group chat", "chat_id", u.ChatID, "error", err)
		return
	}
	if sess, ok := e.reg.ByChatID(u.ChatID); ok {
		e.reg.SetStatus(ctx, sess, domain.StatusLeftGroup)
	}
}

func (e *Engine) handleCommand(ctx context.Context, sess *domain.Session, text string) {
	cmd := strings.ToLower(strings.Fields(text)[0])
	switch cmd {
	case "/start":
		e.cmdStart(ctx, sess)
	case "/starttutorial":
		e.cmdStartTutorial(ctx, sess)
	case "/gettutorialstory":
		e.cmdGetTutorialStory(ctx, sess)
	case "/endtutorial":
		e.cmdEndTutorial(ctx, sess)
	case "/cancel":
		e.cmdCancel(ctx, sess)
	case "/help":
		e.sendText(ctx, sess, helpText)
	default:
		e.sendText(ctx, sess, "I don't know that command. Try /help if you're stuck!")
	}
}

func (e *Engine) cmdStart(ctx context.Context, sess *domain.Session) {
	if sess.Status != domain.StatusNone {
		e.sendText(ctx, sess, "We've already said hi! "+guidance(sess))
		return
	}
	for _, msg := range welcomeMessages(sess.FirstName) {
		e.sendText(ctx, sess, msg)
	}
	e.reg.SetStatus(ctx, sess, domain.StatusStartWelcomed)
}

func (e *Engine) cmdStartTutorial(ctx context.Context, sess *domain.Session) {
	switch sess.Status {
	case domain.StatusNone:
		e.sendText(ctx, sess, "Please say hi with /start first!")
	case domain.StatusStartWelcomed:
		e.sendText(ctx, sess, tutorialInstructions)
		e.reg.SetStatus(ctx, sess, domain.StatusTutorialStarted)
	default:
		e.sendText(ctx, sess, "The tutorial is already underway. "+guidance(sess))
	}
}

func (e *Engine) cmdCancel(ctx context.Context, sess *domain.Session) {
	e.reg.SetStatus(ctx, sess, domain.StatusCancelled)
	e.sendText(ctx, sess, "You have left the Wisper experience. Thank you for the time you spent listening and sharing. Take care! 💜")
}

// sendText delivers one immediate text message and records it in the
// audit log.
func (e *Engine) sendText(ctx context.Context, sess *domain.Session, text string) {
	if err := e.msgr.SendText(ctx, sess.ChatID, text); err != nil {
		slog.Error("failed to send message", "chat_id", sess.ChatID, "error", err)
		return
	}
	e.reg.Audit(ctx, &domain.Event{
		Sender:     session.BotName,
		Receiver:   sess.Name,
		ReceiverID: sess.ChatID,
		Kind:       domain.EventSendText,
	})
}

// scheduleBundle queues a scripted message bundle for a chat. Items are
// spaced one second apart to arrive in order; the status transition
// rides on the last item so the step only opens once the full bundle is
// out.
func (e *Engine) scheduleBundle(ctx context.Context, chatID int64, at time.Time, items []string, next domain.Status) {
	for i, raw := range items {
		kind, payload := parseItem(raw)
		send := &domain.ScheduledSend{
			ChatID:    chatID,
			DeliverAt: at.Add(time.Duration(i) * bundleSpacing),
			Kind:      kind,
			Payload:   payload,
		}
		if i == len(items)-1 {
			send.NextStatus = next
		}
		if err := e.sched.Schedule(ctx, send); err != nil {
			slog.Error("failed to schedule bundle item", "chat_id", chatID,
				"kind", kind, "deliver_at", send.DeliverAt, "error", err)
		}
	}
}

// promoteIfPaired moves a participant who finished the tutorial before
// their pairing existed into the introduction step once it does.
func (e *Engine) promoteIfPaired(ctx context.Context, sess *domain.Session) {
	if sess.Status != domain.StatusTutorialCompleted {
		return
	}
	e.reg.ResolvePairing(ctx, sess)
	if !sess.Paired() {
		return
	}
	e.beginIntro(ctx, sess)
}

// beginIntro opens the introduction step for a freshly paired participant.
func (e *Engine) beginIntro(ctx context.Context, sess *domain.Session) {
	sess.Subdir = "intros"
	e.sendText(ctx, sess, introInstruction(sess.PairedUser))
	e.reg.SetStatus(ctx, sess, domain.StatusAwaitingIntro)
}
