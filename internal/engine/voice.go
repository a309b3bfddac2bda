package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/wisper-social/wisperbot/internal/domain"
	"github.com/wisper-social/wisperbot/internal/gateway"
	"github.com/wisper-social/wisperbot/internal/session"
)

// Clip allowances per step. Tutorial and weekly steps accept a second
// clip before closing; the introduction is a single voicenote.
const (
	introClips = 1
	storyClips = 2
)

// voiceStep describes the voice-recording step a session is currently
// in. label is stamped on every clip's audit entry so the partner
// exchange can find the recording later by step, independent of how the
// session's live status moved afterwards.
type voiceStep struct {
	label    domain.Status
	maxClips int
	complete func(ctx context.Context, sess *domain.Session)
}

// currentVoiceStep maps the session's status to its voice step, if the
// status is one that accepts recordings.
func (e *Engine) currentVoiceStep(sess *domain.Session) (voiceStep, bool) {
	for n := 1; n <= domain.MaxTutorialStories; n++ {
		if sess.Status == domain.TutStoryReceived(n) {
			story := n
			return voiceStep{
				label:    domain.TutStoryResponded(n),
				maxClips: storyClips,
				complete: func(ctx context.Context, s *domain.Session) {
					e.completeTutorialResponse(ctx, s, story)
				},
			}, true
		}
	}

	w := sess.Week
	switch sess.Status {
	case domain.StatusAwaitingIntro:
		return voiceStep{
			label:    domain.StatusReceivedIntro,
			maxClips: introClips,
			complete: e.completeIntro,
		}, true
	case domain.AwaitingWeekPrompt(w):
		return voiceStep{
			label:    domain.ReceivedWeekStory(w),
			maxClips: storyClips,
			complete: func(ctx context.Context, s *domain.Session) { e.completeStory(ctx, s, w) },
		}, true
	case domain.AwaitingWeekVT(w):
		return voiceStep{
			label:    domain.ReceivedWeekVT(w),
			maxClips: storyClips,
			complete: func(ctx context.Context, s *domain.Session) { e.completeVT(ctx, s, w) },
		}, true
	case domain.AwaitingWeekPS(w):
		return voiceStep{
			label:    domain.ReceivedWeekPS(w),
			maxClips: storyClips,
			complete: func(ctx context.Context, s *domain.Session) { e.completePS(ctx, s, w) },
		}, true
	case domain.AwaitingWeekFeedback(w):
		return voiceStep{
			label:    domain.ReceivedWeekFeedback(w),
			maxClips: storyClips,
			complete: func(ctx context.Context, s *domain.Session) { e.completeFeedback(ctx, s, w) },
		}, true
	}
	return voiceStep{}, false
}

func (e *Engine) handleVoice(ctx context.Context, sess *domain.Session, u gateway.Update) {
	step, ok := e.currentVoiceStep(sess)
	if !ok {
		e.sendText(ctx, sess, "I wasn't expecting a voice message right now. "+guidance(sess))
		return
	}

	destDir := filepath.Join(e.opts.MediaDir, sess.Name, sess.Subdir)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		slog.Error("failed to create media directory", "dir", destDir, "error", err)
		return
	}
	path, err := e.msgr.DownloadVoice(ctx, u.VoiceRef, destDir)
	if err != nil {
		slog.Error("failed to download voice message", "chat_id", sess.ChatID, "error", err)
		e.sendText(ctx, sess, "Sorry, I couldn't receive that recording. Please try sending it again!")
		return
	}

	e.reg.Audit(ctx, &domain.Event{
		Sender:   sess.Name,
		SenderID: sess.ChatID,
		Receiver: session.BotName,
		Kind:     domain.EventRecvVoice,
		Filename: path,
		Status:   step.label,
	})

	// Transcripts are an enhancement; the conversation never waits on one.
	go e.transcribeClip(path)

	sess.VoiceCount++
	e.reg.Persist(ctx, sess)

	if sess.VoiceCount >= step.maxClips {
		e.completeVoiceStep(ctx, sess, step)
		return
	}
	e.sendText(ctx, sess, "Thanks for your recording! Feel free to send one more, or reply 'done' when you're finished with this step.")
}

func (e *Engine) transcribeClip(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	if _, err := e.trans.Transcribe(ctx, path); err != nil {
		slog.Warn("transcription failed", "file", path, "error", err)
	}
}

func (e *Engine) completeVoiceStep(ctx context.Context, sess *domain.Session, step voiceStep) {
	sess.VoiceCount = 0
	e.reg.Persist(ctx, sess)
	step.complete(ctx, sess)
}

func (e *Engine) completeTutorialResponse(ctx context.Context, sess *domain.Session, story int) {
	e.reg.SetStatus(ctx, sess, domain.TutStoryResponded(story))
	if e.tutorialExhausted(sess) {
		// Responding to the last story ends the tutorial.
		e.sendText(ctx, sess, tutorialDone)
		e.reg.SetStatus(ctx, sess, domain.StatusTutorialCompleted)
		return
	}
	e.sendText(ctx, sess, "Thank you for your reflections! When you're ready for the next story, request it with /gettutorialstory.")
}

// completeIntro closes this side's introduction and, once both sides are
// in, exchanges the voicenotes and schedules the first weekly prompt.
func (e *Engine) completeIntro(ctx context.Context, sess *domain.Session) {
	e.reg.SetStatus(ctx, sess, domain.StatusReceivedIntro)
	e.sendText(ctx, sess, "Thank you for introducing yourself!")

	e.reg.SyncPair(func() {
		partner, ok := e.reg.Partner(sess)
		if !ok || partner.Status != domain.StatusReceivedIntro {
			e.sendText(ctx, sess, partnerNotReadyIntro)
			return
		}

		for _, pair := range [][2]*domain.Session{{sess, partner}, {partner, sess}} {
			to, from := pair[0], pair[1]
			intros, err := e.stepRecordings(ctx, from.ChatID, domain.StatusReceivedIntro)
			if err != nil {
				slog.Error("introduction recording missing", "chat_id", from.ChatID, "error", err)
				continue
			}
			e.sendText(ctx, to, partnerIntroReceived)
			for _, clip := range intros {
				e.sendVoiceNow(ctx, to, clip)
			}
		}

		anchor := pairAnchor(sess, partner)
		promptAt := anchor.Add(1 * e.opts.Interval)
		for _, member := range []*domain.Session{sess, partner} {
			member.Subdir = "week1"
			e.reg.SetStatus(ctx, member, domain.StatusIntrosComplete)
			e.scheduleBundle(ctx, member.ChatID, promptAt, weekPromptBundle(1), domain.AwaitingWeekPrompt(1))
		}
	})
}

func (e *Engine) completeStory(ctx context.Context, sess *domain.Session, week int) {
	e.reg.SetStatus(ctx, sess, domain.ReceivedWeekStory(week))
	e.sendText(ctx, sess, "Thank you for sharing your story! 💜")

	e.reg.SyncPair(func() {
		partner, ok := e.reg.Partner(sess)
		if !ok || partner.Status != domain.ReceivedWeekStory(week) {
			return
		}
		anchor := pairAnchor(sess, partner)
		vtAt := anchor.Add(2 * e.opts.Interval)
		vtImage := filepath.Join(e.opts.ContentDir, "value_tensions.png")
		for _, member := range []*domain.Session{sess, partner} {
			e.scheduleBundle(ctx, member.ChatID, vtAt, vtBundle(vtImage), domain.AwaitingWeekVT(week))
		}
	})
}

func (e *Engine) completeVT(ctx context.Context, sess *domain.Session, week int) {
	e.reg.SetStatus(ctx, sess, domain.ReceivedWeekVT(week))
	e.sendText(ctx, sess, "Thank you for your value tension reflection!")

	e.reg.SyncPair(func() {
		partner, ok := e.reg.Partner(sess)
		if !ok || partner.Status != domain.ReceivedWeekVT(week) {
			return
		}
		anchor := pairAnchor(sess, partner)
		psAt := anchor.Add(3 * e.opts.Interval)
		for _, pair := range [][2]*domain.Session{{sess, partner}, {partner, sess}} {
			to, from := pair[0], pair[1]
			story, err := e.stepRecordings(ctx, from.ChatID, domain.ReceivedWeekStory(week))
			if err != nil {
				slog.Error("partner story recording missing", "chat_id", from.ChatID, "error", err)
				continue
			}
			vt, err := e.stepRecordings(ctx, from.ChatID, domain.ReceivedWeekVT(week))
			if err != nil {
				slog.Error("partner value tension recording missing", "chat_id", from.ChatID, "error", err)
				continue
			}
			e.scheduleBundle(ctx, to.ChatID, psAt, psBundle(story, vt), domain.AwaitingWeekPS(week))
		}
	})
}

func (e *Engine) completePS(ctx context.Context, sess *domain.Session, week int) {
	e.reg.SetStatus(ctx, sess, domain.ReceivedWeekPS(week))
	e.sendText(ctx, sess, "Thank you for lending your partner a curious ear!")

	e.reg.SyncPair(func() {
		partner, ok := e.reg.Partner(sess)
		if !ok || partner.Status != domain.ReceivedWeekPS(week) {
			return
		}
		anchor := pairAnchor(sess, partner)
		fbAt := anchor.Add(5 * e.opts.Interval)
		for _, pair := range [][2]*domain.Session{{sess, partner}, {partner, sess}} {
			to, from := pair[0], pair[1]
			ps, err := e.stepRecordings(ctx, from.ChatID, domain.ReceivedWeekPS(week))
			if err != nil {
				slog.Error("partner listening response missing", "chat_id", from.ChatID, "error", err)
				continue
			}
			e.scheduleBundle(ctx, to.ChatID, fbAt, feedbackBundle(ps), domain.AwaitingWeekFeedback(week))
		}
	})
}

// completeFeedback closes the week once both final reactions are in and,
// below the final week, rolls the pair over to the next one.
func (e *Engine) completeFeedback(ctx context.Context, sess *domain.Session, week int) {
	e.reg.SetStatus(ctx, sess, domain.ReceivedWeekFeedback(week))
	e.sendText(ctx, sess, "Thank you for your final reaction!")

	e.reg.SyncPair(func() {
		partner, ok := e.reg.Partner(sess)
		if !ok || partner.Status != domain.ReceivedWeekFeedback(week) {
			return
		}
		anchor := pairAnchor(sess, partner)
		completeAt := anchor.Add(6 * e.opts.Interval)
		for _, pair := range [][2]*domain.Session{{sess, partner}, {partner, sess}} {
			to, from := pair[0], pair[1]
			fb, err := e.stepRecordings(ctx, from.ChatID, domain.ReceivedWeekFeedback(week))
			if err != nil {
				slog.Error("partner feedback recording missing", "chat_id", from.ChatID, "error", err)
				continue
			}
			e.scheduleBundle(ctx, to.ChatID, completeAt, weekCompleteBundle(week, fb), domain.WeekComplete(week))
		}

		if week >= domain.FinalWeek {
			return
		}

		// The closed week's end becomes the next week's anchor, so the
		// next prompt lands one interval after the week-complete bundle.
		nextAnchor := completeAt
		nextPromptAt := nextAnchor.Add(1 * e.opts.Interval)
		nextWeek := week + 1
		for _, member := range []*domain.Session{sess, partner} {
			if member.Week2StartDate == nil {
				member.Week2StartDate = &nextAnchor
			}
			member.Week = nextWeek
			member.Subdir = fmt.Sprintf("week%d", nextWeek)
			e.reg.Persist(ctx, member)
			e.scheduleBundle(ctx, member.ChatID, nextPromptAt, weekPromptBundle(nextWeek), domain.AwaitingWeekPrompt(nextWeek))
		}
	})
}

// sendVoiceNow delivers a voice file immediately, with audit and
// duplicate suppression.
func (e *Engine) sendVoiceNow(ctx context.Context, sess *domain.Session, path string) {
	if err := e.msgr.SendVoice(ctx, sess.ChatID, path); err != nil {
		slog.Error("failed to send voice message", "chat_id", sess.ChatID, "file", path, "error", err)
		return
	}
	e.reg.Audit(ctx, &domain.Event{
		Sender:     session.BotName,
		Receiver:   sess.Name,
		ReceiverID: sess.ChatID,
		Kind:       domain.EventSendVoice,
		Filename:   path,
	})
	e.reg.RecordSent(ctx, sess, path)
}

// stepRecordings lists every voice recording a chat submitted for the
// step labelled by the given status, in submission order. A participant
// may split a step across clips; the partner hears all of them.
func (e *Engine) stepRecordings(ctx context.Context, chatID int64, label domain.Status) ([]string, error) {
	events, err := e.repo.ListEventsByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list events for chat %d: %w", chatID, err)
	}
	var clips []string
	for _, ev := range events {
		if ev.Kind == domain.EventRecvVoice && ev.Status == label && ev.Filename != "" {
			clips = append(clips, ev.Filename)
		}
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("no %s recordings found for chat %d", label, chatID)
	}
	return clips, nil
}

// pairAnchor is the shared schedule baseline for a pair: the later of
// the two members' anchors, so neither side's clock runs ahead of the
// other's.
func pairAnchor(a, b *domain.Session) time.Time {
	aa, ba := a.Anchor(), b.Anchor()
	if ba.After(aa) {
		return ba
	}
	return aa
}
