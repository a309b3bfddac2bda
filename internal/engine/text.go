package engine

import (
	"context"
	"strings"

	"github.com/wisper-social/wisperbot/internal/domain"
	"github.com/wisper-social/wisperbot/internal/session"
)

// handleText processes a plain (non-command) text message. "done" closes
// an open voice step early; anything else gets guidance for the current
// step.
func (e *Engine) handleText(ctx context.Context, sess *domain.Session, text string) {
	if text == "" {
		return
	}

	e.reg.Audit(ctx, &domain.Event{
		Sender:   sess.Name,
		SenderID: sess.ChatID,
		Receiver: session.BotName,
		Kind:     domain.EventRecvText,
	})

	if strings.EqualFold(text, "done") {
		if step, ok := e.currentVoiceStep(sess); ok {
			if sess.VoiceCount >= 1 {
				e.completeVoiceStep(ctx, sess, step)
				return
			}
			e.sendText(ctx, sess, "Please record at least one voice message before finishing this step!")
			return
		}
	}

	e.sendText(ctx, sess, guidance(sess))
}

// guidance tells a participant what the current step expects of them.
func guidance(sess *domain.Session) string {
	switch sess.Status {
	case domain.StatusNone:
		return "Say hi with /start to begin your Wisper journey!"
	case domain.StatusStartWelcomed:
		return "When you're ready, enter /starttutorial for further instructions."
	case domain.StatusTutorialStarted:
		return "Please run /gettutorialstory to receive a practice story."
	case domain.StatusTutorialCompleted:
		return "You've completed the tutorial! Hang tight while we match you with a Wisper partner."
	case domain.StatusAwaitingIntro:
		return "Please send a voicenote introducing yourself to your partner."
	case domain.StatusReceivedIntro:
		return "Your introduction is in! You'll hear from me once your partner has sent theirs."
	case domain.StatusIntrosComplete:
		return "Introductions are complete! Your first story prompt is on its way."
	}

	for n := 1; n <= domain.MaxTutorialStories; n++ {
		switch sess.Status {
		case domain.TutStoryReceived(n):
			return "Please record a voice response to the tutorial story you just received."
		case domain.TutStoryResponded(n):
			return "Request the next story with /gettutorialstory, or enter /endtutorial if you've responded to them all."
		}
	}

	w := sess.Week
	switch sess.Status {
	case domain.AwaitingWeekPrompt(w):
		return "Please record your story for this week's prompt whenever you're ready."
	case domain.AwaitingWeekVT(w):
		return "Please record your value tension reflection whenever you're ready."
	case domain.AwaitingWeekPS(w):
		return "Please record your 'curious listening' response to your partner's audio whenever you're ready."
	case domain.AwaitingWeekFeedback(w):
		return "Please record your final reaction to your partner's response whenever you're ready."
	case domain.ReceivedWeekStory(w), domain.ReceivedWeekVT(w),
		domain.ReceivedWeekPS(w), domain.ReceivedWeekFeedback(w):
		return "You're all caught up! The next step arrives once your partner is ready too."
	case domain.WeekComplete(w):
		if w >= domain.FinalWeek {
			return "Your Wisper journey is complete. Thank you for listening and sharing! 💜"
		}
		return "This week is complete! Keep an eye out for next week's prompt."
	}

	return "If you're stuck, try /help."
}
