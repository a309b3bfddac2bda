package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/wisper-social/wisperbot/internal/domain"
)

// tutorialStories lists the pre-recorded practice stories, in lexical
// order. The directory contents define the tutorial's length, capped at
// the status vocabulary's maximum.
func (e *Engine) tutorialStories() []string {
	entries, err := os.ReadDir(e.opts.TutorialDir)
	if err != nil {
		slog.Error("failed to read tutorial directory", "dir", e.opts.TutorialDir, "error", err)
		return nil
	}
	var out []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(ent.Name())) {
		case ".ogg", ".oga", ".mp3", ".m4a", ".wav":
			out = append(out, filepath.Join(e.opts.TutorialDir, ent.Name()))
		}
	}
	if len(out) > domain.MaxTutorialStories {
		out = out[:domain.MaxTutorialStories]
	}
	return out
}

// tutorialExhausted reports whether every practice story has been
// delivered to this chat.
func (e *Engine) tutorialExhausted(sess *domain.Session) bool {
	for _, story := range e.tutorialStories() {
		if !sess.HasSent(story) {
			return false
		}
	}
	return true
}

func (e *Engine) cmdGetTutorialStory(ctx context.Context, sess *domain.Session) {
	allowed := sess.Status == domain.StatusTutorialStarted
	for n := 1; n <= domain.MaxTutorialStories; n++ {
		if sess.Status == domain.TutStoryReceived(n) {
			e.sendText(ctx, sess, "Please record a response to the story you already have before requesting another!")
			return
		}
		if sess.Status == domain.TutStoryResponded(n) {
			allowed = true
		}
	}
	if !allowed {
		e.sendText(ctx, sess, guidance(sess))
		return
	}

	var (
		next string
		sent int
	)
	for _, story := range e.tutorialStories() {
		if sess.HasSent(story) {
			sent++
			continue
		}
		next = story
		break
	}
	if next == "" {
		e.sendText(ctx, sess, tutorialDone)
		return
	}

	n := sent + 1
	e.sendText(ctx, sess, tutorialStoryIntro(n))
	e.sendVoiceNow(ctx, sess, next)
	if n == 1 {
		e.sendText(ctx, sess, firstStoryFollowup)
	} else {
		e.sendText(ctx, sess, laterStoryFollowup)
	}
	e.reg.SetStatus(ctx, sess, domain.TutStoryReceived(n))
}

func (e *Engine) cmdEndTutorial(ctx context.Context, sess *domain.Session) {
	switch sess.Status {
	case domain.StatusTutorialCompleted:
		// A tutorial with no stories to hand out can also end here.
	case domain.StatusTutorialStarted:
		if len(e.tutorialStories()) > 0 {
			e.sendText(ctx, sess, "Not so fast! Please listen and respond to all the tutorial stories first. "+guidance(sess))
			return
		}
		e.reg.SetStatus(ctx, sess, domain.StatusTutorialCompleted)
	default:
		e.sendText(ctx, sess, guidance(sess))
		return
	}

	e.reg.ResolvePairing(ctx, sess)
	if sess.Paired() {
		e.beginIntro(ctx, sess)
		return
	}
	e.sendText(ctx, sess, "Welcome to Wisper! You haven't been matched with a partner yet; I'll let you know as soon as you are.")
}
