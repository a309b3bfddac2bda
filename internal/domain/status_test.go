package domain

import "testing"

func TestParseStatusAcceptsKnownVocabulary(t *testing.T) {
	known := []Status{
		StatusNone,
		StatusStartWelcomed,
		StatusTutorialCompleted,
		StatusCancelled,
		TutStoryReceived(1),
		TutStoryResponded(MaxTutorialStories),
		AwaitingWeekPrompt(1),
		ReceivedWeekVT(2),
		WeekComplete(FinalWeek),
	}
	for _, s := range known {
		got, err := ParseStatus(string(s))
		if err != nil {
			t.Fatalf("ParseStatus(%q) returned error: %v", s, err)
		}
		if got != s {
			t.Fatalf("ParseStatus(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseStatusRejectsUnknownTags(t *testing.T) {
	unknown := []string{
		"",
		"week3_complete",
		"tut_story0received",
		"awaiting_week1_promptx",
		"WEEK1_COMPLETE",
	}
	for _, raw := range unknown {
		if _, err := ParseStatus(raw); err == nil {
			t.Fatalf("ParseStatus(%q) succeeded, want error", raw)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	if !StatusCancelled.Terminal() {
		t.Fatal("cancel should be terminal")
	}
	if !StatusLeftGroup.Terminal() {
		t.Fatal("left_group should be terminal")
	}
	if AwaitingWeekPrompt(1).Terminal() {
		t.Fatal("awaiting_week1_prompt should not be terminal")
	}
}
