package domain

import "fmt"

// Status identifies a participant's position in the scripted exchange.
// The vocabulary is fixed; values read back from the store must parse
// through ParseStatus so that unknown tags are rejected at the boundary
// instead of leaking into the state machine.
type Status string

// Fixed (non week-parameterized) statuses.
const (
	StatusNone              Status = "none"
	StatusStartWelcomed     Status = "start_welcomed"
	StatusTutorialStarted   Status = "tutorial_started"
	StatusTutorialCompleted Status = "tutorial_completed"
	StatusAwaitingIntro     Status = "awaiting_intro"
	StatusReceivedIntro     Status = "received_intro"
	StatusIntrosComplete    Status = "intros_complete"
	StatusLeftGroup         Status = "left_group"
	StatusCancelled         Status = "cancel"
)

// MaxTutorialStories is the number of practice stories in the tutorial.
const MaxTutorialStories = 4

// FinalWeek is the last week of the exchange; reaching its feedback
// step ends the journey.
const FinalWeek = 2

// TutStoryReceived returns the status for "tutorial story n sent to the
// participant, response pending". n is 1-based.
func TutStoryReceived(n int) Status {
	return Status(fmt.Sprintf("tut_story%dreceived", n))
}

// TutStoryResponded returns the status for "participant responded to
// tutorial story n".
func TutStoryResponded(n int) Status {
	return Status(fmt.Sprintf("tut_story%dresponded", n))
}

// AwaitingWeekPrompt through WeekComplete build the weekly step statuses.
func AwaitingWeekPrompt(week int) Status {
	return Status(fmt.Sprintf("awaiting_week%d_prompt", week))
}

func ReceivedWeekStory(week int) Status {
	return Status(fmt.Sprintf("received_week%d_story", week))
}

func AwaitingWeekVT(week int) Status {
	return Status(fmt.Sprintf("awaiting_week%d_vt", week))
}

func ReceivedWeekVT(week int) Status {
	return Status(fmt.Sprintf("received_week%d_vt", week))
}

func AwaitingWeekPS(week int) Status {
	return Status(fmt.Sprintf("awaiting_week%d_ps", week))
}

func ReceivedWeekPS(week int) Status {
	return Status(fmt.Sprintf("received_week%d_ps", week))
}

func AwaitingWeekFeedback(week int) Status {
	return Status(fmt.Sprintf("awaiting_week%d_feedback", week))
}

func ReceivedWeekFeedback(week int) Status {
	return Status(fmt.Sprintf("received_week%d_feedback", week))
}

func WeekComplete(week int) Status {
	return Status(fmt.Sprintf("week%d_complete", week))
}

var validStatuses = buildStatusSet()

func buildStatusSet() map[Status]struct{} {
	set := map[Status]struct{}{
		StatusNone:              {},
		StatusStartWelcomed:     {},
		StatusTutorialStarted:   {},
		StatusTutorialCompleted: {},
		StatusAwaitingIntro:     {},
		StatusReceivedIntro:     {},
		StatusIntrosComplete:    {},
		StatusLeftGroup:         {},
		StatusCancelled:         {},
	}
	for n := 1; n <= MaxTutorialStories; n++ {
		set[TutStoryReceived(n)] = struct{}{}
		set[TutStoryResponded(n)] = struct{}{}
	}
	for w := 1; w <= FinalWeek; w++ {
		set[AwaitingWeekPrompt(w)] = struct{}{}
		set[ReceivedWeekStory(w)] = struct{}{}
		set[AwaitingWeekVT(w)] = struct{}{}
		set[ReceivedWeekVT(w)] = struct{}{}
		set[AwaitingWeekPS(w)] = struct{}{}
		set[ReceivedWeekPS(w)] = struct{}{}
		set[AwaitingWeekFeedback(w)] = struct{}{}
		set[ReceivedWeekFeedback(w)] = struct{}{}
		set[WeekComplete(w)] = struct{}{}
	}
	return set
}

// ParseStatus validates a status tag read from an external source.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if _, ok := validStatuses[status]; !ok {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return status, nil
}

// Valid reports whether the status is part of the known vocabulary.
func (s Status) Valid() bool {
	_, ok := validStatuses[s]
	return ok
}

// Terminal reports whether no further step advancement is allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusLeftGroup
}
