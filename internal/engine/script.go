package engine

import (
	"fmt"
	"strings"

	"github.com/wisper-social/wisperbot/internal/domain"
)

// Script copy is externally supplied content. Items prefixed with "img:"
// or "audio:" carry a file path; everything else is plain text.

const (
	imgPrefix   = "img:"
	audioPrefix = "audio:"
)

// parseItem resolves one script item into a payload kind and payload.
func parseItem(raw string) (domain.PayloadKind, string) {
	switch {
	case strings.HasPrefix(raw, imgPrefix):
		return domain.PayloadImage, strings.TrimPrefix(raw, imgPrefix)
	case strings.HasPrefix(raw, audioPrefix):
		return domain.PayloadVoice, strings.TrimPrefix(raw, audioPrefix)
	default:
		return domain.PayloadText, raw
	}
}

func welcomeMessages(firstName string) []string {
	return []string{
		fmt.Sprintf("Hi %s! 👋🏻\n\nWelcome to Wisperbot, which is a bot designed to help you reflect on the values and motivations that are embedded in your life's stories, as well as the stories of others.\n\nIn Wisperbot, you get to share your story with others based on prompts, and you get to reflect on other people's stories by engaging in 'curious listening', which we will tell you more about in a little bit.", firstName),
		"Since this is your first time using Wisperbot, you are currently in the 'tutorial space' of Wisperbot, where you will practice curious listening a couple of times before entering Wisper for real.",
		"Once you are ready, enter /starttutorial for further instructions. 😊",
	}
}

const tutorialInstructions = "Awesome, let's get started! ✨\n\nIn this tutorial, you will get the chance to listen to a few stories from other people.\n\nAfter each audio story, think about which values seem to be at play for that person at that time.\n\nAfter you've taken some time to think about the story, please take a minute or two to record a response to this person's story in an 'active listening' way.\n\nThis means that you try to repeat back to the person what they said but in your own words, and that you ask clarifying questions that would help the person think about which values seemed to be at odds with one another in this situation. This way of listening ensures that the person you're responding to really feels heard.💜\n\nIn this tutorial, your response will NOT be sent back to the story's author, so don't be afraid to practice! ^^\n\nReady to listen to some stories? Please run /gettutorialstory to receive a practice story to start with."

func tutorialStoryIntro(n int) string {
	switch n {
	case 1:
		return "Here's the first tutorial story for you to listen to:"
	default:
		return "Here's the next tutorial story for you to listen to, from someone else:"
	}
}

const firstStoryFollowup = "So, having listened to this person's story, what do you think is the rub? Which driving forces underlie the storyteller's experience?\n\nWhen you're ready to send in an audio response to this story, just record and send it to Wisperbot.\n\nRemember to reflect on which values seem to drive the person in this story, but do so through 'active listening': by paraphrasing and asking clarifying questions.\n\nRecord your response whenever you're ready!\n\nP.S. You will only be able to request another tutorial story when you have responded to this one first. (:"

const laterStoryFollowup = "Again, have a think about which values seem embedded in this person's story. When you're ready to record your response, go ahead!"

const tutorialDone = "Exciting! You've listened to all the tutorial stories I've got for you!\n\nTime to enter Wisper, where you will also be able to listen to another person's stories, and send them a 'curious listening' response about the values they seem to balance.\n\nAdditionally, and importantly, you will also get to record your own stories, based on a prompt! Your partner will then be able to respond to your story, the same way you have responded to theirs.\n\nUse the /endtutorial command to enter the world of Wisper!"

func introInstruction(partner string) string {
	return fmt.Sprintf("Now that the tutorial has been completed, we think it's nice for both you and your partner to introduce yourselves shortly to one another.\n\nYou are paired with %s! Feel free to include your first name if you want to, but you are not required to do so.\n\nPlease send a voicenote introducing yourself to your partner today. Once both you and your partner have done so, you will be able to continue on to the main Wisper experience tomorrow.", partner)
}

const helpText = "Thanks for submitting your reflections. If you have any trouble, feel free to explain the issue by typing a text message to me below and someone from Bloom will help."

const groupFarewell = "This bot is intended for individual chats only. 🥰 Bye for now"

const partnerIntroReceived = "Your partner has also sent in their introduction!"

const partnerNotReadyIntro = "Your partner has not yet sent their introduction. You'll receive it as soon as they send it in!"

// weekPromptBundle is the scripted opening of a week, delivered on day 1
// of that week's schedule.
func weekPromptBundle(week int) []string {
	if week == 1 {
		return []string{
			"Welcome to the main Wisper experience! You have successfully completed on-boarding, and have already been introduced to your Wisper partner.",
			"Over the course of this week, you will be exchanging audio messages and listening to one another. Today, we start with reflecting on your life and recording an audio story for your partner. You will do so based on a prompt that you and your partner both will receive in a moment.",
			"Your personal story prompt is 'What was an experience in your life where you had to handle a complex situation?'",
			"Take your time to think about this prompt, and submit your audio when you are ready. Don't worry too much about what your Wisper partner might think—Wisper is also about being compassionate, to yourself and others. Rest assured that you will be met with compassion.",
			"Make sure you send in your story today, your partner will be doing the same.",
		}
	}
	return []string{
		"Welcome to week two of the Wisper experience!",
		"Your personal story prompt for this week is 'What was a moment in your life where you surprised yourself?'",
		"Take your time to think about this prompt, and submit your audio when you are ready. Don't worry too much about what your Wisper partner might think—Wisper is also about being compassionate, to yourself and others. Rest assured that you will be met with compassion.",
		"Make sure you send in your story today, your partner will be doing the same.",
	}
}

// vtBundle asks for the value-tension reflection; vtImage is the path of
// the illustration asset.
func vtBundle(vtImage string) []string {
	return []string{
		"Welcome back! Yesterday you recorded a personal story. Today, we would like you to listen to your own story, and think about whether and how you have had to balance between different values. This balancing is what we call 'value tensions'.",
		"Here are some examples of value tensions.",
		imgPrefix + vtImage,
		"In today's part of the Wisper experience, we would like you to reflect on how you would place yourself on **one or two** of the following value tensions, and send this to your Wisper partner in an audio message. Note that you do not need to cover all of these tensions; just pick one or two that seem relevant to the story that you recorded earlier. When you are ready to record, go ahead.",
	}
}

// audioItems renders a set of clip paths as consecutive audio items.
func audioItems(items []string, clips []string) []string {
	for _, clip := range clips {
		items = append(items, audioPrefix+clip)
	}
	return items
}

// psBundle delivers the partner's story and value-tension audio and asks
// for the curious-listening response. A step recorded across several
// clips is forwarded whole.
func psBundle(storyAudio, vtAudio []string) []string {
	items := []string{
		"Hi there! Your partner and you both have recorded your story and value tension reflections. Time to listen to your partner's audio!",
		"Here is your partner's initial personal story.",
	}
	items = audioItems(items, storyAudio)
	items = append(items, "Here is your partner's value tension reflection on that story.")
	items = audioItems(items, vtAudio)
	return append(items,
		"Now, it's important that you listen to these stories as you would to a good friend. Wisper is all about 'curious listening', which means that we listen to understand. After having listened to your partner's story and value tension reflection, make sure you try to paraphrase your partner's story in your own words, and ask clarifying questions. That way, your partner will truly feel heard!",
		"Go ahead and record your 'curious listening' response to your partner's stories when you are ready. Make sure you do so before the end of tomorrow.",
	)
}

// feedbackBundle delivers the partner's curious-listening response and
// asks for a final reaction.
func feedbackBundle(psAudio []string) []string {
	items := []string{
		"Hi there! Yesterday you responded to your partner's stories and lent them your 'curious listening' ear! In the meantime, your partner has also listened to your audio messages. Time to take a listen!",
	}
	items = audioItems(items, psAudio)
	return append(items,
		"When you have listened to their perspective, take a moment to think about your partner's audio message. Do you agree with them? Does their take on your voice messages change anything about how you view your own story?",
		"Take a moment to reflect on your partner's response and record a final response for them. You might thank them for listening to your stories, or for providing an interesting new perspective. Feel free to share your thoughts and exchange feelings. Your partner will be doing the same for you. Go ahead and record your final reaction when you are ready.",
	)
}

// weekCompleteBundle delivers the partner's final reflection and closes
// the week.
func weekCompleteBundle(week int, feedbackAudio []string) []string {
	closing := fmt.Sprintf("This marks the end of Week %d of your Wisper journey. We hope it has been valuable and reflective, so far. As you know, Wisper consists of two weeks. You will get the opportunity to share another story with your partner and try out some more curious listening. Enjoy the rest of your day, and keep an eye out for further steps.", week)
	if week == domain.FinalWeek {
		closing = "This marks the end of your Wisper journey. Thank you for listening, sharing, and reflecting with your partner over these two weeks. We hope the experience of curious listening stays with you. 💜"
	}
	items := []string{
		"Wonderful, your partner has submitted their final response as well, which means that you can listen to it right now!",
	}
	items = audioItems(items, feedbackAudio)
	return append(items, closing)
}
