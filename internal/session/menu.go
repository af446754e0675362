package session

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/roelfdiedericks/voxledger/internal/transcribe"
)

// Keyboard choices. module_* open a submenu, the rest start or finish a flow.
const (
	ChoiceMenu = "menu"

	ChoiceModuleVoice     = "module_voice_notes"
	ChoiceModuleReminders = "module_reminders"
	ChoiceModuleTodo      = "module_todo"
	ChoiceModuleMeetings  = "module_meetings"
	ChoiceModuleInterests = "module_interests"

	ChoiceVoiceRecord   = "voice_record"
	ChoiceVoiceUpload   = "voice_upload"
	ChoiceReminderNew   = "reminder_new"
	ChoiceReminderVoice = "reminder_voice"
	ChoiceTodoNew       = "todo_new"
	ChoiceTodoVoice     = "todo_voice"
	ChoiceMeetingUpload = "meeting_upload"
	ChoiceMeetingNew    = "meeting_new"
	ChoiceInterestLink  = "interest_link"
	ChoiceInterestImage = "interest_image"
	ChoiceInterestVideo = "interest_video"

	ChoiceVoiceList    = "voice_list"
	ChoiceReminderList = "reminder_list"
	ChoiceTodoList     = "todo_list"
	ChoiceMeetingList  = "meeting_list"
	ChoiceInterestList = "interest_list"

	ChoiceQuickReminder = "quick_reminder"
	ChoiceQuickTodo     = "quick_todo"
	ChoiceQuickInterest = "quick_interest"

	ChoiceAudioNote    = "audio_note"
	ChoiceAudioMeeting = "audio_meeting"
)

// entryPoint is where an entry choice leads.
type entryPoint struct {
	state  State
	prompt string
}

var entryPoints = map[string]entryPoint{
	ChoiceVoiceRecord: {
		State{Kind: StateAwaitingVoice, Target: TargetVoiceNote},
		"🎤 Record your voice note and send it to me.",
	},
	ChoiceVoiceUpload: {
		State{Kind: StateAwaitingVoice, Target: TargetVoiceNote},
		"📱 Send me an audio file from your device.",
	},
	ChoiceReminderNew: {
		State{Kind: StateAwaitingText, Target: TargetReminder},
		"⏰ New reminder\n\nType your reminder, for example:\nMeeting with client - tomorrow 10:00",
	},
	ChoiceReminderVoice: {
		State{Kind: StateAwaitingVoice, Target: TargetReminder},
		"🔔 Voice reminder\n\nRecord your reminder. Mention the date and time if it has one.",
	},
	ChoiceTodoNew: {
		State{Kind: StateAwaitingText, Target: TargetTodo},
		"✅ New task\n\nType your task, for example:\nFinish sales report - priority high",
	},
	ChoiceTodoVoice: {
		State{Kind: StateAwaitingVoice, Target: TargetTodo},
		"🎤 Voice task\n\nRecord your task. You can mention priority and due date.",
	},
	ChoiceMeetingUpload: {
		State{Kind: StateAwaitingVoice, Target: TargetMeeting},
		"🎬 Upload a meeting recording\n\nSend the audio or video of your meeting and I will transcribe it.",
	},
	ChoiceMeetingNew: {
		State{Kind: StateAwaitingFollowup, Target: TargetMeeting, Step: 1},
		"📝 New meeting\n\nWhat is the meeting title?",
	},
	ChoiceInterestLink: {
		State{Kind: StateAwaitingText, Target: TargetInterestLink},
		"🔗 Save a link\n\nSend the link you want to keep (articles, YouTube, ...).",
	},
	ChoiceInterestImage: {
		State{Kind: StateAwaitingMedia, Target: TargetInterestImage},
		"📸 Save an image\n\nSend the image you want to keep.",
	},
	ChoiceInterestVideo: {
		State{Kind: StateAwaitingMedia, Target: TargetInterestVideo},
		"🎥 Save a video\n\nSend the video, or a YouTube/Vimeo/Instagram link.",
	},
}

var listChoices = map[string][]Target{
	ChoiceVoiceList:    {TargetVoiceNote},
	ChoiceReminderList: {TargetReminder},
	ChoiceTodoList:     {TargetTodo},
	ChoiceMeetingList:  {TargetMeeting},
	ChoiceInterestList: {TargetInterestLink, TargetInterestImage, TargetInterestVideo, TargetInterestNote},
}

var backOption = Option{Label: "⬅️ Back to menu", Choice: ChoiceMenu}

var submenus = map[string]struct {
	title   string
	options []Option
}{
	ChoiceModuleVoice: {"🎙️ Voice notes", []Option{
		{"🎤 Record voice note", ChoiceVoiceRecord},
		{"📱 Upload audio", ChoiceVoiceUpload},
		{"🗂️ My notes", ChoiceVoiceList},
		backOption,
	}},
	ChoiceModuleReminders: {"⏰ Reminders", []Option{
		{"➕ New reminder", ChoiceReminderNew},
		{"🔔 Voice reminder", ChoiceReminderVoice},
		{"📋 My reminders", ChoiceReminderList},
		backOption,
	}},
	ChoiceModuleTodo: {"✅ Tasks", []Option{
		{"➕ New task", ChoiceTodoNew},
		{"🎤 Voice task", ChoiceTodoVoice},
		{"📝 My tasks", ChoiceTodoList},
		backOption,
	}},
	ChoiceModuleMeetings: {"👥 Meetings", []Option{
		{"🎬 Upload recording", ChoiceMeetingUpload},
		{"📝 New meeting", ChoiceMeetingNew},
		{"📋 My meetings", ChoiceMeetingList},
		backOption,
	}},
	ChoiceModuleInterests: {"🔖 Interests", []Option{
		{"🔗 Add link", ChoiceInterestLink},
		{"📸 Add image", ChoiceInterestImage},
		{"🎥 Video / YouTube", ChoiceInterestVideo},
		{"📚 My interests", ChoiceInterestList},
		backOption,
	}},
}

// MainMenuOptions is the top-level keyboard.
func MainMenuOptions() []Option {
	return []Option{
		{"🎙️ Voice notes", ChoiceModuleVoice},
		{"⏰ Reminders", ChoiceModuleReminders},
		{"✅ Tasks", ChoiceModuleTodo},
		{"👥 Meetings", ChoiceModuleMeetings},
		{"🔖 Interests", ChoiceModuleInterests},
	}
}

func menuAction(message string) Action {
	if message == "" {
		message = "What would you like to do?"
	}
	return Action{Kind: ActionMenu, Message: message, Options: MainMenuOptions(), State: Idle}
}

func audioKindOptions() []Option {
	return []Option{
		{"📝 Voice note", ChoiceAudioNote},
		{"👥 Meeting", ChoiceAudioMeeting},
	}
}

var quickLabels = map[string]string{
	ChoiceQuickReminder: "⏰ Create reminder",
	ChoiceQuickTodo:     "✅ Create task",
	ChoiceQuickInterest: "🔖 Save as interest",
}

// textChooserOptions puts the suggested choice first when there is one.
func textChooserOptions(suggested string) []Option {
	order := []string{ChoiceQuickReminder, ChoiceQuickTodo, ChoiceQuickInterest}
	opts := make([]Option, 0, len(order)+1)
	if label, ok := quickLabels[suggested]; ok {
		opts = append(opts, Option{Label: label + " (suggested)", Choice: suggested})
	}
	for _, c := range order {
		if c != suggested {
			opts = append(opts, Option{Label: quickLabels[c], Choice: c})
		}
	}
	return append(opts, Option{Label: "📱 Main menu", Choice: ChoiceMenu})
}

// Preview truncates s to n runes, adding an ellipsis.
func Preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

func formatDuration(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}

var targetNames = map[Target]struct{ icon, name string }{
	TargetReminder:      {"⏰", "Reminder"},
	TargetTodo:          {"✅", "Task"},
	TargetMeeting:       {"👥", "Meeting"},
	TargetInterestLink:  {"🔗", "Link"},
	TargetInterestImage: {"📸", "Image"},
	TargetInterestVideo: {"🎥", "Video"},
	TargetInterestNote:  {"🔖", "Interest"},
	TargetVoiceNote:     {"🎙️", "Voice note"},
}

// Name is the human name of a target.
func (t Target) Name() string {
	if n, ok := targetNames[t]; ok {
		return n.name
	}
	return string(t)
}

// Label is Name with an icon.
func (t Target) Label() string {
	if n, ok := targetNames[t]; ok {
		return n.icon + " " + n.name
	}
	return string(t)
}

func savedMessage(e *Entity, res *transcribe.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s saved\n\n", e.Target.Label())
	if e.Title != "" && e.Title != e.Content {
		fmt.Fprintf(&b, "%s\n", e.Title)
	}
	if p := e.Fields["participants"]; p != "" {
		fmt.Fprintf(&b, "Participants: %s\n", p)
	}
	if e.Content != "" {
		fmt.Fprintf(&b, "%s\n", e.Content)
	}
	if res != nil {
		b.WriteString("\n")
		if res.Fallback {
			b.WriteString("⚠️ Transcription is temporarily unavailable; the audio was stored as is.")
		} else {
			fmt.Fprintf(&b, "🤖 Transcribed by %s ($%.4f)", res.Provider, res.Cost)
		}
	}
	return strings.TrimSpace(b.String())
}
