// Package session tracks the dialogue state of every chat and decides what
// an incoming message means: which kind of entity it creates, whether it
// needs transcribing, and what to ask the user next.
package session

import (
	"time"

	"github.com/roelfdiedericks/voxledger/internal/transcribe"
)

// Target is the entity type an event resolves to.
type Target string

const (
	TargetNone          Target = ""
	TargetReminder      Target = "reminder"
	TargetTodo          Target = "todo"
	TargetMeeting       Target = "meeting"
	TargetInterestLink  Target = "interest_link"
	TargetInterestImage Target = "interest_image"
	TargetInterestVideo Target = "interest_video"
	TargetInterestNote  Target = "interest_note"
	TargetVoiceNote     Target = "voice_note"
)

// Targets lists every entity type, in menu order.
var Targets = []Target{
	TargetVoiceNote, TargetReminder, TargetTodo, TargetMeeting,
	TargetInterestLink, TargetInterestImage, TargetInterestVideo, TargetInterestNote,
}

// StateKind enumerates the dialogue states.
type StateKind int

const (
	StateIdle StateKind = iota
	StateAwaitingText
	StateAwaitingVoice
	StateAwaitingMedia
	StateAwaitingFollowup
	StateAwaitingAudioKind
)

func (k StateKind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateAwaitingText:
		return "awaiting_text"
	case StateAwaitingVoice:
		return "awaiting_voice"
	case StateAwaitingMedia:
		return "awaiting_media"
	case StateAwaitingFollowup:
		return "awaiting_followup"
	case StateAwaitingAudioKind:
		return "awaiting_audio_kind"
	default:
		return "unknown"
	}
}

// State is the current position in a flow. Step is only used by
// StateAwaitingFollowup and starts at 1.
type State struct {
	Kind   StateKind
	Target Target
	Step   int
}

// Idle is the zero State.
var Idle = State{Kind: StateIdle}

// Pending holds input stashed while a chooser is open.
type Pending struct {
	Text  string
	Audio *AudioRef
}

// Session is the per-chat record. It is only touched under the store's
// per-session lock.
type Session struct {
	ID        string
	State     State
	Draft     map[string]string
	Pending   Pending
	UpdatedAt time.Time
}

func (s *Session) reset() {
	s.State = Idle
	s.Draft = nil
	s.Pending = Pending{}
}

func (s *Session) clone() Session {
	c := *s
	if s.Draft != nil {
		c.Draft = make(map[string]string, len(s.Draft))
		for k, v := range s.Draft {
			c.Draft[k] = v
		}
	}
	if s.Pending.Audio != nil {
		a := *s.Pending.Audio
		c.Pending.Audio = &a
	}
	return c
}

// EventKind classifies inbound events.
type EventKind int

const (
	EventText EventKind = iota
	EventAudio
	EventMedia
	EventCancel
	EventSelect
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventAudio:
		return "audio"
	case EventMedia:
		return "media"
	case EventCancel:
		return "cancel"
	case EventSelect:
		return "select"
	default:
		return "unknown"
	}
}

// AudioRef points at a clip. Either FileID (fetched on demand) or LocalPath
// is set.
type AudioRef struct {
	FileID          string
	FileName        string
	MIME            string
	DurationSeconds float64
	SizeBytes       int64
	LocalPath       string
}

// MediaKind is the transport's media type.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// MediaRef points at a non-voice attachment.
type MediaRef struct {
	Kind            MediaKind
	FileID          string
	FileName        string
	MIME            string
	SizeBytes       int64
	DurationSeconds float64
}

// Event is one inbound user action.
type Event struct {
	Kind   EventKind
	Text   string // message text, or the media caption
	Choice string // EventSelect only
	Audio  *AudioRef
	Media  *MediaRef
	Sender string
}

// ActionKind tells the transport how to render an Action.
type ActionKind int

const (
	ActionPrompt ActionKind = iota
	ActionChooser
	ActionMenu
	ActionFinalized
	ActionNotice
)

func (k ActionKind) String() string {
	switch k {
	case ActionPrompt:
		return "prompt"
	case ActionChooser:
		return "chooser"
	case ActionMenu:
		return "menu"
	case ActionFinalized:
		return "finalized"
	case ActionNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// Option is one keyboard button.
type Option struct {
	Label  string
	Choice string
}

// Action is the machine's answer to an event.
type Action struct {
	Kind    ActionKind
	Message string
	Options []Option
	Entity  *Entity
	Result  *transcribe.Result
	Err     error
	State   State
}

// TranscriptionMeta is attached to entities created from audio.
type TranscriptionMeta struct {
	Provider        string  `json:"provider"`
	Cost            float64 `json:"cost"`
	DurationSeconds float64 `json:"durationSeconds"`
	Attempts        int     `json:"attempts"`
	Fallback        bool    `json:"fallback"`
}

// Entity is what a finished flow produces.
type Entity struct {
	ID            string             `json:"id"`
	SessionID     string             `json:"sessionId"`
	Target        Target             `json:"target"`
	Title         string             `json:"title"`
	Content       string             `json:"content"`
	FileRef       string             `json:"fileRef,omitempty"`
	Fields        map[string]string  `json:"fields,omitempty"`
	Transcription *TranscriptionMeta `json:"transcription,omitempty"`
	Sender        string             `json:"sender,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
}
