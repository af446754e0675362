package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/voxledger/internal/audio"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
	. "github.com/roelfdiedericks/voxledger/internal/metrics"
	"github.com/roelfdiedericks/voxledger/internal/transcribe"
)

// Transcriber is implemented by *transcribe.Orchestrator.
type Transcriber interface {
	Precheck(job *transcribe.AudioJob) error
	Run(ctx context.Context, job *transcribe.AudioJob) *transcribe.Result
}

// Fetcher downloads a transport file into the work dir and returns its path.
type Fetcher interface {
	Fetch(ctx context.Context, fileID, fileName string) (string, error)
}

// Persister stores finished entities. It fills in Entity.ID.
type Persister interface {
	Save(ctx context.Context, e *Entity) error
}

// Lister returns a chat's most recent entities of the given types.
type Lister interface {
	List(ctx context.Context, sessionID string, targets []Target, limit int) ([]Entity, error)
}

// Suggester guesses what free text is: "reminder", "todo", "interest" or "".
type Suggester interface {
	Suggest(ctx context.Context, text string) (string, error)
}

// Config holds the dialogue settings.
type Config struct {
	ShortClipSeconds   int `json:"shortClipSeconds" validate:"gt=0"`
	ListLimit          int `json:"listLimit" validate:"gte=1,lte=50"`
	IdleTimeoutMinutes int `json:"idleTimeoutMinutes" validate:"gte=0"`
}

// DefaultConfig treats clips over two minutes as possibly a meeting.
func DefaultConfig() Config {
	return Config{ShortClipSeconds: 120, ListLimit: 10, IdleTimeoutMinutes: 60}
}

// Deps are the machine's collaborators. Lister and Suggester are optional.
type Deps struct {
	Transcriber Transcriber
	Fetcher     Fetcher
	Persister   Persister
	Lister      Lister
	Suggester   Suggester
}

// Machine applies events to sessions.
type Machine struct {
	cfg   Config
	store *Store
	deps  Deps
	now   func() time.Time
}

// NewMachine creates a machine over store.
func NewMachine(cfg Config, store *Store, deps Deps) *Machine {
	def := DefaultConfig()
	if cfg.ShortClipSeconds <= 0 {
		cfg.ShortClipSeconds = def.ShortClipSeconds
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = def.ListLimit
	}
	if store == nil {
		store = NewStore()
	}
	return &Machine{cfg: cfg, store: store, deps: deps, now: time.Now}
}

// Store returns the session store.
func (m *Machine) Store() *Store {
	return m.store
}

// HandleEvent applies ev to the session and returns what to show the user.
// Events for the same session are serialized; a Cancel that arrives while a
// clip is being transcribed waits for that job to finish.
func (m *Machine) HandleEvent(ctx context.Context, sessionID string, ev Event) Action {
	var act Action
	m.store.With(sessionID, func(sess *Session) {
		from := sess.State
		act = m.handle(ctx, sess, ev)
		act.State = sess.State
		L_debug("session: event handled", "session", sessionID, "event", ev.Kind, "from", from.Kind, "to", sess.State.Kind, "action", act.Kind)
	})
	MetricOutcome("session", "event", act.Kind.String())
	return act
}

func (m *Machine) handle(ctx context.Context, sess *Session, ev Event) Action {
	switch ev.Kind {
	case EventCancel:
		sess.reset()
		return menuAction("Cancelled. What would you like to do?")
	case EventSelect:
		return m.onSelect(ctx, sess, ev)
	}

	switch sess.State.Kind {
	case StateIdle:
		return m.onIdle(ctx, sess, ev)
	case StateAwaitingText:
		return m.onAwaitingText(ctx, sess, ev)
	case StateAwaitingVoice:
		return m.onAwaitingVoice(ctx, sess, ev)
	case StateAwaitingMedia:
		return m.onAwaitingMedia(ctx, sess, ev)
	case StateAwaitingFollowup:
		return m.onFollowup(ctx, sess, ev)
	case StateAwaitingAudioKind:
		return prompt("Is this audio a voice note or a meeting recording?", audioKindOptions()...)
	}

	L_warn("session: unknown state, resetting", "session", sess.ID, "state", sess.State.Kind)
	sess.reset()
	return menuAction("")
}

func (m *Machine) onSelect(ctx context.Context, sess *Session, ev Event) Action {
	choice := ev.Choice

	if choice == ChoiceMenu {
		sess.reset()
		return menuAction("")
	}
	if sub, ok := submenus[choice]; ok {
		return Action{Kind: ActionMenu, Message: sub.title, Options: sub.options}
	}
	if ep, ok := entryPoints[choice]; ok {
		sess.reset()
		sess.State = ep.state
		sess.Draft = make(map[string]string)
		return prompt(ep.prompt)
	}
	if targets, ok := listChoices[choice]; ok {
		return m.list(ctx, sess, targets)
	}

	switch choice {
	case ChoiceQuickReminder, ChoiceQuickTodo, ChoiceQuickInterest:
		return m.onQuick(ctx, sess, choice, ev.Sender)
	case ChoiceAudioNote, ChoiceAudioMeeting:
		if sess.State.Kind != StateAwaitingAudioKind || sess.Pending.Audio == nil {
			sess.reset()
			return notice("That audio is no longer pending. Please send it again.", MainMenuOptions()...)
		}
		clip := *sess.Pending.Audio
		target := TargetVoiceNote
		if choice == ChoiceAudioMeeting {
			target = TargetMeeting
		}
		return m.transcribeAudio(ctx, sess, clip, target, ev.Sender)
	}

	L_debug("session: unknown choice", "session", sess.ID, "choice", choice)
	return notice("I don't know that option.", MainMenuOptions()...)
}

func (m *Machine) onQuick(ctx context.Context, sess *Session, choice, sender string) Action {
	text := sess.Pending.Text
	if sess.State.Kind != StateIdle || text == "" {
		sess.reset()
		return notice("There is no message waiting. Send it again.", MainMenuOptions()...)
	}

	switch choice {
	case ChoiceQuickReminder:
		return m.finalizeText(ctx, sess, TargetReminder, text, sender)
	case ChoiceQuickTodo:
		return m.finalizeText(ctx, sess, TargetTodo, text, sender)
	default:
		if looksLikeURL(text) {
			return m.finalizeText(ctx, sess, TargetInterestLink, text, sender)
		}
		return m.finalizeText(ctx, sess, TargetInterestNote, text, sender)
	}
}

func (m *Machine) onIdle(ctx context.Context, sess *Session, ev Event) Action {
	switch ev.Kind {
	case EventText:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return menuAction("")
		}
		sess.Pending = Pending{Text: text}
		suggested := m.suggest(ctx, text)
		msg := fmt.Sprintf("💬 Got your message:\n\n\"%s\"\n\nWhat do you want to do with it?", Preview(text, 100))
		if label, ok := quickLabels[suggested]; ok {
			msg += "\n\nSuggestion: " + label
		}
		return Action{Kind: ActionChooser, Message: msg, Options: textChooserOptions(suggested)}

	case EventAudio:
		if ev.Audio == nil {
			return notice("I could not read that audio.", MainMenuOptions()...)
		}
		if ev.Audio.DurationSeconds > float64(m.cfg.ShortClipSeconds) {
			clip := *ev.Audio
			sess.Pending = Pending{Audio: &clip}
			sess.State = State{Kind: StateAwaitingAudioKind}
			msg := fmt.Sprintf("🎙️ Audio received (%s)\n\nWhat kind of audio is it?", formatDuration(clip.DurationSeconds))
			return Action{Kind: ActionChooser, Message: msg, Options: audioKindOptions()}
		}
		return m.transcribeAudio(ctx, sess, *ev.Audio, TargetVoiceNote, ev.Sender)

	case EventMedia:
		return notice("📎 To save images or videos, open Interests in the menu first.", MainMenuOptions()...)
	}
	return menuAction("")
}

func (m *Machine) onAwaitingText(ctx context.Context, sess *Session, ev Event) Action {
	target := sess.State.Target
	switch ev.Kind {
	case EventText:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return prompt("✍️ Please type some text, or cancel.")
		}
		if target == TargetInterestLink && !looksLikeURL(text) {
			return prompt("⚠️ That does not look like a link. Send a full URL.")
		}
		return m.finalizeText(ctx, sess, target, text, ev.Sender)
	case EventAudio, EventMedia:
		return prompt(fmt.Sprintf("✍️ I'm waiting for the text of your %s. Type it, or cancel.", strings.ToLower(target.Name())))
	}
	return prompt("✍️ Please type some text, or cancel.")
}

func (m *Machine) onAwaitingVoice(ctx context.Context, sess *Session, ev Event) Action {
	target := sess.State.Target
	switch ev.Kind {
	case EventAudio:
		if ev.Audio != nil {
			return m.transcribeAudio(ctx, sess, *ev.Audio, target, ev.Sender)
		}
	case EventMedia:
		if ev.Media != nil && acceptsAsAudio(target, ev.Media) {
			return m.transcribeAudio(ctx, sess, mediaAsAudio(ev.Media), target, ev.Sender)
		}
	case EventText:
	}
	if target == TargetMeeting {
		return prompt("🎬 I'm waiting for the meeting audio or video. Send it, or cancel.")
	}
	return prompt("🎤 I'm waiting for a voice message. Record it, or cancel.")
}

func (m *Machine) onAwaitingMedia(ctx context.Context, sess *Session, ev Event) Action {
	target := sess.State.Target
	switch ev.Kind {
	case EventMedia:
		if ev.Media != nil && mediaMatches(target, ev.Media) {
			md := ev.Media
			title := strings.TrimSpace(ev.Text)
			if title == "" {
				title = md.FileName
			}
			if title == "" {
				title = target.Name()
			}
			e := &Entity{
				SessionID: sess.ID,
				Target:    target,
				Title:     Preview(firstLine(title), 50),
				Content:   strings.TrimSpace(ev.Text),
				FileRef:   md.FileID,
				Fields:    map[string]string{"mediaKind": string(md.Kind)},
				Sender:    ev.Sender,
			}
			if md.MIME != "" {
				e.Fields["mime"] = md.MIME
			}
			if md.FileName != "" {
				e.Fields["fileName"] = md.FileName
			}
			return m.finalize(ctx, sess, e, nil)
		}
	case EventText:
		text := strings.TrimSpace(ev.Text)
		if target == TargetInterestVideo && looksLikeVideoLink(text) {
			e := &Entity{
				SessionID: sess.ID,
				Target:    TargetInterestVideo,
				Title:     Preview(text, 50),
				Content:   text,
				Fields:    map[string]string{"url": extractURL(text)},
				Sender:    ev.Sender,
			}
			return m.finalize(ctx, sess, e, nil)
		}
	case EventAudio:
	}
	if target == TargetInterestVideo {
		return prompt("📹 Send a video, or a YouTube/Vimeo/Instagram link.")
	}
	return prompt("📸 Send an image, or cancel.")
}

func (m *Machine) onFollowup(ctx context.Context, sess *Session, ev Event) Action {
	if sess.Draft == nil {
		sess.Draft = make(map[string]string)
	}
	question := followupQuestion(sess.State.Step)

	switch ev.Kind {
	case EventText:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return prompt(question)
		}
		switch sess.State.Step {
		case 1:
			sess.Draft["title"] = text
			sess.State.Step = 2
			return prompt(followupQuestion(2))
		case 2:
			sess.Draft["participants"] = text
			e := &Entity{
				SessionID: sess.ID,
				Target:    TargetMeeting,
				Title:     sess.Draft["title"],
				Content:   sess.Draft["title"],
				Fields:    map[string]string{"title": sess.Draft["title"], "participants": text},
				Sender:    ev.Sender,
			}
			return m.finalize(ctx, sess, e, nil)
		}
	case EventAudio, EventMedia:
		return prompt(question)
	}

	L_warn("session: followup out of range, resetting", "session", sess.ID, "step", sess.State.Step)
	sess.reset()
	return menuAction("")
}

func followupQuestion(step int) string {
	if step == 2 {
		return "👥 Who took part? Separate names with commas."
	}
	return "📝 What is the meeting title?"
}

// transcribeAudio runs one clip end to end. The session is idle afterwards
// whatever the outcome.
func (m *Machine) transcribeAudio(ctx context.Context, sess *Session, clip AudioRef, target Target, sender string) Action {
	sess.reset()

	if m.deps.Transcriber == nil {
		return notice("Transcription is not configured.", MainMenuOptions()...)
	}

	job := &transcribe.AudioJob{
		DurationSeconds: clip.DurationSeconds,
		SizeBytes:       clip.SizeBytes,
		Target:          string(target),
		SessionID:       sess.ID,
	}
	if err := m.deps.Transcriber.Precheck(job); err != nil {
		return audioFailure(err, nil)
	}

	path := clip.LocalPath
	if path == "" {
		if m.deps.Fetcher == nil {
			return audioFailure(errors.New("no file fetcher configured"), nil)
		}
		p, err := m.deps.Fetcher.Fetch(ctx, clip.FileID, clip.FileName)
		if err != nil {
			return audioFailure(fmt.Errorf("download: %w", err), nil)
		}
		path = p
	}
	job.SourcePath = path

	res := m.deps.Transcriber.Run(ctx, job)
	if res.Err != nil {
		return audioFailure(res.Err, res)
	}

	e := &Entity{
		SessionID: sess.ID,
		Target:    target,
		Content:   res.Text,
		FileRef:   clip.FileID,
		Fields:    map[string]string{"sourcePath": path},
		Sender:    sender,
		Transcription: &TranscriptionMeta{
			Provider:        res.Provider,
			Cost:            res.Cost,
			DurationSeconds: job.DurationSeconds,
			Attempts:        len(res.Attempts),
			Fallback:        res.Fallback,
		},
	}
	if clip.FileName != "" {
		e.Fields["fileName"] = clip.FileName
	}
	if res.Fallback {
		e.Title = fmt.Sprintf("%s %s", target.Name(), m.now().Format("2006-01-02 15:04"))
	} else {
		e.Title = Preview(firstLine(res.Text), 50)
	}
	return m.finalize(ctx, sess, e, res)
}

func (m *Machine) finalizeText(ctx context.Context, sess *Session, target Target, text, sender string) Action {
	e := &Entity{
		SessionID: sess.ID,
		Target:    target,
		Title:     Preview(firstLine(text), 50),
		Content:   text,
		Sender:    sender,
	}
	if target == TargetInterestLink {
		e.Fields = map[string]string{"url": extractURL(text)}
	}
	return m.finalize(ctx, sess, e, nil)
}

func (m *Machine) finalize(ctx context.Context, sess *Session, e *Entity, res *transcribe.Result) Action {
	sess.reset()
	e.CreatedAt = m.now().UTC()

	if m.deps.Persister == nil {
		return Action{Kind: ActionFinalized, Message: savedMessage(e, res), Entity: e, Result: res, Options: []Option{backOption}}
	}
	if err := m.deps.Persister.Save(ctx, e); err != nil {
		L_error("session: failed to save entity", "session", sess.ID, "target", e.Target, "error", err)
		MetricFailWithReason("session", "save", string(e.Target))
		msg := fmt.Sprintf("⚠️ I could not save this %s. Here is the content so nothing is lost:\n\n%s",
			strings.ToLower(e.Target.Name()), e.Content)
		return Action{Kind: ActionNotice, Message: msg, Entity: e, Result: res, Err: err, Options: MainMenuOptions()}
	}

	MetricSuccess("session", "save")
	L_info("session: entity saved", "session", sess.ID, "target", e.Target, "id", e.ID)
	return Action{Kind: ActionFinalized, Message: savedMessage(e, res), Entity: e, Result: res, Options: []Option{backOption}}
}

func (m *Machine) list(ctx context.Context, sess *Session, targets []Target) Action {
	if m.deps.Lister == nil {
		return notice("Listing is not available.", backOption)
	}
	items, err := m.deps.Lister.List(ctx, sess.ID, targets, m.cfg.ListLimit)
	if err != nil {
		L_warn("session: list failed", "session", sess.ID, "error", err)
		return notice("⚠️ I could not load your items right now.", backOption)
	}
	if len(items) == 0 {
		return notice("Nothing saved yet.", backOption)
	}

	var b strings.Builder
	for _, it := range items {
		title := it.Title
		if title == "" {
			title = Preview(it.Content, 50)
		}
		fmt.Fprintf(&b, "• %s %s\n", it.CreatedAt.Format("2006-01-02"), title)
	}
	return notice(strings.TrimSpace(b.String()), backOption)
}

func (m *Machine) suggest(ctx context.Context, text string) string {
	if m.deps.Suggester == nil {
		return ""
	}
	category, err := m.deps.Suggester.Suggest(ctx, text)
	if err != nil {
		L_debug("session: suggestion unavailable", "error", err)
		return ""
	}
	switch category {
	case "reminder":
		return ChoiceQuickReminder
	case "todo":
		return ChoiceQuickTodo
	case "interest":
		return ChoiceQuickInterest
	}
	return ""
}

func prompt(message string, options ...Option) Action {
	if len(options) == 0 {
		options = []Option{{Label: "❌ Cancel", Choice: ChoiceMenu}}
	}
	return Action{Kind: ActionPrompt, Message: message, Options: options}
}

func notice(message string, options ...Option) Action {
	return Action{Kind: ActionNotice, Message: message, Options: options}
}

// audioFailure turns a job-level error into guidance for the user.
func audioFailure(err error, res *transcribe.Result) Action {
	reason := "other"
	switch {
	case errors.Is(err, audio.ErrSizeLimitExceeded):
		reason = "size_limit"
	case errors.Is(err, audio.ErrConversionUnavailable):
		reason = "conversion_unavailable"
	case errors.Is(err, audio.ErrMalformedMedia):
		reason = "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = "interrupted"
	}
	MetricFailWithReason("session", "audio", reason)
	L_warn("session: audio job failed", "reason", reason, "error", err)
	return Action{Kind: ActionNotice, Message: UserMessage(err), Err: err, Result: res, Options: MainMenuOptions()}
}

// UserMessage is the text shown for a failed audio job. Internal details
// stay in the log.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, audio.ErrSizeLimitExceeded):
		return "📏 This audio is too long or too large to process. Please send a shorter clip."
	case errors.Is(err, audio.ErrConversionUnavailable):
		return "🛠️ Audio conversion is not available on the server right now. Please try again later."
	case errors.Is(err, audio.ErrMalformedMedia):
		return "❌ I could not read this audio. Try sending it again in another format."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "⏱️ Processing was interrupted. Please send the audio again."
	}
	return "❌ I could not download or process this audio. Please try again."
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func looksLikeURL(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "http://") || strings.Contains(lower, "https://") || strings.Contains(lower, "www.")
}

var videoHosts = []string{"youtube.com", "youtu.be", "vimeo.com", "instagram.com", "tiktok.com"}

func looksLikeVideoLink(text string) bool {
	lower := strings.ToLower(text)
	for _, h := range videoHosts {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// extractURL returns the first URL-looking word of text.
func extractURL(text string) string {
	for _, f := range strings.Fields(text) {
		if looksLikeURL(f) || looksLikeVideoLink(f) {
			return strings.Trim(f, "<>()[]\"'")
		}
	}
	return strings.TrimSpace(text)
}

func mediaMatches(target Target, md *MediaRef) bool {
	switch target {
	case TargetInterestImage:
		return md.Kind == MediaPhoto || strings.HasPrefix(md.MIME, "image/")
	case TargetInterestVideo:
		return md.Kind == MediaVideo || strings.HasPrefix(md.MIME, "video/")
	}
	return false
}

// acceptsAsAudio: meetings take video (ffmpeg drops the picture); any
// voice flow takes an audio file sent as a document.
func acceptsAsAudio(target Target, md *MediaRef) bool {
	if strings.HasPrefix(md.MIME, "audio/") {
		return true
	}
	return target == TargetMeeting && (md.Kind == MediaVideo || strings.HasPrefix(md.MIME, "video/"))
}

func mediaAsAudio(md *MediaRef) AudioRef {
	return AudioRef{
		FileID:          md.FileID,
		FileName:        md.FileName,
		MIME:            md.MIME,
		DurationSeconds: md.DurationSeconds,
		SizeBytes:       md.SizeBytes,
	}
}
