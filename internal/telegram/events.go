package telegram

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/roelfdiedericks/voxledger/internal/session"
)

// sessionID keys dialogue state by chat.
func sessionID(chat *tele.Chat) string {
	return strconv.FormatInt(chat.ID, 10)
}

func senderName(u *tele.User) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// messageEvent maps an inbound message to a machine event. ok is false for
// message types the bot ignores.
func messageEvent(m *tele.Message) (ev session.Event, ok bool) {
	ev.Sender = senderName(m.Sender)
	switch {
	case m.Voice != nil:
		ev.Kind = session.EventAudio
		ev.Audio = &session.AudioRef{
			FileID:          m.Voice.FileID,
			FileName:        "voice.ogg",
			MIME:            m.Voice.MIME,
			DurationSeconds: float64(m.Voice.Duration),
			SizeBytes:       int64(m.Voice.FileSize),
		}
	case m.Audio != nil:
		ev.Kind = session.EventAudio
		ev.Audio = &session.AudioRef{
			FileID:          m.Audio.FileID,
			FileName:        m.Audio.FileName,
			MIME:            m.Audio.MIME,
			DurationSeconds: float64(m.Audio.Duration),
			SizeBytes:       int64(m.Audio.FileSize),
		}
	case m.Document != nil && strings.HasPrefix(m.Document.MIME, "audio/"):
		ev.Kind = session.EventAudio
		ev.Audio = &session.AudioRef{
			FileID:    m.Document.FileID,
			FileName:  m.Document.FileName,
			MIME:      m.Document.MIME,
			SizeBytes: int64(m.Document.FileSize),
		}
	case m.Photo != nil:
		ev.Kind = session.EventMedia
		ev.Text = m.Caption
		ev.Media = &session.MediaRef{
			Kind:      session.MediaPhoto,
			FileID:    m.Photo.FileID,
			MIME:      "image/jpeg",
			SizeBytes: int64(m.Photo.FileSize),
		}
	case m.Video != nil:
		ev.Kind = session.EventMedia
		ev.Text = m.Caption
		ev.Media = &session.MediaRef{
			Kind:            session.MediaVideo,
			FileID:          m.Video.FileID,
			FileName:        m.Video.FileName,
			MIME:            m.Video.MIME,
			SizeBytes:       int64(m.Video.FileSize),
			DurationSeconds: float64(m.Video.Duration),
		}
	case m.Document != nil:
		ev.Kind = session.EventMedia
		ev.Text = m.Caption
		ev.Media = &session.MediaRef{
			Kind:      session.MediaDocument,
			FileID:    m.Document.FileID,
			FileName:  m.Document.FileName,
			MIME:      m.Document.MIME,
			SizeBytes: int64(m.Document.FileSize),
		}
	case m.Text != "":
		ev.Kind = session.EventText
		ev.Text = m.Text
	default:
		return ev, false
	}
	return ev, true
}
