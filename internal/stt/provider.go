// Package stt wraps external speech-to-text services behind one interface.
//
// Every adapter takes a normalized 16 kHz mono WAV file, returns the text
// plus the raw usage the service billed for, and reports failures as
// *ProviderError so callers can decide whether to retry or move on.
package stt

import (
	"context"

	"github.com/roelfdiedericks/voxledger/internal/ledger"
)

// Provider is a speech-to-text adapter.
type Provider interface {
	// Name is the pricing key used in the ledger ("openai", "gemini", ...).
	Name() string
	// Transcribe reads the normalized audio at path. language is an
	// ISO-639-1 hint and may be empty.
	Transcribe(ctx context.Context, path, language string) (*Transcription, error)
	Close() error
}

// Transcription is a successful adapter result.
type Transcription struct {
	Text  string
	Usage ledger.Usage
}
