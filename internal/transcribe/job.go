// Package transcribe turns one audio clip into text by walking the
// configured speech-to-text chain, and reports what it cost.
package transcribe

import (
	"time"

	"github.com/roelfdiedericks/voxledger/internal/ledger"
)

// NoProvider marks a result that no adapter produced.
const NoProvider = "none"

// FallbackText is returned when every provider failed. It is fixed so the
// caller can recognise it and so retries of the same clip look identical.
const FallbackText = "[Transcription unavailable: no speech-to-text provider could process this audio. The original file was kept.]"

// AudioJob is one clip to transcribe.
type AudioJob struct {
	SourcePath      string
	NormalizedPath  string // filled in by Run; removed when Run returns
	DurationSeconds float64
	SizeBytes       int64
	Target          string
	Language        string
	SessionID       string
}

// Duration returns the advertised clip length.
func (j *AudioJob) Duration() time.Duration {
	return time.Duration(j.DurationSeconds * float64(time.Second))
}

// Attempt is one call to one provider.
type Attempt struct {
	Provider string
	Retry    int    // 0 on the first call to this provider
	Outcome  string // "success" or the stt error kind
	Err      error
	Elapsed  time.Duration
}

// Result is what Run hands back. Provider is NoProvider and Cost is zero
// whenever no adapter succeeded.
type Result struct {
	Text     string
	Provider string
	Cost     float64
	Attempts []Attempt
	Usage    ledger.Usage
	Err      error // job-level failure: limits, conversion, cancellation
	Fallback bool  // every provider failed and Text is FallbackText
}

// Succeeded reports whether a provider produced the text.
func (r *Result) Succeeded() bool {
	return r.Err == nil && !r.Fallback && r.Provider != NoProvider
}

// FallbackChain lists providers in the order they were tried, e.g.
// "gemini(quota) -> groq(success)".
func (r *Result) FallbackChain() string {
	var s string
	for i, a := range r.Attempts {
		if i > 0 {
			s += " -> "
		}
		s += a.Provider + "(" + a.Outcome + ")"
	}
	return s
}
