package stt

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/roelfdiedericks/voxledger/internal/audio"
	"github.com/roelfdiedericks/voxledger/internal/ledger"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
)

// WhisperCppProvider runs a local whisper.cpp model. It never fails on
// quota or auth, which makes it the natural last link of the chain.
type WhisperCppProvider struct {
	mu     sync.Mutex // the model is not safe for concurrent contexts
	model  whisper.Model
	config WhisperCppConfig
	closed bool
}

// NewWhisperCppProvider loads the model from disk.
func NewWhisperCppProvider(cfg WhisperCppConfig) (*WhisperCppProvider, error) {
	if cfg.ModelsDir == "" || cfg.Model == "" {
		return nil, fmt.Errorf("whisper.cpp model not configured")
	}

	modelPath := filepath.Join(cfg.ModelsDir, cfg.Model)
	L_info("stt: loading whisper.cpp model", "path", modelPath)

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}

	L_info("stt: whisper.cpp model loaded", "multilingual", model.IsMultilingual())
	return &WhisperCppProvider{model: model, config: cfg}, nil
}

// Transcribe decodes the WAV to 16 kHz float32 and runs the model.
// The bindings cannot be interrupted, so ctx is only checked up front.
func (w *WhisperCppProvider) Transcribe(ctx context.Context, path, language string) (*Transcription, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapError("whispercpp", err)
	}

	samples, err := audio.ReadWAVSamples(path)
	if err != nil {
		return nil, &ProviderError{Provider: "whispercpp", Kind: ErrorUnknown, Err: fmt.Errorf("convert audio: %w", err)}
	}
	seconds := float64(len(samples)) / audio.WhisperSampleRate
	L_debug("stt: whisper.cpp transcribing", "file", path, "seconds", seconds)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, &ProviderError{Provider: "whispercpp", Kind: ErrorUnknown, Err: fmt.Errorf("model closed")}
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return nil, &ProviderError{Provider: "whispercpp", Kind: ErrorUnknown, Err: fmt.Errorf("create whisper context: %w", err)}
	}

	if language == "" {
		language = "auto"
	}
	if err := wctx.SetLanguage(language); err != nil {
		L_warn("stt: whisper.cpp rejected language, using model default", "language", language, "error", err)
	}
	if w.config.Threads > 0 {
		wctx.SetThreads(w.config.Threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, &ProviderError{Provider: "whispercpp", Kind: ErrorUnknown, Err: fmt.Errorf("whisper process: %w", err)}
	}

	var text strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ProviderError{Provider: "whispercpp", Kind: ErrorUnknown, Err: fmt.Errorf("get segment: %w", err)}
		}
		text.WriteString(segment.Text)
	}

	result := strings.TrimSpace(text.String())
	L_debug("stt: whisper.cpp transcription complete", "length", len(result))
	return &Transcription{Text: result, Usage: ledger.Minutes(seconds)}, nil
}

// Name returns the provider name.
func (w *WhisperCppProvider) Name() string {
	return "whispercpp"
}

// Close waits for a running transcription, then releases the model.
func (w *WhisperCppProvider) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	L_debug("stt: closing whisper.cpp model")
	return w.model.Close()
}
