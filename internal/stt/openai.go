package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/roelfdiedericks/voxledger/internal/audio"
	"github.com/roelfdiedericks/voxledger/internal/ledger"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// WhisperAPIProvider talks to an OpenAI-compatible /audio/transcriptions
// endpoint. OpenAI and Groq both use it, billed per audio minute.
type WhisperAPIProvider struct {
	name   string
	model  string
	client *openai.Client
}

// NewOpenAIProvider creates the OpenAI Whisper adapter.
func NewOpenAIProvider(cfg OpenAIConfig) (*WhisperAPIProvider, error) {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	return newWhisperAPIProvider("openai", cfg)
}

// NewGroqProvider creates the Groq Whisper adapter.
func NewGroqProvider(cfg OpenAIConfig) (*WhisperAPIProvider, error) {
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3-turbo"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = groqBaseURL
	}
	return newWhisperAPIProvider("groq", cfg)
}

func newWhisperAPIProvider(name string, cfg OpenAIConfig) (*WhisperAPIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key not configured", name)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	config.HTTPClient = &http.Client{Timeout: httpTimeout}

	L_info("stt: provider initialized", "provider", name, "model", cfg.Model)
	return &WhisperAPIProvider{
		name:   name,
		model:  cfg.Model,
		client: openai.NewClientWithConfig(config),
	}, nil
}

// Transcribe uploads the file and asks for verbose JSON so the billed
// duration comes back with the text.
func (p *WhisperAPIProvider) Transcribe(ctx context.Context, path, language string) (*Transcription, error) {
	L_debug("stt: transcribing", "provider", p.name, "file", path, "language", language)

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.model,
		FilePath: path,
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, p.classify(err)
	}

	seconds := resp.Duration
	if seconds <= 0 {
		if info, err := audio.ProbeWAV(path); err == nil {
			seconds = info.Duration().Seconds()
		}
	}

	text := strings.TrimSpace(resp.Text)
	L_debug("stt: transcription complete", "provider", p.name, "length", len(text), "seconds", seconds)
	return &Transcription{Text: text, Usage: ledger.Minutes(seconds)}, nil
}

func (p *WhisperAPIProvider) classify(err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		msg := apiErr.Message
		if code, ok := apiErr.Code.(string); ok && code != "" {
			msg = code + ": " + msg
		}
		L_warn("stt: request failed", "provider", p.name, "status", apiErr.HTTPStatusCode, "message", apiErr.Message)
		return newProviderError(p.name, apiErr.HTTPStatusCode, msg)
	case errors.As(err, &reqErr):
		L_warn("stt: request failed", "provider", p.name, "status", reqErr.HTTPStatusCode, "error", reqErr.Error())
		pe := newProviderError(p.name, reqErr.HTTPStatusCode, reqErr.Error())
		pe.Err = err
		return pe
	default:
		L_warn("stt: request failed", "provider", p.name, "error", err)
		return wrapError(p.name, err)
	}
}

// Name returns the provider name.
func (p *WhisperAPIProvider) Name() string {
	return p.name
}

// Close releases any resources (none for HTTP client).
func (p *WhisperAPIProvider) Close() error {
	return nil
}
