package stt

import (
	"fmt"
	"time"

	. "github.com/roelfdiedericks/voxledger/internal/logging"
	"github.com/roelfdiedericks/voxledger/internal/paths"
)

// Config lists the adapters and the order they are tried in.
type Config struct {
	Order      []string         `json:"order" validate:"dive,oneof=gemini groq openai google whispercpp"`
	Gemini     GeminiConfig     `json:"gemini"`
	Groq       OpenAIConfig     `json:"groq"`
	OpenAI     OpenAIConfig     `json:"openai"`
	Google     GoogleConfig     `json:"google"`
	WhisperCpp WhisperCppConfig `json:"whispercpp"`
}

// GeminiConfig holds Gemini generateContent settings.
type GeminiConfig struct {
	APIKey  string `json:"apiKey"`
	Model   string `json:"model"`
	BaseURL string `json:"baseURL,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
}

// OpenAIConfig serves both OpenAI and Groq, which speak the same API.
type OpenAIConfig struct {
	APIKey  string `json:"apiKey"`
	Model   string `json:"model"`
	BaseURL string `json:"baseURL,omitempty"`
}

// GoogleConfig holds Google Cloud STT configuration.
type GoogleConfig struct {
	APIKey       string `json:"apiKey"`
	LanguageCode string `json:"languageCode"` // e.g. "es-ES"; overrides the job language
	BaseURL      string `json:"baseURL,omitempty"`
}

// WhisperCppConfig holds configuration for a local whisper.cpp model.
type WhisperCppConfig struct {
	ModelsDir string `json:"modelsDir"`
	Model     string `json:"model"` // e.g. "ggml-base.bin"
	Threads   uint   `json:"threads"`
}

// DefaultOrder tries the free tier first, then paid APIs, then the local model.
var DefaultOrder = []string{"gemini", "groq", "openai", "google", "whispercpp"}

// DefaultConfig returns models and order; credentials come from config or env.
func DefaultConfig() Config {
	return Config{
		Order:      append([]string(nil), DefaultOrder...),
		Gemini:     GeminiConfig{Model: "gemini-1.5-flash"},
		Groq:       OpenAIConfig{Model: "whisper-large-v3-turbo", BaseURL: groqBaseURL},
		OpenAI:     OpenAIConfig{Model: "whisper-1"},
		WhisperCpp: WhisperCppConfig{ModelsDir: "~/.voxledger/models", Model: "ggml-base.bin"},
	}
}

// httpTimeout bounds a single HTTP call; the orchestrator's per-attempt
// context is usually shorter.
const httpTimeout = 5 * time.Minute

// BuildChain instantiates the configured adapters in order. Adapters without
// credentials (or without a model file) are skipped, not failed.
func BuildChain(cfg Config) ([]Provider, error) {
	order := cfg.Order
	if len(order) == 0 {
		order = DefaultOrder
	}

	var chain []Provider
	seen := make(map[string]bool)
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true

		p, err := buildProvider(name, cfg)
		if err != nil {
			CloseChain(chain)
			return nil, err
		}
		if p == nil {
			L_debug("stt: provider not configured, skipping", "provider", name)
			continue
		}
		chain = append(chain, p)
	}

	names := make([]string, len(chain))
	for i, p := range chain {
		names[i] = p.Name()
	}
	L_info("stt: provider chain ready", "providers", names)
	return chain, nil
}

func buildProvider(name string, cfg Config) (Provider, error) {
	switch name {
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, nil
		}
		return NewGeminiProvider(cfg.Gemini)
	case "groq":
		if cfg.Groq.APIKey == "" {
			return nil, nil
		}
		return NewGroqProvider(cfg.Groq)
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, nil
		}
		return NewOpenAIProvider(cfg.OpenAI)
	case "google":
		if cfg.Google.APIKey == "" {
			return nil, nil
		}
		return NewGoogleProvider(cfg.Google)
	case "whispercpp":
		return buildWhisperCpp(cfg.WhisperCpp)
	default:
		return nil, fmt.Errorf("stt: unknown provider: %s", name)
	}
}

func buildWhisperCpp(cfg WhisperCppConfig) (Provider, error) {
	if cfg.ModelsDir == "" || cfg.Model == "" {
		return nil, nil
	}
	modelsDir, err := paths.ExpandTilde(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("stt: failed to expand models dir: %w", err)
	}
	if !IsModelDownloaded(modelsDir, cfg.Model) {
		L_debug("stt: whisper.cpp model not present", "dir", modelsDir, "model", cfg.Model, "url", ModelURL(cfg.Model))
		return nil, nil
	}
	cfg.ModelsDir = modelsDir
	p, err := NewWhisperCppProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("stt: failed to initialize whispercpp: %w", err)
	}
	return p, nil
}

// CloseChain closes every provider, logging failures.
func CloseChain(chain []Provider) {
	for _, p := range chain {
		if err := p.Close(); err != nil {
			L_warn("stt: failed to close provider", "provider", p.Name(), "error", err)
		}
	}
}
