package stt

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roelfdiedericks/voxledger/internal/ledger"
)

// writeWAV writes seconds of 16 kHz mono silence.
func writeWAV(t *testing.T, seconds int) string {
	t.Helper()

	const rate = 16000
	data := make([]byte, rate*seconds*2)

	var b []byte
	b = append(b, "RIFF"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(36+len(data)))
	b = append(b, "WAVEfmt "...)
	b = binary.LittleEndian.AppendUint32(b, 16)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint32(b, rate)
	b = binary.LittleEndian.AppendUint32(b, rate*2)
	b = binary.LittleEndian.AppendUint16(b, 2)
	b = binary.LittleEndian.AppendUint16(b, 16)
	b = append(b, "data"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(data)))
	b = append(b, data...)

	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, b, 0600); err != nil {
		t.Fatalf("failed to write wav: %v", err)
	}
	return path
}

func assertKind(t *testing.T, err error, provider string, want ErrorKind) {
	t.Helper()
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %T: %v", err, err)
	}
	if pe.Kind != want {
		t.Errorf("kind = %s, want %s (%v)", pe.Kind, want, err)
	}
	if pe.Provider != provider {
		t.Errorf("provider = %s, want %s", pe.Provider, provider)
	}
}

func TestGeminiTranscribe(t *testing.T) {
	path := writeWAV(t, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-1.5-flash:generateContent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key")
		}

		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		parts := req.Contents[0].Parts
		if len(parts) != 2 || parts[1].InlineData == nil {
			t.Fatalf("expected prompt and inline audio, got %+v", parts)
		}
		if parts[1].InlineData.MimeType != "audio/wav" {
			t.Errorf("mime = %s", parts[1].InlineData.MimeType)
		}
		if _, err := base64.StdEncoding.DecodeString(parts[1].InlineData.Data); err != nil {
			t.Errorf("audio is not base64: %v", err)
		}
		if !strings.Contains(parts[0].Text, `"es"`) {
			t.Errorf("prompt should carry the language hint: %s", parts[0].Text)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"candidates": [{"content": {"parts": [{"text": " hola mundo "}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 80, "candidatesTokenCount": 4, "totalTokenCount": 84}
		}`)
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(GeminiConfig{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewGeminiProvider: %v", err)
	}

	got, err := p.Transcribe(context.Background(), path, "es")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "hola mundo" {
		t.Errorf("text = %q", got.Text)
	}
	if got.Usage.Kind != ledger.TokensFreeTier || got.Usage.Units != 84 {
		t.Errorf("usage = %+v, want 84 free-tier tokens", got.Usage)
	}
}

func TestGeminiEstimatesMissingUsage(t *testing.T) {
	path := writeWAV(t, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates": [{"content": {"parts": [{"text": "hi"}]}}]}`)
	}))
	defer srv.Close()

	p, _ := NewGeminiProvider(GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	got, err := p.Transcribe(context.Background(), path, "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Usage.Units < minGeminiTokens {
		t.Errorf("estimated tokens = %v, want at least %d", got.Usage.Units, minGeminiTokens)
	}
}

func TestGeminiErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"quota", 429, `{"error":{"code":429,"message":"Quota exceeded for quota metric 'Generate Content API requests per minute'","status":"RESOURCE_EXHAUSTED"}}`, ErrorQuota},
		{"rate limit", 429, `{"error":{"code":429,"message":"Too many requests","status":"RESOURCE_EXHAUSTED"}}`, ErrorTransient},
		{"overloaded", 503, `{"error":{"code":503,"message":"The model is overloaded.","status":"UNAVAILABLE"}}`, ErrorTransient},
		{"bad key", 400, `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`, ErrorAuth},
		{"forbidden", 403, `{"error":{"code":403,"message":"Method doesn't allow unregistered callers","status":"PERMISSION_DENIED"}}`, ErrorAuth},
		{"bad audio", 400, `{"error":{"code":400,"message":"Unsupported MIME type","status":"INVALID_ARGUMENT"}}`, ErrorUnknown},
	}

	path := writeWAV(t, 1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			p, _ := NewGeminiProvider(GeminiConfig{APIKey: "k", BaseURL: srv.URL})
			_, err := p.Transcribe(context.Background(), path, "")
			assertKind(t, err, "gemini", tt.want)
		})
	}
}

func TestGeminiEmptyTranscriptIsUnknown(t *testing.T) {
	path := writeWAV(t, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates": []}`)
	}))
	defer srv.Close()

	p, _ := NewGeminiProvider(GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Transcribe(context.Background(), path, "")
	assertKind(t, err, "gemini", ErrorUnknown)
}

func TestGoogleTranscribe(t *testing.T) {
	path := writeWAV(t, 3)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/speech:recognize" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Config map[string]interface{} `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Config["languageCode"] != "es" {
			t.Errorf("languageCode = %v, want es", req.Config["languageCode"])
		}
		if req.Config["sampleRateHertz"] != float64(16000) {
			t.Errorf("sampleRateHertz = %v", req.Config["sampleRateHertz"])
		}
		io.WriteString(w, `{"results":[
			{"alternatives":[{"transcript":"primera parte","confidence":0.9}]},
			{"alternatives":[{"transcript":" segunda","confidence":0.8}]}
		]}`)
	}))
	defer srv.Close()

	p, err := NewGoogleProvider(GoogleConfig{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewGoogleProvider: %v", err)
	}
	got, err := p.Transcribe(context.Background(), path, "es")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "primera parte segunda" {
		t.Errorf("text = %q", got.Text)
	}
	if got.Usage.Kind != ledger.DurationMinutes || math.Abs(got.Usage.Units-0.05) > 1e-9 {
		t.Errorf("usage = %+v, want 0.05 minutes", got.Usage)
	}
}

func TestGoogleConfiguredLanguageWins(t *testing.T) {
	p, _ := NewGoogleProvider(GoogleConfig{APIKey: "k", LanguageCode: "es-ES"})
	if got := p.languageCode("en"); got != "es-ES" {
		t.Errorf("languageCode = %s, want es-ES", got)
	}
	p, _ = NewGoogleProvider(GoogleConfig{APIKey: "k"})
	if got := p.languageCode(""); got != "en-US" {
		t.Errorf("languageCode = %s, want en-US", got)
	}
}

func TestGoogleAuthError(t *testing.T) {
	path := writeWAV(t, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"code":401,"message":"Request had invalid authentication credentials.","status":"UNAUTHENTICATED"}}`)
	}))
	defer srv.Close()

	p, _ := NewGoogleProvider(GoogleConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Transcribe(context.Background(), path, "")
	assertKind(t, err, "google", ErrorAuth)
}

func TestWhisperAPITranscribe(t *testing.T) {
	path := writeWAV(t, 1)

	for _, name := range []string{"openai", "groq"} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer k" {
					t.Errorf("authorization = %q", got)
				}
				if err := r.ParseMultipartForm(1 << 20); err != nil {
					t.Fatalf("parse form: %v", err)
				}
				if r.FormValue("response_format") != "verbose_json" {
					t.Errorf("response_format = %s", r.FormValue("response_format"))
				}
				w.Header().Set("Content-Type", "application/json")
				io.WriteString(w, `{"task":"transcribe","language":"english","duration":90,"text":" call the dentist "}`)
			}))
			defer srv.Close()

			cfg := OpenAIConfig{APIKey: "k", BaseURL: srv.URL}
			var p *WhisperAPIProvider
			var err error
			if name == "groq" {
				p, err = NewGroqProvider(cfg)
			} else {
				p, err = NewOpenAIProvider(cfg)
			}
			if err != nil {
				t.Fatalf("constructor: %v", err)
			}
			if p.Name() != name {
				t.Errorf("Name() = %s", p.Name())
			}

			got, err := p.Transcribe(context.Background(), path, "en")
			if err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			if got.Text != "call the dentist" {
				t.Errorf("text = %q", got.Text)
			}
			if got.Usage.Kind != ledger.DurationMinutes || got.Usage.Units != 1.5 {
				t.Errorf("usage = %+v, want 1.5 minutes", got.Usage)
			}
		})
	}
}

func TestWhisperAPIFallsBackToWAVDuration(t *testing.T) {
	path := writeWAV(t, 6)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"hi"}`)
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	got, err := p.Transcribe(context.Background(), path, "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if math.Abs(got.Usage.Units-0.1) > 1e-9 {
		t.Errorf("minutes = %v, want 0.1", got.Usage.Units)
	}
}

func TestWhisperAPIErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"insufficient quota", 429, `{"error":{"message":"You exceeded your current quota, please check your plan and billing details.","type":"insufficient_quota","code":"insufficient_quota"}}`, ErrorQuota},
		{"rate limit", 429, `{"error":{"message":"Rate limit reached for whisper-1","type":"requests","code":"rate_limit_exceeded"}}`, ErrorTransient},
		{"bad key", 401, `{"error":{"message":"Incorrect API key provided: sk-xx.","type":"invalid_request_error","code":"invalid_api_key"}}`, ErrorAuth},
		{"server", 500, `{"error":{"message":"The server had an error while processing your request.","type":"server_error"}}`, ErrorTransient},
	}

	path := writeWAV(t, 1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			p, _ := NewGroqProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
			_, err := p.Transcribe(context.Background(), path, "")
			assertKind(t, err, "groq", tt.want)
		})
	}
}
