package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/roelfdiedericks/voxledger/internal/ledger"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
	"github.com/roelfdiedericks/voxledger/internal/tokens"
)

const (
	geminiBaseURL       = "https://generativelanguage.googleapis.com"
	defaultGeminiPrompt = "Transcribe this audio exactly as spoken. Return only the transcription, with no commentary, headings or timestamps."
	// minGeminiTokens is charged when the API omits usage metadata.
	minGeminiTokens = 100
)

// GeminiProvider transcribes through Gemini's multimodal generateContent,
// billed in tokens against a monthly free allowance.
type GeminiProvider struct {
	config GeminiConfig
	client *http.Client
}

// NewGeminiProvider creates the Gemini adapter.
func NewGeminiProvider(cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = geminiBaseURL
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultGeminiPrompt
	}

	L_info("stt: gemini provider initialized", "model", cfg.Model)
	return &GeminiProvider{
		config: cfg,
		client: &http.Client{Timeout: httpTimeout},
	}, nil
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (g *GeminiProvider) prompt(language string) string {
	if language == "" {
		return g.config.Prompt
	}
	return fmt.Sprintf("%s The audio language is %q.", g.config.Prompt, language)
}

// Transcribe sends the WAV inline and reads back text and token usage.
func (g *GeminiProvider) Transcribe(ctx context.Context, path, language string) (*Transcription, error) {
	L_debug("stt: gemini transcribing", "file", path)

	audioData, err := os.ReadFile(path)
	if err != nil {
		return nil, &ProviderError{Provider: "gemini", Kind: ErrorUnknown, Err: fmt.Errorf("read audio file: %w", err)}
	}

	prompt := g.prompt(language)
	reqBody := geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{
		{Text: prompt},
		{InlineData: &geminiInlineData{MimeType: "audio/wav", Data: base64.StdEncoding.EncodeToString(audioData)}},
	}}}}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ProviderError{Provider: "gemini", Kind: ErrorUnknown, Err: fmt.Errorf("marshal request: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		strings.TrimRight(g.config.BaseURL, "/"), url.PathEscape(g.config.Model), url.QueryEscape(g.config.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, &ProviderError{Provider: "gemini", Kind: ErrorUnknown, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, wrapError("gemini", fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError("gemini", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		msg := apiErrorMessage(body, resp.StatusCode)
		L_warn("stt: gemini request failed", "status", resp.StatusCode, "message", msg)
		return nil, newProviderError("gemini", resp.StatusCode, msg)
	}

	var result geminiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &ProviderError{Provider: "gemini", Kind: ErrorUnknown, Err: fmt.Errorf("parse response: %w", err)}
	}
	if result.PromptFeedback.BlockReason != "" {
		return nil, &ProviderError{Provider: "gemini", Kind: ErrorUnknown, Err: fmt.Errorf("request blocked: %s", result.PromptFeedback.BlockReason)}
	}

	var text strings.Builder
	if len(result.Candidates) > 0 {
		for _, part := range result.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}
	transcript := strings.TrimSpace(text.String())
	if transcript == "" {
		return nil, &ProviderError{Provider: "gemini", Kind: ErrorUnknown, Err: fmt.Errorf("empty transcription")}
	}

	used := result.UsageMetadata.TotalTokenCount
	if used <= 0 {
		used = int64(tokens.Estimate(prompt + transcript))
		if used < minGeminiTokens {
			used = minGeminiTokens
		}
		L_debug("stt: gemini usage missing, estimated", "tokens", used)
	}

	L_debug("stt: gemini transcription complete", "length", len(transcript), "tokens", used)
	return &Transcription{Text: transcript, Usage: ledger.Tokens(used)}, nil
}

// apiErrorMessage pulls {"error":{"message":...,"status":...}} out of a
// Google-style error body.
func apiErrorMessage(body []byte, status int) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		if errResp.Error.Status != "" {
			return errResp.Error.Status + ": " + errResp.Error.Message
		}
		return errResp.Error.Message
	}
	return fmt.Sprintf("status %d", status)
}

// Name returns the provider name.
func (g *GeminiProvider) Name() string {
	return "gemini"
}

// Close releases any resources (none for HTTP client).
func (g *GeminiProvider) Close() error {
	return nil
}
