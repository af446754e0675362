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

	"github.com/roelfdiedericks/voxledger/internal/audio"
	"github.com/roelfdiedericks/voxledger/internal/ledger"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
)

const googleBaseURL = "https://speech.googleapis.com"

// GoogleProvider calls the Cloud Speech-to-Text v1 recognize endpoint with
// an API key.
type GoogleProvider struct {
	config GoogleConfig
	client *http.Client
}

type googleRecognizeRequest struct {
	Config struct {
		Encoding                   string `json:"encoding"`
		SampleRateHertz            int    `json:"sampleRateHertz"`
		AudioChannelCount          int    `json:"audioChannelCount"`
		LanguageCode               string `json:"languageCode"`
		Model                      string `json:"model"`
		EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
	} `json:"config"`
	Audio struct {
		Content string `json:"content"`
	} `json:"audio"`
}

type googleRecognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("google: apiKey is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = googleBaseURL
	}
	L_debug("stt: google provider ready", "language", cfg.LanguageCode, "baseURL", cfg.BaseURL)
	return &GoogleProvider{config: cfg, client: &http.Client{Timeout: httpTimeout}}, nil
}

// languageCode picks the BCP-47 code: config wins, then the job hint.
func (g *GoogleProvider) languageCode(language string) string {
	switch {
	case g.config.LanguageCode != "":
		return g.config.LanguageCode
	case language != "":
		return language
	}
	return "en-US"
}

func (g *GoogleProvider) fail(format string, args ...interface{}) error {
	return &ProviderError{Provider: "google", Kind: ErrorUnknown, Err: fmt.Errorf(format, args...)}
}

// Transcribe posts the normalized LINEAR16 audio inline, base64 encoded.
func (g *GoogleProvider) Transcribe(ctx context.Context, path, language string) (*Transcription, error) {
	info, err := audio.ProbeWAV(path)
	if err != nil {
		return nil, g.fail("wav header: %w", err)
	}
	pcm, err := os.ReadFile(path)
	if err != nil {
		return nil, g.fail("read %s: %w", path, err)
	}

	var payload googleRecognizeRequest
	payload.Config.Encoding = "LINEAR16"
	payload.Config.SampleRateHertz = info.SampleRate
	payload.Config.AudioChannelCount = info.Channels
	payload.Config.LanguageCode = g.languageCode(language)
	payload.Config.Model = "default"
	payload.Config.EnableAutomaticPunctuation = true
	payload.Audio.Content = base64.StdEncoding.EncodeToString(pcm)

	body, err := json.Marshal(&payload)
	if err != nil {
		return nil, g.fail("encode request: %w", err)
	}

	endpoint := strings.TrimRight(g.config.BaseURL, "/") + "/v1/speech:recognize?key=" + url.QueryEscape(g.config.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, g.fail("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	L_debug("stt: google request", "file", path, "seconds", info.Duration().Seconds())
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, wrapError("google", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError("google", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		msg := apiErrorMessage(raw, resp.StatusCode)
		L_warn("stt: google rejected request", "status", resp.StatusCode, "message", msg)
		return nil, newProviderError("google", resp.StatusCode, msg)
	}

	var out googleRecognizeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, g.fail("decode response: %w", err)
	}

	parts := make([]string, 0, len(out.Results))
	for _, r := range out.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
			parts = append(parts, t)
		}
	}
	return &Transcription{
		Text:  strings.Join(parts, " "),
		Usage: ledger.Minutes(info.Duration().Seconds()),
	}, nil
}

func (g *GoogleProvider) Name() string { return "google" }

func (g *GoogleProvider) Close() error { return nil }
