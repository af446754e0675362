// Package classify suggests what an unprompted text message is meant to be.
package classify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/roelfdiedericks/voxledger/internal/ledger"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
	. "github.com/roelfdiedericks/voxledger/internal/metrics"
)

// Suggestions returned by Suggest. The empty string means no opinion.
const (
	Reminder = "reminder"
	Todo     = "todo"
	Interest = "interest"
)

const systemPrompt = `You sort short personal notes. Reply with exactly one word:
reminder - something to be reminded of at a time
todo - a task to do
interest - a link, article, video or idea to keep
none - anything else`

// Config configures the Claude classifier.
type Config struct {
	Enabled   bool   `json:"enabled"`
	APIKey    string `json:"apiKey"`
	Model     string `json:"model"`
	BaseURL   string `json:"baseURL,omitempty"`
	MaxTokens int    `json:"maxTokens" validate:"gte=0"`
	TimeoutMs int    `json:"timeoutMs" validate:"gte=0"`
}

// DefaultConfig returns a disabled classifier using a small model.
func DefaultConfig() Config {
	return Config{
		Model:     "claude-3-5-haiku-latest",
		MaxTokens: 8,
		TimeoutMs: 5000,
	}
}

// UsageRecorder is implemented by *ledger.Ledger.
type UsageRecorder interface {
	RecordUsage(provider string, u ledger.Usage, metadata map[string]string) (float64, error)
}

// Classifier asks Claude first and falls back to keyword rules.
type Classifier struct {
	client   *anthropic.Client
	config   Config
	recorder UsageRecorder
}

// New returns a classifier. Without an API key (or when disabled) only the
// keyword rules run.
func New(cfg Config, recorder UsageRecorder) *Classifier {
	c := &Classifier{config: cfg, recorder: recorder}
	if !cfg.Enabled || cfg.APIKey == "" {
		L_debug("classify: claude disabled, keyword rules only")
		return c
	}
	if c.config.MaxTokens <= 0 {
		c.config.MaxTokens = DefaultConfig().MaxTokens
	}
	if c.config.Model == "" {
		c.config.Model = DefaultConfig().Model
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: c.timeout()}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	c.client = &client

	L_info("classify: claude classifier ready", "model", c.config.Model)
	return c
}

func (c *Classifier) timeout() time.Duration {
	if c.config.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.config.TimeoutMs) * time.Millisecond
}

// Suggest implements session.Suggester. Claude failures are logged and the
// keyword rules answer instead, so the error is always nil.
func (c *Classifier) Suggest(ctx context.Context, text string) (string, error) {
	if c.client != nil {
		label, err := c.ask(ctx, text)
		if err == nil {
			return label, nil
		}
		L_warn("classify: claude failed, using keywords", "error", err)
		MetricFailWithReason("classify", "claude", "error")
	}
	return Keywords(text), nil
}

func (c *Classifier) ask(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(c.config.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	MetricDuration("classify", "claude", time.Since(start))
	if err != nil {
		return "", err
	}
	MetricSuccess("classify", "claude")

	if c.recorder != nil {
		u := ledger.InputOutput(msg.Usage.InputTokens, msg.Usage.OutputTokens)
		if _, err := c.recorder.RecordUsage("claude", u, map[string]string{"purpose": "classify"}); err != nil {
			L_error("classify: failed to record usage", "error", err)
		}
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			reply.WriteString(tb.Text)
		}
	}
	label := parseLabel(reply.String())
	L_debug("classify: claude suggestion", "label", label, "in", msg.Usage.InputTokens, "out", msg.Usage.OutputTokens)
	return label, nil
}

func parseLabel(reply string) string {
	word := strings.ToLower(strings.Trim(strings.TrimSpace(reply), ".!\"' "))
	if i := strings.IndexAny(word, " \n"); i >= 0 {
		word = word[:i]
	}
	switch word {
	case Reminder, Todo, Interest:
		return word
	case "none":
		return ""
	default:
		if word != "" {
			L_debug("classify: unexpected reply", "reply", fmt.Sprintf("%.40s", reply))
		}
		return ""
	}
}

var (
	reminderWords = []string{"remind", "remember", "don't forget", "dont forget", "tomorrow", "tonight", "at noon", "o'clock", "next week"}
	todoWords     = []string{"todo", "to do", "buy ", "call ", "fix ", "finish", "send ", "pay ", "book ", "need to", "have to", "must "}
)

// Keywords is the offline rule set: links are interests, then reminder and
// task phrasing is matched.
func Keywords(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return ""
	}
	if strings.Contains(lower, "http://") || strings.Contains(lower, "https://") || strings.Contains(lower, "www.") {
		return Interest
	}
	for _, w := range reminderWords {
		if strings.Contains(lower, w) {
			return Reminder
		}
	}
	padded := lower + " "
	for _, w := range todoWords {
		if strings.HasPrefix(padded, w) || strings.Contains(padded, " "+w) {
			return Todo
		}
	}
	return ""
}
