package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/roelfdiedericks/voxledger/internal/audio"
	"github.com/roelfdiedericks/voxledger/internal/ledger"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
	. "github.com/roelfdiedericks/voxledger/internal/metrics"
	"github.com/roelfdiedericks/voxledger/internal/stt"
)

// Config controls the retry policy.
type Config struct {
	MaxRetries            int    `json:"maxRetries" validate:"gte=1,lte=10"`
	RetryDelayMillis      int    `json:"retryDelayMs" validate:"gte=0"`
	AttemptTimeoutSeconds int    `json:"attemptTimeoutSeconds" validate:"gte=0"`
	Language              string `json:"language"` // default hint for jobs without one
}

// DefaultConfig returns three attempts, one second apart, 90s each.
func DefaultConfig() Config {
	return Config{
		MaxRetries:            3,
		RetryDelayMillis:      1000,
		AttemptTimeoutSeconds: 90,
	}
}

func (c Config) retryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}

func (c Config) attemptTimeout() time.Duration {
	if c.AttemptTimeoutSeconds <= 0 {
		return 90 * time.Second
	}
	return time.Duration(c.AttemptTimeoutSeconds) * time.Second
}

// Normalizer is the part of audio.Normalizer the orchestrator needs.
type Normalizer interface {
	CheckLimits(duration time.Duration, size int64) error
	Normalize(ctx context.Context, src string) (*audio.Normalized, error)
}

// UsageRecorder is implemented by *ledger.Ledger.
type UsageRecorder interface {
	RecordUsage(provider string, u ledger.Usage, metadata map[string]string) (float64, error)
}

// Orchestrator runs jobs against an ordered provider chain.
type Orchestrator struct {
	cfg        Config
	normalizer Normalizer
	recorder   UsageRecorder
	sleep      func(ctx context.Context, d time.Duration) error

	mu    sync.RWMutex
	chain []stt.Provider
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the wait between retries (tests use a no-op).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// New creates an orchestrator. recorder may be nil, in which case nothing is
// billed.
func New(cfg Config, normalizer Normalizer, recorder UsageRecorder, chain []stt.Provider, opts ...Option) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	o := &Orchestrator{
		cfg:        cfg,
		normalizer: normalizer,
		recorder:   recorder,
		sleep:      sleepCtx,
		chain:      chain,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetChain swaps the provider chain and returns the previous one. Jobs
// already running keep the chain they started with.
func (o *Orchestrator) SetChain(chain []stt.Provider) []stt.Provider {
	o.mu.Lock()
	defer o.mu.Unlock()
	old := o.chain
	o.chain = chain
	L_info("transcribe: provider chain updated", "providers", names(chain))
	return old
}

// Providers returns the names of the current chain, in order.
func (o *Orchestrator) Providers() []string {
	return names(o.snapshot())
}

func (o *Orchestrator) snapshot() []stt.Provider {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]stt.Provider(nil), o.chain...)
}

// Precheck applies the size and duration limits to the advertised job
// metadata, so oversized clips are refused before they are downloaded.
func (o *Orchestrator) Precheck(job *AudioJob) error {
	return o.normalizer.CheckLimits(job.Duration(), job.SizeBytes)
}

// Run transcribes job. It never returns an error value: job-level failures
// land in Result.Err and provider exhaustion yields the fallback text.
func (o *Orchestrator) Run(ctx context.Context, job *AudioJob) *Result {
	start := time.Now()
	res := o.run(ctx, job)
	MetricDuration("transcribe", "run", time.Since(start))

	switch {
	case res.Err != nil:
		MetricOutcome("transcribe", "run", "rejected")
	case res.Fallback:
		MetricOutcome("transcribe", "run", "fallback")
	default:
		MetricOutcome("transcribe", "run", "success")
	}
	return res
}

func (o *Orchestrator) run(ctx context.Context, job *AudioJob) *Result {
	res := &Result{Provider: NoProvider}

	if err := o.Precheck(job); err != nil {
		L_info("transcribe: job rejected before download", "session", job.SessionID, "duration", job.DurationSeconds, "size", job.SizeBytes, "error", err)
		res.Err = err
		return res
	}

	norm, err := o.normalizer.Normalize(ctx, job.SourcePath)
	if err != nil {
		L_warn("transcribe: normalization failed", "session", job.SessionID, "source", job.SourcePath, "error", err)
		res.Err = err
		return res
	}
	job.NormalizedPath = norm.Path
	if job.DurationSeconds <= 0 {
		job.DurationSeconds = norm.Duration.Seconds()
	}
	defer func() {
		if err := os.Remove(norm.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			L_warn("transcribe: failed to remove normalized file", "path", norm.Path, "error", err)
		}
	}()

	language := job.Language
	if language == "" {
		language = o.cfg.Language
	}

	chain := o.snapshot()
	if len(chain) == 0 {
		L_warn("transcribe: no providers configured", "session", job.SessionID)
	}

	for _, p := range chain {
		tr := o.tryProvider(ctx, p, norm.Path, language, res)
		if tr != nil {
			res.Text = tr.Text
			res.Provider = p.Name()
			res.Usage = tr.Usage
			res.Cost = o.bill(p.Name(), tr.Usage, job, len(res.Attempts))
			if len(res.Attempts) > 1 {
				L_info("transcribe: succeeded after fallback", "session", job.SessionID, "chain", res.FallbackChain())
			}
			return res
		}
		if ctx.Err() != nil {
			L_warn("transcribe: cancelled", "session", job.SessionID, "error", ctx.Err())
			res.Err = ctx.Err()
			return res
		}
	}

	L_warn("transcribe: all providers failed", "session", job.SessionID, "chain", res.FallbackChain())
	res.Text = FallbackText
	res.Fallback = true
	return res
}

// tryProvider calls p until it succeeds or its retry budget for the last
// error kind is spent. Attempts are appended to res.
func (o *Orchestrator) tryProvider(ctx context.Context, p stt.Provider, path, language string, res *Result) *stt.Transcription {
	name := p.Name()
	for try := 0; ; try++ {
		actx, cancel := context.WithTimeout(ctx, o.cfg.attemptTimeout())
		start := time.Now()
		tr, err := p.Transcribe(actx, path, language)
		elapsed := time.Since(start)
		cancel()

		MetricDuration("stt/"+name, "transcribe", elapsed)
		attempt := Attempt{Provider: name, Retry: try, Elapsed: elapsed}

		if err == nil && tr != nil {
			attempt.Outcome = "success"
			res.Attempts = append(res.Attempts, attempt)
			MetricSuccess("stt/"+name, "transcribe")
			L_debug("transcribe: provider succeeded", "provider", name, "retry", try, "elapsed", elapsed)
			return tr
		}
		if err == nil {
			err = fmt.Errorf("%s returned no transcription", name)
		}

		kind := stt.KindOf(err)
		attempt.Outcome = string(kind)
		attempt.Err = err
		res.Attempts = append(res.Attempts, attempt)
		MetricFailWithReason("stt/"+name, "transcribe", string(kind))

		if try+1 >= o.attemptsFor(kind) || ctx.Err() != nil {
			L_warn("transcribe: provider failed, moving on", "provider", name, "kind", kind, "attempts", try+1, "error", err)
			return nil
		}

		L_debug("transcribe: retrying provider", "provider", name, "kind", kind, "retry", try+1, "error", err)
		if err := o.sleep(ctx, o.cfg.retryDelay()); err != nil {
			return nil
		}
	}
}

// attemptsFor is the total number of calls a provider gets when its latest
// failure is of the given kind.
func (o *Orchestrator) attemptsFor(kind stt.ErrorKind) int {
	switch kind {
	case stt.ErrorTransient:
		return o.cfg.MaxRetries
	case stt.ErrorUnknown:
		return 2
	default:
		return 1
	}
}

func (o *Orchestrator) bill(provider string, u ledger.Usage, job *AudioJob, attempts int) float64 {
	if o.recorder == nil {
		return 0
	}
	meta := map[string]string{
		"durationSeconds": strconv.FormatFloat(job.DurationSeconds, 'f', 1, 64),
		"attempts":        strconv.Itoa(attempts),
	}
	if job.SessionID != "" {
		meta["sessionId"] = job.SessionID
	}
	if job.Target != "" {
		meta["target"] = job.Target
	}

	// Without a stored transaction nothing was billed, so report no cost.
	cost, err := o.recorder.RecordUsage(provider, u, meta)
	if err != nil {
		L_error("transcribe: failed to record usage", "provider", provider, "cost", cost, "error", err)
		return 0
	}
	return cost
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func names(chain []stt.Provider) []string {
	out := make([]string, len(chain))
	for i, p := range chain {
		out[i] = p.Name()
	}
	return out
}
