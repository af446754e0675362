// Package audio validates incoming clips and converts them to the canonical
// format every speech-to-text adapter accepts: 16 kHz mono 16-bit PCM WAV.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	. "github.com/roelfdiedericks/voxledger/internal/logging"
)

// Job-level failures. None of them are worth retrying.
var (
	ErrSizeLimitExceeded     = errors.New("audio exceeds size or duration limit")
	ErrConversionUnavailable = errors.New("audio conversion tool unavailable")
	ErrMalformedMedia        = errors.New("audio could not be decoded")
)

// Config controls limits and conversion.
type Config struct {
	FFmpegPath         string `json:"ffmpegPath"`
	FFprobePath        string `json:"ffprobePath"`
	WorkDir            string `json:"workDir"`
	SampleRate         int    `json:"sampleRate" validate:"gte=8000,lte=48000"`
	Channels           int    `json:"channels" validate:"gte=1,lte=2"`
	MaxDurationSeconds int    `json:"maxDurationSeconds" validate:"gt=0"`
	MaxSizeBytes       int64  `json:"maxSizeBytes" validate:"gt=0"`
}

// DefaultConfig matches the Telegram download cap and a 20 minute ceiling.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:         "ffmpeg",
		FFprobePath:        "ffprobe",
		SampleRate:         16000,
		Channels:           1,
		MaxDurationSeconds: 1200,
		MaxSizeBytes:       20 * 1024 * 1024,
	}
}

// Normalized describes a converted clip. The caller owns Path.
type Normalized struct {
	Path     string
	Duration time.Duration
	Size     int64
	MIME     string
}

// Normalizer probes, validates and converts audio files.
type Normalizer struct {
	cfg Config
}

// NewNormalizer returns a normalizer. Zero fields fall back to DefaultConfig.
func NewNormalizer(cfg Config) *Normalizer {
	def := DefaultConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = def.FFprobePath
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = def.Channels
	}
	if cfg.MaxDurationSeconds == 0 {
		cfg.MaxDurationSeconds = def.MaxDurationSeconds
	}
	if cfg.MaxSizeBytes == 0 {
		cfg.MaxSizeBytes = def.MaxSizeBytes
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Normalizer{cfg: cfg}
}

// Limits returns the configured maximum duration and size.
func (n *Normalizer) Limits() (time.Duration, int64) {
	return time.Duration(n.cfg.MaxDurationSeconds) * time.Second, n.cfg.MaxSizeBytes
}

// CheckLimits rejects a clip from its advertised duration and size alone,
// before anything is downloaded or decoded.
func (n *Normalizer) CheckLimits(duration time.Duration, size int64) error {
	maxDur, maxSize := n.Limits()
	if size > maxSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrSizeLimitExceeded, size, maxSize)
	}
	if duration > maxDur {
		return fmt.Errorf("%w: %s (max %s)", ErrSizeLimitExceeded, duration.Round(time.Second), maxDur)
	}
	return nil
}

// Normalize checks limits and converts src into a new WAV file in the work
// dir. src is never modified or removed.
func (n *Normalizer) Normalize(ctx context.Context, src string) (*Normalized, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("audio: stat source: %w", err)
	}
	if err := n.CheckLimits(0, info.Size()); err != nil {
		return nil, err
	}

	mt, err := mimetype.DetectFile(src)
	if err != nil {
		return nil, fmt.Errorf("audio: detect type: %w", err)
	}
	if !isMedia(mt) {
		return nil, fmt.Errorf("%w: unsupported type %s", ErrMalformedMedia, mt.String())
	}

	duration := n.Probe(ctx, src, mt.String())
	if err := n.CheckLimits(duration, info.Size()); err != nil {
		return nil, err
	}
	if duration == 0 {
		L_warn("audio: duration unknown before conversion, checking the converted file", "src", filepath.Base(src), "type", mt.String())
	}

	ffmpeg, err := exec.LookPath(n.cfg.FFmpegPath)
	if err != nil {
		L_error("audio: ffmpeg not found", "path", n.cfg.FFmpegPath, "error", err)
		return nil, fmt.Errorf("%w: %s", ErrConversionUnavailable, n.cfg.FFmpegPath)
	}

	out, err := n.convert(ctx, ffmpeg, src)
	if err != nil {
		return nil, err
	}
	if duration == 0 {
		if duration, err = n.checkConverted(out); err != nil {
			return nil, err
		}
	}

	L_debug("audio: normalized", "src", filepath.Base(src), "out", filepath.Base(out), "type", mt.String(), "duration", duration)
	return &Normalized{Path: out, Duration: duration, Size: info.Size(), MIME: mt.String()}, nil
}

func (n *Normalizer) convert(ctx context.Context, ffmpeg, src string) (string, error) {
	if err := os.MkdirAll(n.cfg.WorkDir, 0750); err != nil {
		return "", fmt.Errorf("audio: create work dir: %w", err)
	}
	tmp, err := os.CreateTemp(n.cfg.WorkDir, "norm-*.wav")
	if err != nil {
		return "", fmt.Errorf("audio: create output: %w", err)
	}
	out := tmp.Name()
	tmp.Close()

	// #nosec G204 - src comes from our own download directory
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-i", src,
		"-vn",
		"-ar", strconv.Itoa(n.cfg.SampleRate),
		"-ac", strconv.Itoa(n.cfg.Channels),
		"-c:a", "pcm_s16le",
		"-y",
		out,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(out)
		if ctx.Err() != nil {
			return "", fmt.Errorf("audio: conversion interrupted: %w", ctx.Err())
		}
		L_debug("audio: ffmpeg output", "output", string(output))
		return "", fmt.Errorf("%w: ffmpeg: %v: %s", ErrMalformedMedia, err, strings.TrimSpace(lastLine(string(output))))
	}
	return out, nil
}

// checkConverted reads the duration from the WAV header of out and applies
// the duration limit. out is removed when it is rejected.
func (n *Normalizer) checkConverted(out string) (time.Duration, error) {
	info, err := ProbeWAV(out)
	if err != nil {
		os.Remove(out)
		return 0, fmt.Errorf("%w: converted file: %v", ErrMalformedMedia, err)
	}
	duration := info.Duration()
	if err := n.CheckLimits(duration, 0); err != nil {
		os.Remove(out)
		return 0, err
	}
	return duration, nil
}

func isMedia(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		s := m.String()
		if strings.HasPrefix(s, "audio/") || strings.HasPrefix(s, "video/") || s == "application/ogg" {
			return true
		}
	}
	return false
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
