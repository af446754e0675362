package audio

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pion/opus/pkg/oggreader"

	. "github.com/roelfdiedericks/voxledger/internal/logging"
)

// opusGranuleRate is fixed by RFC 7845 regardless of the input sample rate.
const opusGranuleRate = 48000

// Probe returns the clip duration, or 0 when it cannot be determined.
// WAV and Ogg/Opus are read natively; anything else goes through ffprobe.
func (n *Normalizer) Probe(ctx context.Context, path, mime string) time.Duration {
	switch {
	case strings.Contains(mime, "wav"):
		if info, err := ProbeWAV(path); err == nil {
			return info.Duration()
		}
	case strings.Contains(mime, "ogg"):
		if d, err := probeOgg(path); err == nil && d > 0 {
			return d
		}
	}

	ffprobe, err := exec.LookPath(n.cfg.FFprobePath)
	if err != nil {
		L_trace("audio: ffprobe unavailable, duration unknown", "file", path)
		return 0
	}
	d, err := probeFFprobe(ctx, ffprobe, path)
	if err != nil {
		L_debug("audio: ffprobe failed", "file", path, "error", err)
		return 0
	}
	return d
}

// probeOgg reads the granule position of the last Ogg page.
func probeOgg(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	ogg, header, err := oggreader.NewWith(f)
	if err != nil {
		return 0, err
	}

	var last uint64
	for {
		_, page, err := ogg.ParseNextPage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if page != nil && page.GranulePosition > last {
			last = page.GranulePosition
		}
	}

	skip := uint64(header.PreSkip)
	if last <= skip {
		return 0, nil
	}
	samples := last - skip
	return time.Duration(samples) * time.Second / opusGranuleRate, nil
}

func probeFFprobe(ctx context.Context, ffprobe, path string) (time.Duration, error) {
	// #nosec G204 - path comes from our own download directory
	out, err := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}
