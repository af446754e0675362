package cron

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	. "github.com/roelfdiedericks/voxledger/internal/logging"
)

const (
	// MaxSummaryChars is the maximum length for run summaries
	MaxSummaryChars = 500

	// MaxHistoryLines is how many runs are kept per job file.
	MaxHistoryLines = 1000
)

// RunLogEntry is one line of a job's history file.
type RunLogEntry struct {
	Timestamp  int64  `json:"ts"`
	Job        string `json:"job"`
	Status     string `json:"status"`
	Summary    string `json:"summary,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// History appends job runs to <dir>/<job>.jsonl.
type History struct {
	mu  sync.Mutex
	dir string
}

// NewHistory creates a history rooted at dir.
func NewHistory(dir string) *History {
	return &History{dir: dir}
}

func (h *History) path(job string) string {
	return filepath.Join(h.dir, job+".jsonl")
}

// LogRun appends entry, pruning the file once it passes MaxHistoryLines.
func (h *History) LogRun(entry RunLogEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(h.dir, 0750); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	if len(entry.Summary) > MaxSummaryChars {
		entry.Summary = entry.Summary[:MaxSummaryChars-3] + "..."
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	f, err := os.OpenFile(h.path(entry.Job), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	_, err = f.Write(append(data, '\n'))
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	runs, err := h.read(entry.Job)
	if err == nil && len(runs) > MaxHistoryLines {
		L_debug("cron: pruning history", "job", entry.Job, "lines", len(runs))
		return h.rewrite(entry.Job, runs[len(runs)-MaxHistoryLines:])
	}
	return nil
}

// Runs returns up to limit of the most recent runs, newest first.
func (h *History) Runs(job string, limit int) ([]RunLogEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	runs, err := h.read(job)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []RunLogEntry
	for i := len(runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, runs[i])
	}
	return out, nil
}

func (h *History) read(job string) ([]RunLogEntry, error) {
	f, err := os.Open(h.path(job))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var runs []RunLogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e RunLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		runs = append(runs, e)
	}
	return runs, scanner.Err()
}

func (h *History) rewrite(job string, runs []RunLogEntry) error {
	tmp := h.path(job) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, e := range runs {
		data, _ := json.Marshal(e)
		w.Write(append(data, '\n'))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	f.Close()
	return os.Rename(tmp, h.path(job))
}
