package cron

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roelfdiedericks/voxledger/internal/ledger"
)

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}

func TestSweepDir(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touch(t, filepath.Join(dir, "old.ogg"), now.Add(-48*time.Hour))
	touch(t, filepath.Join(dir, "fresh.ogg"), now.Add(-time.Hour))
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0750); err != nil {
		t.Fatal(err)
	}

	removed, err := SweepDir(context.Background(), dir, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("SweepDir: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "old.ogg")); !os.IsNotExist(err) {
		t.Error("old file should be gone")
	}
	for _, keep := range []string{"fresh.ogg", "sub"} {
		if _, err := os.Stat(filepath.Join(dir, keep)); err != nil {
			t.Errorf("%s should remain: %v", keep, err)
		}
	}

	if n, err := SweepDir(context.Background(), filepath.Join(dir, "missing"), now); err != nil || n != 0 {
		t.Errorf("missing dir: %d, %v", n, err)
	}
}

type fakeResetter struct {
	maxAge time.Duration
	n      int
}

func (f *fakeResetter) ResetIdle(maxAge time.Duration) int {
	f.maxAge = maxAge
	return f.n
}

type fakeStats struct{ st ledger.Stats }

func (f fakeStats) Stats() ledger.Stats { return f.st }

func TestSchedulerRunNowRecordsHistory(t *testing.T) {
	hist := NewHistory(t.TempDir())
	s, err := New(DefaultConfig(), hist)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r := &fakeResetter{n: 3}
	if err := s.Add(IdleResetJob("*/10 * * * *", r, time.Hour)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(SummaryJob("@daily", fakeStats{ledger.Stats{Today: 0.5}})); err != nil {
		t.Fatalf("Add summary: %v", err)
	}

	entry, err := s.RunNow(JobIdleReset)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if entry.Status != "ok" || entry.Summary != "reset 3 sessions" || r.maxAge != time.Hour {
		t.Errorf("entry = %+v, maxAge = %v", entry, r.maxAge)
	}

	summary, _ := s.RunNow(JobSummary)
	if summary.Summary != "today $0.5000, month $0.0000" {
		t.Errorf("summary = %q", summary.Summary)
	}

	runs, err := hist.Runs(JobIdleReset, 10)
	if err != nil || len(runs) != 1 || runs[0].Job != JobIdleReset {
		t.Errorf("runs = %+v, %v", runs, err)
	}

	if _, err := s.RunNow("nope"); err == nil {
		t.Error("unknown job should fail")
	}
	if len(s.Jobs()) != 2 {
		t.Errorf("jobs = %v", s.Jobs())
	}
}

func TestSchedulerRejectsBadJobs(t *testing.T) {
	s, err := New(Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	noop := func(context.Context) (string, error) { return "", nil }

	if err := s.Add(Job{Name: "bad", Schedule: "not a cron", Run: noop}); err == nil {
		t.Error("invalid expression should fail")
	}
	if err := s.Add(Job{Name: "off", Schedule: "", Run: noop}); err != nil {
		t.Errorf("empty schedule should be skipped: %v", err)
	}
	if err := s.Add(Job{Name: "a", Schedule: "@hourly", Run: noop}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(Job{Name: "a", Schedule: "@hourly", Run: noop}); err == nil {
		t.Error("duplicate name should fail")
	}

	if _, err := New(Config{Timezone: "Mars/Olympus"}, nil); err == nil {
		t.Error("bad timezone should fail")
	}
}

func TestFailedRunIsLogged(t *testing.T) {
	hist := NewHistory(t.TempDir())
	s, _ := New(Config{}, hist)
	s.Add(Job{Name: "boom", Schedule: "@hourly", Run: func(context.Context) (string, error) {
		return "", errors.New("disk full")
	}})

	entry, _ := s.RunNow("boom")
	if entry.Status != "error" || entry.Error != "disk full" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestHistoryPrunes(t *testing.T) {
	hist := NewHistory(t.TempDir())
	for i := 0; i < MaxHistoryLines+5; i++ {
		if err := hist.LogRun(RunLogEntry{Job: "j", Timestamp: int64(i), Status: "ok"}); err != nil {
			t.Fatal(err)
		}
	}
	runs, _ := hist.Runs("j", 0)
	if len(runs) != MaxHistoryLines {
		t.Fatalf("runs = %d, want %d", len(runs), MaxHistoryLines)
	}
	if runs[0].Timestamp != int64(MaxHistoryLines+4) {
		t.Errorf("newest = %d", runs[0].Timestamp)
	}
}
