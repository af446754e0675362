package app

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/roelfdiedericks/voxledger/internal/config"
	"github.com/roelfdiedericks/voxledger/internal/cron"
	"github.com/roelfdiedericks/voxledger/internal/ledger"
	"github.com/roelfdiedericks/voxledger/internal/transcribe"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.LedgerPath = filepath.Join(dir, "ledger.db")
	cfg.Storage.EntitiesPath = filepath.Join(dir, "entities.db")
	cfg.Audio.WorkDir = filepath.Join(dir, "audio")
	cfg.Cron.HistoryDir = filepath.Join(dir, "cron")
	cfg.STT.WhisperCpp.ModelsDir = filepath.Join(dir, "models")
	return cfg
}

func TestOpenWithoutProviders(t *testing.T) {
	a, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	if got := a.Orchestrator.Providers(); len(got) != 0 {
		t.Errorf("providers = %v, want none without credentials", got)
	}

	res := a.TranscribeFile(context.Background(), filepath.Join(t.TempDir(), "missing.ogg"), "voice_note", "")
	if res.Err == nil || res.Provider != transcribe.NoProvider {
		t.Errorf("missing file: %+v", res)
	}
	if len(a.Ledger.Transactions()) != 0 {
		t.Error("a failed job must not be billed")
	}
}

func TestReloadSwapsChain(t *testing.T) {
	cfg := testConfig(t)
	a, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	next := testConfig(t)
	next.STT.Order = []string{"groq", "openai"}
	next.STT.Groq.APIKey = "k1"
	next.STT.OpenAI.APIKey = "k2"
	a.Reload(next)

	got := a.Orchestrator.Providers()
	if len(got) != 2 || got[0] != "groq" || got[1] != "openai" {
		t.Errorf("providers = %v", got)
	}

	bad := testConfig(t)
	bad.STT.Order = []string{"azure"}
	a.Reload(bad)
	if got := a.Orchestrator.Providers(); len(got) != 2 {
		t.Errorf("rejected chain should keep the current one: %v", got)
	}
}

func TestLedgerSurvivesReopen(t *testing.T) {
	cfg := testConfig(t)
	a, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Ledger.RecordUsage("groq", ledger.Minutes(60), nil); err != nil {
		t.Fatal(err)
	}
	a.Close()

	b, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if got := b.Ledger.TotalCost(); math.Abs(got-0.00185) > 1e-9 {
		t.Errorf("total after reopen = %v", got)
	}
}

func TestRunRequiresTelegram(t *testing.T) {
	a, err := Open(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.Run(context.Background(), ""); err == nil {
		t.Error("Run without telegram should fail")
	}
}

func TestSchedulerJobs(t *testing.T) {
	cfg := testConfig(t)
	a, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	sched, err := a.scheduler(cfg)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	jobs := sched.Jobs()
	for _, name := range []string{cron.JobSweep, cron.JobSummary, cron.JobIdleReset} {
		if _, ok := jobs[name]; !ok {
			t.Errorf("job %s not scheduled", name)
		}
	}

	if err := os.MkdirAll(cfg.Audio.WorkDir, 0750); err != nil {
		t.Fatal(err)
	}
	entry, err := sched.RunNow(cron.JobSweep)
	if err != nil || entry.Status != "ok" {
		t.Errorf("sweep: %+v, %v", entry, err)
	}
}
