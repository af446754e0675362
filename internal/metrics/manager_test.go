package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCountersAccumulate(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.AddCounter("ledger", "cost_microusd", 2)
		}()
	}
	wg.Wait()

	if got := m.Counter("ledger", "cost_microusd"); got != 100 {
		t.Errorf("counter = %d, want 100", got)
	}
	if got := m.Counter("ledger", "missing"); got != 0 {
		t.Errorf("unknown counter = %d, want 0", got)
	}
}

func TestSnapshotContents(t *testing.T) {
	m := NewManager()
	m.RecordDuration("stt/openai", "transcribe", 100*time.Millisecond)
	m.RecordDuration("stt/openai", "transcribe", 300*time.Millisecond)
	m.RecordSuccess("stt/openai", "transcribe")
	m.RecordFailure("stt/openai", "transcribe", "transient")
	m.RecordFailure("stt/openai", "transcribe", "transient")
	m.RecordOutcome("session", "event", "finalized")

	snaps := m.Snapshot()
	if len(snaps) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(snaps))
	}

	for _, s := range snaps {
		switch data := s.Data.(type) {
		case TimingSnapshot:
			if data.Count != 2 {
				t.Errorf("timing count = %d, want 2", data.Count)
			}
			if data.AvgMs != 200 {
				t.Errorf("timing avg = %v, want 200", data.AvgMs)
			}
			if data.MinMs != 100 || data.MaxMs != 300 {
				t.Errorf("timing min/max = %v/%v", data.MinMs, data.MaxMs)
			}
		case SuccessFailSnapshot:
			if data.Success != 1 || data.Failures != 2 {
				t.Errorf("success/fail = %d/%d, want 1/2", data.Success, data.Failures)
			}
			if data.FailureReasons["transient"] != 2 || data.LastReason != "transient" {
				t.Errorf("failure reasons = %v", data.FailureReasons)
			}
		case OutcomeSnapshot:
			if data.Outcomes["finalized"] != 1 || data.Total != 1 {
				t.Errorf("outcomes = %v", data.Outcomes)
			}
		default:
			t.Errorf("unexpected snapshot type %T at %s", s.Data, s.Path)
		}
	}
}
