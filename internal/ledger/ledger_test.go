package ledger

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func setupTestLedger(t *testing.T, clock *fakeClock) (*Ledger, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	store, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	l, err := New(store, DefaultPricing(), WithClock(clock.Now))
	if err != nil {
		store.Close()
		t.Fatalf("failed to create ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, dbPath
}

func TestRecordUsageReconciles(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 30, 10, 0, 0, 0, time.UTC)}
	l, _ := setupTestLedger(t, clock)

	steps := []struct {
		at       time.Time
		provider string
		usage    Usage
	}{
		{time.Date(2026, 3, 30, 10, 0, 0, 0, time.UTC), "openai", Minutes(120)},
		{time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC), "gemini", Tokens(400)},
		{time.Date(2026, 4, 1, 0, 1, 0, 0, time.UTC), "claude", InputOutput(800, 300)},
		{time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC), "groq", Minutes(30)},
		{time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC), "openai", Minutes(45)},
	}

	var sum float64
	for _, s := range steps {
		clock.Set(s.at)
		cost, err := l.RecordUsage(s.provider, s.usage, map[string]string{"session": "42"})
		if err != nil {
			t.Fatalf("RecordUsage(%s) failed: %v", s.provider, err)
		}
		sum += cost
	}

	if !approx(l.TotalCost(), sum) {
		t.Errorf("total = %v, want %v", l.TotalCost(), sum)
	}

	var dailySum float64
	for _, day := range []string{"2026-03-30", "2026-03-31", "2026-04-01", "2026-04-02"} {
		dailySum += l.DailyCost(day)
	}
	if !approx(dailySum, sum) {
		t.Errorf("sum of daily buckets = %v, want %v", dailySum, sum)
	}
	if !approx(l.MonthlyCost("2026-03")+l.MonthlyCost("2026-04"), sum) {
		t.Errorf("monthly buckets don't add up to total")
	}

	if err := l.Reconcile(); err != nil {
		t.Errorf("Reconcile failed: %v", err)
	}

	openai := l.Provider("openai")
	if openai.Calls != 2 {
		t.Errorf("openai calls = %d, want 2", openai.Calls)
	}
	if !approx(openai.Minutes, 2.75) {
		t.Errorf("openai minutes = %v, want 2.75", openai.Minutes)
	}
	claude := l.Provider("claude")
	if claude.InputTokens != 800 || claude.OutputTokens != 300 {
		t.Errorf("claude tokens = %d/%d, want 800/300", claude.InputTokens, claude.OutputTokens)
	}
}

func TestReplayMatchesLiveAggregates(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	l, dbPath := setupTestLedger(t, clock)

	for i := 0; i < 5; i++ {
		if _, err := l.RecordUsage("openai", Minutes(float64(30*(i+1))), nil); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}
	if _, err := l.RecordUsage("gemini", Tokens(1234), nil); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	wantTotal := l.TotalCost()
	wantTokens := l.FreeTier()["gemini"].Used

	store, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	reloaded, err := New(store, DefaultPricing(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer reloaded.Close()

	if !approx(reloaded.TotalCost(), wantTotal) {
		t.Errorf("reloaded total = %v, want %v", reloaded.TotalCost(), wantTotal)
	}
	if got := reloaded.FreeTier()["gemini"].Used; got != wantTokens {
		t.Errorf("reloaded gemini tokens = %d, want %d", got, wantTokens)
	}
	if got := len(reloaded.Transactions()); got != 6 {
		t.Errorf("reloaded %d transactions, want 6", got)
	}
}

// Free tier crossing: 999,950 tokens already used this month, a 100-token
// call is charged for the 50 tokens above the allowance.
func TestFreeTierCrossing(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)}
	l, _ := setupTestLedger(t, clock)

	cost, err := l.RecordUsage("gemini", Tokens(999_950), nil)
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if cost != 0 {
		t.Fatalf("first call cost = %v, want 0", cost)
	}

	cost, err = l.RecordUsage("gemini", Tokens(100), nil)
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	want := 50.0 / 1000 * 0.00025
	if !approx(cost, want) {
		t.Errorf("crossing cost = %v, want %v", cost, want)
	}

	txs := l.Transactions()
	if !txs[0].WithinFreeTier || txs[1].WithinFreeTier {
		t.Errorf("withinFreeTier flags = %v/%v, want true/false", txs[0].WithinFreeTier, txs[1].WithinFreeTier)
	}

	ft := l.FreeTier()["gemini"]
	if ft.Used != 1_000_050 || ft.Remaining != 0 {
		t.Errorf("free tier = %+v", ft)
	}

	// Past the limit the month's running overage is charged again.
	cost, err = l.RecordUsage("gemini", Tokens(100), nil)
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if want := 150.0 / 1000 * 0.00025; !approx(cost, want) {
		t.Errorf("cost past limit = %v, want %v", cost, want)
	}

	// A new month starts with a fresh allowance.
	clock.Set(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	cost, err = l.RecordUsage("gemini", Tokens(100), nil)
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if cost != 0 {
		t.Errorf("cost in new month = %v, want 0", cost)
	}
}

func TestResetMonthlyCounters(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	l, _ := setupTestLedger(t, clock)

	if _, err := l.RecordUsage("openai", Minutes(60), nil); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	august := l.TotalCost()

	clock.Set(time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC))
	for i := 0; i < 3; i++ {
		if _, err := l.RecordUsage("openai", Minutes(60), nil); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}
	if _, err := l.RecordUsage("gemini", Tokens(5000), nil); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	if err := l.ResetMonthlyCounters(); err != nil {
		t.Fatalf("ResetMonthlyCounters failed: %v", err)
	}

	if got := l.MonthlyCost("2026-09"); got != 0 {
		t.Errorf("september cost after reset = %v, want 0", got)
	}
	if !approx(l.TotalCost(), august) {
		t.Errorf("total after reset = %v, want %v", l.TotalCost(), august)
	}
	if got := len(l.Transactions()); got != 1 {
		t.Errorf("transactions after reset = %d, want 1", got)
	}
	if got := l.FreeTier()["gemini"].Used; got != 0 {
		t.Errorf("gemini tokens after reset = %d, want 0", got)
	}
	if err := l.Reconcile(); err != nil {
		t.Errorf("Reconcile after reset failed: %v", err)
	}
}

func TestConcurrentRecordUsage(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	l, _ := setupTestLedger(t, clock)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.RecordUsage("openai", Minutes(60), nil); err != nil {
				t.Errorf("RecordUsage failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := l.Provider("openai").Calls; got != 20 {
		t.Errorf("calls = %d, want 20", got)
	}
	if !approx(l.TotalCost(), 20*0.006) {
		t.Errorf("total = %v, want %v", l.TotalCost(), 20*0.006)
	}
	if err := l.Reconcile(); err != nil {
		t.Errorf("Reconcile failed: %v", err)
	}
}

type failingStore struct{}

func (failingStore) Load() ([]Transaction, error)      { return nil, nil }
func (failingStore) Append(Transaction) error          { return errors.New("disk full") }
func (failingStore) DeleteMonth(string) (int64, error) { return 0, nil }
func (failingStore) Close() error                      { return nil }

func TestPersistFailureLeavesAggregatesUntouched(t *testing.T) {
	l, err := New(failingStore{}, DefaultPricing())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	cost, err := l.RecordUsage("openai", Minutes(60), nil)
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if !approx(cost, 0.006) {
		t.Errorf("cost = %v, want computed 0.006", cost)
	}
	if l.TotalCost() != 0 || len(l.Transactions()) != 0 {
		t.Errorf("aggregates changed after failed persist")
	}
}

func TestStatsAndWeekly(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 11, 3, 12, 0, 0, 0, time.UTC)}
	l, _ := setupTestLedger(t, clock)

	for i := 0; i < 12; i++ {
		clock.Set(time.Date(2026, 11, 1+i%3, 12, i, 0, 0, time.UTC))
		if _, err := l.RecordUsage("openai", Minutes(60), map[string]string{"n": string(rune('a' + i))}); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}
	clock.Set(time.Date(2026, 11, 3, 18, 0, 0, 0, time.UTC))

	st := l.Stats()
	if len(st.Recent) != 10 {
		t.Fatalf("recent = %d, want 10", len(st.Recent))
	}
	if st.Recent[0].Metadata["n"] != "l" {
		t.Errorf("newest recent = %v, want n=l", st.Recent[0].Metadata)
	}
	if !approx(st.Today, 4*0.006) {
		t.Errorf("today = %v, want %v", st.Today, 4*0.006)
	}
	if st.Transactions != 12 {
		t.Errorf("transaction count = %d, want 12", st.Transactions)
	}
	if _, ok := st.FreeTier["gemini"]; !ok {
		t.Error("expected gemini free tier status")
	}

	week := l.WeeklyCosts()
	if len(week) != 7 {
		t.Fatalf("weekly = %d days, want 7", len(week))
	}
	if week[6].Day != "2026-11-03" || week[0].Day != "2026-10-28" {
		t.Errorf("weekly range = %s..%s", week[0].Day, week[6].Day)
	}
}

func TestUnknownProviderIsFree(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l, _ := setupTestLedger(t, clock)

	cost, err := l.RecordUsage("mystery", Minutes(60), nil)
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if cost != 0 {
		t.Errorf("cost = %v, want 0", cost)
	}
	if l.Provider("mystery").Calls != 1 {
		t.Error("expected the call to be counted")
	}
}
