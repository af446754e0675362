// Package ledger meters provider usage into an append-only cost ledger.
//
// Every RecordUsage call prices the usage, appends one transaction to the
// store and then updates the in-memory aggregates, all under one mutex.
// Aggregates are never persisted on their own: they are rebuilt by replaying
// the stored transactions, so TotalCost always equals the transaction sum.
package ledger

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/voxledger/internal/logging"
	. "github.com/roelfdiedericks/voxledger/internal/metrics"
)

// Store persists transactions. Implementations must be durable when Append returns.
type Store interface {
	Load() ([]Transaction, error)
	Append(tx Transaction) error
	DeleteMonth(month string) (int64, error)
	Close() error
}

// Ledger is the process-wide cost ledger.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	pricing map[string]Pricing
	now     func() time.Time

	txs         []Transaction
	total       float64
	daily       map[string]float64
	monthly     map[string]float64
	providers   map[string]*ProviderCounters
	monthTokens map[string]map[string]int64 // provider -> month -> tokens
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New loads the transaction history from store and rebuilds the aggregates.
// Providers missing from pricing are recorded with zero cost.
func New(store Store, pricing map[string]Pricing, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger: store is required")
	}
	if pricing == nil {
		pricing = DefaultPricing()
	}

	l := &Ledger{
		store:   store,
		pricing: pricing,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	txs, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to load transactions: %w", err)
	}
	l.replay(txs)

	L_debug("ledger: loaded", "transactions", len(l.txs), "total", l.total)
	return l, nil
}

// replay resets every aggregate and folds txs in order. Caller holds mu.
func (l *Ledger) replay(txs []Transaction) {
	l.txs = make([]Transaction, 0, len(txs))
	l.total = 0
	l.daily = make(map[string]float64)
	l.monthly = make(map[string]float64)
	l.providers = make(map[string]*ProviderCounters)
	l.monthTokens = make(map[string]map[string]int64)
	for _, tx := range txs {
		l.apply(tx)
	}
}

// apply folds one transaction into the aggregates. Caller holds mu.
func (l *Ledger) apply(tx Transaction) {
	l.txs = append(l.txs, tx)
	l.total += tx.Cost
	l.daily[tx.Day()] += tx.Cost
	l.monthly[tx.Month()] += tx.Cost

	pc, ok := l.providers[tx.Provider]
	if !ok {
		pc = &ProviderCounters{}
		l.providers[tx.Provider] = pc
	}
	pc.Calls++
	pc.Cost += tx.Cost

	switch tx.Kind {
	case DurationMinutes:
		pc.Minutes += tx.Units
	case TokensFreeTier:
		tokens := int64(tx.Units)
		pc.Tokens += tokens
		months, ok := l.monthTokens[tx.Provider]
		if !ok {
			months = make(map[string]int64)
			l.monthTokens[tx.Provider] = months
		}
		months[tx.Month()] += tokens
	case TokensInputOutput:
		pc.InputTokens += tx.InputUnits
		pc.OutputTokens += tx.OutputUnits
		pc.Tokens += tx.InputUnits + tx.OutputUnits
	}
}

// Quote prices usage for provider without recording anything.
func (l *Ledger) Quote(provider string, u Usage) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cost, _, err := l.price(provider, u, l.now().UTC())
	return cost, err
}

// price applies the provider's rule. Caller holds mu.
func (l *Ledger) price(provider string, u Usage, at time.Time) (float64, bool, error) {
	rule, ok := l.pricing[provider]
	if !ok {
		L_warn("ledger: no pricing rule for provider, recording zero cost", "provider", provider)
		return 0, false, nil
	}
	used := l.monthTokens[provider][at.Format(MonthLayout)]
	return Price(rule, u, used)
}

// RecordUsage prices u, appends a transaction and updates the aggregates.
// The transaction is persisted before the aggregates change; if the store
// fails, the ledger is left untouched and the computed cost is still returned
// alongside the error.
func (l *Ledger) RecordUsage(provider string, u Usage, metadata map[string]string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	at := l.now().UTC()
	cost, free, err := l.price(provider, u, at)
	if err != nil {
		return 0, err
	}

	tx := Transaction{
		ID:             uuid.New().String(),
		Timestamp:      at,
		Provider:       provider,
		Kind:           u.Kind,
		Units:          u.Units,
		InputUnits:     u.InputUnits,
		OutputUnits:    u.OutputUnits,
		Cost:           cost,
		WithinFreeTier: free,
		Metadata:       copyMeta(metadata),
	}

	if err := l.store.Append(tx); err != nil {
		MetricFailWithReason("ledger", "record", "persist")
		return cost, fmt.Errorf("ledger: failed to persist transaction: %w", err)
	}
	l.apply(tx)

	MetricSuccess("ledger", "record")
	MetricAdd("ledger/"+provider, "cost_microusd", microdollars(cost))
	L_debug("ledger: recorded usage", "provider", provider, "kind", u.Kind, "units", u.Units, "cost", cost, "free", free)
	return cost, nil
}

// ResetMonthlyCounters drops the current month's transactions and rebuilds
// every aggregate from what remains.
func (l *Ledger) ResetMonthlyCounters() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	month := l.now().UTC().Format(MonthLayout)
	removed, err := l.store.DeleteMonth(month)
	if err != nil {
		return fmt.Errorf("ledger: failed to reset month %s: %w", month, err)
	}

	kept := make([]Transaction, 0, len(l.txs))
	for _, tx := range l.txs {
		if tx.Month() != month {
			kept = append(kept, tx)
		}
	}
	l.replay(kept)

	L_info("ledger: monthly counters reset", "month", month, "removed", removed)
	return nil
}

// TotalCost returns the all-time cost.
func (l *Ledger) TotalCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// DailyCost returns the cost recorded on day (YYYY-MM-DD, UTC).
func (l *Ledger) DailyCost(day string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.daily[day]
}

// MonthlyCost returns the cost recorded in month (YYYY-MM, UTC).
func (l *Ledger) MonthlyCost(month string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.monthly[month]
}

// Provider returns a copy of one provider's counters.
func (l *Ledger) Provider(name string) ProviderCounters {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pc, ok := l.providers[name]; ok {
		return *pc
	}
	return ProviderCounters{}
}

// Transactions returns a copy of the full history, oldest first.
func (l *Ledger) Transactions() []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transaction, len(l.txs))
	copy(out, l.txs)
	return out
}

// FreeTier reports this month's allowance use for every free-tier provider.
func (l *Ledger) FreeTier() map[string]FreeTierStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.freeTierLocked(l.now().UTC().Format(MonthLayout))
}

func (l *Ledger) freeTierLocked(month string) map[string]FreeTierStatus {
	out := make(map[string]FreeTierStatus)
	for name, rule := range l.pricing {
		if rule.Kind != TokensFreeTier {
			continue
		}
		used := l.monthTokens[name][month]
		st := FreeTierStatus{Limit: rule.FreeTierLimit, Used: used}
		if rule.FreeTierLimit > used {
			st.Remaining = rule.FreeTierLimit - used
		}
		if rule.FreeTierLimit > 0 {
			st.Percentage = float64(used) / float64(rule.FreeTierLimit) * 100
		}
		out[name] = st
	}
	return out
}

// Stats summarizes the ledger with the last 10 transactions, newest first.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	st := Stats{
		Today:        l.daily[now.Format(DayLayout)],
		ThisMonth:    l.monthly[now.Format(MonthLayout)],
		Total:        l.total,
		Providers:    make(map[string]ProviderCounters, len(l.providers)),
		FreeTier:     l.freeTierLocked(now.Format(MonthLayout)),
		Transactions: len(l.txs),
	}
	for name, pc := range l.providers {
		st.Providers[name] = *pc
	}
	for i := len(l.txs) - 1; i >= 0 && len(st.Recent) < 10; i-- {
		st.Recent = append(st.Recent, l.txs[i])
	}
	return st
}

// WeeklyCosts returns the last seven days including today, oldest first.
func (l *Ledger) WeeklyCosts() []DayCost {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	out := make([]DayCost, 0, 7)
	for i := 6; i >= 0; i-- {
		day := now.AddDate(0, 0, -i).Format(DayLayout)
		out = append(out, DayCost{Day: day, Cost: l.daily[day]})
	}
	return out
}

// Reconcile replays the stored transactions and checks that total, daily and
// monthly aggregates match the in-memory ones.
func (l *Ledger) Reconcile() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, err := l.store.Load()
	if err != nil {
		return fmt.Errorf("ledger: reconcile load failed: %w", err)
	}
	if len(stored) != len(l.txs) {
		return fmt.Errorf("ledger: reconcile: %d stored transactions, %d in memory", len(stored), len(l.txs))
	}

	var total float64
	daily := make(map[string]float64)
	monthly := make(map[string]float64)
	for _, tx := range stored {
		total += tx.Cost
		daily[tx.Day()] += tx.Cost
		monthly[tx.Month()] += tx.Cost
	}

	if !closeEnough(total, l.total) {
		return fmt.Errorf("ledger: reconcile: total %v != replayed %v", l.total, total)
	}
	if err := compareBuckets("daily", l.daily, daily); err != nil {
		return err
	}
	return compareBuckets("monthly", l.monthly, monthly)
}

func compareBuckets(name string, have, want map[string]float64) error {
	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !closeEnough(have[k], want[k]) {
			return fmt.Errorf("ledger: reconcile: %s[%s] %v != replayed %v", name, k, have[k], want[k])
		}
	}
	for k, v := range have {
		if _, ok := want[k]; !ok && v != 0 {
			return fmt.Errorf("ledger: reconcile: %s[%s] has no transactions", name, k)
		}
	}
	return nil
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func copyMeta(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Close()
}
