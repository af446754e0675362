// Package metrics keeps in-process counters and timings for the pipeline.
// Paths are "topic/function", e.g. "stt/gemini" + "transcribe".
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Manager holds every metric keyed by path.
type Manager struct {
	mu          sync.RWMutex
	timings     map[string]*timing
	counters    map[string]*counter
	successFail map[string]*successFail
	outcomes    map[string]*outcome
}

var (
	instance *Manager
	once     sync.Once
)

// GetInstance returns the process-wide manager.
func GetInstance() *Manager {
	once.Do(func() {
		instance = NewManager()
	})
	return instance
}

// NewManager returns an empty manager. Tests use it to stay off the singleton.
func NewManager() *Manager {
	return &Manager{
		timings:     make(map[string]*timing),
		counters:    make(map[string]*counter),
		successFail: make(map[string]*successFail),
		outcomes:    make(map[string]*outcome),
	}
}

func buildPath(topic, function string) string {
	if function == "" {
		return topic
	}
	return topic + "/" + function
}

// getOrCreate looks path up in table under the manager lock.
func getOrCreate[T any](m *Manager, table map[string]*T, path string, create func() *T) *T {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := table[path]
	if !ok {
		v = create()
		table[path] = v
	}
	return v
}

func (m *Manager) RecordDuration(topic, function string, d time.Duration) {
	t := getOrCreate(m, m.timings, buildPath(topic, function), func() *timing {
		return &timing{min: d, max: d}
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.total += d
	t.last = d
	t.min = min(t.min, d)
	t.max = max(t.max, d)
}

func (m *Manager) AddCounter(topic, function string, delta int64) {
	c := getOrCreate(m, m.counters, buildPath(topic, function), func() *counter { return &counter{} })
	c.mu.Lock()
	c.value += delta
	c.mu.Unlock()
}

func (m *Manager) successFailFor(topic, function string) *successFail {
	return getOrCreate(m, m.successFail, buildPath(topic, function), func() *successFail {
		return &successFail{reasons: make(map[string]int64)}
	})
}

func (m *Manager) RecordSuccess(topic, function string) {
	sf := m.successFailFor(topic, function)
	sf.mu.Lock()
	sf.success++
	sf.mu.Unlock()
}

// RecordFailure counts a failure; an empty reason is counted without one.
func (m *Manager) RecordFailure(topic, function, reason string) {
	sf := m.successFailFor(topic, function)
	sf.mu.Lock()
	sf.failures++
	if reason != "" {
		sf.reasons[reason]++
		sf.lastReason = reason
	}
	sf.mu.Unlock()
}

func (m *Manager) RecordOutcome(topic, function, result string) {
	o := getOrCreate(m, m.outcomes, buildPath(topic, function), func() *outcome {
		return &outcome{counts: make(map[string]int64)}
	})
	o.mu.Lock()
	o.counts[result]++
	o.total++
	o.mu.Unlock()
}

// Counter returns the current value of a counter, 0 if unknown.
func (m *Manager) Counter(topic, function string) int64 {
	m.mu.RLock()
	c, ok := m.counters[buildPath(topic, function)]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Snapshot returns every metric sorted by path.
func (m *Manager) Snapshot() []MetricSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []MetricSnapshot
	for path, t := range m.timings {
		t.mu.Lock()
		snap := TimingSnapshot{
			Count:  t.count,
			MinMs:  ms(t.min),
			MaxMs:  ms(t.max),
			LastMs: ms(t.last),
		}
		if t.count > 0 {
			snap.AvgMs = ms(t.total) / float64(t.count)
		}
		t.mu.Unlock()
		out = append(out, MetricSnapshot{Path: path, Type: TypeTiming, Data: snap})
	}
	for path, c := range m.counters {
		c.mu.Lock()
		out = append(out, MetricSnapshot{Path: path, Type: TypeCounter, Data: CounterSnapshot{Value: c.value}})
		c.mu.Unlock()
	}
	for path, sf := range m.successFail {
		sf.mu.Lock()
		snap := SuccessFailSnapshot{Success: sf.success, Failures: sf.failures, LastReason: sf.lastReason}
		if total := sf.success + sf.failures; total > 0 {
			snap.SuccessRate = float64(sf.success) / float64(total)
		}
		if len(sf.reasons) > 0 {
			snap.FailureReasons = copyCounts(sf.reasons)
		}
		sf.mu.Unlock()
		out = append(out, MetricSnapshot{Path: path, Type: TypeSuccessFail, Data: snap})
	}
	for path, o := range m.outcomes {
		o.mu.Lock()
		snap := OutcomeSnapshot{Outcomes: copyCounts(o.counts), Total: o.total}
		o.mu.Unlock()
		out = append(out, MetricSnapshot{Path: path, Type: TypeOutcome, Data: snap})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path == out[j].Path {
			return out[i].Type < out[j].Type
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
