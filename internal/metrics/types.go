package metrics

import (
	"sync"
	"time"
)

// MetricType tags a snapshot.
type MetricType string

const (
	TypeTiming      MetricType = "timing"
	TypeCounter     MetricType = "counter"
	TypeSuccessFail MetricType = "success_fail"
	TypeOutcome     MetricType = "outcome"
)

type timing struct {
	mu                    sync.Mutex
	count                 int64
	total, min, max, last time.Duration
}

type counter struct {
	mu    sync.Mutex
	value int64
}

type successFail struct {
	mu         sync.Mutex
	success    int64
	failures   int64
	reasons    map[string]int64
	lastReason string
}

type outcome struct {
	mu     sync.Mutex
	counts map[string]int64
	total  int64
}

// MetricSnapshot is a point-in-time view of one metric path. Data is one of
// the *Snapshot types below.
type MetricSnapshot struct {
	Path string      `json:"path"`
	Type MetricType  `json:"type"`
	Data interface{} `json:"data"`
}

type TimingSnapshot struct {
	Count  int64   `json:"count"`
	AvgMs  float64 `json:"avgMs"`
	MinMs  float64 `json:"minMs"`
	MaxMs  float64 `json:"maxMs"`
	LastMs float64 `json:"lastMs"`
}

type CounterSnapshot struct {
	Value int64 `json:"value"`
}

type SuccessFailSnapshot struct {
	Success        int64            `json:"success"`
	Failures       int64            `json:"failures"`
	SuccessRate    float64          `json:"successRate"`
	FailureReasons map[string]int64 `json:"failureReasons,omitempty"`
	LastReason     string           `json:"lastReason,omitempty"`
}

type OutcomeSnapshot struct {
	Outcomes map[string]int64 `json:"outcomes"`
	Total    int64            `json:"total"`
}
