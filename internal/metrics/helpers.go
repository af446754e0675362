package metrics

import "time"

// Package-level shortcuts over the singleton, meant to be dot-imported.

func MetricDuration(topic, function string, d time.Duration) {
	GetInstance().RecordDuration(topic, function, d)
}

// MetricSince records the time elapsed since start.
func MetricSince(topic, function string, start time.Time) {
	GetInstance().RecordDuration(topic, function, time.Since(start))
}

func MetricInc(topic, function string) {
	GetInstance().AddCounter(topic, function, 1)
}

func MetricAdd(topic, function string, delta int64) {
	GetInstance().AddCounter(topic, function, delta)
}

func MetricSuccess(topic, operation string) {
	GetInstance().RecordSuccess(topic, operation)
}

// MetricFailWithReason counts a failure under reason, e.g. a provider error
// kind or a rejection cause.
func MetricFailWithReason(topic, operation, reason string) {
	GetInstance().RecordFailure(topic, operation, reason)
}

// MetricOutcome counts one of several named results, e.g. "fallback".
func MetricOutcome(topic, operation, outcome string) {
	GetInstance().RecordOutcome(topic, operation, outcome)
}
