package service

import (
	"sync"
	"time"
)

// MetricsCollector tracks timings and outcome counts per operation.
type MetricsCollector struct {
	mu sync.RWMutex

	registration operationStats
	casting      operationStats
	counting     operationStats

	outcomes map[CastState]int
}

type operationStats struct {
	first time.Time
	last  time.Time
	count int
	total time.Duration
}

func (s *operationStats) record(started time.Time, d time.Duration) {
	if s.count == 0 {
		s.first = started
	}
	s.count++
	s.last = started.Add(d)
	s.total += d
}

func (s *operationStats) snapshot() OperationMetrics {
	return OperationMetrics{
		StartTime:      s.first,
		EndTime:        s.last,
		Count:          s.count,
		ProcessingTime: s.total.Milliseconds(),
	}
}

// OperationMetrics contains timing information for an operation.
type OperationMetrics struct {
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Count          int       `json:"count"`
	ProcessingTime int64     `json:"processing_time_ms"`
}

// MetricsResponse provides the metrics for all operations.
type MetricsResponse struct {
	Registration OperationMetrics  `json:"registration"`
	Casting      OperationMetrics  `json:"casting"`
	Counting     OperationMetrics  `json:"counting"`
	Outcomes     map[CastState]int `json:"outcomes"`
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{outcomes: make(map[CastState]int)}
}

func (mc *MetricsCollector) RecordRegistration(started time.Time, d time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.registration.record(started, d)
}

// RecordCast counts a finished attempt. A nil outcome means the caller
// made a mistake and is only timed.
func (mc *MetricsCollector) RecordCast(started time.Time, d time.Duration, outcome *CastOutcome) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.casting.record(started, d)
	if outcome != nil {
		mc.outcomes[outcome.State]++
	}
}

func (mc *MetricsCollector) RecordCounting(started time.Time, d time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.counting.record(started, d)
}

func (mc *MetricsCollector) GetMetrics() MetricsResponse {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	outcomes := make(map[CastState]int, len(mc.outcomes))
	for k, v := range mc.outcomes {
		outcomes[k] = v
	}

	return MetricsResponse{
		Registration: mc.registration.snapshot(),
		Casting:      mc.casting.snapshot(),
		Counting:     mc.counting.snapshot(),
		Outcomes:     outcomes,
	}
}

// Reset clears all metrics.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.registration = operationStats{}
	mc.casting = operationStats{}
	mc.counting = operationStats{}
	mc.outcomes = make(map[CastState]int)
}
