// Package metrics records service and HTTP measurements for plantatlas.
//
// Names passed to a Collector are bare ("facility_list", "http_requests");
// the Prometheus collector adds the namespace. Labels are given as
// alternating key, value strings.
package metrics

import (
	"sync"
	"time"
)

// Collector is what the service, handler and middleware layers report to.
type Collector interface {
	IncrementCounter(name string, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
	StartTimer(name string) Timer
}

// Timer measures one operation. Stop may be called more than once; only the
// first call records and every call returns the same duration.
type Timer interface {
	Stop() time.Duration
}

// stopwatch freezes the elapsed time on its first stop and runs onStop once
// with it.
type stopwatch struct {
	start   time.Time
	once    sync.Once
	elapsed time.Duration
	onStop  func(time.Duration)
}

func newStopwatch(onStop func(time.Duration)) *stopwatch {
	return &stopwatch{start: time.Now(), onStop: onStop}
}

func (s *stopwatch) Stop() time.Duration {
	s.once.Do(func() {
		s.elapsed = time.Since(s.start)
		if s.onStop != nil {
			s.onStop(s.elapsed)
		}
	})
	return s.elapsed
}

// NoOpCollector discards every measurement. Timers still report elapsed time
// so callers that log durations keep working when metrics are disabled.
type NoOpCollector struct{}

// NewNoOpCollector returns a collector that records nothing.
func NewNoOpCollector() Collector {
	return NoOpCollector{}
}

func (NoOpCollector) IncrementCounter(string, ...string)          {}
func (NoOpCollector) RecordHistogram(string, float64, ...string) {}
func (NoOpCollector) RecordGauge(string, float64, ...string)     {}

func (NoOpCollector) StartTimer(string) Timer {
	return newStopwatch(nil)
}
