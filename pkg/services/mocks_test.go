package services

import (
	"context"
	"sync"
	"time"

	"github.com/TFMV/plantatlas/pkg/models"
)

// mockRecordRepo implements repositories.RecordRepository
type mockRecordRepo struct {
	path        string
	loadAllFunc func(ctx context.Context) (*models.RecordSet, error)
	versionFunc func(ctx context.Context) (models.SourceVersion, error)

	mu    sync.Mutex
	loads int
}

func (m *mockRecordRepo) LoadAll(ctx context.Context) (*models.RecordSet, error) {
	m.mu.Lock()
	m.loads++
	m.mu.Unlock()
	return m.loadAllFunc(ctx)
}

func (m *mockRecordRepo) Version(ctx context.Context) (models.SourceVersion, error) {
	return m.versionFunc(ctx)
}

func (m *mockRecordRepo) Path() string {
	return m.path
}

func (m *mockRecordRepo) Close() error {
	return nil
}

func (m *mockRecordRepo) loadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

// mockLogger implements Logger
type mockLogger struct {
	debugFunc func(msg string, keysAndValues ...interface{})
	infoFunc  func(msg string, keysAndValues ...interface{})
	warnFunc  func(msg string, keysAndValues ...interface{})
	errorFunc func(msg string, keysAndValues ...interface{})
}

func (m *mockLogger) Debug(msg string, keysAndValues ...interface{}) {
	if m.debugFunc != nil {
		m.debugFunc(msg, keysAndValues...)
	}
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	if m.infoFunc != nil {
		m.infoFunc(msg, keysAndValues...)
	}
}

func (m *mockLogger) Warn(msg string, keysAndValues ...interface{}) {
	if m.warnFunc != nil {
		m.warnFunc(msg, keysAndValues...)
	}
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	if m.errorFunc != nil {
		m.errorFunc(msg, keysAndValues...)
	}
}

// mockMetricsCollector implements MetricsCollector
type mockMetricsCollector struct {
	mu       sync.Mutex
	counters map[string]int

	recordHistogramFunc func(name string, value float64, labels ...string)
	recordGaugeFunc     func(name string, value float64, labels ...string)
	startTimerFunc      func(name string) Timer
}

func (m *mockMetricsCollector) IncrementCounter(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]int)
	}
	m.counters[name]++
}

func (m *mockMetricsCollector) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *mockMetricsCollector) RecordHistogram(name string, value float64, labels ...string) {
	if m.recordHistogramFunc != nil {
		m.recordHistogramFunc(name, value, labels...)
	}
}

func (m *mockMetricsCollector) RecordGauge(name string, value float64, labels ...string) {
	if m.recordGaugeFunc != nil {
		m.recordGaugeFunc(name, value, labels...)
	}
}

func (m *mockMetricsCollector) StartTimer(name string) Timer {
	if m.startTimerFunc != nil {
		return m.startTimerFunc(name)
	}
	return &mockTimer{}
}

// mockTimer implements Timer
type mockTimer struct{}

func (m *mockTimer) Stop() time.Duration {
	return 0
}
