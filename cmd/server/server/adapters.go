package server

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/plantatlas/pkg/handlers"
	"github.com/TFMV/plantatlas/pkg/infrastructure/metrics"
	"github.com/TFMV/plantatlas/pkg/services"
)

// loggerAdapter adapts zerolog to the handlers/services Logger interface.
type loggerAdapter struct {
	logger zerolog.Logger
}

func newLoggerAdapter(logger zerolog.Logger, component string) *loggerAdapter {
	return &loggerAdapter{logger: logger.With().Str("component", component).Logger()}
}

func (l *loggerAdapter) Debug(msg string, keysAndValues ...interface{}) {
	l.write(l.logger.Debug(), msg, keysAndValues)
}

func (l *loggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	l.write(l.logger.Info(), msg, keysAndValues)
}

func (l *loggerAdapter) Warn(msg string, keysAndValues ...interface{}) {
	l.write(l.logger.Warn(), msg, keysAndValues)
}

func (l *loggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	l.write(l.logger.Error(), msg, keysAndValues)
}

func (l *loggerAdapter) write(event *zerolog.Event, msg string, keysAndValues []interface{}) {
	if event == nil {
		return
	}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}

		switch v := keysAndValues[i+1].(type) {
		case string:
			event.Str(key, v)
		case int:
			event.Int(key, v)
		case int64:
			event.Int64(key, v)
		case float64:
			event.Float64(key, v)
		case bool:
			event.Bool(key, v)
		case error:
			event.AnErr(key, v)
		case time.Duration:
			event.Dur(key, v)
		case time.Time:
			event.Time(key, v)
		case fmt.Stringer:
			event.Stringer(key, v)
		default:
			event.Interface(key, v)
		}
	}
	if len(keysAndValues)%2 == 1 {
		event.Interface("extra", keysAndValues[len(keysAndValues)-1])
	}
	event.Msg(msg)
}

// handlerMetricsAdapter adapts metrics.Collector to handlers.MetricsCollector.
type handlerMetricsAdapter struct {
	collector metrics.Collector
}

func (m *handlerMetricsAdapter) IncrementCounter(name string, labels ...string) {
	m.collector.IncrementCounter(name, labels...)
}

func (m *handlerMetricsAdapter) RecordHistogram(name string, value float64, labels ...string) {
	m.collector.RecordHistogram(name, value, labels...)
}

func (m *handlerMetricsAdapter) RecordGauge(name string, value float64, labels ...string) {
	m.collector.RecordGauge(name, value, labels...)
}

func (m *handlerMetricsAdapter) StartTimer(name string) handlers.Timer {
	return m.collector.StartTimer(name)
}

// serviceMetricsAdapter adapts metrics.Collector to services.MetricsCollector.
type serviceMetricsAdapter struct {
	collector metrics.Collector
}

func (m *serviceMetricsAdapter) IncrementCounter(name string, labels ...string) {
	m.collector.IncrementCounter(name, labels...)
}

func (m *serviceMetricsAdapter) RecordHistogram(name string, value float64, labels ...string) {
	m.collector.RecordHistogram(name, value, labels...)
}

func (m *serviceMetricsAdapter) RecordGauge(name string, value float64, labels ...string) {
	m.collector.RecordGauge(name, value, labels...)
}

func (m *serviceMetricsAdapter) StartTimer(name string) services.Timer {
	return m.collector.StartTimer(name)
}
