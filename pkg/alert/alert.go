// Package alert forwards per-unit failures and run milestones to an external
// alerting service.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Sink receives alerts.
type Sink interface {
	// Notify sends a message.
	Notify(ctx context.Context, level Level, msg string, tags map[string]string)
	// Capture sends an error.
	Capture(ctx context.Context, err error, tags map[string]string)
	// Flush waits for buffered alerts to be delivered.
	Flush(timeout time.Duration) bool
}

// Log writes alerts to a zerolog logger. It is used when no alerting
// service is configured.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a log-only sink.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

// Notify implements Sink.
func (l *Log) Notify(_ context.Context, level Level, msg string, tags map[string]string) {
	var event *zerolog.Event
	switch level {
	case LevelError:
		event = l.logger.Error()
	case LevelWarning:
		event = l.logger.Warn()
	default:
		event = l.logger.Info()
	}
	for k, v := range tags {
		event = event.Str(k, v)
	}
	event.Bool("alert", true).Msg(msg)
}

// Capture implements Sink.
func (l *Log) Capture(_ context.Context, err error, tags map[string]string) {
	event := l.logger.Error().Err(err)
	for k, v := range tags {
		event = event.Str(k, v)
	}
	event.Bool("alert", true).Msg("Error captured")
}

// Flush implements Sink.
func (l *Log) Flush(time.Duration) bool {
	return true
}

// Recorded is one alert kept by a Recorder.
type Recorded struct {
	Level   Level
	Message string
	Err     error
	Tags    map[string]string
}

// Recorder keeps alerts in memory.
type Recorder struct {
	mu     sync.Mutex
	alerts []Recorded
}

// Notify implements Sink.
func (r *Recorder) Notify(_ context.Context, level Level, msg string, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, Recorded{Level: level, Message: msg, Tags: tags})
}

// Capture implements Sink.
func (r *Recorder) Capture(_ context.Context, err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, Recorded{Level: LevelError, Message: err.Error(), Err: err, Tags: tags})
}

// Flush implements Sink.
func (r *Recorder) Flush(time.Duration) bool {
	return true
}

// Alerts returns a copy of everything recorded.
func (r *Recorder) Alerts() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.alerts...)
}

// Count returns how many alerts of level were recorded.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.Level == level {
			n++
		}
	}
	return n
}
