package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConfig configures the Sentry sink.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
}

// Sentry reports alerts to Sentry.
type Sentry struct {
	hub *sentry.Hub
}

// NewSentry initialises a Sentry client and returns a sink bound to it.
func NewSentry(cfg SentryConfig) (*Sentry, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	})
	if err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func sentryLevel(level Level) sentry.Level {
	switch level {
	case LevelError:
		return sentry.LevelError
	case LevelWarning:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}

// Notify implements Sink.
func (s *Sentry) Notify(_ context.Context, level Level, msg string, tags map[string]string) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(level))
		scope.SetTags(tags)
		s.hub.CaptureMessage(msg)
	})
}

// Capture implements Sink.
func (s *Sentry) Capture(_ context.Context, err error, tags map[string]string) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		s.hub.CaptureException(err)
	})
}

// Flush implements Sink.
func (s *Sentry) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}
