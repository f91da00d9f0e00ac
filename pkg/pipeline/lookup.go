package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/TitoGod/scraping-colombia/pkg/fetch"
	"github.com/TitoGod/scraping-colombia/pkg/scheduler"
)

// lazyLookup opens the lookup session on first use, so a run without
// drift never starts a browser.
type lazyLookup struct {
	open   scheduler.FetcherFactory
	logger zerolog.Logger

	once    sync.Once
	fetcher fetch.Fetcher
	close   func() error
	err     error
}

func (l *lazyLookup) FetchOne(ctx context.Context, requestNumber string) fetch.Result {
	l.once.Do(func() {
		if l.open == nil {
			l.err = errNoLookups
			return
		}
		l.fetcher, l.close, l.err = l.open(ctx)
		if l.err != nil {
			l.logger.Error().Err(l.err).Msg("Failed to open lookup session")
		}
	})
	if l.err != nil {
		return fetch.Failed(l.err)
	}
	return l.fetcher.FetchOne(ctx, requestNumber)
}

// Close releases the session if one was opened.
func (l *lazyLookup) Close() {
	if l.close == nil {
		return
	}
	if err := l.close(); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to close lookup session")
	}
}
