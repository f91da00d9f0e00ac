package sipi

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/TitoGod/scraping-colombia/pkg/fetch"
	"github.com/TitoGod/scraping-colombia/pkg/record"
)

// FetchOne searches a single request number and reads its current status
// from the case page. A search that never shows a status is not found.
func (s *Session) FetchOne(ctx context.Context, requestNumber string) fetch.Result {
	tabCtx, closeTab := s.tab(ctx)
	defer closeTab()

	pg := page{ctx: tabCtx, config: s.config}
	log := s.logger.With().Str("request_number", requestNumber).Logger()

	if err := pg.run(chromedp.Navigate(s.config.SourceURL)); err != nil {
		return fetch.Failed(fmt.Errorf("open search: %w", err))
	}
	if err := pg.click(selTrademarkSearch); err != nil {
		return fetch.Failed(fmt.Errorf("open search: %w", err))
	}
	if err := pg.waitVisible(selAppNumber); err != nil {
		return fetch.Failed(err)
	}
	if err := pg.setValue(selAppNumber, requestNumber); err != nil {
		return fetch.Failed(err)
	}
	if err := pg.click(selLookupButton); err != nil {
		return fetch.Failed(fmt.Errorf("submit lookup: %w", err))
	}

	status := s.readStatus(pg, 4)
	if status == "" && pg.ctx.Err() == nil && pg.evalBool(fmt.Sprintf(`document.querySelector(%q) !== null`, selLookupResult)) {
		log.Debug().Msg("Opening case from result list")
		if err := pg.click(selLookupResult); err != nil {
			return fetch.Failed(fmt.Errorf("open case: %w", err))
		}
		status = s.readStatus(pg, 5)
	}
	if err := pg.ctx.Err(); err != nil {
		return fetch.Failed(err)
	}

	if status == "" {
		log.Debug().Msg("No status shown for request number")
		return fetch.NoResults()
	}
	return fetch.Rows([]record.RawEntry{{RequestNumber: requestNumber, Status: status}})
}

// readStatus polls the status labels with a growing wait per attempt.
func (s *Session) readStatus(pg page, attempts int) string {
	for attempt := 1; attempt <= attempts; attempt++ {
		for _, sel := range statusSelectors {
			var text string
			pg.poll(func() bool {
				if !pg.visible(sel) {
					return false
				}
				text, _ = pg.evalString(textJS(sel))
				return text != ""
			}, time.Duration(attempt)*2*time.Second)
			if text != "" {
				return text
			}
		}
		if attempt < attempts {
			select {
			case <-pg.ctx.Done():
				return ""
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return ""
}
