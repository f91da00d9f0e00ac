package sipi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/TitoGod/scraping-colombia/pkg/fetch"
	"github.com/TitoGod/scraping-colombia/pkg/partition"
	"github.com/TitoGod/scraping-colombia/pkg/record"
)

// ErrNoResultsSignal is returned when a search rendered neither results
// nor the empty-search help.
var ErrNoResultsSignal = errors.New("search rendered no result signal")

// FetchPartition runs the advanced search for p and follows every page.
// Any failure after the first page discards the partition.
func (s *Session) FetchPartition(ctx context.Context, p partition.Partition) fetch.Result {
	tabCtx, closeTab := s.tab(ctx)
	defer closeTab()

	pg := page{ctx: tabCtx, config: s.config}
	log := s.logger.With().Str("partition", p.ID()).Logger()

	if err := s.openAdvancedSearch(pg); err != nil {
		return fetch.Failed(fmt.Errorf("open search: %w", err))
	}
	if err := s.selectStatuses(pg, p.Mode); err != nil {
		return fetch.Failed(fmt.Errorf("select statuses: %w", err))
	}
	if p.IsCategory() {
		if err := pg.setValue(selNiceClass, strconv.Itoa(p.NizaClass)); err != nil {
			return fetch.Failed(err)
		}
	}
	if err := pg.setValue(selDateStart, p.From.Format(partition.SourceDateLayout)); err != nil {
		return fetch.Failed(err)
	}
	if err := pg.setValue(selDateEnd, p.To.Format(partition.SourceDateLayout)); err != nil {
		return fetch.Failed(err)
	}
	if err := pg.click(selSearchButton); err != nil {
		return fetch.Failed(fmt.Errorf("submit search: %w", err))
	}

	found, err := s.awaitResults(pg, selResultCount)
	if err != nil {
		return fetch.Failed(err)
	}
	if !found {
		log.Debug().Msg("Search matched nothing")
		return fetch.NoResults()
	}

	header, _ := pg.evalString(textJS(selResultCount))
	if count := parseCount(header); count >= s.config.CapThreshold {
		return fetch.Capped(count)
	}

	s.configureView(pg)

	rows, err := s.collectPages(pg, log)
	if err != nil {
		return fetch.Failed(err)
	}
	return fetch.Rows(rows)
}

func (s *Session) openAdvancedSearch(pg page) error {
	if err := pg.run(chromedp.Navigate(s.config.SourceURL)); err != nil {
		return err
	}
	if err := pg.click(selTrademarkSearch); err != nil {
		return err
	}
	if err := pg.click(selAdvancedSearch); err != nil {
		return err
	}
	return pg.waitVisible(selDateStart)
}

// selectStatuses ticks every status on the live or not-live side.
func (s *Session) selectStatuses(pg page, mode partition.Mode) error {
	live := 0
	if mode == partition.ModeInactive {
		live = 1
	}
	for _, sel := range []string{
		selStatusDialog,
		fmt.Sprintf(selStatusLiveFmt, live),
		selStatusSearch,
		selStatusAll,
		selStatusSelect,
	} {
		if err := pg.click(sel); err != nil {
			return err
		}
	}
	return pg.waitIdle()
}

// awaitResults waits for resultSel or the case panel. When neither shows,
// the visible search help means the query matched nothing.
func (s *Session) awaitResults(pg page, resultSel string) (bool, error) {
	ok := pg.poll(func() bool {
		return pg.visible(resultSel) || pg.visible(selCaseData)
	}, s.config.ResultsTimeout)
	if ok {
		return true, nil
	}
	if err := pg.ctx.Err(); err != nil {
		return false, err
	}
	if pg.visible(selNoResults) {
		return false, nil
	}
	return false, ErrNoResultsSignal
}

// configureView switches to the filing date column and the largest page.
// Failures leave the default layout, which parseRow also understands.
func (s *Session) configureView(pg page) {
	for step := 0; step < 2; step++ {
		if !pg.evalBool(configureViewJS(step)) {
			continue
		}
		time.Sleep(time.Second)
		if err := pg.waitIdle(); err != nil {
			s.logger.Debug().Err(err).Int("step", step).Msg("Result view change did not settle")
			return
		}
		_ = pg.waitVisible(selResultsTable)
	}
}

func (s *Session) collectPages(pg page, log zerolog.Logger) ([]record.RawEntry, error) {
	var rows []record.RawEntry

	for current := 1; ; current++ {
		if err := pg.waitVisible(selResultsTable); err != nil {
			return nil, fmt.Errorf("page %d: %w", current, err)
		}

		data, err := s.readPage(pg)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", current, err)
		}
		before := len(rows)
		for _, r := range data.Rows {
			if entry, ok := parseRow(data.Header, r); ok {
				rows = append(rows, entry)
			}
		}
		log.Debug().Int("page", current).Int("rows", len(rows)-before).Msg("Page extracted")

		href, err := pg.evalString(nextPageJS(current))
		if err != nil {
			return nil, fmt.Errorf("page %d: pager: %w", current, err)
		}
		if href == "" {
			return rows, nil
		}
		target, argument, ok := parsePostBack(href)
		if !ok {
			return nil, fmt.Errorf("page %d: unrecognised pager link %q", current, href)
		}
		if err := pg.run(chromedp.Evaluate(postBackJS(target, argument), nil)); err != nil {
			return nil, fmt.Errorf("page %d: postback: %w", current, err)
		}
		next := current + 1
		if !pg.poll(func() bool { return pg.evalBool(onPageJS(next)) }, s.config.ActionTimeout) {
			if err := pg.ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("page %d never rendered", next)
		}
		if err := pg.waitIdle(); err != nil {
			return nil, fmt.Errorf("page %d: %w", next, err)
		}
	}
}

func (s *Session) readPage(pg page) (pageData, error) {
	var data pageData
	if err := pg.run(chromedp.Evaluate(extractPageJS, &data)); err != nil {
		return pageData{}, err
	}
	return data, nil
}
