// Package sipi drives the Colombian trademark registry's web search through
// a headless Chrome session.
//
// A Session implements fetch.Fetcher. Every call runs in its own browser
// tab, so one Session can serve the concurrent fetches of a worker.
package sipi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// DefaultUserAgent is presented to the registry.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36"

// ErrElementNotReady is returned when an element never became usable.
var ErrElementNotReady = errors.New("element not ready")

// Config holds the browser session settings.
type Config struct {
	SourceURL string
	Headless  bool
	UserAgent string

	// ActionTimeout bounds a single wait or click.
	ActionTimeout time.Duration

	// ResultsTimeout bounds the wait for a search to render.
	ResultsTimeout time.Duration

	// CapThreshold is the reported count at which a search is not paginated.
	CapThreshold int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		SourceURL:      "https://sipi.sic.gov.co/sipi/Extra/Default.aspx",
		Headless:       true,
		UserAgent:      DefaultUserAgent,
		ActionTimeout:  2 * time.Minute,
		ResultsTimeout: 30 * time.Second,
		CapThreshold:   2000,
	}
}

// Session is one browser process.
type Session struct {
	config        Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        zerolog.Logger
}

// NewSession launches Chrome. Close must be called to release it.
func NewSession(ctx context.Context, cfg Config, logger zerolog.Logger) (*Session, error) {
	def := DefaultConfig()
	if cfg.SourceURL == "" {
		cfg.SourceURL = def.SourceURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = def.ActionTimeout
	}
	if cfg.ResultsTimeout <= 0 {
		cfg.ResultsTimeout = def.ResultsTimeout
	}
	if cfg.CapThreshold <= 0 {
		cfg.CapThreshold = def.CapThreshold
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(cfg.UserAgent),
	)

	// The browser outlives ctx; only Close tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Info().Bool("headless", cfg.Headless).Msg("Browser session started")

	return &Session{
		config:        cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

// Close shuts the browser down.
func (s *Session) Close() error {
	s.browserCancel()
	s.allocCancel()
	s.logger.Debug().Msg("Browser session closed")
	return nil
}

// tab opens a new tab whose lifetime follows ctx.
func (s *Session) tab(ctx context.Context) (context.Context, context.CancelFunc) {
	tabCtx, cancel := chromedp.NewContext(s.browserCtx)
	stop := context.AfterFunc(ctx, cancel)
	return tabCtx, func() {
		stop()
		cancel()
	}
}

// page wraps the browser primitives used by the search flows.
type page struct {
	ctx    context.Context
	config Config
}

func (p page) run(actions ...chromedp.Action) error {
	return chromedp.Run(p.ctx, actions...)
}

// evalBool evaluates a boolean expression, treating evaluation errors as
// false. Errors are expected while a postback reloads the document.
func (p page) evalBool(expr string) bool {
	var ok bool
	if err := p.run(chromedp.Evaluate(expr, &ok)); err != nil {
		return false
	}
	return ok
}

func (p page) evalString(expr string) (string, error) {
	var out string
	err := p.run(chromedp.Evaluate(expr, &out))
	return out, err
}

// poll evaluates cond every interval until it holds or timeout elapses.
func (p page) poll(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-p.ctx.Done():
			return false
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (p page) visible(selector string) bool {
	return p.evalBool(visibleJS(selector))
}

// waitVisible waits for selector to render.
func (p page) waitVisible(selector string) error {
	if !p.poll(func() bool { return p.visible(selector) }, p.config.ActionTimeout) {
		if err := p.ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrElementNotReady, selector)
	}
	return nil
}

// waitIdle waits for the loading overlay to disappear.
func (p page) waitIdle() error {
	if !p.poll(func() bool { return !p.visible(selOverlay) }, p.config.ActionTimeout) {
		if err := p.ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: loading overlay still shown", ErrElementNotReady)
	}
	return nil
}

// click waits for selector and the overlay, then clicks. A click that
// lands on a re-rendered element is retried.
func (p page) click(selector string) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = p.waitVisible(selector); err != nil {
			return err
		}
		if err = p.waitIdle(); err != nil {
			return err
		}
		clickCtx, cancel := context.WithTimeout(p.ctx, p.config.ActionTimeout)
		err = chromedp.Run(clickCtx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
		cancel()
		if err == nil {
			return nil
		}
		if p.ctx.Err() != nil {
			return p.ctx.Err()
		}
	}
	return fmt.Errorf("click %s: %w", selector, err)
}

// setValue assigns an input value, reporting a missing element.
func (p page) setValue(selector, value string) error {
	if !p.evalBool(setValueJS(selector, value)) {
		return fmt.Errorf("%w: %s", ErrElementNotReady, selector)
	}
	return nil
}
