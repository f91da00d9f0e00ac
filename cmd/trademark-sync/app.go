package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/TitoGod/scraping-colombia/internal/sipi"
	"github.com/TitoGod/scraping-colombia/pkg/alert"
	"github.com/TitoGod/scraping-colombia/pkg/cache"
	"github.com/TitoGod/scraping-colombia/pkg/config"
	"github.com/TitoGod/scraping-colombia/pkg/drift"
	"github.com/TitoGod/scraping-colombia/pkg/fetch"
	"github.com/TitoGod/scraping-colombia/pkg/logging"
	"github.com/TitoGod/scraping-colombia/pkg/metrics"
	"github.com/TitoGod/scraping-colombia/pkg/normalize"
	"github.com/TitoGod/scraping-colombia/pkg/ratelimit"
	"github.com/TitoGod/scraping-colombia/pkg/report"
	"github.com/TitoGod/scraping-colombia/pkg/retry"
	"github.com/TitoGod/scraping-colombia/pkg/scheduler"
	"github.com/TitoGod/scraping-colombia/pkg/store"
)

// storeOpener connects to the record store.
type storeOpener func(ctx context.Context, cfg store.Config, logger zerolog.Logger) (store.Store, func(), error)

func openPostgres(ctx context.Context, cfg store.Config, logger zerolog.Logger) (store.Store, func(), error) {
	pg, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

// app holds the state shared by the commands of one invocation.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger zerolog.Logger
	stdout io.Writer
	stderr io.Writer

	envFiles  []string
	openStore storeOpener
	sessions  func(guard fetch.Guard) scheduler.FetcherFactory
	redis     *redis.Client
}

func newApp(stdout, stderr io.Writer) *app {
	a := &app{
		v:         config.NewViper(),
		logger:    zerolog.Nop(),
		stdout:    stdout,
		stderr:    stderr,
		openStore: openPostgres,
	}
	a.sessions = a.browserSessions
	return a
}

// load reads the configuration and sets up logging.
func (a *app) load() error {
	if err := config.LoadDotEnv(a.envFiles...); err != nil {
		return &config.Error{Keys: []string{"env-file"}, Reason: err.Error()}
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	cfg.Log.Output = a.stderr
	a.cfg = cfg
	a.logger = logging.Setup(cfg.Log).With().Str("mode", string(cfg.Mode)).Logger()
	return nil
}

func (a *app) component(name string) zerolog.Logger {
	return a.logger.With().Str("component", name).Logger()
}

func (a *app) retryPolicy(operation string) *retry.Policy {
	return retry.New(operation, retry.Config{
		MaxAttempts:       a.cfg.RetryAttempts,
		InitialBackoff:    a.cfg.RetryBase,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2,
		Jitter:            a.cfg.RetryJitter,
	}, a.component("retry"))
}

func (a *app) normalizer() *normalize.Normalizer {
	return normalize.New(normalize.Config{
		LogoBaseURL: a.cfg.LogoBaseURL,
		Country:     a.cfg.Database.Country,
	}, a.component("normalize"))
}

// connectRedis opens the optional Redis connection. An unreachable Redis
// disables the shared guard and the lookup cache instead of failing.
func (a *app) connectRedis(ctx context.Context) {
	if a.cfg.RedisURL == "" || a.redis != nil {
		return
	}

	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		opts = &redis.Options{Addr: a.cfg.RedisURL}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.logger.Warn().Err(err).Msg("Redis unavailable, running without source guard and lookup cache")
		client.Close()
		return
	}
	a.logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	a.redis = client
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
}

func (a *app) guard() fetch.Guard {
	if a.redis == nil {
		return nil
	}
	return ratelimit.NewGuard(a.redis, ratelimit.DefaultConfig(), a.component("ratelimit"))
}

func (a *app) lookupCache() drift.LookupCache {
	if a.redis == nil {
		return nil
	}
	return cache.NewManager(a.redis, a.cfg.LookupCacheTTL)
}

func (a *app) alerts() alert.Sink {
	if a.cfg.SentryDSN == "" {
		return alert.NewLog(a.component("alert"))
	}
	sink, err := alert.NewSentry(alert.SentryConfig{
		DSN:         a.cfg.SentryDSN,
		Environment: a.cfg.Environment,
		Release:     "trademark-sync@" + version,
	})
	if err != nil {
		a.logger.Warn().Err(err).Msg("Sentry unavailable, alerts go to the log only")
		return alert.NewLog(a.component("alert"))
	}
	return sink
}

func (a *app) reportSink() (report.Sink, error) {
	if a.cfg.S3.Bucket == "" {
		return report.LocalSink{}, nil
	}
	return report.NewS3Sink(a.cfg.S3, a.component("report"))
}

// browserSessions opens one Chrome session per worker, wrapped with pacing,
// the shared guard and cap enforcement.
func (a *app) browserSessions(guard fetch.Guard) scheduler.FetcherFactory {
	return func(ctx context.Context) (fetch.Fetcher, func() error, error) {
		session, err := sipi.NewSession(ctx, sipi.Config{
			SourceURL:    a.cfg.SourceURL,
			Headless:     a.cfg.Headless,
			CapThreshold: a.cfg.CapThreshold,
		}, a.component("sipi"))
		if err != nil {
			return nil, nil, err
		}

		fetchCfg := fetch.DefaultConfig()
		fetchCfg.CapThreshold = a.cfg.CapThreshold
		fetchCfg.RequestsPerSecond = a.cfg.RequestsPerSecond
		client, err := fetch.NewClient(session, guard, fetchCfg, a.component("fetch"))
		if err != nil {
			session.Close()
			return nil, nil, fmt.Errorf("create fetch client: %w", err)
		}
		return client, session.Close, nil
	}
}

// serveMetrics starts the /metrics server when configured and returns its
// shutdown function.
func (a *app) serveMetrics() func() {
	if a.cfg.MetricsAddr == "" {
		return func() {}
	}
	srv, err := metrics.Listen(a.cfg.MetricsAddr, a.component("metrics"))
	if err != nil {
		a.logger.Warn().Err(err).Str("addr", a.cfg.MetricsAddr).Msg("Metrics server disabled")
		return func() {}
	}
	go srv.Serve()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// workerEnv pins the settings a worker process must share with its parent,
// including values that came from flags.
func (a *app) workerEnv() []string {
	c := a.cfg
	return []string{
		fmt.Sprintf("INNER_CONCURRENCY=%d", c.InnerConcurrency),
		fmt.Sprintf("RETRY_ATTEMPTS=%d", c.RetryAttempts),
		fmt.Sprintf("RETRY_BASE=%s", c.RetryBase),
		fmt.Sprintf("RETRY_JITTER=%s", c.RetryJitter),
		fmt.Sprintf("CAP_THRESHOLD=%d", c.CapThreshold),
		fmt.Sprintf("REQUESTS_PER_SECOND=%g", c.RequestsPerSecond),
		fmt.Sprintf("ARTIFACTS_DIR=%s", c.ArtifactsDir),
		fmt.Sprintf("SOURCE_URL=%s", c.SourceURL),
		fmt.Sprintf("HEADLESS=%t", c.Headless),
		fmt.Sprintf("LOG_LEVEL=%s", c.Log.Level),
		fmt.Sprintf("LOG_PRETTY=%t", c.Log.Pretty),
		"METRICS_ADDR=",
		"LOG_FILE=",
	}
}
