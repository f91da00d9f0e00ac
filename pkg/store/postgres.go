package store

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/TitoGod/scraping-colombia/pkg/record"
)

// fetchChunk bounds the key array sent in one lookup query.
const fetchChunk = 5000

// Config holds the connection settings.
type Config struct {
	User     string
	Password string
	Host     string
	Port     string
	Database string
	// Table may be schema-qualified ("public.trademarks").
	Table   string
	Country string
	// MaxConns caps the pool; zero keeps the pgxpool default.
	MaxConns int32
}

// DSN renders the connection string.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	return u.String()
}

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool    *pgxpool.Pool
	table   string
	country string
	logger  zerolog.Logger
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewPostgres(pool, cfg.Table, cfg.Country, logger), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool, table, country string, logger zerolog.Logger) *Postgres {
	return &Postgres{
		pool:    pool,
		table:   pgx.Identifier(strings.Split(table, ".")).Sanitize(),
		country: country,
		logger:  logger,
	}
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// withTx runs fn in a transaction, committing on success and rolling back
// on error or panic.
func (p *Postgres) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				p.logger.Error().Err(rbErr).AnErr("original_error", err).Msg("Transaction rollback failed")
			}
			return
		}
		err = tx.Commit(ctx)
	}()

	return fn(tx)
}

// sendBatch queues one statement per row and executes them in a single
// round trip inside tx.
func sendBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch) error {
	results := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("statement %d: %w", i, err)
		}
	}
	return results.Close()
}

// FetchActiveKeys implements Store.
func (p *Postgres) FetchActiveKeys(ctx context.Context) (map[string]struct{}, error) {
	active := make([]string, len(record.ActiveStatuses))
	for i, s := range record.ActiveStatuses {
		active[i] = string(s)
	}

	query := fmt.Sprintf(`SELECT request_number FROM %s WHERE status = ANY($1) AND badger_country = $2`, p.table)
	rows, err := p.pool.Query(ctx, query, active, p.country)
	if err != nil {
		return nil, fmt.Errorf("fetch active keys: %w", err)
	}

	keys := make(map[string]struct{})
	var key string
	if _, err := pgx.ForEachRow(rows, []any{&key}, func() error {
		keys[key] = struct{}{}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("fetch active keys: %w", err)
	}

	p.logger.Info().Int("count", len(keys)).Msg("Fetched active keys")
	return keys, nil
}

// FetchByKeys implements Store.
func (p *Postgres) FetchByKeys(ctx context.Context, keys []string) ([]record.Record, error) {
	query := fmt.Sprintf(`SELECT request_number, registry_number, denomination, logo_url,
		filing_date, expiration_date, status, holder, niza_class, gazette_number
		FROM %s WHERE badger_country = $1 AND request_number = ANY($2)`, p.table)

	out := make([]record.Record, 0, len(keys))
	for start := 0; start < len(keys); start += fetchChunk {
		end := min(start+fetchChunk, len(keys))
		rows, err := p.pool.Query(ctx, query, p.country, keys[start:end])
		if err != nil {
			return nil, fmt.Errorf("fetch records: %w", err)
		}
		chunk, err := pgx.CollectRows(rows, scanRecord)
		if err != nil {
			return nil, fmt.Errorf("fetch records: %w", err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func scanRecord(row pgx.CollectableRow) (record.Record, error) {
	var r record.Record
	var registry, denomination, logoURL, status, holder, niza, gazette *string
	err := row.Scan(&r.RequestNumber, &registry, &denomination, &logoURL,
		&r.FilingDate, &r.ExpirationDate, &status, &holder, &niza, &gazette)
	if err != nil {
		return r, err
	}
	r.RegistryNumber = deref(registry)
	r.Denomination = deref(denomination)
	r.LogoURL = deref(logoURL)
	r.Status = record.Status(deref(status))
	r.StatusMapped = true
	r.Holder = deref(holder)
	r.NizaClass = deref(niza)
	r.GazetteNumber = deref(gazette)
	return r, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nullable maps "" to NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// InsertBatch implements Store. Each row gets a fresh uuid.
func (p *Postgres) InsertBatch(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, request_number, registry_number, denomination,
		logo_url, logo, filing_date, expiration_date, status, holder, niza_class,
		gazette_number, updated_at, badger_country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`, p.table)

	b := &pgx.Batch{}
	for _, r := range records {
		b.Queue(query, uuid.NewString(), r.RequestNumber, nullable(r.RegistryNumber), nullable(r.Denomination),
			nullable(r.LogoURL), nullable(r.Logo), r.FilingDate, r.ExpirationDate, nullable(string(r.Status)),
			nullable(r.Holder), nullable(r.NizaClass), nullable(r.GazetteNumber), r.UpdatedAt, p.countryOf(r))
	}

	err := p.withTx(ctx, func(tx pgx.Tx) error { return sendBatch(ctx, tx, b) })
	observe("insert", len(records), err)
	if err != nil {
		return fmt.Errorf("%w: insert %d records: %w", ErrPersistence, len(records), err)
	}

	p.logger.Info().Int("count", len(records)).Msg("Inserted records")
	return nil
}

// UpdateBatch implements Store.
func (p *Postgres) UpdateBatch(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`UPDATE %s SET registry_number = $2, denomination = $3, logo_url = $4,
		logo = $5, filing_date = $6, expiration_date = $7, status = $8, holder = $9,
		niza_class = $10, gazette_number = $11, updated_at = $12
		WHERE request_number = $1 AND badger_country = $13`, p.table)

	b := &pgx.Batch{}
	for _, r := range records {
		b.Queue(query, r.RequestNumber, nullable(r.RegistryNumber), nullable(r.Denomination),
			nullable(r.LogoURL), nullable(r.Logo), r.FilingDate, r.ExpirationDate, nullable(string(r.Status)),
			nullable(r.Holder), nullable(r.NizaClass), nullable(r.GazetteNumber), r.UpdatedAt, p.countryOf(r))
	}

	err := p.withTx(ctx, func(tx pgx.Tx) error { return sendBatch(ctx, tx, b) })
	observe("update", len(records), err)
	if err != nil {
		return fmt.Errorf("%w: update %d records: %w", ErrPersistence, len(records), err)
	}

	p.logger.Info().Int("count", len(records)).Msg("Updated records")
	return nil
}

// UpdateStatusBatch implements Store. Updates without a status are
// dropped; a zero UpdatedAt becomes now.
func (p *Postgres) UpdateStatusBatch(ctx context.Context, updates []record.StatusUpdate) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = $2
		WHERE request_number = $3 AND badger_country = $4`, p.table)

	now := time.Now().UTC()
	b := &pgx.Batch{}
	for _, u := range updates {
		if u.Status == "" {
			continue
		}
		at := u.UpdatedAt
		if at.IsZero() {
			at = now
		}
		b.Queue(query, string(u.Status), at, u.RequestNumber, p.country)
	}
	if b.Len() == 0 {
		p.logger.Warn().Msg("No status updates with a valid status")
		return nil
	}

	err := p.withTx(ctx, func(tx pgx.Tx) error { return sendBatch(ctx, tx, b) })
	observe("update_status", b.Len(), err)
	if err != nil {
		return fmt.Errorf("%w: update %d statuses: %w", ErrPersistence, b.Len(), err)
	}

	p.logger.Info().Int("count", b.Len()).Msg("Updated statuses")
	return nil
}

func (p *Postgres) countryOf(r record.Record) string {
	if r.Country != "" {
		return r.Country
	}
	return p.country
}
