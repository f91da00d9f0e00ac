//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/TitoGod/scraping-colombia/pkg/record"
)

const schema = `CREATE TABLE trademarks (
	id              uuid PRIMARY KEY,
	request_number  text NOT NULL,
	registry_number text,
	denomination    text,
	logo_url        text,
	logo            text,
	filing_date     date,
	expiration_date date,
	status          text,
	holder          text,
	niza_class      text,
	gazette_number  text,
	updated_at      timestamp,
	badger_country  text NOT NULL,
	UNIQUE (request_number, badger_country)
)`

type PostgresSuite struct {
	suite.Suite
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
	store     *Postgres
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("marks"),
		postgres.WithUsername("sync"),
		postgres.WithPassword("sync"),
		postgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	pool, err := pgxpool.New(ctx, dsn)
	s.Require().NoError(err)
	s.pool = pool

	_, err = pool.Exec(ctx, schema)
	s.Require().NoError(err)

	s.store = NewPostgres(pool, "trademarks", "COLOMBIA", zerolog.Nop())
}

func (s *PostgresSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), "TRUNCATE trademarks")
	s.Require().NoError(err)
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func (s *PostgresSuite) TestInsertFetchUpdate() {
	ctx := context.Background()
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

	err := s.store.InsertBatch(ctx, []record.Record{
		{RequestNumber: "SD2020/0000001", Denomination: "ACME", FilingDate: date(2020, 1, 2), Status: record.StatusVigente, UpdatedAt: now},
		{RequestNumber: "SD2020/0000002", Denomination: "OTRA", Status: record.StatusVencida, UpdatedAt: now},
	})
	s.Require().NoError(err)

	active, err := s.store.FetchActiveKeys(ctx)
	s.Require().NoError(err)
	s.Equal(map[string]struct{}{"SD2020/0000001": {}}, active)

	got, err := s.store.FetchByKeys(ctx, []string{"SD2020/0000001", "missing"})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("ACME", got[0].Denomination)
	s.Equal("2020-01-02", record.FormatDate(got[0].FilingDate))
	s.Nil(got[0].ExpirationDate)

	updated := got[0]
	updated.Denomination = "ACME S.A.S"
	updated.UpdatedAt = now
	s.Require().NoError(s.store.UpdateBatch(ctx, []record.Record{updated}))

	got, err = s.store.FetchByKeys(ctx, []string{"SD2020/0000001"})
	s.Require().NoError(err)
	s.Equal("ACME S.A.S", got[0].Denomination)
}

func (s *PostgresSuite) TestInsertRollsBackWholeBatch() {
	ctx := context.Background()
	dup := record.Record{RequestNumber: "SD2020/0000003", Status: record.StatusVigente, UpdatedAt: time.Now()}

	err := s.store.InsertBatch(ctx, []record.Record{
		{RequestNumber: "SD2020/0000004", Status: record.StatusVigente, UpdatedAt: time.Now()},
		dup,
		dup,
	})
	s.Require().ErrorIs(err, ErrPersistence)

	got, err := s.store.FetchByKeys(ctx, []string{"SD2020/0000003", "SD2020/0000004"})
	s.Require().NoError(err)
	s.Empty(got)
}

func (s *PostgresSuite) TestUpdateStatusBatch() {
	ctx := context.Background()
	s.Require().NoError(s.store.InsertBatch(ctx, []record.Record{
		{RequestNumber: "SD2020/0000005", Status: record.StatusVigente, UpdatedAt: time.Now()},
	}))

	err := s.store.UpdateStatusBatch(ctx, []record.StatusUpdate{
		{RequestNumber: "SD2020/0000005", Status: record.StatusCancelada},
		{RequestNumber: "SD2020/0000005"},
	})
	s.Require().NoError(err)

	active, err := s.store.FetchActiveKeys(ctx)
	s.Require().NoError(err)
	s.Empty(active)
}
