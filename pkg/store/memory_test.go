package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TitoGod/scraping-colombia/pkg/record"
)

func rec(key string, status record.Status) record.Record {
	return record.Record{RequestNumber: key, Status: status, StatusMapped: true, Country: "COLOMBIA"}
}

func TestMemory_FetchActiveKeys(t *testing.T) {
	m := NewMemory(
		rec("A", record.StatusVigente),
		rec("B", record.StatusEnGaceta),
		rec("C", record.StatusVencida),
	)

	keys, err := m.FetchActiveKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"A": {}, "B": {}}, keys)
}

func TestMemory_InsertIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(rec("A", record.StatusVigente))

	err := m.InsertBatch(ctx, []record.Record{rec("B", record.StatusVigente), rec("A", record.StatusVigente)})
	require.ErrorIs(t, err, ErrPersistence)

	_, ok := m.Get("B")
	assert.False(t, ok, "a failed batch must not leave partial rows")
	assert.Equal(t, 1, m.Len())
}

func TestMemory_FailHook(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(rec("A", record.StatusVigente))
	m.Fail = func(op string, _ int) error {
		if op == "update" {
			return errors.New("connection reset")
		}
		return nil
	}

	updated := rec("A", record.StatusVencida)
	err := m.UpdateBatch(ctx, []record.Record{updated})
	require.ErrorIs(t, err, ErrPersistence)

	got, _ := m.Get("A")
	assert.Equal(t, record.StatusVigente, got.Status)

	require.NoError(t, m.InsertBatch(ctx, []record.Record{rec("B", record.StatusVigente)}))
}

func TestMemory_UpdateStatusBatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(rec("A", record.StatusVigente), rec("B", record.StatusVigente))
	at := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	err := m.UpdateStatusBatch(ctx, []record.StatusUpdate{
		{RequestNumber: "A", Status: record.StatusVencida, UpdatedAt: at},
		{RequestNumber: "Z", Status: record.StatusVencida, UpdatedAt: at},
	})
	require.NoError(t, err)

	got, _ := m.Get("A")
	assert.Equal(t, record.StatusVencida, got.Status)
	assert.Equal(t, at, got.UpdatedAt)

	batches := m.StatusBatches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
}

func TestMemory_FetchByKeys(t *testing.T) {
	m := NewMemory(rec("A", record.StatusVigente), rec("B", record.StatusVigente))

	got, err := m.FetchByKeys(context.Background(), []string{"B", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].RequestNumber)
}
