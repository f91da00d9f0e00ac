package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/TitoGod/scraping-colombia/pkg/record"
)

// Memory is an in-process Store. It records every status batch so callers
// can assert on how corrections were issued.
type Memory struct {
	mu      sync.Mutex
	records map[string]record.Record

	statusBatches [][]record.StatusUpdate
	inserts       int
	updates       int

	// Fail, when set, is consulted before every write; a non-nil error
	// aborts the whole batch.
	Fail func(operation string, n int) error
}

// NewMemory creates a store seeded with records.
func NewMemory(seed ...record.Record) *Memory {
	m := &Memory{records: make(map[string]record.Record, len(seed))}
	for _, r := range seed {
		m.records[r.Key()] = r
	}
	return m
}

// FetchActiveKeys implements Store.
func (m *Memory) FetchActiveKeys(context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make(map[string]struct{})
	for k, r := range m.records {
		if r.Status.IsActive() {
			keys[k] = struct{}{}
		}
	}
	return keys, nil
}

// FetchByKeys implements Store.
func (m *Memory) FetchByKeys(_ context.Context, keys []string) ([]record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]record.Record, 0, len(keys))
	for _, k := range keys {
		if r, ok := m.records[k]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// InsertBatch implements Store. Inserting an existing key fails the batch.
func (m *Memory) InsertBatch(_ context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("insert", len(records)); err != nil {
		return err
	}
	for _, r := range records {
		if _, ok := m.records[r.Key()]; ok {
			observe("insert", 0, ErrPersistence)
			return fmt.Errorf("%w: duplicate key %s", ErrPersistence, r.Key())
		}
	}
	for _, r := range records {
		m.records[r.Key()] = r
	}
	m.inserts += len(records)
	observe("insert", len(records), nil)
	return nil
}

// UpdateBatch implements Store. Unknown keys are ignored.
func (m *Memory) UpdateBatch(_ context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("update", len(records)); err != nil {
		return err
	}
	for _, r := range records {
		if _, ok := m.records[r.Key()]; ok {
			m.records[r.Key()] = r
			m.updates++
		}
	}
	observe("update", len(records), nil)
	return nil
}

// UpdateStatusBatch implements Store.
func (m *Memory) UpdateStatusBatch(_ context.Context, updates []record.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("update_status", len(updates)); err != nil {
		return err
	}
	m.statusBatches = append(m.statusBatches, append([]record.StatusUpdate(nil), updates...))
	for _, u := range updates {
		r, ok := m.records[u.RequestNumber]
		if !ok || u.Status == "" {
			continue
		}
		r.Status = u.Status
		r.StatusMapped = true
		r.UpdatedAt = u.UpdatedAt
		m.records[u.RequestNumber] = r
	}
	observe("update_status", len(updates), nil)
	return nil
}

func (m *Memory) fail(operation string, n int) error {
	if m.Fail == nil {
		return nil
	}
	if err := m.Fail(operation, n); err != nil {
		observe(operation, 0, err)
		return fmt.Errorf("%w: %s %d rows: %w", ErrPersistence, operation, n, err)
	}
	return nil
}

// Get returns a stored record.
func (m *Memory) Get(key string) (record.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key]
	return r, ok
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// StatusBatches returns the status batches received so far.
func (m *Memory) StatusBatches() [][]record.StatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]record.StatusUpdate(nil), m.statusBatches...)
}

// Writes returns how many rows were inserted and updated.
func (m *Memory) Writes() (inserted, updated int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts, m.updates
}
