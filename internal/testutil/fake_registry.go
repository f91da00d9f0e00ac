// Package testutil provides testing utilities for the trademark sync.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/TitoGod/scraping-colombia/pkg/fetch"
	"github.com/TitoGod/scraping-colombia/pkg/partition"
	"github.com/TitoGod/scraping-colombia/pkg/record"
)

// FakeRegistry is a scripted fetch.Fetcher.
//
// Each partition id or lookup key can be given a sequence of results; call
// n returns the n-th scripted result and the last one repeats. Unscripted
// partitions return Empty and unscripted lookups return Empty (not found).
type FakeRegistry struct {
	mu         sync.Mutex
	partitions map[string][]fetch.Result
	lookups    map[string][]fetch.Result

	// Delay is applied to every call, honouring context cancellation.
	Delay time.Duration

	partitionCalls map[string]int
	lookupCalls    map[string]int
	inFlight       int
	maxInFlight    int
}

// NewFakeRegistry creates an empty fake registry.
func NewFakeRegistry() *FakeRegistry {
	return &FakeRegistry{
		partitions:     make(map[string][]fetch.Result),
		lookups:        make(map[string][]fetch.Result),
		partitionCalls: make(map[string]int),
		lookupCalls:    make(map[string]int),
	}
}

// SetPartition scripts the results for a partition id.
func (f *FakeRegistry) SetPartition(id string, results ...fetch.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partitions[id] = results
}

// SetPartitionRows scripts a single successful fetch.
func (f *FakeRegistry) SetPartitionRows(id string, rows ...record.RawEntry) {
	f.SetPartition(id, fetch.Rows(rows))
}

// SetLookup scripts the results for a single-record lookup.
func (f *FakeRegistry) SetLookup(requestNumber string, results ...fetch.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups[requestNumber] = results
}

// SetLookupStatus scripts a lookup that finds the record with a raw status.
func (f *FakeRegistry) SetLookupStatus(requestNumber, status string) {
	f.SetLookup(requestNumber, fetch.Rows([]record.RawEntry{{RequestNumber: requestNumber, Status: status}}))
}

// FetchPartition implements fetch.Fetcher.
func (f *FakeRegistry) FetchPartition(ctx context.Context, p partition.Partition) fetch.Result {
	id := p.ID()
	f.enter()
	defer f.leave()

	if err := f.wait(ctx); err != nil {
		return fetch.Failed(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.partitionCalls[id]
	f.partitionCalls[id] = n + 1
	return pick(f.partitions[id], n)
}

// FetchOne implements fetch.Fetcher.
func (f *FakeRegistry) FetchOne(ctx context.Context, requestNumber string) fetch.Result {
	f.enter()
	defer f.leave()

	if err := f.wait(ctx); err != nil {
		return fetch.Failed(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.lookupCalls[requestNumber]
	f.lookupCalls[requestNumber] = n + 1
	return pick(f.lookups[requestNumber], n)
}

func pick(script []fetch.Result, n int) fetch.Result {
	if len(script) == 0 {
		return fetch.NoResults()
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n]
}

func (f *FakeRegistry) wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(f.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *FakeRegistry) enter() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
}

func (f *FakeRegistry) leave() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
}

// PartitionCalls returns how often a partition was fetched.
func (f *FakeRegistry) PartitionCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.partitionCalls[id]
}

// LookupCalls returns how often a key was looked up.
func (f *FakeRegistry) LookupCalls(requestNumber string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookupCalls[requestNumber]
}

// TotalPartitionCalls returns the number of partition fetches.
func (f *FakeRegistry) TotalPartitionCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.partitionCalls {
		total += n
	}
	return total
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (f *FakeRegistry) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// Reset clears all tracking counters.
func (f *FakeRegistry) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partitionCalls = make(map[string]int)
	f.lookupCalls = make(map[string]int)
	f.inFlight = 0
	f.maxInFlight = 0
}
