// Package fetch defines how partitions and single records are requested from
// the registry and how the outcome of a request is reported.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/TitoGod/scraping-colombia/pkg/partition"
	"github.com/TitoGod/scraping-colombia/pkg/record"
)

// ErrCapExceeded is reported when a query's result count meets or exceeds
// the source's hard cap. Retrying cannot change it.
var ErrCapExceeded = errors.New("result cap exceeded")

// ErrNotFound is reported by FetchOne when the registry has no record.
var ErrNotFound = errors.New("record not found")

// Outcome tags a Result.
type Outcome int

const (
	// OK means rows were fetched.
	OK Outcome = iota
	// Empty means the query succeeded and matched nothing.
	Empty
	// CapExceeded means the query matched too many rows to be returned.
	CapExceeded
	// Error means the fetch failed; Err holds the reason.
	Error
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Empty:
		return "empty"
	case CapExceeded:
		return "cap_exceeded"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the tagged outcome of a fetch.
type Result struct {
	Outcome Outcome
	Rows    []record.RawEntry
	// Count is the total reported by the source, when known.
	Count int
	Err   error
}

// Rows builds an OK result, or Empty when rows is empty.
func Rows(rows []record.RawEntry) Result {
	if len(rows) == 0 {
		return Result{Outcome: Empty}
	}
	return Result{Outcome: OK, Rows: rows, Count: len(rows)}
}

// NoResults builds an Empty result.
func NoResults() Result {
	return Result{Outcome: Empty}
}

// Capped builds a CapExceeded result for a reported count.
func Capped(count int) Result {
	return Result{Outcome: CapExceeded, Count: count, Err: ErrCapExceeded}
}

// Failed builds an Error result.
func Failed(err error) Result {
	if err == nil {
		err = errors.New("fetch failed")
	}
	return Result{Outcome: Error, Err: err}
}

// Succeeded reports whether the result may be checkpointed.
func (r Result) Succeeded() bool {
	return r.Outcome == OK || r.Outcome == Empty
}

// AsError returns nil for OK and Empty, ErrCapExceeded for a capped query
// and the failure otherwise.
func (r Result) AsError() error {
	switch r.Outcome {
	case OK, Empty:
		return nil
	case CapExceeded:
		if r.Err != nil {
			return r.Err
		}
		return ErrCapExceeded
	default:
		if r.Err != nil {
			return r.Err
		}
		return errors.New("fetch failed")
	}
}

// Fetcher is the registry transport.
//
// FetchPartition follows the partition's pagination in order and returns
// either every row or a failure; a partial pagination is a failure.
// FetchOne looks up a single record by request number; its Rows hold at
// most one entry and Empty means not found.
type Fetcher interface {
	FetchPartition(ctx context.Context, p partition.Partition) Result
	FetchOne(ctx context.Context, requestNumber string) Result
}
