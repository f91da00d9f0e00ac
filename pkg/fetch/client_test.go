package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TitoGod/scraping-colombia/pkg/partition"
	"github.com/TitoGod/scraping-colombia/pkg/record"
)

type stubTransport struct {
	partitionResult Result
	lookupResult    Result
	sawDeadline     bool
}

func (s *stubTransport) FetchPartition(ctx context.Context, p partition.Partition) Result {
	_, s.sawDeadline = ctx.Deadline()
	return s.partitionResult
}

func (s *stubTransport) FetchOne(ctx context.Context, key string) Result {
	return s.lookupResult
}

type stubGuard struct {
	mu        sync.Mutex
	waitErr   error
	failures  int
	successes int
}

func (g *stubGuard) Wait(ctx context.Context) error { return g.waitErr }

func (g *stubGuard) RecordFailure(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	return nil
}

func (g *stubGuard) RecordSuccess(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successes++
	return nil
}

func rows(n int) []record.RawEntry {
	out := make([]record.RawEntry, n)
	for i := range out {
		out[i] = record.RawEntry{RequestNumber: string(rune('A' + i%26))}
	}
	return out
}

var testPartition = partition.Partition{
	From: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
	To:   time.Date(1990, 1, 31, 0, 0, 0, 0, time.UTC),
	Mode: partition.ModeActive,
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestsPerSecond = 0
	cfg.CapThreshold = 5
	return cfg
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(nil, nil, testConfig(), zerolog.Nop()); err == nil {
		t.Error("NewClient(nil transport) expected error")
	}

	cfg := testConfig()
	cfg.CapThreshold = 0
	if _, err := NewClient(&stubTransport{}, nil, cfg, zerolog.Nop()); err == nil {
		t.Error("NewClient(cap 0) expected error")
	}
}

func TestClient_FetchPartition_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		transport   Result
		wantOutcome Outcome
		wantCapErr  bool
	}{
		{"rows under cap", Rows(rows(4)), OK, false},
		{"rows at cap", Rows(rows(5)), CapExceeded, true},
		{"empty", NoResults(), Empty, false},
		{"transport reports cap", Result{Outcome: CapExceeded, Count: 2000}, CapExceeded, true},
		{"error", Failed(errors.New("render timeout")), Error, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &stubTransport{partitionResult: tt.transport}
			c, err := NewClient(transport, nil, testConfig(), zerolog.Nop())
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}

			res := c.FetchPartition(context.Background(), testPartition)
			if res.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %v, want %v", res.Outcome, tt.wantOutcome)
			}
			if got := errors.Is(res.AsError(), ErrCapExceeded); got != tt.wantCapErr {
				t.Errorf("errors.Is(AsError(), ErrCapExceeded) = %v, want %v", got, tt.wantCapErr)
			}
			if !transport.sawDeadline {
				t.Error("transport context has no deadline")
			}
		})
	}
}

func TestClient_GuardOutcomes(t *testing.T) {
	guard := &stubGuard{}
	transport := &stubTransport{partitionResult: Failed(errors.New("boom")), lookupResult: NoResults()}
	c, _ := NewClient(transport, guard, testConfig(), zerolog.Nop())

	c.FetchPartition(context.Background(), testPartition)
	c.FetchOne(context.Background(), "A")

	if guard.failures != 1 {
		t.Errorf("failures = %d, want 1", guard.failures)
	}
	if guard.successes != 1 {
		t.Errorf("successes = %d, want 1", guard.successes)
	}
}

func TestClient_GuardBlocksFetch(t *testing.T) {
	guard := &stubGuard{waitErr: context.DeadlineExceeded}
	transport := &stubTransport{partitionResult: Rows(rows(1))}
	c, _ := NewClient(transport, guard, testConfig(), zerolog.Nop())

	res := c.FetchPartition(context.Background(), testPartition)
	if res.Outcome != Error {
		t.Errorf("Outcome = %v, want Error", res.Outcome)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want DeadlineExceeded", res.Err)
	}
}

func TestClient_GuardUnavailableFailsOpen(t *testing.T) {
	guard := &stubGuard{waitErr: errors.New("get source state: dial tcp: connection refused")}
	transport := &stubTransport{partitionResult: Rows(rows(2))}
	c, _ := NewClient(transport, guard, testConfig(), zerolog.Nop())

	res := c.FetchPartition(context.Background(), testPartition)
	if res.Outcome != OK {
		t.Errorf("Outcome = %v, want OK", res.Outcome)
	}
	if len(res.Rows) != 2 {
		t.Errorf("len(Rows) = %d, want 2", len(res.Rows))
	}
	if guard.successes != 1 {
		t.Errorf("successes = %d, want 1", guard.successes)
	}
}

func TestResult_Helpers(t *testing.T) {
	if Rows(nil).Outcome != Empty {
		t.Error("Rows(nil) should be Empty")
	}
	if !Rows(nil).Succeeded() || !Rows(rows(1)).Succeeded() {
		t.Error("OK and Empty should count as succeeded")
	}
	if Capped(2000).Succeeded() || Failed(nil).Succeeded() {
		t.Error("CapExceeded and Error should not count as succeeded")
	}
	if Failed(nil).AsError() == nil {
		t.Error("Failed(nil).AsError() should not be nil")
	}
	if Outcome(42).String() != "outcome(42)" {
		t.Errorf("Outcome(42).String() = %q", Outcome(42).String())
	}
}
