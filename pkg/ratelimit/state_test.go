package ratelimit

import (
	"testing"
	"time"
)

func TestSourceState_Bands(t *testing.T) {
	tests := []struct {
		name         string
		remaining    int
		wantBlock    bool
		wantThrottle bool
		wantHealthy  bool
	}{
		{"healthy", 100, false, false, true},
		{"at healthy threshold", 50, false, false, true},
		{"degraded but not throttled", 30, false, false, false},
		{"warning", 15, false, true, false},
		{"critical", 3, true, false, false},
		{"exhausted", 0, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &SourceState{ErrorsRemaining: tt.remaining}
			s.UpdateHealth()

			if got := s.NeedsCriticalBlock(); got != tt.wantBlock {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", got, tt.wantBlock)
			}
			if got := s.NeedsThrottling(); got != tt.wantThrottle {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.wantThrottle)
			}
			if s.IsHealthy != tt.wantHealthy {
				t.Errorf("IsHealthy = %v, want %v", s.IsHealthy, tt.wantHealthy)
			}
		})
	}
}

func TestSourceState_TimeUntilReset(t *testing.T) {
	past := &SourceState{ResetAt: time.Now().Add(-time.Minute)}
	if got := past.TimeUntilReset(); got != 0 {
		t.Errorf("TimeUntilReset() = %v, want 0", got)
	}

	future := &SourceState{ResetAt: time.Now().Add(time.Minute)}
	if got := future.TimeUntilReset(); got <= 0 || got > time.Minute {
		t.Errorf("TimeUntilReset() = %v, want (0, 1m]", got)
	}
}

func TestSourceState_IsStale(t *testing.T) {
	s := &SourceState{LastUpdate: time.Now().Add(-2 * time.Minute)}
	if !s.IsStale(time.Minute) {
		t.Error("IsStale(1m) = false, want true")
	}
	if s.IsStale(time.Hour) {
		t.Error("IsStale(1h) = true, want false")
	}
}

func TestStateFor(t *testing.T) {
	tests := []struct {
		budget, failures int
		wantRemaining    int
	}{
		{100, 0, 100},
		{100, 85, 15},
		{100, 250, 0},
	}

	for _, tt := range tests {
		s := stateFor(tt.budget, tt.failures, time.Now(), time.Now())
		if s.ErrorsRemaining != tt.wantRemaining {
			t.Errorf("stateFor(%d, %d).ErrorsRemaining = %d, want %d",
				tt.budget, tt.failures, s.ErrorsRemaining, tt.wantRemaining)
		}
	}
}

func TestNewGuard_Defaults(t *testing.T) {
	g := NewGuard(nil, Config{}, zeroLogger())
	if g.config.ErrorBudget != DefaultErrorBudget {
		t.Errorf("ErrorBudget = %d, want %d", g.config.ErrorBudget, DefaultErrorBudget)
	}
	if g.config.Window != DefaultWindow {
		t.Errorf("Window = %v, want %v", g.config.Window, DefaultWindow)
	}
}
