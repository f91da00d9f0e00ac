package cache

import (
	"testing"
	"time"
)

func TestLookupEntry_Expiry(t *testing.T) {
	tests := []struct {
		name        string
		expires     time.Time
		wantExpired bool
	}{
		{"future", time.Now().Add(time.Hour), false},
		{"past", time.Now().Add(-time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &LookupEntry{Expires: tt.expires}
			if got := e.IsExpired(); got != tt.wantExpired {
				t.Errorf("IsExpired() = %v, want %v", got, tt.wantExpired)
			}
			if tt.wantExpired && e.TTL() != 0 {
				t.Errorf("TTL() = %v, want 0", e.TTL())
			}
			if !tt.wantExpired && e.TTL() <= 0 {
				t.Errorf("TTL() = %v, want positive", e.TTL())
			}
		})
	}
}
