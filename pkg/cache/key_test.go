package cache

import "testing"

func TestLookupKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  LookupKey
		want string
	}{
		{
			name: "plain key",
			key:  LookupKey{Country: "COLOMBIA", RequestNumber: "SD2020-0001"},
			want: "trademark:lookup:COLOMBIA:SD2020-0001",
		},
		{
			name: "slashes replaced",
			key:  LookupKey{Country: "colombia", RequestNumber: " SD2020/0001 "},
			want: "trademark:lookup:COLOMBIA:SD2020_0001",
		},
		{
			name: "scoped to run",
			key:  LookupKey{Country: "COLOMBIA", Run: "2025-03-10", RequestNumber: "A"},
			want: "trademark:lookup:COLOMBIA:2025-03-10:A",
		},
		{
			name: "no country",
			key:  LookupKey{RequestNumber: "A"},
			want: "trademark:lookup:A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
