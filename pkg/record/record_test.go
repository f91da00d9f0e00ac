package record

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestHolder_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Holder
	}{
		{"string", `"ACME S.A.S."`, Holder{"ACME S.A.S."}},
		{"list", `["ACME", "Globex"]`, Holder{"ACME", "Globex"}},
		{"empty string", `""`, nil},
		{"null", `null`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h Holder
			if err := json.Unmarshal([]byte(tt.input), &h); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if !reflect.DeepEqual(h, tt.want) {
				t.Errorf("Holder = %#v, want %#v", h, tt.want)
			}
		})
	}
}

func TestHolder_UnmarshalJSON_Invalid(t *testing.T) {
	var h Holder
	if err := json.Unmarshal([]byte(`42`), &h); err == nil {
		t.Error("Unmarshal(42) expected error, got nil")
	}
}

func TestRawEntry_DecodesArtifactRow(t *testing.T) {
	data := `{"request_number":"SD2020/0001","holder":["A","B"],"status":"Registrada","logo_url":""}`

	var entry RawEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if entry.RequestNumber != "SD2020/0001" {
		t.Errorf("RequestNumber = %q, want SD2020/0001", entry.RequestNumber)
	}
	if len(entry.Holder) != 2 {
		t.Errorf("len(Holder) = %d, want 2", len(entry.Holder))
	}
	if entry.IsBlank() {
		t.Error("IsBlank() = true, want false")
	}
	if !(RawEntry{}).IsBlank() {
		t.Error("zero RawEntry IsBlank() = false, want true")
	}
}

func TestRecord_Fields(t *testing.T) {
	filed := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Record{
		RequestNumber: "A",
		FilingDate:    &filed,
		Status:        StatusVigente,
		Holder:        "ACME",
	}

	fields := r.Fields()
	if len(fields) != len(ComparedFields) {
		t.Fatalf("len(Fields()) = %d, want %d", len(fields), len(ComparedFields))
	}
	if fields[FieldFilingDate] != "1990-01-01" {
		t.Errorf("filing_date = %v, want 1990-01-01", fields[FieldFilingDate])
	}
	if fields[FieldExpirationDate] != "" {
		t.Errorf("expiration_date = %v, want empty", fields[FieldExpirationDate])
	}
	if fields[FieldStatus] != "VIGENTE" {
		t.Errorf("status = %v, want VIGENTE", fields[FieldStatus])
	}
}
