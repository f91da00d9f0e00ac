package record

import "testing"

func TestStatusMapping_Lookup(t *testing.T) {
	mapping := DefaultStatusMapping()

	tests := []struct {
		raw    string
		want   Status
		wantOK bool
	}{
		{"VIGENTE", StatusVigente, true},
		{"Registrada", StatusVigente, true},
		{"  caducado ", StatusVencida, true},
		{"CADUCADO", StatusVencida, true},
		{"Con oposición", StatusOposicion, true},
		{"CON OPOSICION", StatusOposicion, true},
		{"bajo   examen de fondo", StatusExamenDeFondo, true},
		{"Anulado Consejo de Estado", StatusAnulada, true},
		{"publicada", StatusEnGaceta, true},
		{"unknown", "", false},
		{"EN_GACETA", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := mapping.Lookup(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Lookup(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestStatus_IsActive(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusVigente, true},
		{StatusOposicion, true},
		{StatusProtegida, true},
		{StatusCancelada, false},
		{StatusVencida, false},
		{Status("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsActive(); got != tt.want {
				t.Errorf("%s.IsActive() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestNewStatusMapping_CustomTable(t *testing.T) {
	mapping := NewStatusMapping(map[string]Status{"Suspendída": StatusSuspendida})

	if mapping.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", mapping.Len())
	}
	if got, ok := mapping.Lookup("SUSPENDIDA"); !ok || got != StatusSuspendida {
		t.Errorf("Lookup(SUSPENDIDA) = %q, %v, want %q, true", got, ok, StatusSuspendida)
	}
}
