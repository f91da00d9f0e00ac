package record

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Status is a canonical registry status.
type Status string

const (
	StatusVigente             Status = "VIGENTE"
	StatusCancelada           Status = "CANCELADA"
	StatusAnulada             Status = "ANULADA"
	StatusVencida             Status = "VENCIDA"
	StatusRenunciaTotal       Status = "RENUNCIA_TOTAL"
	StatusNegada              Status = "NEGADA"
	StatusDesistida           Status = "DESISTIDA"
	StatusAbandonada          Status = "ABANDONADA"
	StatusExamenDeFondo       Status = "EXAMEN_DE_FONDO"
	StatusExamenDeForma       Status = "EXAMEN_DE_FORMA"
	StatusEnGaceta            Status = "EN_GACETA"
	StatusOposicion           Status = "OPOSICION"
	StatusSuspendida          Status = "SUSPENDIDA"
	StatusCertificadaYEnviada Status = "CERTIFICADA_Y_ENVIADA"
	StatusIrregular           Status = "IRREGULAR"
	StatusProtegida           Status = "PROTEGIDA"
)

// ActiveStatuses is the subset of statuses considered still live.
var ActiveStatuses = []Status{
	StatusExamenDeForma,
	StatusSuspendida,
	StatusEnGaceta,
	StatusExamenDeFondo,
	StatusOposicion,
	StatusCertificadaYEnviada,
	StatusIrregular,
	StatusVigente,
	StatusProtegida,
}

// IsActive reports whether s belongs to ActiveStatuses.
func (s Status) IsActive() bool {
	for _, active := range ActiveStatuses {
		if s == active {
			return true
		}
	}
	return false
}

// StatusMapping maps raw source status text to canonical statuses.
// Keys are matched case-, accent- and whitespace-insensitively.
type StatusMapping struct {
	table map[string]Status
}

// DefaultStatusMapping covers the wording used on result lists and on the
// single-record detail page.
func DefaultStatusMapping() *StatusMapping {
	return NewStatusMapping(map[string]Status{
		"registrada":                StatusVigente,
		"vigente":                   StatusVigente,
		"cancelada":                 StatusCancelada,
		"anulado consejo de estado": StatusAnulada,
		"caducado":                  StatusVencida,
		"renuncia total":            StatusRenunciaTotal,
		"negada":                    StatusNegada,
		"desistida":                 StatusDesistida,
		"abandonada":                StatusAbandonada,
		"bajo examen de fondo":      StatusExamenDeFondo,
		"bajo examen formal":        StatusExamenDeForma,
		"publicada":                 StatusEnGaceta,
		"con oposición":             StatusOposicion,
	})
}

// NewStatusMapping builds a mapping from raw text to status.
func NewStatusMapping(entries map[string]Status) *StatusMapping {
	table := make(map[string]Status, len(entries))
	for raw, status := range entries {
		table[foldStatus(raw)] = status
	}
	return &StatusMapping{table: table}
}

// Lookup returns the canonical status for raw. The second return value is
// false when raw is empty or has no mapping.
func (m *StatusMapping) Lookup(raw string) (Status, bool) {
	key := foldStatus(raw)
	if key == "" {
		return "", false
	}
	status, ok := m.table[key]
	return status, ok
}

// Len returns the number of mapped source strings.
func (m *StatusMapping) Len() int {
	return len(m.table)
}

func foldStatus(raw string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, raw)
	if err != nil {
		folded = raw
	}
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}
