// Package record defines the canonical trademark record, the raw entries
// extracted from the registry and the status vocabulary shared by the
// normalizer, the diff engine and the drift detector.
package record

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the ISO layout used for persisted dates.
const DateLayout = "2006-01-02"

// Field names as persisted in the store.
const (
	FieldRequestNumber  = "request_number"
	FieldRegistryNumber = "registry_number"
	FieldDenomination   = "denomination"
	FieldLogoURL        = "logo_url"
	FieldLogo           = "logo"
	FieldFilingDate     = "filing_date"
	FieldExpirationDate = "expiration_date"
	FieldStatus         = "status"
	FieldHolder         = "holder"
	FieldNizaClass      = "niza_class"
	FieldGazetteNumber  = "gazette_number"
	FieldUpdatedAt      = "updated_at"
	FieldCountry        = "badger_country"
)

// ComparedFields are the columns the diff engine compares, in report order.
var ComparedFields = []string{
	FieldRegistryNumber,
	FieldDenomination,
	FieldLogoURL,
	FieldFilingDate,
	FieldExpirationDate,
	FieldStatus,
	FieldHolder,
	FieldNizaClass,
	FieldGazetteNumber,
}

// Holder is the raw holder cell. The registry renders one holder as plain
// text and several holders as a list.
type Holder []string

// UnmarshalJSON accepts a string, a list of strings or null.
func (h *Holder) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*h = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var values []string
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("holder list: %w", err)
		}
		*h = values
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("holder: %w", err)
	}
	if value == "" {
		*h = nil
		return nil
	}
	*h = Holder{value}
	return nil
}

// MarshalJSON writes a single holder as a string and several as a list.
func (h Holder) MarshalJSON() ([]byte, error) {
	switch len(h) {
	case 0:
		return []byte(`""`), nil
	case 1:
		return json.Marshal(h[0])
	default:
		return json.Marshal([]string(h))
	}
}

// RawEntry is one row as extracted from a result page, before normalization.
type RawEntry struct {
	RequestNumber  string `json:"request_number"`
	RegistryNumber string `json:"registry_number"`
	Denomination   string `json:"denomination"`
	LogoURL        string `json:"logo_url"`
	FilingDate     string `json:"filing_date"`
	ExpirationDate string `json:"expiration_date"`
	Status         string `json:"status"`
	Holder         Holder `json:"holder"`
	NizaClass      string `json:"niza_class"`
	GazetteNumber  string `json:"gazette_number"`
}

// IsBlank reports whether the entry carries no data at all.
func (e RawEntry) IsBlank() bool {
	return e.RequestNumber == "" && e.RegistryNumber == "" && e.Denomination == "" &&
		e.LogoURL == "" && e.FilingDate == "" && e.ExpirationDate == "" &&
		e.Status == "" && len(e.Holder) == 0 && e.NizaClass == "" && e.GazetteNumber == ""
}

// Record is the canonical, persisted trademark record.
// FilingDate and ExpirationDate are nil when the source value was empty or
// unparseable. Status is empty when the source gave none.
type Record struct {
	RequestNumber  string
	RegistryNumber string
	Denomination   string
	LogoURL        string
	Logo           string
	FilingDate     *time.Time
	ExpirationDate *time.Time
	Status         Status
	// StatusMapped is false when Status is a raw source string that has no
	// canonical mapping.
	StatusMapped  bool
	Holder        string
	NizaClass     string
	GazetteNumber string
	UpdatedAt     time.Time
	Country       string
}

// Key returns the primary key.
func (r Record) Key() string {
	return r.RequestNumber
}

// Fields returns the compared columns as strings keyed by field name.
// Null dates become empty strings.
func (r Record) Fields() map[string]any {
	return map[string]any{
		FieldRegistryNumber: r.RegistryNumber,
		FieldDenomination:   r.Denomination,
		FieldLogoURL:        r.LogoURL,
		FieldFilingDate:     FormatDate(r.FilingDate),
		FieldExpirationDate: FormatDate(r.ExpirationDate),
		FieldStatus:         string(r.Status),
		FieldHolder:         r.Holder,
		FieldNizaClass:      r.NizaClass,
		FieldGazetteNumber:  r.GazetteNumber,
	}
}

// FormatDate renders a nullable date using DateLayout.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}

// StatusUpdate is a single status correction produced by the drift loop.
type StatusUpdate struct {
	RequestNumber string
	Status        Status
	UpdatedAt     time.Time
}
