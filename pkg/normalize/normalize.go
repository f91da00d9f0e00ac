// Package normalize turns raw registry rows into canonical records.
package normalize

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/TitoGod/scraping-colombia/pkg/record"
)

var (
	recordsNormalizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trademark_records_normalized_total",
		Help: "Total number of raw entries normalized into records",
	})

	recordsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trademark_records_rejected_total",
		Help: "Total number of raw entries rejected for lacking a request number",
	})

	unmappedStatusTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trademark_unmapped_status_total",
		Help: "Total number of records whose status has no canonical mapping",
	})
)

// ErrMissingKey is returned for entries without a request number.
var ErrMissingKey = errors.New("entry has no request number")

// DefaultLogoBaseURL is where record logos are published.
const DefaultLogoBaseURL = "https://gazette-primary-assets.s3.amazonaws.com/logos/colombia/records"

// DefaultCountry tags every record produced by this module.
const DefaultCountry = "COLOMBIA"

// Config holds normalizer settings.
type Config struct {
	LogoBaseURL string
	Country     string
	Mapping     *record.StatusMapping
	// Now stamps UpdatedAt. Defaults to time.Now.
	Now func() time.Time
}

// Stats counts normalization outcomes for one batch.
type Stats struct {
	Normalized int
	Rejected   int
	Unmapped   int
	BadDates   int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Normalized += other.Normalized
	s.Rejected += other.Rejected
	s.Unmapped += other.Unmapped
	s.BadDates += other.BadDates
}

// Normalizer maps RawEntry values into record.Record values.
type Normalizer struct {
	config Config
	logger zerolog.Logger
}

// New creates a normalizer, filling unset config fields with defaults.
func New(cfg Config, logger zerolog.Logger) *Normalizer {
	if cfg.LogoBaseURL == "" {
		cfg.LogoBaseURL = DefaultLogoBaseURL
	}
	if cfg.Country == "" {
		cfg.Country = DefaultCountry
	}
	if cfg.Mapping == nil {
		cfg.Mapping = record.DefaultStatusMapping()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Normalizer{config: cfg, logger: logger}
}

// Normalize converts one raw entry. It returns ErrMissingKey for entries
// without a request number and never fails otherwise.
func (n *Normalizer) Normalize(raw record.RawEntry) (record.Record, error) {
	r, _, err := n.normalize(raw, n.config.Now())
	return r, err
}

// NormalizeAll converts a batch, dropping rejected entries. All records in the
// batch share one UpdatedAt timestamp.
func (n *Normalizer) NormalizeAll(raws []record.RawEntry) ([]record.Record, Stats) {
	now := n.config.Now()
	out := make([]record.Record, 0, len(raws))
	var stats Stats

	for _, raw := range raws {
		r, badDates, err := n.normalize(raw, now)
		stats.BadDates += badDates
		if err != nil {
			stats.Rejected++
			continue
		}
		if r.Status != "" && !r.StatusMapped {
			stats.Unmapped++
		}
		stats.Normalized++
		out = append(out, r)
	}

	return out, stats
}

func (n *Normalizer) normalize(raw record.RawEntry, now time.Time) (record.Record, int, error) {
	key := strings.TrimSpace(raw.RequestNumber)
	if key == "" {
		recordsRejectedTotal.Inc()
		n.logger.Warn().
			Str("denomination", raw.Denomination).
			Msg("Entry without request number skipped")
		return record.Record{}, 0, ErrMissingKey
	}

	badDates := 0
	filing := n.date(key, record.FieldFilingDate, raw.FilingDate, &badDates)
	expiration := n.date(key, record.FieldExpirationDate, raw.ExpirationDate, &badDates)

	status, mapped := n.status(key, raw.Status)

	r := record.Record{
		RequestNumber:  key,
		RegistryNumber: strings.TrimSpace(raw.RegistryNumber),
		Denomination:   strings.TrimSpace(raw.Denomination),
		LogoURL:        strings.TrimSpace(raw.LogoURL),
		FilingDate:     filing,
		ExpirationDate: expiration,
		Status:         status,
		StatusMapped:   mapped,
		Holder:         NormalizeHolder(raw.Holder),
		NizaClass:      strings.TrimSpace(raw.NizaClass),
		GazetteNumber:  strings.TrimSpace(raw.GazetteNumber),
		UpdatedAt:      now,
		Country:        n.config.Country,
	}
	if r.LogoURL != "" {
		r.Logo = LogoURL(n.config.LogoBaseURL, key)
	}

	recordsNormalizedTotal.Inc()
	return r, badDates, nil
}

func (n *Normalizer) date(key, field, value string, bad *int) *time.Time {
	parsed := ParseDate(value)
	if parsed == nil && strings.TrimSpace(value) != "" {
		*bad++
		n.logger.Warn().
			Str("request_number", key).
			Str("field", field).
			Str("value", value).
			Msg("Could not parse date, storing null")
	}
	return parsed
}

func (n *Normalizer) status(key, raw string) (record.Status, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if status, ok := n.config.Mapping.Lookup(raw); ok {
		return status, true
	}
	unmappedStatusTotal.Inc()
	n.logger.Warn().
		Str("request_number", key).
		Str("status", raw).
		Msg("Status has no canonical mapping, keeping raw value")
	return record.Status(raw), false
}

var monthNumbers = map[string]time.Month{
	"ene":  time.January,
	"feb":  time.February,
	"mar":  time.March,
	"abr":  time.April,
	"may":  time.May,
	"jun":  time.June,
	"jul":  time.July,
	"ago":  time.August,
	"sep":  time.September,
	"sept": time.September,
	"oct":  time.October,
	"nov":  time.November,
	"dic":  time.December,
}

// ParseDate parses a localized "02 ene. 2006" date. Empty, malformed or
// impossible dates return nil.
func ParseDate(value string) *time.Time {
	parts := strings.Fields(value)
	if len(parts) != 3 {
		return nil
	}

	month, ok := monthNumbers[strings.TrimSuffix(strings.ToLower(parts[1]), ".")]
	if !ok {
		return nil
	}
	day, err := strconv.Atoi(parts[0])
	if err != nil || day < 1 || day > 31 {
		return nil
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil || len(parts[2]) != 4 {
		return nil
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return nil
	}
	return &t
}

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeHolder collapses whitespace, upper-cases each holder and joins
// multiple holders with "; ". Semicolons inside a single name become commas.
func NormalizeHolder(holders record.Holder) string {
	names := make([]string, 0, len(holders))
	for _, name := range holders {
		name = strings.ReplaceAll(name, ";", ",")
		name = strings.TrimSpace(whitespace.ReplaceAllString(name, " "))
		if name == "" {
			continue
		}
		names = append(names, strings.ToUpper(name))
	}
	return strings.Join(names, "; ")
}

// LogoURL derives the published logo location for a request number.
func LogoURL(base, requestNumber string) string {
	return strings.TrimRight(base, "/") + "/" + strings.ReplaceAll(requestNumber, "/", "_") + ".jpeg"
}
