// Package partition splits the registry's filing-date domain into query
// units small enough to stay under the source's result cap.
//
// A Partition's ID is a pure function of its boundaries, so it doubles as
// the checkpoint key: an existing artifact with that ID means the partition
// is done.
package partition

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects which side of the registry's live/not-live split is queried.
type Mode string

const (
	ModeActive   Mode = "active"
	ModeInactive Mode = "inactive"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeActive:
		return ModeActive, nil
	case ModeInactive:
		return ModeInactive, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want active or inactive)", s)
	}
}

// Tag is the upper-case form used in artifact ids.
func (m Mode) Tag() string {
	if m == ModeActive {
		return "ACTIVE"
	}
	return "INACTIVE"
}

// Partition is one query unit: a closed date range, optionally narrowed to a
// single Nice class.
type Partition struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	NizaClass int       `json:"niza_class,omitempty"`
	Mode      Mode      `json:"mode"`
}

// SourceDateLayout is the date format the registry search form accepts.
const SourceDateLayout = "02/01/2006"

// ID returns the deterministic artifact id.
//
// Examples:
//
//	01_01_1989_31_01_1989_ACTIVE
//	niza_25_1900_1900_ACTIVE
func (p Partition) ID() string {
	if p.NizaClass > 0 {
		return fmt.Sprintf("niza_%d_%d_%d_%s", p.NizaClass, p.From.Year(), p.To.Year(), p.Mode.Tag())
	}
	return fmt.Sprintf("%s_%s_%s",
		strings.ReplaceAll(p.From.Format(SourceDateLayout), "/", "_"),
		strings.ReplaceAll(p.To.Format(SourceDateLayout), "/", "_"),
		p.Mode.Tag())
}

// String implements fmt.Stringer.
func (p Partition) String() string {
	return p.ID()
}

// IsCategory reports whether the partition belongs to the categorical axis.
func (p Partition) IsCategory() bool {
	return p.NizaClass > 0
}

// Days returns the number of calendar days covered.
func (p Partition) Days() int {
	return int(p.To.Sub(p.From).Hours()/24) + 1
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return date(y, m, d)
}
