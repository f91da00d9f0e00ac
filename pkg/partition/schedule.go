package partition

import (
	"fmt"
	"time"
)

// Unit is the granularity of a schedule step.
type Unit int

const (
	Years Unit = iota
	Months
	Weeks
	Days
)

// String implements fmt.Stringer.
func (u Unit) String() string {
	switch u {
	case Years:
		return "years"
	case Months:
		return "months"
	case Weeks:
		return "weeks"
	case Days:
		return "days"
	default:
		return fmt.Sprintf("unit(%d)", int(u))
	}
}

// Step is a nominal partition width.
type Step struct {
	Unit Unit
	N    int
}

// Segment covers [From, To] with partitions of one step size.
// A zero To means "up to the planning date".
type Segment struct {
	From time.Time
	To   time.Time
	Step Step
}

// Schedule is an ordered, contiguous list of segments.
type Schedule []Segment

func years(n int) Step { return Step{Unit: Years, N: n} }

var (
	month = Step{Unit: Months, N: 1}
	week  = Step{Unit: Weeks, N: 1}
	day   = Step{Unit: Days, N: 1}
)

// Schedules sized from historical record density: sparse early decades get
// wide windows, the densest recent years get weekly or daily ones.
var (
	activeHistorical = Schedule{
		{From: date(1900, 1, 2), To: date(1970, 12, 31), Step: years(71)},
		{From: date(1971, 1, 1), To: date(1985, 12, 31), Step: years(5)},
		{From: date(1986, 1, 1), To: date(1988, 12, 31), Step: years(1)},
		{From: date(1989, 1, 1), To: date(2014, 11, 30), Step: month},
		{From: date(2014, 12, 1), To: date(2018, 12, 31), Step: week},
	}
	activeRecent = Schedule{
		{From: date(2019, 1, 1), To: date(2022, 12, 27), Step: week},
		{From: date(2022, 12, 28), To: date(2022, 12, 31), Step: day},
		{From: date(2023, 1, 1), Step: week},
	}
	inactiveHistorical = Schedule{
		{From: date(1900, 1, 2), To: date(1960, 12, 31), Step: years(61)},
		{From: date(1961, 1, 1), To: date(1970, 12, 31), Step: years(10)},
		{From: date(1971, 1, 1), To: date(1980, 12, 31), Step: years(1)},
		{From: date(1981, 1, 1), To: date(2002, 12, 31), Step: month},
	}
	inactiveRecent = Schedule{
		{From: date(2003, 1, 1), To: date(2010, 11, 30), Step: month},
		{From: date(2010, 12, 1), To: date(2010, 12, 31), Step: week},
		{From: date(2011, 1, 1), To: date(2011, 11, 30), Step: month},
		{From: date(2011, 12, 1), To: date(2011, 12, 31), Step: week},
		{From: date(2012, 1, 1), Step: month},
	}
)

// ScheduleFor returns the full schedule for a mode.
func ScheduleFor(mode Mode) Schedule {
	if mode == ModeActive {
		return append(append(Schedule{}, activeHistorical...), activeRecent...)
	}
	return append(append(Schedule{}, inactiveHistorical...), inactiveRecent...)
}

// Bounds returns the first and last day the schedule covers for asOf.
func (s Schedule) Bounds(asOf time.Time) (time.Time, time.Time) {
	if len(s) == 0 {
		return time.Time{}, time.Time{}
	}
	last := s[len(s)-1].To
	if last.IsZero() || last.After(Day(asOf)) {
		last = Day(asOf)
	}
	return s[0].From, last
}

// Ranges walks [from, to] with step and returns the closed sub-ranges.
// Every range after the first starts the day after the previous one ends
// and the last range is clipped to to.
func Ranges(from, to time.Time, step Step) [][2]time.Time {
	from, to = Day(from), Day(to)
	var out [][2]time.Time

	for current := from; !current.After(to); {
		end := stepEnd(current, step)
		if end.After(to) {
			end = to
		}
		out = append(out, [2]time.Time{current, end})
		current = end.AddDate(0, 0, 1)
	}

	return out
}

func stepEnd(start time.Time, step Step) time.Time {
	n := step.N
	if n <= 0 {
		n = 1
	}

	switch step.Unit {
	case Years:
		next := date(start.Year()+n, start.Month(), start.Day())
		if next.Month() != start.Month() {
			// Feb 29 anchored into a non-leap year.
			next = date(start.Year()+n, start.Month(), 28)
		}
		return next.AddDate(0, 0, -1)
	case Months:
		firstOfNext := date(start.Year(), start.Month()+time.Month(n), 1)
		return firstOfNext.AddDate(0, 0, -1)
	case Weeks:
		return start.AddDate(0, 0, 7*n-1)
	default:
		return start.AddDate(0, 0, n-1)
	}
}

// Partitions expands the schedule into date partitions up to asOf.
// Segments starting after asOf are skipped.
func (s Schedule) Partitions(mode Mode, asOf time.Time) []Partition {
	asOf = Day(asOf)
	var out []Partition

	for _, seg := range s {
		to := seg.To
		if to.IsZero() || to.After(asOf) {
			to = asOf
		}
		if seg.From.After(to) {
			continue
		}
		for _, r := range Ranges(seg.From, to, seg.Step) {
			out = append(out, Partition{From: r[0], To: r[1], Mode: mode})
		}
	}

	return out
}

// NizaClasses is the size of the Nice classification.
const NizaClasses = 45

// categoryWindow is the coarsest window the search form accepts together
// with a class filter.
var categoryWindow = date(1900, 1, 1)

// Categories returns one partition per Nice class. Only the active mode is
// enumerated by class.
func Categories(mode Mode) []Partition {
	if mode != ModeActive {
		return nil
	}
	out := make([]Partition, 0, NizaClasses)
	for class := 1; class <= NizaClasses; class++ {
		out = append(out, Partition{
			From:      categoryWindow,
			To:        categoryWindow,
			NizaClass: class,
			Mode:      mode,
		})
	}
	return out
}
