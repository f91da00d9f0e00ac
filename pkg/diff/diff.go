// Package diff classifies a freshly fetched batch against the persisted rows
// with the same keys.
//
// Keys only in the fresh batch are NEW. Keys in both are compared column by
// column over the columns both rows define; values are compared as trimmed
// strings with nil and "" equal. Keys only in the persisted batch are
// ignored.
package diff

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Row is one keyed set of column values.
type Row struct {
	Key    string
	Fields map[string]any
}

// Change is one report entry.
type Change struct {
	Key           string
	New           bool
	ChangedFields []string
}

// Result is the outcome of a diff.
type Result struct {
	Insert    []Row
	Update    []Row
	Changes   []Change
	Unchanged int
	// Duplicates counts fresh rows dropped because their key appeared
	// earlier in the batch.
	Duplicates int
}

// Engine compares rows over a column list.
type Engine struct {
	columns []string
}

// New creates an engine. columns fixes the comparison and report order;
// when empty, the intersection of each pair is compared in sorted order.
func New(columns ...string) *Engine {
	return &Engine{columns: columns}
}

// Diff classifies fresh against existing. Within each batch the first row
// of a key wins.
func (e *Engine) Diff(fresh, existing []Row) Result {
	persisted := make(map[string]Row, len(existing))
	for _, row := range existing {
		if _, ok := persisted[row.Key]; !ok {
			persisted[row.Key] = row
		}
	}

	var res Result
	seen := make(map[string]struct{}, len(fresh))

	for _, row := range fresh {
		if _, dup := seen[row.Key]; dup {
			res.Duplicates++
			continue
		}
		seen[row.Key] = struct{}{}

		old, ok := persisted[row.Key]
		if !ok {
			res.Insert = append(res.Insert, row)
			res.Changes = append(res.Changes, Change{Key: row.Key, New: true})
			continue
		}

		changed := e.Compare(row.Fields, old.Fields)
		if len(changed) == 0 {
			res.Unchanged++
			continue
		}
		res.Update = append(res.Update, row)
		res.Changes = append(res.Changes, Change{Key: row.Key, ChangedFields: changed})
	}

	return res
}

// Compare returns the columns defined in both a and b whose values differ.
func (e *Engine) Compare(a, b map[string]any) []string {
	var changed []string
	for _, col := range e.columnsOf(a, b) {
		if !Equal(a[col], b[col]) {
			changed = append(changed, col)
		}
	}
	return changed
}

func (e *Engine) columnsOf(a, b map[string]any) []string {
	if len(e.columns) > 0 {
		cols := make([]string, 0, len(e.columns))
		for _, col := range e.columns {
			if _, ok := a[col]; !ok {
				continue
			}
			if _, ok := b[col]; !ok {
				continue
			}
			cols = append(cols, col)
		}
		return cols
	}

	cols := make([]string, 0, len(a))
	for col := range a {
		if _, ok := b[col]; ok {
			cols = append(cols, col)
		}
	}
	sort.Strings(cols)
	return cols
}

// Equal reports whether two values are the same after string coercion and
// whitespace trimming.
func Equal(a, b any) bool {
	return String(a) == String(b)
}

// String coerces a column value to its trimmed string form.
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case *string:
		if x == nil {
			return ""
		}
		return strings.TrimSpace(*x)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(time.DateOnly)
	case *time.Time:
		if x == nil || x.IsZero() {
			return ""
		}
		return x.Format(time.DateOnly)
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
