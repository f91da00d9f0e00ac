// Package report writes the per-run CSV reports and publishes them.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/TitoGod/scraping-colombia/pkg/diff"
)

// NewRecordMarker fills columns_changed for inserted keys.
const NewRecordMarker = "NEW_RECORD"

// MissingReportName is the file name of the drift report.
const MissingReportName = "missing_records.csv"

var (
	changeHeader  = []string{"request_number", "changed", "columns_changed"}
	missingHeader = []string{"missing_request_number"}
)

// ChangeReportName returns the change report file name for day.
func ChangeReportName(day time.Time) string {
	return fmt.Sprintf("change_report_%s.csv", day.Format(time.DateOnly))
}

// ChangeWriter streams change entries into a CSV file. It is safe for
// concurrent use.
type ChangeWriter struct {
	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
	path string
	rows int
}

// NewChangeWriter creates dir/change_report_<day>.csv and writes the header.
// An existing report for the same day is replaced.
func NewChangeWriter(dir string, day time.Time) (*ChangeWriter, error) {
	path := filepath.Join(dir, ChangeReportName(day))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create change report: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(changeHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write change report header: %w", err)
	}
	return &ChangeWriter{file: f, csv: w, path: path}, nil
}

// Write appends one row per change and flushes.
func (c *ChangeWriter) Write(changes []diff.Change) error {
	if len(changes) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range changes {
		columns := NewRecordMarker
		if !ch.New {
			columns = strings.Join(ch.ChangedFields, ", ")
		}
		if err := c.csv.Write([]string{ch.Key, "True", columns}); err != nil {
			return fmt.Errorf("write change report: %w", err)
		}
		c.rows++
	}
	c.csv.Flush()
	return c.csv.Error()
}

// Path returns the report path.
func (c *ChangeWriter) Path() string {
	return c.path
}

// Rows returns the number of entries written.
func (c *ChangeWriter) Rows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

// Close flushes and closes the file.
func (c *ChangeWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.csv.Flush()
	if err := c.csv.Error(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}

// WriteMissing writes dir/missing_records.csv with one key per row and
// returns its path. The file is written even when keys is empty so that a
// stale report from an earlier run never survives.
func WriteMissing(dir string, keys []string) (string, error) {
	path := filepath.Join(dir, MissingReportName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create missing report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(missingHeader); err != nil {
		return "", fmt.Errorf("write missing report: %w", err)
	}
	for _, k := range keys {
		if err := w.Write([]string{k}); err != nil {
			return "", fmt.Errorf("write missing report: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write missing report: %w", err)
	}
	return path, f.Close()
}
