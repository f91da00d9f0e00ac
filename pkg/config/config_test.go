package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/TitoGod/scraping-colombia/pkg/partition"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mode != partition.ModeActive {
		t.Errorf("Mode = %s, want active", cfg.Mode)
	}
	if cfg.InnerConcurrency != 2 || cfg.OuterWorkers != 2 || cfg.RetryAttempts != 3 {
		t.Errorf("concurrency/retry = %d/%d/%d, want 2/2/3", cfg.InnerConcurrency, cfg.OuterWorkers, cfg.RetryAttempts)
	}
	if cfg.CapThreshold != 2000 {
		t.Errorf("CapThreshold = %d, want 2000", cfg.CapThreshold)
	}
	if cfg.WorkerTimeout != 6*time.Hour {
		t.Errorf("WorkerTimeout = %v, want 6h", cfg.WorkerTimeout)
	}
	if cfg.Database.Country != "COLOMBIA" {
		t.Errorf("Country = %s, want COLOMBIA", cfg.Database.Country)
	}
	if !cfg.Incremental || !cfg.CleanupArtifacts {
		t.Error("Incremental and CleanupArtifacts should default to true")
	}
	if cfg.AsOf.Hour() != 0 || cfg.AsOf.Location() != time.UTC {
		t.Errorf("AsOf = %v, want UTC midnight", cfg.AsOf)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("MODE", "Inactive")
	t.Setenv("INNER_CONCURRENCY", "1")
	t.Setenv("OUTER_WORKERS", "4")
	t.Setenv("RETRY_BASE", "500ms")
	t.Setenv("AS_OF", "2025-03-10")
	t.Setenv("TABLE", "public.trademarks")
	t.Setenv("INCREMENTAL", "false")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mode != partition.ModeInactive {
		t.Errorf("Mode = %s, want inactive", cfg.Mode)
	}
	if cfg.InnerConcurrency != 1 || cfg.OuterWorkers != 4 {
		t.Errorf("InnerConcurrency/OuterWorkers = %d/%d, want 1/4", cfg.InnerConcurrency, cfg.OuterWorkers)
	}
	if cfg.RetryBase != 500*time.Millisecond {
		t.Errorf("RetryBase = %v, want 500ms", cfg.RetryBase)
	}
	if want := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC); !cfg.AsOf.Equal(want) {
		t.Errorf("AsOf = %v, want %v", cfg.AsOf, want)
	}
	if cfg.Database.Table != "public.trademarks" {
		t.Errorf("Table = %s", cfg.Database.Table)
	}
	if cfg.Incremental {
		t.Error("Incremental = true, want false")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		keys []string
	}{
		{"bad mode", map[string]string{"MODE": "both"}, []string{KeyMode}},
		{"bad date", map[string]string{"AS_OF": "10/03/2025"}, []string{KeyAsOf}},
		{"zero workers", map[string]string{"OUTER_WORKERS": "0", "CAP_THRESHOLD": "-1"}, []string{KeyOuterWorkers, KeyCapThreshold}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(NewViper())
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("Load() error = %v, want ErrConfiguration", err)
			}
			var cfgErr *Error
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error is not *Error: %T", err)
			}
			if !reflect.DeepEqual(cfgErr.Keys, tt.keys) {
				t.Errorf("Keys = %v, want %v", cfgErr.Keys, tt.keys)
			}
		})
	}
}

func TestRequireStore(t *testing.T) {
	t.Setenv("PG_USER", "sync")
	t.Setenv("PG_HOST", "localhost")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	err = cfg.RequireStore()
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("RequireStore() error = %v, want *Error", err)
	}
	want := []string{"PG_PASS", "PG_PORT", "PG_DB", "TABLE"}
	if !reflect.DeepEqual(cfgErr.Keys, want) {
		t.Errorf("Keys = %v, want %v", cfgErr.Keys, want)
	}

	for k, v := range map[string]string{"PG_PASS": "x", "PG_PORT": "5432", "PG_DB": "marks", "TABLE": "trademarks"} {
		t.Setenv(k, v)
	}
	cfg, _ = Load(NewViper())
	if err := cfg.RequireStore(); err != nil {
		t.Errorf("RequireStore() error = %v, want nil", err)
	}
}

func TestEnsureDirs(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{ArtifactsDir: filepath.Join(dir, "tmp"), ReportsDir: filepath.Join(dir, "reports")}
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs() error = %v", err)
	}
	if _, err := os.Stat(cfg.ArtifactsDir); err != nil {
		t.Errorf("artifact dir not created: %v", err)
	}

	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.ArtifactsDir = filepath.Join(blocker, "tmp")
	if err := cfg.EnsureDirs(); !errors.Is(err, ErrConfiguration) {
		t.Errorf("EnsureDirs() error = %v, want ErrConfiguration", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TRADEMARK_SYNC_TEST_KEY=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("TRADEMARK_SYNC_TEST_KEY") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("TRADEMARK_SYNC_TEST_KEY"); got != "from-file" {
		t.Errorf("TRADEMARK_SYNC_TEST_KEY = %q, want from-file", got)
	}
}
