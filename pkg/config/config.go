// Package config loads run settings from the environment, an optional .env
// file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/TitoGod/scraping-colombia/pkg/fetch"
	"github.com/TitoGod/scraping-colombia/pkg/logging"
	"github.com/TitoGod/scraping-colombia/pkg/normalize"
	"github.com/TitoGod/scraping-colombia/pkg/partition"
	"github.com/TitoGod/scraping-colombia/pkg/report"
	"github.com/TitoGod/scraping-colombia/pkg/store"
)

// ErrConfiguration is wrapped by every *Error.
var ErrConfiguration = errors.New("configuration error")

// Error reports invalid or missing settings. It is fatal: the process
// exits before any work starts.
type Error struct {
	Keys   []string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrConfiguration, e.Reason, strings.Join(e.Keys, ", "))
}

// Unwrap returns ErrConfiguration.
func (e *Error) Unwrap() error {
	return ErrConfiguration
}

// Setting keys. Each key is read from the environment variable of the same
// name in upper case.
const (
	KeyMode              = "mode"
	KeyInnerConcurrency  = "inner_concurrency"
	KeyOuterWorkers      = "outer_workers"
	KeyRetryAttempts     = "retry_attempts"
	KeyRetryBase         = "retry_base"
	KeyRetryJitter       = "retry_jitter"
	KeyCapThreshold      = "cap_threshold"
	KeyRequestsPerSecond = "requests_per_second"
	KeyWorkerTimeout     = "worker_timeout"
	KeyPGUser            = "pg_user"
	KeyPGPass            = "pg_pass"
	KeyPGHost            = "pg_host"
	KeyPGPort            = "pg_port"
	KeyPGDB              = "pg_db"
	KeyTable             = "table"
	KeyCountry           = "country"
	KeyArtifactsDir      = "artifacts_dir"
	KeyReportsDir        = "reports_dir"
	KeyIncremental       = "incremental"
	KeyCleanupArtifacts  = "cleanup_artifacts"
	KeyDriftConcurrency  = "drift_concurrency"
	KeyRedisURL          = "redis_url"
	KeyLookupCacheTTL    = "lookup_cache_ttl"
	KeySentryDSN         = "sentry_dsn"
	KeyEnvStage          = "env_stage"
	KeyS3Bucket          = "s3_bucket"
	KeyS3Prefix          = "s3_prefix"
	KeyAWSRegion         = "aws_region"
	KeyS3Endpoint        = "s3_endpoint"
	KeyLogLevel          = "log_level"
	KeyLogPretty         = "log_pretty"
	KeyLogFile           = "log_file"
	KeyMetricsAddr       = "metrics_addr"
	KeySourceURL         = "source_url"
	KeyHeadless          = "headless"
	KeyAsOf              = "as_of"
	KeyLogoBaseURL       = "logo_base_url"
)

// DefaultSourceURL is the registry search page.
const DefaultSourceURL = "https://sipi.sic.gov.co/sipi/Extra/Default.aspx"

// Config is the complete run configuration.
type Config struct {
	Mode partition.Mode

	InnerConcurrency  int
	OuterWorkers      int
	RetryAttempts     int
	RetryBase         time.Duration
	RetryJitter       time.Duration
	CapThreshold      int
	RequestsPerSecond float64
	WorkerTimeout     time.Duration

	Database store.Config

	ArtifactsDir     string
	ReportsDir       string
	Incremental      bool
	CleanupArtifacts bool
	DriftConcurrency int

	RedisURL       string
	LookupCacheTTL time.Duration

	SentryDSN   string
	Environment string

	S3 report.S3Config

	Log         logging.Config
	MetricsAddr string

	SourceURL   string
	Headless    bool
	AsOf        time.Time
	LogoBaseURL string
}

// NewViper returns a viper instance with every default set and the
// environment bound.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyMode, string(partition.ModeActive))
	v.SetDefault(KeyInnerConcurrency, 2)
	v.SetDefault(KeyOuterWorkers, 2)
	v.SetDefault(KeyRetryAttempts, 3)
	v.SetDefault(KeyRetryBase, 2*time.Second)
	v.SetDefault(KeyRetryJitter, time.Second)
	v.SetDefault(KeyCapThreshold, fetch.DefaultCapThreshold)
	v.SetDefault(KeyRequestsPerSecond, 0.5)
	v.SetDefault(KeyWorkerTimeout, 6*time.Hour)
	v.SetDefault(KeyCountry, normalize.DefaultCountry)
	v.SetDefault(KeyArtifactsDir, "tmp")
	v.SetDefault(KeyReportsDir, "reports")
	v.SetDefault(KeyIncremental, true)
	v.SetDefault(KeyCleanupArtifacts, true)
	v.SetDefault(KeyDriftConcurrency, 2)
	v.SetDefault(KeyLookupCacheTTL, 24*time.Hour)
	v.SetDefault(KeyEnvStage, "development")
	v.SetDefault(KeyAWSRegion, "us-east-1")
	v.SetDefault(KeyLogLevel, string(logging.LevelInfo))
	v.SetDefault(KeyLogPretty, false)
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeySourceURL, DefaultSourceURL)
	v.SetDefault(KeyHeadless, true)
	v.SetDefault(KeyLogoBaseURL, normalize.DefaultLogoBaseURL)

	// Keys without a default must be bound explicitly to be seen by
	// AutomaticEnv-backed Unmarshal and IsSet.
	for _, key := range []string{
		KeyPGUser, KeyPGPass, KeyPGHost, KeyPGPort, KeyPGDB, KeyTable,
		KeyRedisURL, KeySentryDSN, KeyS3Bucket, KeyS3Prefix, KeyS3Endpoint,
		KeyLogFile, KeyAsOf,
	} {
		_ = v.BindEnv(key)
	}

	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads environment variables from files (".env" when none is
// given). Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	mode, err := partition.ParseMode(v.GetString(KeyMode))
	if err != nil {
		return nil, &Error{Keys: []string{KeyMode}, Reason: err.Error()}
	}

	cfg := &Config{
		Mode:              mode,
		InnerConcurrency:  v.GetInt(KeyInnerConcurrency),
		OuterWorkers:      v.GetInt(KeyOuterWorkers),
		RetryAttempts:     v.GetInt(KeyRetryAttempts),
		RetryBase:         v.GetDuration(KeyRetryBase),
		RetryJitter:       v.GetDuration(KeyRetryJitter),
		CapThreshold:      v.GetInt(KeyCapThreshold),
		RequestsPerSecond: v.GetFloat64(KeyRequestsPerSecond),
		WorkerTimeout:     v.GetDuration(KeyWorkerTimeout),
		Database: store.Config{
			User:     v.GetString(KeyPGUser),
			Password: v.GetString(KeyPGPass),
			Host:     v.GetString(KeyPGHost),
			Port:     v.GetString(KeyPGPort),
			Database: v.GetString(KeyPGDB),
			Table:    v.GetString(KeyTable),
			Country:  v.GetString(KeyCountry),
		},
		ArtifactsDir:     v.GetString(KeyArtifactsDir),
		ReportsDir:       v.GetString(KeyReportsDir),
		Incremental:      v.GetBool(KeyIncremental),
		CleanupArtifacts: v.GetBool(KeyCleanupArtifacts),
		DriftConcurrency: v.GetInt(KeyDriftConcurrency),
		RedisURL:         v.GetString(KeyRedisURL),
		LookupCacheTTL:   v.GetDuration(KeyLookupCacheTTL),
		SentryDSN:        v.GetString(KeySentryDSN),
		Environment:      v.GetString(KeyEnvStage),
		S3: report.S3Config{
			Bucket:   v.GetString(KeyS3Bucket),
			Prefix:   v.GetString(KeyS3Prefix),
			Region:   v.GetString(KeyAWSRegion),
			Endpoint: v.GetString(KeyS3Endpoint),
		},
		Log:         logging.DefaultConfig(),
		MetricsAddr: v.GetString(KeyMetricsAddr),
		SourceURL:   v.GetString(KeySourceURL),
		Headless:    v.GetBool(KeyHeadless),
		LogoBaseURL: v.GetString(KeyLogoBaseURL),
	}

	cfg.Log.Level = logging.LogLevel(strings.ToLower(v.GetString(KeyLogLevel)))
	cfg.Log.Pretty = v.GetBool(KeyLogPretty)
	cfg.Log.File = v.GetString(KeyLogFile)

	cfg.AsOf = time.Now().UTC()
	if raw := strings.TrimSpace(v.GetString(KeyAsOf)); raw != "" {
		asOf, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, &Error{Keys: []string{KeyAsOf}, Reason: "expected YYYY-MM-DD"}
		}
		cfg.AsOf = asOf
	}
	cfg.AsOf = partition.Day(cfg.AsOf)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that fetching needs.
func (c *Config) Validate() error {
	var invalid []string
	if c.InnerConcurrency <= 0 {
		invalid = append(invalid, KeyInnerConcurrency)
	}
	if c.OuterWorkers <= 0 {
		invalid = append(invalid, KeyOuterWorkers)
	}
	if c.RetryAttempts <= 0 {
		invalid = append(invalid, KeyRetryAttempts)
	}
	if c.CapThreshold <= 0 {
		invalid = append(invalid, KeyCapThreshold)
	}
	if c.RequestsPerSecond < 0 {
		invalid = append(invalid, KeyRequestsPerSecond)
	}
	if c.ArtifactsDir == "" {
		invalid = append(invalid, KeyArtifactsDir)
	}
	if len(invalid) > 0 {
		return &Error{Keys: invalid, Reason: "must be positive or non-empty"}
	}
	return nil
}

// RequireStore checks the store credentials and target table. Commands
// that write to the store call it before any work starts.
func (c *Config) RequireStore() error {
	required := map[string]string{
		KeyPGUser: c.Database.User,
		KeyPGPass: c.Database.Password,
		KeyPGHost: c.Database.Host,
		KeyPGPort: c.Database.Port,
		KeyPGDB:   c.Database.Database,
		KeyTable:  c.Database.Table,
	}

	var missing []string
	for _, key := range []string{KeyPGUser, KeyPGPass, KeyPGHost, KeyPGPort, KeyPGDB, KeyTable} {
		if strings.TrimSpace(required[key]) == "" {
			missing = append(missing, strings.ToUpper(key))
		}
	}
	if len(missing) > 0 {
		return &Error{Keys: missing, Reason: "missing required settings"}
	}
	return nil
}

// EnsureDirs creates the artifact and report directories. A failure is a
// configuration error.
func (c *Config) EnsureDirs() error {
	for key, dir := range map[string]string{KeyArtifactsDir: c.ArtifactsDir, KeyReportsDir: c.ReportsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &Error{Keys: []string{key}, Reason: err.Error()}
		}
	}
	return nil
}
