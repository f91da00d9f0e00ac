package scheduler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrWorkerTimeout is returned when a worker process exceeds its deadline.
var ErrWorkerTimeout = errors.New("worker timed out")

// ProcessConfig configures worker subprocesses.
type ProcessConfig struct {
	// Executable defaults to the running binary.
	Executable string
	// Command is the subcommand that runs a single shard.
	Command string
	// Args are appended after the shard flags (config passthrough).
	Args []string
	// Timeout bounds each worker; zero means no deadline. On expiry the
	// worker is sent SIGTERM so it can close its browser and flush alerts.
	Timeout time.Duration
	// KillDelay is how long a terminated worker may take to exit before
	// it is killed. Defaults to 10s.
	KillDelay time.Duration
	// Env is added to the inherited environment.
	Env []string
}

// ProcessRunner runs each shard in its own OS process so that browser
// sessions and their memory are isolated per worker.
type ProcessRunner struct {
	config ProcessConfig
	logger zerolog.Logger
}

// NewProcessRunner creates a Runner that re-executes the binary.
func NewProcessRunner(cfg ProcessConfig, logger zerolog.Logger) (*ProcessRunner, error) {
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		cfg.Executable = exe
	}
	if cfg.Command == "" {
		cfg.Command = "worker"
	}
	if cfg.KillDelay <= 0 {
		cfg.KillDelay = 10 * time.Second
	}
	return &ProcessRunner{config: cfg, logger: logger}, nil
}

// WorkerArgs returns the command line for a shard.
func (r *ProcessRunner) WorkerArgs(shard Shard) []string {
	args := []string{
		r.config.Command,
		"--mode", string(shard.Mode),
		"--shard", strconv.Itoa(shard.Index),
		"--shards", strconv.Itoa(shard.Count),
		"--as-of", shard.AsOf.Format(time.DateOnly),
	}
	return append(args, r.config.Args...)
}

// RunShard implements Runner. The child writes its Summary as the last
// JSON line on stdout; its stderr (logs) is forwarded.
func (r *ProcessRunner) RunShard(ctx context.Context, shard Shard) (Summary, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.config.Executable, r.WorkerArgs(shard)...)
	cmd.Env = append(os.Environ(), r.config.Env...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminate(cmd) }
	cmd.WaitDelay = r.config.KillDelay

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	r.logger.Info().
		Int("shard", shard.Index).
		Int("partitions", len(shard.Partitions)).
		Msg("Starting worker process")

	start := time.Now()
	runErr := cmd.Run()
	if ctx.Err() != nil {
		// Reap anything the worker started that outlived it.
		killGroup(cmd)
	}
	summary, parseErr := ParseSummary(stdout.Bytes())
	if parseErr != nil {
		summary = Summary{Shard: shard.Index, Shards: shard.Count, Assigned: len(shard.Partitions)}
	}
	if summary.Duration == 0 {
		summary.Duration = time.Since(start)
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return summary, fmt.Errorf("%w after %s", ErrWorkerTimeout, r.config.Timeout)
	case runErr != nil:
		return summary, fmt.Errorf("worker process: %w", runErr)
	case parseErr != nil:
		return summary, parseErr
	}
	return summary, nil
}

// ParseSummary extracts the last JSON object line from worker output.
func ParseSummary(out []byte) (Summary, error) {
	var last string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "{") {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return Summary{}, fmt.Errorf("read worker output: %w", err)
	}
	if last == "" {
		return Summary{}, errors.New("worker produced no summary")
	}

	var s Summary
	if err := json.Unmarshal([]byte(last), &s); err != nil {
		return Summary{}, fmt.Errorf("decode worker summary: %w", err)
	}
	return s, nil
}

// WriteSummary prints s as a single JSON line.
func WriteSummary(w io.Writer, s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
