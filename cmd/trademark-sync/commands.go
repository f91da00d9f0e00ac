package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TitoGod/scraping-colombia/pkg/checkpoint"
	"github.com/TitoGod/scraping-colombia/pkg/config"
	"github.com/TitoGod/scraping-colombia/pkg/partition"
	"github.com/TitoGod/scraping-colombia/pkg/pipeline"
	"github.com/TitoGod/scraping-colombia/pkg/scheduler"
)

func newSyncCmd(a *app) *cobra.Command {
	var inProcess bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch every partition, apply it to the store and correct drift",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg

			if err := cfg.RequireStore(); err != nil {
				return err
			}
			if err := cfg.EnsureDirs(); err != nil {
				return err
			}
			artifacts, err := checkpoint.NewFS(cfg.ArtifactsDir)
			if err != nil {
				return &config.Error{Keys: []string{config.KeyArtifactsDir}, Reason: err.Error()}
			}

			defer a.serveMetrics()()

			st, closeStore, err := a.openStore(ctx, cfg.Database, a.component("store"))
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore()

			a.connectRedis(ctx)
			alerts := a.alerts()
			reports, err := a.reportSink()
			if err != nil {
				return fmt.Errorf("report sink: %w", err)
			}

			var runner scheduler.Runner
			if inProcess {
				runner = scheduler.NewWorker(partition.NewPlanner(artifacts, a.component("planner")), artifacts,
					a.sessions(a.guard()), a.retryPolicy("partition"), alerts,
					scheduler.PoolConfig{Concurrency: cfg.InnerConcurrency}, a.component("worker"))
			} else {
				runner, err = scheduler.NewProcessRunner(scheduler.ProcessConfig{
					Timeout: cfg.WorkerTimeout,
					Env:     a.workerEnv(),
					Args:    envFileArgs(a.envFiles),
				}, a.component("dispatcher"))
				if err != nil {
					return err
				}
			}

			p, err := pipeline.New(pipeline.Deps{
				Artifacts:   artifacts,
				Dispatcher:  scheduler.NewDispatcher(runner, cfg.OuterWorkers, a.component("dispatcher")),
				Store:       st,
				Normalizer:  a.normalizer(),
				Lookups:     a.sessions(a.guard()),
				LookupRetry: a.retryPolicy("lookup"),
				LookupCache: a.lookupCache(),
				Reports:     reports,
				Alerts:      alerts,
			}, pipeline.Options{
				Mode:             cfg.Mode,
				AsOf:             cfg.AsOf,
				ReportsDir:       cfg.ReportsDir,
				Incremental:      cfg.Incremental,
				CleanupArtifacts: cfg.CleanupArtifacts,
				Country:          cfg.Database.Country,
				DriftConcurrency: cfg.DriftConcurrency,
			}, a.component("pipeline"))
			if err != nil {
				return err
			}

			_, err = p.Run(ctx)
			return err
		},
	}

	cmd.Flags().BoolVar(&inProcess, "in-process", false, "run workers as goroutines instead of processes")
	cmd.Flags().Int("workers", 2, "number of outer workers")
	cmd.Flags().Bool("incremental", true, "apply artifacts one at a time")
	bindFlags(a, cmd, false, map[string]string{
		config.KeyOuterWorkers: "workers",
		config.KeyIncremental:  "incremental",
	})
	return cmd
}

func newWorkerCmd(a *app) *cobra.Command {
	var index, count int

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Fetch one shard of the plan and print its summary as JSON",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg

			shard, err := scheduler.ShardOf(cfg.Mode, cfg.AsOf, index, count)
			if err != nil {
				return &config.Error{Keys: []string{"shard", "shards"}, Reason: err.Error()}
			}
			artifacts, err := checkpoint.NewFS(cfg.ArtifactsDir)
			if err != nil {
				return &config.Error{Keys: []string{config.KeyArtifactsDir}, Reason: err.Error()}
			}

			a.connectRedis(ctx)
			alerts := a.alerts()
			defer alerts.Flush(5 * time.Second)

			logger := a.component("worker")
			worker := scheduler.NewWorker(partition.NewPlanner(artifacts, logger), artifacts,
				a.sessions(a.guard()), a.retryPolicy("partition"), alerts,
				scheduler.PoolConfig{Concurrency: cfg.InnerConcurrency}, logger)

			summary, runErr := worker.RunShard(ctx, shard)
			if err := scheduler.WriteSummary(a.stdout, summary); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().IntVar(&index, "shard", 0, "shard index")
	cmd.Flags().IntVar(&count, "shards", 1, "number of shards")
	return cmd
}

func newPlanCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the partitions a sync would fetch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			parts := partition.All(cfg.Mode, cfg.AsOf)

			if !all {
				artifacts, err := checkpoint.NewFS(cfg.ArtifactsDir)
				if err != nil {
					return &config.Error{Keys: []string{config.KeyArtifactsDir}, Reason: err.Error()}
				}
				parts, err = partition.NewPlanner(artifacts, a.component("planner")).Pending(parts)
				if err != nil {
					return err
				}
			}

			for _, p := range parts {
				fmt.Fprintln(a.stdout, p.ID())
			}
			a.logger.Info().Int("partitions", len(parts)).Bool("all", all).Msg("Plan printed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include checkpointed partitions")
	return cmd
}

func newDriftCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drift",
		Short: "Correct active records missing from the current artifacts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg

			if err := cfg.RequireStore(); err != nil {
				return err
			}
			if err := cfg.EnsureDirs(); err != nil {
				return err
			}
			artifacts, err := checkpoint.NewFS(cfg.ArtifactsDir)
			if err != nil {
				return &config.Error{Keys: []string{config.KeyArtifactsDir}, Reason: err.Error()}
			}

			st, closeStore, err := a.openStore(ctx, cfg.Database, a.component("store"))
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore()

			a.connectRedis(ctx)
			reports, err := a.reportSink()
			if err != nil {
				return fmt.Errorf("report sink: %w", err)
			}

			p, err := pipeline.New(pipeline.Deps{
				Artifacts:   artifacts,
				Store:       st,
				Normalizer:  a.normalizer(),
				Lookups:     a.sessions(a.guard()),
				LookupRetry: a.retryPolicy("lookup"),
				LookupCache: a.lookupCache(),
				Reports:     reports,
				Alerts:      a.alerts(),
			}, pipeline.Options{
				Mode:             partition.ModeActive,
				AsOf:             cfg.AsOf,
				ReportsDir:       cfg.ReportsDir,
				Country:          cfg.Database.Country,
				DriftConcurrency: cfg.DriftConcurrency,
			}, a.component("pipeline"))
			if err != nil {
				return err
			}

			res, err := p.RunDrift(ctx)
			a.logger.Info().
				Int("missing", len(res.Missing)).
				Int("corrected", res.Corrected).
				Int("not_found", res.NotFound).
				Int("unmapped", res.Unmapped).
				Int("failed", res.Failed).
				Msg("Drift finished")
			return err
		},
	}
}

func envFileArgs(files []string) []string {
	var args []string
	for _, f := range files {
		args = append(args, "--env-file", f)
	}
	return args
}
