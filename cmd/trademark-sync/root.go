package main

import (
	"github.com/spf13/cobra"

	"github.com/TitoGod/scraping-colombia/pkg/config"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "trademark-sync",
		Short:        "Synchronize the trademark table with the Colombian registry",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load (default .env)")
	flags.String("mode", "active", "registry side to sync: active or inactive")
	flags.String("as-of", "", "planning date YYYY-MM-DD (default today)")
	flags.String("artifacts-dir", "tmp", "directory of partition artifacts")
	flags.String("reports-dir", "reports", "directory of CSV reports")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("log-pretty", false, "human-readable console logs")
	flags.Int("inner-concurrency", 2, "concurrent partition fetches per worker")
	flags.Bool("headless", true, "run the browser headless")

	bindFlags(a, root, true, map[string]string{
		config.KeyMode:             "mode",
		config.KeyAsOf:             "as-of",
		config.KeyArtifactsDir:     "artifacts-dir",
		config.KeyReportsDir:       "reports-dir",
		config.KeyLogLevel:         "log-level",
		config.KeyLogPretty:        "log-pretty",
		config.KeyInnerConcurrency: "inner-concurrency",
		config.KeyHeadless:         "headless",
	})

	root.AddCommand(
		newSyncCmd(a),
		newWorkerCmd(a),
		newPlanCmd(a),
		newDriftCmd(a),
	)
	return root
}

// bindFlags ties config keys to flags of cmd; a flag only overrides the
// environment when it is set explicitly.
func bindFlags(a *app, cmd *cobra.Command, persistent bool, keys map[string]string) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for key, name := range keys {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}
}
