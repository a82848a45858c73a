package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pierrot-lc/snake-search/envconfig"
	"github.com/pierrot-lc/snake-search/reinforce"
	"github.com/pierrot-lc/snake-search/tracker"
)

func newTrainCmd() *cobra.Command {
	var (
		configPath string
		overrides  []string
		group      string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a search policy",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()

			cfg, err := loadConfig(configPath, overrides)
			if err != nil {
				return err
			}
			if group != "" {
				cfg.Group = group
			}

			policy, err := buildPolicy(cfg)
			if err != nil {
				return err
			}
			slog.Info("policy built", "summary", policy.Describe())

			train, test, err := buildLoaders(cfg)
			if err != nil {
				return err
			}
			defer train.Close()
			if test != nil {
				defer test.Close()
			}

			store, err := tracker.Open(envconfig.Runs())
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.NewRun(cfg.Group, cfg.DumpString())
			if err != nil {
				return err
			}
			slog.Info("run created", "id", run.ID, "dir", run.Dir)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			trainer := reinforce.NewTrainer(policy, train, test, cfg, run)
			if err := trainer.Train(ctx); err != nil {
				return err
			}

			return run.Finish()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringArrayVarP(&overrides, "set", "s", nil, "Override a config key, key=value")
	cmd.Flags().StringVarP(&group, "group", "g", "", "Group name for this run")
	return cmd
}
