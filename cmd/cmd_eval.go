package cmd

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/pierrot-lc/snake-search/env"
	"github.com/pierrot-lc/snake-search/reinforce"
)

func newEvalCmd() *cobra.Command {
	var (
		checkpointPath string
		overrides      []string
		batches        int
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a trained policy on held-out batches",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()

			path := checkpointPath
			if path == "" {
				var err error
				if path, err = defaultCheckpoint(); err != nil {
					return err
				}
			}

			policy, cfg, err := loadPolicy(path, overrides)
			if err != nil {
				return err
			}

			train, test, err := buildLoaders(cfg)
			if err != nil {
				return err
			}
			train.Close()
			if test == nil {
				return fmt.Errorf("dataset %q has no held-out split", cfg.Data.Dataset)
			}
			defer test.Close()

			rng := rand.New(rand.NewSource(cfg.Seed))
			ctx := context.Background()

			var percentage, length float64
			for i := 0; i < batches; i++ {
				batch, err := test.Next(ctx)
				if err != nil {
					return err
				}
				e, err := env.New(batch, cfg.Env.PatchSize, cfg.Env.MaxEpLen, cfg.Env.NGlimpsLevels, rng)
				if err != nil {
					return err
				}
				r := reinforce.Evaluate(e, policy)
				percentage += r.Percentage
				length += r.Length
			}

			fmt.Printf("checkpoint   %s\n", path)
			fmt.Printf("batches      %d x %d\n", batches, cfg.Data.BatchSize)
			fmt.Printf("found        %.1f%%\n", percentage/float64(batches)*100)
			fmt.Printf("episode len  %.1f\n", length/float64(batches))
			return nil
		},
	}

	cmd.Flags().StringVarP(&checkpointPath, "checkpoint", "w", "", "Checkpoint to evaluate (default: newest run)")
	cmd.Flags().StringArrayVarP(&overrides, "set", "s", nil, "Override a config key, key=value")
	cmd.Flags().IntVarP(&batches, "batches", "n", 10, "Number of held-out batches")
	return cmd
}
