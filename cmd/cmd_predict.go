package cmd

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pierrot-lc/snake-search/dataset"
	"github.com/pierrot-lc/snake-search/draw"
	"github.com/pierrot-lc/snake-search/env"
	"github.com/pierrot-lc/snake-search/reinforce"
)

func newPredictCmd() *cobra.Command {
	var (
		checkpointPath string
		overrides      []string
		output         string
	)

	cmd := &cobra.Command{
		Use:   "predict IMAGE",
		Short: "Run the greedy policy on one image and render its search path",
		Args:  cobra.ExactArgs(1),
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

			img, err := dataset.LoadImage(args[0])
			if err != nil {
				return err
			}

			needle := dataset.NewNeedle(dataset.Single(img), cfg.Data.ImageSize, cfg.Data.FillMode)
			sample, err := needle.At(0)
			if err != nil {
				return err
			}
			batch, err := dataset.Collate([]dataset.Sample{sample})
			if err != nil {
				return err
			}

			rng := rand.New(rand.NewSource(cfg.Seed))
			e, err := env.New(batch, cfg.Env.PatchSize, cfg.Env.MaxEpLen, cfg.Env.NGlimpsLevels, rng)
			if err != nil {
				return err
			}

			steps := reinforce.Greedy(e, policy)
			positions := make([][2]int, 0, len(steps))
			for i, s := range steps {
				if i > 0 && !steps[i-1].Live[0] {
					break
				}
				positions = append(positions, s.Positions[0])
			}

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()

			if strings.HasSuffix(output, ".gif") {
				frames := draw.Frames(batch.RGBA[0], positions, cfg.Env.PatchSize, batch.BBoxes[0])
				if err := draw.EncodeGIF(f, frames, 50); err != nil {
					return err
				}
			} else {
				rendered := draw.Trajectory(batch.RGBA[0], positions, cfg.Env.PatchSize, batch.BBoxes[0])
				if err := draw.EncodePNG(f, rendered); err != nil {
					return err
				}
			}

			fmt.Printf("visited %d patches, wrote %s\n", len(positions), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&checkpointPath, "checkpoint", "w", "", "Checkpoint to use (default: newest run)")
	cmd.Flags().StringArrayVarP(&overrides, "set", "s", nil, "Override a config key, key=value")
	cmd.Flags().StringVarP(&output, "output", "o", "trajectory.png", "Output image (.png or .gif)")
	return cmd
}
