package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pierrot-lc/snake-search/checkpoint"
)

func newImportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "import STATE_DICT",
		Short: "Convert a torch state dict into a checkpoint file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()

			c, err := checkpoint.ImportTorch(args[0])
			if err != nil {
				return err
			}

			out := output
			if out == "" {
				out = strings.TrimSuffix(args[0], ".pt") + ".snsf"
			}

			if err := checkpoint.Save(out, c); err != nil {
				return err
			}

			fmt.Printf("imported %d tensors into %s\n", len(c.Tensors), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output checkpoint path")
	return cmd
}
