package cmd

import (
	"fmt"
	"os"
	"slices"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pierrot-lc/snake-search/checkpoint"
	"github.com/pierrot-lc/snake-search/format"
)

func newShowCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "show CHECKPOINT",
		Short: "Show the metadata and tensors of a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := checkpoint.Load(args[0])
			if err != nil {
				return err
			}

			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("  %-16s %s\n", "file", args[0])
			fmt.Printf("  %-16s %s\n", "size", format.HumanBytes(info.Size()))
			fmt.Printf("  %-16s %d\n", "tensors", len(c.Tensors))

			keys := make([]string, 0, len(c.KV))
			for k := range c.KV {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				if k == "train.config" {
					continue
				}
				fmt.Printf("  %-16s %v\n", k, c.KV[k])
			}
			fmt.Println()

			if verbose {
				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"Tensor", "Shape", "Type", "Params"})
				table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
				table.SetAlignment(tablewriter.ALIGN_LEFT)
				table.SetNoWhiteSpace(true)
				table.SetTablePadding("    ")
				table.SetBorder(false)
				table.SetHeaderLine(false)
				table.SetColumnSeparator("")

				var total int
				for _, t := range c.Tensors {
					params := 1
					for _, d := range t.Shape {
						params *= d
					}
					total += params
					table.Append([]string{
						t.Name,
						fmt.Sprintf("%v", t.Shape),
						t.DType.String(),
						format.HumanNumber(uint64(params)),
					})
				}
				table.Render()
				fmt.Printf("\n  total parameters: %s\n", format.HumanNumber(uint64(total)))
			}

			if config := c.ConfigYAML(); config != "" && verbose {
				fmt.Println("\n  configuration:")
				fmt.Println(config)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show the tensor table and config")
	return cmd
}
