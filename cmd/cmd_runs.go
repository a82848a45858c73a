package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pierrot-lc/snake-search/api"
	"github.com/pierrot-lc/snake-search/format"
)

func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "runs",
		Aliases: []string{"ls"},
		Short:   "List training runs known to the dashboard server",
		Args:    cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := api.ClientFromEnvironment()
			if err != nil {
				return err
			}

			runs, err := client.Runs(cmd.Context())
			if err != nil {
				return err
			}

			// last recorded found-percentage per run, to mark the best one
			found := make([]float64, len(runs))
			best := -1
			for i, r := range runs {
				found[i] = -1
				metrics, err := client.Metrics(cmd.Context(), r.ID)
				if err != nil {
					continue
				}
				if series := metrics.Metrics["percentage"]; len(series) > 0 {
					found[i] = series[len(series)-1].Value
					if best < 0 || found[i] > found[best] {
						best = i
					}
				}
			}

			var data [][]string
			for i, r := range runs {
				status := "running"
				if r.Finished {
					status = "finished"
				}
				percentage := "-"
				if found[i] >= 0 {
					percentage = fmt.Sprintf("%.1f%%", found[i]*100)
					if i == best {
						percentage += " *"
					}
				}
				data = append(data, []string{
					r.ID,
					r.Group,
					status,
					percentage,
					format.HumanTime(r.CreatedAt, "never"),
				})
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Group", "Status", "Found", "Created"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()

			if len(runs) == 0 {
				fmt.Println("no runs recorded yet")
			}
			return nil
		},
	}
}
