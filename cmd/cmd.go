// Package cmd wires the command line interface: training, evaluation,
// run inspection and the dashboard server.
package cmd

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pierrot-lc/snake-search/envconfig"
	"github.com/pierrot-lc/snake-search/version"
)

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

func versionHandler(cmd *cobra.Command, _ []string) {
	fmt.Fprintf(os.Stderr, "snake-search version %s\n", version.Version)
}

// NewCLI builds the root command with every subcommand attached.
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "snake-search",
		Short:         "Train agents that search images patch by patch",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	trainCmd := newTrainCmd()
	evalCmd := newEvalCmd()
	predictCmd := newPredictCmd()
	showCmd := newShowCmd()
	importCmd := newImportCmd()
	runsCmd := newRunsCmd()
	serveCmd := newServeCmd()
	configCmd := newConfigCmd()

	envVars := envconfig.AsMap()
	for _, cmd := range []*cobra.Command{trainCmd, evalCmd, predictCmd} {
		appendEnvDocs(cmd, []envconfig.EnvVar{
			envVars["SNAKE_RUNS"],
			envVars["SNAKE_NOPROGRESS"],
			envVars["SNAKE_THREADS"],
		})
	}
	appendEnvDocs(runsCmd, []envconfig.EnvVar{envVars["SNAKE_HOST"]})
	appendEnvDocs(serveCmd, []envconfig.EnvVar{
		envVars["SNAKE_DEBUG"],
		envVars["SNAKE_HOST"],
		envVars["SNAKE_ORIGINS"],
		envVars["SNAKE_RUNS"],
	})

	rootCmd.AddCommand(
		trainCmd,
		evalCmd,
		predictCmd,
		showCmd,
		importCmd,
		runsCmd,
		serveCmd,
		configCmd,
	)

	return rootCmd
}
