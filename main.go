package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/pierrot-lc/snake-search/cmd"
)

func main() {
	cobra.CheckErr(cmd.NewCLI().ExecuteContext(context.Background()))
}
