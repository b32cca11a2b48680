// Command tickbridge runs and inspects engine scenarios.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tickbridge/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
