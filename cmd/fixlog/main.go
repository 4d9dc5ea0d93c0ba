// Command fixlog inspects and maintains FIX session message logs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/fixsession/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
