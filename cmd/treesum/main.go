// Command treesum sums a file of integers with a tree of cooperating
// processes. See "treesum --help".
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/treesum/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands report their own failures; only cobra's usage errors
		// still need printing.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
