// Command livekv validates schemas, executes writes, watches live queries
// and runs scenarios against a livekv database.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/livekv/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
