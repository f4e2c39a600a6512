// Command formsync compiles, validates and exercises reactive form documents.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "formsync: %v\n", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
