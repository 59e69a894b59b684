// Command buildify is the workflow and automation engine's operator tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/tbmahfudi/app-buildify-sub002/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
