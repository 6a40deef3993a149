// Command dotcelery-cli is the operator command-line tool for DotCelery. It
// talks to the operator HTTP API (internal/api) exclusively over HTTP.
//
// Usage:
//
//	dotcelery-cli [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Commands:
//
//	task   Inspect and revoke tasks
//	saga   Inspect, retry and cancel sagas
//	queue  Inspect partition locks, the kill switch and dead letters
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotcelery/dotcelery/internal/cli"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "dotcelery-cli",
		Short:         "DotCelery CLI — distributed task queue operator tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "Operator API URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewSagaCmd(clientFn, outputFn),
		cli.NewQueueCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
