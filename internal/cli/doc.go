// Package cli implements the DotCelery operator command-line tool.
//
// # Overview
//
// The CLI is a thin client of the operator HTTP API (internal/api); it
// never imports the engine's internal packages. All interaction happens
// over HTTP, so the CLI can run from any machine that can reach the API.
//
//	client := cli.NewClient("http://localhost:8080")
//	result, err := client.GetTaskResult("t1")
//
// # Output
//
// Two output modes: tables (text/tabwriter), the default, or JSON
// (json.MarshalIndent) with --json. Data goes to stdout, status messages
// (Success/Error) go to stderr, so `dotcelery-cli task inspect t1 --json | jq .`
// composes normally.
//
// # Commands
//
// Commands are grouped by resource:
//   - task: inspect, revoke
//   - saga: inspect, retry, cancel
//   - queue: partition, kill-switch, kill-switch reset, dead-letters
//
// Each group is built by a factory (NewTaskCmd, etc.) taking clientFn and
// outputFn closures, so Client/Output construction is deferred until after
// persistent flags are parsed.
package cli
