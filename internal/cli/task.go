package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewTaskCmd builds the task command group.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and revoke tasks",
	}

	cmd.AddCommand(
		newTaskInspectCmd(clientFn, outputFn),
		newTaskRevokeCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskInspectCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect TASK_ID",
		Short: "Show the stored result for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.GetTaskResult(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"TASK_ID", "STATE", "COMPLETED_AT", "DURATION"},
				[][]string{{result.TaskID, result.State, result.CompletedAt, result.Duration.String()}},
				result,
			)
			return nil
		},
	}
}

func newTaskRevokeCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var terminate bool
	var signal string

	cmd := &cobra.Command{
		Use:   "revoke TASK_ID",
		Short: "Revoke a task, optionally signaling a running handler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.RevokeTask(args[0], RevokeRequest{Terminate: terminate, Signal: signal}); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task revoked: %s", args[0]))
			return nil
		},
	}

	cmd.Flags().BoolVar(&terminate, "terminate", false, "Signal a running handler rather than only suppressing re-delivery")
	cmd.Flags().StringVar(&signal, "signal", "TERM", "Signal to send when --terminate is set")

	return cmd
}
