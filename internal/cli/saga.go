package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewSagaCmd builds the saga command group.
func NewSagaCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saga",
		Short: "Inspect, retry and cancel sagas",
	}

	cmd.AddCommand(
		newSagaInspectCmd(clientFn, outputFn),
		newSagaRetryCmd(clientFn, outputFn),
		newSagaCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func sagaRow(s *SagaResponse) []string {
	return []string{s.ID, s.Name, s.State, fmt.Sprintf("%d/%d", s.Completed, s.Total)}
}

func printSaga(out *Output, s *SagaResponse) {
	headers := []string{"ID", "NAME", "STATE", "PROGRESS"}
	out.Print(headers, [][]string{sagaRow(s)}, s)
}

func newSagaInspectCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect SAGA_ID",
		Short: "Show a saga's current state and step progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			s, err := client.GetSaga(args[0])
			if err != nil {
				return err
			}

			printSaga(out, s)
			if !out.jsonMode && len(s.Steps) > 0 {
				stepHeaders := []string{"ORDER", "NAME", "STATE", "ERROR"}
				rows := make([][]string, len(s.Steps))
				for i, step := range s.Steps {
					rows[i] = []string{strconv.Itoa(step.Order), step.Name, step.State, step.Error}
				}
				out.Table(stepHeaders, rows)
			}
			return nil
		},
	}
}

func newSagaRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "retry SAGA_ID",
		Short: "Retry a saga's failed step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			s, err := client.RetrySaga(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Saga retry dispatched: %s", args[0]))
			printSaga(out, s)
			return nil
		},
	}
}

func newSagaCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel SAGA_ID",
		Short: "Cancel a saga, triggering compensation of completed steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			s, err := client.CancelSaga(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Saga cancelled: %s", args[0]))
			printSaga(out, s)
			return nil
		},
	}
}
