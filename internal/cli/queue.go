package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewQueueCmd builds the queue command group.
func NewQueueCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect partition locks, the kill switch and dead letters",
	}

	cmd.AddCommand(
		newQueuePartitionCmd(clientFn, outputFn),
		newQueueKillSwitchCmd(clientFn, outputFn),
		newQueueDeadLettersCmd(clientFn, outputFn),
	)

	return cmd
}

func newQueuePartitionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "partition KEY",
		Short: "Show a partition key's lock status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			s, err := client.GetPartitionStatus(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"KEY", "LOCKED", "HOLDER"},
				[][]string{{s.Key, strconv.FormatBool(s.Locked), s.Holder}},
				s,
			)
			return nil
		},
	}
}

func newQueueKillSwitchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill-switch",
		Short: "Show the worker kill switch's state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			s, err := client.GetKillSwitchStatus()
			if err != nil {
				return err
			}

			out.Print([]string{"STATE"}, [][]string{{s.State}}, s)
			return nil
		},
	}

	cmd.AddCommand(newQueueKillSwitchResetCmd(clientFn, outputFn))
	return cmd
}

func newQueueKillSwitchResetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Force the kill switch back to the active state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			s, err := client.ResetKillSwitch()
			if err != nil {
				return err
			}

			out.Success("Kill switch reset")
			out.Print([]string{"STATE"}, [][]string{{s.State}}, s)
			return nil
		},
	}
}

func newQueueDeadLettersCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int
	var offset int

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List dead-lettered tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			entries, err := client.ListDeadLetters(limit, offset)
			if err != nil {
				return err
			}

			headers := []string{"ID", "REASON", "EXCEPTION_TYPE", "CREATED_AT"}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{e.ID, e.Reason, e.ExceptionType, e.CreatedAt}
			}

			out.Print(headers, rows, entries)
			if len(entries) == 0 {
				fmt.Fprintln(out.errW, "No dead-lettered tasks")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of entries to skip")

	return cmd
}
