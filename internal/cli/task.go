package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/agentq/internal/store"
	"github.com/me/agentq/pkg/model"
)

func newGetCmd() *cobra.Command {
	var events bool

	cmd := &cobra.Command{
		Use:   "get <task_id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			out := cmd.OutOrStdout()

			resp, err := client.Get("/api/v1/tasks/" + id)
			if err != nil {
				return fmt.Errorf("get task: %w", err)
			}
			var task model.Task
			if err := resp.decode(&task); err != nil {
				return err
			}
			printTask(out, &task)

			if !events {
				return nil
			}
			resp, err = client.Get("/api/v1/tasks/" + id + "/events")
			if err != nil {
				return fmt.Errorf("get events: %w", err)
			}
			var timeline []store.EventRecord
			if err := resp.decode(&timeline); err != nil {
				return err
			}
			fmt.Fprintln(out, "  Events:")
			for _, ev := range timeline {
				fmt.Fprintf(out, "    - %s  %s\n", ev.Timestamp.Local().Format("15:04:05.000"), ev.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&events, "events", "e", false, "Also show the recorded status transitions")
	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task_id>",
		Short: "Cancel a queued task",
		Long:  "Remove a task from the queue. Tasks that are already running cannot be cancelled.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			if _, err := client.Delete("/api/v1/tasks/" + id); err != nil {
				return fmt.Errorf("cancel task: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s cancelled\n", id)
			return nil
		},
	}
}

func newPositionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "position <task_id>",
		Short: "Show a task's place in the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			resp, err := client.Get("/api/v1/tasks/" + id + "/position")
			if err != nil {
				return fmt.Errorf("get position: %w", err)
			}
			var pos model.PositionResponse
			if err := resp.decode(&pos); err != nil {
				return err
			}
			if pos.Position == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s is not queued (running or finished)\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s is at position %d\n", id, pos.Position)
			return nil
		},
	}
}
