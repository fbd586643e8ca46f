package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/agentq/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, running tasks and limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/status")
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}
			var st model.SchedulerStatus
			if err := resp.decode(&st); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func printStatus(w io.Writer, st model.SchedulerStatus) {
	fmt.Fprintf(w, "Queued:  %d\n", st.Queued)
	fmt.Fprintf(w, "Running: %d / %d\n", st.Running, st.MaxParallel)
	loaded := "none"
	if len(st.LoadedUnits) > 0 {
		loaded = strings.Join(st.LoadedUnits, ", ")
	}
	fmt.Fprintf(w, "Models:  %d / %d (%s)\n", len(st.LoadedUnits), st.MaxConcurrentUnits, loaded)
}

func newLimitsCmd() *cobra.Command {
	var maxParallel, maxUnits int

	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Change the parallelism and loaded-model ceilings",
		Long: `Change the scheduler's ceilings at runtime. Lowering --max-parallel never
interrupts running tasks; lowering --max-units evicts idle models.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req model.LimitsRequest
			if cmd.Flags().Changed("max-parallel") {
				req.MaxParallel = &maxParallel
			}
			if cmd.Flags().Changed("max-units") {
				req.MaxConcurrentUnits = &maxUnits
			}
			if req.MaxParallel == nil && req.MaxConcurrentUnits == nil {
				return fmt.Errorf("set --max-parallel or --max-units")
			}

			resp, err := client.Put("/api/v1/limits", req)
			if err != nil {
				return fmt.Errorf("set limits: %w", err)
			}
			var st model.SchedulerStatus
			if err := resp.decode(&st); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "Maximum tasks running at once")
	cmd.Flags().IntVar(&maxUnits, "max-units", 0, "Maximum models loaded at once")
	return cmd
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List loaded models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			resp, err := client.Get("/api/v1/models")
			if err != nil {
				return fmt.Errorf("list models: %w", err)
			}
			var units []model.ResourceUnit
			if err := resp.decode(&units); err != nil {
				return err
			}
			if len(units) == 0 {
				fmt.Fprintln(out, "No models loaded.")
				return nil
			}

			fmt.Fprintf(out, "%-24s  %-6s  %-16s  %s\n", "MODEL", "TASKS", "LOADED", "LAST USED")
			for _, u := range units {
				fmt.Fprintf(out, "%-24s  %-6d  %-16s  %s\n",
					u.Key, u.Pinned, humanize.Time(u.LoadedAt), humanize.Time(u.LastUsedAt))
			}
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [task_id]",
		Short: "Stream task events",
		Long:  "Print task transitions as they happen. With a task ID the stream ends when that task finishes.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := "/api/v1/events"
			if len(args) == 1 {
				path += "?task=" + args[0]
			}

			return client.Stream(cmd.Context(), path, func(event string, data []byte) error {
				if event == "init" {
					if len(args) == 0 {
						return nil
					}
					var t model.Task
					if err := json.Unmarshal(data, &t); err != nil {
						return fmt.Errorf("parse task: %w", err)
					}
					printEvent(out, model.TaskEvent{Status: t.Status, Task: &t, Timestamp: lastChange(&t)})
					return nil
				}
				var ev model.TaskEvent
				if err := json.Unmarshal(data, &ev); err != nil {
					return fmt.Errorf("parse event: %w", err)
				}
				printEvent(out, ev)
				return nil
			})
		},
	}
}

func printEvent(w io.Writer, ev model.TaskEvent) {
	line := fmt.Sprintf("%s  %-9s  %s  %s", ev.Timestamp.Local().Format("15:04:05.000"), ev.Status, ev.Task.ID, ev.Task.ResourceKey)
	switch ev.Status {
	case model.TaskStatusRunning:
		line += fmt.Sprintf("  waited %s", ev.Task.WaitTime().Round(time.Millisecond))
	case model.TaskStatusCompleted:
		line += fmt.Sprintf("  ran %s", ev.Task.RunTime().Round(time.Millisecond))
	case model.TaskStatusFailed:
		line += "  " + ev.Task.Error
	}
	fmt.Fprintln(w, line)
}

// lastChange returns when t last changed status.
func lastChange(t *model.Task) time.Time {
	switch {
	case t.CompletedAt != nil:
		return *t.CompletedAt
	case t.StartedAt != nil:
		return *t.StartedAt
	}
	return t.CreatedAt
}

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		offset int
		status string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			path := fmt.Sprintf("/api/v1/history?limit=%d&offset=%d", limit, offset)
			if status != "" {
				path += "&status=" + status
			}
			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}
			var tasks []model.Task
			if err := resp.decode(&tasks); err != nil {
				return err
			}

			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks found.")
				return nil
			}

			fmt.Fprintf(out, "%-41s  %-9s  %-14s  %-6s  %s\n", "ID", "STATUS", "MODEL", "PRIO", "CREATED")
			for _, t := range tasks {
				fmt.Fprintf(out, "%-41s  %-9s  %-14s  %-6s  %s\n",
					t.ID, t.Status, t.ResourceKey, t.Priority, humanize.Time(t.CreatedAt))
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(tasks), resp.Pagination.Total)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of tasks to show (max 100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many tasks")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only show tasks with this status")
	return cmd
}
