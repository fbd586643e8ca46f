package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/me/agentq/pkg/model"
)

func newSubmitCmd() *cobra.Command {
	var (
		mode         string
		modelName    string
		priority     string
		meta         map[string]string
		metadataFile string
		wait         bool
	)

	cmd := &cobra.Command{
		Use:   "submit <query...>",
		Short: "Queue a task",
		Long: `Queue a task for the agent. The model is picked from --mode by the server's
routing policy unless --model is given. With --wait the command follows the
task until it finishes and prints the result.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			metadata := map[string]string{}
			if metadataFile != "" {
				data, err := os.ReadFile(metadataFile)
				if err != nil {
					return fmt.Errorf("read metadata: %w", err)
				}
				if err := yaml.Unmarshal(data, &metadata); err != nil {
					return fmt.Errorf("parse metadata: %w", err)
				}
				logger.Debug("parsed metadata", "count", len(metadata))
			}
			for k, v := range meta {
				metadata[k] = v
			}
			if len(metadata) == 0 {
				metadata = nil
			}

			resp, err := client.Post("/api/v1/tasks", model.EnqueueRequest{
				Query:    strings.Join(args, " "),
				Mode:     mode,
				Model:    modelName,
				Priority: priority,
				Metadata: metadata,
			})
			if err != nil {
				return fmt.Errorf("submit task: %w", err)
			}
			var created model.EnqueueResponse
			if err := resp.decode(&created); err != nil {
				return err
			}

			if created.Position > 0 {
				fmt.Fprintf(out, "Task queued: %s (position %d)\n", created.ID, created.Position)
			} else {
				fmt.Fprintf(out, "Task started: %s\n", created.ID)
			}
			if !wait {
				return nil
			}

			final, err := followTask(cmd.Context(), created.ID, func(ev model.TaskEvent) {
				fmt.Fprintf(out, "  %s\n", ev.Status)
			})
			if err != nil {
				return err
			}
			printTask(out, final)
			if final.Status == model.TaskStatusFailed {
				return fmt.Errorf("task %s failed: %s", final.ID, final.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Agent mode (research, trade, browse, grammar, image, agent)")
	cmd.Flags().StringVar(&modelName, "model", "", "Model to run on, overriding the routing policy")
	cmd.Flags().StringVarP(&priority, "priority", "p", "normal", "Priority (high, normal, low)")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "Metadata key=value pairs")
	cmd.Flags().StringVar(&metadataFile, "metadata-file", "", "YAML file of metadata key/value pairs")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the task to finish and print the result")
	return cmd
}

// followTask streams events for id until it reaches a terminal state and
// returns the final task. onEvent sees every transition after the first.
func followTask(ctx context.Context, id string, onEvent func(model.TaskEvent)) (*model.Task, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var final *model.Task
	err := client.Stream(ctx, "/api/v1/events?task="+id, func(event string, data []byte) error {
		if event == "init" {
			var t model.Task
			if err := json.Unmarshal(data, &t); err != nil {
				return fmt.Errorf("parse task: %w", err)
			}
			final = &t
			return nil
		}
		var ev model.TaskEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("parse event: %w", err)
		}
		onEvent(ev)
		final = ev.Task
		if ev.Status.IsTerminal() {
			return errStopStream
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("follow task: %w", err)
	}
	if final == nil || !final.Status.IsTerminal() {
		return nil, fmt.Errorf("follow task: stream for %s ended before the task finished", id)
	}
	return final, nil
}
