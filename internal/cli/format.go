package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/agentq/pkg/model"
)

// errStopStream ends a Stream callback loop cleanly.
var errStopStream = errors.New("stop stream")

func printTask(w io.Writer, t *model.Task) {
	fmt.Fprintf(w, "Task: %s\n", t.ID)
	fmt.Fprintf(w, "  Status:   %s\n", t.Status)
	fmt.Fprintf(w, "  Model:    %s\n", t.ResourceKey)
	fmt.Fprintf(w, "  Priority: %s\n", t.Priority)
	if t.Payload.Mode != "" {
		fmt.Fprintf(w, "  Mode:     %s\n", t.Payload.Mode)
	}
	fmt.Fprintf(w, "  Query:    %s\n", truncate(t.Payload.Query, 80))
	fmt.Fprintf(w, "  Created:  %s (%s)\n", t.CreatedAt.Local().Format(time.DateTime), humanize.Time(t.CreatedAt))
	if t.StartedAt != nil {
		fmt.Fprintf(w, "  Waited:   %s\n", t.WaitTime().Round(time.Millisecond))
	}
	if t.CompletedAt != nil {
		fmt.Fprintf(w, "  Ran:      %s\n", t.RunTime().Round(time.Millisecond))
	}
	if t.Error != "" {
		fmt.Fprintf(w, "  Error:    %s\n", t.Error)
	}
	if t.Result != nil {
		fmt.Fprintf(w, "  Result:   %s\n", formatResult(t.Result))
	}
}

// formatResult shows the response text of a model result when there is one.
func formatResult(v any) string {
	if m, ok := v.(map[string]any); ok {
		if resp, ok := m["response"].(string); ok {
			return resp
		}
	}
	return fmt.Sprint(v)
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-3]) + "..."
}
