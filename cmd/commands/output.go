package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dohr-michael/swarm/internal/tasks"
)

const timeFormat = "2006-01-02 15:04:05"

func printTask(w io.Writer, t *tasks.Task) {
	fmt.Fprintf(w, "ID:          %s\n", t.ID)
	fmt.Fprintf(w, "Status:      %s\n", t.Status)
	fmt.Fprintf(w, "Mode:        %s\n", t.Mode)
	if t.Model != "" {
		fmt.Fprintf(w, "Model:       %s\n", t.Model)
	}
	fmt.Fprintf(w, "Created:     %s\n", t.CreatedAt.Local().Format(timeFormat))
	if t.StartedAt != nil {
		fmt.Fprintf(w, "Started:     %s\n", t.StartedAt.Local().Format(timeFormat))
	}
	if t.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:   %s\n", t.CompletedAt.Local().Format(timeFormat))
	}
	if t.Duration != nil {
		fmt.Fprintf(w, "Duration:    %s\n", time.Duration(*t.Duration)*time.Millisecond)
	}
	if t.Cost != nil {
		fmt.Fprintf(w, "Cost:        $%.4f\n", *t.Cost)
	}
	if t.WorkspacePath != "" {
		fmt.Fprintf(w, "Workspace:   %s\n", t.WorkspacePath)
	}
	if len(t.Tags) > 0 {
		pairs := make([]string, 0, len(t.Tags))
		for k, v := range t.Tags {
			pairs = append(pairs, k+"="+v)
		}
		fmt.Fprintf(w, "Tags:        %s\n", strings.Join(pairs, ", "))
	}

	fmt.Fprintf(w, "\nPrompt:\n%s\n", t.Prompt)
	if t.Error != nil {
		fmt.Fprintf(w, "\nError: %s: %s\n", t.Error.Code, t.Error.Message)
	}
	if t.Result != nil {
		fmt.Fprintf(w, "\nResult (valid=%t):\n%s\n", t.Result.Valid, indentJSON(t.Result.Data))
	}
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// truncate shortens s to n runes on a single line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func age(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
