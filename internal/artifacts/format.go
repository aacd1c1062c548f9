package artifacts

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/ampli/pkg/ledger"
	"github.com/olekukonko/tablewriter"
)

// OutputFormat specifies how to format the artifact list output.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	// OutputFormatJSONL outputs complete artifacts as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// Write renders artifacts in the given format.
func Write(w io.Writer, list []*ledger.Artifact, format OutputFormat, namespace string) error {
	switch format {
	case OutputFormatDefault, "":
		return FormatTable(w, list, namespace)
	case OutputFormatJSONL:
		return FormatJSONL(w, list)
	}
	return fmt.Errorf("unknown output format: %s (must be 'default' or 'jsonl')", format)
}

// FormatTable writes artifacts as a table.
func FormatTable(w io.Writer, list []*ledger.Artifact, namespace string) error {
	if len(list) == 0 {
		fmt.Fprintf(w, "No artifacts found in namespace '%s'\n", namespace)
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Stage", "Name", "Type", "Size", "Age")
	for _, a := range list {
		if err := table.Append([]string{
			shortID(a.ID),
			a.Stage,
			a.Name,
			a.Type,
			formatSize(a.Size),
			formatAge(a.CreatedAtMs),
		}); err != nil {
			return fmt.Errorf("failed to format artifact %s: %w", a.ID, err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	noun := "artifact"
	if len(list) != 1 {
		noun = "artifacts"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(list), noun)
	return nil
}

// FormatJSONL writes one JSON object per artifact per line, for jq.
func FormatJSONL(w io.Writer, list []*ledger.Artifact) error {
	for _, a := range list {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal artifact to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one artifact as indented JSON.
func FormatSingleJSON(w io.Writer, a *ledger.Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact to JSON: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// formatAge shows a creation time relative to now, e.g. "2m ago".
func formatAge(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}
	diff := time.Since(time.UnixMilli(timestampMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
}
