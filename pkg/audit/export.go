package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ExportFormat selects an export encoding.
type ExportFormat string

const (
	FormatJSON   ExportFormat = "json"
	FormatNDJSON ExportFormat = "ndjson"
	FormatCSV    ExportFormat = "csv"
)

// ParseExportFormat maps a query value to a format. Empty means JSON.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(s)); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatNDJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type for the format.
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatNDJSON:
		return "application/x-ndjson"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}

// Export writes events to w in the given format. JSON is wrapped as
// {"events": [...]}.
func Export(w io.Writer, events []Event, format ExportFormat) error {
	switch format {
	case FormatNDJSON:
		return exportNDJSON(w, events)
	case FormatCSV:
		return exportCSV(w, events)
	default:
		return json.NewEncoder(w).Encode(struct {
			Events []Event `json:"events"`
		}{Events: events})
	}
}

// exportNDJSON exports audit events as newline-delimited JSON
func exportNDJSON(w io.Writer, events []Event) error {
	encoder := json.NewEncoder(w)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

// exportCSV exports audit events as CSV
func exportCSV(w io.Writer, events []Event) error {
	writer := csv.NewWriter(w)

	header := []string{"Timestamp", "Type", "IP", "SessionID", "DeviceID", "Metadata"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		row := []string{
			event.Time().UTC().Format(time.RFC3339Nano),
			string(event.Kind),
			event.IP,
			event.SessionID,
			event.DeviceID,
			formatMetadata(event.Metadata),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}

// formatMetadata renders metadata as sorted key=value pairs
func formatMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + m[k]
	}
	return strings.Join(pairs, ";")
}
