package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format names accepted by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Write renders reply to w. File replies print their caption and where the file went;
// savedPath may be empty when nothing was written to disk.
func Write(w io.Writer, reply Reply, savedPath, format string) error {
	if format == FormatJSON {
		view := struct {
			Reply
			Path string `json:"path,omitempty"`
		}{Reply: reply, Path: savedPath}
		out, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling reply: %w", err)
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	}

	if reply.Mode == ModeInline {
		_, err := fmt.Fprintln(w, reply.Text)
		return err
	}

	if savedPath == "" {
		_, err := w.Write(reply.Data)
		return err
	}
	_, err := fmt.Fprintf(w, "%s\nSaved %d bytes to %s\n", reply.Caption, len(reply.Data), savedPath)
	return err
}

// SaveFile writes a file reply into dir and returns the path.
func SaveFile(dir string, reply Reply) (string, error) {
	if reply.Mode != ModeFile {
		return "", fmt.Errorf("reply is %s, not a file", reply.Mode)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	path := filepath.Join(dir, reply.Filename)
	if err := os.WriteFile(path, reply.Data, 0o600); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// HostCheck is one row of a `check` report.
type HostCheck struct {
	Host   string   `json:"host"`
	Safe   bool     `json:"safe"`
	Addrs  []string `json:"addresses"`
	Reason string   `json:"reason"`
}

// WriteChecks renders host verdicts as a table or JSON.
func WriteChecks(w io.Writer, checks []HostCheck, format string) error {
	if format == FormatJSON {
		out, err := json.MarshalIndent(checks, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling checks: %w", err)
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	}
	return printTable(w, checks)
}

func printTable(w io.Writer, checks []HostCheck) error {
	type row struct {
		host, verdict, addrs, reason string
	}

	header := row{"HOST", "VERDICT", "ADDRESSES", "REASON"}
	rows := make([]row, len(checks))
	for i, c := range checks {
		verdict := "UNSAFE"
		if c.Safe {
			verdict = "safe"
		}
		reason := c.Reason
		if len(reason) > 60 {
			reason = reason[:57] + "..."
		}
		rows[i] = row{c.Host, verdict, strings.Join(c.Addrs, ", "), reason}
	}

	widths := []int{len(header.host), len(header.verdict), len(header.addrs), len(header.reason)}
	for _, r := range rows {
		fieldValues := []string{r.host, r.verdict, r.addrs, r.reason}
		for idx := range fieldValues {
			if len(fieldValues[idx]) > widths[idx] {
				widths[idx] = len(fieldValues[idx])
			}
		}
	}

	hLine := func(left, mid, right string) string {
		var sb strings.Builder
		_, _ = sb.WriteString(left)
		for i, width := range widths {
			_, _ = sb.WriteString(strings.Repeat("─", width+2))
			if i < len(widths)-1 {
				_, _ = sb.WriteString(mid)
			}
		}
		_, _ = sb.WriteString(right)
		return sb.String()
	}

	dataLine := func(r row) string {
		fields := []string{r.host, r.verdict, r.addrs, r.reason}
		var sb strings.Builder
		_, _ = sb.WriteString("│")
		for i, f := range fields {
			_, _ = fmt.Fprintf(&sb, " %-*s ", widths[i], f)
			if i < len(fields)-1 {
				_, _ = sb.WriteString("│")
			}
		}
		_, _ = sb.WriteString("│")
		return sb.String()
	}

	lines := []string{hLine("┌", "┬", "┐"), dataLine(header), hLine("├", "┼", "┤")}
	for i, r := range rows {
		lines = append(lines, dataLine(r))
		if i < len(rows)-1 {
			lines = append(lines, hLine("├", "┼", "┤"))
		}
	}
	lines = append(lines, hLine("└", "┴", "┘"))

	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}
