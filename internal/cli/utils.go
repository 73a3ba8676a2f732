// Package cli provides CLI utilities for kakunin.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/kakunin/internal/models"
	"github.com/hyperjump/kakunin/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" and "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const rule = "─────────────────────────────────────────────────────────"

// WriteAnswer writes an analyze response.
func WriteAnswer(w io.Writer, resp *models.AnalyzeResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\n%s\n\n", resp.Answer)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Confidence: %.2f (grounding %.2f, coverage %.2f, certainty %.2f)\n",
		resp.Confidence, resp.Breakdown.Grounding, resp.Breakdown.Coverage, resp.Breakdown.Certainty)
	fmt.Fprintf(w, "State: %s | Prompt: %s | %dms\n", resp.State, resp.Prompt, resp.QueryTime)
	if resp.CaseID != nil {
		fmt.Fprintf(w, "Review case: %s (%s)\n", *resp.CaseID, strings.Join(resp.EscalationReasons, ", "))
	}
	if resp.GuardrailViolation {
		fmt.Fprintln(w, "Output guardrail blocked the draft.")
	}
	if resp.Redacted {
		fmt.Fprintln(w, "Sensitive values were redacted.")
	}
	for i, c := range resp.Citations {
		fmt.Fprintf(w, "[%d] %s (%.4f)\n", i+1, c.ChunkID, c.Score)
	}
	return nil
}

// PrintAnswer writes resp to stdout as text.
func PrintAnswer(resp *models.AnalyzeResponse) {
	_ = WriteAnswer(os.Stdout, resp, OutputText)
}

// WriteCase writes a review case with its history.
func WriteCase(w io.Writer, c *models.ReviewCase, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, c)
	}
	fmt.Fprintf(w, "Case:       %s\n", c.ID)
	fmt.Fprintf(w, "State:      %s\n", c.State)
	if c.Owner != "" {
		fmt.Fprintf(w, "Owner:      %s\n", c.Owner)
	}
	if c.Decision != "" {
		fmt.Fprintf(w, "Decision:   %s\n", c.Decision)
	}
	fmt.Fprintf(w, "Confidence: %.2f\n", c.Confidence.Score)
	if len(c.EscalationReasons) > 0 {
		fmt.Fprintf(w, "Reasons:    %s\n", strings.Join(c.EscalationReasons, ", "))
	}
	fmt.Fprintf(w, "Prompt:     %s\n", c.Prompt)
	fmt.Fprintf(w, "Query:      %s\n", c.Query)
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(c.DraftAnswer, 500))
	fmt.Fprintln(w, rule)
	for _, h := range c.History {
		fmt.Fprintf(w, "%s  %s -> %s  (%s)\n", h.At.Format(time.RFC3339), h.From, h.To, h.Actor)
	}
	return nil
}

// WriteStatus writes the server status report.
func WriteStatus(w io.Writer, s *models.StatusReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "documents:          %d   # policy documents in the snapshot\n", s.Corpus.Documents)
	fmt.Fprintf(w, "chunks:             %d   # retrievable chunks\n", s.Corpus.Chunks)
	fmt.Fprintf(w, "snapshot_version:   %d\n", s.Corpus.SnapshotVersion)
	if !s.Corpus.BuiltAt.IsZero() {
		fmt.Fprintf(w, "snapshot_built_at:  %s\n", s.Corpus.BuiltAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "open_cases:         %d   # pending_review + in_review\n", s.OpenCases)
	states := make([]string, 0, len(s.Cases))
	for state := range s.Cases {
		states = append(states, string(state))
	}
	sort.Strings(states)
	for _, state := range states {
		fmt.Fprintf(w, "  %-16s  %d\n", state, s.Cases[models.CaseState(state)])
	}
	fmt.Fprintf(w, "threshold:          %.2f\n", s.Threshold)
	fmt.Fprintf(w, "active_prompts:     %s\n", joinRefs(s.ActivePrompts))
	if len(s.FlaggedPrompts) > 0 {
		fmt.Fprintf(w, "flagged_prompts:    %s   # rerun regression cases\n", joinRefs(s.FlaggedPrompts))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# backends")
	fmt.Fprintf(w, "storage:            %s\n", s.Storage)
	if s.DatabaseBytes > 0 {
		fmt.Fprintf(w, "database_bytes:     %d\n", s.DatabaseBytes)
	}
	fmt.Fprintf(w, "event_log:          %s\n", s.EventLog)
	return nil
}

// WritePrompts writes every template with its versions.
func WritePrompts(w io.Writer, templates []models.PromptTemplate, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, templates)
	}
	for _, t := range templates {
		flagged := make(map[int]bool, len(t.Flagged))
		for _, v := range t.Flagged {
			flagged[v] = true
		}
		fmt.Fprintln(w, t.TemplateID)
		for _, v := range t.Versions {
			line := fmt.Sprintf("  v%-3d %-8s created %s", v.Version, v.Status, v.CreatedAt.Format(time.RFC3339))
			if flagged[v.Version] {
				line += "  FLAGGED"
			}
			if v.Body != "" {
				line += "  " + strconv.Quote(TruncateWords(v.Body, 8))
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

func joinRefs(refs []models.PromptRef) string {
	if len(refs) == 0 {
		return "-"
	}
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
