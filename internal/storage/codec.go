package storage

import (
	"encoding/json"
	"fmt"

	"github.com/hyperjump/kakunin/internal/models"
)

// caseColumns are the review_cases columns in scan order.
var caseColumns = []string{
	"id", "query", "document_id", "draft_answer", "citations",
	"confidence", "confidence_detail", "prompt_template", "prompt_version",
	"state", "owner", "decision", "escalation_reasons", "created_at", "updated_at",
}

// caseRow is the flattened form of a ReviewCase.
type caseRow struct {
	citations string
	detail    string
	reasons   string
}

func encodeCase(c *models.ReviewCase) (caseRow, error) {
	citations, err := json.Marshal(nonNil(c.Citations))
	if err != nil {
		return caseRow{}, fmt.Errorf("failed to marshal citations: %w", err)
	}
	detail, err := json.Marshal(c.Confidence)
	if err != nil {
		return caseRow{}, fmt.Errorf("failed to marshal confidence: %w", err)
	}
	reasons, err := json.Marshal(nonNil(c.EscalationReasons))
	if err != nil {
		return caseRow{}, fmt.Errorf("failed to marshal escalation reasons: %w", err)
	}
	return caseRow{citations: string(citations), detail: string(detail), reasons: string(reasons)}, nil
}

func decodeCase(c *models.ReviewCase, row caseRow) error {
	if row.citations != "" {
		if err := json.Unmarshal([]byte(row.citations), &c.Citations); err != nil {
			return fmt.Errorf("failed to unmarshal citations: %w", err)
		}
	}
	if row.detail != "" {
		if err := json.Unmarshal([]byte(row.detail), &c.Confidence); err != nil {
			return fmt.Errorf("failed to unmarshal confidence: %w", err)
		}
	}
	if row.reasons != "" {
		if err := json.Unmarshal([]byte(row.reasons), &c.EscalationReasons); err != nil {
			return fmt.Errorf("failed to unmarshal escalation reasons: %w", err)
		}
	}
	if len(c.Citations) == 0 {
		c.Citations = nil
	}
	if len(c.EscalationReasons) == 0 {
		c.EscalationReasons = nil
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func marshalMetadata(m map[string]interface{}) (string, error) {
	if m == nil {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

func unmarshalMetadata(s string) (map[string]interface{}, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return m, nil
}

// nullable maps "" to NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
