package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxQueryLength caps the accepted question length in bytes.
const MaxQueryLength = 4096

// AnalyzeRequest is a question about a policy document.
type AnalyzeRequest struct {
	Query      string `json:"query"`
	DocumentID string `json:"document_id,omitempty"`
}

// Validate trims the request and rejects empty, oversized or non-UTF-8 queries.
func (r *AnalyzeRequest) Validate() error {
	r.Query = strings.TrimSpace(r.Query)
	r.DocumentID = strings.TrimSpace(r.DocumentID)
	if r.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	if len(r.Query) > MaxQueryLength {
		return fmt.Errorf("%w: query exceeds %d bytes", ErrInvalidInput, MaxQueryLength)
	}
	if !utf8.ValidString(r.Query) {
		return fmt.Errorf("%w: query is not valid UTF-8", ErrInvalidInput)
	}
	return nil
}

// Citation points at a chunk that supported the answer.
type Citation struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
}

// AnalyzeResponse is returned for every analyzed question.
// CaseID is nil for auto-approved answers.
type AnalyzeResponse struct {
	Answer             string              `json:"answer"`
	Confidence         float64             `json:"confidence"`
	Breakdown          ConfidenceBreakdown `json:"breakdown"`
	CaseID             *string             `json:"case_id"`
	State              CaseState           `json:"state"`
	Prompt             PromptRef           `json:"prompt"`
	Redacted           bool                `json:"redacted"`
	GuardrailViolation bool                `json:"guardrail_violation"`
	EscalationReasons  []string            `json:"escalation_reasons,omitempty"`
	Citations          []Citation          `json:"citations,omitempty"`
	QueryTime          int64               `json:"query_time_ms"`
}

// ClaimRequest is the body of a claim call.
type ClaimRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

// DecisionRequest is the body of a decision call.
type DecisionRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Decision   string `json:"decision"`
	Comment    string `json:"comment,omitempty"`
}
