package models

import (
	"fmt"
	"strings"
	"time"
)

// CaseState is a node of the review state machine.
type CaseState string

const (
	StateCreated       CaseState = "created"
	StateAutoApproved  CaseState = "auto_approved"
	StatePendingReview CaseState = "pending_review"
	StateInReview      CaseState = "in_review"
	StateApproved      CaseState = "approved"
	StateRejected      CaseState = "rejected"
	StateExpired       CaseState = "expired"
)

// Terminal reports whether no transition leaves s.
func (s CaseState) Terminal() bool {
	switch s {
	case StateAutoApproved, StateApproved, StateRejected, StateExpired:
		return true
	}
	return false
}

// Open reports whether s still awaits an expert.
func (s CaseState) Open() bool {
	return s == StatePendingReview || s == StateInReview
}

// Decision is the verdict recorded on a terminal case.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision accepts "approve"/"approved" and "reject"/"rejected".
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return DecisionApprove, nil
	case "reject", "rejected":
		return DecisionReject, nil
	}
	return "", fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, s)
}

// ActorSystem records transitions performed by the service itself.
const ActorSystem = "system"

// StateChange is one append-only history entry.
type StateChange struct {
	From  CaseState `json:"from"`
	To    CaseState `json:"to"`
	Actor string    `json:"actor"`
	At    time.Time `json:"at"`
}

// Escalation reasons attached to cases routed to review.
const (
	ReasonLowConfidence     = "low_confidence"
	ReasonNoEvidence        = "no_evidence"
	ReasonRetrievalDegraded = "retrieval_degraded"
	ReasonCertaintyMissing  = "certainty_missing"
	ReasonGroundingMissing  = "grounding_missing"
)

// ReviewCase tracks one answer through the review workflow.
type ReviewCase struct {
	ID                string          `json:"id"`
	Query             string          `json:"query"`
	DocumentID        string          `json:"document_id,omitempty"`
	DraftAnswer       string          `json:"draft_answer"`
	Citations         []string        `json:"citations,omitempty"`
	Confidence        ConfidenceScore `json:"confidence"`
	Prompt            PromptRef       `json:"prompt"`
	State             CaseState       `json:"state"`
	Owner             string          `json:"owner,omitempty"`
	Decision          Decision        `json:"decision,omitempty"`
	EscalationReasons []string        `json:"escalation_reasons,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	History           []StateChange   `json:"history"`
}

// ExpertFeedback records an expert verdict. One per expert-driven terminal transition.
type ExpertFeedback struct {
	ReviewCaseID string    `json:"review_case_id"`
	ExpertID     string    `json:"expert_id"`
	Decision     Decision  `json:"decision"`
	Comment      string    `json:"comment,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ReviewOutcome is published to the event log when a case becomes terminal.
type ReviewOutcome struct {
	CaseID     string    `json:"case_id"`
	Prompt     PromptRef `json:"prompt"`
	State      CaseState `json:"state"`
	Decision   Decision  `json:"decision"`
	Actor      string    `json:"actor"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}
