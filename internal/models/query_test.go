package models

import (
	"errors"
	"strings"
	"testing"
)

func TestAnalyzeRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     *AnalyzeRequest
		wantErr bool
	}{
		{"empty query", &AnalyzeRequest{Query: ""}, true},
		{"whitespace query", &AnalyzeRequest{Query: "   \n"}, true},
		{"valid query", &AnalyzeRequest{Query: "Is flood damage covered?"}, false},
		{"oversized query", &AnalyzeRequest{Query: strings.Repeat("a", MaxQueryLength+1)}, true},
		{"invalid utf8", &AnalyzeRequest{Query: "bad \xff byte"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestAnalyzeRequest_ValidateTrims(t *testing.T) {
	req := &AnalyzeRequest{Query: "  waiting period?  ", DocumentID: " pol-1 "}
	if err := req.Validate(); err != nil {
		t.Fatal(err)
	}
	if req.Query != "waiting period?" || req.DocumentID != "pol-1" {
		t.Errorf("not trimmed: %+v", req)
	}
}

func TestParseDecision(t *testing.T) {
	for in, want := range map[string]Decision{"approve": DecisionApprove, "Approved": DecisionApprove, "reject": DecisionReject, " rejected ": DecisionReject} {
		got, err := ParseDecision(in)
		if err != nil || got != want {
			t.Errorf("ParseDecision(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDecision("maybe"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCaseState_Terminal(t *testing.T) {
	for _, s := range []CaseState{StateAutoApproved, StateApproved, StateRejected, StateExpired} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []CaseState{StateCreated, StatePendingReview, StateInReview} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestErrorsUnwrap(t *testing.T) {
	var err error = &MissingVariableError{TemplateID: "t", Names: []string{"a"}}
	if !errors.Is(err, ErrMissingVariable) {
		t.Error("MissingVariableError should unwrap to ErrMissingVariable")
	}
	err = &RegressionError{TemplateID: "t", Version: 2, FailedCases: []string{"c1"}}
	if !errors.Is(err, ErrRegressionFailure) {
		t.Error("RegressionError should unwrap to ErrRegressionFailure")
	}
	if !strings.Contains(err.Error(), "c1") {
		t.Errorf("error should name failed case: %s", err)
	}
}
