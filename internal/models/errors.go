package models

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline and workflow errors. Callers match them with errors.Is.
var (
	// ErrInvalidConfig indicates weights, thresholds or limits outside their allowed range.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrInvalidInput indicates malformed caller input (empty text, bad UTF-8, unknown decision).
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRetrieval indicates the corpus could not be searched after retrying.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrGenerationUnavailable indicates the generation backend refused or failed the call.
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrGenerationTimeout indicates the generation call exceeded its deadline.
	ErrGenerationTimeout = errors.New("generation timeout")

	// ErrGuardrailViolation marks generated text that had to be redacted.
	// It flags a response, it is never returned to API callers.
	ErrGuardrailViolation = errors.New("guardrail violation")

	// Prompt errors.

	ErrUnknownTemplate   = errors.New("unknown template")
	ErrMissingVariable   = errors.New("missing template variable")
	ErrRegressionFailure = errors.New("prompt regression failure")

	// Review workflow errors.

	ErrAlreadyClaimed    = errors.New("case already claimed")
	ErrNotOwner          = errors.New("reviewer does not own case")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidState      = errors.New("case is not in a state that allows this action")
)

// MissingVariableError lists the placeholders a render call did not supply.
type MissingVariableError struct {
	TemplateID string
	Names      []string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("template %s: missing variables: %s", e.TemplateID, strings.Join(e.Names, ", "))
}

func (e *MissingVariableError) Unwrap() error { return ErrMissingVariable }

// RegressionError lists the canonical cases a candidate prompt version failed.
type RegressionError struct {
	TemplateID  string
	Version     int
	FailedCases []string
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("template %s v%d failed %d canonical case(s): %s",
		e.TemplateID, e.Version, len(e.FailedCases), strings.Join(e.FailedCases, ", "))
}

func (e *RegressionError) Unwrap() error { return ErrRegressionFailure }
