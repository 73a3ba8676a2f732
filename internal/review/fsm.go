// Package review routes low-confidence answers to expert review and tracks
// each case through an explicit state machine.
package review

import (
	"fmt"

	"github.com/hyperjump/kakunin/internal/models"
)

// transitions is the complete edge set of the review state machine.
var transitions = map[models.CaseState][]models.CaseState{
	models.StateCreated:       {models.StateAutoApproved, models.StatePendingReview},
	models.StatePendingReview: {models.StateInReview, models.StateExpired},
	models.StateInReview:      {models.StateApproved, models.StateRejected, models.StateExpired},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to models.CaseState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to models.CaseState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	return nil
}

// ValidHistory reports whether every entry of h is a state machine edge, the
// entries chain, and timestamps never go backwards.
func ValidHistory(h []models.StateChange) bool {
	for i, e := range h {
		if !CanTransition(e.From, e.To) {
			return false
		}
		if i > 0 && (h[i-1].To != e.From || e.At.Before(h[i-1].At)) {
			return false
		}
	}
	return true
}
