package models

import (
	"fmt"
	"time"
)

// PromptStatus is the lifecycle status of a prompt version.
type PromptStatus string

const (
	PromptDraft   PromptStatus = "draft"
	PromptActive  PromptStatus = "active"
	PromptRetired PromptStatus = "retired"
)

// PromptRef identifies one version of a template.
type PromptRef struct {
	TemplateID string `json:"template_id"`
	Version    int    `json:"version"`
}

func (r PromptRef) String() string {
	return fmt.Sprintf("%s@v%d", r.TemplateID, r.Version)
}

// PromptVersion is an immutable template body. Versions are never deleted.
type PromptVersion struct {
	TemplateID string       `json:"template_id"`
	Version    int          `json:"version"`
	Body       string       `json:"body"`
	Status     PromptStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	PromotedAt *time.Time   `json:"promoted_at,omitempty"`
	RetiredAt  *time.Time   `json:"retired_at,omitempty"`
}

// Ref returns the reference of this version.
func (p *PromptVersion) Ref() PromptRef {
	return PromptRef{TemplateID: p.TemplateID, Version: p.Version}
}

// PromptTemplate lists the versions of one template. Flagged holds the
// version numbers the feedback loop has flagged for regression.
type PromptTemplate struct {
	TemplateID string          `json:"template_id"`
	Versions   []PromptVersion `json:"versions"`
	Flagged    []int           `json:"flagged,omitempty"`
}
