// Package models defines core data structures for policy documents, chunks,
// prompts, confidence scores, and review cases.
package models

import "time"

// Document represents a stored policy document.
type Document struct {
	ID        string                 `json:"id" db:"id"`
	Title     string                 `json:"title" db:"title"`
	Content   string                 `json:"content" db:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// Chunk is an immutable retrieval unit of a policy document.
// ID is stable across rebuilds: "<document_id>#<index>".
type Chunk struct {
	ID               string    `json:"id"`
	SourceDocumentID string    `json:"source_document_id"`
	Index            int       `json:"index"`
	Text             string    `json:"text"`
	Embedding        []float32 `json:"-"`
}

// DocumentInput is the input for creating or replacing a document.
type DocumentInput struct {
	ID       string                 `json:"id,omitempty"`
	Title    string                 `json:"title,omitempty"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
