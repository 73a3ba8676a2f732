package models

import "time"

// CorpusStatus describes the snapshot queries currently read.
type CorpusStatus struct {
	Documents       int       `json:"documents"`
	Chunks          int       `json:"chunks"`
	SnapshotVersion uint64    `json:"snapshot_version"`
	BuiltAt         time.Time `json:"built_at"`
}

// StatusReport is returned by GET /api/v1/status.
type StatusReport struct {
	Corpus         CorpusStatus      `json:"corpus"`
	Storage        string            `json:"storage"`
	DatabaseBytes  int64             `json:"database_bytes,omitempty"`
	Cases          map[CaseState]int `json:"cases"`
	OpenCases      int               `json:"open_cases"`
	Threshold      float64           `json:"threshold"`
	ActivePrompts  []PromptRef       `json:"active_prompts"`
	FlaggedPrompts []PromptRef       `json:"flagged_prompts"`
	EventLog       string            `json:"event_log"`
}
