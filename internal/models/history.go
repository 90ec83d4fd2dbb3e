package models

import "time"

// HistoryEntry records a completed execution. Persisted so /history
// survives restarts.
type HistoryEntry struct {
	PromptID  string         `json:"prompt_id" badgerhold:"key"`
	Number    float64        `json:"number"`
	Prompt    Graph          `json:"prompt"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
	Outputs   Outputs        `json:"outputs"`
	Timestamp time.Time      `json:"timestamp"`
}
