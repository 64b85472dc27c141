package models

import "time"

// SourceEvent announces a source status transition to live admin clients.
type SourceEvent struct {
	SourceID   string       `json:"source_id"`
	PersonaID  string       `json:"persona_id"`
	Status     SourceStatus `json:"status"`
	ChunkCount int          `json:"chunk_count,omitempty"`
	Error      string       `json:"error,omitempty"`
	At         time.Time    `json:"at"`
}
