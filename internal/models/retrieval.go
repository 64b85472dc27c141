package models

// RetrievalResult is a transient projection of a matched passage.
type RetrievalResult struct {
	Content     string         `json:"content"`
	Score       float64        `json:"score"` // Similarity score (0-1)
	SourceTitle string         `json:"source_title"`
	ChunkIndex  int            `json:"chunk_index"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PersonaStats summarises the knowledge attached to a persona.
type PersonaStats struct {
	PersonaID          string               `json:"persona_id"`
	TotalSources       int64                `json:"total_sources"`
	ProcessedSources   int64                `json:"processed_sources"`
	TotalChunks        int64                `json:"total_chunks"`
	ProcessingStatuses map[SourceStatus]int `json:"processing_statuses"`
	ReadyForChat       bool                 `json:"ready_for_chat"`
}

// HealthStatus is the result of the index connectivity check.
type HealthStatus struct {
	Status             string `json:"status"` // healthy | degraded
	ProviderConfigured bool   `json:"provider_configured"`
	Provider           string `json:"provider"`
	IndexConnected     bool   `json:"index_connected"`
	EntryCount         int64  `json:"entry_count"`
	CollectionName     string `json:"collection_name"`
	IndexError         string `json:"index_error,omitempty"`
}
