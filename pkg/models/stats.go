package models

import "time"

// CacheStats is derived by a full scan of both record collections.
// Sizes are estimates: stored size for model blobs, two bytes per
// character for response text.
type CacheStats struct {
	ModelCount     int64     `json:"model_count"`
	ResponseCount  int64     `json:"response_count"`
	TotalSizeBytes int64     `json:"total_size_bytes"`
	OldestEntry    time.Time `json:"oldest_entry"`
	NewestEntry    time.Time `json:"newest_entry"`
	Hits           int64     `json:"hits"`
	Misses         int64     `json:"misses"`
}

// Snapshot is the exported backup format: a full dump of both
// collections plus computed statistics.
type Snapshot struct {
	Version   int              `json:"version"`
	Timestamp time.Time        `json:"timestamp"`
	Stats     CacheStats       `json:"stats"`
	Models    []ModelRecord    `json:"models"`
	Responses []ResponseRecord `json:"responses"`
}
