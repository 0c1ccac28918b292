package models

import "time"

// ModelRecord stores the serialized state of a loaded inference backend.
// There is exactly one record per backend identity.
type ModelRecord struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	State         []byte    `json:"state"`
	LastUsedAt    time.Time `json:"last_used_at"`
	SizeBytes     int64     `json:"size_bytes"`
	SchemaVersion string    `json:"schema_version"`
}

// ResponseRecord stores one cached answer for a (backend, question) pair.
// ID is "<backendID>_<fingerprint>", so a re-generation overwrites the
// previous answer rather than versioning it.
type ResponseRecord struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	Response    string    `json:"response"`
	BackendID   string    `json:"backend_id"`
	CreatedAt   time.Time `json:"created_at"`
	Fingerprint string    `json:"fingerprint"`
}
