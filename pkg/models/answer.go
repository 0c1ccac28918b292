package models

import "time"

// Source tags where an answer came from.
type Source string

const (
	// SourceCache marks an exact or fuzzy response-cache hit.
	SourceCache Source = "cache"
	// SourceInstant marks an answer from the built-in instant responder.
	SourceInstant Source = "instant"
	// SourceModel marks an answer generated by a live backend.
	SourceModel Source = "model"
	// SourceError marks the terminal apology answer after every backend
	// has been exhausted.
	SourceError Source = "error"
)

// Answer is the result of dispatching a question.
type Answer struct {
	Text      string        `json:"text"`
	Source    Source        `json:"source"`
	BackendID string        `json:"backend_id"`
	Elapsed   time.Duration `json:"elapsed"`
}
