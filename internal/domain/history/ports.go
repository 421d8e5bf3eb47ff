package history

import "context"

// LegacyStore is the pre-sharding storage: a single array of items held under
// one key of the host's global state.
type LegacyStore interface {
	Read(ctx context.Context) ([]HistoryItem, error)
	Clear(ctx context.Context) error
}

// Ranker filters items by a fuzzy text query and attaches highlight spans.
// With preserveOrder the input order is kept; otherwise items are ordered by
// match strength.
type Ranker interface {
	Rank(items []HistoryItem, query string, preserveOrder bool) []SearchResultItem
}

// DirSizer measures the on-disk footprint of a directory.
type DirSizer interface {
	Size(ctx context.Context, dir string) (int64, error)
}

// Message is one record of a task's UI transcript.
type Message struct {
	Ts   int64  `json:"ts,omitempty"`
	Type string `json:"type,omitempty"`
	Say  string `json:"say,omitempty"`
	Ask  string `json:"ask,omitempty"`
	Text string `json:"text,omitempty"`
}

// SayAPIRequestStarted marks the request-accounting records of a transcript.
const SayAPIRequestStarted = "api_req_started"

// TranscriptReader loads a task's ordered message transcript. A missing
// transcript is reported as ErrNotFound.
type TranscriptReader interface {
	ReadMessages(ctx context.Context, taskID string) ([]Message, error)
}
