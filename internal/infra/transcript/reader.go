// Package transcript reads the per-task UI message log that reconstruction
// replays.
package transcript

import (
	"context"
	"fmt"
	"path/filepath"

	"taskhistory/internal/domain/history"
	"taskhistory/internal/infra/filestore"

	"github.com/tidwall/gjson"
)

// FileName is the transcript document inside a task directory.
const FileName = "ui_messages.json"

// Reader loads <tasksDir>/<id>/ui_messages.json.
type Reader struct {
	tasksDir string
	docs     filestore.Documents
}

// NewReader binds a Reader to the tasks root.
func NewReader(tasksDir string, docs filestore.Documents) *Reader {
	if docs == nil {
		docs = filestore.NewFileDocuments(nil)
	}
	return &Reader{tasksDir: tasksDir, docs: docs}
}

// ReadMessages returns the transcript in file order. A missing file reports
// history.ErrNotFound; a document that is not a JSON array is an error.
// Entries that are not objects are dropped.
func (r *Reader) ReadMessages(ctx context.Context, taskID string) ([]history.Message, error) {
	if err := history.ValidateID(taskID); err != nil {
		return nil, err
	}
	path := filepath.Join(r.tasksDir, taskID, FileName)
	data, err := r.docs.Read(ctx, path)
	if err != nil {
		if filestore.IsNotExist(err) {
			return nil, fmt.Errorf("transcript %s: %w", taskID, history.ErrNotFound)
		}
		return nil, fmt.Errorf("read transcript %s: %w", taskID, err)
	}
	return ParseMessages(data)
}

// ParseMessages decodes a transcript array.
func ParseMessages(data []byte) ([]history.Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("transcript is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("transcript is not an array")
	}
	var messages []history.Message
	root.ForEach(func(_, entry gjson.Result) bool {
		if !entry.IsObject() {
			return true
		}
		messages = append(messages, history.Message{
			Ts:   entry.Get("ts").Int(),
			Type: entry.Get("type").String(),
			Say:  entry.Get("say").String(),
			Ask:  entry.Get("ask").String(),
			Text: entry.Get("text").String(),
		})
		return true
	})
	return messages, nil
}

// Usage is the accounting carried by one request-started record.
type Usage struct {
	TokensIn    int64
	TokensOut   int64
	CacheWrites int64
	CacheReads  int64
	Cost        float64
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.TokensIn += other.TokensIn
	u.TokensOut += other.TokensOut
	u.CacheWrites += other.CacheWrites
	u.CacheReads += other.CacheReads
	u.Cost += other.Cost
}

// ParseUsage reads the accounting fields of a request-started payload. It
// reports false when the payload is not a JSON object.
func ParseUsage(payload string) (Usage, bool) {
	if !gjson.Valid(payload) {
		return Usage{}, false
	}
	root := gjson.Parse(payload)
	if !root.IsObject() {
		return Usage{}, false
	}
	fields := gjson.GetMany(payload, "tokensIn", "tokensOut", "cacheWrites", "cacheReads", "cost")
	return Usage{
		TokensIn:    fields[0].Int(),
		TokensOut:   fields[1].Int(),
		CacheWrites: fields[2].Int(),
		CacheReads:  fields[3].Int(),
		Cost:        fields[4].Float(),
	}, true
}
