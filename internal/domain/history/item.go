// Package history defines the task-history domain model: the per-task
// metadata record, month sharding, search/scan contracts and the ports the
// storage engine depends on.
package history

import (
	"errors"
	"fmt"
	"math"
	"strings"

	jsonx "taskhistory/internal/shared/json"
)

// UnknownWorkspace is stored when a task's originating workspace cannot be
// determined. A stored item never carries an empty workspace.
const UnknownWorkspace = "unknown"

var (
	// ErrNotFound reports a missing item, transcript or index document.
	ErrNotFound = errors.New("history: not found")
	// ErrInvalidItem reports a record that fails shape validation.
	ErrInvalidItem = errors.New("history: invalid item")
	// ErrNotReconstructable reports a task directory whose transcript cannot
	// be replayed into metadata.
	ErrNotReconstructable = errors.New("history: task not reconstructable")
)

// HistoryItem is the metadata of one conversation session.
type HistoryItem struct {
	ID          string  `json:"id"`
	Number      int     `json:"number"`
	Ts          int64   `json:"ts"`
	Task        string  `json:"task"`
	TokensIn    int64   `json:"tokensIn"`
	TokensOut   int64   `json:"tokensOut"`
	CacheWrites int64   `json:"cacheWrites,omitempty"`
	CacheReads  int64   `json:"cacheReads,omitempty"`
	TotalCost   float64 `json:"totalCost"`
	Size        int64   `json:"size,omitempty"`
	Workspace   string  `json:"workspace,omitempty"`
}

// Validate checks the fields every stored item must carry.
func (h HistoryItem) Validate() error {
	if err := ValidateID(h.ID); err != nil {
		return err
	}
	if h.Ts <= 0 {
		return fmt.Errorf("%w: %s has non-positive ts %d", ErrInvalidItem, h.ID, h.Ts)
	}
	return nil
}

// Normalized returns a copy with the workspace defaulted to UnknownWorkspace.
func (h HistoryItem) Normalized() HistoryItem {
	if strings.TrimSpace(h.Workspace) == "" {
		h.Workspace = UnknownWorkspace
	}
	return h
}

// TotalTokens is the ordering key for the mostTokens sort. Cache reads and
// writes count alongside prompt and completion tokens.
func (h HistoryItem) TotalTokens() int64 {
	return h.TokensIn + h.TokensOut + h.CacheWrites + h.CacheReads
}

// ValidateID rejects ids that cannot name a directory directly under the
// tasks root.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: missing id", ErrInvalidItem)
	case id == "." || id == "..":
		return fmt.Errorf("%w: id %q is reserved", ErrInvalidItem, id)
	case strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0):
		return fmt.Errorf("%w: id %q contains a path separator", ErrInvalidItem, id)
	}
	return nil
}

// Newer returns whichever of a and b has the larger ts; a wins ties.
func Newer(a, b HistoryItem) HistoryItem {
	if b.Ts > a.Ts {
		return b
	}
	return a
}

// wireItem mirrors HistoryItem with pointers on the required fields so a
// missing key can be told apart from a zero value.
type wireItem struct {
	ID          *string  `json:"id"`
	Number      *float64 `json:"number"`
	Ts          *float64 `json:"ts"`
	Task        *string  `json:"task"`
	TokensIn    float64  `json:"tokensIn"`
	TokensOut   float64  `json:"tokensOut"`
	CacheWrites float64  `json:"cacheWrites"`
	CacheReads  float64  `json:"cacheReads"`
	TotalCost   float64  `json:"totalCost"`
	Size        float64  `json:"size"`
	Workspace   *string  `json:"workspace"`
}

// DecodeItem parses an on-disk item document. The document must be a JSON
// object with a string id, a numeric ts greater than zero and a string task;
// anything else is rejected with ErrInvalidItem.
func DecodeItem(data []byte) (HistoryItem, error) {
	var wire wireItem
	if err := jsonx.Unmarshal(data, &wire); err != nil {
		return HistoryItem{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	return wire.toItem()
}

// DecodeItems parses a JSON array of items, keeping the well-formed entries and
// reporting the rejected ones through reject.
func DecodeItems(data []byte, reject func(index int, err error)) ([]HistoryItem, error) {
	var raw []jsonx.RawMessage
	if err := jsonx.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: expected array: %v", ErrInvalidItem, err)
	}
	items := make([]HistoryItem, 0, len(raw))
	for i, entry := range raw {
		item, err := DecodeItem(entry)
		if err != nil {
			if reject != nil {
				reject(i, err)
			}
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (w wireItem) toItem() (HistoryItem, error) {
	if w.ID == nil || strings.TrimSpace(*w.ID) == "" {
		return HistoryItem{}, fmt.Errorf("%w: missing id", ErrInvalidItem)
	}
	if w.Ts == nil || math.IsNaN(*w.Ts) || *w.Ts <= 0 {
		return HistoryItem{}, fmt.Errorf("%w: %s missing positive ts", ErrInvalidItem, *w.ID)
	}
	if w.Task == nil {
		return HistoryItem{}, fmt.Errorf("%w: %s missing task", ErrInvalidItem, *w.ID)
	}
	item := HistoryItem{
		ID:          *w.ID,
		Number:      1,
		Ts:          int64(*w.Ts),
		Task:        *w.Task,
		TokensIn:    int64(w.TokensIn),
		TokensOut:   int64(w.TokensOut),
		CacheWrites: int64(w.CacheWrites),
		CacheReads:  int64(w.CacheReads),
		TotalCost:   w.TotalCost,
		Size:        int64(w.Size),
	}
	if w.Number != nil {
		item.Number = int(*w.Number)
	}
	if w.Workspace != nil {
		item.Workspace = *w.Workspace
	}
	return item.Normalized(), nil
}
