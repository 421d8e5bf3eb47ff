package history

import (
	"fmt"
	"sort"
	"strings"
)

// SortOption selects the order of search results.
type SortOption string

const (
	SortNewest        SortOption = "newest"
	SortOldest        SortOption = "oldest"
	SortMostExpensive SortOption = "mostExpensive"
	SortMostTokens    SortOption = "mostTokens"
	SortMostRelevant  SortOption = "mostRelevant"
)

// ParseSortOption maps user input onto a SortOption. Empty input means newest.
func ParseSortOption(value string) (SortOption, error) {
	switch strings.TrimSpace(value) {
	case "", string(SortNewest):
		return SortNewest, nil
	case string(SortOldest):
		return SortOldest, nil
	case string(SortMostExpensive):
		return SortMostExpensive, nil
	case string(SortMostTokens):
		return SortMostTokens, nil
	case string(SortMostRelevant):
		return SortMostRelevant, nil
	default:
		return "", fmt.Errorf("unknown sort option %q", value)
	}
}

// Chronological reports whether the order can be derived from shard
// timestamps alone.
func (s SortOption) Chronological() bool {
	return s == "" || s == SortNewest || s == SortOldest
}

// OldestFirst reports whether shards are visited oldest-first.
func (s SortOption) OldestFirst() bool {
	return s == SortOldest
}

// Workspace selectors accepted by SearchQuery.Workspace besides explicit paths.
const (
	WorkspaceAll     = "all"
	WorkspaceCurrent = "current"
)

// DateRange bounds a search by item timestamp, inclusive on both ends. A zero
// bound is open.
type DateRange struct {
	From int64 `json:"fromTs,omitempty"`
	To   int64 `json:"toTs,omitempty"`
}

// Contains reports whether ts lies inside the range.
func (r *DateRange) Contains(ts int64) bool {
	if r == nil {
		return true
	}
	if r.From > 0 && ts < r.From {
		return false
	}
	if r.To > 0 && ts > r.To {
		return false
	}
	return true
}

// SearchQuery is the input of the search engine.
type SearchQuery struct {
	Query     string
	DateRange *DateRange
	// Limit caps the number of returned items; nil means unbounded and a
	// pointer to zero asks for metadata only.
	Limit     *int
	Workspace string
	Sort      SortOption
}

// Limit returns a pointer suitable for SearchQuery.Limit.
func Limit(n int) *int {
	return &n
}

// Span is a half-open byte range [Start, End) of the task text that matched
// the fuzzy query.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SearchResultItem is one ranked item with its highlight spans.
type SearchResultItem struct {
	HistoryItem
	Highlights []Span `json:"highlights,omitempty"`
}

// WorkspaceItem carries display metadata for a workspace switcher.
type WorkspaceItem struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Missing bool   `json:"missing"`
	Ts      int64  `json:"ts"`
}

// SearchStats records how much of the index a query touched.
type SearchStats struct {
	ShardsVisited int `json:"shardsVisited"`
	ShardsPruned  int `json:"shardsPruned"`
	ShardsSkipped int `json:"shardsSkipped"`
	ItemsLoaded   int `json:"itemsLoaded"`
}

// SearchResult is the output of the search engine.
type SearchResult struct {
	Items          []SearchResultItem `json:"items"`
	Workspaces     []string           `json:"workspaces"`
	WorkspaceItems []WorkspaceItem    `json:"workspaceItems"`
	Stats          SearchStats        `json:"stats"`
}

// SortItems orders items in place by the given option. Ties fall back to
// newest-first, then id, so the order is deterministic.
func SortItems(items []HistoryItem, option SortOption) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch option {
		case SortOldest:
			if a.Ts != b.Ts {
				return a.Ts < b.Ts
			}
			return a.ID < b.ID
		case SortMostExpensive:
			if a.TotalCost != b.TotalCost {
				return a.TotalCost > b.TotalCost
			}
		case SortMostTokens:
			if a.TotalTokens() != b.TotalTokens() {
				return a.TotalTokens() > b.TotalTokens()
			}
		}
		if a.Ts != b.Ts {
			return a.Ts > b.Ts
		}
		return a.ID < b.ID
	})
}
