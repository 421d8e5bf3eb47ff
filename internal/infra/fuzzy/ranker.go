// Package fuzzy ranks history items against a free-text query over their
// task text.
package fuzzy

import (
	"sort"
	"strings"
	"unicode/utf8"

	"taskhistory/internal/domain/history"

	"github.com/sahilm/fuzzy"
)

// Ranker matches the query as an in-order subsequence of each item's task.
type Ranker struct{}

// NewRanker returns a Ranker.
func NewRanker() *Ranker {
	return &Ranker{}
}

type taskSource []history.HistoryItem

func (s taskSource) String(i int) string { return s[i].Task }
func (s taskSource) Len() int            { return len(s) }

// Rank drops items that do not match query and attaches the matched byte
// ranges of the task text. With preserveOrder the surviving items keep their
// input order; otherwise stronger matches come first. A blank query keeps
// every item without highlights.
func (r *Ranker) Rank(items []history.HistoryItem, query string, preserveOrder bool) []history.SearchResultItem {
	query = strings.TrimSpace(query)
	if query == "" {
		out := make([]history.SearchResultItem, 0, len(items))
		for _, item := range items {
			out = append(out, history.SearchResultItem{HistoryItem: item})
		}
		return out
	}

	matches := fuzzy.FindFrom(query, taskSource(items))
	if preserveOrder {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].Index < matches[j].Index
		})
	}
	out := make([]history.SearchResultItem, 0, len(matches))
	for _, match := range matches {
		out = append(out, history.SearchResultItem{
			HistoryItem: items[match.Index],
			Highlights:  Spans(match.Str, match.MatchedIndexes),
		})
	}
	return out
}

// Spans merges matched byte offsets of text into contiguous half-open ranges.
func Spans(text string, offsets []int) []history.Span {
	if len(offsets) == 0 {
		return nil
	}
	sorted := append([]int(nil), offsets...)
	sort.Ints(sorted)

	var spans []history.Span
	for _, offset := range sorted {
		if offset < 0 || offset >= len(text) {
			continue
		}
		_, width := utf8.DecodeRuneInString(text[offset:])
		end := offset + width
		if n := len(spans); n > 0 && spans[n-1].End >= offset {
			if end > spans[n-1].End {
				spans[n-1].End = end
			}
			continue
		}
		spans = append(spans, history.Span{Start: offset, End: end})
	}
	return spans
}
