package historystore

import (
	"sort"

	"taskhistory/internal/domain/history"
)

// Shard is one month index document: workspace -> task id -> ts.
type Shard map[string]map[string]int64

// Ref is one (id, ts) pointer read from a shard bucket.
type Ref struct {
	ID        string
	Ts        int64
	Workspace string
}

// Workspaces returns the bucket keys in ascending order.
func (s Shard) Workspaces() []string {
	keys := make([]string, 0, len(s))
	for workspace := range s {
		keys = append(keys, workspace)
	}
	sort.Strings(keys)
	return keys
}

// Refs collects the refs stored under workspace, or under every bucket when
// workspace is history.WorkspaceAll. With every bucket selected an id listed
// more than once keeps its newest ref.
func (s Shard) Refs(workspace string) []Ref {
	if workspace != history.WorkspaceAll {
		bucket := s[workspace]
		refs := make([]Ref, 0, len(bucket))
		for id, ts := range bucket {
			refs = append(refs, Ref{ID: id, Ts: ts, Workspace: workspace})
		}
		return refs
	}
	newest := make(map[string]Ref)
	for workspace, bucket := range s {
		for id, ts := range bucket {
			if current, ok := newest[id]; ok && current.Ts >= ts {
				continue
			}
			newest[id] = Ref{ID: id, Ts: ts, Workspace: workspace}
		}
	}
	refs := make([]Ref, 0, len(newest))
	for _, ref := range newest {
		refs = append(refs, ref)
	}
	return refs
}

// Len counts the refs across every bucket.
func (s Shard) Len() int {
	total := 0
	for _, bucket := range s {
		total += len(bucket)
	}
	return total
}

// put records id under workspace and reports whether the shard changed.
func (s Shard) put(workspace, id string, ts int64) bool {
	bucket, ok := s[workspace]
	if !ok {
		bucket = make(map[string]int64)
		s[workspace] = bucket
	}
	if current, ok := bucket[id]; ok && current == ts {
		return false
	}
	bucket[id] = ts
	return true
}

// remove drops id from every bucket, pruning buckets left empty, and reports
// whether the shard changed.
func (s Shard) remove(id string) bool {
	changed := false
	for workspace, bucket := range s {
		if _, ok := bucket[id]; !ok {
			continue
		}
		delete(bucket, id)
		changed = true
		if len(bucket) == 0 {
			delete(s, workspace)
		}
	}
	return changed
}

// SortRefs orders refs by ts, newest first unless oldestFirst, breaking ties
// by id.
func SortRefs(refs []Ref, oldestFirst bool) {
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Ts != b.Ts {
			if oldestFirst {
				return a.Ts < b.Ts
			}
			return a.Ts > b.Ts
		}
		return a.ID < b.ID
	})
}
