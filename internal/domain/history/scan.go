package history

import (
	"fmt"
	"sort"
	"strings"
)

// LogSink receives human-readable progress lines from long operations.
type LogSink func(line string)

// Printf formats a line and forwards it to the sink; a nil sink drops it.
func (s LogSink) Printf(format string, args ...any) {
	if s == nil {
		return
	}
	s(fmt.Sprintf(format, args...))
}

// ScanResult classifies every task id found across the legacy array, the
// index view and, optionally, the task directories on disk.
type ScanResult struct {
	// Valid holds every id present in the index view, using the newer of the
	// index and legacy copies when both exist.
	Valid map[string]HistoryItem `json:"valid"`
	// TasksOnlyInGlobalState holds ids found only in the legacy array.
	TasksOnlyInGlobalState map[string]HistoryItem `json:"tasksOnlyInGlobalState"`
	// TasksOnlyInIndex holds ids found only in the index view. They are also
	// present in Valid.
	TasksOnlyInIndex map[string]HistoryItem `json:"tasksOnlyInIndex"`
	// Orphans holds on-disk tasks with no index or legacy entry whose
	// metadata was recovered.
	Orphans map[string]HistoryItem `json:"orphans"`
	// FailedReconstructions lists on-disk task ids that could not be recovered.
	FailedReconstructions []string `json:"failedReconstructions"`
}

// NewScanResult returns a result with every category initialised.
func NewScanResult() *ScanResult {
	return &ScanResult{
		Valid:                  make(map[string]HistoryItem),
		TasksOnlyInGlobalState: make(map[string]HistoryItem),
		TasksOnlyInIndex:       make(map[string]HistoryItem),
		Orphans:                make(map[string]HistoryItem),
	}
}

// ValidCount is the number of ids in the index view.
func (r *ScanResult) ValidCount() int {
	if r == nil {
		return 0
	}
	return len(r.Valid)
}

// Summary renders the category counts on one line.
func (r *ScanResult) Summary() string {
	if r == nil {
		return "no scan"
	}
	return fmt.Sprintf("valid=%d onlyInGlobalState=%d onlyInIndex=%d orphans=%d failedReconstructions=%d",
		len(r.Valid), len(r.TasksOnlyInGlobalState), len(r.TasksOnlyInIndex), len(r.Orphans), len(r.FailedReconstructions))
}

// RebuildMode chooses how a rebuild treats the existing index directory.
type RebuildMode string

const (
	// RebuildMerge upserts the selected items into the existing indexes.
	RebuildMerge RebuildMode = "merge"
	// RebuildReplace backs up the index directory and rebuilds from scratch,
	// restoring the backup on failure.
	RebuildReplace RebuildMode = "replace"
)

// ParseRebuildMode maps user input onto a RebuildMode. Empty input means merge.
func ParseRebuildMode(value string) (RebuildMode, error) {
	switch strings.TrimSpace(value) {
	case "", string(RebuildMerge):
		return RebuildMerge, nil
	case string(RebuildReplace):
		return RebuildReplace, nil
	default:
		return "", fmt.Errorf("unknown rebuild mode %q", value)
	}
}

// RebuildOptions selects the rebuild mode and which scan categories feed it.
type RebuildOptions struct {
	Mode               RebuildMode
	MergeFromGlobal    bool
	ReconstructOrphans bool
	Logs               LogSink
}

// ReindexOptions drives a full scan → rebuild → verify cycle.
type ReindexOptions struct {
	RebuildOptions
	ScanFilesystem bool
	Verify         bool
}

// SortedIDs returns the keys of items in ascending order.
func SortedIDs(items map[string]HistoryItem) []string {
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
