package taskhistory

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskhistory/internal/domain/history"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// snapshotIndex returns the content of every shard and index document.
func snapshotIndex(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(path, history.ShardSuffix) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		out[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func siblingsWith(t *testing.T, indexDir, marker string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Dir(indexDir))
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), filepath.Base(indexDir)+marker) {
			names = append(names, entry.Name())
		}
	}
	return names
}

func TestSelectRebuildItemsHonoursFlags(t *testing.T) {
	scan := history.NewScanResult()
	scan.Valid["a"] = history.HistoryItem{ID: "a", Ts: 1}
	scan.TasksOnlyInGlobalState["g"] = history.HistoryItem{ID: "g", Ts: 2}
	scan.Orphans["o"] = history.HistoryItem{ID: "o", Ts: 3}
	scan.Orphans["a"] = history.HistoryItem{ID: "a", Ts: 9, Task: "newer orphan copy"}

	ids := func(items []history.HistoryItem) []string {
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, item.ID)
		}
		return out
	}
	assert.Equal(t, []string{"a"}, ids(SelectRebuildItems(scan, history.RebuildOptions{})))
	assert.Equal(t, []string{"a", "g"}, ids(SelectRebuildItems(scan, history.RebuildOptions{MergeFromGlobal: true})))

	all := SelectRebuildItems(scan, history.RebuildOptions{MergeFromGlobal: true, ReconstructOrphans: true})
	assert.Equal(t, []string{"a", "g", "o"}, ids(all))
	assert.Equal(t, "newer orphan copy", all[0].Task)
	assert.Nil(t, SelectRebuildItems(nil, history.RebuildOptions{}))
}

func TestReindexMergeRecoversEverySource(t *testing.T) {
	f := newFixture(t)
	seedScanFixture(t, f)
	ctx := context.Background()

	report, err := f.svc.Reindex(ctx, history.ReindexOptions{
		RebuildOptions: history.RebuildOptions{
			Mode:               history.RebuildMerge,
			MergeFromGlobal:    true,
			ReconstructOrphans: true,
			Logs:               f.sink.Sink(),
		},
		ScanFilesystem: true,
		Verify:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Written.Written)
	require.NotNil(t, report.After)
	assert.Equal(t, []string{"both", "indexed", "legacy", "orphan"}, history.SortedIDs(report.After.Valid))
	assert.True(t, f.sink.Contains("Reindex complete"))

	result, err := f.svc.Search(ctx, history.SearchQuery{Workspace: history.WorkspaceAll})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"both", "indexed", "legacy", "orphan"}, resultIDs(result))
	assert.Equal(t, 6.0, testutil.ToFloat64(f.observer.itemsWritten))
}

func TestRebuildReplaceKeepsBoundedBackups(t *testing.T) {
	maxBackups := 1
	f := newFixture(t, func(o *fixtureOptions) { o.maxBackups = &maxBackups })
	f.put(t, history.HistoryItem{ID: "a", Ts: ms(2021, 7, 1), Task: "x", Workspace: "/w"})
	ctx := context.Background()

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	for i := 0; i < 3; i++ {
		scan, err := f.svc.Scan(ctx, false, nil)
		require.NoError(t, err)
		_, err = f.svc.RebuildIndexes(ctx, scan, history.RebuildOptions{Mode: history.RebuildReplace, Logs: f.sink.Sink()})
		require.NoError(t, err)
		// Distinct mtimes keep eviction order deterministic.
		for j, name := range siblingsWith(t, f.store.IndexDir(), backupMarker) {
			stamp := time.Now().Add(time.Duration(j-10) * time.Minute)
			require.NoError(t, os.Chtimes(filepath.Join(filepath.Dir(f.store.IndexDir()), name), stamp, stamp))
		}
	}

	assert.Len(t, siblingsWith(t, f.store.IndexDir(), backupMarker), 1)
	assert.True(t, f.sink.Contains("Removed old index backup"))

	result, err := f.svc.Search(ctx, history.SearchQuery{Workspace: history.WorkspaceAll})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, resultIDs(result))
}

func TestRebuildReplaceDropsStaleRefs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, history.HistoryItem{ID: "a", Ts: ms(2021, 7, 1), Task: "x", Workspace: "/w1"})
	f.put(t, history.HistoryItem{ID: "a", Ts: ms(2021, 8, 1), Task: "x", Workspace: "/w2"})

	_, err := f.svc.Reindex(ctx, history.ReindexOptions{RebuildOptions: history.RebuildOptions{Mode: history.RebuildReplace}})
	require.NoError(t, err)

	months, err := f.store.AvailableMonths(history.SortNewest)
	require.NoError(t, err)
	require.Len(t, months, 1)
	assert.Equal(t, "2021-08", months[0].Key())
}

func TestRebuildReplaceRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t,
		history.HistoryItem{ID: "a", Ts: ms(2021, 7, 1), Task: "x", Workspace: "/w1"},
		history.HistoryItem{ID: "b", Ts: ms(2021, 8, 1), Task: "y", Workspace: "/w2"},
	)
	require.NoError(t, f.legacy.Write(ctx, []history.HistoryItem{{ID: "c", Ts: ms(2021, 9, 1), Task: "z"}}))
	before := snapshotIndex(t, f.store.IndexDir())
	require.Len(t, before, 3)

	f.docs.failShards.Store(true)
	_, err := f.svc.Reindex(ctx, history.ReindexOptions{
		RebuildOptions: history.RebuildOptions{Mode: history.RebuildReplace, MergeFromGlobal: true, Logs: f.sink.Sink()},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)
	f.docs.failShards.Store(false)

	assert.Equal(t, before, snapshotIndex(t, f.store.IndexDir()))
	assert.Empty(t, siblingsWith(t, f.store.IndexDir(), backupMarker))
	assert.Len(t, siblingsWith(t, f.store.IndexDir(), brokenMarker), 1)
	assert.True(t, f.sink.Contains("Restored index dir"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.observer.operationErrors.WithLabelValues("reindex")))

	result, err := f.svc.Search(ctx, history.SearchQuery{Workspace: history.WorkspaceAll})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, resultIDs(result))
}

func TestRebuildRejectsUnknownMode(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RebuildIndexes(context.Background(), history.NewScanResult(), history.RebuildOptions{Mode: "sideways"})
	require.Error(t, err)
}

func TestMergeReindexRepairsCorruptShard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t,
		history.HistoryItem{ID: "a", Ts: ms(2021, 7, 1), Task: "x", Workspace: "/w"},
		history.HistoryItem{ID: "b", Ts: ms(2021, 7, 2), Task: "y", Workspace: "/w"},
		history.HistoryItem{ID: "c", Ts: ms(2021, 8, 1), Task: "z", Workspace: "/w"},
	)
	shardPath := filepath.Join(f.store.IndexDir(), "2021-07"+history.ShardSuffix)
	require.NoError(t, os.WriteFile(shardPath, []byte("{not json"), 0o644))

	before, err := f.svc.Search(ctx, history.SearchQuery{Workspace: history.WorkspaceAll})
	require.NoError(t, err)
	require.Len(t, before.Items, 1)

	_, err = f.svc.Reindex(ctx, history.ReindexOptions{
		RebuildOptions: history.RebuildOptions{Mode: history.RebuildMerge, ReconstructOrphans: true},
		ScanFilesystem: true,
	})
	require.NoError(t, err)

	after, err := f.svc.Search(ctx, history.SearchQuery{Workspace: history.WorkspaceAll, Sort: history.SortOldest})
	require.NoError(t, err)
	ids := make([]string, 0, len(after.Items))
	for _, item := range after.Items {
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	_, err = os.Stat(shardPath + ".corrupt")
	assert.NoError(t, err)
}
