package taskhistory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskhistory/internal/domain/history"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchTwoMonthsTwoWorkspaces(t *testing.T) {
	f := newFixture(t)
	f.put(t,
		history.HistoryItem{ID: "a", Ts: ms(2021, 7, 5), Task: "first", Workspace: "workspace1"},
		history.HistoryItem{ID: "b", Ts: ms(2021, 7, 15), Task: "second", Workspace: "workspace2"},
		history.HistoryItem{ID: "c", Ts: ms(2021, 8, 2), Task: "third", Workspace: "workspace2"},
		history.HistoryItem{ID: "d", Ts: ms(2021, 8, 20), Task: "fourth", Workspace: "workspace1"},
	)

	months, err := f.store.AvailableMonths(history.SortNewest)
	require.NoError(t, err)
	require.Len(t, months, 2)
	assert.Equal(t, history.HistoryMonth{
		Year:         2021,
		Month:        8,
		MonthStartTs: time.Date(2021, 8, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		MonthEndTs:   time.Date(2021, 9, 1, 0, 0, 0, 0, time.UTC).UnixMilli() - 1,
	}, months[0])
	assert.Equal(t, time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), months[1].MonthStartTs)

	result, err := f.svc.Search(context.Background(), history.SearchQuery{Workspace: "workspace2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, resultIDs(result))
	assert.ElementsMatch(t, []string{"workspace1", "workspace2"}, result.Workspaces)
}

func TestSearchAllIsUnionWithoutDuplicates(t *testing.T) {
	f := newFixture(t)
	f.put(t,
		history.HistoryItem{ID: "moved", Ts: ms(2021, 7, 1), Task: "x", Workspace: "/w1"},
		history.HistoryItem{ID: "other", Ts: ms(2021, 7, 2), Task: "y", Workspace: "/w2"},
	)
	f.put(t, history.HistoryItem{ID: "moved", Ts: ms(2021, 7, 3), Task: "x", Workspace: "/w2"})

	result, err := f.svc.Search(context.Background(), history.SearchQuery{Workspace: history.WorkspaceAll})
	require.NoError(t, err)
	assert.Equal(t, []string{"moved", "other"}, resultIDs(result))
	assert.Equal(t, "/w2", result.Items[0].Workspace)

	// The stale /w1 ref must not surface the item under its old workspace.
	result, err = f.svc.Search(context.Background(), history.SearchQuery{Workspace: "/w1"})
	require.NoError(t, err)
	assert.Empty(t, result.Items)
}

func TestSearchDateRangeIsInclusiveAndPrunes(t *testing.T) {
	f := newFixture(t)
	f.put(t,
		history.HistoryItem{ID: "june", Ts: ms(2021, 6, 10), Task: "x", Workspace: "/w"},
		history.HistoryItem{ID: "july-early", Ts: ms(2021, 7, 1), Task: "x", Workspace: "/w"},
		history.HistoryItem{ID: "july-late", Ts: ms(2021, 7, 30), Task: "x", Workspace: "/w"},
		history.HistoryItem{ID: "august", Ts: ms(2021, 8, 10), Task: "x", Workspace: "/w"},
	)

	result, err := f.svc.Search(context.Background(), history.SearchQuery{
		Workspace: history.WorkspaceAll,
		DateRange: &history.DateRange{From: ms(2021, 7, 1), To: ms(2021, 7, 30)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"july-late", "july-early"}, resultIDs(result))
	assert.Equal(t, 1, result.Stats.ShardsVisited)
	assert.Equal(t, 2, result.Stats.ShardsPruned)

	result, err = f.svc.Search(context.Background(), history.SearchQuery{
		Workspace: history.WorkspaceAll,
		DateRange: &history.DateRange{From: ms(2021, 7, 2)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"august", "july-late"}, resultIDs(result))
}

func TestSearchLimitMatchesUnboundedPrefix(t *testing.T) {
	f := newFixture(t)
	var items []history.HistoryItem
	for i := 0; i < 24; i++ {
		items = append(items, history.HistoryItem{
			ID:        fmt.Sprintf("task-%02d", i),
			Ts:        ms(2022, time.Month(1+i%4), 1+i),
			Task:      fmt.Sprintf("task number %d", i),
			TokensIn:  int64((i * 5) % 13),
			TokensOut: int64(i % 3),
			TotalCost: float64((i*7)%11) / 10,
			Workspace: fmt.Sprintf("/w%d", i%2),
		})
	}
	f.put(t, items...)
	ctx := context.Background()

	sorts := []history.SortOption{history.SortNewest, history.SortOldest, history.SortMostExpensive, history.SortMostTokens}
	for _, sortOption := range sorts {
		full, err := f.svc.Search(ctx, history.SearchQuery{Workspace: history.WorkspaceAll, Sort: sortOption})
		require.NoError(t, err)
		require.Len(t, full.Items, len(items))
		for _, limit := range []int{1, 3, 7, 24, 30} {
			t.Run(fmt.Sprintf("%s/%d", sortOption, limit), func(t *testing.T) {
				limited, err := f.svc.Search(ctx, history.SearchQuery{Workspace: history.WorkspaceAll, Sort: sortOption, Limit: history.Limit(limit)})
				require.NoError(t, err)
				want := resultIDs(full)
				if limit < len(want) {
					want = want[:limit]
				}
				assert.Equal(t, want, resultIDs(limited))
			})
		}
	}
}

func TestSearchNewestAndOldestAreReverses(t *testing.T) {
	f := newFixture(t)
	f.put(t,
		history.HistoryItem{ID: "1", Ts: ms(2021, 5, 1), Task: "x", Workspace: "/w"},
		history.HistoryItem{ID: "2", Ts: ms(2021, 6, 1), Task: "x", Workspace: "/w"},
		history.HistoryItem{ID: "3", Ts: ms(2021, 6, 2), Task: "x", Workspace: "/w"},
	)
	newest, err := f.svc.Search(context.Background(), history.SearchQuery{Workspace: "/w", Sort: history.SortNewest})
	require.NoError(t, err)
	oldest, err := f.svc.Search(context.Background(), history.SearchQuery{Workspace: "/w", Sort: history.SortOldest})
	require.NoError(t, err)

	reversed := resultIDs(oldest)
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	assert.Equal(t, resultIDs(newest), reversed)
}

func TestSearchEarlyStopSkipsShards(t *testing.T) {
	f := newFixture(t)
	f.put(t,
		history.HistoryItem{ID: "may", Ts: ms(2021, 5, 1), Task: "x", Workspace: "/w"},
		history.HistoryItem{ID: "june", Ts: ms(2021, 6, 1), Task: "x", Workspace: "/w"},
		history.HistoryItem{ID: "july", Ts: ms(2021, 7, 1), Task: "x", Workspace: "/w"},
	)

	result, err := f.svc.Search(context.Background(), history.SearchQuery{Workspace: "/w", Limit: history.Limit(1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"july"}, resultIDs(result))
	assert.Equal(t, history.SearchStats{ShardsVisited: 1, ShardsSkipped: 2, ItemsLoaded: 1}, result.Stats)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.observer.shardsSkipped))
	assert.Equal(t, 1, testutil.CollectAndCount(f.observer.operationDuration))
}

func TestSearchLimitZeroReturnsMetadataOnly(t *testing.T) {
	f := newFixture(t)
	f.put(t,
		history.HistoryItem{ID: "a", Ts: ms(2021, 7, 1), Task: "x", Workspace: "/w1"},
		history.HistoryItem{ID: "b", Ts: ms(2021, 8, 1), Task: "x"},
	)

	result, err := f.svc.Search(context.Background(), history.SearchQuery{Workspace: history.WorkspaceAll, Limit: history.Limit(0)})
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Equal(t, []string{history.UnknownWorkspace, "/w1"}, result.Workspaces)
	assert.Zero(t, result.Stats.ItemsLoaded)
}

func TestSearchFuzzyQuery(t *testing.T) {
	f := newFixture(t)
	f.put(t,
		history.HistoryItem{ID: "loose", Ts: ms(2021, 7, 3), Task: "fiddle with an x-ray", Workspace: "/w"},
		history.HistoryItem{ID: "exact", Ts: ms(2021, 7, 1), Task: "fix", Workspace: "/w"},
		history.HistoryItem{ID: "none", Ts: ms(2021, 7, 2), Task: "write docs", Workspace: "/w"},
	)
	ctx := context.Background()

	result, err := f.svc.Search(ctx, history.SearchQuery{Workspace: "/w", Query: "fix"})
	require.NoError(t, err)
	assert.Equal(t, []string{"loose", "exact"}, resultIDs(result))
	assert.NotEmpty(t, result.Items[1].Highlights)

	result, err = f.svc.Search(ctx, history.SearchQuery{Workspace: "/w", Query: "fix", Sort: history.SortMostRelevant})
	require.NoError(t, err)
	assert.Equal(t, []string{"exact", "loose"}, resultIDs(result))

	result, err = f.svc.Search(ctx, history.SearchQuery{Workspace: "/w", Query: "fix", Limit: history.Limit(1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"loose"}, resultIDs(result))
}

func TestSearchResolvesCurrentWorkspace(t *testing.T) {
	f := newFixture(t, func(o *fixtureOptions) { o.currentWorkspace = "/mine" })
	f.put(t,
		history.HistoryItem{ID: "mine", Ts: ms(2021, 7, 1), Task: "x", Workspace: "/mine"},
		history.HistoryItem{ID: "theirs", Ts: ms(2021, 7, 2), Task: "x", Workspace: "/theirs"},
	)

	for _, selector := range []string{"", history.WorkspaceCurrent} {
		result, err := f.svc.Search(context.Background(), history.SearchQuery{Workspace: selector})
		require.NoError(t, err)
		assert.Equal(t, []string{"mine"}, resultIDs(result), "selector %q", selector)
	}
}

func TestSearchWorkspaceItems(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	project := filepath.Join(home, "code", "project")
	require.NoError(t, os.MkdirAll(project, 0o755))
	gone := filepath.Join(home, "gone")

	f := newFixture(t)
	f.put(t,
		history.HistoryItem{ID: "a", Ts: ms(2021, 7, 1), Task: "x", Workspace: project},
		history.HistoryItem{ID: "b", Ts: ms(2021, 7, 3), Task: "x", Workspace: gone},
		history.HistoryItem{ID: "c", Ts: ms(2021, 7, 2), Task: "x"},
	)

	result, err := f.svc.Search(context.Background(), history.SearchQuery{Workspace: history.WorkspaceAll, Limit: history.Limit(0)})
	require.NoError(t, err)
	assert.Equal(t, []history.WorkspaceItem{
		{Path: gone, Name: filepath.Join("~", "gone"), Missing: true, Ts: ms(2021, 7, 3)},
		{Path: history.UnknownWorkspace, Name: "(unknown)", Ts: ms(2021, 7, 2)},
		{Path: project, Name: filepath.Join("~", "code", "project"), Ts: ms(2021, 7, 1)},
	}, result.WorkspaceItems)
	assert.Equal(t, []string{gone, history.UnknownWorkspace, project}, result.Workspaces)
}

func TestSearchToleratesCorruptShardAndMissingItems(t *testing.T) {
	f := newFixture(t)
	f.put(t,
		history.HistoryItem{ID: "ok", Ts: ms(2021, 8, 1), Task: "x", Workspace: "/w"},
		history.HistoryItem{ID: "gone", Ts: ms(2021, 8, 2), Task: "x", Workspace: "/w"},
	)
	require.NoError(t, os.RemoveAll(f.store.TaskDir("gone")))
	f.store.ClearCache()
	require.NoError(t, os.WriteFile(filepath.Join(f.store.IndexDir(), "2021-07.index.json"), []byte("{not json"), 0o644))

	result, err := f.svc.Search(context.Background(), history.SearchQuery{Workspace: "/w"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, resultIDs(result))
	assert.True(t, f.logger.Contains("Skipping unreadable shard 2021-07"))
}
