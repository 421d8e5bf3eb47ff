package taskhistory

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"taskhistory/internal/domain/history"
	"taskhistory/internal/infra/historystore"
	"taskhistory/internal/shared/logging"

	"go.opentelemetry.io/otel/attribute"
)

const unknownWorkspaceLabel = "(unknown)"

// Search runs a query under the operation mutex. Missing or corrupt index
// data is logged and skipped; the only error is ctx ending.
func (s *Service) Search(ctx context.Context, query history.SearchQuery) (history.SearchResult, error) {
	if err := s.op.lock(ctx); err != nil {
		return history.SearchResult{}, err
	}
	defer s.op.unlock()
	return s.searchLocked(ctx, query)
}

type searchRun struct {
	workspace   string
	sort        history.SortOption
	text        string
	limit       int
	bounded     bool
	earlyStop   bool
	metadata    bool
	emitted     map[string]struct{}
	items       []history.HistoryItem
	seen        map[string]int64
	stats       history.SearchStats
	filterItems bool
}

func (s *Service) searchLocked(ctx context.Context, query history.SearchQuery) (result history.SearchResult, err error) {
	started := time.Now()
	run := s.newSearchRun(query)
	ctx, span := startSpan(ctx, traceSpanSearch,
		attribute.String(traceAttrWorkspace, run.workspace),
		attribute.String(traceAttrSort, string(run.sort)),
	)
	defer func() {
		span.SetAttributes(attribute.Int(traceAttrItems, len(result.Items)))
		markSpanResult(span, err)
		span.End()
		s.record("search", started, err)
		s.observer.RecordShardsSkipped(result.Stats.ShardsSkipped)
	}()
	logger := logging.FromContext(ctx, s.logger)

	months, listErr := s.store.AvailableMonths(run.sort)
	if listErr != nil {
		logger.Warn("Search could not list month shards: %v", listErr)
	}

	for i, month := range months {
		if err := ctx.Err(); err != nil {
			return history.SearchResult{}, err
		}
		if run.earlyStop && len(run.items) >= run.limit {
			run.stats.ShardsSkipped += len(months) - i
			break
		}
		if !month.Intersects(query.DateRange) {
			run.stats.ShardsPruned++
			continue
		}
		shard, loadErr := s.store.LoadShard(ctx, month)
		run.stats.ShardsVisited++
		if loadErr != nil {
			logger.Warn("Skipping unreadable shard %s: %v", month.Key(), loadErr)
			continue
		}
		for workspace, bucket := range shard {
			latest := run.seen[workspace]
			for _, ts := range bucket {
				latest = max(latest, ts)
			}
			run.seen[workspace] = latest
		}
		if run.metadata {
			continue
		}
		s.collectShard(ctx, run, shard, query.DateRange)
	}

	history.SortItems(run.items, run.sort)
	var ranked []history.SearchResultItem
	if run.text != "" {
		ranked = s.ranker.Rank(run.items, run.text, run.sort != history.SortMostRelevant)
	} else {
		ranked = make([]history.SearchResultItem, 0, len(run.items))
		for _, item := range run.items {
			ranked = append(ranked, history.SearchResultItem{HistoryItem: item})
		}
	}
	if run.bounded && len(ranked) > run.limit {
		ranked = ranked[:run.limit]
	}

	workspaceItems := s.workspaceItems(ctx, logger, run.seen)
	workspaces := make([]string, 0, len(workspaceItems))
	for _, item := range workspaceItems {
		workspaces = append(workspaces, item.Path)
	}
	return history.SearchResult{
		Items:          ranked,
		Workspaces:     workspaces,
		WorkspaceItems: workspaceItems,
		Stats:          run.stats,
	}, nil
}

func (s *Service) newSearchRun(query history.SearchQuery) *searchRun {
	sortOption := query.Sort
	if sortOption == "" {
		sortOption = history.SortNewest
	}
	workspace := strings.TrimSpace(query.Workspace)
	if workspace == "" || workspace == history.WorkspaceCurrent {
		workspace = s.currentWorkspace
		if workspace == "" {
			workspace = history.WorkspaceAll
		}
	}
	run := &searchRun{
		workspace:   workspace,
		sort:        sortOption,
		text:        strings.TrimSpace(query.Query),
		emitted:     make(map[string]struct{}),
		seen:        make(map[string]int64),
		filterItems: workspace != history.WorkspaceAll,
	}
	if query.Limit != nil {
		run.bounded = true
		run.limit = *query.Limit
		if run.limit < 0 {
			run.limit = 0
		}
		run.metadata = run.limit == 0
		// Only a traversal-ordered, unranked result can stop at the limit.
		run.earlyStop = !run.metadata && sortOption.Chronological() && run.text == ""
	}
	return run
}

func (s *Service) collectShard(ctx context.Context, run *searchRun, shard historystore.Shard, dateRange *history.DateRange) {
	refs := shard.Refs(run.workspace)
	filtered := refs[:0]
	for _, ref := range refs {
		if dateRange.Contains(ref.Ts) {
			filtered = append(filtered, ref)
		}
	}
	historystore.SortRefs(filtered, run.sort.OldestFirst())

	for _, ref := range filtered {
		if run.earlyStop && len(run.items) >= run.limit {
			return
		}
		if _, done := run.emitted[ref.ID]; done {
			continue
		}
		run.emitted[ref.ID] = struct{}{}
		item, ok := s.store.GetHistoryItem(ctx, ref.ID, true)
		run.stats.ItemsLoaded++
		if !ok {
			continue
		}
		if run.filterItems && item.Workspace != run.workspace {
			continue
		}
		if !dateRange.Contains(item.Ts) {
			continue
		}
		run.items = append(run.items, item)
	}
}

// workspaceItems merges the workspace index with the workspaces seen in
// shards and decorates each for display, most recent first.
func (s *Service) workspaceItems(ctx context.Context, logger logging.Logger, seen map[string]int64) []history.WorkspaceItem {
	latest := make(map[string]int64, len(seen))
	for workspace, ts := range seen {
		latest[workspace] = ts
	}
	index, err := s.store.LoadWorkspaceIndex(ctx)
	if err != nil {
		logger.Warn("Workspace index unreadable: %v", err)
	}
	for workspace, ts := range index {
		latest[workspace] = max(latest[workspace], ts)
	}

	home, _ := os.UserHomeDir()
	items := make([]history.WorkspaceItem, 0, len(latest))
	for workspace, ts := range latest {
		items = append(items, describeWorkspace(workspace, ts, home))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Ts != items[j].Ts {
			return items[i].Ts > items[j].Ts
		}
		return items[i].Path < items[j].Path
	})
	return items
}

func describeWorkspace(path string, ts int64, home string) history.WorkspaceItem {
	if path == history.UnknownWorkspace {
		return history.WorkspaceItem{Path: path, Name: unknownWorkspaceLabel, Ts: ts}
	}
	item := history.WorkspaceItem{Path: path, Name: path, Ts: ts}
	if home != "" {
		if rel, err := filepath.Rel(home, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			if rel == "." {
				item.Name = "~"
			} else {
				item.Name = filepath.Join("~", rel)
			}
		}
	}
	if _, err := os.Stat(path); err != nil {
		item.Missing = true
	}
	return item
}
