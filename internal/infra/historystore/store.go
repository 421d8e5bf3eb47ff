// Package historystore persists task metadata as one JSON document per task
// and maintains the month shards and workspace index that make the history
// searchable without loading every item.
package historystore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"taskhistory/internal/domain/history"
	"taskhistory/internal/infra/filestore"
	"taskhistory/internal/shared/async"
	"taskhistory/internal/shared/logging"
)

// WriteObserver receives batch write outcomes.
type WriteObserver interface {
	RecordItemWrites(written, failed int)
}

// Config wires a Store.
type Config struct {
	TasksDir  string
	IndexDir  string
	Documents filestore.Documents
	// Location decides which calendar month a ts falls in. Defaults to
	// time.Local.
	Location *time.Location
	// WriteConcurrency caps in-flight item writes. Defaults to
	// async.DefaultPoolSize.
	WriteConcurrency int
	// CacheMaxItems bounds the item cache; zero keeps every item.
	CacheMaxItems int
	Logger        logging.Logger
	Observer      WriteObserver
}

// Store is the item store plus the month and workspace indexes.
type Store struct {
	tasksDir string
	indexDir string
	docs     filestore.Documents
	loc      *time.Location
	poolSize int
	cache    itemCache
	logger   logging.Logger
	observer WriteObserver
}

// WriteReport summarises one SetHistoryItems batch.
type WriteReport struct {
	Received      int
	Rejected      int
	Written       int
	Failed        int
	ShardsUpdated int
}

// New validates cfg and builds a Store.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.TasksDir) == "" {
		return nil, errors.New("historystore: tasks dir is required")
	}
	if strings.TrimSpace(cfg.IndexDir) == "" {
		return nil, errors.New("historystore: index dir is required")
	}
	cache, err := newItemCache(cfg.CacheMaxItems)
	if err != nil {
		return nil, fmt.Errorf("historystore: create cache: %w", err)
	}
	docs := cfg.Documents
	if docs == nil {
		docs = filestore.NewFileDocuments(nil)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	poolSize := cfg.WriteConcurrency
	if poolSize <= 0 {
		poolSize = async.DefaultPoolSize
	}
	logger := cfg.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("HistoryStore")
	}
	return &Store{
		tasksDir: filepath.Clean(cfg.TasksDir),
		indexDir: filepath.Clean(cfg.IndexDir),
		docs:     docs,
		loc:      loc,
		poolSize: poolSize,
		cache:    cache,
		logger:   logger,
		observer: cfg.Observer,
	}, nil
}

func (s *Store) TasksDir() string         { return s.tasksDir }
func (s *Store) IndexDir() string         { return s.indexDir }
func (s *Store) Location() *time.Location { return s.loc }
func (s *Store) PoolSize() int            { return s.poolSize }

// TaskDir is the directory holding every file of one task.
func (s *Store) TaskDir(id string) string {
	return filepath.Join(s.tasksDir, id)
}

func (s *Store) itemPath(id string) string {
	return filepath.Join(s.tasksDir, id, history.ItemFileName)
}

func (s *Store) shardPath(month history.HistoryMonth) string {
	return filepath.Join(s.indexDir, month.FileName())
}

func (s *Store) workspaceIndex() *filestore.Collection[string, int64] {
	return filestore.NewCollection[string, int64](s.docs, filepath.Join(s.indexDir, history.WorkspaceIndexFile), "workspaces").
		RecoverCorrupt(s.reportCorrupt)
}

func (s *Store) shard(month history.HistoryMonth) *filestore.Collection[string, map[string]int64] {
	return filestore.NewCollection[string, map[string]int64](s.docs, s.shardPath(month), month.Key()).
		RecoverCorrupt(s.reportCorrupt)
}

// reportCorrupt logs an index document that was moved aside and rebuilt from
// the entries of the current write.
func (s *Store) reportCorrupt(path string, err error) {
	s.logger.Warn("Index document %s was unreadable, kept a copy at %s%s: %v", path, filepath.Base(path), filestore.CorruptSuffix, err)
}

// SetHistoryItems upserts a batch. Items failing validation are logged and
// skipped; a later occurrence of an id replaces an earlier one. Item files are
// written with at most PoolSize writes in flight and a failed write is logged
// without aborting the batch. Every touched month shard and the workspace
// index are then updated once, and only rewritten when a mapping changed.
// The returned error joins the shard and workspace index failures.
func (s *Store) SetHistoryItems(ctx context.Context, items []history.HistoryItem) (WriteReport, error) {
	report := WriteReport{Received: len(items)}
	batch := make([]history.HistoryItem, 0, len(items))
	position := make(map[string]int, len(items))
	for _, raw := range items {
		if err := raw.Validate(); err != nil {
			report.Rejected++
			s.logger.Warn("Skipping invalid history item: %v", err)
			continue
		}
		item := raw.Normalized()
		if idx, ok := position[item.ID]; ok {
			batch[idx] = item
			continue
		}
		position[item.ID] = len(batch)
		batch = append(batch, item)
	}

	var (
		mu      sync.Mutex
		written = make([]history.HistoryItem, 0, len(batch))
	)
	poolErr := async.ForEach(ctx, s.poolSize, batch, s.logger, func(ctx context.Context, item history.HistoryItem) {
		if err := filestore.WriteJSON(ctx, s.docs, s.itemPath(item.ID), item); err != nil {
			s.logger.Error("Failed to write history item %s: %v", item.ID, err)
			mu.Lock()
			report.Failed++
			mu.Unlock()
			return
		}
		s.cache.Add(item)
		mu.Lock()
		written = append(written, item)
		mu.Unlock()
	})
	report.Written = len(written)
	if s.observer != nil {
		s.observer.RecordItemWrites(report.Written, report.Failed)
	}
	if poolErr != nil {
		return report, poolErr
	}
	if len(written) == 0 {
		return report, nil
	}

	var errs []error
	updated, err := s.indexItems(ctx, written)
	report.ShardsUpdated = updated
	if err != nil {
		errs = append(errs, err)
	}
	if err := s.raiseWorkspaceTimestamps(ctx, written); err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

func (s *Store) indexItems(ctx context.Context, items []history.HistoryItem) (int, error) {
	type monthBatch struct {
		month history.HistoryMonth
		items []history.HistoryItem
	}
	byMonth := make(map[string]*monthBatch)
	for _, item := range items {
		month := history.MonthOf(item.Ts, s.loc)
		entry, ok := byMonth[month.Key()]
		if !ok {
			entry = &monthBatch{month: month}
			byMonth[month.Key()] = entry
		}
		entry.items = append(entry.items, item)
	}
	keys := make([]string, 0, len(byMonth))
	for key := range byMonth {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	updated := 0
	var errs []error
	for _, key := range keys {
		entry := byMonth[key]
		changed, err := s.shard(entry.month).Mutate(ctx, func(buckets map[string]map[string]int64) error {
			shard := Shard(buckets)
			dirty := false
			for _, item := range entry.items {
				if shard.put(item.Workspace, item.ID, item.Ts) {
					dirty = true
				}
			}
			if !dirty {
				return filestore.ErrNoChange
			}
			return nil
		})
		if err != nil {
			s.logger.Error("Failed to update month shard %s: %v", key, err)
			errs = append(errs, fmt.Errorf("update shard %s: %w", key, err))
			continue
		}
		if changed {
			updated++
		}
	}
	return updated, errors.Join(errs...)
}

func (s *Store) raiseWorkspaceTimestamps(ctx context.Context, items []history.HistoryItem) error {
	latest := make(map[string]int64)
	for _, item := range items {
		if item.Ts > latest[item.Workspace] {
			latest[item.Workspace] = item.Ts
		}
	}
	_, err := s.workspaceIndex().Mutate(ctx, func(index map[string]int64) error {
		dirty := false
		for workspace, ts := range latest {
			if ts > index[workspace] {
				index[workspace] = ts
				dirty = true
			}
		}
		if !dirty {
			return filestore.ErrNoChange
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to update workspace index: %v", err)
		return fmt.Errorf("update workspace index: %w", err)
	}
	return nil
}

// GetHistoryItem returns the stored item for id. Missing items report false
// silently; unreadable or malformed documents are logged and also report
// false. With useCache the cache is consulted first and filled on a read.
func (s *Store) GetHistoryItem(ctx context.Context, id string, useCache bool) (history.HistoryItem, bool) {
	if err := history.ValidateID(id); err != nil {
		s.logger.Warn("Rejecting history item lookup: %v", err)
		return history.HistoryItem{}, false
	}
	if useCache {
		if item, ok := s.cache.Get(id); ok {
			return item, true
		}
	}
	path := s.itemPath(id)
	data, err := s.docs.Read(ctx, path)
	if err != nil {
		if !filestore.IsNotExist(err) {
			s.logger.Warn("Failed to read history item %s: %v", path, err)
		}
		return history.HistoryItem{}, false
	}
	item, err := history.DecodeItem(data)
	if err != nil {
		s.logger.Warn("Ignoring malformed history item %s: %v", path, err)
		return history.HistoryItem{}, false
	}
	if useCache {
		s.cache.Add(item)
	}
	return item, true
}

// DeleteHistoryItem removes the task directory and invalidates the cache
// entry, then sweeps every month shard for the id since shard membership can
// lag behind the item's current ts.
func (s *Store) DeleteHistoryItem(ctx context.Context, id string) error {
	if err := history.ValidateID(id); err != nil {
		return err
	}
	if err := os.RemoveAll(s.TaskDir(id)); err != nil {
		return fmt.Errorf("remove task dir %s: %w", id, err)
	}
	s.cache.Remove(id)

	months, err := s.AvailableMonths(history.SortNewest)
	if err != nil {
		return err
	}
	var errs []error
	for _, month := range months {
		_, err := s.shard(month).Mutate(ctx, func(buckets map[string]map[string]int64) error {
			if !Shard(buckets).remove(id) {
				return filestore.ErrNoChange
			}
			return nil
		})
		if err != nil {
			s.logger.Error("Failed to purge %s from shard %s: %v", id, month.Key(), err)
			errs = append(errs, fmt.Errorf("purge shard %s: %w", month.Key(), err))
		}
	}
	return errors.Join(errs...)
}

// ClearCache drops every cached item.
func (s *Store) ClearCache() {
	s.cache.Purge()
}

// CachedItems reports how many items the cache holds.
func (s *Store) CachedItems() int {
	return s.cache.Len()
}

// AvailableMonths lists the month shards on disk, newest first unless sort is
// oldest. Files whose names are not a strict YYYY-MM shard name are ignored.
// A missing index directory yields no months.
func (s *Store) AvailableMonths(sortOption history.SortOption) ([]history.HistoryMonth, error) {
	entries, err := os.ReadDir(s.indexDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list index dir: %w", err)
	}
	months := make([]history.HistoryMonth, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		month, ok := history.ParseShardFileName(entry.Name(), s.loc)
		if !ok {
			continue
		}
		months = append(months, month)
	}
	oldestFirst := sortOption.OldestFirst()
	sort.Slice(months, func(i, j int) bool {
		if oldestFirst {
			return months[i].MonthStartTs < months[j].MonthStartTs
		}
		return months[i].MonthStartTs > months[j].MonthStartTs
	})
	return months, nil
}

// LoadShard reads one month shard; a missing shard is empty.
func (s *Store) LoadShard(ctx context.Context, month history.HistoryMonth) (Shard, error) {
	buckets, err := s.shard(month).Load(ctx)
	if err != nil {
		return nil, err
	}
	return Shard(buckets), nil
}

// LoadWorkspaceIndex reads workspace -> latest ts; a missing index is empty.
func (s *Store) LoadWorkspaceIndex(ctx context.Context) (map[string]int64, error) {
	return s.workspaceIndex().Load(ctx)
}

// IndexExists reports whether the index directory is present.
func (s *Store) IndexExists() (bool, error) {
	info, err := os.Stat(s.indexDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// EnsureIndexDir creates the index directory.
func (s *Store) EnsureIndexDir() error {
	return filestore.EnsureDir(s.indexDir)
}

// ListTaskDirs returns the ids of every task directory, ascending. A missing
// tasks directory yields no ids.
func (s *Store) ListTaskDirs() ([]string, error) {
	entries, err := os.ReadDir(s.tasksDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list tasks dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || history.ValidateID(entry.Name()) != nil {
			continue
		}
		ids = append(ids, entry.Name())
	}
	sort.Strings(ids)
	return ids, nil
}
