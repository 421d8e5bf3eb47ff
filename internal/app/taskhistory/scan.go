package taskhistory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"taskhistory/internal/domain/history"
	"taskhistory/internal/shared/async"
	"taskhistory/internal/shared/logging"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

const scanProgressInterval = 2 * time.Second

// Scan classifies every task id known to the legacy array, the index and,
// with scanFilesystem, the task directories on disk.
func (s *Service) Scan(ctx context.Context, scanFilesystem bool, logs history.LogSink) (*history.ScanResult, error) {
	if err := s.op.lock(ctx); err != nil {
		return nil, err
	}
	defer s.op.unlock()
	ctx, _ = s.beginOperation(ctx, "scan")
	return s.scanLocked(ctx, scanFilesystem, logs)
}

func (s *Service) scanLocked(ctx context.Context, scanFilesystem bool, logs history.LogSink) (result *history.ScanResult, err error) {
	started := time.Now()
	ctx, span := startSpan(ctx, traceSpanScan, attribute.Bool("taskhistory.scan_filesystem", scanFilesystem))
	defer func() {
		if result != nil {
			span.SetAttributes(attribute.Int(traceAttrItems, result.ValidCount()))
		}
		markSpanResult(span, err)
		span.End()
		s.record("scan", started, err)
	}()
	logger := logging.FromContext(ctx, s.logger)

	s.store.ClearCache()

	legacyItems, err := s.legacy.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read legacy history: %w", err)
	}
	legacy := make(map[string]history.HistoryItem, len(legacyItems))
	for _, item := range legacyItems {
		if current, ok := legacy[item.ID]; ok {
			item = history.Newer(current, item)
		}
		legacy[item.ID] = item
	}
	logs.Printf("Legacy array: %d items", len(legacy))

	view, err := s.searchLocked(ctx, history.SearchQuery{Workspace: history.WorkspaceAll, Sort: history.SortNewest})
	if err != nil {
		return nil, err
	}
	logs.Printf("Index view: %d items across %d workspaces", len(view.Items), len(view.Workspaces))

	result = history.NewScanResult()
	for _, ranked := range view.Items {
		item := ranked.HistoryItem
		if legacyItem, ok := legacy[item.ID]; ok {
			// A stale legacy copy with a newer ts wins here, which can bring
			// back an item deleted from the index.
			result.Valid[item.ID] = history.Newer(item, legacyItem)
			continue
		}
		result.Valid[item.ID] = item
		result.TasksOnlyInIndex[item.ID] = item
	}
	for id, item := range legacy {
		if _, ok := result.Valid[id]; !ok {
			result.TasksOnlyInGlobalState[id] = item
		}
	}

	if scanFilesystem {
		if err := s.scanTaskDirs(ctx, logger, result, legacy, logs); err != nil {
			return nil, err
		}
	}

	logs.Printf("Scan complete: %s", result.Summary())
	logger.Info("Scan complete in %s: %s", time.Since(started), result.Summary())
	return result, nil
}

// scanTaskDirs reconstructs every task directory that neither the index nor
// the legacy array knows about.
func (s *Service) scanTaskDirs(ctx context.Context, logger logging.Logger, result *history.ScanResult, legacy map[string]history.HistoryItem, logs history.LogSink) error {
	ids, err := s.store.ListTaskDirs()
	if err != nil {
		return fmt.Errorf("list task dirs: %w", err)
	}
	candidates := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := result.Valid[id]; ok {
			continue
		}
		if _, ok := legacy[id]; ok {
			continue
		}
		candidates = append(candidates, id)
	}
	logs.Printf("Filesystem: %d task dirs, %d unindexed", len(ids), len(candidates))
	if len(candidates) == 0 {
		return nil
	}

	var (
		mu       sync.Mutex
		done     atomic.Int64
		progress = rate.Sometimes{Interval: scanProgressInterval}
	)
	poolErr := async.ForEach(ctx, s.store.PoolSize(), candidates, logger, func(ctx context.Context, id string) {
		item, err := s.reconstructRecovering(ctx, id)
		mu.Lock()
		if err != nil {
			result.FailedReconstructions = append(result.FailedReconstructions, id)
			if !errors.Is(err, history.ErrNotReconstructable) {
				logger.Warn("Reconstruction of %s failed: %v", id, err)
			}
		} else {
			result.Orphans[id] = item
		}
		mu.Unlock()
		n := done.Add(1)
		progress.Do(func() {
			logs.Printf("Reconstructed %d/%d unindexed tasks", n, len(candidates))
		})
	})
	sort.Strings(result.FailedReconstructions)
	if poolErr != nil {
		return poolErr
	}
	logs.Printf("Reconstruction: %d recovered, %d failed", len(result.Orphans), len(result.FailedReconstructions))
	return nil
}

// reconstructRecovering turns a panicking reconstruction into an error so the
// id is still classified as failed.
func (s *Service) reconstructRecovering(ctx context.Context, id string) (item history.HistoryItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reconstruct %s panicked: %v", id, r)
		}
	}()
	return s.ReconstructTask(ctx, id)
}
