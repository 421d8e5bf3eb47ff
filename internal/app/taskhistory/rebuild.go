package taskhistory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taskhistory/internal/domain/history"
	"taskhistory/internal/infra/filestore"
	"taskhistory/internal/infra/historystore"
	"taskhistory/internal/shared/logging"
	"taskhistory/internal/shared/utils/id"

	"go.opentelemetry.io/otel/attribute"
)

const (
	backupMarker = ".backup-"
	brokenMarker = ".broken-"
)

// ReindexReport describes one scan, rebuild and verify cycle.
type ReindexReport struct {
	Before  *history.ScanResult
	Written historystore.WriteReport
	// After is nil unless verification was requested.
	After *history.ScanResult
}

// RebuildIndexes persists the newest version of every id selected from scan
// under the operation mutex.
func (s *Service) RebuildIndexes(ctx context.Context, scan *history.ScanResult, opts history.RebuildOptions) (historystore.WriteReport, error) {
	if err := s.op.lock(ctx); err != nil {
		return historystore.WriteReport{}, err
	}
	defer s.op.unlock()
	ctx, _ = s.beginOperation(ctx, "rebuild")
	return s.rebuildLocked(ctx, scan, opts)
}

// Reindex runs scan, rebuild and an optional verification scan as one
// operation, so no search observes a half-rebuilt index.
func (s *Service) Reindex(ctx context.Context, opts history.ReindexOptions) (report ReindexReport, err error) {
	if err := s.op.lock(ctx); err != nil {
		return ReindexReport{}, err
	}
	defer s.op.unlock()

	started := time.Now()
	ctx, logger := s.beginOperation(ctx, "reindex")
	ctx, span := startSpan(ctx, traceSpanReindex, attribute.String(traceAttrMode, string(opts.Mode)))
	defer func() {
		span.SetAttributes(attribute.Int(traceAttrItems, report.Written.Written))
		markSpanResult(span, err)
		span.End()
		s.record("reindex", started, err)
	}()
	logs := opts.Logs

	logs.Printf("Reindex started (mode=%s, filesystem=%t)", modeOrDefault(opts.Mode), opts.ScanFilesystem)
	report.Before, err = s.scanLocked(ctx, opts.ScanFilesystem, logs)
	if err != nil {
		return report, fmt.Errorf("scan: %w", err)
	}
	report.Written, err = s.rebuildLocked(ctx, report.Before, opts.RebuildOptions)
	if err != nil {
		return report, err
	}
	if opts.Verify {
		logs.Printf("Verifying rebuilt indexes")
		report.After, err = s.scanLocked(ctx, false, logs)
		if err != nil {
			return report, fmt.Errorf("verify: %w", err)
		}
		if missing := missingFromIndex(report.Written, report.After); missing > 0 {
			logger.Warn("Verification found %d rebuilt items missing from the index", missing)
			logs.Printf("Verification: %d items still missing from the index", missing)
		}
	}
	logger.Info("Reindex complete in %s", time.Since(started))
	logs.Printf("Reindex complete in %s", time.Since(started).Round(time.Millisecond))
	return report, nil
}

func missingFromIndex(written historystore.WriteReport, after *history.ScanResult) int {
	if after == nil || written.Written <= after.ValidCount() {
		return 0
	}
	return written.Written - after.ValidCount()
}

func modeOrDefault(mode history.RebuildMode) history.RebuildMode {
	if mode == "" {
		return history.RebuildMerge
	}
	return mode
}

// SelectRebuildItems picks the newest version per id from the valid set and,
// as requested, the legacy-only and orphan sets, ordered by id.
func SelectRebuildItems(scan *history.ScanResult, opts history.RebuildOptions) []history.HistoryItem {
	if scan == nil {
		return nil
	}
	selected := make(map[string]history.HistoryItem, len(scan.Valid))
	merge := func(source map[string]history.HistoryItem) {
		for taskID, item := range source {
			if current, ok := selected[taskID]; ok {
				item = history.Newer(current, item)
			}
			selected[taskID] = item
		}
	}
	merge(scan.Valid)
	if opts.MergeFromGlobal {
		merge(scan.TasksOnlyInGlobalState)
	}
	if opts.ReconstructOrphans {
		merge(scan.Orphans)
	}
	items := make([]history.HistoryItem, 0, len(selected))
	for _, taskID := range history.SortedIDs(selected) {
		items = append(items, selected[taskID])
	}
	return items
}

func (s *Service) rebuildLocked(ctx context.Context, scan *history.ScanResult, opts history.RebuildOptions) (report historystore.WriteReport, err error) {
	mode := modeOrDefault(opts.Mode)
	started := time.Now()
	ctx, span := startSpan(ctx, traceSpanRebuild, attribute.String(traceAttrMode, string(mode)))
	defer func() {
		span.SetAttributes(attribute.Int(traceAttrItems, report.Written))
		markSpanResult(span, err)
		span.End()
		s.record("rebuild", started, err)
	}()
	logger := logging.FromContext(ctx, s.logger)
	logs := opts.Logs

	items := SelectRebuildItems(scan, opts)
	logs.Printf("Rebuilding indexes from %d items (mode=%s, global=%t, orphans=%t)", len(items), mode, opts.MergeFromGlobal, opts.ReconstructOrphans)

	switch mode {
	case history.RebuildMerge:
		report, err = s.store.SetHistoryItems(ctx, items)
		if err != nil {
			logs.Printf("Merge rebuild failed: %v", err)
			return report, fmt.Errorf("rebuild indexes: %w", err)
		}
	case history.RebuildReplace:
		report, err = s.replaceIndexes(ctx, logger, items, logs)
		if err != nil {
			return report, err
		}
	default:
		return report, fmt.Errorf("rebuild indexes: unknown mode %q", mode)
	}
	logs.Printf("Rebuild wrote %d items (%d failed) and updated %d shards", report.Written, report.Failed, report.ShardsUpdated)
	return report, nil
}

// replaceIndexes moves the index directory aside, rebuilds it from items and
// restores the backup if the rebuild fails.
func (s *Service) replaceIndexes(ctx context.Context, logger logging.Logger, items []history.HistoryItem, logs history.LogSink) (historystore.WriteReport, error) {
	indexDir := s.store.IndexDir()
	suffix := id.NewBackupSuffix(s.now())
	backupDir := indexDir + backupMarker + suffix
	brokenDir := indexDir + brokenMarker + suffix

	existed, err := s.store.IndexExists()
	if err != nil {
		return historystore.WriteReport{}, fmt.Errorf("stat index dir: %w", err)
	}
	if existed {
		if err := os.Rename(indexDir, backupDir); err != nil {
			return historystore.WriteReport{}, fmt.Errorf("back up index dir: %w", err)
		}
		logs.Printf("Backed up index dir to %s", backupDir)
		logger.Info("Backed up index dir %s to %s", indexDir, backupDir)
	}

	report, err := s.writeFreshIndexes(ctx, items)
	if err != nil {
		logger.Error("Replace rebuild failed, restoring backup: %v", err)
		logs.Printf("Rebuild failed: %v", err)
		if restoreErr := s.restoreIndexes(indexDir, backupDir, brokenDir, existed, logs); restoreErr != nil {
			logger.Error("Restoring index backup failed: %v", restoreErr)
			err = errors.Join(err, restoreErr)
		}
		return report, fmt.Errorf("rebuild indexes: %w", err)
	}

	s.store.ClearCache()
	if existed {
		s.pruneBackups(logger, indexDir, logs)
	}
	return report, nil
}

func (s *Service) writeFreshIndexes(ctx context.Context, items []history.HistoryItem) (historystore.WriteReport, error) {
	if err := s.store.EnsureIndexDir(); err != nil {
		return historystore.WriteReport{}, fmt.Errorf("create index dir: %w", err)
	}
	return s.store.SetHistoryItems(ctx, items)
}

func (s *Service) restoreIndexes(indexDir, backupDir, brokenDir string, hadBackup bool, logs history.LogSink) error {
	if _, err := os.Stat(indexDir); err == nil {
		if err := os.Rename(indexDir, brokenDir); err != nil {
			return fmt.Errorf("move broken index dir aside: %w", err)
		}
		logs.Printf("Moved partial index dir to %s", brokenDir)
	}
	if !hadBackup {
		return nil
	}
	if err := os.Rename(backupDir, indexDir); err != nil {
		return fmt.Errorf("restore index backup: %w", err)
	}
	logs.Printf("Restored index dir from %s", backupDir)
	return nil
}

// pruneBackups keeps the newest maxBackups backup directories.
func (s *Service) pruneBackups(logger logging.Logger, indexDir string, logs history.LogSink) {
	parent := filepath.Dir(indexDir)
	prefix := filepath.Base(indexDir) + backupMarker
	entries, err := os.ReadDir(parent)
	if err != nil {
		logger.Warn("Listing index backups failed: %v", err)
		return
	}
	backups := make(map[string]time.Time)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups[entry.Name()] = info.ModTime()
	}
	for _, name := range filestore.EvictByCap(backups, s.maxBackups, func(t time.Time) time.Time { return t }) {
		if err := os.RemoveAll(filepath.Join(parent, name)); err != nil {
			logger.Warn("Removing old index backup %s failed: %v", name, err)
			continue
		}
		logs.Printf("Removed old index backup %s", name)
	}
}
