package taskhistory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"taskhistory/internal/domain/history"
	"taskhistory/internal/infra/historystore"

	"go.opentelemetry.io/otel/attribute"
)

// IsMigrationNeeded reports whether the legacy array holds items and the index
// directory has not been created yet. The directory is the completion marker.
func (s *Service) IsMigrationNeeded(ctx context.Context) (bool, error) {
	items, err := s.legacy.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("read legacy history: %w", err)
	}
	if len(items) == 0 {
		return false, nil
	}
	exists, err := s.store.IndexExists()
	if err != nil {
		return false, fmt.Errorf("stat index dir: %w", err)
	}
	return !exists, nil
}

// Migrate writes the whole legacy array through the batch upsert path. The
// legacy array itself is left untouched. If the index directory did not exist
// beforehand and the migration fails, it is removed again so a later run
// retries.
func (s *Service) Migrate(ctx context.Context, logs history.LogSink) (report historystore.WriteReport, err error) {
	if err := s.op.lock(ctx); err != nil {
		return historystore.WriteReport{}, err
	}
	defer s.op.unlock()

	started := time.Now()
	ctx, logger := s.beginOperation(ctx, "migrate")
	ctx, span := startSpan(ctx, traceSpanMigrate)
	defer func() {
		span.SetAttributes(attribute.Int(traceAttrItems, report.Written))
		markSpanResult(span, err)
		span.End()
		s.record("migrate", started, err)
	}()

	items, err := s.legacy.Read(ctx)
	if err != nil {
		return report, fmt.Errorf("read legacy history: %w", err)
	}
	logs.Printf("Migrating %d legacy history items", len(items))
	logger.Info("Migrating %d legacy history items into %s", len(items), s.store.IndexDir())

	existed, err := s.store.IndexExists()
	if err != nil {
		return report, fmt.Errorf("stat index dir: %w", err)
	}
	if err := s.store.EnsureIndexDir(); err != nil {
		return report, fmt.Errorf("create index dir: %w", err)
	}

	report, err = s.store.SetHistoryItems(ctx, items)
	if err != nil {
		logger.Error("Migration failed after %s: %v", time.Since(started), err)
		logs.Printf("Migration failed: %v", err)
		if !existed {
			if rmErr := os.RemoveAll(s.store.IndexDir()); rmErr != nil {
				err = errors.Join(err, fmt.Errorf("remove partial index dir: %w", rmErr))
			}
		}
		return report, fmt.Errorf("migrate legacy history: %w", err)
	}

	elapsed := time.Since(started)
	logs.Printf("Migrated %d items (%d rejected, %d failed) in %s", report.Written, report.Rejected, report.Failed, elapsed.Round(time.Millisecond))
	logger.Info("Migration complete: written=%d rejected=%d failed=%d elapsed=%s", report.Written, report.Rejected, report.Failed, elapsed)
	return report, nil
}

// ErrLegacyNotMigrated is returned by ClearLegacy while some valid legacy
// item has no readable item file.
var ErrLegacyNotMigrated = errors.New("taskhistory: legacy items not migrated")

// ClearLegacy drops the legacy array once every valid legacy item is readable
// from the store. Migration never does this on its own.
func (s *Service) ClearLegacy(ctx context.Context) error {
	if err := s.op.lock(ctx); err != nil {
		return err
	}
	defer s.op.unlock()

	items, err := s.legacy.Read(ctx)
	if err != nil {
		return fmt.Errorf("read legacy history: %w", err)
	}
	var missing []string
	for _, item := range items {
		if item.Validate() != nil {
			continue
		}
		if _, ok := s.store.GetHistoryItem(ctx, item.ID, false); !ok {
			missing = append(missing, item.ID)
		}
	}
	if len(missing) > 0 {
		s.logger.Warn("Keeping legacy history: %d items not migrated (first %s)", len(missing), missing[0])
		return fmt.Errorf("%w: %d of %d items have no item file", ErrLegacyNotMigrated, len(missing), len(items))
	}
	return s.legacy.Clear(ctx)
}
