// Package taskhistory orchestrates the history store: search, migration from
// the legacy array, scan/reconcile, reconstruction and index rebuilds.
package taskhistory

import (
	"context"
	"errors"
	"time"

	"taskhistory/internal/domain/history"
	"taskhistory/internal/infra/historystore"
	"taskhistory/internal/shared/logging"
	"taskhistory/internal/shared/utils/id"
)

const defaultMaxIndexBackups = 3

// Deps wires a Service.
type Deps struct {
	Store       *historystore.Store
	Legacy      history.LegacyStore
	Ranker      history.Ranker
	Transcripts history.TranscriptReader
	Sizer       history.DirSizer
	// CurrentWorkspace resolves the "current" and empty workspace selectors.
	CurrentWorkspace string
	// MaxIndexBackups caps the backup directories kept by replace rebuilds;
	// negative keeps every backup.
	MaxIndexBackups *int
	Observer        Observer
	Logger          logging.Logger
	Now             func() time.Time
}

// Service serializes search against migration and reindex.
type Service struct {
	store            *historystore.Store
	legacy           history.LegacyStore
	ranker           history.Ranker
	transcripts      history.TranscriptReader
	sizer            history.DirSizer
	currentWorkspace string
	maxBackups       int
	observer         Observer
	logger           logging.Logger
	now              func() time.Time
	op               opMutex
}

// New validates deps and builds a Service.
func New(deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("taskhistory: store is required")
	}
	if deps.Legacy == nil {
		return nil, errors.New("taskhistory: legacy store is required")
	}
	if deps.Ranker == nil {
		return nil, errors.New("taskhistory: ranker is required")
	}
	if deps.Transcripts == nil {
		return nil, errors.New("taskhistory: transcript reader is required")
	}
	if deps.Sizer == nil {
		return nil, errors.New("taskhistory: dir sizer is required")
	}
	maxBackups := defaultMaxIndexBackups
	if deps.MaxIndexBackups != nil {
		maxBackups = *deps.MaxIndexBackups
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("TaskHistory")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:            deps.Store,
		legacy:           deps.Legacy,
		ranker:           deps.Ranker,
		transcripts:      deps.Transcripts,
		sizer:            deps.Sizer,
		currentWorkspace: deps.CurrentWorkspace,
		maxBackups:       maxBackups,
		observer:         observer,
		logger:           logger,
		now:              now,
		op:               newOpMutex(),
	}, nil
}

// Store exposes the underlying item store for direct reads, writes and deletes.
func (s *Service) Store() *historystore.Store {
	return s.store
}

// opMutex admits one big operation at a time. Waiting honours ctx.
type opMutex chan struct{}

func newOpMutex() opMutex {
	return make(opMutex, 1)
}

func (m opMutex) lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m opMutex) unlock() {
	<-m
}

// beginOperation tags ctx with a fresh log id unless one is already set and
// returns the logger for the operation.
func (s *Service) beginOperation(ctx context.Context, kind string) (context.Context, logging.Logger) {
	if id.LogIDFromContext(ctx) == "" {
		ctx = id.WithLogID(ctx, id.NewOperationID(kind))
	}
	return ctx, logging.FromContext(ctx, s.logger)
}

func (s *Service) record(operation string, started time.Time, err error) {
	s.observer.RecordOperation(operation, time.Since(started), err)
}
