package main

import (
	"fmt"

	"taskhistory/internal/app/taskhistory"
	"taskhistory/internal/infra/dirsize"
	"taskhistory/internal/infra/filelock"
	"taskhistory/internal/infra/filestore"
	"taskhistory/internal/infra/fuzzy"
	"taskhistory/internal/infra/historystore"
	"taskhistory/internal/infra/legacystate"
	"taskhistory/internal/infra/transcript"
	"taskhistory/internal/shared/config"
	"taskhistory/internal/shared/utils"

	"github.com/prometheus/client_golang/prometheus"
)

// Container holds the wired dependencies for one CLI invocation.
type Container struct {
	Config   config.Config
	Store    *historystore.Store
	Legacy   *legacystate.Store
	Service  *taskhistory.Service
	Registry *prometheus.Registry
}

// buildContainer wires the history engine from resolved configuration.
func buildContainer(cfg config.Config) (*Container, error) {
	if cfg.LogDir != "" {
		utils.SetLogDirectory(cfg.LogDir)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("resolve time zone: %w", err)
	}

	registry := prometheus.NewRegistry()
	observer, err := taskhistory.NewPrometheusObserver("", registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	docs := filestore.NewFileDocuments(filelock.New(cfg.LockTimeout))
	store, err := historystore.New(historystore.Config{
		TasksDir:         cfg.TasksDir,
		IndexDir:         cfg.IndexDir,
		Documents:        docs,
		Location:         loc,
		WriteConcurrency: cfg.WriteConcurrency,
		CacheMaxItems:    cfg.CacheMaxItems,
		Observer:         observer,
	})
	if err != nil {
		return nil, err
	}
	legacy := legacystate.New(cfg.LegacyStatePath, cfg.LegacyStateKey, docs, nil)

	svc, err := taskhistory.New(taskhistory.Deps{
		Store:            store,
		Legacy:           legacy,
		Ranker:           fuzzy.NewRanker(),
		Transcripts:      transcript.NewReader(cfg.TasksDir, docs),
		Sizer:            dirsize.New(),
		CurrentWorkspace: cfg.CurrentWorkspace,
		MaxIndexBackups:  cfg.MaxIndexBackups,
		Observer:         observer,
	})
	if err != nil {
		return nil, err
	}
	return &Container{
		Config:   cfg,
		Store:    store,
		Legacy:   legacy,
		Service:  svc,
		Registry: registry,
	}, nil
}
