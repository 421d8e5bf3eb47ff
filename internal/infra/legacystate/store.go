// Package legacystate adapts the host's global-state JSON file, whose task
// history key holds the pre-sharding array of items, to history.LegacyStore.
package legacystate

import (
	"context"
	"fmt"
	"strings"

	"taskhistory/internal/domain/history"
	"taskhistory/internal/infra/filestore"
	jsonx "taskhistory/internal/shared/json"
	"taskhistory/internal/shared/logging"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultKey is the global-state key holding the legacy array.
const DefaultKey = "taskHistory"

// Store reads and clears one key of a global-state document. Other keys of the
// document are left untouched.
type Store struct {
	path   string
	key    string
	docs   filestore.Documents
	logger logging.Logger
}

// New binds a Store to the state file at path. An empty key means DefaultKey.
func New(path, key string, docs filestore.Documents, logger logging.Logger) *Store {
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	if docs == nil {
		docs = filestore.NewFileDocuments(nil)
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("LegacyState")
	}
	return &Store{path: path, key: key, docs: docs, logger: logger}
}

func (s *Store) Path() string { return s.path }

// Read returns the well-formed items of the legacy array. A missing file or
// key reads as empty; malformed entries are logged and dropped.
func (s *Store) Read(ctx context.Context) ([]history.HistoryItem, error) {
	data, err := s.docs.Read(ctx, s.path)
	if err != nil {
		if filestore.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read legacy state: %w", err)
	}
	if jsonx.IsBlank(data) {
		return nil, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("legacy state %s is not valid JSON", s.path)
	}
	value := gjson.GetBytes(data, s.key)
	if !value.Exists() || value.Type == gjson.Null {
		return nil, nil
	}
	if !value.IsArray() {
		return nil, fmt.Errorf("legacy state key %q is not an array", s.key)
	}
	return history.DecodeItems([]byte(value.Raw), func(index int, err error) {
		s.logger.Warn("Dropping legacy history entry %d: %v", index, err)
	})
}

// Write replaces the legacy array with items.
func (s *Store) Write(ctx context.Context, items []history.HistoryItem) error {
	if items == nil {
		items = []history.HistoryItem{}
	}
	raw, err := jsonx.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode legacy history: %w", err)
	}
	_, err = s.docs.Update(ctx, s.path, func(current []byte) ([]byte, error) {
		if jsonx.IsBlank(current) {
			current = []byte("{}")
		}
		return sjson.SetRawBytes(current, s.key, raw)
	})
	return err
}

// Clear removes the legacy key from the state document.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.docs.Update(ctx, s.path, func(current []byte) ([]byte, error) {
		if jsonx.IsBlank(current) || !gjson.GetBytes(current, s.key).Exists() {
			return nil, filestore.ErrNoChange
		}
		return sjson.DeleteBytes(current, s.key)
	})
	if err != nil {
		return fmt.Errorf("clear legacy state: %w", err)
	}
	return nil
}
