package filestore

import (
	"context"
	"errors"
	"fmt"

	jsonx "taskhistory/internal/shared/json"
)

// CorruptSuffix is appended to a document moved aside by RecoverCorrupt.
const CorruptSuffix = ".corrupt"

// Collection is a JSON object document mapping K to V, read and mutated
// through Documents so every change is a single locked transaction.
//
// Type parameters:
//   - K: map key (must be comparable)
//   - V: map value
type Collection[K comparable, V any] struct {
	docs      Documents
	path      string
	name      string
	onCorrupt func(path string, err error)
}

// NewCollection binds a Collection to the document at path.
func NewCollection[K comparable, V any](docs Documents, path, name string) *Collection[K, V] {
	return &Collection[K, V]{docs: docs, path: path, name: name}
}

// Path returns the backing document path.
func (c *Collection[K, V]) Path() string {
	return c.path
}

// Name returns the collection's label for logs.
func (c *Collection[K, V]) Name() string {
	return c.name
}

// Load reads the document. A missing document yields an empty map.
func (c *Collection[K, V]) Load(ctx context.Context) (map[K]V, error) {
	items, err := ReadJSON[map[K]V](ctx, c.docs, c.path)
	if err != nil {
		if IsNotExist(err) {
			return make(map[K]V), nil
		}
		return nil, err
	}
	if items == nil {
		items = make(map[K]V)
	}
	return items, nil
}

// RecoverCorrupt makes Mutate copy an undecodable document to
// <path>.corrupt, report the decode error and continue from an empty map.
func (c *Collection[K, V]) RecoverCorrupt(report func(path string, err error)) *Collection[K, V] {
	c.onCorrupt = report
	return c
}

// Mutate gives fn exclusive access to the freshly read map. The document is
// rewritten unless fn returns ErrNoChange; any other error aborts without
// writing. Mutate reports whether the document was written.
func (c *Collection[K, V]) Mutate(ctx context.Context, fn func(items map[K]V) error) (bool, error) {
	return c.docs.Update(ctx, c.path, func(current []byte) ([]byte, error) {
		items, err := c.decode(current)
		if err != nil {
			return nil, err
		}
		if err := fn(items); err != nil {
			return nil, err
		}
		return jsonx.MarshalDocument(items)
	})
}

func (c *Collection[K, V]) decode(current []byte) (map[K]V, error) {
	if jsonx.IsBlank(current) {
		return make(map[K]V), nil
	}
	var items map[K]V
	err := jsonx.Unmarshal(current, &items)
	if err == nil {
		if items == nil {
			items = make(map[K]V)
		}
		return items, nil
	}
	decodeErr := fmt.Errorf("decode %s: %w", c.path, err)
	if c.onCorrupt == nil {
		return nil, decodeErr
	}
	if err := AtomicWrite(c.path+CorruptSuffix, current, 0o644); err != nil {
		return nil, errors.Join(decodeErr, fmt.Errorf("preserve corrupt %s: %w", c.name, err))
	}
	c.onCorrupt(c.path, decodeErr)
	return make(map[K]V), nil
}
