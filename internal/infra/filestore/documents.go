package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"taskhistory/internal/infra/filelock"
	jsonx "taskhistory/internal/shared/json"
)

// ErrNoChange is returned by an update function to skip the write.
var ErrNoChange = errors.New("filestore: no change")

// Documents is the read/read-modify-write surface every index and item file
// goes through. Read reports a missing document with an error matching
// fs.ErrNotExist.
type Documents interface {
	Read(ctx context.Context, path string) ([]byte, error)
	// Update calls fn with the current content (nil when missing) while
	// holding the document lock and persists the returned bytes. fn returning
	// ErrNoChange leaves the document untouched and Update reports false.
	Update(ctx context.Context, path string, fn func(current []byte) ([]byte, error)) (bool, error)
}

// FileDocuments implements Documents on the local filesystem with advisory
// locks and atomic replacement.
type FileDocuments struct {
	locker *filelock.Locker
	perm   os.FileMode
}

// NewFileDocuments creates a filesystem-backed Documents.
func NewFileDocuments(locker *filelock.Locker) *FileDocuments {
	if locker == nil {
		locker = filelock.New(filelock.DefaultTimeout)
	}
	return &FileDocuments{locker: locker, perm: 0o644}
}

func (d *FileDocuments) Read(ctx context.Context, path string) ([]byte, error) {
	// Stat first so reading a missing document never creates its lock file
	// or parent directory.
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	var data []byte
	err := d.locker.WithLock(ctx, path, func() error {
		var readErr error
		data, readErr = os.ReadFile(path)
		return readErr
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (d *FileDocuments) Update(ctx context.Context, path string, fn func(current []byte) ([]byte, error)) (bool, error) {
	written := false
	err := d.locker.WithLock(ctx, path, func() error {
		current, err := ReadFileOrEmpty(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		next, err := fn(current)
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := AtomicWrite(path, next, d.perm); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		written = true
		return nil
	})
	return written, err
}

// IsNotExist reports whether err describes a missing document.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// ReadJSON decodes the document at path into a T.
func ReadJSON[T any](ctx context.Context, docs Documents, path string) (T, error) {
	var value T
	data, err := docs.Read(ctx, path)
	if err != nil {
		return value, err
	}
	if jsonx.IsBlank(data) {
		return value, nil
	}
	if err := jsonx.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("decode %s: %w", path, err)
	}
	return value, nil
}

// WriteJSON unconditionally replaces the document at path with v.
func WriteJSON(ctx context.Context, docs Documents, path string, v any) error {
	data, err := jsonx.MarshalDocument(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	_, err = docs.Update(ctx, path, func([]byte) ([]byte, error) {
		return data, nil
	})
	return err
}
