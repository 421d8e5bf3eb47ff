// Package dirsize measures directory footprints.
package dirsize

import (
	"context"
	"io/fs"
	"path/filepath"
)

// Walker sums the sizes of regular files under a directory.
type Walker struct{}

func New() *Walker { return &Walker{} }

// Size walks dir and returns the total byte size of the regular files it
// contains. Entries that vanish or cannot be stat'ed mid-walk are skipped;
// an unreadable root is an error. Symlinks are not followed.
func (w *Walker) Size(ctx context.Context, dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
