package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrChunkSize indicates a chunk file whose size differs from its range.
var ErrChunkSize = errors.New("chunk has unexpected size")

// FileSize returns the size of path, or 0 if it does not exist.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Size(), nil
}

// OpenAppend opens path for appending, creating it and its directory.
func OpenAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

// Truncate empties path if it exists.
func Truncate(path string) error {
	if err := os.Truncate(path, 0); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("truncating %s: %w", path, err)
	}
	return nil
}

// Merge concatenates the chunk files of dir, in index order, into dst. sizes
// holds the expected size of every chunk. dst is replaced.
func Merge(ctx context.Context, dir string, sizes []int64, dst string) error {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	if err := mergeInto(ctx, out, dir, sizes); err != nil {
		out.Close()
		return err
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("syncing %s: %w", dst, err)
	}
	return out.Close()
}

func mergeInto(ctx context.Context, out io.Writer, dir string, sizes []int64) error {
	for i, want := range sizes {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := ChunkPath(dir, i)
		in, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening chunk %d: %w", i, err)
		}

		n, err := io.Copy(out, in)
		in.Close()
		if err != nil {
			return fmt.Errorf("copying chunk %d: %w", i, err)
		}
		if n != want {
			return fmt.Errorf("%w: chunk %d has %d bytes, want %d", ErrChunkSize, i, n, want)
		}
	}
	return nil
}

// Commit moves a finished staging file to its destination.
func Commit(staged, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.Rename(staged, dest); err != nil {
		return fmt.Errorf("renaming %s: %w", staged, err)
	}
	return nil
}

// RemoveAll deletes staging paths, ignoring ones that do not exist.
func RemoveAll(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
