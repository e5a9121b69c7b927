package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	require.Equal(t, "/data/a.bin.part", PartPath("/data/a.bin"))
	require.Equal(t, "/data/a.bin.chunks", ChunkDir("/data/a.bin"))
	require.Equal(t, filepath.Join("/data/a.bin.chunks", "chunk-00012"), ChunkPath("/data/a.bin.chunks", 12))
}

func TestFileSizeAndAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "a.part")

	size, err := FileSize(path)
	require.NoError(t, err)
	require.Zero(t, size)

	f, err := OpenAppend(path)
	require.NoError(t, err)
	_, err = f.WriteString("hello")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = OpenAppend(path)
	require.NoError(t, err)
	_, err = f.WriteString(" world")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	size, err = FileSize(path)
	require.NoError(t, err)
	require.Equal(t, int64(11), size)

	require.NoError(t, Truncate(path))
	size, err = FileSize(path)
	require.NoError(t, err)
	require.Zero(t, size)
	require.NoError(t, Truncate(filepath.Join(t.TempDir(), "missing")))
}

func TestMerge(t *testing.T) {
	root := t.TempDir()
	dir := ChunkDir(filepath.Join(root, "obj"))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	parts := []string{"abc", "def", "g"}
	sizes := make([]int64, len(parts))
	for i, p := range parts {
		require.NoError(t, os.WriteFile(ChunkPath(dir, i), []byte(p), 0o644))
		sizes[i] = int64(len(p))
	}

	dst := PartPath(filepath.Join(root, "obj"))
	require.NoError(t, Merge(context.Background(), dir, sizes, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "abcdefg", string(got))

	require.NoError(t, Commit(dst, filepath.Join(root, "out", "obj")))
	got, err = os.ReadFile(filepath.Join(root, "out", "obj"))
	require.NoError(t, err)
	require.Equal(t, "abcdefg", string(got))

	require.NoError(t, RemoveAll(dir, dst))
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}

func TestMerge_SizeMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(ChunkPath(dir, 0), []byte("ab"), 0o644))

	err := Merge(context.Background(), dir, []int64{3}, filepath.Join(dir, "out"))
	require.ErrorIs(t, err, ErrChunkSize)

	err = Merge(context.Background(), dir, []int64{2, 2}, filepath.Join(dir, "out"))
	require.Error(t, err)
}

func TestMerge_Cancelled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Merge(ctx, dir, []int64{1}, filepath.Join(dir, "out"))
	require.ErrorIs(t, err, context.Canceled)
}
