package sqlite

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-client/internal/domain"
)

func newTestRepo(t *testing.T) *TransferRepository {
	t.Helper()
	ctx := context.Background()

	db, err := NewDB(ctx, DefaultConfig(":memory:"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx), "migrate is idempotent")

	return NewTransferRepository(db)
}

func TestTransferRepository_SaveGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	_, err := repo.Get(ctx, "/tmp/missing")
	require.ErrorIs(t, err, domain.ErrTransferNotFound)

	tr := domain.NewTransfer("http://s3.local/b/k", "/tmp/k", domain.TransferModeChunked, `"etag"`, 100, 10)
	require.NoError(t, tr.MarkChunkComplete(3))
	require.NoError(t, repo.Save(ctx, tr))

	got, err := repo.Get(ctx, "/tmp/k")
	require.NoError(t, err)
	require.Equal(t, tr.ID, got.ID)
	require.Equal(t, tr.URL, got.URL)
	require.Equal(t, domain.TransferModeChunked, got.Mode)
	require.Equal(t, `"etag"`, got.ETag)
	require.Equal(t, int64(100), got.Size)
	require.Equal(t, int64(10), got.ChunkSize)
	require.Equal(t, []int{3}, got.CompletedChunks)
	require.True(t, tr.CreatedAt.Equal(got.CreatedAt))
}

func TestTransferRepository_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	old := domain.NewTransfer("u", "/tmp/k", domain.TransferModeChunked, `"v1"`, 100, 10)
	require.NoError(t, old.MarkChunkComplete(0))
	require.NoError(t, repo.Save(ctx, old))

	fresh := domain.NewTransfer("u", "/tmp/k", domain.TransferModeSingle, `"v2"`, 50, 0)
	require.NoError(t, repo.Save(ctx, fresh))

	got, err := repo.Get(ctx, "/tmp/k")
	require.NoError(t, err)
	require.Equal(t, fresh.ID, got.ID)
	require.Empty(t, got.CompletedChunks)

	require.ErrorIs(t, repo.MarkChunkComplete(ctx, old, 1), domain.ErrTransferNotFound)
}

func TestTransferRepository_MarkChunkComplete(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	tr := domain.NewTransfer("u", "/tmp/k", domain.TransferModeChunked, `"v1"`, 100, 10)
	require.NoError(t, repo.Save(ctx, tr))

	require.NoError(t, repo.MarkChunkComplete(ctx, tr, 5))
	require.NoError(t, repo.MarkChunkComplete(ctx, tr, 1))
	require.NoError(t, repo.MarkChunkComplete(ctx, tr, 5))
	require.Equal(t, []int{1, 5}, tr.CompletedChunks)

	got, err := repo.Get(ctx, "/tmp/k")
	require.NoError(t, err)
	require.Equal(t, []int{1, 5}, got.CompletedChunks)

	unsaved := domain.NewTransfer("u", "/tmp/other", domain.TransferModeChunked, `"v1"`, 100, 10)
	require.ErrorIs(t, repo.MarkChunkComplete(ctx, unsaved, 0), domain.ErrTransferNotFound)
}

func TestTransferRepository_MarkChunkCompleteRejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	tr := domain.NewTransfer("u", "/tmp/k", domain.TransferModeChunked, `"v1"`, 100, 10)
	require.NoError(t, repo.Save(ctx, tr))

	for _, index := range []int{-1, 10, 42} {
		require.ErrorIs(t, repo.MarkChunkComplete(ctx, tr, index), domain.ErrInvalidChunk)
	}

	got, err := repo.Get(ctx, "/tmp/k")
	require.NoError(t, err)
	require.Empty(t, got.CompletedChunks)
}

func TestTransferRepository_GetRejectsBadTimestamps(t *testing.T) {
	tests := []struct {
		name   string
		column string
	}{
		{name: "created", column: "created_at"},
		{name: "updated", column: "updated_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := newTestRepo(t)

			tr := domain.NewTransfer("u", "/tmp/k", domain.TransferModeSingle, `"v1"`, 100, 0)
			require.NoError(t, repo.Save(ctx, tr))

			_, err := repo.db.db.ExecContext(ctx, `UPDATE transfers SET `+tt.column+` = 'yesterday' WHERE id = ?`, tr.ID.String())
			require.NoError(t, err)

			_, err = repo.Get(ctx, "/tmp/k")
			require.ErrorContains(t, err, "invalid "+tt.column)
		})
	}
}

func TestTransferRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	tr := domain.NewTransfer("u", "/tmp/k", domain.TransferModeChunked, `"v1"`, 100, 10)
	require.NoError(t, repo.Save(ctx, tr))
	require.NoError(t, repo.MarkChunkComplete(ctx, tr, 0))

	require.NoError(t, repo.Delete(ctx, "/tmp/k"))
	require.NoError(t, repo.Delete(ctx, "/tmp/k"))

	_, err := repo.Get(ctx, "/tmp/k")
	require.ErrorIs(t, err, domain.ErrTransferNotFound)
}

func TestConfig_DSN(t *testing.T) {
	dsn := DefaultConfig("/var/lib/journal.db").DSN()
	require.Contains(t, dsn, "/var/lib/journal.db?")
	require.Contains(t, dsn, "_pragma=foreign_keys%281%29")
	require.Contains(t, dsn, "_pragma=journal_mode%28WAL%29")
}
