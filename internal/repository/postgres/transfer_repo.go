package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prn-tf/alexander-client/internal/domain"
)

// foreignKeyViolation is the SQLSTATE of a foreign key violation.
const foreignKeyViolation = "23503"

// TransferRepository implements the resume journal on PostgreSQL.
type TransferRepository struct {
	db *DB
}

// NewTransferRepository creates a new PostgreSQL transfer repository.
func NewTransferRepository(db *DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Get retrieves the transfer for a destination path with its chunks.
func (r *TransferRepository) Get(ctx context.Context, destination string) (*domain.Transfer, error) {
	query := `
		SELECT t.id, t.url, t.destination, t.mode, t.etag, t.size, t.chunk_size, t.created_at, t.updated_at,
		       COALESCE(array_agg(c.chunk_index ORDER BY c.chunk_index) FILTER (WHERE c.chunk_index IS NOT NULL), '{}')
		FROM transfers t
		LEFT JOIN transfer_chunks c ON c.transfer_id = t.id
		WHERE t.destination = $1
		GROUP BY t.id
	`

	t := &domain.Transfer{}
	var mode string
	var chunks []int32

	err := r.db.Pool.QueryRow(ctx, query, destination).Scan(
		&t.ID,
		&t.URL,
		&t.Destination,
		&mode,
		&t.ETag,
		&t.Size,
		&t.ChunkSize,
		&t.CreatedAt,
		&t.UpdatedAt,
		&chunks,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}

	t.Mode = domain.TransferMode(mode)
	for _, c := range chunks {
		t.CompletedChunks = append(t.CompletedChunks, int(c))
	}

	return t, nil
}

// Save replaces any existing entry for the destination.
func (r *TransferRepository) Save(ctx context.Context, t *domain.Transfer) error {
	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM transfers WHERE destination = $1 OR id = $2`, t.Destination, t.ID); err != nil {
			return fmt.Errorf("failed to replace transfer: %w", err)
		}

		query := `
			INSERT INTO transfers (id, url, destination, mode, etag, size, chunk_size, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		_, err := tx.Exec(ctx, query,
			t.ID,
			t.URL,
			t.Destination,
			string(t.Mode),
			t.ETag,
			t.Size,
			t.ChunkSize,
			t.CreatedAt,
			t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert transfer: %w", err)
		}

		if len(t.CompletedChunks) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, idx := range t.CompletedChunks {
			batch.Queue(`INSERT INTO transfer_chunks (transfer_id, chunk_index) VALUES ($1, $2)`, t.ID, idx)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
		return nil
	})
}

// MarkChunkComplete records a finished chunk.
func (r *TransferRepository) MarkChunkComplete(ctx context.Context, t *domain.Transfer, index int) error {
	if err := t.MarkChunkComplete(index); err != nil {
		return err
	}

	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO transfer_chunks (transfer_id, chunk_index)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, t.ID, index)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
				return domain.ErrTransferNotFound
			}
			return fmt.Errorf("failed to mark chunk complete: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE transfers SET updated_at = $1 WHERE id = $2`, t.UpdatedAt, t.ID); err != nil {
			return fmt.Errorf("failed to touch transfer: %w", err)
		}
		return nil
	})
}

// Delete removes the entry for a destination and its chunks.
func (r *TransferRepository) Delete(ctx context.Context, destination string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM transfers WHERE destination = $1`, destination); err != nil {
		return fmt.Errorf("failed to delete transfer: %w", err)
	}
	return nil
}
