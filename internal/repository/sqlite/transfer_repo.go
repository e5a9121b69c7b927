package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/alexander-client/internal/domain"
)

// TransferRepository implements the resume journal on SQLite.
type TransferRepository struct {
	db *DB
}

// NewTransferRepository creates a new SQLite transfer repository.
func NewTransferRepository(db *DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Get retrieves the transfer for a destination path.
func (r *TransferRepository) Get(ctx context.Context, destination string) (*domain.Transfer, error) {
	var t *domain.Transfer
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		t, err = getTransfer(ctx, tx, destination)
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT chunk_index FROM transfer_chunks WHERE transfer_id = ? ORDER BY chunk_index`,
			t.ID.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to list chunks: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var idx int
			if err := rows.Scan(&idx); err != nil {
				return fmt.Errorf("failed to scan chunk: %w", err)
			}
			t.CompletedChunks = append(t.CompletedChunks, idx)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func getTransfer(ctx context.Context, tx *sql.Tx, destination string) (*domain.Transfer, error) {
	query := `
		SELECT id, url, destination, mode, etag, size, chunk_size, created_at, updated_at
		FROM transfers
		WHERE destination = ?
	`

	t := &domain.Transfer{}
	var id, mode, createdAt, updatedAt string

	err := tx.QueryRowContext(ctx, query, destination).Scan(
		&id,
		&t.URL,
		&t.Destination,
		&mode,
		&t.ETag,
		&t.Size,
		&t.ChunkSize,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}

	t.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid transfer id %q: %w", id, err)
	}
	t.Mode = domain.TransferMode(mode)
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at %q: %w", updatedAt, err)
	}

	return t, nil
}

// Save replaces any existing entry for the destination.
func (r *TransferRepository) Save(ctx context.Context, t *domain.Transfer) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transfers WHERE destination = ? OR id = ?`, t.Destination, t.ID.String()); err != nil {
			return fmt.Errorf("failed to replace transfer: %w", err)
		}

		query := `
			INSERT INTO transfers (id, url, destination, mode, etag, size, chunk_size, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.ExecContext(ctx, query,
			t.ID.String(),
			t.URL,
			t.Destination,
			string(t.Mode),
			t.ETag,
			t.Size,
			t.ChunkSize,
			t.CreatedAt.UTC().Format(time.RFC3339Nano),
			t.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to insert transfer: %w", err)
		}

		for _, idx := range t.CompletedChunks {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO transfer_chunks (transfer_id, chunk_index) VALUES (?, ?)`,
				t.ID.String(), idx,
			); err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", idx, err)
			}
		}
		return nil
	})
}

// MarkChunkComplete records a finished chunk.
func (r *TransferRepository) MarkChunkComplete(ctx context.Context, t *domain.Transfer, index int) error {
	if err := t.MarkChunkComplete(index); err != nil {
		return err
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO transfer_chunks (transfer_id, chunk_index) VALUES (?, ?)`,
			t.ID.String(), index,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return domain.ErrTransferNotFound
			}
			return fmt.Errorf("failed to mark chunk complete: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE transfers SET updated_at = ? WHERE id = ?`,
			t.UpdatedAt.Format(time.RFC3339Nano), t.ID.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to touch transfer: %w", err)
		}
		return nil
	})
}

// Delete removes the entry for a destination and its chunks.
func (r *TransferRepository) Delete(ctx context.Context, destination string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transfers WHERE destination = ?`, destination); err != nil {
			return fmt.Errorf("failed to delete transfer: %w", err)
		}
		return nil
	})
}
