// Package repository defines data access interfaces for the transfer resume
// journal. Implementations live in the sqlite and postgres packages.
package repository

import (
	"context"

	"github.com/prn-tf/alexander-client/internal/domain"
)

// TransferRepository persists resume state of downloads.
type TransferRepository interface {
	// Get returns the journal entry for a destination path.
	// Returns domain.ErrTransferNotFound when none exists.
	Get(ctx context.Context, destination string) (*domain.Transfer, error)

	// Save creates or replaces the entry for t.Destination, including its
	// completed chunks.
	Save(ctx context.Context, t *domain.Transfer) error

	// MarkChunkComplete records one finished chunk of t, in t itself and in
	// the store. Returns domain.ErrInvalidChunk for an index outside t and
	// domain.ErrTransferNotFound if the transfer was deleted.
	MarkChunkComplete(ctx context.Context, t *domain.Transfer, index int) error

	// Delete removes the entry for a destination. Deleting a missing entry
	// is not an error.
	Delete(ctx context.Context, destination string) error
}
