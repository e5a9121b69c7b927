// Package domain contains the entities shared by the transfer layer and its
// persistence.
package domain

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTransferNotFound indicates no journal entry exists for a destination.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrInvalidChunk indicates a chunk index outside the transfer.
	ErrInvalidChunk = errors.New("invalid chunk index")
)

// TransferMode is how an object is fetched.
type TransferMode string

const (
	// TransferModeSingle streams the object into one partial file.
	TransferModeSingle TransferMode = "single"

	// TransferModeChunked fetches byte ranges in parallel and merges them.
	TransferModeChunked TransferMode = "chunked"
)

// Transfer is the resume journal entry of one download.
type Transfer struct {
	ID uuid.UUID `json:"id"`

	// URL is the object being fetched.
	URL string `json:"url"`

	// Destination is the final local path. It identifies the transfer.
	Destination string `json:"destination"`

	Mode TransferMode `json:"mode"`

	// ETag and Size identify the object version the partial data belongs to.
	ETag string `json:"etag"`
	Size int64  `json:"size"`

	// ChunkSize is zero for single-file transfers.
	ChunkSize int64 `json:"chunk_size"`

	// CompletedChunks holds the indexes of fully written chunks, sorted.
	CompletedChunks []int `json:"completed_chunks,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTransfer creates a journal entry for a fresh download.
func NewTransfer(url, destination string, mode TransferMode, etag string, size, chunkSize int64) *Transfer {
	now := time.Now().UTC()
	return &Transfer{
		ID:          uuid.New(),
		URL:         url,
		Destination: destination,
		Mode:        mode,
		ETag:        etag,
		Size:        size,
		ChunkSize:   chunkSize,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Matches reports whether the journal describes the same object version and
// chunk layout. An empty ETag never matches.
func (t *Transfer) Matches(mode TransferMode, etag string, size, chunkSize int64) bool {
	return t.ETag != "" &&
		t.ETag == etag &&
		t.Size == size &&
		t.Mode == mode &&
		t.ChunkSize == chunkSize
}

// ChunkCount returns the number of chunks the object splits into.
func (t *Transfer) ChunkCount() int {
	return ChunkCount(t.Size, t.ChunkSize)
}

// IsChunkComplete reports whether chunk i was journaled as complete.
func (t *Transfer) IsChunkComplete(i int) bool {
	_, found := slices.BinarySearch(t.CompletedChunks, i)
	return found
}

// MarkChunkComplete records chunk i, keeping CompletedChunks sorted.
func (t *Transfer) MarkChunkComplete(i int) error {
	if i < 0 || i >= t.ChunkCount() {
		return ErrInvalidChunk
	}
	pos, found := slices.BinarySearch(t.CompletedChunks, i)
	if !found {
		t.CompletedChunks = slices.Insert(t.CompletedChunks, pos, i)
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// ChunkCount returns how many chunks of chunkSize cover size bytes.
func ChunkCount(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// ChunkRange returns the inclusive byte range of chunk i, as used in a Range
// header.
func ChunkRange(i int, size, chunkSize int64) (start, end int64) {
	start = int64(i) * chunkSize
	end = min(start+chunkSize, size) - 1
	return start, end
}
