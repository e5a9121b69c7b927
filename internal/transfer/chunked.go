package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/prn-tf/alexander-client/internal/domain"
	"github.com/prn-tf/alexander-client/internal/progress"
	"github.com/prn-tf/alexander-client/internal/storage"
)

// chunk is one byte range of a chunked download.
type chunk struct {
	index int
	start int64
	end   int64 // inclusive
	have  int64
	path  string
}

func (c chunk) size() int64 { return c.end - c.start + 1 }

// downloadChunked fetches the object as parallel ranges into dest.chunks/
// and merges them into dest.part once the tracker reports every chunk.
func (d *Downloader) downloadChunked(ctx context.Context, rawURL, dest string, obj objectInfo, observers []progress.Observer) (*Result, error) {
	dir := storage.ChunkDir(dest)
	part := storage.PartPath(dest)

	rec := d.recall(ctx, dest)
	if rec == nil || !rec.Matches(domain.TransferModeChunked, obj.etag, obj.size, d.chunkSize) {
		if err := storage.RemoveAll(dir, part); err != nil {
			return nil, fmt.Errorf("clearing stale chunks: %w", err)
		}
		rec = domain.NewTransfer(rawURL, dest, domain.TransferModeChunked, obj.etag, obj.size, d.chunkSize)
		d.remember(ctx, rec)
	}

	count := domain.ChunkCount(obj.size, d.chunkSize)
	chunks := make([]chunk, count)
	sizes := make([]int64, count)
	var offset int64
	for i := range chunks {
		start, end := domain.ChunkRange(i, obj.size, d.chunkSize)
		c := chunk{index: i, start: start, end: end, path: storage.ChunkPath(dir, i)}

		have, err := storage.FileSize(c.path)
		if err != nil {
			return nil, err
		}
		if have > c.size() || (have == c.size() && !rec.IsChunkComplete(i)) {
			if err := storage.Truncate(c.path); err != nil {
				return nil, err
			}
			have = 0
		}
		c.have = have
		offset += have

		chunks[i] = c
		sizes[i] = c.size()
	}

	// Every chunk request is cloned from base, which is the request the
	// progress snapshots refer back to.
	base, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating GET request: %w", err)
	}
	if obj.etag != "" {
		base.Header.Set("If-Match", obj.etag)
	}

	tracker := d.newTracker(base, progress.Config{
		URL:           rawURL,
		TempDir:       dir,
		Filename:      obj.filename,
		ContentLength: obj.size,
		FileOffset:    offset,
		Chunks:        count,
	}, observers)

	var merged atomic.Bool
	merge := func(ctx context.Context) error {
		if err := storage.Merge(ctx, dir, sizes, part); err != nil {
			return fmt.Errorf("merging chunks: %w", err)
		}
		merged.Store(true)
		return nil
	}

	// rec is shared by the workers.
	var recMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	var pending []chunk
	for _, c := range chunks {
		if c.have == c.size() {
			if tracker.OnChunkComplete(c.index) {
				if err := merge(ctx); err != nil {
					return nil, err
				}
			}
			continue
		}
		pending = append(pending, c)
	}

	for _, c := range pending {
		g.Go(func() error {
			if err := d.fetchChunk(gctx, base, c, tracker); err != nil {
				return fmt.Errorf("chunk %d: %w", c.index, err)
			}
			if d.journal != nil && rec.ETag != "" {
				recMu.Lock()
				err := d.journal.MarkChunkComplete(gctx, rec, c.index)
				recMu.Unlock()
				if err != nil {
					d.logger.Warn().Err(err).Int("chunk", c.index).Msg("failed to journal chunk")
				}
			}
			if tracker.OnChunkComplete(c.index) {
				return merge(gctx)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrObjectChanged) {
			d.forget(ctx, dest)
		}
		return nil, err
	}
	if !merged.Load() {
		return nil, fmt.Errorf("merging chunks: %d chunks still pending", tracker.PendingChunks())
	}

	res, err := d.finish(ctx, tracker, part, dest, &Result{
		Mode:     domain.TransferModeChunked,
		Size:     obj.size,
		ETag:     obj.etag,
		Filename: obj.filename,
		Resumed:  offset,
	})
	if err != nil {
		return nil, err
	}

	if err := storage.RemoveAll(dir); err != nil {
		d.logger.Warn().Err(err).Str("path", dir).Msg("failed to remove chunk directory")
	}
	return res, nil
}

// fetchChunk appends the missing tail of c to its chunk file.
func (d *Downloader) fetchChunk(ctx context.Context, base *http.Request, c chunk, tracker *progress.Tracker) error {
	req := base.Clone(ctx)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", c.start+c.have, c.end))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("performing GET request: %w", err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusPreconditionFailed:
		return &Error{Err: ErrObjectChanged, Detail: "etag no longer matches " + base.Header.Get("If-Match")}
	default:
		return statusError(resp)
	}

	f, err := storage.OpenAppend(c.path)
	if err != nil {
		return err
	}
	n, err := d.copyBody(ctx, f, resp.Body, tracker)
	closeErr := f.Close()
	if err != nil {
		return fmt.Errorf("copying body: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", c.path, closeErr)
	}

	if got := c.have + n; got != c.size() {
		return &Error{
			Err:    ErrSizeMismatch,
			Detail: fmt.Sprintf("expected %d bytes, got %d", c.size(), got),
		}
	}
	return nil
}
