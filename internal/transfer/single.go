package transfer

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/prn-tf/alexander-client/internal/domain"
	"github.com/prn-tf/alexander-client/internal/progress"
	"github.com/prn-tf/alexander-client/internal/storage"
)

// downloadSingle streams the object into dest.part, continuing after any
// bytes already there when they belong to the same object version.
func (d *Downloader) downloadSingle(ctx context.Context, rawURL, dest string, obj objectInfo, observers []progress.Observer) (*Result, error) {
	part := storage.PartPath(dest)
	offset, err := storage.FileSize(part)
	if err != nil {
		return nil, err
	}

	rec := d.recall(ctx, dest)
	switch {
	case offset == 0:
	case !obj.ranges:
		offset = 0
	case rec != nil && !rec.Matches(domain.TransferModeSingle, obj.etag, obj.size, 0):
		d.logger.Debug().Str("destination", dest).Msg("object changed, discarding partial file")
		offset = 0
	case offset > obj.size:
		offset = 0
	case offset == obj.size && rec == nil:
		// Without a journal entry a full-size partial file is not trusted.
		offset = 0
	}
	if offset == 0 {
		if err := storage.Truncate(part); err != nil {
			return nil, err
		}
	}

	res := &Result{
		Mode:     domain.TransferModeSingle,
		Size:     obj.size,
		ETag:     obj.etag,
		Filename: obj.filename,
		Resumed:  offset,
	}

	if offset > 0 && offset == obj.size {
		tracker := d.newTracker(nil, progress.Config{
			URL:           rawURL,
			TempFile:      part,
			Filename:      obj.filename,
			ContentLength: obj.size,
			FileOffset:    offset,
		}, observers)
		return d.finish(ctx, tracker, part, dest, res)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating GET request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		if v := obj.validator(); v != "" {
			req.Header.Set("If-Range", v)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing GET request: %w", err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, _, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, err
		}
		if start != offset {
			return nil, &Error{
				Err:    ErrSizeMismatch,
				Detail: fmt.Sprintf("asked for offset %d, got %d", offset, start),
			}
		}
		if res.Size < 0 {
			res.Size = total
		}
	case http.StatusOK:
		if offset > 0 {
			d.logger.Debug().Str("destination", dest).Msg("server sent the full object, restarting")
			if err := storage.Truncate(part); err != nil {
				return nil, err
			}
			offset = 0
			res.Resumed = 0
		}
		res.Size = resp.ContentLength
	default:
		return nil, statusError(resp)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		res.ETag = etag
	}
	if name := filenameOf(resp); name != "" {
		res.Filename = name
	}
	if rec == nil || !rec.Matches(domain.TransferModeSingle, res.ETag, res.Size, 0) {
		d.remember(ctx, domain.NewTransfer(rawURL, dest, domain.TransferModeSingle, res.ETag, res.Size, 0))
	}

	f, err := storage.OpenAppend(part)
	if err != nil {
		return nil, err
	}

	tracker := d.newTracker(req, progress.Config{
		URL:           rawURL,
		TempFile:      part,
		Filename:      res.Filename,
		ContentLength: res.Size,
		FileOffset:    offset,
	}, observers)

	n, err := d.copyBody(ctx, f, resp.Body, tracker)
	closeErr := f.Close()
	if err != nil {
		return nil, fmt.Errorf("copying body: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("closing %s: %w", part, closeErr)
	}

	if res.Size >= 0 && offset+n != res.Size {
		return nil, &Error{
			Err:    ErrSizeMismatch,
			Detail: fmt.Sprintf("expected %d bytes, got %d", res.Size, offset+n),
		}
	}
	if res.Size < 0 {
		res.Size = offset + n
	}

	return d.finish(ctx, tracker, part, dest, res)
}

// parseContentRange parses "bytes <start>-<end>/<total>". total is -1 for "*".
func parseContentRange(v string) (start, end, total int64, err error) {
	value, ok := strings.CutPrefix(v, "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", v)
	}
	rng, size, ok := strings.Cut(value, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", v)
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", v)
	}

	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q: %w", v, err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q: %w", v, err)
	}
	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("malformed Content-Range %q: %w", v, err)
		}
	}
	return start, end, total, nil
}
