// Package transfer downloads objects to local files, either as one stream
// into a partial file or as parallel byte ranges merged at the end. Partial
// data is resumed on the next attempt when the object has not changed.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/prn-tf/alexander-client/internal/domain"
	"github.com/prn-tf/alexander-client/internal/lock"
	"github.com/prn-tf/alexander-client/internal/metrics"
	"github.com/prn-tf/alexander-client/internal/pkg/crypto"
	"github.com/prn-tf/alexander-client/internal/progress"
	"github.com/prn-tf/alexander-client/internal/repository"
	"github.com/prn-tf/alexander-client/internal/storage"
)

const (
	copyBufferSize = 32 * 1024
	maxErrBodySize = 4 * 1024

	// DefaultConcurrency is the number of parallel chunk requests.
	DefaultConcurrency = 4

	// DefaultLockTTL bounds how long a crashed process blocks a destination.
	DefaultLockTTL = time.Hour
)

// Downloader fetches objects through an HTTP client, normally one whose
// transport signs requests.
type Downloader struct {
	client  *http.Client
	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	journal repository.TransferRepository
	locker  lock.Locker
	lockTTL time.Duration
	limiter *rate.Limiter
	now     func() time.Time

	chunkSize      int64
	concurrency    int
	alpha          float64
	sampleInterval time.Duration
	observers      []progress.Observer
	verifyETag     bool
}

// Result describes a finished download.
type Result struct {
	Destination string
	Mode        domain.TransferMode
	Size        int64
	ETag        string
	Filename    string

	// Resumed is the number of bytes reused from an earlier attempt.
	Resumed int64

	// Progress is the final snapshot.
	Progress progress.Info
}

// NewDownloader creates a Downloader. A nil client uses http.DefaultClient.
func NewDownloader(client *http.Client, opts ...Option) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	d := &Downloader{
		client:         client,
		logger:         zerolog.Nop(),
		tracer:         noop.NewTracerProvider().Tracer(""),
		lockTTL:        DefaultLockTTL,
		now:            time.Now,
		concurrency:    DefaultConcurrency,
		alpha:          progress.DefaultAlpha,
		sampleInterval: progress.DefaultSampleInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches rawURL into dest. Objects larger than the configured
// chunk size are fetched as parallel ranges when the server supports them.
// On failure the partial data stays on disk for the next attempt.
func (d *Downloader) Download(ctx context.Context, rawURL, dest string, opts ...DownloadOption) (_ *Result, err error) {
	var o downloadOptions
	for _, opt := range opts {
		opt(&o)
	}

	dest, err = filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("resolving destination: %w", err)
	}

	ctx, span := d.tracer.Start(ctx, "transfer.download", trace.WithAttributes(
		attribute.String("url", rawURL),
		attribute.String("destination", dest),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "download failed")
		}
		span.End()
	}()

	if d.locker != nil {
		key := lock.Keys.Transfer(dest)
		acquired, err := d.locker.Acquire(ctx, key, d.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquiring destination lock: %w", err)
		}
		if !acquired {
			return nil, ErrDestinationBusy
		}
		defer func() {
			if _, err := d.locker.Release(context.WithoutCancel(ctx), key); err != nil {
				d.logger.Warn().Err(err).Str("destination", dest).Msg("failed to release destination lock")
			}
		}()
	}

	obj, err := d.probe(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	mode := domain.TransferModeSingle
	if !o.singleFile && d.chunkSize > 0 && obj.ranges && obj.size > d.chunkSize {
		mode = domain.TransferModeChunked
	}
	span.SetAttributes(attribute.String("mode", string(mode)), attribute.Int64("size", obj.size))

	observers := append(slices.Clone(d.observers), o.observers...)

	var res *Result
	if mode == domain.TransferModeChunked {
		res, err = d.downloadChunked(ctx, rawURL, dest, obj, observers)
	} else {
		res, err = d.downloadSingle(ctx, rawURL, dest, obj, observers)
	}
	d.metrics.TransferFinished(string(mode), err == nil)
	if err != nil {
		return nil, &DownloadError{Mode: mode, Resumable: d.resumable(mode, obj, err), Err: err}
	}

	d.logger.Info().
		Str("destination", dest).
		Str("mode", string(mode)).
		Int64("size", res.Size).
		Int64("resumed", res.Resumed).
		Dur("elapsed", res.Progress.Elapsed).
		Msg("download finished")

	return res, nil
}

// resumable reports whether staged data outlives err. Client errors and a
// changed object discard it; chunked data is only trusted with a journal.
func (d *Downloader) resumable(mode domain.TransferMode, obj objectInfo, err error) bool {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
		return false
	}
	if errors.Is(err, ErrObjectChanged) || errors.Is(err, ErrChecksumMismatch) {
		return false
	}
	if !obj.ranges {
		return false
	}
	if mode == domain.TransferModeChunked {
		return d.journal != nil && obj.etag != ""
	}
	return true
}

// objectInfo is what a HEAD request reveals about the object.
type objectInfo struct {
	// size is -1 when unknown.
	size         int64
	etag         string
	lastModified string
	ranges       bool
	filename     string
}

// validator returns the value for If-Range.
func (o objectInfo) validator() string {
	if o.etag != "" && !isWeak(o.etag) {
		return o.etag
	}
	return o.lastModified
}

func (d *Downloader) probe(ctx context.Context, rawURL string) (objectInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return objectInfo{}, fmt.Errorf("creating HEAD request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return objectInfo{}, fmt.Errorf("performing HEAD request: %w", err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return objectInfo{size: -1}, nil
	default:
		return objectInfo{}, statusError(resp)
	}

	return objectInfo{
		size:         resp.ContentLength,
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
		ranges:       resp.Header.Get("Accept-Ranges") == "bytes" && resp.ContentLength >= 0,
		filename:     filenameOf(resp),
	}, nil
}

// copyBody streams body into w, feeding every read to the tracker.
func (d *Downloader) copyBody(ctx context.Context, w io.Writer, body io.Reader, tracker *progress.Tracker) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if d.limiter != nil {
				if err := d.limiter.WaitN(ctx, n); err != nil {
					return written, err
				}
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("writing: %w", err)
			}
			written += int64(n)
			tracker.OnBytesReceived(int64(n), d.now())
			d.metrics.BytesReceived(int64(n))
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (d *Downloader) newTracker(req *http.Request, cfg progress.Config, observers []progress.Observer) *progress.Tracker {
	cfg.Request = req
	cfg.Alpha = d.alpha
	cfg.MinSampleInterval = d.sampleInterval
	cfg.Start = d.now()
	cfg.Observers = observers
	return progress.New(cfg)
}

// finish verifies and commits the staged file, then clears the journal.
func (d *Downloader) finish(ctx context.Context, tracker *progress.Tracker, staged, dest string, res *Result) (*Result, error) {
	if d.verifyETag && res.ETag != "" {
		if err := verifyFile(staged, res.ETag); err != nil {
			if rmErr := storage.RemoveAll(staged); rmErr != nil {
				d.logger.Warn().Err(rmErr).Str("path", staged).Msg("failed to remove corrupt file")
			}
			d.forget(ctx, dest)
			return nil, err
		}
	}

	if err := storage.Commit(staged, dest); err != nil {
		return nil, err
	}
	d.forget(ctx, dest)

	res.Destination = dest
	res.Progress = tracker.OnComplete(d.now())
	d.metrics.Throughput(res.Progress.BytesPerSecond)
	return res, nil
}

// recall returns the journal entry of dest, or nil.
func (d *Downloader) recall(ctx context.Context, dest string) *domain.Transfer {
	if d.journal == nil {
		return nil
	}
	t, err := d.journal.Get(ctx, dest)
	if err != nil {
		if !errors.Is(err, domain.ErrTransferNotFound) {
			d.logger.Warn().Err(err).Str("destination", dest).Msg("failed to read transfer journal")
		}
		return nil
	}
	return t
}

func (d *Downloader) remember(ctx context.Context, t *domain.Transfer) {
	if d.journal == nil || t.ETag == "" {
		return
	}
	if err := d.journal.Save(ctx, t); err != nil {
		d.logger.Warn().Err(err).Str("destination", t.Destination).Msg("failed to write transfer journal")
	}
}

func (d *Downloader) forget(ctx context.Context, dest string) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Delete(context.WithoutCancel(ctx), dest); err != nil {
		d.logger.Warn().Err(err).Str("destination", dest).Msg("failed to clear transfer journal")
	}
}

// verifyFile compares the MD5 of path with a simple ETag. Multipart ETags
// are skipped.
func verifyFile(path, etag string) error {
	h := crypto.NewHashWriter()
	if err := copyFile(h, path); err != nil {
		return err
	}
	match, ok := h.MatchesETag(etag)
	if ok && !match {
		return &Error{
			Err:    ErrChecksumMismatch,
			Detail: fmt.Sprintf("etag %s, md5 %s", etag, h.MD5()),
		}
	}
	return nil
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBodySize))
	if err != nil {
		b = []byte("unable to read body")
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		URL:        resp.Request.URL.String(),
		Body:       string(b),
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrBodySize))
	_ = resp.Body.Close()
}

func filenameOf(resp *http.Response) string {
	cd := resp.Header.Get("Content-Disposition")
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil || params["filename"] == "" {
		return ""
	}
	return filepath.Base(params["filename"])
}

func isWeak(etag string) bool {
	return len(etag) >= 2 && etag[:2] == "W/"
}
