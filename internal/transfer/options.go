package transfer

import (
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/prn-tf/alexander-client/internal/lock"
	"github.com/prn-tf/alexander-client/internal/metrics"
	"github.com/prn-tf/alexander-client/internal/progress"
	"github.com/prn-tf/alexander-client/internal/repository"
)

// Option configures a Downloader.
type Option func(*Downloader)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Downloader) {
		d.logger = logger.With().Str("component", "transfer").Logger()
	}
}

// WithMetrics records transfer metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Downloader) { d.metrics = m }
}

// WithTracer sets the tracer for download spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Downloader) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithJournal persists resume state so partial data survives restarts and is
// discarded when the object changes.
func WithJournal(repo repository.TransferRepository) Option {
	return func(d *Downloader) { d.journal = repo }
}

// WithLocker guards each destination with a lock held for ttl.
func WithLocker(l lock.Locker, ttl time.Duration) Option {
	return func(d *Downloader) {
		d.locker = l
		if ttl > 0 {
			d.lockTTL = ttl
		}
	}
}

// WithChunkSize enables chunked mode for objects larger than size bytes.
func WithChunkSize(size int64) Option {
	return func(d *Downloader) { d.chunkSize = size }
}

// WithConcurrency bounds the parallel chunk requests.
func WithConcurrency(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithBandwidthLimit caps the combined read rate in bytes per second.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(d *Downloader) {
		if bytesPerSecond <= 0 {
			d.limiter = nil
			return
		}
		burst := max(int(bytesPerSecond), copyBufferSize)
		d.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	}
}

// WithThroughputSmoothing sets the EWMA factor and sample interval of the
// throughput estimate.
func WithThroughputSmoothing(alpha float64, interval time.Duration) Option {
	return func(d *Downloader) {
		d.alpha = alpha
		d.sampleInterval = interval
	}
}

// WithObserver adds an observer to every download.
func WithObserver(o progress.Observer) Option {
	return func(d *Downloader) { d.observers = append(d.observers, o) }
}

// WithVerifyETag checks the MD5 of finished files against simple ETags.
func WithVerifyETag(verify bool) Option {
	return func(d *Downloader) { d.verifyETag = verify }
}

// WithClock replaces time.Now for progress timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Downloader) { d.now = now }
}

// DownloadOption configures a single Download call.
type DownloadOption func(*downloadOptions)

type downloadOptions struct {
	observers  []progress.Observer
	singleFile bool
}

// WithProgress adds an observer for this download only.
func WithProgress(o progress.Observer) DownloadOption {
	return func(opts *downloadOptions) { opts.observers = append(opts.observers, o) }
}

// WithSingleFile disables chunked mode for this download.
func WithSingleFile() DownloadOption {
	return func(opts *downloadOptions) { opts.singleFile = true }
}
