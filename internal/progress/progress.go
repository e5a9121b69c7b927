// Package progress turns byte-arrival events of a transfer into immutable
// progress snapshots.
package progress

import (
	"errors"
	"net/http"
	"sync"
	"time"
	"weak"
)

const (
	// DefaultAlpha is the EWMA smoothing factor for throughput.
	DefaultAlpha = 0.3

	// DefaultSampleInterval is the minimum time between throughput samples.
	DefaultSampleInterval = 200 * time.Millisecond
)

// Usage errors. The tracker panics with these; they are programming errors,
// not transfer failures.
var (
	ErrCompleted       = errors.New("progress: tracker used after completion")
	ErrChunkOutOfRange = errors.New("progress: chunk index out of range")
	ErrChunksPending   = errors.New("progress: completion with chunks still pending")
)

// Observer receives every snapshot. It runs while the tracker is locked and
// must not call back into it.
type Observer func(Info)

// Config describes one transfer.
type Config struct {
	// Request is referenced weakly; the tracker never keeps it alive.
	Request *http.Request

	URL      string
	TempFile string
	TempDir  string
	Filename string

	// ContentLength is the full object size, or -1 when unknown.
	ContentLength int64

	// FileOffset is where this transfer resumed. Zero for a fresh download.
	FileOffset int64

	// Chunks is the number of chunk completions expected before the merge.
	// Zero for a single-file transfer.
	Chunks int

	// Alpha weights the newest throughput sample, in (0, 1].
	Alpha float64

	MinSampleInterval time.Duration

	// Start defaults to the first event timestamp.
	Start time.Time

	Observers []Observer
}

// Tracker accumulates byte counts for one transfer. It is safe for
// concurrent use by the workers of that transfer.
type Tracker struct {
	cfg     Config
	request weak.Pointer[http.Request]

	mu          sync.Mutex
	start       time.Time
	received    int64
	progress    float64
	bps         float64
	sampled     bool
	lastSample  time.Time
	sampleBytes int64
	chunksDone  []bool
	chunksLeft  int
	completed   bool
}

// New returns a tracker for cfg.
func New(cfg Config) *Tracker {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = DefaultAlpha
	}
	if cfg.MinSampleInterval <= 0 {
		cfg.MinSampleInterval = DefaultSampleInterval
	}
	if cfg.Chunks < 0 {
		cfg.Chunks = 0
	}

	t := &Tracker{
		cfg:        cfg,
		start:      cfg.Start,
		lastSample: cfg.Start,
		chunksDone: make([]bool, cfg.Chunks),
		chunksLeft: cfg.Chunks,
	}
	if cfg.Request != nil {
		t.request = weak.Make(cfg.Request)
	}
	// Drop the strong reference held by the copied config.
	t.cfg.Request = nil

	return t
}

// Observe registers an additional observer.
func (t *Tracker) Observe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg.Observers = append(t.cfg.Observers, o)
}

// OnBytesReceived records n bytes arriving at time at and returns the new
// snapshot.
func (t *Tracker) OnBytesReceived(n int64, at time.Time) Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mustBeActive()

	if t.start.IsZero() {
		t.start = at
		t.lastSample = at
	}

	t.received += n
	t.sampleBytes += n
	t.sample(at)
	t.advance()

	info := t.snapshot(at, n)
	t.notify(info)
	return info
}

// OnChunkComplete marks chunk i as fully received and reports whether every
// expected chunk has now arrived, which is the signal to merge.
func (t *Tracker) OnChunkComplete(i int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mustBeActive()

	if i < 0 || i >= len(t.chunksDone) {
		panic(ErrChunkOutOfRange)
	}
	if !t.chunksDone[i] {
		t.chunksDone[i] = true
		t.chunksLeft--
	}
	return t.chunksLeft == 0
}

// PendingChunks returns the number of chunks not yet complete.
func (t *Tracker) PendingChunks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chunksLeft
}

// OnComplete produces the final snapshot. The request back-reference is
// cleared and the tracker must not be used again.
func (t *Tracker) OnComplete(at time.Time) Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mustBeActive()

	if t.chunksLeft > 0 {
		panic(ErrChunksPending)
	}
	if t.start.IsZero() {
		t.start = at
	}

	t.completed = true
	t.request = weak.Pointer[http.Request]{}
	if t.cfg.ContentLength >= 0 {
		t.progress = 1
	}

	info := t.snapshot(at, 0)
	info.DidComplete = true
	t.notify(info)
	return info
}

// Completed reports whether OnComplete was called.
func (t *Tracker) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

func (t *Tracker) mustBeActive() {
	if t.completed {
		panic(ErrCompleted)
	}
}

// sample folds the bytes seen since the last sample into the EWMA once
// MinSampleInterval has passed.
func (t *Tracker) sample(at time.Time) {
	dt := at.Sub(t.lastSample)
	if dt < t.cfg.MinSampleInterval {
		return
	}

	instant := float64(t.sampleBytes) / dt.Seconds()
	if t.sampled {
		t.bps = t.cfg.Alpha*instant + (1-t.cfg.Alpha)*t.bps
	} else {
		t.bps = instant
		t.sampled = true
	}

	t.lastSample = at
	t.sampleBytes = 0
}

// advance recomputes the progress fraction. It never decreases.
func (t *Tracker) advance() {
	total := t.cfg.ContentLength
	if total <= 0 {
		return
	}
	p := float64(t.cfg.FileOffset+t.received) / float64(total)
	if p > 1 {
		p = 1
	}
	if p > t.progress {
		t.progress = p
	}
}

func (t *Tracker) snapshot(at time.Time, chunk int64) Info {
	elapsed := at.Sub(t.start)
	if elapsed < 0 {
		elapsed = 0
	}
	return Info{
		request:        t.request,
		URL:            t.cfg.URL,
		TempFile:       t.cfg.TempFile,
		TempDir:        t.cfg.TempDir,
		Filename:       t.cfg.Filename,
		Elapsed:        elapsed,
		Progress:       t.progress,
		ContentLength:  t.cfg.ContentLength,
		FileOffset:     t.cfg.FileOffset,
		ChunkSize:      chunk,
		BytesReceived:  t.received,
		BytesPerSecond: t.bps,
	}
}

func (t *Tracker) notify(info Info) {
	for _, o := range t.cfg.Observers {
		o(info)
	}
}
