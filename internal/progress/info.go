package progress

import (
	"math"
	"net/http"
	"time"
	"weak"

	"github.com/rs/zerolog"
)

// Info is an immutable progress snapshot.
type Info struct {
	request weak.Pointer[http.Request]

	URL      string
	TempFile string
	TempDir  string
	Filename string

	Elapsed time.Duration

	// Progress is in [0, 1]. Only meaningful when ProgressKnown is true.
	Progress float64

	// ContentLength is -1 when unknown.
	ContentLength int64
	FileOffset    int64

	// ChunkSize is the size of the read that produced this snapshot.
	ChunkSize int64

	BytesReceived  int64
	BytesPerSecond float64

	DidComplete bool
}

// Request returns the originating request, or nil once the transfer has
// completed or the request has been collected.
func (i Info) Request() *http.Request {
	return i.request.Value()
}

// ProgressKnown reports whether the content length is known.
func (i Info) ProgressKnown() bool {
	return i.ContentLength >= 0
}

// Remaining returns the bytes still expected, or -1 when unknown.
func (i Info) Remaining() int64 {
	if !i.ProgressKnown() {
		return -1
	}
	return max(i.ContentLength-i.FileOffset-i.BytesReceived, 0)
}

// TimeRemaining estimates the time to completion. ok is false when the
// content length or the throughput is unknown.
func (i Info) TimeRemaining() (d time.Duration, ok bool) {
	if i.DidComplete && i.ProgressKnown() {
		return 0, true
	}
	if !i.ProgressKnown() || i.BytesPerSecond <= 0 {
		return 0, false
	}
	secs := float64(i.Remaining()) / i.BytesPerSecond
	if math.IsInf(secs, 0) || math.IsNaN(secs) {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (i Info) MarshalZerologObject(e *zerolog.Event) {
	e.Str("url", i.URL).
		Dur("elapsed", i.Elapsed).
		Int64("received", i.BytesReceived).
		Int64("offset", i.FileOffset).
		Float64("bytes_per_second", i.BytesPerSecond).
		Bool("complete", i.DidComplete)

	if i.ProgressKnown() {
		e.Int64("content_length", i.ContentLength).Float64("progress", i.Progress)
	}
	if remaining, ok := i.TimeRemaining(); ok {
		e.Dur("remaining", remaining)
	}
	if i.TempFile != "" {
		e.Str("temp_file", i.TempFile)
	}
	if i.TempDir != "" {
		e.Str("temp_dir", i.TempDir)
	}
	if i.Filename != "" {
		e.Str("filename", i.Filename)
	}
}
