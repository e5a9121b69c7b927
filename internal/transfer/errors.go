package transfer

import (
	"errors"
	"fmt"

	"github.com/prn-tf/alexander-client/internal/domain"
)

var (
	// ErrUnexpectedStatus indicates a response status the downloader cannot use.
	ErrUnexpectedStatus = errors.New("unexpected status code")

	// ErrSizeMismatch indicates fewer or more bytes than the object size.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrChecksumMismatch indicates a finished file whose MD5 differs from the ETag.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrObjectChanged indicates the object was replaced during a chunked download.
	ErrObjectChanged = errors.New("object changed during download")

	// ErrDestinationBusy indicates another download holds the destination lock.
	ErrDestinationBusy = errors.New("destination is being downloaded by another process")
)

// StatusError carries a response the downloader rejected.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %d from %s: %s", ErrUnexpectedStatus, e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// DownloadError reports a download that failed after its mode was chosen.
// Resumable is set when the staged data survives for the next attempt.
type DownloadError struct {
	Mode      domain.TransferMode
	Resumable bool
	Err       error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s download: %v", e.Mode, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Resumable reports whether a later Download of the same destination
// continues from the data err left behind.
func Resumable(err error) bool {
	var de *DownloadError
	return errors.As(err, &de) && de.Resumable
}

// Error adds detail to one of the package sentinels.
type Error struct {
	Detail string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}
