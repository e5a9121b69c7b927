package progress

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// LogObserver logs snapshots at most once per interval, plus the final one.
func LogObserver(logger zerolog.Logger, interval time.Duration) Observer {
	var last time.Duration
	logged := false

	return func(info Info) {
		if !info.DidComplete && logged && info.Elapsed-last < interval {
			return
		}
		last = info.Elapsed
		logged = true

		evt := logger.Info()
		msg := "downloading"
		if info.DidComplete {
			msg = "download complete"
		}

		evt.Str("transferred", humanize.IBytes(uint64(info.FileOffset+info.BytesReceived))).
			Str("rate", humanize.IBytes(uint64(info.BytesPerSecond))+"/s")
		if info.ProgressKnown() {
			evt.Str("total", humanize.IBytes(uint64(info.ContentLength))).
				Str("progress", humanize.FtoaWithDigits(info.Progress*100, 1)+"%")
		}
		if remaining, ok := info.TimeRemaining(); ok && !info.DidComplete {
			evt.Dur("eta", remaining.Round(time.Second))
		}
		evt.Dur("elapsed", info.Elapsed.Round(time.Millisecond)).Msg(msg)
	}
}
