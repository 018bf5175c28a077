package mirror

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// Stats summarizes one run.
type Stats struct {
	Uploaded int
	Updated  int
	Skipped  int
	Ignored  int
	Deleted  int
	Failed   int
	Bytes    int64

	Listed     int
	CacheKept  int
	CacheStale int

	Elapsed time.Duration
}

func (s *Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("uploaded", s.Uploaded),
		slog.Int("updated", s.Updated),
		slog.Int("skipped", s.Skipped),
		slog.Int("ignored", s.Ignored),
		slog.Int("deleted", s.Deleted),
		slog.Int("failed", s.Failed),
		slog.String("transferred", humanize.Bytes(uint64(s.Bytes))),
		slog.Duration("elapsed", s.Elapsed.Round(time.Millisecond)),
	)
}

func (s *Stats) record(action Action, size int64) {
	switch action {
	case ActionUpload:
		s.Uploaded++
	case ActionUpdate:
		s.Updated++
	}
	s.Bytes += size
}

// rate formats bytes per second for log output.
func rate(size int64, elapsed time.Duration) string {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return "n/a"
	}
	return humanize.Bytes(uint64(float64(size)/secs)) + "/s"
}
