package monitor

import (
	"sync/atomic"
	"time"
)

// Window is a snapshot of one aggregation window.
type Window struct {
	Start               time.Time `json:"start"`
	End                 time.Time `json:"end"`
	OpCount             int64     `json:"op_count"`
	ErrorCount          int64     `json:"error_count"`
	TotalDurationMicros int64     `json:"total_duration_us"`
	CacheHits           int64     `json:"cache_hits"`
	CacheMisses         int64     `json:"cache_misses"`
}

// OpsPerSecond is OpCount over the time elapsed in the window at now,
// with elapsed time floored at one second so a fresh window does not spike.
func (w Window) OpsPerSecond(now time.Time) float64 {
	if w.OpCount == 0 {
		return 0
	}
	if now.After(w.End) {
		now = w.End
	}
	elapsed := now.Sub(w.Start).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return float64(w.OpCount) / elapsed
}

// AvgDurationMicros is the mean operation duration.
func (w Window) AvgDurationMicros() float64 {
	if w.OpCount == 0 {
		return 0
	}
	return float64(w.TotalDurationMicros) / float64(w.OpCount)
}

// ErrorRate is ErrorCount / OpCount.
func (w Window) ErrorRate() float64 {
	if w.OpCount == 0 {
		return 0
	}
	return float64(w.ErrorCount) / float64(w.OpCount)
}

// CacheHitRate is CacheHits / (CacheHits + CacheMisses).
func (w Window) CacheHitRate() float64 {
	lookups := w.CacheHits + w.CacheMisses
	if lookups == 0 {
		return 0
	}
	return float64(w.CacheHits) / float64(lookups)
}

// liveWindow accumulates counters for the current window.
type liveWindow struct {
	start time.Time
	end   time.Time

	ops            atomic.Int64
	errors         atomic.Int64
	durationMicros atomic.Int64
	hits           atomic.Int64
	misses         atomic.Int64
}

func newLiveWindow(start time.Time, length time.Duration) *liveWindow {
	return &liveWindow{start: start, end: start.Add(length)}
}

// snapshot reads the counters without a lock. RecordOperation bumps ops
// before the others, so ops is read last: ErrorCount and
// CacheHits+CacheMisses never exceed OpCount, although an op still in
// flight may be counted in OpCount only. An op that races a rollover is
// credited to the window it loaded, which may already be archived.
func (w *liveWindow) snapshot() Window {
	errs := w.errors.Load()
	duration := w.durationMicros.Load()
	hits := w.hits.Load()
	misses := w.misses.Load()
	return Window{
		Start:               w.start,
		End:                 w.end,
		OpCount:             w.ops.Load(),
		ErrorCount:          errs,
		TotalDurationMicros: duration,
		CacheHits:           hits,
		CacheMisses:         misses,
	}
}
