package hls

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// expiredEntry is a segment evicted from the window, awaiting its grace
// period before the underlying file is unlinked.
type expiredEntry struct {
	seg           *Segment
	becomeStaleAt time.Time
}

// Window is the ordered, time-indexed collection of closed segments
// currently enumerated in the live playlist (C1: Fragment window).
//
// Append is O(1) at the tail. Shrink evicts from the head while the
// window exceeds the configured retention duration, moving evicted
// segments to a deferred "expired" list with a grace period before the
// file is unlinked. Unlink errors never propagate: they are logged and
// the entry is forgotten.
type Window struct {
	mu       sync.Mutex
	segments []*Segment
	expired  []expiredEntry
	total    int64 // sum of segments[i].Duration, 90kHz ticks

	log *slog.Logger
}

// NewWindow creates an empty fragment window.
func NewWindow(log *slog.Logger) *Window {
	if log == nil {
		log = slog.Default()
	}
	return &Window{log: log}
}

// Append pushes a closed segment at the tail. It never fails.
func (w *Window) Append(seg *Segment) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.segments = append(w.segments, seg)
	w.total += seg.Duration
}

// Shrink evicts from the head while the sum of durations minus the head's
// own duration is at least windowDur, AND the head has been in the
// window for longer than windowDur. Evicted segments are moved to the
// expired list with becomeStaleAt = now + windowDur.
func (w *Window) Shrink(windowDur time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	for len(w.segments) > 0 {
		head := w.segments[0]
		remaining := time.Duration(w.total-head.Duration) * time.Second / 90000
		age := now.Sub(head.CreatedAt)

		if remaining < windowDur || age <= windowDur {
			break
		}

		w.segments = w.segments[1:]
		w.total -= head.Duration
		w.expired = append(w.expired, expiredEntry{seg: head, becomeStaleAt: now.Add(windowDur)})
	}
}

// ClearExpired unlinks every expired entry whose grace period has passed.
// If unlinkFiles is false, entries are simply dropped without touching disk.
func (w *Window) ClearExpired(unlinkFiles bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	kept := w.expired[:0]
	for _, e := range w.expired {
		if now.Before(e.becomeStaleAt) {
			kept = append(kept, e)
			continue
		}
		if unlinkFiles {
			if err := os.Remove(e.seg.Path); err != nil && !os.IsNotExist(err) {
				w.log.Warn("failed to unlink expired segment",
					slog.String("path", e.seg.Path), slog.String("error", err.Error()))
			}
		}
		// Entry forgotten either way (Failure: file unlink errors never propagate).
	}
	w.expired = kept
}

// Empty reports whether the window currently holds no segments.
func (w *Window) Empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.segments) == 0
}

// Size returns the number of segments currently in the window.
func (w *Window) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.segments)
}

// First returns the window's first (oldest) segment, or nil if empty.
func (w *Window) First() *Segment {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.segments) == 0 {
		return nil
	}
	return w.segments[0]
}

// At returns the segment at index i, or nil if out of range.
func (w *Window) At(i int) *Segment {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i < 0 || i >= len(w.segments) {
		return nil
	}
	return w.segments[i]
}

// All returns a snapshot slice of the window's segments in order.
func (w *Window) All() []*Segment {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Segment, len(w.segments))
	copy(out, w.segments)
	return out
}

// MaxDuration returns the longest segment duration (90kHz ticks) in the window.
func (w *Window) MaxDuration() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var max int64
	for _, s := range w.segments {
		if s.Duration > max {
			max = s.Duration
		}
	}
	return max
}

// Dispose unlinks every segment file currently referenced by the window
// (both active and pending-expiry), for use on unpublish/teardown.
func (w *Window) Dispose() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, s := range w.segments {
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			w.log.Warn("failed to unlink segment on dispose",
				slog.String("path", s.Path), slog.String("error", err.Error()))
		}
	}
	for _, e := range w.expired {
		if err := os.Remove(e.seg.Path); err != nil && !os.IsNotExist(err) {
			w.log.Warn("failed to unlink expired segment on dispose",
				slog.String("path", e.seg.Path), slog.String("error", err.Error()))
		}
	}
	w.segments = nil
	w.expired = nil
	w.total = 0
}
