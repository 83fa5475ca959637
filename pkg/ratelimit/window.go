package ratelimit

import "time"

// slidingWindow counts request timestamps inside a trailing interval.
// Timestamps are appended in order; eviction drops everything older than
// now minus the window size on every read and write.
type slidingWindow struct {
	size      time.Duration
	times     []time.Time
	lastTouch time.Time
}

func newSlidingWindow(size time.Duration) *slidingWindow {
	return &slidingWindow{size: size}
}

func (w *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.size)
	i := 0
	for i < len(w.times) && w.times[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}

func (w *slidingWindow) count(now time.Time) int {
	w.evict(now)
	return len(w.times)
}

func (w *slidingWindow) record(now time.Time) {
	w.evict(now)
	w.times = append(w.times, now)
	w.lastTouch = now
}

// oldest returns the earliest retained timestamp, or the zero time when the
// window is empty.
func (w *slidingWindow) oldest() time.Time {
	if len(w.times) == 0 {
		return time.Time{}
	}
	return w.times[0]
}
