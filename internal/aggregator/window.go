package aggregator

import "time"

// bucket accumulates counts for one fixed-width time slice.
type bucket struct {
	requests uint64
	blocked  uint64
	errors   uint64
}

// Point is one gap-filled chart sample. Buckets with no traffic are present
// with zero counts so downstream timelines are continuous.
type Point struct {
	Start    time.Time `json:"start"`
	Requests uint64    `json:"requests"`
	Blocked  uint64    `json:"blocked"`
}

// window is a fixed-size ring of consecutive buckets ending at the current
// one. Closed positions are only ever read; all mutation goes through the
// owner's lock.
type window struct {
	width   time.Duration
	buckets []bucket
	head    int
	current time.Time // start of the bucket at head
}

func newWindow(size int, width time.Duration, now time.Time) *window {
	if size <= 0 {
		size = 60
	}
	if width <= 0 {
		width = time.Second
	}
	return &window{
		width:   width,
		buckets: make([]bucket, size),
		current: now.UTC().Truncate(width),
	}
}

// advance rotates the ring forward so the head bucket covers now, zeroing
// every slice skipped over. Quiet periods therefore yield zero-valued
// buckets rather than holes.
func (w *window) advance(now time.Time) {
	target := now.UTC().Truncate(w.width)
	if !target.After(w.current) {
		return
	}

	steps := int(target.Sub(w.current) / w.width)
	if steps >= len(w.buckets) {
		for i := range w.buckets {
			w.buckets[i] = bucket{}
		}
		w.head = 0
		w.current = target
		return
	}

	for i := 0; i < steps; i++ {
		w.head = (w.head + 1) % len(w.buckets)
		w.buckets[w.head] = bucket{}
	}
	w.current = target
}

// add counts one event into the bucket covering ts. Events older than the
// window are dropped; events newer than the head advance it first.
func (w *window) add(ts time.Time, blocked, isError bool) {
	slot := ts.UTC().Truncate(w.width)
	if slot.After(w.current) {
		w.advance(slot)
	}

	offset := int(w.current.Sub(slot) / w.width)
	if offset < 0 || offset >= len(w.buckets) {
		return
	}

	idx := (w.head - offset + len(w.buckets)) % len(w.buckets)
	w.buckets[idx].requests++
	if blocked {
		w.buckets[idx].blocked++
	}
	if isError {
		w.buckets[idx].errors++
	}
}

// series returns the window's buckets oldest first, aligned so the last
// point covers now.
func (w *window) series(now time.Time) []Point {
	w.advance(now)

	n := len(w.buckets)
	points := make([]Point, n)
	for i := 0; i < n; i++ {
		offset := n - 1 - i
		idx := (w.head - offset + n) % n
		points[i] = Point{
			Start:    w.current.Add(-time.Duration(offset) * w.width),
			Requests: w.buckets[idx].requests,
			Blocked:  w.buckets[idx].blocked,
		}
	}
	return points
}

func (w *window) totals() (requests, blocked, errors uint64) {
	for i := range w.buckets {
		requests += w.buckets[i].requests
		blocked += w.buckets[i].blocked
		errors += w.buckets[i].errors
	}
	return requests, blocked, errors
}
