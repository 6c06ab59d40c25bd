package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"rpcguard/internal/database"
	"rpcguard/internal/domain"

	"github.com/charmbracelet/log"
)

const (
	defaultQueueCapacity = 262_144
	flushInterval        = 5 * time.Second
	flushBatchThreshold  = 5_000
	insertTimeout        = 30 * time.Second
	subscriberCapacity   = 65_536
)

// ErrIngestUnavailable is returned when the in-memory buffer is full. The
// gate treats this as non-fatal: enforcement already happened upstream and
// losing one audit row must never block the request path.
var ErrIngestUnavailable = errors.New("ingest: event buffer full")

// Event is one recorded request attempt plus the monotonic sequence number
// consumers use to deduplicate redelivery.
type Event struct {
	Seq   uint64
	Entry domain.RequestLogEntry
}

// Recorder decouples the gate's hot path from the durable request log. The
// gate enqueues without blocking; a background loop batches rows into the
// database and fans events out to the aggregator.
type Recorder struct {
	queue chan Event
	seq   atomic.Uint64

	mu   sync.Mutex
	subs []chan Event

	dropped      atomic.Uint64
	flushTracker sync.WaitGroup
}

func NewRecorder() *Recorder {
	return &Recorder{
		queue: make(chan Event, defaultQueueCapacity),
	}
}

// Record enqueues one request event. It never blocks: when the buffer is
// full the event is dropped and ErrIngestUnavailable returned.
func (r *Recorder) Record(entry domain.RequestLogEntry) error {
	if entry.RequestedAt.IsZero() {
		entry.RequestedAt = time.Now().UTC()
	}

	ev := Event{Seq: r.seq.Add(1), Entry: entry}

	select {
	case r.queue <- ev:
		return nil
	default:
		r.dropped.Add(1)
		return ErrIngestUnavailable
	}
}

// Subscribe returns a channel receiving recorded events. Slow subscribers
// lose events rather than stalling ingestion. A dropped event still lands
// in the durable log, but the subscriber never sees it: the aggregator's
// windows and rollups undercount it. That loss is accepted; only the raw
// log is authoritative.
func (r *Recorder) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberCapacity)

	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()

	return ch
}

// Dropped reports how many events were lost to backpressure.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// QueueDepth reports how many events are waiting for the background loop.
func (r *Recorder) QueueDepth() int {
	return len(r.queue)
}

// Run consumes the queue until ctx is done, then drains whatever is left
// and waits for pending inserts.
func (r *Recorder) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	var buffer []domain.RequestLogEntry
	timer := time.NewTimer(flushInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drainQueue(&buffer)
			r.flush(&buffer)
			r.flushTracker.Wait()
			r.closeSubscribers()
			return
		case ev := <-r.queue:
			r.fanOut(ev)
			buffer = append(buffer, ev.Entry)
			if len(buffer) >= flushBatchThreshold {
				r.flush(&buffer)
				resetTimer(timer)
			}
		case <-timer.C:
			r.flush(&buffer)
			timer.Reset(flushInterval)
		}
	}
}

func (r *Recorder) fanOut(ev Event) {
	r.mu.Lock()
	subs := r.subs
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; drop rather than stall the pipeline.
		}
	}
}

func (r *Recorder) flush(buffer *[]domain.RequestLogEntry) {
	if len(*buffer) == 0 {
		return
	}

	toInsert := *buffer
	*buffer = nil

	r.flushTracker.Add(1)
	go func(entries []domain.RequestLogEntry) {
		defer r.flushTracker.Done()

		dbCtx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		defer cancel()

		if err := database.InsertRequestLogEntries(dbCtx, entries); err != nil {
			log.Error("Failed to insert request log entries", "error", err, "count", len(entries))
		}
	}(toInsert)
}

func (r *Recorder) drainQueue(buffer *[]domain.RequestLogEntry) {
	for {
		select {
		case ev := <-r.queue:
			r.fanOut(ev)
			*buffer = append(*buffer, ev.Entry)
		default:
			return
		}
	}
}

func (r *Recorder) closeSubscribers() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
}

func resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(flushInterval)
}
