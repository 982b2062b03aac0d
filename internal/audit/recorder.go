// Package audit counts admission rejections and persists them in batches.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/invitegen/edgegate/internal/metrics"
)

// Kind is the admission check that rejected a request.
type Kind string

const (
	KindRateLimited  Kind = "rate_limited"
	KindCSRFRejected Kind = "csrf_rejected"
	KindGateRedirect Kind = "gate_redirect"
)

// Event is one rejected request.
type Event struct {
	Kind   Kind
	Policy string // rate limit policy name, or the CSRF failure reason
	Path   string
}

// Key groups events for counting.
type Key struct {
	Kind   Kind
	Policy string
}

// Flusher persists aggregated counts for one time bucket.
type Flusher interface {
	FlushRejections(ctx context.Context, bucket time.Time, counts map[Key]int64) error
}

// Config holds configuration for the Recorder.
type Config struct {
	FlushInterval time.Duration // How often to flush accumulated counts
	BatchSize     int           // Flush when this many events are pending
	ChannelBuffer int           // Size of the event channel buffer
	Bucket        time.Duration // Granularity of the stored time bucket
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		FlushInterval: 10 * time.Second,
		BatchSize:     500,
		ChannelBuffer: 10000,
		Bucket:        time.Minute,
	}
}

// Recorder provides non-blocking, batched rejection counting.
type Recorder struct {
	flusher Flusher
	cfg     Config
	now     func() time.Time

	events       chan Event
	counts       map[Key]int64
	countsMu     sync.Mutex
	pendingCount int64
	dropped      atomic.Int64

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
	stopped  atomic.Bool
}

// NewRecorder creates a Recorder and starts its flush loop.
func NewRecorder(cfg Config, flusher Flusher) *Recorder {
	def := DefaultConfig()
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = def.ChannelBuffer
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Bucket <= 0 {
		cfg.Bucket = def.Bucket
	}

	r := &Recorder{
		flusher:  flusher,
		cfg:      cfg,
		now:      time.Now,
		events:   make(chan Event, cfg.ChannelBuffer),
		counts:   make(map[Key]int64),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}

	go r.run()
	return r
}

// Record queues an event without blocking. Events are dropped when the
// buffer is full or the recorder has stopped.
func (r *Recorder) Record(e Event) {
	if r == nil || r.stopped.Load() {
		return
	}

	select {
	case r.events <- e:
	default:
		r.dropped.Add(1)
		metrics.RecordAuditDropped()
	}
}

// Dropped returns the number of events lost to a full buffer. The same
// count is exported as audit_dropped_events_total.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Stop flushes remaining counts and ends the loop. Safe to call repeatedly.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.stopChan)
		<-r.doneChan
	})
}

// Pending returns a snapshot of unflushed counts.
func (r *Recorder) Pending() map[Key]int64 {
	r.countsMu.Lock()
	defer r.countsMu.Unlock()

	result := make(map[Key]int64, len(r.counts))
	for k, v := range r.counts {
		result[k] = v
	}
	return result
}

func (r *Recorder) run() {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-r.events:
			if r.add(e) {
				r.flush()
			}

		case <-ticker.C:
			r.flush()

		case <-r.stopChan:
			r.drain()
			r.flush()
			return
		}
	}
}

// add counts e and reports whether the batch is full.
func (r *Recorder) add(e Event) bool {
	r.countsMu.Lock()
	defer r.countsMu.Unlock()

	r.counts[Key{Kind: e.Kind, Policy: e.Policy}]++
	r.pendingCount++
	return int(r.pendingCount) >= r.cfg.BatchSize
}

func (r *Recorder) drain() {
	for {
		select {
		case e := <-r.events:
			r.add(e)
		default:
			return
		}
	}
}

func (r *Recorder) flush() {
	r.countsMu.Lock()
	if len(r.counts) == 0 {
		r.countsMu.Unlock()
		return
	}

	toFlush := r.counts
	r.counts = make(map[Key]int64)
	r.pendingCount = 0
	r.countsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bucket := r.now().UTC().Truncate(r.cfg.Bucket)
	_ = r.flusher.FlushRejections(ctx, bucket, toFlush)
}
