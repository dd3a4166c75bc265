// Package egress implements the Batch Egress Worker (spec §4.6): a
// single drain-batch-flush loop that pulls records off the backpressure
// buffer, maps them to the sink's wire schema, and flushes them through
// the sink session under the circuit breaker's gate.
package egress

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/edgebridge/otgw/internal/buffer"
	"github.com/edgebridge/otgw/internal/circuitbreaker"
	"github.com/edgebridge/otgw/internal/record"
)

// sinkSession is the subset of sinksession.Session the worker depends
// on, narrowed to an interface so tests can substitute a fake stream
// without standing up a real gRPC connection.
type sinkSession interface {
	Ingest(ctx context.Context, rec record.WireRecord) error
	Flush(ctx context.Context) error
}

// pollInterval bounds how often the worker re-checks the buffer while
// waiting out a dequeue timeout.
const pollInterval = 20 * time.Millisecond

// flushCooldown is the fixed back-off after a failed flush (spec §4.6
// step 5: "back off for a fixed cool-down (e.g., 5s)").
const flushCooldown = 5 * time.Second

// drainGrace bounds how long Stop waits for one last batch to form
// before giving up and flushing whatever was collected.
const drainGrace = 500 * time.Millisecond

// MapFunc projects a canonical record onto the sink's wire schema.
type MapFunc func(record.Record) record.WireRecord

// Config configures one Worker instance.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxSendRPS    float64 // 0 disables rate limiting
}

// Stats are the counters the bridge's status/metrics surface reports.
type Stats struct {
	Flushed  uint64
	Dropped  uint64
	Failures uint64
}

// Worker drains buf, batches records, and flushes them through session
// under breaker's gate. Exactly one Worker runs per bridge (spec §4.6).
type Worker struct {
	buf     *buffer.Buffer
	session sinkSession
	breaker *circuitbreaker.CircuitBreaker
	mapFn   MapFunc
	cfg     Config
	limiter *limiterSet
	logger  *log.Logger

	mu    sync.Mutex
	stats Stats

	done chan struct{}
}

// New constructs a Worker. Callers start it with Run in its own goroutine.
func New(buf *buffer.Buffer, session sinkSession, breaker *circuitbreaker.CircuitBreaker, mapFn MapFunc, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &Worker{
		buf:     buf,
		session: session,
		breaker: breaker,
		mapFn:   mapFn,
		cfg:     cfg,
		limiter: newLimiterSet(cfg.MaxSendRPS),
		logger:  log.New(os.Stderr, "[egress] ", log.LstdFlags),
		done:    make(chan struct{}),
	}
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Run executes the drain-batch-flush loop until ctx is cancelled. On
// cancellation it drains for a grace period and performs a final
// best-effort flush (spec §4.6 Shutdown).
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	batch := make([]record.WireRecord, 0, w.cfg.BatchSize)
	lastFlush := time.Now()

	for {
		select {
		case <-ctx.Done():
			w.drainAndStop(batch)
			return
		default:
		}

		deadline := time.Now().Add(w.cfg.FlushInterval)
		rec, ok := w.dequeueUntil(ctx, deadline)
		if ctx.Err() != nil {
			w.drainAndStop(batch)
			return
		}
		if ok {
			if err := w.limiter.wait(ctx, rec.SourceName); err != nil {
				w.drainAndStop(batch)
				return
			}
			batch = append(batch, w.mapFn(rec))
		}

		shouldFlush := len(batch) >= w.cfg.BatchSize ||
			(len(batch) > 0 && time.Since(lastFlush) >= w.cfg.FlushInterval)
		if !shouldFlush {
			continue
		}

		if err := w.flush(ctx, batch); err != nil {
			w.logger.Printf("flush failed, dropping batch of %d: %v", len(batch), err)
			w.recordFailure(len(batch))
			lastFlush = time.Now()
			batch = batch[:0]
			select {
			case <-ctx.Done():
				return
			case <-time.After(flushCooldown):
			}
			continue
		}

		w.recordSuccess(len(batch))
		batch = batch[:0]
		lastFlush = time.Now()
	}
}

// dequeueUntil polls the buffer until a record is available or deadline
// passes, modeling the "dequeue with timeout = flush_interval" contract.
func (w *Worker) dequeueUntil(ctx context.Context, deadline time.Time) (record.Record, bool) {
	for {
		if rec, ok := w.buf.Dequeue(); ok {
			return rec, true
		}
		if time.Now().After(deadline) {
			return record.Record{}, false
		}
		select {
		case <-ctx.Done():
			return record.Record{}, false
		case <-time.After(pollInterval):
		}
	}
}

// flush ingests every record in batch then awaits acknowledgement, all
// gated by the circuit breaker as a single attempt (spec §4.6 step 4,
// §4.5).
func (w *Worker) flush(ctx context.Context, batch []record.WireRecord) error {
	if len(batch) == 0 {
		return nil
	}
	_, err := w.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		for _, rec := range batch {
			if err := w.session.Ingest(ctx, rec); err != nil {
				return nil, err
			}
		}
		return nil, w.session.Flush(ctx)
	})
	return err
}

func (w *Worker) drainAndStop(batch []record.WireRecord) {
	deadline := time.Now().Add(drainGrace)
	for time.Now().Before(deadline) && len(batch) < w.cfg.BatchSize {
		rec, ok := w.buf.Dequeue()
		if !ok {
			break
		}
		batch = append(batch, w.mapFn(rec))
	}
	if len(batch) == 0 {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), w.cfg.FlushInterval)
	defer cancel()
	if err := w.flush(flushCtx, batch); err != nil {
		w.logger.Printf("final flush failed, dropping batch of %d: %v", len(batch), err)
		w.recordFailure(len(batch))
		return
	}
	w.recordSuccess(len(batch))
}

func (w *Worker) recordSuccess(n int) {
	w.mu.Lock()
	w.stats.Flushed += uint64(n)
	w.mu.Unlock()
}

func (w *Worker) recordFailure(n int) {
	w.mu.Lock()
	w.stats.Failures++
	w.stats.Dropped += uint64(n)
	w.mu.Unlock()
}

// Wait blocks until Run has returned.
func (w *Worker) Wait() {
	<-w.done
}
