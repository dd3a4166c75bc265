// Package buffer implements the tiered Backpressure Buffer (spec §4.1):
// a bounded in-memory queue in front of an encrypted disk spool, with
// overflow routed to a dead-letter queue. It sits between the Bridge's
// ingress callback and the Batch Egress Worker.
package buffer

import (
	"container/list"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/edgebridge/otgw/internal/errkind"
	"github.com/edgebridge/otgw/internal/record"
)

// DropPolicy selects what happens when both the memory queue and the
// disk spool are saturated (spec §4.1).
type DropPolicy string

const (
	DropNewest DropPolicy = "drop_newest"
	DropOldest DropPolicy = "drop_oldest"
	Reject     DropPolicy = "reject"
)

// EnqueueOutcome reports what happened to a record passed to Enqueue.
type EnqueueOutcome string

const (
	Accepted EnqueueOutcome = "accepted"
	Dropped  EnqueueOutcome = "dropped"
	SentDLQ  EnqueueOutcome = "dlq"
)

// Config configures a Buffer's tiering limits (mirrors
// config.BackpressureConfig, kept separate so this package has no
// dependency on the config package).
type Config struct {
	MaxQueueSize   int
	DropPolicy     DropPolicy
	SpoolEnabled   bool
	SpoolPath      string
	SpoolMaxBytes  int64
	SpoolKeyPath   string
}

// Metrics is a point-in-time snapshot of buffer state (spec §4.1
// metrics(), §6 status() backpressure block).
type Metrics struct {
	MemDepth     int
	MemCapacity  int
	SpoolBytes   int64
	SpoolCapBytes int64
	SpoolFiles   int
	DLQCount     int
	DroppedTotal uint64
}

// Buffer is the tiered memory+spool+DLQ queue. Safe for concurrent
// enqueue from many producers and a single dequeue consumer, per spec
// §4.1's "single consumer" contract.
type Buffer struct {
	mu sync.Mutex

	cfg   Config
	mem   *list.List // of record.Record
	spool *spool

	seqCounter   uint64
	droppedTotal uint64
}

// New constructs a Buffer, loading or generating the spool encryption
// key and rebuilding the spool index if spooling is enabled.
func New(cfg Config) (*Buffer, error) {
	if cfg.MaxQueueSize <= 0 {
		return nil, fmt.Errorf("buffer: max_queue_size must be positive")
	}
	if cfg.DropPolicy == "" {
		cfg.DropPolicy = DropNewest
	}

	b := &Buffer{
		cfg: cfg,
		mem: list.New(),
	}

	if cfg.SpoolEnabled {
		keyPath := cfg.SpoolKeyPath
		if keyPath == "" {
			keyPath = filepath.Join(filepath.Dir(cfg.SpoolPath), "certs", "spool_encryption.key")
		}
		key, err := loadOrCreateKey(keyPath)
		if err != nil {
			return nil, err
		}
		sp, err := newSpool(cfg.SpoolPath, cfg.SpoolMaxBytes, key)
		if err != nil {
			return nil, err
		}
		b.spool = sp
	}

	return b, nil
}

// Enqueue implements the tiering algorithm (spec §4.1): memory first,
// then spool, then the configured drop policy. Non-blocking.
func (b *Buffer) Enqueue(r record.Record) (EnqueueOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mem.Len() < b.cfg.MaxQueueSize {
		b.mem.PushBack(r)
		return Accepted, nil
	}

	if b.spool != nil {
		ingressUs := record.NowMicros()
		approx, err := record.Serialize(r)
		if err != nil {
			_ = b.spool.writeDLQRecord(r, fmt.Sprintf("serialize failed: %v", err))
			return SentDLQ, errkind.Wrap(errkind.SpoolCorrupt, "serialize for spool", err)
		}
		if b.spool.hasRoom(int64(len(approx))) {
			if err := b.spool.write(r, ingressUs); err != nil {
				_ = b.spool.writeDLQRecord(r, fmt.Sprintf("spool write failed: %v", err))
				return SentDLQ, err
			}
			return Accepted, nil
		}
	}

	switch b.cfg.DropPolicy {
	case DropOldest:
		b.mem.Remove(b.mem.Front())
		b.droppedTotal++
		b.mem.PushBack(r)
		return Dropped, nil
	case Reject:
		return Dropped, errkind.New(errkind.BufferOverflow, "buffer saturated, rejecting")
	default: // DropNewest
		b.droppedTotal++
		return Dropped, nil
	}
}

// Dequeue pulls the next record: memory head first, then the oldest
// spool file. Returns ok=false when both tiers are empty.
func (b *Buffer) Dequeue() (record.Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if front := b.mem.Front(); front != nil {
		b.mem.Remove(front)
		return front.Value.(record.Record), true
	}

	if b.spool != nil && b.spool.len() > 0 {
		r, err := b.spool.readHead()
		if err != nil {
			// spool_corrupt already quarantined to DLQ inside readHead;
			// caller retries on the next Dequeue call per spec §4.1.
			return record.Record{}, false
		}
		return r, true
	}

	return record.Record{}, false
}

// SendToDLQ is the explicit consumer-side quarantine path (spec §4.1),
// reserved for non-retriable sink rejections.
func (b *Buffer) SendToDLQ(r record.Record, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spool == nil {
		return fmt.Errorf("buffer: disk spool disabled, cannot write DLQ entry")
	}
	return b.spool.writeDLQRecord(r, reason)
}

// Snapshot returns a point-in-time Metrics snapshot (spec §4.1 metrics()).
func (b *Buffer) Snapshot() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := Metrics{
		MemDepth:     b.mem.Len(),
		MemCapacity:  b.cfg.MaxQueueSize,
		DroppedTotal: b.droppedTotal,
		SpoolCapBytes: b.cfg.SpoolMaxBytes,
	}
	if b.spool != nil {
		m.SpoolBytes = b.spool.bytesUsed()
		m.SpoolFiles = b.spool.len()
		m.DLQCount = b.spool.dlqCount()
	}
	return m
}

// Clear empties the memory queue. Maintenance only (spec §4.1); it does
// not touch the spool or DLQ.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mem.Init()
}
