// Package sinksession implements the Sink Stream Session (spec §4.4):
// one logical streaming connection to the sink bound to a single
// (catalog, schema, table) target, with self-healing reconstruction on
// a known class of fatal stream errors.
package sinksession

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/grpc"

	"github.com/edgebridge/otgw/internal/record"
	"github.com/edgebridge/otgw/internal/sinktransport"
)

// TransportFactory builds a fresh Transport, used both for the initial
// Open and for self-heal reconstruction.
type TransportFactory func() (*sinktransport.Transport, error)

// fatalStatePhrases are the error substrings that indicate the
// underlying stream has entered an unusable state and must be rebuilt
// from scratch rather than retried in place (spec §4.4 self-healing).
var fatalStatePhrases = []string{
	"stream is closed",
	"before it's opened",
	"invalid state",
	"error happened in receiving records",
}

func isFatalState(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range fatalStatePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// Session owns one streaming connection to the sink. Ingest and Flush
// are serialized through mu; rebuildMu guards session re-creation so
// in-flight ingests wait for a rebuild to finish (spec §4.4 Concurrency).
type Session struct {
	newTransport TransportFactory

	mu        sync.Mutex // serializes ingest/flush
	rebuildMu sync.Mutex // guards transport/stream reconstruction

	transport *sinktransport.Transport
	stream    grpc.ClientStream
	pending   int
}

// New constructs a Session. Open must be called before Ingest/Flush.
func New(factory TransportFactory) *Session {
	return &Session{newTransport: factory}
}

// Open constructs the transport and opens the initial stream.
func (s *Session) Open(ctx context.Context) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	return s.openLocked(ctx)
}

func (s *Session) openLocked(ctx context.Context) error {
	t, err := s.newTransport()
	if err != nil {
		return fmt.Errorf("sinksession: build transport: %w", err)
	}
	stream, err := t.OpenStream(ctx)
	if err != nil {
		_ = t.Close()
		return fmt.Errorf("sinksession: open stream: %w", err)
	}
	s.transport = t
	s.stream = stream
	s.pending = 0
	return nil
}

// Ingest submits one wire record onto the stream. On a fatal-state
// error it rebuilds the session and retries exactly once (spec §4.4).
func (s *Session) Ingest(ctx context.Context, rec record.WireRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.stream.SendMsg(&rec)
	if err == nil {
		s.pending++
		return nil
	}
	if !isFatalState(err) {
		return fmt.Errorf("sinksession: ingest: %w", err)
	}

	if rebuildErr := s.rebuild(ctx); rebuildErr != nil {
		return fmt.Errorf("sinksession: ingest: rebuild after fatal state: %w", rebuildErr)
	}
	if err := s.stream.SendMsg(&rec); err != nil {
		return fmt.Errorf("sinksession: ingest retry after rebuild: %w", err)
	}
	s.pending++
	return nil
}

// Flush awaits durable acknowledgement of every outstanding Ingest call
// made since the last successful Flush.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.drainAcks(); err != nil {
		if !isFatalState(err) {
			return fmt.Errorf("sinksession: flush: %w", err)
		}
		if rebuildErr := s.rebuild(ctx); rebuildErr != nil {
			return fmt.Errorf("sinksession: flush: rebuild after fatal state: %w", rebuildErr)
		}
		// The batch that failed to ack was lost with the old stream;
		// the caller (egress worker) treats this flush as failed and
		// drops the batch per spec §4.6 step 5.
		return fmt.Errorf("sinksession: flush: %w", err)
	}
	return nil
}

func (s *Session) drainAcks() error {
	var ack struct{}
	for s.pending > 0 {
		if err := s.stream.RecvMsg(&ack); err != nil {
			return err
		}
		s.pending--
	}
	return nil
}

// rebuild closes the old transport and reconstructs it from scratch.
// Callers must already hold mu; rebuild acquires rebuildMu so
// concurrent Ingest/Flush calls on other goroutines (there should be at
// most one, per spec §4.4, but the mutex is defensive) wait for the
// rebuild to finish.
func (s *Session) rebuild(ctx context.Context) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	if s.transport != nil {
		_ = s.transport.Close()
	}
	return s.openLocked(ctx)
}

// Close gracefully drains and shuts down the session.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending > 0 {
		_ = s.drainAcks()
	}
	if cs, ok := s.stream.(interface{ CloseSend() error }); ok {
		_ = cs.CloseSend()
	}
	if s.transport == nil {
		return nil
	}
	return s.transport.Close()
}
