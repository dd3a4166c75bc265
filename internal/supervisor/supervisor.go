// Package supervisor implements the Client Supervisor (spec §4.3): one
// task per source driving its Protocol Client through a lifecycle state
// machine with exponential backoff reconnection.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/edgebridge/otgw/internal/protocolclient"
	"github.com/edgebridge/otgw/internal/record"
)

// State is one of the supervisor lifecycle states (spec §4.3):
// idle -> connecting -> running -> backoff -> (connecting | stopped).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// BackoffConfig tunes the reconnection policy (spec §4.3).
type BackoffConfig struct {
	Initial    time.Duration
	Factor     float64
	Max        time.Duration
	JitterFrac float64 // e.g. 0.10 for ±10%
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    1 * time.Second,
		Factor:     2,
		Max:        300 * time.Second,
		JitterFrac: 0.10,
	}
}

// Supervisor owns exactly one Protocol Client and drives it through
// connect/run/backoff cycles until stopped.
type Supervisor struct {
	sourceName string
	client     protocolclient.Client
	backoff    BackoffConfig
	emit       protocolclient.Emit
	logger     *slog.Logger

	mu           sync.Mutex
	state        State
	currentDelay time.Duration
	lastErr      error
	connectedAt  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Supervisor for one source. emit is forwarded every
// record the client produces while running.
func New(sourceName string, client protocolclient.Client, backoff BackoffConfig, emit protocolclient.Emit, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		sourceName:   sourceName,
		client:       client,
		backoff:      backoff,
		emit:         emit,
		logger:       logger,
		state:        StateIdle,
		currentDelay: backoff.Initial,
	}
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent error observed, if any.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run drives the supervisor loop until ctx is cancelled or Stop is
// called. It blocks; callers typically invoke it from a goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return
		default:
		}

		s.setState(StateConnecting)
		if err := s.client.Connect(ctx); err != nil {
			s.recordError(err)
			if !s.sleepBackoff(ctx) {
				s.setState(StateStopped)
				return
			}
			continue
		}

		s.setState(StateRunning)
		runStart := time.Now()
		err := s.client.SubscribeOrPoll(ctx, s.emit)
		_ = s.client.Disconnect(ctx)

		if ctx.Err() != nil {
			s.setState(StateStopped)
			return
		}

		if err != nil {
			s.recordError(err)
		}

		// spec §4.3: backoff resets to initial on a clean run lasting
		// longer than initial backoff * 2.
		if time.Since(runStart) >= s.backoff.Initial*2 {
			s.mu.Lock()
			s.currentDelay = s.backoff.Initial
			s.mu.Unlock()
		}

		if !s.sleepBackoff(ctx) {
			s.setState(StateStopped)
			return
		}
	}
}

func (s *Supervisor) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.logger.Warn("supervisor: client error", "source", s.sourceName, "error", err)
}

// sleepBackoff waits the current backoff delay (with jitter), then
// advances the delay toward the cap. Returns false if ctx was cancelled
// during the wait.
func (s *Supervisor) sleepBackoff(ctx context.Context) bool {
	s.setState(StateBackoff)

	s.mu.Lock()
	delay := s.currentDelay
	jittered := applyJitter(delay, s.backoff.JitterFrac)
	next := time.Duration(float64(s.currentDelay) * s.backoff.Factor)
	if next > s.backoff.Max {
		next = s.backoff.Max
	}
	s.currentDelay = next
	s.mu.Unlock()

	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * delta // uniform in [-delta, delta]
	jittered := time.Duration(float64(d) + offset)
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}

// Stop cancels the current operation and waits (up to timeout) for the
// run loop's cleanup to finish (spec §4.3 cancellation contract).
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("supervisor: stop for source %q timed out after %s", s.sourceName, timeout)
	}
}

// TestConnection passes through to the supervised client's
// TestConnection. The Bridge does not call it.
func (s *Supervisor) TestConnection(ctx context.Context) (protocolclient.Identity, error) {
	return s.client.TestConnection(ctx)
}

// ProtocolType reports the underlying client's protocol tag.
func (s *Supervisor) ProtocolType() record.ProtocolType {
	return s.client.ProtocolType()
}
