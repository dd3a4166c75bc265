package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebridge/otgw/internal/config"
	"github.com/edgebridge/otgw/internal/protocolclient"
	"github.com/edgebridge/otgw/internal/record"
	"github.com/edgebridge/otgw/internal/sinksession"
	"github.com/edgebridge/otgw/internal/sinktransport"
)

// fakeClient is a minimal protocolclient.Client that emits one record
// then blocks until its context is cancelled, simulating a healthy
// long-lived subscription without any real network endpoint.
type fakeClient struct {
	connectErr error
	emitted    chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{emitted: make(chan struct{}, 1)}
}

func (f *fakeClient) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeClient) SubscribeOrPoll(ctx context.Context, emit protocolclient.Emit) error {
	now := record.NowMicros()
	emit(record.Record{
		EventTimeUs:  now,
		IngestTimeUs: now,
		SourceName:   "test-source",
		ProtocolType: record.ProtocolType("fake"),
		TopicOrPath:  "tag1",
		Value:        record.Value{},
		Status:       record.StatusGood,
	})
	select {
	case f.emitted <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeClient) Disconnect(ctx context.Context) error { return nil }

func (f *fakeClient) TestConnection(ctx context.Context) (protocolclient.Identity, error) {
	return protocolclient.Identity{ServerName: "fake"}, nil
}

func (f *fakeClient) ProtocolType() record.ProtocolType { return record.ProtocolType("fake") }
func (f *fakeClient) Endpoint() string                  { return "fake://local" }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Admin.ListenAddr = "127.0.0.1:0"
	cfg.Backpressure.MemoryQueue.MaxSize = 100
	cfg.Backpressure.MemoryQueue.DropPolicy = "drop_newest"
	cfg.Zerobus.Enabled = false
	return cfg
}

func newTestBridge(t *testing.T) (*Bridge, *fakeClient) {
	t.Helper()
	cfg := testConfig()
	cfg.Sources = []config.SourceConfig{
		{Name: "test-source", Protocol: "fake", Endpoint: "fake://local", Enabled: true},
	}
	b := New(cfg, nil)
	client := newFakeClient()
	b.RegisterProtocol("fake", func(spec protocolclient.SourceSpec) (protocolclient.Client, error) {
		return client, nil
	})
	return b, client
}

func TestStartRunsSourceSupervisorAndStop(t *testing.T) {
	b, client := newTestBridge(t)
	ctx := context.Background()

	require.NoError(t, b.Start(ctx))

	select {
	case <-client.emitted:
	case <-time.After(time.Second):
		t.Fatal("fake client never emitted")
	}

	status := b.Status()
	assert.Equal(t, []string{"test-source"}, status.ActiveSources)
	assert.False(t, status.ZerobusConnected)
	assert.Equal(t, "closed", status.CircuitBreakerState)

	require.NoError(t, b.Stop(ctx))
	assert.Empty(t, b.Status().ActiveSources)
}

func TestStartRejectsDoubleStart(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	err := b.Start(ctx)
	assert.Error(t, err)
}

func TestAddSourceRejectsDuplicateName(t *testing.T) {
	b, _ := newTestBridge(t)
	err := b.AddSource(config.SourceConfig{Name: "test-source", Protocol: "fake"})
	assert.Error(t, err)
}

func TestAddSourceStartsImmediatelyWhenRunning(t *testing.T) {
	b := New(testConfig(), nil)
	b.RegisterProtocol("fake", func(spec protocolclient.SourceSpec) (protocolclient.Client, error) {
		return newFakeClient(), nil
	})
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	require.NoError(t, b.AddSource(config.SourceConfig{Name: "added", Protocol: "fake", Enabled: true}))

	assert.Eventually(t, func() bool {
		status := b.Status()
		for _, s := range status.ActiveSources {
			if s == "added" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestRemoveSourceStopsSupervisor(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	require.NoError(t, b.RemoveSource("test-source"))
	assert.Empty(t, b.Status().ActiveSources)
	assert.Empty(t, b.cfg.Sources)
}

func TestStatusReflectsBackpressureSnapshot(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	status := b.Status()
	assert.Equal(t, 100, status.Backpressure.MemCapacity)
}

func TestDisableSinkIsNoopWhenNotEnabled(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	assert.NoError(t, b.DisableSink(ctx))
}

// TestDisableSinkStopsWorkerWithoutDeadlock pins DisableSink's fix: it
// must cancel the sink's own sub-context before waiting on workerDone,
// otherwise the wait (taken under b.mu) never completes because nothing
// else cancels the egress worker's context.
func TestDisableSinkStopsWorkerWithoutDeadlock(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	sinkCtx, sinkCancel := context.WithCancel(b.runCtx)
	workerDone := make(chan struct{})

	b.mu.Lock()
	b.session = sinksession.New(func() (*sinktransport.Transport, error) {
		return nil, errors.New("rebuild not expected in this test")
	})
	b.sinkCancel = sinkCancel
	b.workerDone = workerDone
	b.mu.Unlock()

	// Simulates the egress worker goroutine started by startSinkLocked:
	// it only exits once its sub-context is cancelled.
	go func() {
		<-sinkCtx.Done()
		close(workerDone)
	}()

	disableDone := make(chan error, 1)
	go func() { disableDone <- b.DisableSink(ctx) }()

	select {
	case err := <-disableDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("DisableSink deadlocked waiting on workerDone")
	}
}

// TestEmitRejectsMalformedTimestamp pins the timestamp mis-scaling
// guard (spec §9) at the protocol-client boundary: a record with an
// event_time that predates 2001 must be dropped, never enqueued.
func TestEmitRejectsMalformedTimestamp(t *testing.T) {
	b := New(testConfig(), nil) // no configured sources: buffer activity is only what this test drives
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	emit := b.emit("direct-test")
	emit(record.Record{
		EventTimeUs:  1_000_000, // well below minValidMicros
		IngestTimeUs: record.NowMicros(),
		SourceName:   "direct-test",
		ProtocolType: record.ProtocolType("fake"),
		TopicOrPath:  "tag1",
		Status:       record.StatusGood,
	})

	assert.Equal(t, 0, b.buf.Snapshot().MemDepth)
}

func TestEmitAcceptsValidTimestamp(t *testing.T) {
	b := New(testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	before := b.buf.Snapshot().MemDepth
	now := record.NowMicros()
	emit := b.emit("direct-test")
	emit(record.Record{
		EventTimeUs:  now,
		IngestTimeUs: now,
		SourceName:   "direct-test",
		ProtocolType: record.ProtocolType("fake"),
		TopicOrPath:  "tag1",
		Status:       record.StatusGood,
	})

	assert.Equal(t, before+1, b.buf.Snapshot().MemDepth)
}

// TestStatusExposesBreakerCounts pins the circuit breaker's Counts()
// being surfaced through the admin status payload instead of sitting
// unused (spec §4.5 / §6).
func TestStatusExposesBreakerCounts(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	metrics := b.Status().Metrics
	assert.Contains(t, metrics, "breaker_requests")
	assert.Contains(t, metrics, "breaker_consecutive_failures")
	assert.Contains(t, metrics, "breaker_total_failures")
}

func TestStartFailsGracefullyWhenSourceFactoryMissing(t *testing.T) {
	cfg := testConfig()
	cfg.Sources = []config.SourceConfig{
		{Name: "unregistered", Protocol: "nope", Enabled: true},
	}
	b := New(cfg, nil)
	ctx := context.Background()

	// startSourceLocked errors are logged, not fatal to Start.
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)
	assert.Empty(t, b.Status().ActiveSources)
}
