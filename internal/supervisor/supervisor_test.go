package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgebridge/otgw/internal/protocolclient"
	"github.com/edgebridge/otgw/internal/record"
)

// fakeClient is a minimal protocolclient.Client for exercising the
// supervisor's state machine without a real protocol.
type fakeClient struct {
	connectErr atomic.Value // error
	mu         sync.Mutex
	connected  bool
	runFunc    func(ctx context.Context, emit protocolclient.Emit) error
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if v := f.connectErr.Load(); v != nil {
		if err, ok := v.(error); ok && err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) SubscribeOrPoll(ctx context.Context, emit protocolclient.Emit) error {
	if f.runFunc != nil {
		return f.runFunc(ctx, emit)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeClient) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) TestConnection(ctx context.Context) (protocolclient.Identity, error) {
	return protocolclient.Identity{}, nil
}

func (f *fakeClient) ProtocolType() record.ProtocolType { return record.ProtocolMQTT }
func (f *fakeClient) Endpoint() string                  { return "fake://endpoint" }

func TestSupervisorReachesRunningAndStopsCleanly(t *testing.T) {
	client := &fakeClient{}
	s := New("src1", client, DefaultBackoffConfig(), func(record.Record) {}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Run(ctx)

	require.Eventually(t, func() bool {
		return s.State() == StateRunning
	}, time.Second, 5*time.Millisecond)

	err := s.Stop(time.Second)
	assert.NoError(t, err)
	assert.Equal(t, StateStopped, s.State())
}

func TestSupervisorBackoffOnConnectFailure(t *testing.T) {
	client := &fakeClient{}
	client.connectErr.Store(fmt.Errorf("connection refused"))

	cfg := BackoffConfig{Initial: 10 * time.Millisecond, Factor: 2, Max: time.Second, JitterFrac: 0}
	s := New("src1", client, cfg, func(record.Record) {}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		return s.LastError() != nil
	}, time.Second, 5*time.Millisecond)

	assert.Error(t, s.LastError())
	_ = s.Stop(time.Second)
}

func TestSupervisorEmitsRecords(t *testing.T) {
	client := &fakeClient{
		runFunc: func(ctx context.Context, emit protocolclient.Emit) error {
			emit(record.Record{SourceName: "src1", Value: record.Value{Type: record.ValueInt64, Int64: 1}})
			<-ctx.Done()
			return nil
		},
	}

	var got []record.Record
	var mu sync.Mutex
	s := New("src1", client, DefaultBackoffConfig(), func(r record.Record) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	_ = s.Stop(time.Second)
}
