package adminserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStatus() Status {
	return Status{
		ActiveSources:       []string{"plc1", "plc2"},
		ZerobusConnected:    true,
		CircuitBreakerState: "closed",
		Backpressure: BackpressureStats{
			MemDepth: 3, MemCapacity: 1000, SpoolBytes: 0, SpoolCap: 1 << 20, DLQCount: 0,
		},
		Metrics: map[string]any{"records_ingested": 42},
	}
}

func TestHandleStatusReturnsJSON(t *testing.T) {
	srv := New(":0", ProviderFunc(testStatus), nil, nil)
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, []string{"plc1", "plc2"}, got.ActiveSources)
	assert.True(t, got.ZerobusConnected)
	assert.Equal(t, "closed", got.CircuitBreakerState)
}

func TestHandleHealthz(t *testing.T) {
	srv := New(":0", ProviderFunc(testStatus), nil, nil)
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "otgw_test_counter"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := New(":0", ProviderFunc(testStatus), reg, nil)
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpointAbsentWithoutRegistry(t *testing.T) {
	srv := New(":0", ProviderFunc(testStatus), nil, nil)
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleDiscoverRequiresQueryParams(t *testing.T) {
	srv := New(":0", ProviderFunc(testStatus), nil, nil)
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/discover")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleDiscoverUnknownProtocolReportsErrorField(t *testing.T) {
	srv := New(":0", ProviderFunc(testStatus), nil, nil)
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/discover?protocol=bacnet&endpoint=10.0.0.1:47808")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Candidates []interface{} `json:"candidates"`
		Error      string        `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.NotEmpty(t, got.Error)
	assert.Empty(t, got.Candidates)
}

func TestWebSocketPushesSnapshot(t *testing.T) {
	srv := New(":0", ProviderFunc(testStatus), nil, nil)
	ts := httptest.NewServer(srv.router())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.run(ctx)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Let the hub register the client before publishing.
	time.Sleep(20 * time.Millisecond)
	srv.hub.publish(testStatus())

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Status
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, []string{"plc1", "plc2"}, got.ActiveSources)
}
