package protocolclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenTCP(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return l.Addr().String()
}

func TestDiscoverMQTTReturnsCandidateWhenReachable(t *testing.T) {
	addr := listenTCP(t)
	cands, err := Discover(context.Background(), "mqtt", addr, time.Second)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, addr, cands[0].Endpoint)
}

func TestDiscoverMQTTErrorsWhenUnreachable(t *testing.T) {
	_, err := Discover(context.Background(), "mqtt", "127.0.0.1:1", 200*time.Millisecond)
	assert.Error(t, err)
}

func TestDiscoverModbusReturnsCandidateWhenReachable(t *testing.T) {
	addr := listenTCP(t)
	cands, err := Discover(context.Background(), "modbus", addr, time.Second)
	require.NoError(t, err)
	require.Len(t, cands, 1)
}

func TestDiscoverUnknownProtocol(t *testing.T) {
	_, err := Discover(context.Background(), "bacnet", "127.0.0.1:502", time.Second)
	assert.Error(t, err)
}
