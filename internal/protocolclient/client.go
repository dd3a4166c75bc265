// Package protocolclient implements the polymorphic Protocol Client
// (spec §4.2): the OPC-UA, MQTT, and Modbus source adapters, unified
// behind one capability interface so the Client Supervisor can drive
// any of them identically.
package protocolclient

import (
	"context"

	"github.com/edgebridge/otgw/internal/record"
)

// Emit is called by a Client for each Canonical Record it produces
// while subscribed/polling. It must not block for long; callers
// typically wrap a non-blocking buffer.Enqueue.
type Emit func(record.Record)

// Identity is the best-effort server identity returned by TestConnection.
type Identity struct {
	ServerName    string
	ServerVersion string
	Extra         map[string]string
}

// Client is the capability set every protocol variant implements (spec
// §4.2): connect, subscribe_or_poll, disconnect, test_connection,
// protocol_type, endpoint.
//
// Common contract: blocking calls inside a Client suspend cooperatively
// and own no goroutines beyond the call itself — reconnection is the
// Supervisor's job, not the Client's. On a fatal error the Client
// returns an fmt.Errorf-wrapped error from SubscribeOrPoll (not an
// errkind.Error) and does not attempt to reconnect.
type Client interface {
	Connect(ctx context.Context) error
	SubscribeOrPoll(ctx context.Context, emit Emit) error
	Disconnect(ctx context.Context) error
	TestConnection(ctx context.Context) (Identity, error)
	ProtocolType() record.ProtocolType
	Endpoint() string
}

// SourceSpec is the fully-resolved configuration for one source,
// projected from config.SourceConfig's generic Options map into each
// variant's typed shape by that variant's Factory.
type SourceSpec struct {
	Name     string
	Endpoint string
	Options  map[string]interface{}
}
