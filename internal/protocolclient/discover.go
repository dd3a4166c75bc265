package protocolclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gopcua/opcua"

	"github.com/edgebridge/otgw/internal/record"
)

// Candidate is one best-effort discovery result the admin surface can
// offer an operator as a pre-filled add_source proposal (spec §5).
type Candidate struct {
	Protocol    record.ProtocolType
	Endpoint    string
	ServerName  string
	Description string
}

// Discover probes endpoint for the given protocol tag and returns
// whatever candidates it can find within timeout. It is best-effort by
// design: a failed or empty probe is not an error condition the caller
// needs to surface loudly, since discovery never gates startup and the
// operator can always add_source by hand.
func Discover(ctx context.Context, protocol string, endpoint string, timeout time.Duration) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch protocol {
	case "opcua":
		return discoverOPCUA(ctx, endpoint)
	case "mqtt":
		return discoverMQTT(ctx, endpoint)
	case "modbus":
		return discoverModbus(ctx, endpoint)
	default:
		return nil, fmt.Errorf("protocolclient: discover: unknown protocol %q", protocol)
	}
}

// discoverOPCUA asks the server at endpoint for its published endpoint
// descriptions via the standard GetEndpoints service, which (unlike
// Connect) requires no session and is safe to call against an unknown
// or unauthenticated server.
func discoverOPCUA(ctx context.Context, endpoint string) ([]Candidate, error) {
	endpoints, err := opcua.GetEndpoints(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("opcua: get endpoints from %s: %w", endpoint, err)
	}

	out := make([]Candidate, 0, len(endpoints))
	for _, ep := range endpoints {
		name := endpoint
		if ep.Server != nil && ep.Server.ApplicationName != nil {
			name = ep.Server.ApplicationName.Text
		}
		out = append(out, Candidate{
			Protocol:    record.ProtocolOPCUA,
			Endpoint:    ep.EndpointURL,
			ServerName:  name,
			Description: string(ep.SecurityPolicyURI),
		})
	}
	return out, nil
}

// discoverMQTT has no standard broker discovery mechanism to query; the
// best this gateway can honestly do is confirm the broker is reachable
// and offer the endpoint back as a single candidate. Topic filters are
// configuration the operator supplies, not something a broker publishes.
func discoverMQTT(ctx context.Context, endpoint string) ([]Candidate, error) {
	host, err := dialable(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return []Candidate{{
		Protocol:    record.ProtocolMQTT,
		Endpoint:    endpoint,
		ServerName:  host,
		Description: "broker reachable, topic filters must be configured manually",
	}}, nil
}

// discoverModbus has no device-identification service this gateway
// implements (Modbus's own Read Device Identification function is
// optional and inconsistently supported), so discovery is reduced to a
// reachability probe, same rationale as discoverMQTT.
func discoverModbus(ctx context.Context, endpoint string) ([]Candidate, error) {
	host, err := dialable(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return []Candidate{{
		Protocol:    record.ProtocolModbus,
		Endpoint:    endpoint,
		ServerName:  host,
		Description: "device reachable, register map must be configured manually",
	}}, nil
}

func dialable(ctx context.Context, addr string) (string, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	return addr, nil
}
