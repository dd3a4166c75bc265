package protocolclient

import (
	"context"
	"fmt"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/monitor"
	"github.com/gopcua/opcua/ua"

	"github.com/edgebridge/otgw/internal/record"
)

// OPCUAClient implements Client against an opc.tcp:// server (spec §4.2).
type OPCUAClient struct {
	name              string
	endpoint          string
	browseLimit       int
	publishIntervalMs int

	client *opcua.Client
	sub    *monitor.Subscription
}

// NewOPCUAClient is the protocolclient.Factory for the "opcua" tag.
func NewOPCUAClient(spec SourceSpec) (Client, error) {
	c := &OPCUAClient{
		name:              spec.Name,
		endpoint:          spec.Endpoint,
		browseLimit:       optInt(spec.Options, "browse_limit", 1000),
		publishIntervalMs: optInt(spec.Options, "publish_interval_ms", 1000),
	}
	return c, nil
}

func (c *OPCUAClient) ProtocolType() record.ProtocolType { return record.ProtocolOPCUA }
func (c *OPCUAClient) Endpoint() string                  { return c.endpoint }

func (c *OPCUAClient) Connect(ctx context.Context) error {
	client, err := opcua.NewClient(c.endpoint)
	if err != nil {
		return fmt.Errorf("opcua: build client for %s: %w", c.endpoint, err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("opcua: connect to %s: %w", c.endpoint, err)
	}
	c.client = client
	return nil
}

func (c *OPCUAClient) Disconnect(ctx context.Context) error {
	if c.sub != nil {
		_ = c.sub.Unsubscribe(ctx)
		c.sub = nil
	}
	if c.client == nil {
		return nil
	}
	err := c.client.Close(ctx)
	c.client = nil
	return err
}

// TestConnection connects, attempts a read of the namespace array, then
// disconnects. The server status node is not read; the returned Identity
// carries the endpoint and, when the read succeeds, namespace_0.
func (c *OPCUAClient) TestConnection(ctx context.Context) (Identity, error) {
	if err := c.Connect(ctx); err != nil {
		return Identity{}, err
	}
	defer c.Disconnect(ctx)

	id := Identity{ServerName: c.endpoint, Extra: map[string]string{}}

	if ns, err := c.client.Namespaces(ctx); err == nil && len(ns) > 0 {
		id.Extra["namespace_0"] = ns[0]
	}
	return id, nil
}

// browseVariables walks the Objects folder up to c.browseLimit Variable
// nodes. A production browse would recurse through References; this
// gateway's scope is bounded device trees, so a single-level browse is
// sufficient and kept intentionally simple.
func (c *OPCUAClient) browseVariables(ctx context.Context) ([]*ua.NodeID, error) {
	root := c.client.Node(ua.NewTwoByteNodeID(85)) // ObjectsFolder
	refs, err := root.Children(ctx, id_HasComponent, ua.NodeClassVariable)
	if err != nil {
		return nil, fmt.Errorf("opcua: browse objects folder: %w", err)
	}
	out := make([]*ua.NodeID, 0, len(refs))
	for _, n := range refs {
		if len(out) >= c.browseLimit {
			break
		}
		out = append(out, n.ID)
	}
	return out, nil
}

var id_HasComponent = ua.NewNumericNodeID(0, 47)

// SubscribeOrPoll creates one subscription at the configured publishing
// interval, registers monitored items for the browsed Variable nodes,
// and forwards every data-change notification as a Canonical Record
// until ctx is cancelled or a fatal error occurs.
func (c *OPCUAClient) SubscribeOrPoll(ctx context.Context, emit Emit) error {
	nodes, err := c.browseVariables(ctx)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("opcua: no variable nodes found under Objects folder")
	}

	m, err := monitor.NewNodeMonitor(c.client)
	if err != nil {
		return fmt.Errorf("opcua: build node monitor: %w", err)
	}

	ch := make(chan *monitor.DataChangeMessage, 64)
	sub, err := m.ChanSubscribe(ctx, &opcua.SubscriptionParameters{
		Interval: time.Duration(c.publishIntervalMs) * time.Millisecond,
	}, ch, toMonitorIDs(nodes)...)
	if err != nil {
		return fmt.Errorf("opcua: subscribe: %w", err)
	}
	c.sub = sub
	defer sub.Unsubscribe(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("opcua: subscription channel closed")
			}
			if msg.Error != nil {
				continue
			}
			emit(c.toRecord(msg))
		}
	}
}

func toMonitorIDs(nodes []*ua.NodeID) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.String()
	}
	return out
}

// toRecord maps a data-change notification to a Canonical Record,
// deriving status from the OPC-UA status code (0 -> good, spec §4.2).
func (c *OPCUAClient) toRecord(msg *monitor.DataChangeMessage) record.Record {
	status := record.StatusGood
	var code uint32
	if msg.Value != nil && msg.Value.Status != ua.StatusOK {
		status = record.StatusBad
		code = uint32(msg.Value.Status)
	}

	r := record.Record{
		EventTimeUs:  msg.SourceTimestamp.UnixMicro(),
		IngestTimeUs: record.NowMicros(),
		SourceName:   c.name,
		Endpoint:     c.endpoint,
		ProtocolType: record.ProtocolOPCUA,
		TopicOrPath:  msg.NodeID.String(),
		StatusCode:   code,
		Status:       status,
		Metadata: map[string]any{
			"node_id":   msg.NodeID.String(),
			"namespace": int(msg.NodeID.Namespace()),
		},
	}
	if msg.Value != nil {
		r.Value = variantToValue(msg.Value.Value)
	}
	return r
}

func variantToValue(v *ua.Variant) record.Value {
	if v == nil {
		return record.Value{Type: record.ValueNull}
	}
	switch x := v.Value().(type) {
	case bool:
		return record.Value{Type: record.ValueBool, Bool: x}
	case int64:
		return record.Value{Type: record.ValueInt64, Int64: x}
	case int32:
		return record.Value{Type: record.ValueInt64, Int64: int64(x)}
	case uint32:
		return record.Value{Type: record.ValueInt64, Int64: int64(x)}
	case float64:
		return record.Value{Type: record.ValueFloat, Float: x}
	case float32:
		return record.Value{Type: record.ValueFloat, Float: float64(x)}
	case string:
		return record.Value{Type: record.ValueString, String: x}
	default:
		return record.Value{Type: record.ValueString, String: fmt.Sprintf("%v", x)}
	}
}

func optInt(opts map[string]interface{}, key string, def int) int {
	if opts == nil {
		return def
	}
	switch v := opts[key].(type) {
	case int:
		return v
	default:
		return def
	}
}
