package protocolclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgebridge/otgw/internal/record"
)

// payloadFormat is the declared decode mode for a topic filter (spec §4.2).
type payloadFormat string

const (
	formatAuto   payloadFormat = "auto"
	formatJSON   payloadFormat = "json"
	formatString payloadFormat = "string"
	formatBytes  payloadFormat = "bytes"
)

// MQTTClient implements Client against an mqtt(s):// broker (spec §4.2).
type MQTTClient struct {
	name        string
	endpoint    string
	topics      map[string]byte // topic filter -> QoS
	format      payloadFormat
	valueField  string
	tlsConfig   *tls.Config

	opts   *mqtt.ClientOptions
	client mqtt.Client
}

// NewMQTTClient is the protocolclient.Factory for the "mqtt" tag.
func NewMQTTClient(spec SourceSpec) (Client, error) {
	c := &MQTTClient{
		name:       spec.Name,
		endpoint:   spec.Endpoint,
		topics:     optTopics(spec.Options),
		format:     payloadFormat(optString(spec.Options, "format", string(formatAuto))),
		valueField: optString(spec.Options, "value_field", "value"),
	}

	if sec, ok := spec.Options["security"].(map[string]interface{}); ok {
		tlsCfg, err := buildTLSConfig(sec)
		if err != nil {
			return nil, fmt.Errorf("mqtt: tls config: %w", err)
		}
		c.tlsConfig = tlsCfg
	}
	return c, nil
}

func (c *MQTTClient) ProtocolType() record.ProtocolType { return record.ProtocolMQTT }
func (c *MQTTClient) Endpoint() string                  { return c.endpoint }

func (c *MQTTClient) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.endpoint).
		SetClientID(fmt.Sprintf("otgw-%s", c.name)).
		SetAutoReconnect(false). // reconnection is the supervisor's job, spec §4.2
		SetConnectTimeout(10 * time.Second)
	if c.tlsConfig != nil {
		opts.SetTLSConfig(c.tlsConfig)
	}
	c.opts = opts

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("mqtt: connect to %s timed out", c.endpoint)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect to %s: %w", c.endpoint, err)
	}
	c.client = client
	return nil
}

func (c *MQTTClient) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(250)
	c.client = nil
	return nil
}

func (c *MQTTClient) TestConnection(ctx context.Context) (Identity, error) {
	if err := c.Connect(ctx); err != nil {
		return Identity{}, err
	}
	defer c.Disconnect(ctx)
	return Identity{ServerName: c.endpoint}, nil
}

// SubscribeOrPoll subscribes to every configured topic filter and
// forwards each message as a Canonical Record until ctx is cancelled.
func (c *MQTTClient) SubscribeOrPoll(ctx context.Context, emit Emit) error {
	msgCh := make(chan mqtt.Message, 256)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case msgCh <- msg:
		default:
			// downstream backpressure buffer is the authority on drop
			// policy; this channel only protects the paho callback from
			// blocking indefinitely.
		}
	}

	for topic, qos := range c.topics {
		token := c.client.Subscribe(topic, qos, handler)
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("mqtt: subscribe to %s timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt: subscribe to %s: %w", topic, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			for topic := range c.topics {
				c.client.Unsubscribe(topic)
			}
			return nil
		case msg := <-msgCh:
			emit(c.toRecord(msg))
		}
	}
}

func (c *MQTTClient) toRecord(msg mqtt.Message) record.Record {
	r := record.Record{
		EventTimeUs:  record.NowMicros(),
		IngestTimeUs: record.NowMicros(),
		SourceName:   c.name,
		Endpoint:     c.endpoint,
		ProtocolType: record.ProtocolMQTT,
		TopicOrPath:  msg.Topic(),
		Status:       record.StatusGood,
	}

	v, err := c.decodePayload(msg.Payload())
	if err != nil {
		r.Status = record.StatusBad
		r.Metadata = map[string]any{"decode_error": err.Error()}
		r.Value = record.Value{Type: record.ValueNull}
		return r
	}
	r.Value = v
	return r
}

func (c *MQTTClient) decodePayload(payload []byte) (record.Value, error) {
	format := c.format
	if format == formatAuto {
		format = detectFormat(payload)
	}

	switch format {
	case formatJSON:
		var m map[string]interface{}
		if err := json.Unmarshal(payload, &m); err != nil {
			return record.Value{}, fmt.Errorf("decode json payload: %w", err)
		}
		if raw, ok := m[c.valueField]; ok {
			return jsonValueToRecordValue(raw), nil
		}
		return record.Value{Type: record.ValueString, String: string(payload)}, nil
	case formatBytes:
		return record.Value{Type: record.ValueBytes, Bytes: payload}, nil
	default: // formatString
		return record.Value{Type: record.ValueString, String: string(payload)}, nil
	}
}

func detectFormat(payload []byte) payloadFormat {
	var js json.RawMessage
	if json.Unmarshal(payload, &js) == nil {
		return formatJSON
	}
	return formatString
}

func jsonValueToRecordValue(raw interface{}) record.Value {
	switch v := raw.(type) {
	case bool:
		return record.Value{Type: record.ValueBool, Bool: v}
	case float64:
		return record.Value{Type: record.ValueFloat, Float: v}
	case string:
		return record.Value{Type: record.ValueString, String: v}
	default:
		b, _ := json.Marshal(v)
		return record.Value{Type: record.ValueString, String: string(b)}
	}
}

func buildTLSConfig(sec map[string]interface{}) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if caPath, ok := sec["ca_path"].(string); ok && caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse ca cert at %s", caPath)
		}
		cfg.RootCAs = pool
	}

	certPath, certOK := sec["client_cert_path"].(string)
	keyPath, keyOK := sec["client_key_path"].(string)
	if certOK && keyOK && certPath != "" && keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load client keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if skipVerify, ok := sec["skip_hostname_check"].(bool); ok {
		cfg.InsecureSkipVerify = skipVerify
	}

	return cfg, nil
}

func optTopics(opts map[string]interface{}) map[string]byte {
	out := make(map[string]byte)
	raw, ok := opts["topics"].([]interface{})
	if !ok {
		return out
	}
	for _, t := range raw {
		spec, ok := t.(map[string]interface{})
		if !ok {
			continue
		}
		filter, _ := spec["filter"].(string)
		if filter == "" {
			continue
		}
		qos := 0
		if q, ok := spec["qos"].(int); ok {
			qos = q
		}
		out[filter] = byte(qos)
	}
	return out
}

func optString(opts map[string]interface{}, key, def string) string {
	if opts == nil {
		return def
	}
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return def
}
