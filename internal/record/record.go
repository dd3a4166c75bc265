// Package record defines the Canonical Record: the in-process
// representation of one telemetry datum between ingestion and egress
// serialization, and its on-wire JSON shape for the sink.
package record

import (
	"fmt"
	"time"
)

// ProtocolType tags which source protocol produced a Record.
type ProtocolType string

const (
	ProtocolOPCUA   ProtocolType = "opcua"
	ProtocolMQTT    ProtocolType = "mqtt"
	ProtocolModbus  ProtocolType = "modbus"
)

// Status is the normalized quality of a Record's value.
type Status string

const (
	StatusGood      Status = "good"
	StatusBad       Status = "bad"
	StatusUncertain Status = "uncertain"
)

// ValueType names the tagged-union variant actually present in a Record.
type ValueType string

const (
	ValueBool   ValueType = "bool"
	ValueInt64  ValueType = "int64"
	ValueFloat  ValueType = "float64"
	ValueString ValueType = "string"
	ValueBytes  ValueType = "bytes"
	ValueNull   ValueType = "null"
)

// minValidMicros is the mis-scaling guard from spec §9: timestamps below
// this are almost certainly milliseconds mistakenly stored as
// microseconds, corresponding to 2001-09-09T01:46:40Z.
const minValidMicros int64 = 1_000_000_000_000_000

// Value is the tagged union carried by a Record. Exactly one of the
// typed fields is meaningful; ValueType says which.
type Value struct {
	Type   ValueType
	Bool   bool
	Int64  int64
	Float  float64
	String string
	Bytes  []byte
}

// NumericProjection returns the value's well-defined numeric projection,
// and whether one exists.
func (v Value) NumericProjection() (float64, bool) {
	switch v.Type {
	case ValueInt64:
		return float64(v.Int64), true
	case ValueFloat:
		return v.Float, true
	case ValueBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Record is the Canonical Record (spec §3).
type Record struct {
	EventTimeUs  int64
	IngestTimeUs int64
	SourceName   string
	Endpoint     string
	ProtocolType ProtocolType
	TopicOrPath  string
	Value        Value
	StatusCode   uint32
	Status       Status
	Metadata     map[string]any
}

// LogicalKey is the debugging key from spec §3 — never used for dedup.
func (r Record) LogicalKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", r.SourceName, r.ProtocolType, r.TopicOrPath, r.EventTimeUs)
}

// ValidateTimestamps enforces spec §3's invariant (event_time <=
// ingest_time + epsilon) and §9's mis-scaling guard. It never mutates
// the record; callers decide how to react (typically: emit as
// malformed_payload rather than crash).
func (r Record) ValidateTimestamps(epsilonUs int64) error {
	if r.EventTimeUs < minValidMicros {
		return fmt.Errorf("event_time %d us predates 2001: likely mis-scaled", r.EventTimeUs)
	}
	if r.IngestTimeUs < minValidMicros {
		return fmt.Errorf("ingest_time %d us predates 2001: likely mis-scaled", r.IngestTimeUs)
	}
	if r.EventTimeUs > r.IngestTimeUs+epsilonUs {
		return fmt.Errorf("event_time %d us is after ingest_time %d us (+%d epsilon)", r.EventTimeUs, r.IngestTimeUs, epsilonUs)
	}
	return nil
}

// NowMicros returns the current wall clock in microseconds since epoch,
// the ingress-time unit spec §3 mandates throughout.
func NowMicros() int64 {
	return time.Now().UnixMicro()
}
