package record

import "encoding/json"

// spoolRecord is the on-disk shape for spool playback — the full
// Canonical Record (not the sink wire projection), so a record can be
// re-read, re-validated, and re-mapped exactly as if it had just come
// off the protocol client.
type spoolRecord struct {
	EventTimeUs  int64          `json:"event_time_us"`
	IngestTimeUs int64          `json:"ingest_time_us"`
	SourceName   string         `json:"source_name"`
	Endpoint     string         `json:"endpoint"`
	ProtocolType ProtocolType   `json:"protocol_type"`
	TopicOrPath  string         `json:"topic_or_path"`
	ValueType    ValueType      `json:"value_type"`
	ValueBool    bool           `json:"value_bool,omitempty"`
	ValueInt64   int64          `json:"value_int64,omitempty"`
	ValueFloat   float64        `json:"value_float,omitempty"`
	ValueString  string         `json:"value_string,omitempty"`
	ValueBytes   []byte         `json:"value_bytes,omitempty"`
	StatusCode   uint32         `json:"status_code"`
	Status       Status         `json:"status"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Serialize encodes a Record for spool storage, prior to AEAD encryption.
func Serialize(r Record) ([]byte, error) {
	sr := spoolRecord{
		EventTimeUs:  r.EventTimeUs,
		IngestTimeUs: r.IngestTimeUs,
		SourceName:   r.SourceName,
		Endpoint:     r.Endpoint,
		ProtocolType: r.ProtocolType,
		TopicOrPath:  r.TopicOrPath,
		ValueType:    r.Value.Type,
		ValueBool:    r.Value.Bool,
		ValueInt64:   r.Value.Int64,
		ValueFloat:   r.Value.Float,
		ValueString:  r.Value.String,
		ValueBytes:   r.Value.Bytes,
		StatusCode:   r.StatusCode,
		Status:       r.Status,
		Metadata:     r.Metadata,
	}
	return json.Marshal(sr)
}

// Deserialize reverses Serialize, after AEAD decryption.
func Deserialize(data []byte) (Record, error) {
	var sr spoolRecord
	if err := json.Unmarshal(data, &sr); err != nil {
		return Record{}, err
	}
	return Record{
		EventTimeUs:  sr.EventTimeUs,
		IngestTimeUs: sr.IngestTimeUs,
		SourceName:   sr.SourceName,
		Endpoint:     sr.Endpoint,
		ProtocolType: sr.ProtocolType,
		TopicOrPath:  sr.TopicOrPath,
		Value: Value{
			Type:   sr.ValueType,
			Bool:   sr.ValueBool,
			Int64:  sr.ValueInt64,
			Float:  sr.ValueFloat,
			String: sr.ValueString,
			Bytes:  sr.ValueBytes,
		},
		StatusCode: sr.StatusCode,
		Status:     sr.Status,
		Metadata:   sr.Metadata,
	}, nil
}
