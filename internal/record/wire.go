package record

import "encoding/json"

// WireRecord is the canonical sink schema (spec §6), JSON mode. Numeric
// timestamps are microseconds since Unix epoch — the sink interprets
// lesser units as 1970 dates, which is the canonical bug source this
// shape exists to prevent.
type WireRecord struct {
	EventTime  int64    `json:"event_time"`
	IngestTime int64    `json:"ingest_time"`
	SourceName string   `json:"source_name"`
	Endpoint   string   `json:"endpoint"`
	Namespace  int      `json:"namespace"`
	NodeID     string   `json:"node_id"`
	BrowsePath string   `json:"browse_path"`
	StatusCode uint32   `json:"status_code"`
	Status     string   `json:"status"`
	ValueType  string   `json:"value_type"`
	Value      string   `json:"value"`
	ValueNum   *float64 `json:"value_num,omitempty"`
	Raw        []byte   `json:"raw"`
	PLCName    string   `json:"plc_name"`
	PLCVendor  string   `json:"plc_vendor"`
	PLCModel   string   `json:"plc_model"`
}

// ToWire maps a Canonical Record to its sink wire shape. plcName/vendor/
// model come from the source descriptor's protocol_config metadata
// (mapping is opaque per spec §1 — "Tag-normalization mappers ... are
// out of scope"); this is the mechanical field projection only, not a
// normalization transform.
func ToWire(r Record, plcName, plcVendor, plcModel string) WireRecord {
	w := WireRecord{
		EventTime:  r.EventTimeUs,
		IngestTime: r.IngestTimeUs,
		SourceName: r.SourceName,
		Endpoint:   r.Endpoint,
		BrowsePath: r.TopicOrPath,
		StatusCode: r.StatusCode,
		Status:     string(r.Status),
		ValueType:  string(r.Value.Type),
		PLCName:    plcName,
		PLCVendor:  plcVendor,
		PLCModel:   plcModel,
	}

	if ns, ok := r.Metadata["namespace"].(int); ok {
		w.Namespace = ns
	}
	if nodeID, ok := r.Metadata["node_id"].(string); ok {
		w.NodeID = nodeID
	}

	if num, ok := r.Value.NumericProjection(); ok {
		v := num
		w.ValueNum = &v
	}

	switch r.Value.Type {
	case ValueBytes:
		w.Raw = r.Value.Bytes
	default:
		w.Value = valueString(r.Value)
	}

	return w
}

func valueString(v Value) string {
	switch v.Type {
	case ValueBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case ValueInt64:
		b, _ := json.Marshal(v.Int64)
		return string(b)
	case ValueFloat:
		b, _ := json.Marshal(v.Float)
		return string(b)
	case ValueString:
		return v.String
	case ValueBytes:
		return ""
	default:
		return ""
	}
}
