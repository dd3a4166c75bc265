package adminserver

// Status is the read-only snapshot returned by the admin/status surface
// (spec §6: "status() returns {active_sources, zerobus_connected,
// circuit_breaker_state, backpressure:{...}, metrics:{...}}").
type Status struct {
	ActiveSources       []string          `json:"active_sources"`
	ZerobusConnected    bool              `json:"zerobus_connected"`
	CircuitBreakerState string            `json:"circuit_breaker_state"` // closed, half_open, open
	Backpressure        BackpressureStats `json:"backpressure"`
	Metrics             map[string]any    `json:"metrics"`
}

// BackpressureStats mirrors buffer.Metrics in the admin surface's wire shape.
type BackpressureStats struct {
	MemDepth    int   `json:"mem_depth"`
	MemCapacity int   `json:"mem_capacity"`
	SpoolBytes  int64 `json:"spool_bytes"`
	SpoolCap    int64 `json:"spool_cap_bytes"`
	DLQCount    int   `json:"dlq_count"`
}

// Provider supplies the current Status snapshot. Implemented by the bridge.
type Provider interface {
	Status() Status
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func() Status

func (f ProviderFunc) Status() Status { return f() }
