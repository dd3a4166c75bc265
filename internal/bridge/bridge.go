// Package bridge composes the gateway's components into the single
// top-level object the admin plane and process entrypoint drive (spec
// §4.8): buffer, protocol clients + supervisors, sink session +
// transport, circuit breaker, egress worker, token manager, and the
// admin/telemetry surfaces.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgebridge/otgw/internal/adminserver"
	"github.com/edgebridge/otgw/internal/buffer"
	"github.com/edgebridge/otgw/internal/circuitbreaker"
	"github.com/edgebridge/otgw/internal/config"
	"github.com/edgebridge/otgw/internal/egress"
	"github.com/edgebridge/otgw/internal/errkind"
	"github.com/edgebridge/otgw/internal/protocolclient"
	"github.com/edgebridge/otgw/internal/record"
	"github.com/edgebridge/otgw/internal/sinksession"
	"github.com/edgebridge/otgw/internal/sinktransport"
	"github.com/edgebridge/otgw/internal/supervisor"
	"github.com/edgebridge/otgw/internal/telemetry"
	"github.com/edgebridge/otgw/internal/tokenmanager"
)

// breakerFailureThreshold and breakerCooldown are the sink breaker's
// trip rule (spec §4.5): consecutive failures before opening, and how
// long it stays open before allowing a single half-open probe.
const (
	breakerFailureThreshold = 5
	breakerCooldown         = 30 * time.Second
)

// timestampEpsilon is the clock-skew allowance for event_time <=
// ingest_time + epsilon (spec §3's timestamp invariant).
const timestampEpsilon = 5 * time.Second

type sourceRuntime struct {
	spec       protocolclient.SourceSpec
	protocol   string
	client     protocolclient.Client
	supervisor *supervisor.Supervisor
	cancel     context.CancelFunc
}

// Bridge is the gateway's composition root.
type Bridge struct {
	clients  *protocolclient.Registry
	promReg  *prometheus.Registry
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	cfg     *config.Config
	buf     *buffer.Buffer
	breaker *circuitbreaker.CircuitBreaker
	tokens  *tokenmanager.Manager
	session *sinksession.Session
	worker  *egress.Worker

	sources map[string]*sourceRuntime

	running    bool
	runCtx     context.Context
	runCancel  context.CancelFunc
	sinkCancel context.CancelFunc
	workerDone chan struct{}
	admin      *adminserver.Server
	adminDone  chan struct{}
	mirror     *telemetry.Mirror
	mirrorDone chan struct{}
}

// New constructs a Bridge from a resolved, validated config. Credential
// resolution (spec §6 ${credential:key} references) happens before this
// call, typically via config.Manager, so the Bridge itself never needs
// a credstore.Store.
func New(cfg *config.Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	return &Bridge{
		clients: protocolclient.Default(),
		promReg: reg,
		metrics: telemetry.NewWithRegisterer(reg),
		logger:  logger,
		cfg:     cfg,
		sources: make(map[string]*sourceRuntime),
	}
}

// RegisterProtocol overrides or extends the client factory for a
// protocol tag. Mainly useful in tests to substitute a fake Client
// without a real OPC-UA/MQTT/Modbus endpoint.
func (b *Bridge) RegisterProtocol(protocol string, factory protocolclient.Factory) {
	b.clients.Register(protocol, factory)
}

// Start opens the buffer, optionally opens the sink session and starts
// the egress worker (gated by zerobus.enabled), and starts a supervisor
// per configured source (spec §4.8 start()).
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("bridge: already running")
	}

	buf, err := buffer.New(buffer.Config{
		MaxQueueSize:  b.cfg.Backpressure.MemoryQueue.MaxSize,
		DropPolicy:    buffer.DropPolicy(b.cfg.Backpressure.MemoryQueue.DropPolicy),
		SpoolEnabled:  b.cfg.Backpressure.DiskSpool.Enabled,
		SpoolPath:     b.cfg.Backpressure.DiskSpool.Path,
		SpoolMaxBytes: int64(b.cfg.Backpressure.DiskSpool.MaxSizeMB) * 1024 * 1024,
		SpoolKeyPath:  b.cfg.Backpressure.DiskSpool.KeyPath,
	})
	if err != nil {
		return fmt.Errorf("bridge: open buffer: %w", err)
	}
	b.buf = buf

	b.runCtx, b.runCancel = context.WithCancel(context.Background())

	if b.cfg.Zerobus.Enabled {
		if err := b.startSinkLocked(b.runCtx); err != nil {
			b.runCancel()
			return err
		}
	}

	for _, sc := range b.cfg.Sources {
		if !sc.Enabled {
			continue
		}
		if err := b.startSourceLocked(sc); err != nil {
			b.logger.Error("bridge: failed to start source", "source", sc.Name, "error", err)
		}
	}

	b.admin = adminserver.New(b.cfg.Admin.ListenAddr, adminserver.ProviderFunc(b.Status), b.promReg, b.logger)
	b.adminDone = make(chan struct{})
	go func() {
		defer close(b.adminDone)
		if err := b.admin.Run(b.runCtx); err != nil {
			b.logger.Error("bridge: admin server exited", "error", err)
		}
	}()

	if b.cfg.FleetMirror.RedisAddr != "" {
		b.startFleetMirrorLocked()
	}

	b.running = true
	return nil
}

// startFleetMirrorLocked connects the optional Redis fleet mirror and
// starts its publish loop. A connection failure only disables
// mirroring for this run; it never fails Start (spec: fleet
// observability is best-effort, not load-bearing). Caller must hold b.mu.
func (b *Bridge) startFleetMirrorLocked() {
	mirror, err := telemetry.NewMirror(
		b.cfg.FleetMirror.RedisAddr,
		b.cfg.FleetMirror.Password,
		b.cfg.FleetMirror.DB,
		b.cfg.FleetMirror.GatewayID,
	)
	if err != nil {
		b.logger.Warn("bridge: fleet mirror disabled", "error", err)
		return
	}
	b.mirror = mirror
	b.mirrorDone = make(chan struct{})
	interval := time.Duration(b.cfg.FleetMirror.IntervalSeconds) * time.Second
	go func() {
		defer close(b.mirrorDone)
		mirror.Run(b.runCtx, interval, func() interface{} { return b.Status() })
	}()
}

// startSinkLocked builds the token manager, breaker, transport, and
// session, then starts the egress worker on its own cancellable
// sub-context so DisableSink can stop the worker without tearing down
// the whole bridge. Caller must hold b.mu.
func (b *Bridge) startSinkLocked(ctx context.Context) error {
	sinkCtx, sinkCancel := context.WithCancel(ctx)
	b.sinkCancel = sinkCancel

	tokens := tokenmanager.New(tokenmanager.Config{
		WorkspaceHost: b.cfg.Zerobus.WorkspaceHost,
		ClientID:      b.cfg.Zerobus.Auth.ClientID,
		ClientSecret:  b.cfg.Zerobus.Auth.ClientSecret,
		Catalog:       b.cfg.Zerobus.Target.Catalog,
		Schema:        b.cfg.Zerobus.Target.Schema,
		Table:         b.cfg.Zerobus.Target.Table,
		Scoped:        true,
	}, b.logger)
	b.tokens = tokens

	breaker := circuitbreaker.NewSinkBreaker(breakerFailureThreshold, breakerCooldown)
	b.breaker = breaker

	tableName := b.cfg.Zerobus.Target.TableName()
	factory := func() (*sinktransport.Transport, error) {
		return sinktransport.New(b.cfg.Zerobus.WorkspaceHost, b.cfg.Zerobus.ZerobusEndpoint, tableName, tokens, nil)
	}

	session := sinksession.New(factory)
	if err := session.Open(ctx); err != nil {
		return fmt.Errorf("bridge: open sink session: %w", err)
	}
	b.session = session

	worker := egress.New(b.buf, session, breaker, mapToWire, egress.Config{
		BatchSize:     b.cfg.Zerobus.Batch.MaxRecords,
		FlushInterval: time.Duration(b.cfg.Zerobus.Batch.TimeoutSeconds) * time.Second,
	})
	b.worker = worker
	b.workerDone = make(chan struct{})
	go func() {
		defer close(b.workerDone)
		worker.Run(sinkCtx)
	}()

	return nil
}

// mapToWire projects a canonical record onto the sink's wire schema.
// PLC descriptor fields are left blank: mapping them from source
// protocol_config metadata is a tag-normalization concern out of scope
// here (spec §1, §6).
func mapToWire(r record.Record) record.WireRecord {
	return record.ToWire(r, "", "", "")
}

// startSourceLocked builds a protocol client for sc and starts its
// supervisor. Caller must hold b.mu.
func (b *Bridge) startSourceLocked(sc config.SourceConfig) error {
	if _, exists := b.sources[sc.Name]; exists {
		return fmt.Errorf("bridge: source %q already running", sc.Name)
	}

	spec := protocolclient.SourceSpec{Name: sc.Name, Endpoint: sc.Endpoint, Options: sc.Options}
	client, err := b.clients.Build(sc.Protocol, spec)
	if err != nil {
		return fmt.Errorf("bridge: build client for %q: %w", sc.Name, err)
	}

	sup := supervisor.New(sc.Name, client, supervisor.DefaultBackoffConfig(), b.emit(sc.Name), b.logger)

	srcCtx, cancel := context.WithCancel(b.runCtx)
	rt := &sourceRuntime{spec: spec, protocol: sc.Protocol, client: client, supervisor: sup, cancel: cancel}
	b.sources[sc.Name] = rt

	go sup.Run(srcCtx)
	return nil
}

// emit returns the callback a supervisor uses to hand records to the
// buffer. Every record crosses the protocol-client boundary here, so
// this is where the timestamp mis-scaling guard (spec §9) is enforced:
// a record that fails it is flagged malformed_payload and dropped
// rather than silently buffered with a corrupt timestamp.
func (b *Bridge) emit(sourceName string) protocolclient.Emit {
	return func(r record.Record) {
		if err := r.ValidateTimestamps(int64(timestampEpsilon / time.Microsecond)); err != nil {
			b.logger.Warn("bridge: malformed_payload: rejecting record", "source", sourceName, "error", err)
			b.metrics.RecordDrop(sourceName, string(errkind.MalformedPayload))
			return
		}

		outcome, err := b.buf.Enqueue(r)
		if err != nil {
			b.logger.Warn("bridge: enqueue rejected", "source", sourceName, "error", err)
			return
		}
		switch outcome {
		case buffer.Accepted:
			b.metrics.RecordIngest(sourceName)
		case buffer.Dropped:
			b.metrics.RecordDrop(sourceName, string(b.cfg.Backpressure.MemoryQueue.DropPolicy))
		case buffer.SentDLQ:
			b.metrics.RecordDrop(sourceName, "spool_write_failed")
		}
	}
}

// Stop cancels supervisors, cancels egress, flushes a final batch, and
// closes the sink session (spec §4.8 stop()).
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil
	}

	for name, rt := range b.sources {
		rt.cancel()
		delete(b.sources, name)
	}

	b.runCancel()

	if b.workerDone != nil {
		select {
		case <-b.workerDone:
		case <-time.After(flushGrace(b.cfg.Zerobus.Stream)):
		}
	}
	if b.adminDone != nil {
		<-b.adminDone
	}
	if b.mirrorDone != nil {
		<-b.mirrorDone
		if err := b.mirror.Close(); err != nil {
			b.logger.Warn("bridge: close fleet mirror", "error", err)
		}
		b.mirror = nil
		b.mirrorDone = nil
	}
	if b.session != nil {
		if err := b.session.Close(ctx); err != nil {
			b.logger.Warn("bridge: close sink session", "error", err)
		}
	}

	b.running = false
	return nil
}

// AddSource rejects duplicates, appends to the source list, and starts
// the supervisor immediately if the bridge is running (spec §4.8).
func (b *Bridge) AddSource(sc config.SourceConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.cfg.Sources {
		if existing.Name == sc.Name {
			return fmt.Errorf("bridge: source %q already configured", sc.Name)
		}
	}
	b.cfg.Sources = append(b.cfg.Sources, sc)
	if b.running && sc.Enabled {
		return b.startSourceLocked(sc)
	}
	return nil
}

// RemoveSource cancels the named source's supervisor and removes it.
func (b *Bridge) RemoveSource(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rt, ok := b.sources[name]; ok {
		rt.cancel()
		delete(b.sources, name)
	}
	for i, sc := range b.cfg.Sources {
		if sc.Name == name {
			b.cfg.Sources = append(b.cfg.Sources[:i], b.cfg.Sources[i+1:]...)
			break
		}
	}
	return nil
}

// EnableSink replaces the sink config with cfg, opens a new session, and
// starts the egress worker (spec §4.8). It does not read the config file
// itself: the caller supplies cfg. It returns an error if the sink is
// already enabled.
func (b *Bridge) EnableSink(ctx context.Context, cfg config.ZerobusConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		return fmt.Errorf("bridge: sink already enabled")
	}
	b.cfg.Zerobus = cfg
	return b.startSinkLocked(b.runCtx)
}

// DisableSink stops the egress worker and closes the sink session idempotently.
func (b *Bridge) DisableSink(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	if b.sinkCancel != nil {
		b.sinkCancel()
		b.sinkCancel = nil
	}
	if b.workerDone != nil {
		<-b.workerDone
	}
	err := b.session.Close(ctx)
	b.session = nil
	b.worker = nil
	b.cfg.Zerobus.Enabled = false
	return err
}

// Status returns the admin surface's read-only snapshot (spec §6).
func (b *Bridge) Status() adminserver.Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	active := make([]string, 0, len(b.sources))
	for name := range b.sources {
		active = append(active, name)
	}

	breakerState := "closed"
	var counts circuitbreaker.Counts
	if b.breaker != nil {
		breakerState = breakerStateName(b.breaker.State())
		counts = b.breaker.Counts()
	}
	metrics := map[string]any{
		"breaker_requests":             counts.Requests,
		"breaker_consecutive_failures": counts.ConsecutiveFailures,
		"breaker_total_failures":       counts.TotalFailures,
	}

	var bp adminserver.BackpressureStats
	if b.buf != nil {
		snap := b.buf.Snapshot()
		bp = adminserver.BackpressureStats{
			MemDepth:    snap.MemDepth,
			MemCapacity: snap.MemCapacity,
			SpoolBytes:  snap.SpoolBytes,
			SpoolCap:    snap.SpoolCapBytes,
			DLQCount:    snap.DLQCount,
		}
	}

	return adminserver.Status{
		ActiveSources:       active,
		ZerobusConnected:    b.session != nil,
		CircuitBreakerState: breakerState,
		Backpressure:        bp,
		Metrics:             metrics,
	}
}

func breakerStateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.StateOpen:
		return "open"
	case circuitbreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// flushGrace bounds how long Stop waits for the egress worker's final
// flush before moving on.
func flushGrace(s config.StreamConfig) time.Duration {
	return time.Duration(s.FlushTimeoutMs) * time.Millisecond
}
