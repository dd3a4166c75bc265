package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror publishes periodic status snapshots to a shared Redis channel
// so a fleet of gateways can be observed from one place, without each
// gateway's admin surface needing to be individually reachable.
type Mirror struct {
	rdb     *redis.Client
	channel string
	key     string
}

// NewMirror connects to Redis and verifies reachability up front; the
// caller decides whether a connection failure should disable mirroring
// rather than fail gateway startup.
func NewMirror(addr, password string, db int, gatewayID string) (*Mirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("telemetry: redis mirror connect %s: %w", addr, err)
	}

	slog.Info("telemetry: fleet mirror connected", "addr", addr, "gateway_id", gatewayID)
	return &Mirror{rdb: rdb, channel: "otgw:fleet:status", key: "otgw:fleet:gateway:" + gatewayID}, nil
}

// Publish pushes a status snapshot both to the channel (for subscribers
// watching live) and to a keyed entry (for a poller catching up after
// connecting late).
func (m *Mirror) Publish(ctx context.Context, snapshot interface{}) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("telemetry: marshal snapshot: %w", err)
	}
	if err := m.rdb.Set(ctx, m.key, payload, 2*time.Minute).Err(); err != nil {
		return fmt.Errorf("telemetry: set snapshot: %w", err)
	}
	return m.rdb.Publish(ctx, m.channel, payload).Err()
}

// Close shuts down the underlying Redis client.
func (m *Mirror) Close() error {
	return m.rdb.Close()
}

// Run publishes snapshot() at the given interval until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context, interval time.Duration, snapshot func() interface{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Publish(ctx, snapshot()); err != nil {
				slog.Warn("telemetry: fleet mirror publish failed", "error", err)
			}
		}
	}
}
