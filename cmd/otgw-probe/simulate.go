package main

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgebridge/otgw/internal/buffer"
	"github.com/edgebridge/otgw/internal/record"
)

// simulateConfig mirrors loadtest's flag-driven LoadTestConfig, adapted
// from transaction/worker counts to synthetic OT traffic shape.
type simulateConfig struct {
	Protocols   []string
	Concurrency int
	Duration    time.Duration
	QueueSize   int
	DropPolicy  string
	ReportEvery time.Duration
}

type simulateStats struct {
	Generated uint64
	Accepted  uint64
	Dropped   uint64
	SentDLQ   uint64
}

func runSimulate(cfg simulateConfig) *simulateStats {
	buf, err := buffer.New(buffer.Config{
		MaxQueueSize: cfg.QueueSize,
		DropPolicy:   buffer.DropPolicy(cfg.DropPolicy),
	})
	if err != nil {
		fmt.Println("otgw-probe: simulate: buffer init failed:", err)
		return &simulateStats{}
	}

	stats := &simulateStats{}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var latencies []time.Duration
	var latMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			proto := cfg.Protocols[workerID%len(cfg.Protocols)]
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				r := syntheticRecord(proto, workerID)
				atomic.AddUint64(&stats.Generated, 1)
				outcome, err := buf.Enqueue(r)
				if err != nil {
					continue
				}
				switch outcome {
				case buffer.Accepted:
					atomic.AddUint64(&stats.Accepted, 1)
				case buffer.Dropped:
					atomic.AddUint64(&stats.Dropped, 1)
				case buffer.SentDLQ:
					atomic.AddUint64(&stats.SentDLQ, 1)
				}
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	// Single consumer drains the buffer and measures enqueue-to-dequeue
	// latency as a proxy for the egress worker's batching delay.
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			rec, ok := buf.Dequeue()
			if !ok {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			latency := time.Duration(record.NowMicros()-rec.IngestTimeUs) * time.Microsecond
			latMu.Lock()
			latencies = append(latencies, latency)
			latMu.Unlock()
		}
	}()

	go reportSimulateProgress(ctx, stats, cfg.ReportEvery)

	wg.Wait()
	<-drainDone

	latMu.Lock()
	defer latMu.Unlock()
	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		fmt.Printf("\nDequeue latency: p50=%v p95=%v p99=%v\n",
			percentileDuration(latencies, 50),
			percentileDuration(latencies, 95),
			percentileDuration(latencies, 99))
	}

	return stats
}

func syntheticRecord(protocol string, workerID int) record.Record {
	now := record.NowMicros()
	return record.Record{
		EventTimeUs:  now,
		IngestTimeUs: now,
		SourceName:   fmt.Sprintf("sim-%s-%d", protocol, workerID),
		Endpoint:     fmt.Sprintf("sim://%s/%d", protocol, workerID),
		ProtocolType: record.ProtocolType(protocol),
		TopicOrPath:  fmt.Sprintf("tag-%d", workerID),
		Value:        record.Value{Type: record.ValueFloat, Float: rand.Float64() * 100},
		Status:       record.StatusGood,
	}
}

func percentileDuration(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func reportSimulateProgress(ctx context.Context, stats *simulateStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Printf("generated=%d accepted=%d dropped=%d dlq=%d\n",
				atomic.LoadUint64(&stats.Generated),
				atomic.LoadUint64(&stats.Accepted),
				atomic.LoadUint64(&stats.Dropped),
				atomic.LoadUint64(&stats.SentDLQ))
		}
	}
}

func printSimulateResults(cfg simulateConfig, s *simulateStats) {
	sep := strings.Repeat("=", 72)
	fmt.Println("\n" + sep)
	fmt.Println("SIMULATE RESULTS")
	fmt.Println(sep)
	fmt.Printf("Protocols:   %s\n", strings.Join(cfg.Protocols, ","))
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %v\n", cfg.Duration)
	fmt.Printf("Generated:   %d\n", s.Generated)
	fmt.Printf("Accepted:    %d\n", s.Accepted)
	fmt.Printf("Dropped:     %d\n", s.Dropped)
	fmt.Printf("Sent to DLQ: %d\n", s.SentDLQ)
	fmt.Println(sep)
}
