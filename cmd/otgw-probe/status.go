package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/edgebridge/otgw/internal/adminserver"
)

func fetchStatus(adminAddr string) (*adminserver.Status, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + adminAddr + "/status")
	if err != nil {
		return nil, fmt.Errorf("otgw-probe: fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("otgw-probe: fetch status: unexpected status %d", resp.StatusCode)
	}

	var s adminserver.Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("otgw-probe: decode status: %w", err)
	}
	return &s, nil
}

func printStatus(s *adminserver.Status) {
	fmt.Println("active sources:", s.ActiveSources)
	fmt.Println("zerobus connected:", s.ZerobusConnected)
	fmt.Println("circuit breaker:", s.CircuitBreakerState)
	fmt.Printf("backpressure: mem %d/%d, spool %d/%d bytes, dlq %d\n",
		s.Backpressure.MemDepth, s.Backpressure.MemCapacity,
		s.Backpressure.SpoolBytes, s.Backpressure.SpoolCap,
		s.Backpressure.DLQCount)
}
