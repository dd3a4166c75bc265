package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// logEntry is the subset of fields otgw-bridge's slog JSON handler
// writes that this tool cares about.
type logEntry struct {
	Time  string `json:"time"`
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

// logReport tallies log lines by level and buckets ERROR/WARN messages
// into coarse categories, adapted from analyze_logs.py's
// detect_error_patterns/_categorize_error.
type logReport struct {
	TotalLines  int            `json:"total_lines"`
	Unparsed    int            `json:"unparsed_lines"`
	ByLevel     map[string]int `json:"by_level"`
	ErrorKinds  map[string]int `json:"error_kinds"`
	SampleWarns []string       `json:"sample_warnings,omitempty"`
}

func analyzeLogFile(path string) (*logReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("otgw-probe: open log file: %w", err)
	}
	defer f.Close()

	report := &logReport{
		ByLevel:    make(map[string]int),
		ErrorKinds: make(map[string]int),
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		report.TotalLines++

		var entry logEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			report.Unparsed++
			continue
		}
		report.ByLevel[entry.Level]++

		if entry.Level == "ERROR" || entry.Level == "WARN" {
			kind := categorizeLogMessage(entry.Msg)
			report.ErrorKinds[kind]++
			if len(report.SampleWarns) < 10 {
				report.SampleWarns = append(report.SampleWarns, entry.Msg)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("otgw-probe: scan log file: %w", err)
	}
	return report, nil
}

// categorizeLogMessage buckets a message by substring, same coarse
// approach as analyze_logs.py's _categorize_error.
func categorizeLogMessage(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "connect"):
		return "connection"
	case strings.Contains(m, "timeout") || strings.Contains(m, "deadline"):
		return "timeout"
	case strings.Contains(m, "token") || strings.Contains(m, "auth"):
		return "authentication"
	case strings.Contains(m, "breaker") || strings.Contains(m, "circuit"):
		return "circuit_breaker"
	case strings.Contains(m, "spool") || strings.Contains(m, "dlq") || strings.Contains(m, "buffer"):
		return "backpressure"
	case strings.Contains(m, "config"):
		return "configuration"
	case strings.Contains(m, "websocket") || strings.Contains(m, "admin"):
		return "admin_surface"
	default:
		return "general"
	}
}

func printLogReport(r *logReport) {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("LOG ANALYSIS REPORT")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("Lines: %d (unparsed %d)\n", r.TotalLines, r.Unparsed)

	levels := make([]string, 0, len(r.ByLevel))
	for lvl := range r.ByLevel {
		levels = append(levels, lvl)
	}
	sort.Strings(levels)
	fmt.Println("\nBy level:")
	for _, lvl := range levels {
		fmt.Printf("  %-8s %d\n", lvl, r.ByLevel[lvl])
	}

	if len(r.ErrorKinds) > 0 {
		kinds := make([]string, 0, len(r.ErrorKinds))
		for k := range r.ErrorKinds {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		fmt.Println("\nWarning/error kinds:")
		for _, k := range kinds {
			fmt.Printf("  %-20s %d\n", k, r.ErrorKinds[k])
		}
	}
}
