// Command otgw-probe is the gateway's read-only operational CLI:
// status dump, compliance-control summary, log-kind tally, and a
// synthetic OPC-UA/MQTT/Modbus traffic simulator for local testing,
// adapted from the teacher's probe/loadtest binaries' flag-driven CLI
// plumbing onto these read-only reporting subcommands.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "status":
		runStatusCmd(os.Args[2:])
	case "logs":
		runLogsCmd(os.Args[2:])
	case "compliance":
		runComplianceCmd(os.Args[2:])
	case "simulate":
		runSimulateCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: otgw-probe <status|logs|compliance|simulate> [flags]")
}

func runStatusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("admin-addr", "127.0.0.1:8090", "gateway admin listen address")
	fs.Parse(args)

	s, err := fetchStatus(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	printStatus(s)
}

func runLogsCmd(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	file := fs.String("file", "", "path to a JSON-lines log file")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "otgw-probe logs: -file is required")
		os.Exit(1)
	}

	report, err := analyzeLogFile(*file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	printLogReport(report)
}

func runComplianceCmd(args []string) {
	fs := flag.NewFlagSet("compliance", flag.ExitOnError)
	article := fs.String("article", "", "report only this article (e.g. 21.2.g)")
	fs.Parse(args)

	if *article == "" {
		printComplianceSummary()
		return
	}
	if err := printComplianceArticle(normalizeArticle(*article)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func normalizeArticle(a string) string {
	// Accept both "21.2.g" and "21.2(g)" spellings.
	a = strings.ReplaceAll(a, ".g", "(g)")
	a = strings.ReplaceAll(a, ".h", "(h)")
	a = strings.ReplaceAll(a, ".b", "(b)")
	a = strings.ReplaceAll(a, ".f", "(f)")
	a = strings.ReplaceAll(a, ".c", "(c)")
	return a
}

func runSimulateCmd(args []string) {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	protocols := fs.String("protocols", "opcua,mqtt,modbus", "comma-separated protocol tags to simulate")
	concurrency := fs.Int("concurrency", 20, "number of concurrent synthetic sources")
	duration := fs.Duration("duration", 10*time.Second, "how long to run")
	queueSize := fs.Int("queue-size", 10_000, "in-memory buffer capacity")
	dropPolicy := fs.String("drop-policy", "drop_newest", "drop_newest | drop_oldest | reject")
	reportEvery := fs.Duration("report", 2*time.Second, "progress reporting interval")
	fs.Parse(args)

	cfg := simulateConfig{
		Protocols:   strings.Split(*protocols, ","),
		Concurrency: *concurrency,
		Duration:    *duration,
		QueueSize:   *queueSize,
		DropPolicy:  *dropPolicy,
		ReportEvery: *reportEvery,
	}

	stats := runSimulate(cfg)
	printSimulateResults(cfg, stats)
}
