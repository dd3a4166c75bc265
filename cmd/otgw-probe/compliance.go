package main

import (
	"fmt"
	"strings"
)

// complianceControl is one concrete, checkable implementation fact
// about this gateway, adapted from nis2_compliance_report.py's
// article/control structure down to the controls this codebase
// actually implements (no MFA/RBAC/web-session claims the gateway
// has no code for).
type complianceControl struct {
	Name     string
	Evidence string
	Location string
}

type complianceArticle struct {
	ID       string
	Title    string
	Controls []complianceControl
}

func complianceArticles() []complianceArticle {
	return []complianceArticle{
		{
			ID:    "21.2(g)",
			Title: "Authentication and authorization",
			Controls: []complianceControl{
				{"oauth2_client_credentials", "OAuth2 client-credentials grant against the workspace OIDC endpoint, with dual-endpoint fallback", "internal/tokenmanager"},
				{"scoped_table_grant", "authorization_details scoped to catalog/schema/table privileges rather than a bare bearer token", "internal/tokenmanager"},
				{"credential_masking", "secrets previewed as first6…last4 in logs, never printed raw", "internal/credstore"},
			},
		},
		{
			ID:    "21.2(h)",
			Title: "Encryption",
			Controls: []complianceControl{
				{"spool_encryption_at_rest", "ChaCha20-Poly1305 encrypted disk spool for backpressure overflow", "internal/buffer"},
				{"transport_bearer_auth", "sink gRPC stream authenticated via bearer token + table-name header on every call", "internal/sinktransport"},
			},
		},
		{
			ID:    "21.2(b)",
			Title: "Incident handling",
			Controls: []complianceControl{
				{"circuit_breaker", "sink flush failures trip a circuit breaker with a cooldown before retry", "internal/circuitbreaker"},
				{"supervisor_backoff", "each source's supervisor reconnects with exponential backoff and jitter on failure", "internal/supervisor"},
				{"dead_letter_quarantine", "records that fail to serialize for the spool are quarantined to a DLQ instead of being silently lost", "internal/buffer"},
			},
		},
		{
			ID:    "21.2(f)",
			Title: "Logging and monitoring",
			Controls: []complianceControl{
				{"structured_logging", "slog JSON handler across the bridge and its subsystems", "cmd/otgw-bridge"},
				{"prometheus_metrics", "per-instance metrics registry covering ingest, drops, flush, breaker state, token refresh", "internal/telemetry"},
				{"admin_status_surface", "read-only /status, /metrics, and /ws/status admin endpoints", "internal/adminserver"},
			},
		},
	}
}

func printComplianceSummary() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("COMPLIANCE CONTROL SUMMARY")
	fmt.Println(strings.Repeat("=", 72))
	for _, a := range complianceArticles() {
		fmt.Printf("\nArticle %s: %s\n", a.ID, a.Title)
		for _, c := range a.Controls {
			fmt.Printf("  [%s]\n", c.Name)
			fmt.Printf("    evidence: %s\n", c.Evidence)
			fmt.Printf("    location: %s\n", c.Location)
		}
	}
}

func printComplianceArticle(id string) error {
	for _, a := range complianceArticles() {
		if a.ID != id {
			continue
		}
		fmt.Printf("Article %s: %s\n", a.ID, a.Title)
		for _, c := range a.Controls {
			fmt.Printf("  [%s]\n", c.Name)
			fmt.Printf("    evidence: %s\n", c.Evidence)
			fmt.Printf("    location: %s\n", c.Location)
		}
		return nil
	}
	return fmt.Errorf("otgw-probe: no compliance article %q", id)
}
