// Package adminserver exposes the gateway's read-only admin plane
// (spec §6): a status/metrics HTTP surface plus a WebSocket push feed,
// "consumed by external web module, mentioned here only to fix the
// contract" — this gateway never accepts control calls here beyond
// what the bridge already exposes through other means.
package adminserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgebridge/otgw/internal/protocolclient"
)

// pushInterval is how often the WebSocket hub broadcasts a fresh snapshot.
const pushInterval = 2 * time.Second

// discoverTimeout bounds how long a /discover probe may block a request.
// Discovery is advisory, never on a startup path, so a generous but
// finite timeout is fine here.
const discoverTimeout = 5 * time.Second

// Server serves the admin plane's HTTP and WebSocket endpoints.
type Server struct {
	addr     string
	provider Provider
	registry prometheus.Gatherer
	hub      *statusHub
	logger   *slog.Logger
	httpSrv  *http.Server
}

// New constructs a Server. registry may be nil to skip the /metrics
// endpoint (e.g. when metrics are served elsewhere). Pass
// prometheus.DefaultGatherer when metrics were registered via
// telemetry.New(), or a *prometheus.Registry built with
// telemetry.NewWithRegisterer for an isolated registry.
func New(addr string, provider Provider, registry prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		provider: provider,
		registry: registry,
		hub:      newStatusHub(logger),
		logger:   logger,
	}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/discover", s.handleDiscover).Methods(http.MethodGet)
	r.HandleFunc("/ws/status", s.hub.handleWebSocket)

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.provider.Status()); err != nil {
		s.logger.Warn("adminserver: encode status failed", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

// handleDiscover proposes add_source candidates for a protocol/endpoint
// pair by running protocolclient.Discover. Best-effort: an empty or
// failed probe is reported as a 200 with an error field rather than a
// 5xx, since this is advisory tooling, not a control-plane operation.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	protocol := r.URL.Query().Get("protocol")
	endpoint := r.URL.Query().Get("endpoint")
	w.Header().Set("Content-Type", "application/json")

	if protocol == "" || endpoint == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "protocol and endpoint query params are required"})
		return
	}

	candidates, err := protocolclient.Discover(r.Context(), protocol, endpoint, discoverTimeout)
	resp := struct {
		Candidates []protocolclient.Candidate `json:"candidates"`
		Error      string                     `json:"error,omitempty"`
	}{Candidates: candidates}
	if err != nil {
		resp.Error = err.Error()
		s.logger.Info("adminserver: discover probe failed", "protocol", protocol, "endpoint", endpoint, "error", err)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("adminserver: encode discover response failed", "error", err)
	}
}

// Run starts the HTTP listener and the WebSocket hub's background loops,
// blocking until ctx is cancelled, at which point it shuts down the
// listener gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.router()}

	go s.hub.run(ctx)
	go s.hub.pump(ctx, pushInterval, s.provider.Status)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("adminserver: listening", "addr", s.addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
