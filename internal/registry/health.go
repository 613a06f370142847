package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HealthServer provides HTTP health check endpoints for a registry.
type HealthServer struct {
	reg    *Registry
	addr   string
	server *http.Server
	ln     net.Listener
}

// NewHealthServer creates a health server that will listen on addr.
func NewHealthServer(reg *Registry, addr string) *HealthServer {
	return &HealthServer{
		reg:  reg,
		addr: addr,
	}
}

// Start binds the listen address and serves in the background.
func (h *HealthServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen for health checks on %s: %w", h.addr, err)
	}
	h.ln = ln

	h.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.reg.logger.Error("health server error", LabelError.L(err))
		}
	}()

	h.reg.logger.Info("health server listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address. It is nil before Start.
func (h *HealthServer) Addr() net.Addr {
	if h.ln == nil {
		return nil
	}
	return h.ln.Addr()
}

// Shutdown gracefully shuts down the health check server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK while the registry is serving, 503 once it has shut down.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:      "healthy",
		Spaces:      h.reg.Spaces(),
		Connections: h.reg.Connections(),
	}

	status := http.StatusOK
	if h.reg.Closed() {
		response.Status = "unhealthy"
		response.Error = ErrRegistryClosed.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status      string   `json:"status"`
	Spaces      []string `json:"spaces"`
	Connections int      `json:"connections"`
	Error       string   `json:"error,omitempty"`
}
