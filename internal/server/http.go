package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	jsonwriter "github.com/dgellow/handoff/internal/json"
	"github.com/dgellow/handoff/internal/log"
	"github.com/dgellow/handoff/internal/loginview"
)

// HTTPServer manages the HTTP server lifecycle
type HTTPServer struct {
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// NewHTTPServer creates a new HTTP server with the given handler and address
func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		ready: make(chan struct{}),
	}
}

// Start listens and serves until Stop. It returns nil after a graceful stop.
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()
	close(h.ready)

	log.LogInfoWithFields("http", "HTTP server starting", map[string]any{
		"addr": ln.Addr().String(),
	})

	if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Ready is closed once the listener is bound
func (h *HTTPServer) Ready() <-chan struct{} {
	return h.ready
}

// Addr is the bound address, or the configured one before Start
func (h *HTTPServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.server.Addr
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	log.LogInfoWithFields("http", "HTTP server stopping", map[string]any{
		"addr": h.Addr(),
	})

	if err := h.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.LogInfoWithFields("http", "HTTP server stopped", map[string]any{
		"addr": h.Addr(),
	})
	return nil
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string `json:"status"`
	Providers int    `json:"providers"`
}

// HealthHandler reports liveness and how many login providers are configured
type HealthHandler struct {
	providers loginview.ProviderDirectory
}

// NewHealthHandler creates a new health handler. providers may be nil.
func NewHealthHandler(providers loginview.ProviderDirectory) *HealthHandler {
	return &HealthHandler{providers: providers}
}

// ServeHTTP implements http.Handler for health checks
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.providers != nil {
		resp.Providers = len(h.providers.Providers())
	}
	_ = jsonwriter.Write(w, resp)
}
