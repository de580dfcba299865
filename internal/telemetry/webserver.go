package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rjboer/rxcapture/internal/logging"
)

// WebServer exposes status history, live updates and the stop control over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// NewWebServer builds an HTTP server for hub. A nil verifier leaves the
// stop control and config updates unauthenticated.
func NewWebServer(addr string, hub *Hub, verifier *TokenVerifier) *WebServer {
	return &WebServer{
		hub:    hub,
		logger: hub.logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewMux(hub, verifier),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// NewMux routes the hub endpoints.
func NewMux(hub *Hub, verifier *TokenVerifier) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", hub.handleHistory)
	mux.HandleFunc("/api/stats", hub.handleStats)
	mux.HandleFunc("/api/live", hub.handleLive)
	mux.HandleFunc("/api/health", hub.handleHealth)
	mux.HandleFunc("/api/config", verifier.RequireControlForWrites(hub.handleConfig))
	mux.HandleFunc("/api/control/stop", verifier.RequireControl(hub.handleStop))
	return mux
}

// Listen binds the listener so the chosen port is known before serving.
func (w *WebServer) Listen() (net.Listener, error) {
	return net.Listen("tcp", w.srv.Addr)
}

// Serve runs on ln until ctx is canceled.
func (w *WebServer) Serve(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web telemetry shutdown", logging.Err(err))
		}
	}()

	if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.logger.Error("web telemetry server error", logging.Err(err))
	}
}
