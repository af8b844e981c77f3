// ABOUTME: HTTP server lifecycle for parley-gateway
// ABOUTME: Wires routes, serves until the context is cancelled, then shuts down gracefully

package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
)

// TurnRunner starts one chat turn. The orchestrator implements it; tests
// inject mocks.
type TurnRunner interface {
	Run(ctx context.Context, caller string, req chat.TurnRequest) (<-chan chat.StreamEvent, error)
}

// Gateway is the HTTP transport in front of the orchestrator.
type Gateway struct {
	cfg        *config.Config
	runner     TurnRunner
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds a gateway. relay is mounted at the configured relay path when
// non-nil.
func New(cfg *config.Config, runner TurnRunner, relay http.Handler, logger *slog.Logger) *Gateway {
	g := &Gateway{
		cfg:    cfg,
		runner: runner,
		logger: logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("/v1/chat", g.handleChat)
	if relay != nil {
		mux.Handle(cfg.Relay.Path, relay)
	}

	g.httpServer = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}
	return g
}

// Handler exposes the route table. Used by tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run serves until ctx is cancelled or the listener fails, then shuts down
// gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	g.logger.Info("http server listening", "addr", g.cfg.Server.HTTPAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g.logger.Info("shutting down")
	return g.httpServer.Shutdown(shutdownCtx)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ready"}`))
}
