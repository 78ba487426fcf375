// Package status reports bridge health to the outside world: an optional
// HTTP endpoint and systemd service notifications.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chaz8081/hci-bridge/internal/bridge"
	"github.com/chaz8081/hci-bridge/internal/version"
)

// Source provides the bridge status to report.
type Source interface {
	Status() bridge.Status
}

// NewRouter returns the status HTTP handler:
//
//	GET /health  liveness check
//	GET /status  supervisor and session snapshot
func NewRouter(src Source) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.String(),
		})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, src.Status())
	})
	return r
}

// Serve runs the status server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, src Source) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status: listen %s: %w", addr, err)
	}
	return serve(ctx, ln, src)
}

func serve(ctx context.Context, ln net.Listener, src Source) error {
	srv := &http.Server{
		Handler:      NewRouter(src),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[STATUS] listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status: serve: %w", err)
	}
	return nil
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("[STATUS] encode response", "error", err)
	}
}
