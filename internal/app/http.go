package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rpattn/apietl/internal/extract"
	"github.com/rpattn/apietl/internal/metrics"
	"github.com/rpattn/apietl/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Serve runs the HTTP API until ctx ends, then drains requests and stops
// running jobs within the configured shutdown timeout.
func (a *App) Serve(ctx context.Context) error {
	// No write timeout: event streams stay open for the life of a job.
	server := &http.Server{
		Addr:        a.Config.HTTP.Addr,
		Handler:     a.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("starting HTTP server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout)
	defer cancel()

	if err := a.Extract.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("jobs did not stop in time", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.Logger.Info("server exited")
	return nil
}

// Router exposes the job API, limiter status, health and metrics.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.TenantScope)

	extract.NewHTTPHandler(a.Extract).Register(r)
	r.HandleFunc("/ratelimit", a.handleQuota).Methods(http.MethodGet)
	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   a.Config.HTTP.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})
	return corsHandler.Handler(middleware.Logging(a.Logger)(r))
}

func (a *App) handleQuota(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Quota(r.Context()))
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.Conn.Pool.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(payload)
}
