package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lattice-ip/priorart-engine/internal/bundle"
	"github.com/lattice-ip/priorart-engine/internal/engine"
	"github.com/lattice-ip/priorart-engine/internal/model"
	"github.com/lattice-ip/priorart-engine/internal/ratelimit"
	"github.com/lattice-ip/priorart-engine/internal/shortlist"
	"github.com/lattice-ip/priorart-engine/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  "Serves run submission and inspection over HTTP. Runs execute asynchronously; clients poll GET /runs?bundle_id=... for progress.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: buildRouter(ctx, env.Store, env.Engine, env.Limiter),
		}

		// Graceful shutdown. The serve ctx is already done here, so give
		// in-flight requests a fresh deadline.
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the HTTP API. Split out so tests can hit the routes
// without a listening socket. Runs submitted over HTTP execute on the serve
// context, not the request context, so they survive the client disconnect.
func buildRouter(ctx context.Context, st store.Store, eng *engine.Engine, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"rate_limits": limiter.Snapshot(),
		})
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		limit := 50
		if s := req.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		runs, err := st.ListRuns(req.Context(), store.RunFilter{
			Status:   model.RunStatus(req.URL.Query().Get("status")),
			BundleID: req.URL.Query().Get("bundle_id"),
			Limit:    limit,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	})

	r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
		var b bundle.Bundle
		if err := json.NewDecoder(req.Body).Decode(&b); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		b.SetDefaults()
		if err := b.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		// Execute asynchronously on the serve context.
		go func() {
			if eng == nil {
				return
			}
			run, err := eng.Execute(ctx, &b)
			if err != nil {
				zap.L().Error("api run failed",
					zap.String("bundle_id", b.ID),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("api run complete",
				zap.String("bundle_id", b.ID),
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":    "accepted",
			"bundle_id": b.ID,
		})
	})

	r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		runID := chi.URLParam(req, "id")
		run, err := st.GetRun(req.Context(), runID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		variants, err := st.ListVariants(req.Context(), runID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run":      run,
			"variants": variants,
		})
	})

	r.Get("/runs/{id}/results", func(w http.ResponseWriter, req *http.Request) {
		rows, err := st.ListUnifiedResults(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": rows})
	})

	r.Get("/runs/{id}/shortlist", func(w http.ResponseWriter, req *http.Request) {
		rows, err := st.ListUnifiedResults(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shortlist": shortlist.Selected(rows)})
	})

	r.Get("/records/{id}/detail", func(w http.ResponseWriter, req *http.Request) {
		d, err := st.GetDetail(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if d == nil {
			writeError(w, http.StatusNotFound, "detail not found")
			return
		}
		writeJSON(w, http.StatusOK, d)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
