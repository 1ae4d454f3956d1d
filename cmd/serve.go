package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheetpipe/sheetpipe/internal/model"
	"github.com/sheetpipe/sheetpipe/internal/progress"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		api := &apiServer{env: env, baseCtx: ctx, sinks: map[string]*progress.ChannelSink{}}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.routes(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// apiServer holds per-run event sinks so SSE subscribers can attach to
// in-flight runs.
type apiServer struct {
	env     *env
	baseCtx context.Context
	mu      sync.Mutex
	sinks   map[string]*progress.ChannelSink
}

func (a *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/runs", a.createRun)
	r.Get("/runs/{id}", a.getRun)
	r.Post("/runs/{id}/approve", a.approveRun)
	r.Get("/runs/{id}/events", a.streamEvents)
	return r
}

func (a *apiServer) createRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID   string `json:"project_id"`
		ReviewMode  string `json:"review_mode"`
		Concurrency int    `json:"concurrency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ProjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "project_id is required"})
		return
	}

	run, err := a.env.Store.CreateRun(r.Context(),
		req.ProjectID, runConfigFromFlags(req.ReviewMode == string(model.ReviewModeReview), req.Concurrency))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	a.launch(run.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID})
}

func (a *apiServer) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.env.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *apiServer) approveRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	run, err := a.env.Store.GetRun(r.Context(), runID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if run.Status != model.RunStatusReview {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run is not awaiting review"})
		return
	}

	var req struct {
		Modifications []model.PlanModification `json:"modifications"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	if len(req.Modifications) > 0 {
		if err := a.env.Store.SaveModifications(r.Context(), runID, req.Modifications); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}

	a.launch(runID)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// launch starts a run in the background with a buffered sink SSE
// subscribers can attach to. The sink outlives the HTTP request; the run
// is bound to the server's lifetime, not the caller's.
func (a *apiServer) launch(runID string) {
	sink := progress.NewChannelSink(cfg.Pipeline.EventBuffer)
	a.mu.Lock()
	a.sinks[runID] = sink
	a.mu.Unlock()

	go func() {
		defer func() {
			sink.Close()
			a.mu.Lock()
			delete(a.sinks, runID)
			a.mu.Unlock()
		}()
		if err := a.env.Pipeline.Run(a.baseCtx, runID, sink); err != nil {
			zap.L().Error("run failed", zap.String("run", runID), zap.Error(err))
		}
	}()
}

// streamEvents relays a run's progress events as server-sent events until
// the run finishes or the client disconnects.
func (a *apiServer) streamEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	a.mu.Lock()
	sink, ok := a.sinks[runID]
	a.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run is not active"})
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sink.Events():
			if !open {
				fmt.Fprint(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			blob, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, blob)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
