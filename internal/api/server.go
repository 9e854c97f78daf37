// Package api exposes the orchestrator over HTTP.
//
//	GET  /v1/params              parameter schema
//	GET  /v1/runs/current        status of the latest run
//	POST /v1/runs                start a run
//	POST /v1/runs/current/stop   stop the active run
//	GET  /v1/events              Server-Sent Events stream
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/CZERTAINLY/Trainer/internal/model"
	"github.com/CZERTAINLY/Trainer/internal/orchestrator"
)

const (
	keepalive       = 15 * time.Second
	shutdownTimeout = 10 * time.Second
	maxBodySize     = 1 << 20
)

type Orchestrator interface {
	Start(ctx context.Context, req orchestrator.Request) (uuid.UUID, error)
	Stop() bool
	Status() orchestrator.Status
	Schema() model.Schema
	Subscribe() (<-chan model.Event, func())
}

type Server struct {
	orch      Orchestrator
	defaults  orchestrator.Request
	origins   []string
	keepalive time.Duration
}

// New returns a Server starting runs from defaults overlaid with the request
// body. origins lists the origins allowed by CORS, none disables it.
func New(orch Orchestrator, defaults orchestrator.Request, origins ...string) *Server {
	return &Server{
		orch:      orch,
		defaults:  defaults,
		origins:   origins,
		keepalive: keepalive,
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(withLogging)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/params", s.params).Methods(http.MethodGet)
	v1.HandleFunc("/runs", s.startRun).Methods(http.MethodPost)
	v1.HandleFunc("/runs/current", s.currentRun).Methods(http.MethodGet)
	v1.HandleFunc("/runs/current/stop", s.stopRun).Methods(http.MethodPost)
	v1.HandleFunc("/events", s.events).Methods(http.MethodGet)

	if len(s.origins) == 0 {
		return r
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) params(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Schema())
}

func (s *Server) currentRun(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

type startRequest struct {
	Model   string         `json:"model"`
	Dataset string         `json:"dataset"`
	Params  map[string]any `json:"params"`
}

type startResponse struct {
	RunID uuid.UUID `json:"run_id"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	params, err := model.ParamsFromMap(body.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := orchestrator.Request{
		Params:  s.defaults.Params.Merge(params),
		Model:   s.defaults.Model,
		Dataset: s.defaults.Dataset,
	}
	if body.Model != "" {
		req.Model = body.Model
	}
	if body.Dataset != "" {
		req.Dataset = body.Dataset
	}

	id, err := s.orch.Start(r.Context(), req)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{RunID: id})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidParameter), errors.Is(err, model.ErrMissingInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, model.ErrLaunchFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) stopRun(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]bool{"stopping": s.orch.Stop()})
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, unsub := s.orch.Subscribe()
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, e); err != nil {
				slog.DebugContext(ctx, "writing event stream", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, e model.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte("id: " + strconv.FormatUint(e.Seq, 10) + "\nevent: " + string(e.Kind) + "\ndata: " + string(b) + "\n\n"))
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.DebugContext(r.Context(), "http request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}
