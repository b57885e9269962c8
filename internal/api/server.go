package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rendis/nodeflow/internal/metrics"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// ExecutionStore is the slice of the store the API reads.
type ExecutionStore interface {
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	GetExecution(ctx context.Context, id string) (*store.Execution, error)
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*store.Execution, error)
}

// Enqueuer accepts trigger events for asynchronous execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, event schema.TriggerEvent) error
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Store    ExecutionStore
	Queue    Enqueuer
	Hub      streaming.EventHub
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // serves /metrics when set
	Logger   *slog.Logger
}

// Server serves trigger webhooks, execution queries and live node status.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()

	// Trigger webhooks.
	api.HandleFunc("/webhooks/google-form", s.handleGoogleForm).Methods(http.MethodPost)
	api.HandleFunc("/webhooks/stripe", s.handleStripe).Methods(http.MethodPost)

	// Runs.
	api.HandleFunc("/workflows/{id}/execute", s.handleExecuteWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}/executions", s.handleListExecutions).Methods(http.MethodGet)
	api.HandleFunc("/executions/{id}", s.handleGetExecution).Methods(http.MethodGet)

	// Live node status.
	api.HandleFunc("/realtime", s.handleWebSocket).Methods(http.MethodGet)
	api.HandleFunc("/realtime/sse", s.handleSSE).Methods(http.MethodGet)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if s.deps.Gatherer != nil {
		router.Handle("/metrics", metrics.Handler(s.deps.Gatherer)).Methods(http.MethodGet)
	}

	return router
}
