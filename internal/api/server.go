// Package api implements the read-only audit/history projection (C16):
// a chi-routed HTTP surface over the rule loader, scheduler, audit log
// and trigger history, a websocket feed that pushes trigger events as
// they happen, a second websocket feed that pushes knowledge-state
// deltas from the warm path, and a Prometheus /metrics endpoint. The
// broader read/write REST surface over rule CRUD and knowledge-graph
// projections (/compute/pagerank, /compute/communities, and friends)
// stays out of scope; see DESIGN.md.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamgraph/corepipeline/internal/audit"
	"github.com/streamgraph/corepipeline/internal/history"
	"github.com/streamgraph/corepipeline/internal/rules"
	"github.com/streamgraph/corepipeline/internal/schedule"
	"github.com/streamgraph/corepipeline/pkg/logging"
	"github.com/streamgraph/corepipeline/pkg/telemetry"
)

// Server bundles the read-only accessors the control plane needs.
// Mutating the underlying loader/scheduler/log is out of scope here;
// this package only renders their current state as HTTP/WS responses.
type Server struct {
	loader     *rules.Loader
	scheduler  *schedule.Scheduler
	auditLog   *audit.Log
	history    *history.History
	hub        *hub[TriggerEvent]
	computeHub *hub[ComputeEvent]
	log        *logging.Logger
	router     chi.Router
}

// NewServer builds the router. Pass nil for any dependency the caller
// does not wire up; the corresponding endpoints report an empty result
// rather than panicking.
func NewServer(loader *rules.Loader, scheduler *schedule.Scheduler, auditLog *audit.Log, hist *history.History, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewDefault("rule-api")
	}
	s := &Server{
		loader:     loader,
		scheduler:  scheduler,
		auditLog:   auditLog,
		history:    hist,
		hub:        newHub[TriggerEvent](),
		computeHub: newHub[ComputeEvent](),
		log:        log,
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(telemetry.Registry, promhttp.HandlerOpts{}))
	r.Get("/rules", s.handleListRules)
	r.Get("/rules/{id}", s.handleGetRule)
	r.Get("/triggers/recent", s.handleRecentTriggers)
	r.Get("/rules/{id}/audit", s.handleRuleAudit)
	r.Get("/rules/{id}/triggers", s.handleRuleTriggers)
	r.Get("/ws", s.handleWebsocket)
	r.Get("/compute/stream", s.handleComputeStream)

	return r
}

// PublishTrigger pushes a trigger event to every connected websocket
// client. Safe to call from the evaluation loop's goroutine; delivery to
// slow or disconnected clients never blocks the caller.
func (s *Server) PublishTrigger(event TriggerEvent) {
	s.hub.broadcast(event)
}

// PublishCompute pushes a knowledge-state delta to every connected
// /compute/stream client. Safe to call from the warm-compute goroutine.
func (s *Server) PublishCompute(event ComputeEvent) {
	s.computeHub.broadcast(event)
}
