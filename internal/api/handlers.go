package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/streamgraph/corepipeline/internal/audit"
	"github.com/streamgraph/corepipeline/internal/history"
	"github.com/streamgraph/corepipeline/internal/rules"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RuleSummary is one rule document as listed by GET /rules.
type RuleSummary struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Name    string   `json:"name,omitempty"`
	Enabled bool     `json:"enabled"`
	Cron    string   `json:"cron,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	if s.loader == nil {
		writeJSON(w, http.StatusOK, []RuleSummary{})
		return
	}

	kind := rules.Kind(r.URL.Query().Get("kind"))
	docs := s.loader.Documents(kind)

	summaries := make([]RuleSummary, 0, len(docs))
	for _, doc := range docs {
		summary := RuleSummary{ID: doc.ID, Kind: string(doc.Kind)}
		if doc.Anomaly != nil {
			summary.Name = doc.Anomaly.Metadata.Name
			summary.Enabled = doc.Anomaly.Spec.Enabled
			summary.Cron = doc.Anomaly.Spec.Cron
			summary.Tags = doc.Anomaly.Metadata.Tags
		}
		summaries = append(summaries, summary)
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.loader == nil {
		http.NotFound(w, r)
		return
	}
	doc, ok := s.loader.Document(id)
	if !ok {
		http.Error(w, "rule not found", http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("format") == "yaml" {
		data, err := yaml.Marshal(doc.Raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// RecentTriggerView is one merged cross-rule trigger entry, with rule
// name/kind joined at query time from the loader.
type RecentTriggerView struct {
	RuleID       string          `json:"rule_id"`
	RuleName     string          `json:"rule_name,omitempty"`
	RuleKind     string          `json:"rule_kind,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	MatchesFound int             `json:"matches_found"`
	EvaluationMS float64         `json:"evaluation_ms"`
	Matches      []history.Match `json:"matches"`
}

func (s *Server) handleRecentTriggers(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []RecentTriggerView{})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	recent := s.history.AllRecent()
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}

	views := make([]RecentTriggerView, 0, len(recent))
	for _, rt := range recent {
		view := RecentTriggerView{
			RuleID:       rt.RuleID,
			Timestamp:    rt.Trigger.Timestamp,
			MatchesFound: rt.Trigger.MatchesFound,
			EvaluationMS: rt.Trigger.EvaluationMS,
			Matches:      rt.Trigger.Matches,
		}
		if s.loader != nil {
			if doc, ok := s.loader.Document(rt.RuleID); ok {
				view.RuleKind = string(doc.Kind)
				if doc.Anomaly != nil {
					view.RuleName = doc.Anomaly.Metadata.Name
				}
			}
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRuleAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.auditLog == nil {
		writeJSON(w, http.StatusOK, []audit.Entry{})
		return
	}

	query := audit.Query{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			query.Limit = n
		}
	}
	if phase := r.URL.Query().Get("phase"); phase != "" {
		query.Phase = phase
	}

	entries := s.auditLog.Query(id, query, time.Now())
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRuleTriggers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.history == nil {
		writeJSON(w, http.StatusOK, []history.Trigger{})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.history.Query(id, limit))
}
