package http

import (
	"net/http"
	"strings"

	"github.com/Strob0t/agentopt/internal/domain/health"
	"github.com/Strob0t/agentopt/internal/domain/task"
	"github.com/Strob0t/agentopt/internal/service"
)

// Handlers serves the REST API on top of an Orchestrator.
type Handlers struct {
	Orch *service.Orchestrator
	// OnSessionEnd is called with the ID of every session ended through
	// the API. Optional.
	OnSessionEnd func(sessionID string)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

type createSessionRequest struct {
	Mode string `json:"mode"`
}

// CreateSession handles POST /api/v1/sessions.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createSessionRequest](w, r)
	if !ok {
		return
	}
	if req.Mode == "" {
		req.Mode = "auto"
	}
	id, err := h.Orch.CreateSession(r.Context(), req.Mode)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s, err := h.Orch.GetSession(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// ListSessions handles GET /api/v1/sessions.
func (h *Handlers) ListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Orch.Sessions())
}

// GetSession handles GET /api/v1/sessions/{id}.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.Orch.GetSession(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// EndSession handles DELETE /api/v1/sessions/{id}.
func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Orch.EndSession(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	if h.OnSessionEnd != nil {
		h.OnSessionEnd(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExecuteTask handles POST /api/v1/sessions/{id}/tasks. The request blocks
// until the task reaches a terminal state; executor failures are reported
// in the returned task, not as an error status.
func (h *Handlers) ExecuteTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.Request](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "title or description is required")
		return
	}
	t, err := h.Orch.ExecuteTask(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GetContext handles GET /api/v1/sessions/{id}/context?q=&limit=.
func (h *Handlers) GetContext(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	entries, err := h.Orch.GetRelatedContext(r.Context(), urlParam(r, "id"), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type inheritRequest struct {
	From string `json:"from"`
}

// InheritContext handles POST /api/v1/sessions/{id}/inherit.
func (h *Handlers) InheritContext(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[inheritRequest](w, r)
	if !ok {
		return
	}
	if req.From == "" {
		writeError(w, http.StatusBadRequest, "from is required")
		return
	}
	to := urlParam(r, "id")
	if _, err := h.Orch.GetSession(to); err != nil {
		writeDomainError(w, err)
		return
	}
	n, err := h.Orch.InheritContext(r.Context(), req.From, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"copied": n})
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

// ListAgents handles GET /api/v1/agents.
func (h *Handlers) ListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Orch.Agents())
}

type deactivateRequest struct {
	Reason string `json:"reason"`
}

// DeactivateAgent handles POST /api/v1/agents/{id}/deactivate.
func (h *Handlers) DeactivateAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[deactivateRequest](w, r)
	if !ok {
		return
	}
	if req.Reason == "" {
		req.Reason = "deactivated via api"
	}
	if err := h.Orch.DeactivateAgent(r.Context(), urlParam(r, "id"), req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReactivateAgent handles POST /api/v1/agents/{id}/reactivate.
func (h *Handlers) ReactivateAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.Orch.ReactivateAgent(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PredictAgent handles GET /api/v1/agents/{id}/prediction.
func (h *Handlers) PredictAgent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Orch.Optimizer().PredictPerformance(urlParam(r, "id")))
}

// Recommend handles GET /api/v1/recommendations?description=.
func (h *Handlers) Recommend(w http.ResponseWriter, r *http.Request) {
	ids := h.Orch.Learning().Recommend(r.Context(), r.URL.Query().Get("description"), nil)
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"agents": ids})
}

// ---------------------------------------------------------------------------
// Control loop
// ---------------------------------------------------------------------------

// ForceOptimization handles POST /api/v1/optimize.
func (h *Handlers) ForceOptimization(w http.ResponseWriter, r *http.Request) {
	score, err := h.Orch.ForceOptimization(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	res, _ := h.Orch.Optimizer().LastResult()
	writeJSON(w, http.StatusOK, map[string]any{"score": score, "result": res})
}

// AnalyzePatterns handles POST /api/v1/analyze.
func (h *Handlers) AnalyzePatterns(w http.ResponseWriter, r *http.Request) {
	if err := h.Orch.AnalyzePatterns(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Orch.Learning().Insights())
}

// ListIssues handles GET /api/v1/issues.
func (h *Handlers) ListIssues(w http.ResponseWriter, _ *http.Request) {
	issues := h.Orch.ActiveIssues()
	if issues == nil {
		issues = []health.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

type recoverRequest struct {
	Action string `json:"action"`
}

// RecoverIssue handles POST /api/v1/issues/{id}/recover.
func (h *Handlers) RecoverIssue(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[recoverRequest](w, r)
	if !ok {
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}
	a, err := h.Orch.ManualRecovery(r.Context(), urlParam(r, "id"), req.Action)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Status handles GET /api/v1/status.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Orch.GetSystemStatus(r.Context()))
}

// Metrics handles GET /api/v1/metrics.
func (h *Handlers) Metrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Orch.GetComprehensiveMetrics())
}

// Report handles GET /api/v1/report.
func (h *Handlers) Report(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Orch.GetComprehensiveReport(r.Context()))
}

// Health handles GET /health. Only the error level answers 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	st := h.Orch.GetSystemStatus(r.Context())
	code := http.StatusOK
	if st.Level == health.LevelError {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": st.Level, "issues": st.Issues})
}
