package control

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/interceptd/interceptd/internal/matching"
	"github.com/interceptd/interceptd/pkg/coordinator"
	"github.com/interceptd/interceptd/pkg/flow"
	"github.com/interceptd/interceptd/pkg/mockrule"
)

// queryParamPrefix marks request query params on the mock-match URL, so they
// cannot collide with the method/host/path selectors.
const queryParamPrefix = "query_"

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}

// handleSubmitFlow handles POST /flows. In debug mode the response is not
// written until the flow resolves; the agent's request blocks exactly as
// long as its transaction is paused.
func (s *Server) handleSubmitFlow(w http.ResponseWriter, r *http.Request) {
	var sub FlowSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_submission", "malformed flow submission: "+err.Error())
		return
	}

	dec := s.coord.Submit(r.Context(), coordinator.Submission{
		Request:   sub.Request,
		Response:  sub.Response,
		Timestamp: sub.Timestamp,
		Duration:  sub.Duration,
	})
	writeJSON(w, http.StatusOK, decisionWire(dec))
}

// handleListFlows handles GET /flows with an optional ?state= filter.
func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	state := flow.State(r.URL.Query().Get("state"))
	switch state {
	case "", flow.StatePending, flow.StatePaused, flow.StateResumed, flow.StateCompleted:
	default:
		writeError(w, http.StatusBadRequest, "invalid_state", "unknown flow state "+string(state))
		return
	}

	flows := s.coord.Flows().List(state)
	out := make([]FlowSubmission, len(flows))
	for i, f := range flows {
		out[i] = submissionEvent(f)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"flows": out,
		"count": len(out),
	})
}

// handleGetFlow handles GET /flows/{id}.
func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	f, ok := s.coord.Flows().Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_flow", "no flow with id "+r.PathValue("id"))
		return
	}
	writeJSON(w, http.StatusOK, submissionEvent(f))
}

// handleClearFlows handles DELETE /flows. Paused flows survive: they still
// own a blocked transport.
func (s *Server) handleClearFlows(w http.ResponseWriter, r *http.Request) {
	removed := s.coord.Flows().Clear()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": removed})
}

// handleResume handles POST /resume. A malformed body leaves every flow
// untouched.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var cmd ResumeCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.log.Warn("malformed resume command", "error", err)
		writeError(w, http.StatusBadRequest, "invalid_resume", "malformed resume command: "+err.Error())
		return
	}
	if cmd.FlowID == "" {
		writeError(w, http.StatusBadRequest, "invalid_resume", "flow_id is required")
		return
	}

	switch err := s.coord.Resume(cmd.FlowID, cmd.ModifiedResponse); {
	case err == nil:
		writeJSON(w, http.StatusOK, ResumeAck{Status: "resumed", FlowID: cmd.FlowID})
	case errors.Is(err, flow.ErrUnknownFlow):
		writeError(w, http.StatusNotFound, "unknown_flow", "no flow with id "+cmd.FlowID)
	case errors.Is(err, flow.ErrAlreadyResumed):
		writeError(w, http.StatusConflict, "already_resumed", "flow "+cmd.FlowID+" was already resumed")
	case errors.Is(err, flow.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", "flow "+cmd.FlowID+" is not paused")
	default:
		writeError(w, http.StatusInternalServerError, "resume_failed", err.Error())
	}
}

// handleMockMatch handles GET /mock-match. Selectors arrive as method, host
// and path; request query params arrive prefixed with "query_". A hit
// returns the materialized decision; a miss returns 404 with an empty
// object.
func (s *Server) handleMockMatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := matching.Request{
		Method: q.Get("method"),
		Host:   q.Get("host"),
		Path:   q.Get("path"),
		Query:  map[string]string{},
	}
	for key, vals := range q {
		if strings.HasPrefix(key, queryParamPrefix) && len(vals) > 0 {
			req.Query[strings.TrimPrefix(key, queryParamPrefix)] = vals[0]
		}
	}

	dec := s.coord.QueryMock(req)
	if dec == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.coord.Status()
	status := "running"
	if !st.Running {
		status = "stopped"
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:           status,
		Mode:             string(st.Mode),
		InterceptedCount: st.InterceptedCount,
		InterceptedFlows: st.PausedFlows,
	})
}

// handleSwitchMode handles PUT /mode with body {"mode": "..."}.
func (s *Server) handleSwitchMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mode", "malformed mode request: "+err.Error())
		return
	}
	mode, err := coordinator.ParseMode(body.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}
	if err := s.coord.SwitchMode(mode); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": body.Mode})
}

// handleListRules handles GET /rules.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules := s.coord.Rules().Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// handleCreateRule handles POST /rules.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule mockrule.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_rule", "malformed rule: "+err.Error())
		return
	}
	created, err := s.coord.Rules().Create(rule)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_rule", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleGetRule handles GET /rules/{id}.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.coord.Rules().Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_rule", "no rule with id "+r.PathValue("id"))
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleUpdateRule handles PUT /rules/{id}.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule mockrule.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_rule", "malformed rule: "+err.Error())
		return
	}
	updated, err := s.coord.Rules().Update(r.PathValue("id"), rule)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, updated)
	case errors.Is(err, mockrule.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown_rule", "no rule with id "+r.PathValue("id"))
	default:
		writeError(w, http.StatusBadRequest, "invalid_rule", err.Error())
	}
}

// handleDeleteRule handles DELETE /rules/{id}.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Rules().Delete(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "unknown_rule", "no rule with id "+r.PathValue("id"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearRules handles DELETE /rules.
func (s *Server) handleClearRules(w http.ResponseWriter, r *http.Request) {
	cleared := s.coord.Rules().Count()
	s.coord.Rules().Clear()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

// handleImportRules handles POST /rules/import with a YAML collection body.
// ?replace=true drops existing rules first. Invalid rules are skipped and
// reported, never fatal.
func (s *Server) handleImportRules(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_collection", "read body: "+err.Error())
		return
	}
	col, err := mockrule.ParseCollection(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_collection", err.Error())
		return
	}

	replace := r.URL.Query().Get("replace") == "true"
	imported, errs := s.coord.Rules().Import(col.Rules, replace)
	skipped := make([]string, len(errs))
	for i, e := range errs {
		skipped[i] = e.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"imported": imported,
		"skipped":  skipped,
	})
}

// handleExportRules handles GET /rules/export, returning the collection as
// YAML.
func (s *Server) handleExportRules(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "exported rules"
	}
	data, err := mockrule.Export(s.coord.Rules(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
