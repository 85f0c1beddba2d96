// Package control is the channel between interception transports, the
// coordinator, and operator tooling. The server side exposes the HTTP API;
// the client side is what agents embed. Both speak the JSON shapes defined
// here and nothing else.
package control

import (
	"errors"

	"github.com/interceptd/interceptd/internal/matching"
	"github.com/interceptd/interceptd/pkg/coordinator"
	"github.com/interceptd/interceptd/pkg/flow"
	"github.com/interceptd/interceptd/pkg/snapshot"
)

// ErrUnavailable means the control server could not be reached.
var ErrUnavailable = errors.New("control server unavailable")

// FlowSubmission is a captured transaction on the wire. Agents POST it to
// /flows (flow_id empty, assigned by the server); the same shape, id and
// state filled in, streams to /events subscribers.
type FlowSubmission struct {
	FlowID       string                     `json:"flow_id,omitempty"`
	Paused       bool                       `json:"paused"`
	Request      snapshot.RequestSnapshot   `json:"request"`
	Response     *snapshot.ResponseSnapshot `json:"response"`
	Timestamp    float64                    `json:"timestamp"`
	Duration     float64                    `json:"duration"`
	MockApplied  bool                       `json:"mock_applied"`
	MockRuleName string                     `json:"mock_rule_name,omitempty"`
	MockRuleID   string                     `json:"mock_rule_id,omitempty"`
}

// FlowDecision is the server's answer to a submission: what the agent must
// deliver to its client. A null response means pass the original through.
type FlowDecision struct {
	FlowID       string                     `json:"flow_id"`
	Response     *snapshot.ResponseSnapshot `json:"response"`
	MockApplied  bool                       `json:"mock_applied"`
	MockRuleName string                     `json:"mock_rule_name,omitempty"`
	MockRuleID   string                     `json:"mock_rule_id,omitempty"`
}

// ResumeCommand is the operator's resume request. A null modified_response
// resumes pass-through.
type ResumeCommand struct {
	FlowID           string                     `json:"flow_id"`
	ModifiedResponse *snapshot.ModifiedResponse `json:"modified_response"`
}

// ResumeAck confirms a resume.
type ResumeAck struct {
	Status string `json:"status"`
	FlowID string `json:"flow_id"`
}

// MockDecision is the mock-match answer, fully materialized. The endpoint
// returns it with 200 on a hit and an empty object with 404 on a miss.
type MockDecision = matching.Decision

// StatusResponse is the session status on the wire.
type StatusResponse struct {
	Status           string   `json:"status"`
	Mode             string   `json:"mode"`
	InterceptedCount int      `json:"intercepted_count"`
	InterceptedFlows []string `json:"intercepted_flows"`
}

// ErrorResponse is the error shape every endpoint uses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// submissionEvent renders a flow in the FlowSubmission wire shape for the
// event stream.
func submissionEvent(f flow.Flow) FlowSubmission {
	return FlowSubmission{
		FlowID:       f.ID,
		Paused:       f.State == flow.StatePaused,
		Request:      f.Request,
		Response:     f.Response,
		Timestamp:    f.Timestamp,
		Duration:     f.Duration,
		MockApplied:  f.MockApplied,
		MockRuleName: f.MockRuleName,
		MockRuleID:   f.MockRuleID,
	}
}

// decisionWire renders a coordinator decision in the wire shape.
func decisionWire(d coordinator.Decision) FlowDecision {
	return FlowDecision{
		FlowID:       d.FlowID,
		Response:     d.Response,
		MockApplied:  d.MockApplied,
		MockRuleName: d.MockRuleName,
		MockRuleID:   d.MockRuleID,
	}
}
