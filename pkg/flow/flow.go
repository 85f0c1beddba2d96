// Package flow tracks intercepted HTTP transactions through their lifecycle
// and owns the synchronization between a blocked transport and the operator
// (or teardown) that releases it.
//
// Every flow walks a monotonic state machine:
//
//	Pending → Paused → Resumed → Completed
//	Pending → Completed            (no pause required)
//
// Resumed and Completed are terminal with respect to resolution: a flow is
// resolved exactly once, by Resume or by CancelAll, never both, never twice.
package flow

import (
	"errors"

	"github.com/interceptd/interceptd/pkg/snapshot"
)

// Errors reported by the store.
var (
	// ErrUnknownFlow means the flow id is not registered.
	ErrUnknownFlow = errors.New("unknown flow")

	// ErrAlreadyResumed means the flow was resolved before; the call is an
	// idempotent no-op.
	ErrAlreadyResumed = errors.New("flow already resumed")

	// ErrInvalidState means the requested transition is not legal from the
	// flow's current state.
	ErrInvalidState = errors.New("invalid flow state transition")

	// ErrStoreClosed means the session tore down; no new flow may pause.
	ErrStoreClosed = errors.New("flow store closed")
)

// State is a flow's position in its lifecycle.
type State string

// Flow states. Transitions are monotonic; no state is revisited.
const (
	StatePending   State = "pending"
	StatePaused    State = "paused"
	StateResumed   State = "resumed"
	StateCompleted State = "completed"
)

// Flow is one captured HTTP transaction. The store owns it exclusively from
// creation to terminal state; accessors hand out copies.
type Flow struct {
	ID       string                     `json:"flow_id"`
	Request  snapshot.RequestSnapshot   `json:"request"`
	Response *snapshot.ResponseSnapshot `json:"response"`

	// Timestamp is the capture time in epoch seconds; Duration is the
	// upstream round-trip in seconds. Both float to match the wire shape.
	Timestamp float64 `json:"timestamp"`
	Duration  float64 `json:"duration"`

	State State `json:"state"`

	MockApplied  bool   `json:"mock_applied"`
	MockRuleID   string `json:"mock_rule_id,omitempty"`
	MockRuleName string `json:"mock_rule_name,omitempty"`
}

// Resolution is what a paused flow's waiter receives: the operator's
// overrides (nil means pass through unmodified) and why the flow resumed.
type Resolution struct {
	Modified *snapshot.ModifiedResponse
	Reason   string
}

// Resolution reasons.
const (
	ReasonOperator  = "operator"
	ReasonTeardown  = "session teardown"
	ReasonTimeout   = "debug wait timeout"
	ReasonAbandoned = "caller gone"
)
