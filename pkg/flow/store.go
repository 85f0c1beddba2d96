package flow

import (
	"sort"
	"sync"
	"time"

	"github.com/interceptd/interceptd/internal/id"
	"github.com/interceptd/interceptd/pkg/snapshot"
)

// Store is the authoritative registry of flows.
//
// The map from id to pending waiter is the only cross-flow shared mutable
// state in the system; every transition on a given id is atomic under one
// mutex, which is what guarantees exactly-once resolution against
// concurrent Resume/CancelAll calls.
type Store struct {
	mu     sync.Mutex
	flows  map[string]*entry
	closed bool
}

// entry pairs a flow with its resolution channel. waiter is buffered with
// capacity 1, so resolving never blocks the resolver even if the waiting
// transport has already given up.
type entry struct {
	flow     Flow
	waiter   chan Resolution
	resolved bool
}

// NewStore creates an empty flow registry.
func NewStore() *Store {
	return &Store{flows: make(map[string]*entry)}
}

// Create registers a new Pending flow for the captured transaction and
// returns a copy of it. Timestamp defaults to now when zero.
func (s *Store) Create(req snapshot.RequestSnapshot, resp *snapshot.ResponseSnapshot, timestamp, duration float64) Flow {
	if timestamp == 0 {
		timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	f := Flow{
		ID:        id.Flow(),
		Request:   req,
		Response:  cloneResponse(resp),
		Timestamp: timestamp,
		Duration:  duration,
		State:     StatePending,
	}

	s.mu.Lock()
	s.flows[f.ID] = &entry{flow: f}
	s.mu.Unlock()
	return f
}

// Pause transitions a Pending flow to Paused and returns the channel its
// resolution will arrive on. The channel receives exactly one Resolution,
// sent by Resume or CancelAll.
func (s *Store) Pause(flowID string) (<-chan Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A submission racing teardown must not park a waiter nothing will
	// ever resolve.
	if s.closed {
		return nil, ErrStoreClosed
	}

	e, ok := s.flows[flowID]
	if !ok {
		return nil, ErrUnknownFlow
	}
	if e.flow.State != StatePending {
		return nil, ErrInvalidState
	}
	e.flow.State = StatePaused
	e.waiter = make(chan Resolution, 1)
	return e.waiter, nil
}

// Resume resolves a Paused flow with the operator's overrides and unblocks
// its waiter exactly once. Resuming a flow that was already resolved returns
// ErrAlreadyResumed with no side effects; resuming a flow that was never
// paused returns ErrInvalidState.
func (s *Store) Resume(flowID string, mod *snapshot.ModifiedResponse) error {
	return s.resolve(flowID, Resolution{Modified: mod, Reason: ReasonOperator})
}

// Release resolves a Paused flow pass-through. Used when the blocked
// transport stops waiting (context cancelled, debug timeout) so the id does
// not hold a dead waiter. Same idempotency rules as Resume.
func (s *Store) Release(flowID, reason string) error {
	return s.resolve(flowID, Resolution{Reason: reason})
}

func (s *Store) resolve(flowID string, res Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.flows[flowID]
	if !ok {
		return ErrUnknownFlow
	}
	switch e.flow.State {
	case StateResumed, StateCompleted:
		return ErrAlreadyResumed
	case StatePending:
		return ErrInvalidState
	}
	if e.resolved {
		return ErrAlreadyResumed
	}

	e.resolved = true
	e.flow.State = StateResumed
	e.waiter <- res
	return nil
}

// Complete marks a flow terminal once its waiter (if any) has consumed the
// result. Entries are retained for inspection but are immutable afterwards.
func (s *Store) Complete(flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.flows[flowID]
	if !ok {
		return ErrUnknownFlow
	}
	switch e.flow.State {
	case StateCompleted:
		return nil
	case StatePaused:
		if !e.resolved {
			return ErrInvalidState
		}
	}
	e.flow.State = StateCompleted
	return nil
}

// CancelAll resolves every currently paused flow with a pass-through
// resolution (fail-open) and returns how many waiters it released. A waiter
// that resolves concurrently is skipped, never double-resolved; nothing in
// here blocks, so teardown finishes in bounded time.
func (s *Store) CancelAll(reason string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(reason)
}

// Close cancels every paused flow like CancelAll and additionally refuses
// any further Pause. Used on session teardown only; CancelAll alone is for
// mode switches, where the store keeps serving new flows.
func (s *Store) Close(reason string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.cancelLocked(reason)
}

func (s *Store) cancelLocked(reason string) int {
	released := 0
	for _, e := range s.flows {
		if e.flow.State != StatePaused || e.resolved {
			continue
		}
		e.resolved = true
		e.flow.State = StateResumed
		e.waiter <- Resolution{Modified: nil, Reason: reason}
		released++
	}
	return released
}

// TagMock records which rule answered the flow. Legal only before the flow
// turns terminal.
func (s *Store) TagMock(flowID, ruleID, ruleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.flows[flowID]
	if !ok {
		return ErrUnknownFlow
	}
	if e.flow.State == StateCompleted {
		return ErrInvalidState
	}
	e.flow.MockApplied = true
	e.flow.MockRuleID = ruleID
	e.flow.MockRuleName = ruleName
	return nil
}

// SetResponse records the response ultimately delivered to the client
// (original, operator-modified, or mock-synthesized). Legal only before the
// flow turns terminal.
func (s *Store) SetResponse(flowID string, resp snapshot.ResponseSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.flows[flowID]
	if !ok {
		return ErrUnknownFlow
	}
	if e.flow.State == StateCompleted {
		return ErrInvalidState
	}
	e.flow.Response = &resp
	return nil
}

// Get returns a copy of a flow.
func (s *Store) Get(flowID string) (Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.flows[flowID]
	if !ok {
		return Flow{}, false
	}
	return copyFlow(&e.flow), true
}

// List returns copies of all flows in capture order. An empty state filters
// nothing; otherwise only flows in that state are returned.
func (s *Store) List(state State) []Flow {
	s.mu.Lock()
	out := make([]Flow, 0, len(s.flows))
	for _, e := range s.flows {
		if state != "" && e.flow.State != state {
			continue
		}
		out = append(out, copyFlow(&e.flow))
	}
	s.mu.Unlock()

	// Flow ids are time-ordered, so id order is capture order.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the total number of registered flows.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flows)
}

// PausedIDs returns the ids of flows currently awaiting a resolution.
func (s *Store) PausedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for fid, e := range s.flows {
		if e.flow.State == StatePaused && !e.resolved {
			ids = append(ids, fid)
		}
	}
	sort.Strings(ids)
	return ids
}

// Clear drops terminal flows from the registry. Paused flows stay put: they
// still own a blocked transport.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for fid, e := range s.flows {
		switch e.flow.State {
		case StateCompleted, StateResumed:
			delete(s.flows, fid)
			removed++
		}
	}
	return removed
}

func copyFlow(f *Flow) Flow {
	out := *f
	out.Response = cloneResponse(f.Response)
	return out
}

func cloneResponse(r *snapshot.ResponseSnapshot) *snapshot.ResponseSnapshot {
	if r == nil {
		return nil
	}
	out := *r
	if r.Headers != nil {
		out.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			out.Headers[k] = v
		}
	}
	return &out
}
