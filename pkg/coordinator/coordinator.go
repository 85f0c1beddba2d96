// Package coordinator owns the interception session: the current mode, the
// flow registry, the mock rule collection, and the blocking submit/resume
// exchange between a captured transaction and whoever decides its fate.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/interceptd/interceptd/internal/matching"
	"github.com/interceptd/interceptd/pkg/flow"
	"github.com/interceptd/interceptd/pkg/mockrule"
	"github.com/interceptd/interceptd/pkg/snapshot"
)

// Mode selects what happens to a submitted flow.
type Mode string

// Session modes. The strings are the wire values.
const (
	// ModeRecording observes flows and passes every response through.
	ModeRecording Mode = "recording"
	// ModeDebug pauses every flow until an operator resumes it.
	ModeDebug Mode = "debug"
	// ModeMock answers flows from the rule collection when one matches.
	ModeMock Mode = "mock"
)

// ParseMode converts a wire string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRecording, ModeDebug, ModeMock:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// ErrStopped is returned by operations that need a running session.
var ErrStopped = errors.New("session not running")

// Submission is one captured transaction handed to the coordinator. The
// response is the upstream's answer, nil when the upstream was never reached.
type Submission struct {
	Request   snapshot.RequestSnapshot
	Response  *snapshot.ResponseSnapshot
	Timestamp float64
	Duration  float64
}

// Decision tells the submitting transport what to deliver. A nil Response
// means pass the original through unmodified.
type Decision struct {
	FlowID       string
	Response     *snapshot.ResponseSnapshot
	MockApplied  bool
	MockRuleID   string
	MockRuleName string
}

// Status is a point-in-time view of the session.
type Status struct {
	Running          bool
	Mode             Mode
	StartedAt        time.Time
	InterceptedCount int
	PausedFlows      []string
}

// Coordinator drives one interception session.
type Coordinator struct {
	log    *slog.Logger
	flows  *flow.Store
	rules  *mockrule.Store
	engine *matching.Engine
	events *Broker

	// debugTimeout bounds how long a debug-mode submission waits for an
	// operator. Zero waits indefinitely.
	debugTimeout time.Duration

	mu        sync.RWMutex
	mode      Mode
	running   bool
	startTime time.Time
}

// Option is a functional option for configuring a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMode sets the initial session mode.
func WithMode(m Mode) Option {
	return func(c *Coordinator) { c.mode = m }
}

// WithDebugTimeout bounds the debug-mode wait. Zero keeps the default of
// waiting indefinitely.
func WithDebugTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.debugTimeout = d }
}

// WithRuleStore replaces the internally constructed rule collection, e.g. to
// share one preloaded from disk.
func WithRuleStore(rs *mockrule.Store) Option {
	return func(c *Coordinator) {
		if rs != nil {
			c.rules = rs
		}
	}
}

// New creates a Coordinator in recording mode. Call Start before submitting.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		log:   slog.Default(),
		flows: flow.NewStore(),
		rules: mockrule.NewStore(),
		mode:  ModeRecording,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.engine = matching.NewEngine(c.log)
	c.events = NewBroker()
	return c
}

// Flows exposes the session's flow registry.
func (c *Coordinator) Flows() *flow.Store { return c.flows }

// Rules exposes the session's mock rule collection.
func (c *Coordinator) Rules() *mockrule.Store { return c.rules }

// Events exposes the live flow feed.
func (c *Coordinator) Events() *Broker { return c.events }

// Start marks the session running.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.startTime = time.Now()
	c.log.Info("session started", "mode", c.mode)
}

// Stop ends the session. Every paused flow is resolved pass-through before
// Stop returns, so no transport is left blocked behind a dead session.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	// Close, not CancelAll: a Submit that saw running just before the flip
	// must find the store refusing to pause, or its waiter would never
	// resolve.
	released := c.flows.Close(flow.ReasonTeardown)
	c.events.Close()
	c.log.Info("session stopped", "released", released)
}

// Mode returns the current session mode.
func (c *Coordinator) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SwitchMode changes the session mode. Leaving debug releases every paused
// flow pass-through; their operators lost the ability to answer.
func (c *Coordinator) SwitchMode(m Mode) error {
	if _, err := ParseMode(string(m)); err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.mode
	c.mode = m
	c.mu.Unlock()

	if prev == ModeDebug && m != ModeDebug {
		if released := c.flows.CancelAll(flow.ReasonTeardown); released > 0 {
			c.log.Info("released paused flows on mode switch", "count", released)
		}
	}
	if prev != m {
		c.log.Info("mode switched", "from", prev, "to", m)
	}
	return nil
}

// Status reports the session's run state, mode, and paused flows.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	running, mode, started := c.running, c.mode, c.startTime
	c.mu.RUnlock()

	paused := c.flows.PausedIDs()
	return Status{
		Running:          running,
		Mode:             mode,
		StartedAt:        started,
		InterceptedCount: len(paused),
		PausedFlows:      paused,
	}
}

// Submit registers a captured transaction and returns the decision for it.
// In debug mode the call blocks until an operator resumes the flow, the
// context is cancelled, or the configured wait timeout fires; the latter two
// resolve pass-through. Submit never fails a transaction: every error path
// degrades to pass-through.
func (c *Coordinator) Submit(ctx context.Context, sub Submission) Decision {
	c.mu.RLock()
	running, mode := c.running, c.mode
	c.mu.RUnlock()

	if !running {
		return Decision{}
	}

	f := c.flows.Create(sub.Request, sub.Response, sub.Timestamp, sub.Duration)

	switch mode {
	case ModeDebug:
		return c.submitDebug(ctx, f, sub)
	case ModeMock:
		return c.submitMock(f, sub)
	default:
		c.complete(f.ID)
		c.publish(f.ID)
		return Decision{FlowID: f.ID}
	}
}

func (c *Coordinator) submitDebug(ctx context.Context, f flow.Flow, sub Submission) Decision {
	ch, err := c.flows.Pause(f.ID)
	if err != nil {
		if errors.Is(err, flow.ErrStoreClosed) {
			c.log.Debug("submission raced teardown, passing through", "flow_id", f.ID)
		} else {
			c.log.Error("pause failed", "flow_id", f.ID, "error", err)
		}
		c.complete(f.ID)
		return Decision{FlowID: f.ID}
	}
	c.publish(f.ID)

	var timeout <-chan time.Time
	if c.debugTimeout > 0 {
		t := time.NewTimer(c.debugTimeout)
		defer t.Stop()
		timeout = t.C
	}

	var res flow.Resolution
	select {
	case res = <-ch:
	case <-ctx.Done():
		// The submitter gave up. Resolve so the id does not hold a dead
		// waiter; an operator racing us wins, and we take their answer.
		_ = c.flows.Release(f.ID, flow.ReasonAbandoned)
		res = <-ch
	case <-timeout:
		_ = c.flows.Release(f.ID, flow.ReasonTimeout)
		res = <-ch
	}

	dec := Decision{FlowID: f.ID}
	if res.Modified != nil {
		var orig snapshot.ResponseSnapshot
		if sub.Response != nil {
			orig = *sub.Response
		}
		final := res.Modified.Apply(orig)
		dec.Response = &final
		if err := c.flows.SetResponse(f.ID, final); err != nil {
			c.log.Warn("record modified response failed", "flow_id", f.ID, "error", err)
		}
	}
	c.complete(f.ID)
	c.log.Debug("flow resumed", "flow_id", f.ID, "reason", res.Reason, "modified", res.Modified != nil)
	return dec
}

func (c *Coordinator) submitMock(f flow.Flow, sub Submission) Decision {
	dec := Decision{FlowID: f.ID}

	if md := c.engine.Match(c.rules.Snapshot(), matchRequest(sub.Request)); md != nil {
		resp := snapshot.ResponseSnapshot{
			StatusCode: md.StatusCode,
			Reason:     snapshot.StatusReason(md.StatusCode),
			Headers:    md.Headers,
			Content:    md.Content,
		}
		dec.Response = &resp
		dec.MockApplied = true
		dec.MockRuleID = md.RuleID
		dec.MockRuleName = md.RuleName

		if err := c.flows.TagMock(f.ID, md.RuleID, md.RuleName); err != nil {
			c.log.Warn("tag mock failed", "flow_id", f.ID, "error", err)
		}
		if err := c.flows.SetResponse(f.ID, resp); err != nil {
			c.log.Warn("record mock response failed", "flow_id", f.ID, "error", err)
		}
		c.log.Debug("mock applied", "flow_id", f.ID, "rule", md.RuleName)
	}

	c.complete(f.ID)
	c.publish(f.ID)
	return dec
}

// QueryMock runs the matching engine without registering a flow. Used by the
// standalone mock-match endpoint.
func (c *Coordinator) QueryMock(req matching.Request) *matching.Decision {
	return c.engine.Match(c.rules.Snapshot(), req)
}

// Resume resolves a paused flow with the operator's overrides.
func (c *Coordinator) Resume(flowID string, mod *snapshot.ModifiedResponse) error {
	if err := c.flows.Resume(flowID, mod); err != nil {
		return err
	}
	c.log.Info("flow resumed by operator", "flow_id", flowID, "modified", mod != nil)
	return nil
}

func (c *Coordinator) complete(flowID string) {
	if err := c.flows.Complete(flowID); err != nil {
		c.log.Warn("complete failed", "flow_id", flowID, "error", err)
	}
}

func (c *Coordinator) publish(flowID string) {
	if f, ok := c.flows.Get(flowID); ok {
		c.events.Publish(f)
	}
}

// matchRequest projects a request snapshot into the matching engine's view.
// First query value wins for repeated keys.
func matchRequest(req snapshot.RequestSnapshot) matching.Request {
	mr := matching.Request{
		Method: req.Method,
		Host:   req.Host,
		Path:   req.Path,
		Body:   req.Content,
	}
	if u, err := snapshot.ParseURL(req.URL); err == nil {
		mr.Query = u.QueryValues()
		if mr.Host == "" {
			mr.Host = u.Host
		}
		if mr.Path == "" {
			mr.Path = u.Path
		}
	}
	return mr
}
