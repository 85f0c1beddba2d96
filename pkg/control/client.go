package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/interceptd/interceptd/pkg/mockrule"
	"github.com/interceptd/interceptd/pkg/snapshot"
)

// Client talks to a control server. Submit and QueryMock are fail-open: a
// coordinator that is down, slow, or answering garbage degrades to
// pass-through, never to a broken transaction.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	log        *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientTimeout bounds control operations other than Submit. Submit is
// governed only by its context: a debug-mode flow waits as long as the
// operator takes, so the timeout is applied per request rather than on the
// underlying http.Client.
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient creates a control client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts a captured transaction and returns the decision for it. In
// debug mode the call blocks until the flow resolves. Any transport or
// decode failure returns a pass-through decision.
func (c *Client) Submit(ctx context.Context, sub FlowSubmission) FlowDecision {
	resp, err := c.post(ctx, "/flows", sub)
	if err != nil {
		c.log.Warn("flow submission failed, passing through", "error", err)
		return FlowDecision{}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("flow submission rejected, passing through", "status", resp.StatusCode)
		return FlowDecision{}
	}

	var dec FlowDecision
	if err := json.NewDecoder(resp.Body).Decode(&dec); err != nil {
		c.log.Warn("undecodable flow decision, passing through", "error", err)
		return FlowDecision{}
	}
	return dec
}

// QueryMock asks whether a rule matches the request. nil means no match,
// including when the server is unreachable (fail-open).
func (c *Client) QueryMock(ctx context.Context, method, host, path string, query map[string]string) *MockDecision {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	params := url.Values{}
	params.Set("method", method)
	params.Set("host", host)
	params.Set("path", path)
	for k, v := range query {
		params.Set(queryParamPrefix+k, v)
	}

	resp, err := c.get(ctx, "/mock-match?"+params.Encode())
	if err != nil {
		c.log.Warn("mock query failed, passing through", "error", err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var dec MockDecision
	if err := json.NewDecoder(resp.Body).Decode(&dec); err != nil {
		c.log.Warn("undecodable mock decision, passing through", "error", err)
		return nil
	}
	return &dec
}

// Resume resolves a paused flow.
func (c *Client) Resume(ctx context.Context, flowID string, mod *snapshot.ModifiedResponse) (*ResumeAck, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	resp, err := c.post(ctx, "/resume", ResumeCommand{FlowID: flowID, ModifiedResponse: mod})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var ack ResumeAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("decode resume ack: %w", err)
	}
	return &ack, nil
}

// Status returns the session status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	resp, err := c.get(ctx, "/status")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// SwitchMode changes the session mode.
func (c *Client) SwitchMode(ctx context.Context, mode string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	resp, err := c.put(ctx, "/mode", map[string]string{"mode": mode})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}
	return nil
}

// ListFlows lists captured flows, optionally filtered by state.
func (c *Client) ListFlows(ctx context.Context, state string) ([]FlowSubmission, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	path := "/flows"
	if state != "" {
		path += "?state=" + url.QueryEscape(state)
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var body struct {
		Flows []FlowSubmission `json:"flows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode flow list: %w", err)
	}
	return body.Flows, nil
}

// GetFlow fetches a single flow by id.
func (c *Client) GetFlow(ctx context.Context, flowID string) (*FlowSubmission, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	resp, err := c.get(ctx, "/flows/"+url.PathEscape(flowID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var f FlowSubmission
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	return &f, nil
}

// ClearFlows removes completed flows and returns how many were dropped.
func (c *Client) ClearFlows(ctx context.Context) (int, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	resp, err := c.delete(ctx, "/flows")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, c.parseError(resp)
	}

	var body struct {
		Cleared int `json:"cleared"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode clear result: %w", err)
	}
	return body.Cleared, nil
}

// ListRules lists the rule collection.
func (c *Client) ListRules(ctx context.Context) ([]mockrule.Rule, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	resp, err := c.get(ctx, "/rules")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var body struct {
		Rules []mockrule.Rule `json:"rules"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rule list: %w", err)
	}
	return body.Rules, nil
}

// CreateRule adds a rule and returns it with the assigned id.
func (c *Client) CreateRule(ctx context.Context, rule mockrule.Rule) (*mockrule.Rule, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	resp, err := c.post(ctx, "/rules", rule)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return nil, c.parseError(resp)
	}

	var created mockrule.Rule
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decode rule: %w", err)
	}
	return &created, nil
}

// DeleteRule removes a rule by id.
func (c *Client) DeleteRule(ctx context.Context, id string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	resp, err := c.delete(ctx, "/rules/"+url.PathEscape(id))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseError(resp)
	}
	return nil
}

// ImportRules posts a YAML collection. replace drops existing rules first.
// Returns the imported count and the skip reasons for invalid rules.
func (c *Client) ImportRules(ctx context.Context, data []byte, replace bool) (int, []string, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	path := "/rules/import"
	if replace {
		path += "?replace=true"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/yaml")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, nil, c.parseError(resp)
	}

	var body struct {
		Imported int      `json:"imported"`
		Skipped  []string `json:"skipped"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, nil, fmt.Errorf("decode import result: %w", err)
	}
	return body.Imported, body.Skipped, nil
}

// ExportRules fetches the rule collection as YAML.
func (c *Client) ExportRules(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	path := "/rules/export"
	if name != "" {
		path += "?name=" + url.QueryEscape(name)
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}
	return io.ReadAll(resp.Body)
}

// opCtx bounds an operation with the configured timeout. Submit never goes
// through here: a paused flow must be allowed to wait for its operator.
func (c *Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

func (c *Client) delete(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func (c *Client) put(ctx context.Context, path string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "PUT", c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var errResp ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		return fmt.Errorf("%s: %s", errResp.Error, errResp.Message)
	}
	return fmt.Errorf("request failed: status %d", resp.StatusCode)
}
