package agent

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/interceptd/interceptd/pkg/control"
	"github.com/interceptd/interceptd/pkg/snapshot"
)

// RoundTripper intercepts transactions inside the monitored process. It
// performs the real round trip, submits the captured pair to the control
// server, and delivers whatever comes back; the calling goroutine blocks for
// exactly as long as its flow stays paused.
type RoundTripper struct {
	base      http.RoundTripper
	client    *control.Client
	filter    *Filter
	log       *slog.Logger
	maxBody   int64
	mockFirst bool
}

// TransportOption configures a RoundTripper.
type TransportOption func(*RoundTripper)

// WithBase sets the underlying transport. Defaults to
// http.DefaultTransport.
func WithBase(rt http.RoundTripper) TransportOption {
	return func(t *RoundTripper) {
		if rt != nil {
			t.base = rt
		}
	}
}

// WithFilter scopes which transactions are submitted.
func WithFilter(f *Filter) TransportOption {
	return func(t *RoundTripper) { t.filter = f }
}

// WithTransportLogger sets the logger.
func WithTransportLogger(log *slog.Logger) TransportOption {
	return func(t *RoundTripper) {
		if log != nil {
			t.log = log
		}
	}
}

// WithMaxBodySize caps the captured body size.
func WithMaxBodySize(n int64) TransportOption {
	return func(t *RoundTripper) {
		if n > 0 {
			t.maxBody = n
		}
	}
}

// WithMockLookahead consults the rule engine before contacting the
// upstream, so a matching rule answers without any network round trip.
// Enable when the session runs in mock mode.
func WithMockLookahead(enabled bool) TransportOption {
	return func(t *RoundTripper) { t.mockFirst = enabled }
}

// NewRoundTripper wraps the default transport with interception through the
// given control client.
func NewRoundTripper(client *control.Client, opts ...TransportOption) *RoundTripper {
	t := &RoundTripper{
		base:    http.DefaultTransport,
		client:  client,
		log:     slog.Default(),
		maxBody: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.filter.ShouldIntercept(req.URL.Hostname(), req.URL.Path) {
		return t.base.RoundTrip(req)
	}

	start := time.Now()

	reqSnap, err := captureRequest(req, t.maxBody)
	if err != nil {
		t.log.Warn("request capture failed, passing through", "error", err)
		return t.base.RoundTrip(req)
	}

	if t.mockFirst {
		if md := t.client.QueryMock(req.Context(), reqSnap.Method, reqSnap.Host, reqSnap.Path, queryMap(req)); md != nil {
			// A rule answers this request; skip the upstream entirely and
			// let the coordinator record and tag the flow.
			dec := t.client.Submit(req.Context(), control.FlowSubmission{
				Request:   reqSnap,
				Timestamp: epochSeconds(start),
			})
			if dec.Response != nil {
				return buildResponse(req, dec.Response), nil
			}
			rs := snapshot.ResponseSnapshot{
				StatusCode: md.StatusCode,
				Reason:     snapshot.StatusReason(md.StatusCode),
				Headers:    md.Headers,
				Content:    md.Content,
			}
			return buildResponse(req, &rs), nil
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		// The upstream failed; there is nothing to pause or mock. Surface
		// the error untouched.
		return nil, err
	}

	respSnap, respBody, err := captureResponse(resp, t.maxBody)
	if err != nil {
		t.log.Warn("response capture failed, passing through", "error", err)
		return resp, nil
	}

	dec := t.client.Submit(req.Context(), control.FlowSubmission{
		Request:   reqSnap,
		Response:  &respSnap,
		Timestamp: epochSeconds(start),
		Duration:  time.Since(start).Seconds(),
	})

	if dec.Response != nil {
		t.log.Debug("delivering decided response",
			"flow_id", dec.FlowID, "status", dec.Response.StatusCode, "mock", dec.MockApplied)
		return buildResponse(req, dec.Response), nil
	}

	// Pass-through: hand back the original response with the body we
	// drained during capture restored.
	resp.Body = io.NopCloser(bytes.NewReader(respBody))
	return resp, nil
}

// queryMap flattens the request's query string, first value per key.
func queryMap(req *http.Request) map[string]string {
	vals := req.URL.Query()
	if len(vals) == 0 {
		return nil
	}
	out := make(map[string]string, len(vals))
	for k, vs := range vals {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
