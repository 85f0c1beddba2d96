package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interceptd/interceptd/pkg/coordinator"
	"github.com/interceptd/interceptd/pkg/logging"
	"github.com/interceptd/interceptd/pkg/mockrule"
	"github.com/interceptd/interceptd/pkg/snapshot"
)

// A coordinator that is down must never break the monitored transaction:
// Submit and QueryMock degrade to pass-through.
func TestClientFailOpenWhenUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", // nothing listens here
		WithClientLogger(logging.Nop()),
		WithClientTimeout(200*time.Millisecond),
	)

	dec := c.Submit(context.Background(), sampleSubmission())
	assert.Empty(t, dec.FlowID)
	assert.Nil(t, dec.Response, "unreachable server means pass-through")

	md := c.QueryMock(context.Background(), "GET", "api.example.com", "/x", nil)
	assert.Nil(t, md)

	_, err := c.Status(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = c.Resume(context.Background(), "f1", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientFailOpenOnGarbageResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, WithClientLogger(logging.Nop()))
	dec := c.Submit(context.Background(), sampleSubmission())
	assert.Nil(t, dec.Response)

	md := c.QueryMock(context.Background(), "GET", "h", "/p", nil)
	assert.Nil(t, md)
}

// The operation timeout must not cut a held submission short: a debug-mode
// flow waits for its operator, however long that takes.
func TestClientTimeoutDoesNotBoundSubmit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/flows":
			// Hold the submission open well past the client timeout.
			time.Sleep(150 * time.Millisecond)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"flow_id":"f1","response":{"status_code":404,"reason":"Not Found","headers":{},"content":"gone"}}`))
		case "/status":
			time.Sleep(150 * time.Millisecond)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"running","mode":"debug","intercepted_count":0,"intercepted_flows":[]}`))
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL,
		WithClientLogger(logging.Nop()),
		WithClientTimeout(20*time.Millisecond),
	)

	dec := c.Submit(context.Background(), sampleSubmission())
	require.NotNil(t, dec.Response, "held submission must survive the operation timeout")
	assert.Equal(t, "f1", dec.FlowID)
	assert.Equal(t, 404, dec.Response.StatusCode)

	// Other operations are bounded by the same timeout.
	_, err := c.Status(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientSubmitAndStatus(t *testing.T) {
	ts, _ := newTestServer(t, coordinator.ModeRecording)
	c := NewClient(ts.URL, WithClientLogger(logging.Nop()))

	dec := c.Submit(context.Background(), sampleSubmission())
	assert.NotEmpty(t, dec.FlowID)
	assert.Nil(t, dec.Response)

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
	// Completed flows are not intercepted; the count tracks paused ones.
	assert.Zero(t, st.InterceptedCount)

	flows, err := c.ListFlows(context.Background(), "completed")
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, dec.FlowID, flows[0].FlowID)
}

func TestClientQueryMock(t *testing.T) {
	ts, coord := newTestServer(t, coordinator.ModeMock)

	content := `{"ok":true}`
	_, err := coord.Rules().Create(mockrule.Rule{
		Name: "hit",
		Match: mockrule.MatchSpec{
			Method: "GET",
			Host:   "api.example.com",
			Path:   "/items",
			Params: []snapshot.QueryParam{
				{Key: "limit", Value: "10", Required: true, Match: snapshot.MatchExact},
			},
		},
		Response: mockrule.ResponseSpec{Content: &content},
	})
	require.NoError(t, err)

	c := NewClient(ts.URL, WithClientLogger(logging.Nop()))

	md := c.QueryMock(context.Background(), "GET", "api.example.com", "/items",
		map[string]string{"limit": "10"})
	require.NotNil(t, md)
	assert.Equal(t, "hit", md.RuleName)
	assert.Equal(t, 200, md.StatusCode)
	assert.Equal(t, content, md.Content)

	md = c.QueryMock(context.Background(), "GET", "api.example.com", "/items",
		map[string]string{"limit": "999"})
	assert.Nil(t, md)
}

func TestClientResumeRoundTrip(t *testing.T) {
	ts, coord := newTestServer(t, coordinator.ModeDebug)
	c := NewClient(ts.URL, WithClientLogger(logging.Nop()))

	decCh := make(chan FlowDecision, 1)
	go func() {
		decCh <- c.Submit(context.Background(), sampleSubmission())
	}()
	flowID := waitForPaused(t, coord)

	status := 503
	ack, err := c.Resume(context.Background(), flowID, &snapshot.ModifiedResponse{StatusCode: &status})
	require.NoError(t, err)
	assert.Equal(t, "resumed", ack.Status)

	select {
	case dec := <-decCh:
		require.NotNil(t, dec.Response)
		assert.Equal(t, 503, dec.Response.StatusCode)
	case <-time.After(2 * time.Second):
		t.Fatal("submit never unblocked")
	}

	_, err = c.Resume(context.Background(), flowID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already_resumed")
}

func TestClientSwitchMode(t *testing.T) {
	ts, coord := newTestServer(t, coordinator.ModeRecording)
	c := NewClient(ts.URL, WithClientLogger(logging.Nop()))

	require.NoError(t, c.SwitchMode(context.Background(), "debug"))
	assert.Equal(t, coordinator.ModeDebug, coord.Mode())

	assert.Error(t, c.SwitchMode(context.Background(), "bogus"))
}

func TestEventsStream(t *testing.T) {
	ts, _ := newTestServer(t, coordinator.ModeRecording)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	c := NewClient(ts.URL, WithClientLogger(logging.Nop()))
	dec := c.Submit(context.Background(), sampleSubmission())
	require.NotEmpty(t, dec.FlowID)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event FlowSubmission
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, dec.FlowID, event.FlowID)
	assert.Equal(t, "POST", event.Request.Method)
	assert.False(t, event.Paused)
}
