package agent

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interceptd/interceptd/pkg/control"
	"github.com/interceptd/interceptd/pkg/coordinator"
	"github.com/interceptd/interceptd/pkg/logging"
	"github.com/interceptd/interceptd/pkg/mockrule"
	"github.com/interceptd/interceptd/pkg/snapshot"
)

// controlStack spins up a coordinator behind a live control server and
// returns a client pointed at it.
func controlStack(t *testing.T, mode coordinator.Mode) (*control.Client, *coordinator.Coordinator) {
	t.Helper()
	coord := coordinator.New(
		coordinator.WithLogger(logging.Nop()),
		coordinator.WithMode(mode),
	)
	coord.Start()

	srv := control.NewServer(coord, control.WithServerLogger(logging.Nop()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		coord.Stop()
		ts.Close()
	})
	return control.NewClient(ts.URL, control.WithClientLogger(logging.Nop())), coord
}

func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"from":"upstream"}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestRoundTripperRecordingPassThrough(t *testing.T) {
	client, coord := controlStack(t, coordinator.ModeRecording)
	up := upstream(t)

	hc := &http.Client{Transport: NewRoundTripper(client, WithTransportLogger(logging.Nop()))}
	resp, err := hc.Get(up.URL + "/items?limit=10")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"from":"upstream"}`, string(body))
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))

	// The transaction was recorded.
	require.Equal(t, 1, coord.Flows().Count())
	flows := coord.Flows().List("")
	assert.Equal(t, "GET", flows[0].Request.Method)
	assert.Equal(t, "/items", flows[0].Request.Path)
	require.NotNil(t, flows[0].Response)
	assert.Equal(t, `{"from":"upstream"}`, flows[0].Response.Content)
}

func TestRoundTripperDebugRewrite(t *testing.T) {
	client, coord := controlStack(t, coordinator.ModeDebug)
	up := upstream(t)

	hc := &http.Client{Transport: NewRoundTripper(client, WithTransportLogger(logging.Nop()))}

	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := hc.Get(up.URL + "/login")
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	flowID := waitPaused(t, coord)
	status := 404
	body := `{"error":"nope"}`
	require.NoError(t, coord.Resume(flowID, &snapshot.ModifiedResponse{
		StatusCode: &status,
		Content:    &body,
	}))

	select {
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case resp := <-respCh:
		defer func() { _ = resp.Body.Close() }()
		got, _ := io.ReadAll(resp.Body)
		assert.Equal(t, 404, resp.StatusCode)
		assert.Equal(t, body, string(got))
		assert.Equal(t, "yes", resp.Header.Get("X-Upstream"), "untouched headers preserved")
	case <-time.After(2 * time.Second):
		t.Fatal("request never unblocked")
	}
}

func TestRoundTripperMockLookaheadSkipsUpstream(t *testing.T) {
	client, coord := controlStack(t, coordinator.ModeMock)

	upstreamHits := 0
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
	}))
	defer up.Close()

	status := 200
	content := `{"mocked":true}`
	_, err := coord.Rules().Create(mockrule.Rule{
		Name: "catch",
		Match: mockrule.MatchSpec{
			Method: "GET",
			Host:   "127.0.0.1",
			Path:   "/data",
		},
		Response: mockrule.ResponseSpec{
			StatusCode: &status,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Content:    &content,
		},
	})
	require.NoError(t, err)

	hc := &http.Client{Transport: NewRoundTripper(client,
		WithTransportLogger(logging.Nop()),
		WithMockLookahead(true),
	)}
	resp, err := hc.Get(up.URL + "/data")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, content, string(body))
	assert.Zero(t, upstreamHits, "matched rule must answer without contacting upstream")

	// The flow was still recorded and tagged.
	flows := coord.Flows().List("")
	require.Len(t, flows, 1)
	assert.True(t, flows[0].MockApplied)
	assert.Equal(t, "catch", flows[0].MockRuleName)
}

func TestRoundTripperFilterSkipsSubmission(t *testing.T) {
	client, coord := controlStack(t, coordinator.ModeRecording)
	up := upstream(t)

	hc := &http.Client{Transport: NewRoundTripper(client,
		WithTransportLogger(logging.Nop()),
		WithFilter(&Filter{ExcludePaths: []string{"/health"}}),
	)}
	resp, err := hc.Get(up.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Zero(t, coord.Flows().Count(), "excluded traffic must not be submitted")
}

// With the control server down the wrapped client keeps working.
func TestRoundTripperFailOpenWithoutControlServer(t *testing.T) {
	up := upstream(t)

	client := control.NewClient("http://127.0.0.1:1",
		control.WithClientLogger(logging.Nop()),
		control.WithClientTimeout(200*time.Millisecond),
	)
	hc := &http.Client{Transport: NewRoundTripper(client, WithTransportLogger(logging.Nop()))}

	resp, err := hc.Get(up.URL + "/anything")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"from":"upstream"}`, string(body))
}

func TestRoundTripperUpstreamErrorSurfaces(t *testing.T) {
	client, _ := controlStack(t, coordinator.ModeRecording)

	hc := &http.Client{Transport: NewRoundTripper(client, WithTransportLogger(logging.Nop()))}
	_, err := hc.Get("http://127.0.0.1:1/unreachable")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "refused") || strings.Contains(err.Error(), "connect"),
		"upstream failure must surface, got: %v", err)
}

func waitPaused(t *testing.T, coord *coordinator.Coordinator) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ids := coord.Flows().PausedIDs(); len(ids) > 0 {
			return ids[0]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no flow reached paused state")
	return ""
}
