package agent

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
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

// proxiedClient returns an http.Client routed through the given proxy.
func proxiedClient(t *testing.T, p *Proxy) *http.Client {
	t.Helper()
	ps := httptest.NewServer(p)
	t.Cleanup(ps.Close)

	proxyURL, err := url.Parse(ps.URL)
	require.NoError(t, err)
	return &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}
}

func TestProxyRecordingPassThrough(t *testing.T) {
	client, coord := controlStack(t, coordinator.ModeRecording)
	up := upstream(t)

	p := NewProxy(client, WithProxyLogger(logging.Nop()))
	hc := proxiedClient(t, p)

	resp, err := hc.Get(up.URL + "/items?limit=10")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"from":"upstream"}`, string(body))
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))

	require.Equal(t, 1, coord.Flows().Count())
	flows := coord.Flows().List("")
	assert.Equal(t, "/items", flows[0].Request.Path)
	assert.Equal(t, `{"from":"upstream"}`, flows[0].Response.Content)
}

func TestProxyDebugRewrite(t *testing.T) {
	client, coord := controlStack(t, coordinator.ModeDebug)
	up := upstream(t)

	p := NewProxy(client, WithProxyLogger(logging.Nop()))
	hc := proxiedClient(t, p)

	respCh := make(chan *http.Response, 1)
	go func() {
		resp, err := hc.Get(up.URL + "/login")
		if err == nil {
			respCh <- resp
		}
	}()

	flowID := waitPaused(t, coord)
	status := 503
	body := `{"maintenance":true}`
	require.NoError(t, coord.Resume(flowID, &snapshot.ModifiedResponse{
		StatusCode: &status,
		Content:    &body,
	}))

	select {
	case resp := <-respCh:
		defer func() { _ = resp.Body.Close() }()
		got, _ := io.ReadAll(resp.Body)
		assert.Equal(t, 503, resp.StatusCode)
		assert.Equal(t, body, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("proxied request never unblocked")
	}
}

func TestProxyMockLookahead(t *testing.T) {
	client, coord := controlStack(t, coordinator.ModeMock)

	hits := make(chan struct{}, 8)
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
	}))
	defer up.Close()

	content := `{"mocked":true}`
	_, err := coord.Rules().Create(mockrule.Rule{
		Name:     "proxy mock",
		Match:    mockrule.MatchSpec{Method: "GET", Host: "127.0.0.1", Path: "/data"},
		Response: mockrule.ResponseSpec{Content: &content},
	})
	require.NoError(t, err)

	p := NewProxy(client,
		WithProxyLogger(logging.Nop()),
		WithProxyMockLookahead(true),
	)
	hc := proxiedClient(t, p)

	resp, err := hc.Get(up.URL + "/data")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, content, string(body))
	assert.Empty(t, hits, "matched rule must answer without contacting upstream")
}

func TestProxyFilterForwardsWithoutCapture(t *testing.T) {
	client, coord := controlStack(t, coordinator.ModeRecording)
	up := upstream(t)

	p := NewProxy(client,
		WithProxyLogger(logging.Nop()),
		WithProxyFilter(&Filter{ExcludePaths: []string{"/health"}}),
	)
	hc := proxiedClient(t, p)

	resp, err := hc.Get(up.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"from":"upstream"}`, string(body), "excluded traffic still forwarded")
	assert.Zero(t, coord.Flows().Count())
}

func TestProxyFailOpenWithoutControlServer(t *testing.T) {
	up := upstream(t)

	client := control.NewClient("http://127.0.0.1:1",
		control.WithClientLogger(logging.Nop()),
		control.WithClientTimeout(200*time.Millisecond),
	)
	p := NewProxy(client, WithProxyLogger(logging.Nop()))
	hc := proxiedClient(t, p)

	resp, err := hc.Get(up.URL + "/anything")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProxyUpstreamDownReturnsBadGateway(t *testing.T) {
	client, _ := controlStack(t, coordinator.ModeRecording)

	p := NewProxy(client, WithProxyLogger(logging.Nop()))
	hc := proxiedClient(t, p)

	resp, err := hc.Get("http://127.0.0.1:1/unreachable")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestProxySetFilterAtRuntime(t *testing.T) {
	client, coord := controlStack(t, coordinator.ModeRecording)
	up := upstream(t)

	p := NewProxy(client, WithProxyLogger(logging.Nop()))
	hc := proxiedClient(t, p)

	resp, err := hc.Get(up.URL + "/a")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, 1, coord.Flows().Count())

	p.SetFilter(&Filter{ExcludePaths: []string{"/**"}})
	resp, err = hc.Get(up.URL + "/b")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, 1, coord.Flows().Count(), "filter swap must apply immediately")
}
