package agent

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/interceptd/interceptd/pkg/snapshot"
)

// DefaultMaxBodySize caps how much of a body is captured (10MB). Bodies
// larger than this are truncated in the capture but forwarded intact.
const DefaultMaxBodySize = 10 * 1024 * 1024

// captureRequest snapshots an outgoing request. The body is drained and
// restored so the request can still be sent.
func captureRequest(r *http.Request, maxBody int64) (snapshot.RequestSnapshot, error) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			return snapshot.RequestSnapshot{}, err
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	u := *r.URL
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}

	return snapshot.RequestSnapshot{
		Method:  r.Method,
		URL:     u.String(),
		Host:    stripPort(u.Host),
		Path:    u.Path,
		Headers: snapshot.FlattenHeader(r.Header),
		Content: snapshot.DecodeContent(body),
	}, nil
}

// captureResponse snapshots a received response, draining its body. The
// returned bytes are the exact body to replay to the client.
func captureResponse(resp *http.Response, maxBody int64) (snapshot.ResponseSnapshot, []byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return snapshot.ResponseSnapshot{}, nil, err
	}
	_ = resp.Body.Close()

	reason := resp.Status
	if i := strings.IndexByte(reason, ' '); i >= 0 {
		reason = reason[i+1:]
	}

	return snapshot.ResponseSnapshot{
		StatusCode: resp.StatusCode,
		Reason:     reason,
		Headers:    snapshot.FlattenHeader(resp.Header),
		Content:    snapshot.DecodeContent(body),
	}, body, nil
}

// buildResponse materializes a decided response snapshot as an
// *http.Response for the given request.
func buildResponse(req *http.Request, rs *snapshot.ResponseSnapshot) *http.Response {
	header := make(http.Header, len(rs.Headers))
	for k, v := range rs.Headers {
		header.Set(k, v)
	}
	body := []byte(rs.Content)
	header.Del("Content-Length")

	reason := rs.Reason
	if reason == "" {
		reason = snapshot.StatusReason(rs.StatusCode)
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", rs.StatusCode, reason),
		StatusCode:    rs.StatusCode,
		Proto:         req.Proto,
		ProtoMajor:    req.ProtoMajor,
		ProtoMinor:    req.ProtoMinor,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// epochSeconds converts a wall-clock time to the wire's float timestamp.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
