// Package snapshot holds the immutable captured form of an HTTP transaction:
// the request as sent, the response as received, and the optional override
// set applied when a paused flow is resumed.
//
// Snapshots are produced once at capture time and never mutated afterwards.
// Anything that needs a changed response builds a new ResponseSnapshot via
// ModifiedResponse.Apply.
package snapshot

import (
	"net/http"
	"strings"
	"unicode/utf8"
)

// RequestSnapshot is a captured HTTP request.
type RequestSnapshot struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Host    string            `json:"host"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Content string            `json:"content"`
}

// ResponseSnapshot is a captured HTTP response.
type ResponseSnapshot struct {
	StatusCode int               `json:"status_code"`
	Reason     string            `json:"reason"`
	Headers    map[string]string `json:"headers"`
	Content    string            `json:"content"`
}

// ModifiedResponse carries the overrides an operator supplies on resume.
// A nil field means "keep the original value"; headers merge key-wise onto
// the original header set.
type ModifiedResponse struct {
	StatusCode *int              `json:"status_code,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Content    *string           `json:"content,omitempty"`
}

// Apply merges the overrides onto orig and returns the resulting response.
// orig is not modified. Apply on a nil receiver returns orig unchanged
// (pass-through).
func (m *ModifiedResponse) Apply(orig ResponseSnapshot) ResponseSnapshot {
	if m == nil {
		return orig
	}

	out := ResponseSnapshot{
		StatusCode: orig.StatusCode,
		Reason:     orig.Reason,
		Content:    orig.Content,
		Headers:    make(map[string]string, len(orig.Headers)+len(m.Headers)),
	}
	for k, v := range orig.Headers {
		out.Headers[k] = v
	}

	if m.StatusCode != nil {
		out.StatusCode = *m.StatusCode
		out.Reason = http.StatusText(*m.StatusCode)
	}
	for k, v := range m.Headers {
		setHeader(out.Headers, k, v)
	}
	if m.Content != nil {
		out.Content = *m.Content
	}
	return out
}

// IsZero reports whether no override is set. A zero ModifiedResponse on
// resume means pass-through unmodified.
func (m *ModifiedResponse) IsZero() bool {
	return m == nil || (m.StatusCode == nil && m.Headers == nil && m.Content == nil)
}

// StatusReason returns the canonical reason phrase for a status code, or
// "Unknown" for codes outside the IANA registry.
func StatusReason(code int) string {
	if s := http.StatusText(code); s != "" {
		return s
	}
	return "Unknown"
}

// HeaderValue looks up a header case-insensitively.
// Keys in the map are unique; lookups fold case per HTTP semantics.
func HeaderValue(headers map[string]string, key string) (string, bool) {
	if v, ok := headers[key]; ok {
		return v, true
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// setHeader overwrites an existing header regardless of key case, keeping
// the key set unique.
func setHeader(headers map[string]string, key, value string) {
	for k := range headers {
		if strings.EqualFold(k, key) {
			delete(headers, k)
		}
	}
	headers[key] = value
}

// FlattenHeader collapses an http.Header into the single-value map shape
// used on the wire. Multi-valued headers join with ", " per RFC 9110 list
// syntax.
func FlattenHeader(h http.Header) map[string]string {
	if len(h) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

// DecodeContent renders a captured body as text: valid UTF-8 passes through,
// anything else is transliterated byte-for-byte as Latin-1 so the payload
// survives a JSON round trip without corruption.
func DecodeContent(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
