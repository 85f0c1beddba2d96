package snapshot

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestModifiedResponse_ApplyNil(t *testing.T) {
	orig := ResponseSnapshot{
		StatusCode: 200,
		Reason:     "OK",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Content:    `{"ok":true}`,
	}

	var m *ModifiedResponse
	got := m.Apply(orig)
	assert.Equal(t, orig, got)
}

func TestModifiedResponse_ApplyOverrides(t *testing.T) {
	orig := ResponseSnapshot{
		StatusCode: 200,
		Reason:     "OK",
		Headers:    map[string]string{"Content-Type": "application/json", "X-Request-Id": "r1"},
		Content:    `{"ok":true}`,
	}

	mod := &ModifiedResponse{
		StatusCode: intPtr(404),
		Content:    strPtr(`{"error":"x"}`),
	}
	got := mod.Apply(orig)

	assert.Equal(t, 404, got.StatusCode)
	assert.Equal(t, http.StatusText(404), got.Reason)
	assert.Equal(t, `{"error":"x"}`, got.Content)
	// Headers untouched when no override is given.
	assert.Equal(t, orig.Headers, got.Headers)
	// Original must not be mutated.
	assert.Equal(t, 200, orig.StatusCode)
}

func TestModifiedResponse_HeaderMerge(t *testing.T) {
	orig := ResponseSnapshot{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "text/plain", "X-Keep": "yes"},
	}

	mod := &ModifiedResponse{
		Headers: map[string]string{"content-type": "application/json", "X-New": "1"},
	}
	got := mod.Apply(orig)

	// Override replaces the original key case-insensitively; the key set
	// stays unique.
	ct, ok := HeaderValue(got.Headers, "Content-Type")
	require.True(t, ok)
	assert.Equal(t, "application/json", ct)
	assert.Len(t, got.Headers, 3)
	assert.Equal(t, "yes", got.Headers["X-Keep"])
	assert.Equal(t, "1", got.Headers["X-New"])
}

func TestModifiedResponse_IsZero(t *testing.T) {
	var m *ModifiedResponse
	assert.True(t, m.IsZero())
	assert.True(t, (&ModifiedResponse{}).IsZero())
	assert.False(t, (&ModifiedResponse{StatusCode: intPtr(500)}).IsZero())
	assert.False(t, (&ModifiedResponse{Headers: map[string]string{}}).IsZero())
}

func TestHeaderValue_CaseInsensitive(t *testing.T) {
	headers := map[string]string{"Content-Type": "application/json"}

	for _, key := range []string{"Content-Type", "content-type", "CONTENT-TYPE"} {
		v, ok := HeaderValue(headers, key)
		if !ok || v != "application/json" {
			t.Errorf("HeaderValue(%q) = %q, %v", key, v, ok)
		}
	}

	if _, ok := HeaderValue(headers, "Authorization"); ok {
		t.Error("HeaderValue found a header that is not present")
	}
}

func TestFlattenHeader(t *testing.T) {
	h := http.Header{}
	h.Add("Accept", "text/html")
	h.Add("Accept", "application/json")
	h.Set("Host", "api.example.com")

	flat := FlattenHeader(h)
	assert.Equal(t, "text/html, application/json", flat["Accept"])
	assert.Equal(t, "api.example.com", flat["Host"])
}

func TestDecodeContent(t *testing.T) {
	assert.Equal(t, "", DecodeContent(nil))
	assert.Equal(t, `{"user":"x"}`, DecodeContent([]byte(`{"user":"x"}`)))
	assert.Equal(t, "héllo", DecodeContent([]byte("héllo")))

	// Invalid UTF-8 transliterates as Latin-1 rather than corrupting.
	raw := []byte{0xff, 0xfe, 0x41}
	got := DecodeContent(raw)
	assert.Equal(t, "ÿþA", got)
}
