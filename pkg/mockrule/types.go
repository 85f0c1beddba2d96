// Package mockrule defines mock rules and the thread-safe collection they
// live in. A rule pairs a match specification (method, host, path, query
// parameters, optional condition) with a response specification whose fields
// override a synthesized default response.
package mockrule

import (
	"time"

	"github.com/interceptd/interceptd/pkg/snapshot"
)

// Rule is one stored mock rule.
type Rule struct {
	// ID is assigned by the store on create (UUID).
	ID string `json:"id" yaml:"id"`

	// Name is the operator-facing display name.
	Name string `json:"name" yaml:"name"`

	// Match selects which requests this rule answers.
	Match MatchSpec `json:"match" yaml:"match"`

	// Response describes the synthesized answer.
	Response ResponseSpec `json:"response" yaml:"response"`

	// CreatedAt orders rules for the specificity tie-break.
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`

	// seq disambiguates rules created within the same wall-clock instant.
	// Assigned by the store; creation order is the documented tie-break.
	seq uint64
}

// MatchSpec is the request side of a rule.
//
// Method matches case-insensitively; Host and Path match exactly. Params
// follow the per-parameter match type (EXACT, WILDCARD, REGEX). An empty
// Params list matches any query string; query parameters present on the
// request but absent from the spec are ignored.
type MatchSpec struct {
	Method string                `json:"method" yaml:"method"`
	Host   string                `json:"host" yaml:"host"`
	Path   string                `json:"path" yaml:"path"`
	Params []snapshot.QueryParam `json:"params,omitempty" yaml:"params,omitempty"`

	// Condition is an optional expression evaluated against the request
	// environment (method, host, path, query). A condition that fails to
	// compile or evaluate skips the rule; it never aborts a scan.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// BodyJSONPath holds optional JSONPath conditions checked against a
	// JSON request body: path -> expected value.
	BodyJSONPath map[string]any `json:"bodyJsonPath,omitempty" yaml:"bodyJsonPath,omitempty"`
}

// ResponseSpec is the response side of a rule. Same optional-override shape
// as a resume payload: nil fields fall back to the synthesized defaults
// (200, empty body).
type ResponseSpec struct {
	StatusCode *int              `json:"status_code,omitempty" yaml:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Content    *string           `json:"content,omitempty" yaml:"content,omitempty"`
}

// RequiredParams counts the required parameters in the match spec; the
// matcher uses this to rank rule specificity.
func (m MatchSpec) RequiredParams() int {
	n := 0
	for _, p := range m.Params {
		if p.Required {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the rule so a matching scan can hold an
// atomic view while the collection mutates.
func (r *Rule) Clone() Rule {
	out := *r
	out.Match.Params = append([]snapshot.QueryParam(nil), r.Match.Params...)
	if r.Match.BodyJSONPath != nil {
		out.Match.BodyJSONPath = make(map[string]any, len(r.Match.BodyJSONPath))
		for k, v := range r.Match.BodyJSONPath {
			out.Match.BodyJSONPath[k] = v
		}
	}
	if r.Response.Headers != nil {
		out.Response.Headers = make(map[string]string, len(r.Response.Headers))
		for k, v := range r.Response.Headers {
			out.Response.Headers[k] = v
		}
	}
	if r.Response.StatusCode != nil {
		sc := *r.Response.StatusCode
		out.Response.StatusCode = &sc
	}
	if r.Response.Content != nil {
		c := *r.Response.Content
		out.Response.Content = &c
	}
	return out
}
