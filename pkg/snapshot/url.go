package snapshot

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// MatchType selects how a query parameter value is compared during rule
// matching.
type MatchType string

const (
	// MatchExact requires the request value to equal the rule value.
	MatchExact MatchType = "EXACT"
	// MatchWildcard requires the key to be present with any value.
	MatchWildcard MatchType = "WILDCARD"
	// MatchRegex compares the request value against a regular expression.
	// A pattern that does not compile never matches; it must not abort the
	// scan.
	MatchRegex MatchType = "REGEX"
)

// QueryParam is one query-string parameter together with its matching
// semantics when it appears in a mock rule.
type QueryParam struct {
	Key      string    `json:"key" yaml:"key"`
	Value    string    `json:"value" yaml:"value"`
	Required bool      `json:"required" yaml:"required"`
	Match    MatchType `json:"matchType,omitempty" yaml:"matchType,omitempty"`
}

// StructuredURL is the decomposed form of a request URL. Port 0 means the
// URL carries no explicit port. Params preserve query-string order.
type StructuredURL struct {
	Scheme string       `json:"scheme"`
	Host   string       `json:"host"`
	Port   int          `json:"port,omitempty"`
	Path   string       `json:"path"`
	Params []QueryParam `json:"params,omitempty"`
}

// ParseURL decomposes a URL string. Query parameters keep their original
// order and default to EXACT matching.
func ParseURL(raw string) (StructuredURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return StructuredURL{}, fmt.Errorf("parse url %q: %w", raw, err)
	}

	out := StructuredURL{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Path:   u.Path,
	}
	if out.Path == "" {
		out.Path = "/"
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return StructuredURL{}, fmt.Errorf("parse url %q: invalid port %q", raw, p)
		}
		out.Port = n
	}

	if u.RawQuery != "" {
		out.Params = parseQueryOrdered(u.RawQuery)
	}
	return out, nil
}

// parseQueryOrdered splits a raw query string preserving pair order,
// which url.Values would lose.
func parseQueryOrdered(rawQuery string) []QueryParam {
	var params []QueryParam
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			k = key
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			v = value
		}
		params = append(params, QueryParam{Key: k, Value: v, Required: true, Match: MatchExact})
	}
	return params
}

// String serializes the structured URL. For any URL parsed by ParseURL the
// result parses back to an equivalent structure (parameter order preserved).
func (u StructuredURL) String() string {
	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteString("://")
	}
	b.WriteString(u.Host)
	if u.Port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(u.Port))
	}
	if u.Path == "" {
		b.WriteByte('/')
	} else {
		b.WriteString(u.Path)
	}
	if len(u.Params) > 0 {
		b.WriteByte('?')
		for i, p := range u.Params {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(p.Key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(p.Value))
		}
	}
	return b.String()
}

// QueryValues converts the ordered parameter list into a lookup map.
// First occurrence wins for duplicate keys, matching the behavior of the
// mock-match query descriptor.
func (u StructuredURL) QueryValues() map[string]string {
	out := make(map[string]string, len(u.Params))
	for _, p := range u.Params {
		if _, ok := out[p.Key]; !ok {
			out[p.Key] = p.Value
		}
	}
	return out
}
