// Package agent provides the interception transports: an http.RoundTripper
// for in-process capture and a forward proxy for wire-level capture. Both
// hand captured transactions to a control client and deliver whatever it
// decides. Every failure inside the agent degrades to pass-through; a broken
// interception layer must never break the traffic it watches.
package agent

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter scopes interception with glob patterns over host and path.
//
// Precedence: any exclude match wins, then includes (when present) must
// match, otherwise the transaction is in scope. Host patterns fold case;
// path patterns are case-sensitive and use '/'-aware globs, so `/api/**`
// covers nested routes where `/api/*` covers one segment.
type Filter struct {
	IncludeHosts []string
	ExcludeHosts []string
	IncludePaths []string
	ExcludePaths []string
}

// ShouldIntercept reports whether a transaction to host+path is in scope.
// A nil filter intercepts everything.
func (f *Filter) ShouldIntercept(host, path string) bool {
	if f == nil {
		return true
	}
	host = strings.ToLower(stripPort(host))

	for _, pattern := range f.ExcludeHosts {
		if globMatch(strings.ToLower(pattern), host) {
			return false
		}
	}
	for _, pattern := range f.ExcludePaths {
		if globMatch(pattern, path) {
			return false
		}
	}

	if len(f.IncludeHosts) > 0 {
		matched := false
		for _, pattern := range f.IncludeHosts {
			if globMatch(strings.ToLower(pattern), host) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(f.IncludePaths) > 0 {
		for _, pattern := range f.IncludePaths {
			if globMatch(pattern, path) {
				return true
			}
		}
		return false
	}
	return true
}

// globMatch is doublestar matching with invalid patterns treated as
// non-matching rather than fatal.
func globMatch(pattern, s string) bool {
	ok, err := doublestar.Match(pattern, s)
	return err == nil && ok
}

func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		return host[:i]
	}
	return host
}
