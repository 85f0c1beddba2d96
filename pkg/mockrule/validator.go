package mockrule

import (
	"fmt"

	"github.com/interceptd/interceptd/pkg/snapshot"
)

// Validate checks the structural invariants of a rule. It deliberately does
// not compile REGEX parameter patterns or condition expressions: those are
// guarded at match time, where a bad pattern skips the rule instead of
// rejecting it, so imported collections with one broken rule still load.
func Validate(r *Rule) error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Match.Method == "" {
		return fmt.Errorf("rule %q: match method is required", r.Name)
	}
	if r.Match.Host == "" {
		return fmt.Errorf("rule %q: match host is required", r.Name)
	}
	if r.Match.Path == "" {
		return fmt.Errorf("rule %q: match path is required", r.Name)
	}

	for i, p := range r.Match.Params {
		if p.Key == "" {
			return fmt.Errorf("rule %q: param %d has an empty key", r.Name, i)
		}
		switch p.Match {
		case "", snapshot.MatchExact, snapshot.MatchWildcard, snapshot.MatchRegex:
		default:
			return fmt.Errorf("rule %q: param %q has unknown match type %q", r.Name, p.Key, p.Match)
		}
	}

	if r.Response.StatusCode != nil {
		if sc := *r.Response.StatusCode; sc < 100 || sc > 599 {
			return fmt.Errorf("rule %q: status code %d out of range", r.Name, sc)
		}
	}
	return nil
}
