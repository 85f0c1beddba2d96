// Package matching decides which mock rule, if any, answers a captured
// request.
//
// The scan is deterministic: rules are filtered on method/host/path, their
// query-parameter specs are evaluated, and the most specific survivor wins
// (greatest count of required matched parameters, ties broken by earliest
// creation order). A malformed rule (bad regex, bad condition expression)
// is skipped and logged; it never aborts the scan.
package matching

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/interceptd/interceptd/pkg/mockrule"
)

// Request is the descriptor a scan runs against: the decomposed request
// line plus the query parameters and optional body.
type Request struct {
	Method string
	Host   string
	Path   string
	Query  map[string]string
	Body   string
}

// Decision is a materialized mock answer. StatusCode, Headers and Content
// are fully resolved against the defaults (200, empty body).
type Decision struct {
	RuleID     string            `json:"rule_id"`
	RuleName   string            `json:"rule_name"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Content    string            `json:"content"`
}

// Engine scans rule snapshots. The zero value is not usable; construct with
// NewEngine.
type Engine struct {
	log *slog.Logger
}

// NewEngine creates an engine that logs skipped rules to log.
func NewEngine(log *slog.Logger) *Engine {
	return &Engine{log: log}
}

// Match evaluates req against a rule snapshot and returns the decision of
// the most specific matching rule, or nil when no rule matches.
//
// rules must be in creation order; the scan is stable, so the first rule
// among equals wins the tie-break.
func (e *Engine) Match(rules []mockrule.Rule, req Request) *Decision {
	var (
		best      *mockrule.Rule
		bestScore = -1
	)

	for i := range rules {
		rule := &rules[i]
		if !strings.EqualFold(rule.Match.Method, req.Method) {
			continue
		}
		if rule.Match.Host != req.Host || rule.Match.Path != req.Path {
			continue
		}

		score, ok := e.evalParams(rule, req.Query)
		if !ok {
			continue
		}

		if rule.Match.Condition != "" {
			matched, err := evalCondition(rule.Match.Condition, req)
			if err != nil {
				e.log.Warn("skipping rule with bad condition",
					"rule_id", rule.ID, "rule_name", rule.Name, "error", err)
				continue
			}
			if !matched {
				continue
			}
		}

		if len(rule.Match.BodyJSONPath) > 0 {
			matched, err := evalBodyJSONPath(rule.Match.BodyJSONPath, req.Body)
			if err != nil {
				e.log.Warn("skipping rule with bad body condition",
					"rule_id", rule.ID, "rule_name", rule.Name, "error", err)
				continue
			}
			if !matched {
				continue
			}
		}

		if score > bestScore {
			best = rule
			bestScore = score
		}
	}

	if best == nil {
		return nil
	}
	return materialize(best)
}

// evalParams checks every parameter in the rule's spec against the actual
// query. Required parameters gate the match and are the only ones counted
// toward specificity; optional parameters never disqualify a rule.
// Parameters present on the request but absent from the spec are ignored.
func (e *Engine) evalParams(rule *mockrule.Rule, query map[string]string) (score int, ok bool) {
	for _, p := range rule.Match.Params {
		matched, err := matchParam(p, query)
		if err != nil {
			e.log.Warn("skipping rule with bad param pattern",
				"rule_id", rule.ID, "rule_name", rule.Name, "param", p.Key, "error", err)
			return 0, false
		}
		if p.Required {
			if !matched {
				return 0, false
			}
			score++
		}
	}
	return score, true
}

// materialize resolves a rule's response spec against the synthesized
// defaults.
func materialize(rule *mockrule.Rule) *Decision {
	d := &Decision{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		StatusCode: http.StatusOK,
	}
	if rule.Response.StatusCode != nil {
		d.StatusCode = *rule.Response.StatusCode
	}
	if rule.Response.Content != nil {
		d.Content = *rule.Response.Content
	}
	if len(rule.Response.Headers) > 0 {
		d.Headers = make(map[string]string, len(rule.Response.Headers))
		for k, v := range rule.Response.Headers {
			d.Headers[k] = v
		}
	}
	return d
}
