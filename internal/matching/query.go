package matching

import (
	"fmt"
	"regexp"

	"github.com/interceptd/interceptd/pkg/snapshot"
)

// matchParam evaluates one spec parameter against the actual query values.
// A non-nil error marks the parameter's pattern as malformed; the caller
// skips the whole rule.
func matchParam(p snapshot.QueryParam, query map[string]string) (bool, error) {
	actual, present := query[p.Key]

	switch p.Match {
	case snapshot.MatchWildcard:
		return present, nil
	case snapshot.MatchRegex:
		re, err := regexp.Compile(p.Value)
		if err != nil {
			return false, fmt.Errorf("compile pattern %q: %w", p.Value, err)
		}
		return present && re.MatchString(actual), nil
	case snapshot.MatchExact, "":
		return present && actual == p.Value, nil
	default:
		return false, fmt.Errorf("unknown match type %q", p.Match)
	}
}
