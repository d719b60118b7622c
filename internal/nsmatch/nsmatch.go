// Package nsmatch implements the namespace matcher: given a namespace's
// identity, labels and annotations, it selects the most specific policy from
// a configured list.
package nsmatch

import "regexp"

// Condition is a single label/annotation conjunction: every listed label
// must equal the namespace's label, and every listed annotation must equal
// the namespace's annotation. Both are exact string comparisons; unlike the
// adapter's client-side annotation filtering, no regex is applied.
type Condition struct {
	Labels      map[string]string `mapstructure:"labels"`
	Annotations map[string]string `mapstructure:"annotations"`
}

// Matcher is the names/any/all predicate set a policy is scored against.
type Matcher struct {
	Names []string    `mapstructure:"names"`
	Any   []Condition `mapstructure:"any"`
	All   []Condition `mapstructure:"all"`
}

// Namespace is the minimal DTO the matcher operates on.
type Namespace struct {
	Name        string
	Labels      map[string]string
	Annotations map[string]string
}

const (
	scoreNames = 1
	scoreAny   = 2
	scoreAll   = 4
)

// Score returns the matcher's score against ns, or 0 if it doesn't match at
// all.
func (m Matcher) Score(ns Namespace) int {
	score := 0

	for _, pattern := range m.Names {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(ns.Name) {
			score += scoreNames
			break
		}
	}

	for _, cond := range m.Any {
		if matchCondition(cond, ns) {
			score += scoreAny
			break
		}
	}

	if len(m.All) > 0 {
		allMatch := true
		for _, cond := range m.All {
			if !matchCondition(cond, ns) {
				allMatch = false
				break
			}
		}
		if allMatch {
			score += scoreAll
		}
	}

	return score
}

func matchCondition(cond Condition, ns Namespace) bool {
	for k, v := range cond.Labels {
		if ns.Labels[k] != v {
			return false
		}
	}
	for k, v := range cond.Annotations {
		if ns.Annotations[k] != v {
			return false
		}
	}
	return true
}

// Match returns the index of the highest-scoring policy for ns, or -1 if no
// policy scores above zero. Ties resolve to the first policy declared.
func Match(policies []Matcher, ns Namespace) int {
	best := -1
	bestScore := 0

	for i, m := range policies {
		score := m.Score(ns)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}

	return best
}
