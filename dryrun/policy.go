package dryrun

import (
	"fmt"
	"strconv"
	"strings"
)

// Strategy is a fixed rule for picking choice options.
type Strategy string

const (
	First       Strategy = "first"
	Last        Strategy = "last"
	Alternating Strategy = "alternating"
	Fixed       Strategy = "fixed"
)

// Policy picks an option at every choice. A Fixed policy follows Path,
// one entry per choice reached; missing entries pick option 0 and
// out-of-range entries are clamped to the last option.
type Policy struct {
	Strategy Strategy `json:"strategy" yaml:"strategy"`
	Path     []int    `json:"path,omitempty" yaml:"path,omitempty"`
}

// FixedPath returns a Fixed policy following path.
func FixedPath(path ...int) Policy {
	return Policy{Strategy: Fixed, Path: path}
}

// Of returns a policy for a plain strategy.
func Of(s Strategy) Policy {
	return Policy{Strategy: s}
}

// Label names the policy in reports, e.g. "first" or "fixed[0,2]".
func (p Policy) Label() string {
	if p.Strategy != Fixed {
		return string(p.Strategy)
	}
	parts := make([]string, len(p.Path))
	for i, v := range p.Path {
		parts[i] = strconv.Itoa(v)
	}
	return "fixed[" + strings.Join(parts, ",") + "]"
}

// Select returns the option index for the cursor-th choice, reached at
// step, with n options.
func (p Policy) Select(step, n, cursor int) int {
	if n <= 0 {
		return 0
	}
	switch p.Strategy {
	case Last:
		return n - 1
	case Alternating:
		return step % n
	case Fixed:
		if cursor < 0 || cursor >= len(p.Path) {
			return 0
		}
		return max(0, min(p.Path[cursor], n-1))
	}
	return 0
}

// ParsePolicy reads "first", "last", "alternating" or "fixed:0,1,2".
func ParsePolicy(s string) (Policy, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch Strategy(s) {
	case First, Last, Alternating:
		return Of(Strategy(s)), nil
	}
	rest, ok := strings.CutPrefix(s, "fixed:")
	if !ok {
		return Policy{}, fmt.Errorf("unknown choice policy %q", s)
	}
	var path []int
	for _, part := range strings.Split(rest, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return Policy{}, fmt.Errorf("choice policy %q: %w", s, err)
		}
		path = append(path, v)
	}
	return FixedPath(path...), nil
}
