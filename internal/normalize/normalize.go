// Package normalize rewrites article text before synthesis so the voice
// pronounces setting-specific words correctly.
package normalize

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// Rule is a case-insensitive regular expression rewrite. Replacement may
// reference capture groups as $1 or ${name}.
type Rule struct {
	Pattern     string
	Replacement string
}

type compiledRule struct {
	re          *regexp2.Regexp
	replacement string
}

// Normalizer applies its rules in order over the whole text; later rules see
// the output of earlier ones.
type Normalizer struct {
	rules []compiledRule
}

func New(rules ...Rule) (*Normalizer, error) {
	n := &Normalizer{}
	if err := n.add(rules); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Normalizer) add(rules []Rule) error {
	for i, r := range rules {
		if r.Pattern == "" {
			return fmt.Errorf("normalize rule %d: pattern must not be empty", i)
		}
		re, err := regexp2.Compile(r.Pattern, regexp2.IgnoreCase)
		if err != nil {
			return fmt.Errorf("normalize rule %d: compile %q: %w", i, r.Pattern, err)
		}
		re.MatchTimeout = time.Second
		n.rules = append(n.rules, compiledRule{re: re, replacement: r.Replacement})
	}
	return nil
}

// With returns a normalizer that runs extra after the receiver's rules.
func (n *Normalizer) With(extra ...Rule) (*Normalizer, error) {
	next := &Normalizer{rules: append([]compiledRule(nil), n.rules...)}
	if err := next.add(extra); err != nil {
		return nil, err
	}
	return next, nil
}

// Apply rewrites text. A rule that times out leaves the text unchanged.
func (n *Normalizer) Apply(text string) string {
	for _, r := range n.rules {
		out, err := r.re.Replace(text, r.replacement, -1, -1)
		if err != nil {
			continue
		}
		text = out
	}
	return text
}

// Len reports the number of rules.
func (n *Normalizer) Len() int { return len(n.rules) }
