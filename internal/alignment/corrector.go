package alignment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// Rule collapses a window of spans into one span with replacement text.
// Offset spans ahead of the pattern are kept verbatim as a text prefix.
type Rule struct {
	Pattern     []string
	Replacement string
	Offset      int
	Regex       bool
}

type compiledRule struct {
	Rule
	matchers []*regexp2.Regexp
}

// Corrector applies rules in order, one left-to-right pass per rule.
type Corrector struct {
	rules []compiledRule
}

func NewCorrector(rules ...Rule) (*Corrector, error) {
	c := &Corrector{}
	for i, r := range rules {
		cr, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("correction rule %d: %w", i, err)
		}
		c.rules = append(c.rules, cr)
	}
	return c, nil
}

func compileRule(r Rule) (compiledRule, error) {
	if len(r.Pattern) == 0 {
		return compiledRule{}, errors.New("pattern must not be empty")
	}
	if r.Offset < 0 {
		return compiledRule{}, errors.New("offset must be >= 0")
	}
	cr := compiledRule{Rule: r}
	if !r.Regex {
		return cr, nil
	}
	for _, token := range r.Pattern {
		re, err := regexp2.Compile(`^(?:`+token+`)`, regexp2.IgnoreCase)
		if err != nil {
			return compiledRule{}, fmt.Errorf("compile %q: %w", token, err)
		}
		re.MatchTimeout = time.Second
		cr.matchers = append(cr.matchers, re)
	}
	return cr, nil
}

// With returns a corrector running the receiver's rules followed by extra.
func (c *Corrector) With(extra ...Rule) (*Corrector, error) {
	next, err := NewCorrector(extra...)
	if err != nil {
		return nil, err
	}
	rules := make([]compiledRule, 0, len(c.rules)+len(next.rules))
	rules = append(rules, c.rules...)
	rules = append(rules, next.rules...)
	return &Corrector{rules: rules}, nil
}

// Correct returns a new span slice; the input is not modified.
func (c *Corrector) Correct(spans []Span) []Span {
	out := spans
	for _, r := range c.rules {
		out = r.apply(out)
	}
	if len(c.rules) == 0 {
		out = append([]Span(nil), spans...)
	}
	return out
}

func (r compiledRule) apply(seq []Span) []Span {
	width := r.Offset + len(r.Pattern)
	result := make([]Span, 0, len(seq))
	i := 0
	for i < len(seq) {
		if i+width <= len(seq) && r.matches(seq[i+r.Offset:i+width]) {
			result = append(result, r.collapse(seq[i:i+width]))
			i += width
			continue
		}
		result = append(result, seq[i])
		i++
	}
	return result
}

func (r compiledRule) matches(window []Span) bool {
	for j, span := range window {
		if r.Regex {
			ok, err := r.matchers[j].MatchString(span.Text)
			if err != nil || !ok {
				return false
			}
			continue
		}
		if !strings.EqualFold(span.Text, r.Pattern[j]) {
			return false
		}
	}
	return true
}

func (r compiledRule) collapse(window []Span) Span {
	var text strings.Builder
	if r.Offset > 0 {
		for j, span := range window[:r.Offset] {
			if j > 0 {
				text.WriteByte(' ')
			}
			text.WriteString(span.Text)
		}
		text.WriteByte(' ')
	}
	text.WriteString(r.Replacement)

	var total int64
	for _, span := range window {
		total += span.Length
	}
	return Span{Text: text.String(), Start: window[0].Start, Length: max(total, MinSpanMS)}
}

// ItemRules restores list items whose words the provider emitted as separate
// spans: each item becomes one exact-match rule.
func ItemRules(items []string) []Rule {
	return SpokenItemRules(items, nil)
}

// SpokenItemRules is ItemRules for items that were rewritten before
// synthesis. spoken maps an item to the text the provider read; the rule
// matches those words and restores the original item.
func SpokenItemRules(items []string, spoken func(string) string) []Rule {
	rules := make([]Rule, 0, len(items))
	for _, item := range items {
		said := item
		if spoken != nil {
			said = spoken(item)
		}
		words := strings.Fields(said)
		if len(words) == 0 {
			continue
		}
		rules = append(rules, Rule{Pattern: words, Replacement: item})
	}
	return rules
}
