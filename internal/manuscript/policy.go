package manuscript

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// Policy decides which identifiers are never narrated. Patterns are matched
// case-insensitively from the start of the identifier; the allow list is an
// exact-match override.
type Policy struct {
	disallow []*regexp2.Regexp
	allow    map[string]struct{}

	// MaxSections disallows longer articles. Zero means no limit.
	MaxSections int
}

func NewPolicy(disallow, allow []string) (*Policy, error) {
	p := &Policy{allow: make(map[string]struct{}, len(allow))}
	for _, pattern := range disallow {
		re, err := regexp2.Compile(`^(?:`+pattern+`)`, regexp2.IgnoreCase)
		if err != nil {
			return nil, fmt.Errorf("disallow pattern %q: %w", pattern, err)
		}
		re.MatchTimeout = time.Second
		p.disallow = append(p.disallow, re)
	}
	for _, id := range allow {
		p.allow[id] = struct{}{}
	}
	return p, nil
}

func (p *Policy) Disallowed(id string) bool {
	if _, ok := p.allow[id]; ok {
		return false
	}
	for _, re := range p.disallow {
		if ok, err := re.MatchString(id); err == nil && ok {
			return true
		}
	}
	return false
}

// TooLong reports whether a segmented article exceeds MaxSections and is not
// on the allow list.
func (p *Policy) TooLong(id string, sections int) bool {
	if p.MaxSections <= 0 || sections <= p.MaxSections {
		return false
	}
	_, ok := p.allow[id]
	return !ok
}
