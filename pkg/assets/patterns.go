// Package assets is the model-asset gateway: it fronts asset downloads
// with the durable cache, serving cached bytes without a network call
// and caching successful downloads, with progress broadcast while bytes
// stream.
package assets

import (
	"fmt"
	"net/url"
	"regexp"
)

// Matcher classifies URLs as model assets by matching a fixed pattern
// set against the URL path and hostname.
type Matcher struct {
	patterns []*regexp.Regexp
}

// NewMatcher compiles the pattern list.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("asset pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// Match reports whether rawURL is a model-asset request.
func (m *Matcher) Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, re := range m.patterns {
		if re.MatchString(u.Path) || re.MatchString(u.Hostname()) {
			return true
		}
	}
	return false
}
