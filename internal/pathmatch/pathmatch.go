// Package pathmatch provides glob-based include/exclude matching over
// project-relative paths, used to evaluate watchedFiles/ignoredFiles and
// ignoredPaths against filesystem change events.
package pathmatch

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher decides whether a path should be included, given glob-style
// include and exclude pattern lists.
type Matcher struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewMatcher constructs a Matcher from glob patterns.
// An empty include slice means include all (unless excluded).
func NewMatcher(includeGlobs, excludeGlobs []string) (*Matcher, error) {
	compile := func(globs []string) ([]*regexp.Regexp, error) {
		out := make([]*regexp.Regexp, 0, len(globs))
		for _, g := range globs {
			if strings.TrimSpace(g) == "" {
				continue
			}
			pattern := globToRegex(g)
			r, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("compile glob %s: %w", g, err)
			}
			out = append(out, r)
		}
		return out, nil
	}
	incs, err := compile(includeGlobs)
	if err != nil {
		return nil, err
	}
	excs, err := compile(excludeGlobs)
	if err != nil {
		return nil, err
	}
	return &Matcher{include: incs, exclude: excs}, nil
}

// Match returns true if path passes the matcher, along with an exclusion
// reason string if false.
func (m *Matcher) Match(path string) (bool, string) {
	if m == nil {
		return true, ""
	}
	for _, rx := range m.exclude {
		if rx.MatchString(path) {
			return false, "excluded_by_pattern"
		}
	}
	if len(m.include) == 0 {
		return true, ""
	}
	for _, rx := range m.include {
		if rx.MatchString(path) {
			return true, ""
		}
	}
	return false, "not_in_includes"
}

// globToRegex converts a shell-style glob to an anchored regex string.
func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '.', '+', '(', ')', '|', '^', '$', '{', '}', '[', ']', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteString("$")
	return b.String()
}
