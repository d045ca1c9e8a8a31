package pathmatch

import "testing"

func TestMatchIncludeOnly(t *testing.T) {
	m, err := NewMatcher([]string{"*.go", "src/*.ts"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cases := map[string]bool{
		"main.go":       true,
		"src/app.ts":    true,
		"README.md":     false,
		"src/other.tsx": false,
	}
	for path, want := range cases {
		got, reason := m.Match(path)
		if got != want {
			t.Fatalf("path %s: expected %v, got %v (reason %q)", path, want, got, reason)
		}
	}
}

func TestMatchExcludeTakesPrecedence(t *testing.T) {
	m, err := NewMatcher([]string{"*.go"}, []string{"*_test.go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, reason := m.Match("policy_test.go")
	if ok {
		t.Fatalf("expected exclusion for test file")
	}
	if reason != "excluded_by_pattern" {
		t.Fatalf("expected excluded_by_pattern reason, got %q", reason)
	}
	ok, _ = m.Match("policy.go")
	if !ok {
		t.Fatalf("expected policy.go to be included")
	}
}

func TestMatchNoIncludeMeansIncludeAll(t *testing.T) {
	m, err := NewMatcher(nil, []string{"*.tmp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := m.Match("anything.txt"); !ok {
		t.Fatalf("expected anything.txt included with empty include list")
	}
	if ok, _ := m.Match("cache.tmp"); ok {
		t.Fatalf("expected cache.tmp excluded")
	}
}

func TestMatchBlankPatternsIgnored(t *testing.T) {
	m, err := NewMatcher([]string{"", "  ", "*.go"}, []string{""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := m.Match("main.go"); !ok {
		t.Fatalf("expected main.go included")
	}
}

func TestNilMatcherIncludesEverything(t *testing.T) {
	var m *Matcher
	if ok, reason := m.Match("anything"); !ok || reason != "" {
		t.Fatalf("expected nil matcher to include everything, got %v %q", ok, reason)
	}
}
