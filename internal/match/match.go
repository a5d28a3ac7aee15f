// Package match selects release assets by shell-style glob patterns.
//
// Patterns use path-glob semantics with a literal separator: `*` and `?`
// never match `/`, so `*.zip` matches `a.zip` but not `dir/a.zip`. Braces
// (`*.{b2,sha256}`) and character classes are supported.
package match

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/relsync/internal/errs"
	"github.com/3leaps/relsync/internal/model"
)

// Matcher is a compiled, immutable set of glob patterns.
type Matcher struct {
	patterns []string
}

// Compile validates every pattern and returns a Matcher that ORs them.
func Compile(patterns []string) (*Matcher, error) {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, errs.New(errs.KindPattern, errs.StageSelect, p, fmt.Errorf("invalid glob pattern %q", p))
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, errs.New(errs.KindPattern, errs.StageSelect, "", fmt.Errorf("no glob patterns given"))
	}
	return &Matcher{patterns: out}, nil
}

// Patterns returns the compiled patterns.
func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// Matches reports whether name matches at least one pattern.
func (m *Matcher) Matches(name string) bool {
	for _, p := range m.patterns {
		// patterns were validated in Compile, so Match cannot fail here
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Select returns the assets whose name matches, in release order.
func (m *Matcher) Select(assets []model.Asset) []model.Asset {
	var selected []model.Asset
	for _, a := range assets {
		if m.Matches(a.Name) {
			selected = append(selected, a)
		}
	}
	return selected
}

// SplitList splits a comma separated pattern list, keeping brace groups
// intact so `*.{b2,sha256}` stays one pattern.
func SplitList(s string) []string {
	var (
		out   []string
		cur   strings.Builder
		depth int
	)
	for _, r := range s {
		switch {
		case r == '{':
			depth++
		case r == '}' && depth > 0:
			depth--
		case r == ',' && depth == 0:
			if p := strings.TrimSpace(cur.String()); p != "" {
				out = append(out, p)
			}
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	if p := strings.TrimSpace(cur.String()); p != "" {
		out = append(out, p)
	}
	return out
}
