package notify

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Filter suppresses notifications for item names matching any ignore pattern.
// Patterns are case-insensitive globs such as "*bones" or "coins".
type Filter struct {
	patterns []glob.Glob
}

// NewFilter compiles patterns. Blank patterns are skipped.
func NewFilter(patterns []string) (*Filter, error) {
	f := &Filter{}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, g)
	}
	return f, nil
}

// Ignored reports whether name matches an ignore pattern. A nil Filter ignores nothing.
func (f *Filter) Ignored(name string) bool {
	if f == nil {
		return false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	for _, g := range f.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}
