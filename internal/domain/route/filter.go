package route

import "strings"

// DefaultBypassPrefixes are the path prefixes, without the leading slash,
// that never reach the gate: API routes, build assets, image optimizer and
// the favicon.
var DefaultBypassPrefixes = []string{
	"api",
	"_next/static",
	"_next/image",
	"favicon.ico",
}

// PathFilter decides which requests skip the gate entirely.
type PathFilter struct {
	prefixes []string
}

// NewPathFilter creates a PathFilter. Prefixes may be written with or
// without a leading slash. A nil list uses DefaultBypassPrefixes; an empty
// non-nil list bypasses nothing.
func NewPathFilter(prefixes []string) *PathFilter {
	if prefixes == nil {
		prefixes = DefaultBypassPrefixes
	}
	normalized := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimPrefix(p, "/")
		if p == "" {
			continue
		}
		normalized = append(normalized, p)
	}
	return &PathFilter{prefixes: normalized}
}

// Bypass reports whether path should go straight downstream.
func (f *PathFilter) Bypass(path string) bool {
	rel := strings.TrimPrefix(path, "/")
	for _, p := range f.prefixes {
		if strings.HasPrefix(rel, p) {
			return true
		}
	}
	return false
}

// Prefixes returns the normalized bypass prefixes.
func (f *PathFilter) Prefixes() []string {
	return append([]string(nil), f.prefixes...)
}
