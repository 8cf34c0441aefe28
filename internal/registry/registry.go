// Package registry maps a target's (domain, category) to the extractor
// responsible for it. The table is fixed at startup; resolution is a pure
// lookup with no runtime mutation.
package registry

import (
	"strings"

	"github.com/mowaffer/grocery-scraper/internal/scraper"
)

// Rule binds a domain pattern, and optionally a category, to an
// extractor. DomainPattern matches as a case-insensitive substring of the
// target's domain, so "oscarstores.com" matches "www.oscarstores.com".
type Rule struct {
	DomainPattern string
	Category      string
	Extractor     scraper.Extractor
}

// Registry is a static rule table implementing scraper.Registry.
type Registry struct {
	rules []Rule
}

// New builds a registry from the given rules. Rules are consulted in
// order; the first match wins, so category-specific rules should precede
// a domain's catch-all rule.
func New(rules ...Rule) *Registry {
	return &Registry{rules: rules}
}

// Resolve returns the extractor for the domain and category, or false if
// none is registered.
func (r *Registry) Resolve(domain, category string) (scraper.Extractor, bool) {
	d := strings.ToLower(domain)
	for _, rule := range r.rules {
		if !strings.Contains(d, strings.ToLower(rule.DomainPattern)) {
			continue
		}
		if rule.Category != "" && rule.Category != category {
			continue
		}
		if rule.Extractor == nil {
			// Registered but not implemented (e.g. an announced store
			// without a scraper yet).
			return nil, false
		}
		return rule.Extractor, true
	}
	return nil, false
}

// Domains lists the distinct domain patterns in the table, for startup
// logging.
func (r *Registry) Domains() []string {
	seen := make(map[string]struct{}, len(r.rules))
	out := make([]string, 0, len(r.rules))
	for _, rule := range r.rules {
		if _, ok := seen[rule.DomainPattern]; ok {
			continue
		}
		seen[rule.DomainPattern] = struct{}{}
		out = append(out, rule.DomainPattern)
	}
	return out
}
