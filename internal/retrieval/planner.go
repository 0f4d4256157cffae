package retrieval

import "strings"

// Planner normalizes questions and expands them into search variants.
type Planner struct {
	extras []string
}

// NewPlanner creates a planner. Extra variants are searched after the
// original query; blank entries are ignored.
func NewPlanner(extras ...string) *Planner {
	p := &Planner{}
	for _, e := range extras {
		if e = strings.TrimSpace(e); e != "" {
			p.extras = append(p.extras, e)
		}
	}
	return p
}

// Normalize returns the query unchanged. context is reserved for
// conversation-aware rewriting.
func (p *Planner) Normalize(query, context string) string {
	return query
}

// Expand returns the ordered search variants for query, the query itself
// first and without duplicates.
func (p *Planner) Expand(query string) []string {
	variants := []string{query}
	seen := map[string]struct{}{strings.TrimSpace(query): {}}
	for _, e := range p.extras {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		variants = append(variants, e)
	}
	return variants
}
