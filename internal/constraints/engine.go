// Package constraints implements the declarative provenance constraint rule
// engine: which entity type / sub-type combinations may legally appear as
// descendants of which ancestors. One rule table answers both directions by
// indexing on either side.
package constraints

import (
	"fmt"
	"strings"

	"entitycore/pkg/domain"
)

// Order selects which side of the rule table a query node is matched against.
type Order string

// Query orders. OrderAncestors treats the query node as the ancestor and
// returns legal descendants; OrderDescendants is the reverse lookup.
const (
	OrderAncestors   Order = "ancestors"
	OrderDescendants Order = "descendants"
)

// Rule declares the legal descendant set for one ancestor shape.
type Rule struct {
	Ancestor    domain.Descriptor
	Descendants []domain.Descriptor
}

// MatchResult reports a candidate-list comparison. Canonical always carries
// the authoritative counterpart set so a failed caller can self-correct.
type MatchResult struct {
	OK        bool
	Canonical []domain.Descriptor
}

// Engine evaluates constraint queries over an immutable rule table loaded at
// process start. It is stateless per call; concurrent use needs no locking.
type Engine struct {
	rules        []Rule
	known        map[string]struct{}
	searchFields map[string]string
}

// New constructs an engine from a rule table. The known entity type set is
// derived from the table plus the extra names supplied.
func New(rules []Rule, extraTypes []string, searchFields map[string]string) (*Engine, error) {
	if len(rules) == 0 {
		return nil, domain.SchemaLoadError{Source: "constraints", Reason: "empty rule table"}
	}
	known := make(map[string]struct{})
	for i, rule := range rules {
		if rule.Ancestor.EntityType == "" {
			return nil, domain.SchemaLoadError{Source: "constraints", Reason: fmt.Sprintf("rule %d: ancestor entity_type required", i)}
		}
		if len(rule.Descendants) == 0 {
			return nil, domain.SchemaLoadError{Source: "constraints", Reason: fmt.Sprintf("rule %d: descendant set required", i)}
		}
		known[strings.ToLower(rule.Ancestor.EntityType)] = struct{}{}
		for j, d := range rule.Descendants {
			if d.EntityType == "" {
				return nil, domain.SchemaLoadError{Source: "constraints", Reason: fmt.Sprintf("rule %d descendant %d: entity_type required", i, j)}
			}
			known[strings.ToLower(d.EntityType)] = struct{}{}
		}
	}
	for _, t := range extraTypes {
		known[strings.ToLower(t)] = struct{}{}
	}
	if searchFields == nil {
		searchFields = map[string]string{}
	}
	return &Engine{rules: rules, known: known, searchFields: searchFields}, nil
}

// queryUnit reduces a query node list to its unit of lookup. Only the first
// element of a multi-entry list is considered; entries beyond it are ignored
// rather than combined. Downstream callers depend on this behavior.
func queryUnit(nodes []domain.Descriptor) (domain.Descriptor, bool) {
	if len(nodes) == 0 {
		return domain.Descriptor{}, false
	}
	return nodes[0], true
}

// wildcardEqual compares two descriptors treating an absent sub-type sequence
// on either side as matching anything, mirroring the rule table's use of nil
// as "any specialization".
func wildcardEqual(a, b domain.Descriptor) bool {
	na, nb := a.Normalize(), b.Normalize()
	if na.EntityType != nb.EntityType {
		return false
	}
	if na.SubType != nil && nb.SubType != nil && !sameSeq(na.SubType, nb.SubType) {
		return false
	}
	if na.SubTypeVal != nil && nb.SubTypeVal != nil && !sameSeq(na.SubTypeVal, nb.SubTypeVal) {
		return false
	}
	return true
}

func sameSeq(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Lookup returns the canonical counterpart set for the query node. Ancestor
// lookups resolve to the first matching rule; rule order in the table is
// authoritative. Descendant lookups gather every rule that admits the unit,
// since one descendant shape may be legal under several ancestors.
func (e *Engine) Lookup(order Order, query []domain.Descriptor) ([]domain.Descriptor, error) {
	unit, ok := queryUnit(query)
	if !ok {
		return nil, domain.ErrBadRequest{Message: fmt.Sprintf("missing `%s` in request", order)}
	}
	if _, ok := e.known[strings.ToLower(unit.EntityType)]; !ok {
		return nil, domain.ErrNotFound{Kind: "entity_type", ID: unit.EntityType}
	}
	switch order {
	case OrderAncestors:
		for _, rule := range e.rules {
			if wildcardEqual(rule.Ancestor, unit) {
				return append([]domain.Descriptor(nil), rule.Descendants...), nil
			}
		}
	case OrderDescendants:
		// Descendant-side indexing also keys on the first element of the
		// rule's descendant list only.
		var ancestors []domain.Descriptor
		for _, rule := range e.rules {
			if first, ok := queryUnit(rule.Descendants); ok && wildcardEqual(first, unit) {
				if !containsDescriptor(ancestors, rule.Ancestor) {
					ancestors = append(ancestors, rule.Ancestor)
				}
			}
		}
		if len(ancestors) > 0 {
			return ancestors, nil
		}
	default:
		return nil, domain.ErrBadRequest{Message: fmt.Sprintf("unknown order %q", order)}
	}
	return nil, domain.ErrNotFound{Kind: "constraints", ID: describe(unit)}
}

func containsDescriptor(set []domain.Descriptor, d domain.Descriptor) bool {
	for _, existing := range set {
		if existing.Equal(d) {
			return true
		}
	}
	return false
}

// Match compares a candidate list against the canonical set for the query
// node. Every candidate must equal one canonical descriptor; a sub-type chain
// is compared whole, so a partial chain fails even if each value appears in
// the canonical chain. Canonical is populated on failure for self-correction.
func (e *Engine) Match(order Order, query, candidates []domain.Descriptor) (MatchResult, error) {
	canonical, err := e.Lookup(order, query)
	if err != nil {
		return MatchResult{}, err
	}
	result := MatchResult{Canonical: canonical}
	if len(candidates) == 0 {
		return result, nil
	}
	for _, candidate := range candidates {
		found := false
		for _, canon := range canonical {
			if wildcardEqual(candidate, canon) {
				found = true
				break
			}
		}
		if !found {
			return result, nil
		}
	}
	result.OK = true
	return result, nil
}

// PermitsLink reports whether a concrete descendant may be attached under a
// concrete ancestor. Unlike Match, a descendant passes when its sub-type
// values are contained in a canonical descriptor's allowed set, since the
// canonical chain lists every legal specialization.
func (e *Engine) PermitsLink(ancestor, descendant domain.Descriptor) (bool, []domain.Descriptor, error) {
	canonical, err := e.Lookup(OrderAncestors, []domain.Descriptor{ancestor})
	if err != nil {
		return false, nil, err
	}
	desc := descendant.Normalize()
	for _, canon := range canonical {
		c := canon.Normalize()
		if c.EntityType != desc.EntityType {
			continue
		}
		if c.SubType == nil || desc.SubType == nil || subset(desc.SubType, c.SubType) {
			return true, canonical, nil
		}
	}
	return false, canonical, nil
}

func subset(values, allowed []string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	for _, v := range values {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

// RenderSearchFilters expands the canonical set for the query node into flat
// keyword/value filter pairs using the engine's static field mapping.
func (e *Engine) RenderSearchFilters(order Order, query []domain.Descriptor) ([]domain.SearchFilter, error) {
	canonical, err := e.Lookup(order, query)
	if err != nil {
		return nil, err
	}
	var filters []domain.SearchFilter
	for _, desc := range canonical {
		filters = append(filters, domain.SearchFilter{
			Keyword: "entity_type",
			Value:   titleCase(desc.EntityType),
		})
		field := e.subTypeField(desc.EntityType)
		for _, sub := range desc.SubType {
			filters = append(filters, domain.SearchFilter{Keyword: field, Value: sub})
		}
	}
	return filters, nil
}

// subTypeField resolves the keyword field carrying a type's sub-type values.
// The mapping is configuration, not inference.
func (e *Engine) subTypeField(entityType string) string {
	key := strings.ToLower(entityType)
	if field, ok := e.searchFields[key]; ok {
		return field
	}
	return key + "_category"
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func describe(d domain.Descriptor) string {
	if len(d.SubType) == 0 {
		return d.EntityType
	}
	return fmt.Sprintf("%s[%s]", d.EntityType, strings.Join(d.SubType, ","))
}
