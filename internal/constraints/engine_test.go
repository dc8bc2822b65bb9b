package constraints

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"entitycore/pkg/domain"
)

func desc(entityType string, subType ...string) domain.Descriptor {
	d := domain.Descriptor{EntityType: entityType}
	if len(subType) > 0 {
		d.SubType = subType
	}
	return d
}

func TestLookupAncestorsWorkedExample(t *testing.T) {
	engine := Default()
	canonical, err := engine.Lookup(OrderAncestors, []domain.Descriptor{desc("Sample", "block")})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	want := []domain.Descriptor{
		desc("sample", "block", "section", "suspension"),
		desc("dataset", "lightsheet"),
	}
	if len(canonical) != len(want) {
		t.Fatalf("canonical = %v", canonical)
	}
	for i := range want {
		if !canonical[i].Equal(want[i]) {
			t.Fatalf("canonical[%d] = %v, want %v", i, canonical[i], want[i])
		}
	}
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	engine := Default()
	upper, err := engine.Lookup(OrderAncestors, []domain.Descriptor{desc("SAMPLE", "Block")})
	if err != nil {
		t.Fatalf("lookup upper: %v", err)
	}
	lower, err := engine.Lookup(OrderAncestors, []domain.Descriptor{desc("sample", "block")})
	if err != nil {
		t.Fatalf("lookup lower: %v", err)
	}
	if len(upper) != len(lower) {
		t.Fatalf("case-sensitive results: %v vs %v", upper, lower)
	}
}

func TestLookupUsesFirstElementOnly(t *testing.T) {
	engine := Default()
	// The donor in position two must be ignored; only sample[block] is looked up.
	canonical, err := engine.Lookup(OrderAncestors, []domain.Descriptor{
		desc("sample", "block"),
		desc("donor"),
	})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(canonical) != 2 || !canonical[1].Equal(desc("dataset", "lightsheet")) {
		t.Fatalf("canonical = %v, want sample[block] result", canonical)
	}
}

func TestLookupReverseOrder(t *testing.T) {
	engine := Default()
	ancestors, err := engine.Lookup(OrderDescendants, []domain.Descriptor{desc("sample", "organ")})
	if err != nil {
		t.Fatalf("reverse lookup: %v", err)
	}
	// Only the donor rule admits sample[organ] as its first descendant.
	if len(ancestors) != 1 || !ancestors[0].Equal(desc("donor")) {
		t.Fatalf("ancestors = %v, want [donor]", ancestors)
	}
}

func TestLookupReverseCollectsAllAdmittingRules(t *testing.T) {
	engine := Default()
	// Both the organ and block rules list the block/section/suspension chain
	// as their first descendant, so the reverse lookup carries both ancestors.
	ancestors, err := engine.Lookup(OrderDescendants, []domain.Descriptor{
		desc("sample", "block", "section", "suspension"),
	})
	if err != nil {
		t.Fatalf("reverse lookup: %v", err)
	}
	want := []domain.Descriptor{desc("sample", "organ"), desc("sample", "block")}
	if len(ancestors) != len(want) {
		t.Fatalf("ancestors = %v, want %v", ancestors, want)
	}
	for i := range want {
		if !ancestors[i].Equal(want[i]) {
			t.Fatalf("ancestors[%d] = %v, want %v", i, ancestors[i], want[i])
		}
	}
}

func TestMatchReverseWorkedExample(t *testing.T) {
	engine := Default()
	result, err := engine.Match(OrderDescendants,
		[]domain.Descriptor{desc("Sample", "block", "section", "suspension")},
		[]domain.Descriptor{desc("Sample", "block")})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !result.OK {
		t.Fatalf("sample[block] must be a legal ancestor, canonical %v", result.Canonical)
	}
}

func TestLookupErrors(t *testing.T) {
	engine := Default()

	_, err := engine.Lookup(OrderAncestors, nil)
	var bad domain.ErrBadRequest
	if !errors.As(err, &bad) {
		t.Fatalf("empty query: expected ErrBadRequest, got %v", err)
	}

	_, err = engine.Lookup(OrderAncestors, []domain.Descriptor{desc("spaceship")})
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("unknown type: expected ErrNotFound, got %v", err)
	}

	// Known type with no matching rule side.
	_, err = engine.Lookup(OrderAncestors, []domain.Descriptor{desc("collection")})
	if !errors.As(err, &notFound) {
		t.Fatalf("no rule: expected ErrNotFound, got %v", err)
	}
}

func TestMatchMembershipSemantics(t *testing.T) {
	engine := Default()
	query := []domain.Descriptor{desc("Sample", "block")}

	t.Run("single candidate matching one canonical descriptor passes", func(t *testing.T) {
		result, err := engine.Match(OrderAncestors, query, []domain.Descriptor{desc("dataset", "lightsheet")})
		if err != nil {
			t.Fatalf("match: %v", err)
		}
		if !result.OK {
			t.Fatalf("expected match, canonical %v", result.Canonical)
		}
	})
	t.Run("partial sub_type chain fails", func(t *testing.T) {
		// block alone is not equal to the whole block/section/suspension chain.
		result, err := engine.Match(OrderAncestors, query, []domain.Descriptor{desc("sample", "block")})
		if err != nil {
			t.Fatalf("match: %v", err)
		}
		if result.OK {
			t.Fatal("partial chain should not match whole canonical chain")
		}
		if len(result.Canonical) == 0 {
			t.Fatal("failed match must still return canonical for self-correction")
		}
	})
	t.Run("any bad candidate fails the row", func(t *testing.T) {
		result, err := engine.Match(OrderAncestors, query, []domain.Descriptor{
			desc("dataset", "lightsheet"),
			desc("donor"),
		})
		if err != nil {
			t.Fatalf("match: %v", err)
		}
		if result.OK {
			t.Fatal("donor candidate should fail the match")
		}
	})
	t.Run("empty candidate list reports no match with canonical", func(t *testing.T) {
		result, err := engine.Match(OrderAncestors, query, nil)
		if err != nil {
			t.Fatalf("match: %v", err)
		}
		if result.OK || len(result.Canonical) != 2 {
			t.Fatalf("result = %+v", result)
		}
	})
}

func TestPermitsLink(t *testing.T) {
	engine := Default()
	cases := []struct {
		name       string
		ancestor   domain.Descriptor
		descendant domain.Descriptor
		want       bool
	}{
		{"organ sample under donor", desc("donor"), desc("sample", "organ"), true},
		{"section under block", desc("sample", "block"), desc("sample", "section"), true},
		{"lightsheet dataset under section", desc("sample", "section"), desc("dataset", "lightsheet"), true},
		{"rnaseq dataset under section", desc("sample", "section"), desc("dataset", "rnaseq"), false},
		{"organ under block", desc("sample", "block"), desc("sample", "organ"), false},
		{"collection under dataset", desc("dataset"), desc("collection"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, canonical, err := engine.PermitsLink(tc.ancestor, tc.descendant)
			if err != nil {
				t.Fatalf("permits: %v", err)
			}
			if got != tc.want {
				t.Fatalf("permitted = %v, want %v (canonical %v)", got, tc.want, canonical)
			}
		})
	}
}

func TestRenderSearchFilters(t *testing.T) {
	engine := Default()
	filters, err := engine.RenderSearchFilters(OrderAncestors, []domain.Descriptor{desc("sample", "block")})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var entityTypes, categories []string
	for _, f := range filters {
		switch f.Keyword {
		case "entity_type":
			entityTypes = append(entityTypes, f.Value)
		case "sample_category", "dataset_type":
			categories = append(categories, f.Value)
		default:
			t.Fatalf("unexpected keyword %q", f.Keyword)
		}
	}
	if len(entityTypes) != 2 || entityTypes[0] != "Sample" || entityTypes[1] != "Dataset" {
		t.Fatalf("entity_type filters = %v", entityTypes)
	}
	joined := strings.Join(categories, ",")
	for _, want := range []string{"block", "section", "suspension", "lightsheet"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("categories %v missing %s", categories, want)
		}
	}
}

func TestReportBatchRowsAreIndependent(t *testing.T) {
	engine := Default()
	rows := []Row{
		{Ancestors: []domain.Descriptor{desc("spaceship")}},
		{Ancestors: []domain.Descriptor{desc("sample", "block")}},
		{},
	}
	reports, err := engine.ReportBatch(OrderAncestors, rows, false, "")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("reports = %d", len(reports))
	}
	if reports[0].Code != http.StatusNotFound {
		t.Fatalf("row 0 code = %d, want 404", reports[0].Code)
	}
	if reports[1].Code != http.StatusOK {
		t.Fatalf("row 1 code = %d, want 200", reports[1].Code)
	}
	if reports[2].Code != http.StatusOK || reports[2].Description != "Nothing to validate." {
		t.Fatalf("row 2 = %+v", reports[2])
	}
}

func TestReportBatchMatchCodes(t *testing.T) {
	engine := Default()

	rows := []Row{{
		Ancestors:   []domain.Descriptor{desc("sample", "block")},
		Descendants: []domain.Descriptor{desc("dataset", "lightsheet")},
	}, {
		Ancestors:   []domain.Descriptor{desc("sample", "block")},
		Descendants: []domain.Descriptor{desc("donor")},
	}, {
		Descendants: []domain.Descriptor{desc("donor")},
	}}
	reports, err := engine.ReportBatch(OrderAncestors, rows, true, "")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if reports[0].Code != http.StatusOK {
		t.Fatalf("valid pair code = %d", reports[0].Code)
	}
	if reports[1].Code != http.StatusNotFound {
		t.Fatalf("invalid pair code = %d", reports[1].Code)
	}
	if reports[2].Code != http.StatusBadRequest {
		t.Fatalf("missing query side code = %d", reports[2].Code)
	}
}

func TestReportBatchEmpty(t *testing.T) {
	engine := Default()
	_, err := engine.ReportBatch(OrderAncestors, nil, false, "")
	var bad domain.ErrBadRequest
	if !errors.As(err, &bad) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestLoadRejectsMalformedTables(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"empty rules", `rules: []`},
		{"missing ancestor type", `
rules:
  - ancestors: {}
    descendants:
      - {entity_type: sample}
`},
		{"missing descendants", `
rules:
  - ancestors: {entity_type: donor}
    descendants: []
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.doc))
			var loadErr domain.SchemaLoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("expected SchemaLoadError, got %v", err)
			}
		})
	}
}

func TestLoadParsesTable(t *testing.T) {
	engine, err := Load(strings.NewReader(`
entity_types: [collection]
search_fields:
  sample: sample_category
rules:
  - ancestors: {entity_type: donor}
    descendants:
      - {entity_type: sample, sub_type: [organ]}
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	canonical, err := engine.Lookup(OrderAncestors, []domain.Descriptor{desc("donor")})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(canonical) != 1 || !canonical[0].Equal(desc("sample", "organ")) {
		t.Fatalf("canonical = %v", canonical)
	}
}
