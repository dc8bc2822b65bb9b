package constraints

import (
	"fmt"
	"io"
	"sort"

	"entitycore/pkg/domain"

	"gopkg.in/yaml.v3"
)

// unit builds a rule descriptor with its sub-type sequence sorted, the
// canonical declaration form.
func unit(entityType string, subType ...string) domain.Descriptor {
	d := domain.Descriptor{EntityType: entityType}
	if len(subType) > 0 {
		d.SubType = append([]string(nil), subType...)
		sort.Strings(d.SubType)
	}
	return d
}

// defaultRules is the built-in provenance rule table: which descendant
// type/sub-type combinations may appear under each ancestor shape.
func defaultRules() []Rule {
	return []Rule{
		{
			Ancestor:    unit("donor"),
			Descendants: []domain.Descriptor{unit("sample", "organ")},
		},
		{
			Ancestor: unit("sample", "organ"),
			Descendants: []domain.Descriptor{
				unit("sample", "block", "section", "suspension"),
				unit("dataset", "lightsheet"),
			},
		},
		{
			Ancestor: unit("sample", "block"),
			Descendants: []domain.Descriptor{
				unit("sample", "block", "section", "suspension"),
				unit("dataset", "lightsheet"),
			},
		},
		{
			Ancestor: unit("sample", "section"),
			Descendants: []domain.Descriptor{
				unit("dataset", "lightsheet"),
			},
		},
		{
			Ancestor: unit("sample", "suspension"),
			Descendants: []domain.Descriptor{
				unit("dataset", "rnaseq"),
			},
		},
		{
			Ancestor:    unit("dataset"),
			Descendants: []domain.Descriptor{unit("dataset"), unit("collection"), unit("publication")},
		},
	}
}

// defaultSearchFields maps an entity type to the keyword field carrying its
// sub-type values in search filter output.
func defaultSearchFields() map[string]string {
	return map[string]string{
		"sample":  "sample_category",
		"dataset": "dataset_type",
	}
}

var defaultExtraTypes = []string{"collection", "publication", "upload"}

// Default constructs the engine over the built-in rule table.
func Default() *Engine {
	engine, err := New(defaultRules(), defaultExtraTypes, defaultSearchFields())
	if err != nil {
		// The built-in table is static; failing to load it is a programming error.
		panic(err)
	}
	return engine
}

type ruleDoc struct {
	Ancestors   domain.Descriptor   `yaml:"ancestors"`
	Descendants []domain.Descriptor `yaml:"descendants"`
}

type tableDoc struct {
	EntityTypes  []string          `yaml:"entity_types"`
	SearchFields map[string]string `yaml:"search_fields"`
	Rules        []ruleDoc         `yaml:"rules"`
}

// Load parses a rule table document. A malformed document is a fatal
// SchemaLoadError; the process must not start on a partial table.
func Load(r io.Reader) (*Engine, error) {
	var doc tableDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, domain.SchemaLoadError{Source: "constraints", Reason: fmt.Sprintf("parse yaml: %v", err)}
	}
	rules := make([]Rule, len(doc.Rules))
	for i, rd := range doc.Rules {
		rules[i] = Rule{Ancestor: rd.Ancestors, Descendants: rd.Descendants}
	}
	return New(rules, doc.EntityTypes, doc.SearchFields)
}
