// Package domain defines the core persistent entities, value types, and
// error primitives used by entitycore.
package domain

import (
	"sort"
	"strings"
	"time"
)

// EntityType identifies the type of metadata record stored in the provenance graph.
type EntityType string

// Supported entity type identifiers used in schema lookups and persistence buckets.
const (
	// EntityDonor identifies a donor record at the root of a provenance chain.
	EntityDonor EntityType = "donor"
	// EntitySample identifies a specimen record derived from a donor or sample.
	EntitySample EntityType = "sample"
	// EntityDataset identifies a data product derived from samples or datasets.
	EntityDataset EntityType = "dataset"
	// EntityCollection identifies a curated grouping of datasets.
	EntityCollection EntityType = "collection"
	// EntityUpload identifies a staging record for submitted data.
	EntityUpload EntityType = "upload"
	// EntityPublication identifies a published grouping of datasets.
	EntityPublication EntityType = "publication"
)

// Phase names a trigger lifecycle phase.
type Phase string

// Trigger phases determine when computed properties are produced.
const (
	// PhaseBeforeCreate runs prior to persisting a new entity.
	PhaseBeforeCreate Phase = "before_create"
	// PhaseBeforeUpdate runs prior to persisting an update.
	PhaseBeforeUpdate Phase = "before_update"
	// PhaseOnRead runs while assembling a read response.
	PhaseOnRead Phase = "on_read"
)

// Direction selects the traversal orientation in the provenance graph.
type Direction string

// Traversal directions relative to the starting entity.
const (
	// DirectionUp walks toward ancestors.
	DirectionUp Direction = "up"
	// DirectionDown walks toward descendants.
	DirectionDown Direction = "down"
)

// RelationshipKind labels a provenance edge.
type RelationshipKind string

// Edge kinds recorded on provenance links.
const (
	// KindDerivation links an entity to the ancestor it was derived from.
	KindDerivation RelationshipKind = "derivation"
	// KindMembership links a dataset to a collection or publication that contains it.
	KindMembership RelationshipKind = "membership"
)

// Entity is a metadata record participating in the provenance graph. ID and
// Type are immutable once assigned; SubType is the ordered specialization path
// for the type (e.g. sample block -> section); Properties holds the persisted
// property values keyed by schema property name.
type Entity struct {
	ID         string         `json:"uuid"`
	Type       EntityType     `json:"entity_type"`
	SubType    []string       `json:"sub_type,omitempty"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Descriptor returns the constraint descriptor for the entity.
func (e Entity) Descriptor() Descriptor {
	sub := make([]string, len(e.SubType))
	copy(sub, e.SubType)
	return Descriptor{EntityType: string(e.Type), SubType: sub}
}

// Edge is a persisted provenance link from an ancestor to a descendant.
// CreationAction records the activity note captured when the link was made.
type Edge struct {
	AncestorID     string           `json:"ancestor_id"`
	DescendantID   string           `json:"descendant_id"`
	Kind           RelationshipKind `json:"kind"`
	CreationAction string           `json:"creation_action,omitempty"`
}

// Descriptor identifies an entity type / sub-type combination in the
// constraint rule table. SubTypeVal optionally narrows by sub-type value
// (e.g. organ codes).
type Descriptor struct {
	EntityType string   `json:"entity_type" yaml:"entity_type"`
	SubType    []string `json:"sub_type,omitempty" yaml:"sub_type,omitempty"`
	SubTypeVal []string `json:"sub_type_val,omitempty" yaml:"sub_type_val,omitempty"`
}

// Normalize returns a copy with the entity type lowercased and sub-type
// sequences lowercased and sorted, the canonical comparison form.
func (d Descriptor) Normalize() Descriptor {
	out := Descriptor{EntityType: strings.ToLower(d.EntityType)}
	if d.SubType != nil {
		out.SubType = lowerSorted(d.SubType)
	}
	if d.SubTypeVal != nil {
		out.SubTypeVal = lowerSorted(d.SubTypeVal)
	}
	return out
}

// Equal reports whether two descriptors are equivalent after normalization.
func (d Descriptor) Equal(other Descriptor) bool {
	a, b := d.Normalize(), other.Normalize()
	if a.EntityType != b.EntityType {
		return false
	}
	return equalSeq(a.SubType, b.SubType) && equalSeq(a.SubTypeVal, b.SubTypeVal)
}

// SearchFilter is a flat keyword/value pair synthesized from a descriptor set
// for downstream search queries.
type SearchFilter struct {
	Keyword string `json:"keyword"`
	Value   string `json:"value"`
}

// UserInfo carries the authenticated caller identity consumed by triggers.
type UserInfo struct {
	Sub         string `json:"sub"`
	Email       string `json:"email"`
	DisplayName string `json:"displayname"`
}

func lowerSorted(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.ToLower(v)
	}
	sort.Strings(out)
	return out
}

func equalSeq(a, b []string) bool {
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
