package validate

import (
	"errors"
	"testing"

	"entitycore/internal/schema"
	"entitycore/pkg/domain"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	reg, err := schema.Default(nil)
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	return New(reg)
}

func violationKinds(t *testing.T, err error) map[string]domain.ViolationKind {
	t.Helper()
	var validation domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	kinds := make(map[string]domain.ViolationKind, len(validation.Violations))
	for _, v := range validation.Violations {
		kinds[v.Property] = v.Kind
	}
	return kinds
}

func TestForCreateAcceptsValidPayload(t *testing.T) {
	v := newValidator(t)
	clean, err := v.ForCreate(domain.EntityDonor, map[string]any{
		"label":        "Donor 17",
		"description":  "registered via intake",
		"protocol_url": "https://protocols.example.org/17",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clean["label"] != "Donor 17" {
		t.Fatalf("clean payload missing label: %v", clean)
	}
}

func TestForCreateCollectsAllViolations(t *testing.T) {
	v := newValidator(t)
	_, err := v.ForCreate(domain.EntityDonor, map[string]any{
		"favorite_color": "green",                  // undeclared
		"uuid":           "client-supplied",        // computed
		"protocol_url":   "not a url",              // invalid format
		"status":         "bogus",                  // not in enum
	})
	kinds := violationKinds(t, err)
	if kinds["favorite_color"] != domain.ViolationUnsupported {
		t.Fatalf("favorite_color kind = %s", kinds["favorite_color"])
	}
	if kinds["uuid"] != domain.ViolationComputed {
		t.Fatalf("uuid kind = %s", kinds["uuid"])
	}
	if kinds["protocol_url"] != domain.ViolationInvalid {
		t.Fatalf("protocol_url kind = %s", kinds["protocol_url"])
	}
	if kinds["status"] != domain.ViolationInvalid {
		t.Fatalf("status kind = %s", kinds["status"])
	}
	// The required label is also missing; all five must be reported at once.
	if kinds["label"] != domain.ViolationMissingRequired {
		t.Fatalf("label kind = %s", kinds["label"])
	}
}

func TestForCreateRejectsEmptyRequired(t *testing.T) {
	v := newValidator(t)
	_, err := v.ForCreate(domain.EntityDonor, map[string]any{"label": ""})
	kinds := violationKinds(t, err)
	if kinds["label"] != domain.ViolationMissingRequired {
		t.Fatalf("label kind = %s", kinds["label"])
	}
}

func TestForCreateUnknownEntityType(t *testing.T) {
	v := newValidator(t)
	_, err := v.ForCreate("gadget", map[string]any{})
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestForCreateTypeChecks(t *testing.T) {
	v := newValidator(t)
	_, err := v.ForCreate(domain.EntityDataset, map[string]any{
		"dataset_type":                     "RNAseq",
		"direct_ancestor_uuids":            "should-be-a-list",
		"contains_human_genetic_sequences": "yes",
	})
	kinds := violationKinds(t, err)
	if kinds["direct_ancestor_uuids"] != domain.ViolationInvalid {
		t.Fatalf("direct_ancestor_uuids kind = %s", kinds["direct_ancestor_uuids"])
	}
	if kinds["contains_human_genetic_sequences"] != domain.ViolationInvalid {
		t.Fatalf("contains_human_genetic_sequences kind = %s", kinds["contains_human_genetic_sequences"])
	}
}

func TestForUpdateRejectsImmutable(t *testing.T) {
	v := newValidator(t)
	existing := domain.Entity{Type: domain.EntityDonor, Properties: map[string]any{"label": "Donor 1"}}
	_, err := v.ForUpdate(domain.EntityDonor, existing, map[string]any{
		"created_timestamp": 123, // immutable and computed; computed wins in classification
		"description":       "updated",
	})
	kinds := violationKinds(t, err)
	if _, flagged := kinds["created_timestamp"]; !flagged {
		t.Fatal("created_timestamp update was not rejected")
	}
	if _, flagged := kinds["description"]; flagged {
		t.Fatal("description should be updatable")
	}
}

func TestForUpdateDoesNotRequireResend(t *testing.T) {
	v := newValidator(t)
	existing := domain.Entity{Type: domain.EntityDonor, Properties: map[string]any{"label": "Donor 1"}}
	clean, err := v.ForUpdate(domain.EntityDonor, existing, map[string]any{"description": "only this"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clean) != 1 {
		t.Fatalf("clean payload = %v", clean)
	}
}

func TestProjectResponseStripsHiddenAndStale(t *testing.T) {
	v := newValidator(t)
	persisted := map[string]any{
		"label":               "Donor 1",
		"created_by_user_sub": "auth0|123", // exposed: false
		"ancestor_ids":        []string{"stale"}, // transient must come from the read phase
		"legacy_field":        "dropped",   // undeclared
	}
	transient := map[string]any{"ancestor_ids": []string{"a1"}}
	out, err := v.ProjectResponse(domain.EntityDonor, persisted, transient)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if out["label"] != "Donor 1" {
		t.Fatalf("label missing: %v", out)
	}
	if _, present := out["created_by_user_sub"]; present {
		t.Fatal("unexposed property leaked into response")
	}
	if _, present := out["legacy_field"]; present {
		t.Fatal("undeclared property leaked into response")
	}
	ids, ok := out["ancestor_ids"].([]string)
	if !ok || len(ids) != 1 || ids[0] != "a1" {
		t.Fatalf("ancestor_ids = %v, want fresh transient value", out["ancestor_ids"])
	}
}

func TestProjectResponseIdempotent(t *testing.T) {
	v := newValidator(t)
	persisted := map[string]any{"label": "Donor 1", "description": "x"}
	first, err := v.ProjectResponse(domain.EntityDonor, persisted, nil)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	second, err := v.ProjectResponse(domain.EntityDonor, first, nil)
	if err != nil {
		t.Fatalf("project twice: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("projection not idempotent: %v vs %v", first, second)
	}
}
