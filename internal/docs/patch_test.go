package docs

import (
	"reflect"
	"testing"
)

func TestApplyPatchSetsAndDeletesFields(t *testing.T) {
	record := Document{Fields: map[string]any{"name": "Ada", "city": "London"}}
	patch := PatchBody{
		"name": "Grace",
		"city": DeleteField,
		"role": "engineer",
	}

	outcome := ApplyPatch(record, patch)

	if !outcome.Changed() {
		t.Fatalf("expected patch to report changes")
	}
	expected := map[string]any{"name": "Grace", "role": "engineer"}
	if !reflect.DeepEqual(outcome.NewFields, expected) {
		t.Fatalf("unexpected new fields: %#v", outcome.NewFields)
	}
	if outcome.ChangedFields["name"] != "Grace" {
		t.Fatalf("expected name in changed fields")
	}
	if value, exists := outcome.ChangedFields["city"]; !exists || value != nil {
		t.Fatalf("expected deleted field recorded as nil, got %#v", value)
	}
	if record.Fields["name"] != "Ada" {
		t.Fatalf("input record must not be mutated")
	}
}

func TestApplyPatchIgnoresEqualValues(t *testing.T) {
	record := Document{Fields: map[string]any{"name": "Ada", "tags": []any{"a", "b"}}}
	patch := PatchBody{"name": "Ada", "tags": []any{"a", "b"}}

	outcome := ApplyPatch(record, patch)

	if outcome.Changed() {
		t.Fatalf("setting equal values must not count as a change: %#v", outcome.ChangedFields)
	}
}

func TestApplyPatchDeleteOfAbsentFieldIsNoChange(t *testing.T) {
	record := Document{Fields: map[string]any{"name": "Ada"}}
	outcome := ApplyPatch(record, PatchBody{"missing": DeleteField})

	if outcome.Changed() {
		t.Fatalf("deleting an absent field must not count as a change")
	}
	if _, exists := outcome.NewFields["missing"]; exists {
		t.Fatalf("absent field must stay absent")
	}
}

func TestApplyPatchOnRecordWithoutFields(t *testing.T) {
	outcome := ApplyPatch(Document{}, PatchBody{"name": "Ada"})

	if !outcome.Changed() {
		t.Fatalf("expected change on empty record")
	}
	if outcome.NewFields["name"] != "Ada" {
		t.Fatalf("unexpected fields: %#v", outcome.NewFields)
	}
}

func TestResolveRedactionReplacesSentinel(t *testing.T) {
	patch := PatchBody{
		"email":   RedactSentinel,
		"phone":   RedactSentinel,
		"country": "NL",
	}

	resolved := ResolveRedaction(patch, "GDPR-123")

	if resolved["email"] != "GDPR-123" || resolved["phone"] != "GDPR-123" {
		t.Fatalf("expected sentinel values replaced, got %#v", resolved)
	}
	if resolved["country"] != "NL" {
		t.Fatalf("non-sentinel values must pass through unchanged")
	}
	if patch["email"] != RedactSentinel {
		t.Fatalf("input patch must not be mutated")
	}
}

func TestBuildPatchRecordCapturesChangedFieldsOnly(t *testing.T) {
	record := Document{
		ID:      "doc-1",
		DocType: "profile",
		Fields:  map[string]any{"name": "Grace", "city": "London"},
	}
	outcome := PatchOutcome{
		NewFields:     record.Fields,
		ChangedFields: map[string]any{"name": "Grace"},
	}

	audit := BuildPatchRecord("patch-1", OperationID("op-1"), record, outcome, 1700000000000, UserID("user-1"))

	if audit.ID != "patch-1" || audit.OperationID != "op-1" {
		t.Fatalf("unexpected audit identifiers: %#v", audit)
	}
	if audit.PatchedDocID != "doc-1" || audit.PatchedDocType != "profile" {
		t.Fatalf("unexpected audit subject: %#v", audit)
	}
	if len(audit.Patch) != 1 || audit.Patch["name"] != "Grace" {
		t.Fatalf("expected only changed fields in audit, got %#v", audit.Patch)
	}
	if audit.DocCreatedMillisecondsSinceEpoch != 1700000000000 {
		t.Fatalf("unexpected audit timestamp: %d", audit.DocCreatedMillisecondsSinceEpoch)
	}
	if audit.DocCreatedByUserID != "user-1" {
		t.Fatalf("unexpected audit user: %q", audit.DocCreatedByUserID)
	}
}
