package docs

import "reflect"

// deleteFieldSentinel marks a patch entry that removes the field entirely.
type deleteFieldSentinel struct{}

// DeleteField is the patch value that removes a field from the record.
var DeleteField any = deleteFieldSentinel{}

// RedactSentinel is the patch value a redaction request uses to mean
// "replace with the caller-supplied redact value".
const RedactSentinel = "*"

// PatchBody maps field names to their new values. A DeleteField value removes
// the field; an absent field is left untouched. Unknown fields are applied
// verbatim since schema validation belongs to an external collaborator.
type PatchBody map[string]any

// PatchOutcome carries the result of applying a patch: the full new field
// state and the subset of fields whose values actually changed.
type PatchOutcome struct {
	NewFields     map[string]any
	ChangedFields map[string]any
}

// Changed reports whether the patch altered at least one field.
func (o PatchOutcome) Changed() bool {
	return len(o.ChangedFields) > 0
}

// ApplyPatch applies patch to the record's fields without mutating the input.
// Setting a field to a value it already holds does not count as a change, so
// the audit record captures only genuine deltas.
func ApplyPatch(record Document, patch PatchBody) PatchOutcome {
	newFields := cloneFields(record.Fields)
	if newFields == nil {
		newFields = make(map[string]any, len(patch))
	}
	changed := make(map[string]any)

	for fieldName, patchValue := range patch {
		if _, isDelete := patchValue.(deleteFieldSentinel); isDelete {
			if _, exists := newFields[fieldName]; exists {
				delete(newFields, fieldName)
				changed[fieldName] = nil
			}
			continue
		}
		existing, exists := newFields[fieldName]
		if exists && reflect.DeepEqual(existing, patchValue) {
			continue
		}
		newFields[fieldName] = patchValue
		changed[fieldName] = patchValue
	}

	return PatchOutcome{NewFields: newFields, ChangedFields: changed}
}

// ResolveRedaction rewrites a redaction patch, replacing every RedactSentinel
// value with redactValue. The indirection keeps a pointer to the compliance
// record that caused the scrub instead of a literal wipe.
func ResolveRedaction(patch PatchBody, redactValue string) PatchBody {
	resolved := make(PatchBody, len(patch))
	for fieldName, patchValue := range patch {
		if stringValue, isString := patchValue.(string); isString && stringValue == RedactSentinel {
			resolved[fieldName] = redactValue
			continue
		}
		resolved[fieldName] = patchValue
	}
	return resolved
}

// BuildPatchRecord assembles the audit entry for an applied patch. Only the
// fields that actually changed are recorded.
func BuildPatchRecord(patchID string, operationID OperationID, record Document, outcome PatchOutcome, appliedAtMillis int64, userID UserID) PatchRecord {
	return PatchRecord{
		ID:                               patchID,
		OperationID:                      operationID.String(),
		PatchedDocID:                     record.ID,
		PatchedDocType:                   record.DocType,
		Patch:                            cloneFields(outcome.ChangedFields),
		DocCreatedMillisecondsSinceEpoch: appliedAtMillis,
		DocCreatedByUserID:               userID.String(),
	}
}
