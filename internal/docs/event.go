package docs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/quartzline/docforge/internal/doctypes"
)

// ChangeAction enumerates the mutation kinds a change event reports.
type ChangeAction string

const (
	// ChangeActionCreate marks a freshly constructed document.
	ChangeActionCreate ChangeAction = "create"
	// ChangeActionPatch marks a field-level mutation.
	ChangeActionPatch ChangeAction = "patch"
	// ChangeActionDelete marks a hard removal.
	ChangeActionDelete ChangeAction = "delete"
	// ChangeActionArchive marks a soft removal.
	ChangeActionArchive ChangeAction = "archive"
	// ChangeActionRedact marks a compliance scrub.
	ChangeActionRedact ChangeAction = "redact"
)

// ChangeEvent is the stable payload handed to downstream consumers after a
// successful mutation. Digest is the consumer-side deduplication key.
type ChangeEvent struct {
	Digest                  string         `json:"digest"`
	Action                  ChangeAction   `json:"action"`
	SubjectID               string         `json:"subjectId"`
	SubjectDocType          string         `json:"subjectDocType"`
	SubjectFields           map[string]any `json:"subjectFields"`
	SubjectPatchFields      map[string]any `json:"subjectPatchFields"`
	TimestampInMilliseconds int64          `json:"timestampInMilliseconds"`
	ChangeUserID            string         `json:"changeUserId"`
}

// DeriveChange builds the change event for an applied mutation. SubjectFields
// is always the pre-mutation projection of the configured change-event fields;
// SubjectPatchFields holds the new values of the configured fields that
// actually changed. The derivation is pure and total: absent fields are simply
// omitted, never an error.
func DeriveChange(action ChangeAction, preRecord Document, changedFields map[string]any, docType doctypes.Type, timestampMillis int64, userID UserID) ChangeEvent {
	subjectFields := make(map[string]any)
	for _, fieldName := range docType.ChangeEventFieldNames {
		if value, exists := preRecord.Fields[fieldName]; exists {
			subjectFields[fieldName] = value
		}
	}

	subjectPatchFields := make(map[string]any)
	for fieldName, newValue := range changedFields {
		if docType.IsChangeEventField(fieldName) {
			subjectPatchFields[fieldName] = newValue
		}
	}

	event := ChangeEvent{
		Action:                  action,
		SubjectID:               preRecord.ID,
		SubjectDocType:          docType.Name,
		SubjectFields:           subjectFields,
		SubjectPatchFields:      subjectPatchFields,
		TimestampInMilliseconds: timestampMillis,
		ChangeUserID:            userID.String(),
	}
	event.Digest = changeDigest(event)
	return event
}

// RequestDigest hashes the semantic content of a mutation request so retries
// that carry no operation id can still be detected.
func RequestDigest(action ChangeAction, docTypeName, partition, id string, patch PatchBody) string {
	return hashParts(string(action), docTypeName, partition, id, canonicalFields(map[string]any(patch)))
}

func changeDigest(event ChangeEvent) string {
	return hashParts(
		string(event.Action),
		event.SubjectDocType,
		event.SubjectID,
		fmt.Sprintf("%d", event.TimestampInMilliseconds),
		canonicalFields(event.SubjectPatchFields),
	)
}

// canonicalFields renders a field map deterministically: keys sorted, values
// JSON-encoded.
func canonicalFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "{}"
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	encoded := "{"
	for index, name := range names {
		if index > 0 {
			encoded += ","
		}
		valueJSON, err := json.Marshal(fields[name])
		if err != nil {
			valueJSON = []byte(fmt.Sprintf("%q", fmt.Sprint(fields[name])))
		}
		encoded += fmt.Sprintf("%q:%s", name, valueJSON)
	}
	return encoded + "}"
}

func hashParts(parts ...string) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(part))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
