package docs

import "github.com/google/uuid"

// VersionProvider mints opaque version tokens. Every token must differ from
// the one it replaces so a stale read always produces a guard mismatch.
type VersionProvider interface {
	NextVersion(current string) (string, error)
}

type uuidVersionProvider struct{}

// NewUUIDVersionProvider constructs a VersionProvider backed by UUIDv7 tokens.
func NewUUIDVersionProvider() VersionProvider {
	return &uuidVersionProvider{}
}

func (p *uuidVersionProvider) NextVersion(current string) (string, error) {
	for {
		value, err := uuid.NewV7()
		if err != nil {
			return "", err
		}
		token := value.String()
		if token != current {
			return token, nil
		}
	}
}

// AppendOpID pushes operationID to the front of the record's operation-id
// history, evicting the oldest entries beyond maxOpIDs.
func AppendOpID(record *Document, operationID string, maxOpIDs int) {
	record.DocOpIDs = pushFront(record.DocOpIDs, operationID, maxOpIDs)
}

// AppendDigest pushes digest to the front of the record's digest history,
// evicting the oldest entries beyond maxDigests.
func AppendDigest(record *Document, digest string, maxDigests int) {
	record.DocDigests = pushFront(record.DocDigests, digest, maxDigests)
}

// HasOpID reports whether operationID appears in the record's history.
func HasOpID(record Document, operationID string) bool {
	return containsValue(record.DocOpIDs, operationID)
}

// HasDigest reports whether digest appears in the record's history.
func HasDigest(record Document, digest string) bool {
	return containsValue(record.DocDigests, digest)
}

func pushFront(history []string, value string, bound int) []string {
	if value == "" || bound <= 0 {
		return history
	}
	updated := make([]string, 0, len(history)+1)
	updated = append(updated, value)
	for _, existing := range history {
		if existing == value {
			continue
		}
		updated = append(updated, existing)
	}
	if len(updated) > bound {
		updated = updated[:bound]
	}
	return updated
}

func containsValue(history []string, value string) bool {
	if value == "" {
		return false
	}
	for _, existing := range history {
		if existing == value {
			return true
		}
	}
	return false
}
