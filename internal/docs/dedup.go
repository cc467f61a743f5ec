package docs

// IsDuplicate reports whether the candidate operation was already applied to
// the record. Either key is sufficient: callers supply an operation id, a
// request digest, or both depending on the operation type. The two histories
// stay independent so their truncation bounds can differ.
func IsDuplicate(record Document, operationID, digest string) bool {
	if HasOpID(record, operationID) {
		return true
	}
	return HasDigest(record, digest)
}
