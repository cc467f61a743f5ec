// Package doctypes holds the static per-document-type configuration that
// governs mutation policy and change-event projection.
package doctypes

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	defaultMaxOpIDs   = 5
	defaultMaxDigests = 5
)

var (
	// ErrInvalidTypeName indicates that a document type name is empty or malformed.
	ErrInvalidTypeName = errors.New("doctypes: invalid document type name")
	// ErrUnknownType indicates that no document type is registered under the requested name.
	ErrUnknownType = errors.New("doctypes: unknown document type")
	// ErrDuplicateType indicates that a document type name is registered twice.
	ErrDuplicateType = errors.New("doctypes: duplicate document type")
)

// Policy controls which mutations a document type permits and how much
// operation history its records retain.
type Policy struct {
	CanDeleteDocuments      bool
	CanReplaceDocuments     bool
	CanFetchWholeCollection bool
	MaxOpIDs                int
	MaxDigests              int
	MintVersionOnEmptyPatch bool
}

// Type describes one class of document: its name, mutation policy, and the
// field names that participate in change-event payloads.
type Type struct {
	Name                  string
	Policy                Policy
	ChangeEventFieldNames []string
}

// NewType validates raw configuration and returns a Type with defaulted bounds.
func NewType(name string, policy Policy, changeEventFieldNames []string) (Type, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Type{}, fmt.Errorf("%w: empty", ErrInvalidTypeName)
	}
	if policy.MaxOpIDs <= 0 {
		policy.MaxOpIDs = defaultMaxOpIDs
	}
	if policy.MaxDigests <= 0 {
		policy.MaxDigests = defaultMaxDigests
	}
	fieldNames := make([]string, 0, len(changeEventFieldNames))
	seen := make(map[string]struct{}, len(changeEventFieldNames))
	for _, fieldName := range changeEventFieldNames {
		cleaned := strings.TrimSpace(fieldName)
		if cleaned == "" {
			continue
		}
		if _, duplicate := seen[cleaned]; duplicate {
			continue
		}
		seen[cleaned] = struct{}{}
		fieldNames = append(fieldNames, cleaned)
	}
	sort.Strings(fieldNames)
	return Type{
		Name:                  trimmed,
		Policy:                policy,
		ChangeEventFieldNames: fieldNames,
	}, nil
}

// IsChangeEventField reports whether the field participates in change events.
func (t Type) IsChangeEventField(fieldName string) bool {
	for _, candidate := range t.ChangeEventFieldNames {
		if candidate == fieldName {
			return true
		}
	}
	return false
}

// Registry resolves document types by name. Types are registered during
// bootstrap and the registry is treated as immutable afterwards.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Type)}
}

// Register adds a document type to the registry.
func (r *Registry) Register(docType Type) error {
	if strings.TrimSpace(docType.Name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTypeName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[docType.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateType, docType.Name)
	}
	r.types[docType.Name] = docType
	return nil
}

// Resolve returns the document type registered under name.
func (r *Registry) Resolve(name string) (Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	docType, exists := r.types[strings.TrimSpace(name)]
	if !exists {
		return Type{}, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return docType, nil
}

// Names returns the registered document type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
