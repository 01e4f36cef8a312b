// Package documents provides a collection-oriented document store with
// snapshot subscriptions, backed by SQLite through gorm.
package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// CollectionPins stores map pin annotations.
	CollectionPins = "Pins"
	// CollectionStories stores narrative stories.
	CollectionStories = "Stories"
)

const maxIdentifierLength = 190

var (
	// ErrDocumentNotFound indicates an update targeted a missing document.
	ErrDocumentNotFound = errors.New("documents: document not found")
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("documents: invalid document id")
	// ErrInvalidFieldPath indicates that a field path cannot be evaluated by the store.
	ErrInvalidFieldPath = errors.New("documents: invalid field path")
	// ErrMissingCallback indicates that a subscription was requested without a listener.
	ErrMissingCallback = errors.New("documents: subscription callback required")

	fieldPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// Fields is the JSON object stored for a document.
type Fields map[string]any

// Document is a stored document together with its identifier.
type Document struct {
	ID     string
	Fields Fields
}

// Decode unmarshals the document fields into target.
func (d Document) Decode(target any) error {
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

// Lookup resolves a dotted field path inside the document.
func (d Document) Lookup(path string) (any, bool) {
	var current any = map[string]any(d.Fields)
	for _, segment := range strings.Split(path, ".") {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = object[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Query describes the ordering of a collection subscription.
type Query struct {
	OrderBy    string
	Descending bool
}

// Unsubscribe stops further snapshot deliveries. It is safe to call more than once.
type Unsubscribe func()

// Record is the persisted row for a document.
type Record struct {
	Collection      string `gorm:"column:collection;primaryKey;size:64;not null"`
	DocumentID      string `gorm:"column:document_id;primaryKey;size:190;not null"`
	PayloadJSON     string `gorm:"column:payload_json;type:text;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null;index:idx_documents_updated"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "documents"
}

func (r Record) document() (Document, error) {
	fields := Fields{}
	if err := json.Unmarshal([]byte(r.PayloadJSON), &fields); err != nil {
		return Document{}, err
	}
	return Document{ID: r.DocumentID, Fields: fields}, nil
}

func validateDocumentID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	return trimmed, nil
}

func jsonPath(field string) (string, error) {
	if !fieldPathPattern.MatchString(field) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFieldPath, field)
	}
	return "$." + field, nil
}

// StoreError carries a stable code alongside the underlying cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the operation-scoped error code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
