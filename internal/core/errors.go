package core

import "errors"

var (
	// ErrNotFound means a referenced company, category, subcategory or entry
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnresolvedLabel means an import label matched zero or several
	// categories.
	ErrUnresolvedLabel = errors.New("unresolved label")

	// ErrInvalidValue covers non-numeric amounts and out-of-range fields.
	ErrInvalidValue = errors.New("invalid value")

	// ErrConflict means a write would break a uniqueness rule outside the
	// upsert path.
	ErrConflict = errors.New("conflict")

	// ErrBackingStoreUnavailable means the durable store cannot be reached.
	ErrBackingStoreUnavailable = errors.New("backing store unavailable")
)
