package document

import (
	"errors"
	"fmt"
)

// Sentinel errors for document construction.
var (
	// ErrInvalidRecord is returned when a raw record cannot become a Document.
	ErrInvalidRecord = errors.New("document: invalid record")

	// ErrInvalidPath is returned for empty paths and paths that escape the
	// archive.
	ErrInvalidPath = fmt.Errorf("%w: invalid path", ErrInvalidRecord)

	// ErrDuplicateIdentifier is returned when two distinct records map to the
	// same document identifier. The second record is never allowed to
	// overwrite the first.
	ErrDuplicateIdentifier = errors.New("document: duplicate identifier")
)

// DuplicateError describes a duplicate identifier collision.
type DuplicateError struct {
	ID        string
	ArchiveID string
	Path      string // normalized path both records share
	First     string // raw path of the record that won
	Second    string // raw path of the rejected record
}

// Error implements the error interface.
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("document: duplicate identifier %s in %s: %q and %q both map to %q",
		e.ID, e.ArchiveID, e.First, e.Second, e.Path)
}

// Unwrap returns ErrDuplicateIdentifier so callers can match with errors.Is.
func (e *DuplicateError) Unwrap() error {
	return ErrDuplicateIdentifier
}
