package catalog

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors returned by the Handler.
var (
	// ErrNotFound is returned when a document or archive does not exist.
	ErrNotFound = errors.New("catalog: not found")

	// ErrStorageCorruption is returned when the catalog file cannot be opened
	// or a stored row cannot be decoded. It is fatal for the Handler: once
	// returned, every later call returns it too.
	ErrStorageCorruption = errors.New("catalog: storage corruption")

	// ErrInvalidTransition is returned when an archive status change is not
	// allowed by the lifecycle.
	ErrInvalidTransition = errors.New("catalog: invalid status transition")

	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("catalog: closed")

	// ErrBadDump is returned by Restore for streams that are not catalog dumps.
	ErrBadDump = errors.New("catalog: not a catalog dump")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	ArchiveID string
	From, To  Status
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("catalog: archive %s cannot move from %s to %s", e.ArchiveID, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// isCorruptionCode reports whether err carries an SQLite result code that
// means the file is damaged or is not a database.
func isCorruptionCode(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}

// corrupt wraps cause as ErrStorageCorruption.
func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStorageCorruption, fmt.Sprintf(format, args...))
}
