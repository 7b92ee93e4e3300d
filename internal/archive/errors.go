package archive

import (
	"errors"
	"fmt"
)

// ErrSourceUnavailable is returned when an archive cannot be read: it is
// missing, locked, truncated, or not in the format its name claims. Callers
// treat it as retryable.
var ErrSourceUnavailable = errors.New("archive: source unavailable")

// ErrArchiveLocked is returned when the simulation tool still holds a lock on
// the archive.
var ErrArchiveLocked = fmt.Errorf("%w: archive is locked", ErrSourceUnavailable)

// ErrUnknownFormat is returned when no reader is registered for a format.
var ErrUnknownFormat = errors.New("archive: unknown format")

// unavailable wraps err as ErrSourceUnavailable for the archive at path,
// leaving errors that already carry the sentinel untouched.
func unavailable(op, path string, err error) error {
	if errors.Is(err, ErrSourceUnavailable) {
		return err
	}
	return fmt.Errorf("archive: %s %s: %w: %w", op, path, ErrSourceUnavailable, err)
}
