// Package catalog is the persisted index over simulation archives. A Handler
// owns a single SQLite database holding one row per archive and one row per
// document, and is the only component that writes catalog state.
package catalog

import (
	"fmt"
	"time"

	"github.com/papapumpkin/assasdb/internal/archive"
	"github.com/papapumpkin/assasdb/internal/document"
)

// Status is the indexing state of an archive.
type Status string

// Archive statuses.
const (
	StatusUnindexed Status = "unindexed"
	StatusIndexed   Status = "indexed"
	StatusStale     Status = "stale"
	StatusFailed    Status = "failed"
)

// transitions lists the statuses reachable from each status. Staying in the
// same status is always allowed.
var transitions = map[Status][]Status{
	StatusUnindexed: {StatusIndexed, StatusFailed},
	StatusIndexed:   {StatusStale, StatusFailed},
	StatusStale:     {StatusIndexed, StatusFailed},
	StatusFailed:    {StatusUnindexed, StatusIndexed, StatusStale},
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("catalog: unknown status %q", s)
	}
	return st, nil
}

// CanTransition reports whether an archive may move from one status to
// another. Leaving StatusFailed is only checked here for reachability; the
// Handler additionally requires the target to be the recorded prior status.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Archive is the catalog's record of one simulation archive.
type Archive struct {
	ID               string            `cbor:"id"`
	Path             string            `cbor:"path"`
	Format           archive.Format    `cbor:"format"`
	Size             int64             `cbor:"size"`
	Files            int               `cbor:"files"`
	ModTime          time.Time         `cbor:"mtime"`
	Signature        archive.Signature `cbor:"signature"`         // last observed on disk
	IndexedSignature archive.Signature `cbor:"indexed_signature"` // at the last completed reindex
	Status           Status            `cbor:"status"`
	PriorStatus      Status            `cbor:"prior_status,omitempty"` // set while failed
	LastError        string            `cbor:"last_error,omitempty"`
	Attempts         int               `cbor:"attempts"`
	Generation       int64             `cbor:"generation"`
	DocCount         int               `cbor:"doc_count"`
	Manifest         archive.Manifest  `cbor:"manifest"`
	DiscoveredAt     time.Time         `cbor:"discovered_at"`
	IndexedAt        time.Time         `cbor:"indexed_at"`
	UpdatedAt        time.Time         `cbor:"updated_at"`
}

// Entry is a persisted document plus catalog bookkeeping.
type Entry struct {
	document.Document
	Fingerprint  string    `cbor:"fingerprint"`
	Generation   int64     `cbor:"generation"`
	FirstSeen    time.Time `cbor:"first_seen"`
	LastVerified time.Time `cbor:"last_verified"`
	// UpdatedAt is the catalog timestamp of the write. Among concurrent
	// writes to one ID the newest timestamp wins.
	UpdatedAt time.Time `cbor:"updated_at"`
}

// NewEntry wraps doc for an upsert in generation gen at time now.
func NewEntry(doc document.Document, gen int64, now time.Time) (Entry, error) {
	fp, err := doc.Fingerprint()
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Document:     doc,
		Fingerprint:  fp,
		Generation:   gen,
		FirstSeen:    now,
		LastVerified: now,
		UpdatedAt:    now,
	}, nil
}

// Change reports what an Upsert did.
type Change int

// Upsert outcomes.
const (
	ChangeInserted  Change = iota // new document
	ChangeUpdated                 // content changed
	ChangeUnchanged               // same fingerprint; bookkeeping refreshed
	ChangeIgnored                 // older than the stored write
)

// String returns the outcome name.
func (c Change) String() string {
	switch c {
	case ChangeInserted:
		return "inserted"
	case ChangeUpdated:
		return "updated"
	case ChangeUnchanged:
		return "unchanged"
	case ChangeIgnored:
		return "ignored"
	default:
		return fmt.Sprintf("change(%d)", int(c))
	}
}

// Predicate filters documents. Zero-valued fields do not filter.
type Predicate struct {
	ArchiveIDs      []string
	Categories      []document.Category
	PathPrefix      string
	ModifiedAfter   time.Time // inclusive
	ModifiedBefore  time.Time // exclusive
	ArchiveStatuses []Status
	Limit           int
}

// Stats summarizes catalog contents.
type Stats struct {
	Archives   int
	Documents  int
	TotalSize  int64
	ByStatus   map[Status]int
	ByCategory map[document.Category]int
}
