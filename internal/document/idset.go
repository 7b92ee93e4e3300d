package document

// IDSet detects identifier collisions within one indexing run.
type IDSet struct {
	seen map[string]string // id -> raw path of the first record
}

// NewIDSet returns an empty set.
func NewIDSet() *IDSet {
	return &IDSet{seen: make(map[string]string)}
}

// Add records doc, built from the record at rawPath. It returns a
// *DuplicateError when another record already claimed doc.ID.
func (s *IDSet) Add(doc Document, rawPath string) error {
	if first, ok := s.seen[doc.ID]; ok {
		return &DuplicateError{
			ID:        doc.ID,
			ArchiveID: doc.ArchiveID,
			Path:      doc.Path,
			First:     first,
			Second:    rawPath,
		}
	}
	s.seen[doc.ID] = rawPath
	return nil
}

// Len returns the number of distinct identifiers recorded.
func (s *IDSet) Len() int { return len(s.seen) }
