package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// JournalEntry is one committed transaction's summary: an audit trail of what
// moved, appended atomically with the mutations it describes.
type JournalEntry struct {
	Seq  uint64   `json:"seq"`
	Time int64    `json:"time"` // unix milliseconds
	Ops  []string `json:"ops"`
}

// JournalTail returns up to limit of the most recent journal entries, newest
// first.
func (s *Store) JournalTail(limit int) ([]JournalEntry, error) {
	prefix := []byte(prefixLog)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("journal scan: %w", err)
	}
	defer iter.Close()

	var entries []JournalEntry
	for ok := iter.Last(); ok && len(entries) < limit; ok = iter.Prev() {
		var e JournalEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
