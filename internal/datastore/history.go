package datastore

const defaultHistorySize = 10_000

// commitRecord holds the write set of one committed transaction.
type commitRecord struct {
	version uint64
	writes  map[uint64]struct{}
}

// commitHistory keeps recent write sets for first-committer-wins conflict
// detection. Bounded; the oldest records are dropped when over capacity.
// Callers hold the datastore commit lock.
type commitHistory struct {
	records []commitRecord
	maxSize int
	// dropped is the newest version no longer in records.
	dropped uint64
}

func newCommitHistory(maxSize int) *commitHistory {
	if maxSize <= 0 {
		maxSize = defaultHistorySize
	}
	return &commitHistory{maxSize: maxSize}
}

// conflicts reports whether any transaction that committed after version
// wrote a fingerprint in writes. A transaction older than the retained
// window always conflicts.
func (h *commitHistory) conflicts(version uint64, writes map[uint64]struct{}) bool {
	if version < h.dropped {
		return true
	}
	for i := len(h.records) - 1; i >= 0; i-- {
		r := h.records[i]
		if r.version <= version {
			break
		}
		for k := range writes {
			if _, ok := r.writes[k]; ok {
				return true
			}
		}
	}
	return false
}

func (h *commitHistory) append(version uint64, writes map[uint64]struct{}) {
	h.records = append(h.records, commitRecord{version: version, writes: writes})
	for len(h.records) > h.maxSize {
		h.dropped = h.records[0].version
		h.records = h.records[1:]
	}
}
