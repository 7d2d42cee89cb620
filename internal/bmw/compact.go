package bmw

import "go.etcd.io/bbolt"

// CompactTerm rewrites termID's blocks, dropping tombstoned entries and
// re-splitting/merging as needed, never invoked automatically — the
// background maintenance pass the online path defers.
func (idx *Index) CompactTerm(termID uint32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.db.Update(func(tx *bbolt.Tx) error {
		tb, err := idx.loadTerm(tx, termID)
		if err != nil {
			return err
		}
		priorStarts := startsOf(tb)

		compacted := &termBlocks{}
		for _, wb := range tb.blocks {
			var live []uint64
			var liveValues []float32
			for i, v := range wb.values {
				if v > 0 {
					live = append(live, wb.docIDs[i])
					liveValues = append(liveValues, v)
				}
			}
			for i, id := range live {
				compacted.insert(id, liveValues[i])
			}
		}
		idx.hot[termID] = compacted
		return idx.persistTerm(tx, termID, compacted, priorStarts)
	})
}
