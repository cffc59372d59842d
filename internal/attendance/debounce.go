// Package attendance implements the debounce -> batch -> offline-buffer
// pipeline that turns CardScanned events into published batches
// (spec.md §4.5).
package attendance

import "github.com/isic-edge/reader-core/internal/nfc"

type debounceEntry struct {
	uid      nfc.UID
	lastSeen uint64
	valid    bool
}

// debounceRing is the entire debounce state: a fixed-capacity ring of
// recently seen UIDs. Per spec.md §9 "Debounce semantics", a cache miss
// (whether from expiry or from the ring being full of unrelated UIDs)
// advances the write index — it does NOT evict the least-recently-seen
// entry. A full ring overwrites whichever slot the write index currently
// points at, which may or may not be the oldest.
type debounceRing struct {
	entries   []debounceEntry
	writeIdx  int
	windowMs  uint64
	debounced uint64
}

func newDebounceRing(capacity int, windowMs uint64) *debounceRing {
	if capacity <= 0 {
		capacity = 8
	}
	return &debounceRing{entries: make([]debounceEntry, capacity), windowMs: windowMs}
}

// accept returns true if uid should be accepted as a new card at time now,
// updating ring state either way.
func (d *debounceRing) accept(uid nfc.UID, now uint64) bool {
	for i := range d.entries {
		e := &d.entries[i]
		if !e.valid || !e.uid.Equal(uid) {
			continue
		}
		if now-e.lastSeen < d.windowMs {
			d.debounced++
			return false
		}
		e.lastSeen = now
		return true
	}
	// No valid matching entry: advance the write index and overwrite
	// whatever slot it lands on, per the specified (non-LRU) semantics.
	slot := &d.entries[d.writeIdx]
	slot.uid = uid
	slot.lastSeen = now
	slot.valid = true
	d.writeIdx = (d.writeIdx + 1) % len(d.entries)
	return true
}
