package attendance

import "github.com/isic-edge/reader-core/internal/nfc"

// Record mirrors spec.md §3 AttendanceRecord. Sequence is assigned at
// creation from a per-boot monotonic counter; it is the only ordering key
// the broker receives.
type Record struct {
	UID         nfc.UID
	MonotonicMs uint64
	Sequence    uint32
}

// Batch mirrors spec.md §3 AttendanceBatch: an ordered, bounded group of
// records published together.
type Batch struct {
	Records      []Record
	FirstTs      uint64
	LastTs       uint64
	BatchStartMs uint64
	// TsSource is fixed at batch-open time and never changes mid-batch
	// (spec.md §9 "Unresolved: batch serialisation ..."). This
	// implementation only ever produces "monotonic".
	TsSource     string
	SendAttempts int
}

// Count is the number of records currently in the batch.
func (b *Batch) Count() int { return len(b.Records) }

// Append adds rec to the batch, setting FirstTs/BatchStartMs if this is
// the first record (spec.md §4.5 "Record creation").
func (b *Batch) Append(rec Record, now uint64) {
	if len(b.Records) == 0 {
		b.FirstTs = rec.MonotonicMs
		b.BatchStartMs = now
		b.TsSource = "monotonic"
	}
	b.Records = append(b.Records, rec)
	b.LastTs = rec.MonotonicMs
}
