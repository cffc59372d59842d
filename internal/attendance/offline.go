package attendance

// OverflowPolicy governs what happens when the offline buffer is full and
// a new batch must be inserted (spec.md §4.5 "Offline overflow policy").
type OverflowPolicy int

const (
	DropOldest OverflowPolicy = iota
	DropNewest
	DropAll
)

func ParseOverflowPolicy(s string) OverflowPolicy {
	switch s {
	case "drop_newest":
		return DropNewest
	case "drop_all":
		return DropAll
	default:
		return DropOldest
	}
}

// offlineBuffer is a bounded FIFO of batches awaiting broker availability.
type offlineBuffer struct {
	batches        []*Batch
	capacity       int
	policy         OverflowPolicy
	maxAttempts    int
	recordsDropped uint64
}

func newOfflineBuffer(capacity int, policy OverflowPolicy, maxAttempts int) *offlineBuffer {
	return &offlineBuffer{capacity: capacity, policy: policy, maxAttempts: maxAttempts}
}

// insert adds b to the tail, applying the overflow policy if the buffer is
// already at capacity. Returns false if b was refused outright (DropNewest).
func (o *offlineBuffer) insert(b *Batch) bool {
	if len(o.batches) < o.capacity {
		o.batches = append(o.batches, b)
		return true
	}
	switch o.policy {
	case DropOldest:
		o.recordsDropped += uint64(o.batches[0].Count())
		o.batches = append(o.batches[1:], b)
		return true
	case DropNewest:
		o.recordsDropped += uint64(b.Count())
		return false
	case DropAll:
		for _, old := range o.batches {
			o.recordsDropped += uint64(old.Count())
		}
		o.batches = []*Batch{b}
		return true
	default:
		return false
	}
}

func (o *offlineBuffer) len() int { return len(o.batches) }

// droppedCount returns the total records the buffer itself has discarded
// under its overflow policy (DropOldest/DropNewest/DropAll), independent of
// any drops the pipeline applies after exhausting send attempts.
func (o *offlineBuffer) droppedCount() uint64 { return o.recordsDropped }

// peekHead returns up to n batches from the head, oldest first, for the
// caller to attempt publishing, without removing them. The caller removes
// the ones it is done with through removeHead; the rest stay at the head
// in original order.
func (o *offlineBuffer) peekHead(n int) []*Batch {
	if n > len(o.batches) {
		n = len(o.batches)
	}
	out := make([]*Batch, n)
	copy(out, o.batches[:n])
	return out
}

// removeHead drops the first n batches (successfully sent or permanently
// failed).
func (o *offlineBuffer) removeHead(n int) {
	if n > len(o.batches) {
		n = len(o.batches)
	}
	o.batches = o.batches[n:]
}
