package attendance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isic-edge/reader-core/internal/clock"
	"github.com/isic-edge/reader-core/internal/config"
	"github.com/isic-edge/reader-core/internal/eventbus"
	"github.com/isic-edge/reader-core/internal/nfc"
)

type fakeTransport struct {
	fail      bool
	published [][]byte
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	if f.fail {
		return assert.AnError
	}
	f.published = append(f.published, payload)
	return nil
}

func uid(b byte) eventbus.CardScannedPayload {
	var bytes [10]byte
	bytes[0] = b
	return eventbus.CardScannedPayload{UID: bytes, UIDLen: 4}
}

func scan(bus *eventbus.Bus, p eventbus.CardScannedPayload) {
	_ = bus.Publish(eventbus.Event{Kind: eventbus.CardScanned, Payload: p})
	bus.Dispatch()
}

func testCfg() config.Attendance {
	return config.Attendance{
		DebounceMs:            1000,
		DebounceRingSize:      8,
		BatchMaxSize:          3,
		BatchFlushIntervalMs:  5000,
		BatchFlushOnIdleMs:    2000,
		BatchingEnabled:       true,
		OfflineCapacity:       10,
		OfflineOverflowPolicy: "drop_oldest",
		MaxSendAttempts:       5,
		DrainPerTick:          3,
	}
}

// Scenario A from spec.md §8.
func TestScenarioA_BasicHappyPath(t *testing.T) {
	bus := eventbus.New(nil)
	c := clock.NewManual(0)
	tr := &fakeTransport{}
	p := New(bus, c, nil, tr, testCfg())
	p.connected = true

	c.Set(100)
	scan(bus, uid(0x04))
	c.Set(500)
	scan(bus, uid(0x04)) // debounced: 500-100=400 < 1000
	c.Set(1200)
	scan(bus, uid(0x04)) // 1200-100=1100 >= 1000: accepted (seq 2)
	c.Set(1300)
	scan(bus, uid(0x11)) // accepted (seq 3) -> size trigger flushes seqs 1..3
	c.Set(1400)
	scan(bus, uid(0x55))

	assert.EqualValues(t, 1, p.Metrics().CardsDebounced)
	assert.Len(t, tr.published, 1, "batch flushes after the 3rd accepted record")
	assert.Equal(t, 1, p.current.Count(), "seq 4 stays in the next batch")
	assert.EqualValues(t, 4, p.sequence)
}

// Scenario B from spec.md §8: offline then recover, in-order drain.
func TestScenarioB_OfflineThenRecover(t *testing.T) {
	bus := eventbus.New(nil)
	c := clock.NewManual(0)
	tr := &fakeTransport{fail: true}
	cfg := testCfg()
	cfg.BatchMaxSize = 3
	p := New(bus, c, nil, tr, cfg)
	p.connected = false

	for _, b := range []byte{1, 2, 3, 4, 5, 6, 7, 8, 9} {
		c.Advance(200)
		scan(bus, uid(b))
	}
	require.Equal(t, 3, p.offline.len())
	assert.EqualValues(t, 0, p.Metrics().RecordsDropped)

	tr.fail = false
	p.connected = true
	p.Tick()

	assert.Equal(t, 0, p.offline.len())
	assert.EqualValues(t, 0, p.Metrics().RecordsDropped)
	assert.Len(t, tr.published, 3)
}

// Scenario C from spec.md §8: offline overflow DropOldest.
func TestScenarioC_OfflineOverflowDropOldest(t *testing.T) {
	bus := eventbus.New(nil)
	c := clock.NewManual(0)
	tr := &fakeTransport{fail: true}
	cfg := testCfg()
	cfg.BatchMaxSize = 3
	cfg.OfflineCapacity = 2
	p := New(bus, c, nil, tr, cfg)
	p.connected = false

	for _, b := range []byte{1, 2, 3, 4, 5, 6, 7, 8, 9} {
		c.Advance(200)
		scan(bus, uid(b))
	}

	assert.Equal(t, 2, p.offline.len())
	assert.EqualValues(t, 3, p.Metrics().RecordsDropped, "B1's 3 records are dropped")
}

func TestDebounceRingOverwriteIsNotLRU(t *testing.T) {
	ring := newDebounceRing(2, 1000)
	a := nfc.UID{Len: 4, Bytes: [10]byte{1}}
	b := nfc.UID{Len: 4, Bytes: [10]byte{2}}
	c := nfc.UID{Len: 4, Bytes: [10]byte{3}}

	assert.True(t, ring.accept(a, 0)) // slot0=a, writeIdx=1
	assert.True(t, ring.accept(b, 0)) // slot1=b, writeIdx=0
	assert.True(t, ring.accept(c, 0)) // miss: overwrite slot0 (a), writeIdx=1

	// a was evicted even though b is equally old; re-presenting a is
	// accepted again because it's no longer in the ring.
	assert.True(t, ring.accept(a, 10))
}

func TestIdleFlushOnlyFiresWhenBatchNonEmpty(t *testing.T) {
	bus := eventbus.New(nil)
	c := clock.NewManual(0)
	tr := &fakeTransport{}
	cfg := testCfg()
	cfg.BatchFlushOnIdleMs = 500
	p := New(bus, c, nil, tr, cfg)
	p.connected = true

	c.Advance(1000)
	p.Tick()
	assert.Empty(t, tr.published, "no flush when batch is empty")

	scan(bus, uid(0x09))
	c.Advance(600)
	p.Tick()
	assert.Len(t, tr.published, 1)
}
