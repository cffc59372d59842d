package attendance

import (
	"encoding/json"

	"github.com/isic-edge/reader-core/internal/apperr"
	"github.com/isic-edge/reader-core/internal/clock"
	"github.com/isic-edge/reader-core/internal/config"
	"github.com/isic-edge/reader-core/internal/eventbus"
	"github.com/isic-edge/reader-core/internal/logging"
	"github.com/isic-edge/reader-core/internal/nfc"
)

// Transport is the narrow publish collaborator Attendance needs from the
// broker layer. It is a best-effort transport action: the broker's own
// acknowledgement, if any, is not surfaced (spec.md §4.4 "Publish
// semantics"). Attendance still observes Connected/Disconnected through
// the event bus like every other component; Transport only supplies the
// synchronous "did the write-to-wire succeed" result the flush step
// needs, since no ack event exists in the closed event-kind set.
type Transport interface {
	Publish(topic string, payload []byte) error
}

// Metrics mirrors the original AttendanceBatcher's counters (recovered
// from original_source/include/services/AttendanceBatcher.hpp).
type Metrics struct {
	RecordsReceived    uint64
	LastRecordReceived uint64
	RecordsDropped     uint64
	CardsDebounced     uint64
	OfflineCount       int
	NextSequence       uint32
}

// envelope is the wire shape for a flushed batch (spec.md §6 "Broker wire
// format").
type envelope struct {
	Count      int          `json:"count"`
	FirstTs    uint64       `json:"first_ts"`
	LastTs     uint64       `json:"last_ts"`
	DeviceID   string       `json:"device_id"`
	LocationID string       `json:"location_id"`
	TsSource   string       `json:"ts_source"`
	Records    []wireRecord `json:"records"`
}

type wireRecord struct {
	UID string `json:"uid"`
	Ts  uint64 `json:"ts"`
	Seq uint32 `json:"seq"`
}

// Pipeline implements debounce -> batch -> offline buffer -> publish.
type Pipeline struct {
	bus       *eventbus.Bus
	clock     clock.Clock
	log       logging.Logger
	transport Transport

	cfg config.Attendance

	debounce *debounceRing
	offline  *offlineBuffer

	current        Batch
	sequence       uint32
	connected      bool
	lastActivityMs uint64
	metrics        Metrics
	deviceID       string
	locationID     string

	subs []*eventbus.Subscription
}

// New constructs a Pipeline and subscribes it to CardScanned,
// MqttConnected, and MqttDisconnected.
func New(bus *eventbus.Bus, clk clock.Clock, log logging.Logger, transport Transport, cfg config.Attendance) *Pipeline {
	if log == nil {
		log = logging.Nop{}
	}
	p := &Pipeline{
		bus:       bus,
		clock:     clk,
		log:       log,
		transport: transport,
		cfg:       cfg,
		debounce:  newDebounceRing(cfg.DebounceRingSize, uint64(cfg.DebounceMs)),
		offline:   newOfflineBuffer(cfg.OfflineCapacity, ParseOverflowPolicy(cfg.OfflineOverflowPolicy), cfg.MaxSendAttempts),
	}
	if bus != nil {
		if s, err := bus.Subscribe(eventbus.CardScanned, p.onCardScanned); err == nil {
			p.subs = append(p.subs, s)
		}
		if s, err := bus.Subscribe(eventbus.MqttConnected, func(eventbus.Event) { p.connected = true }); err == nil {
			p.subs = append(p.subs, s)
		}
		if s, err := bus.Subscribe(eventbus.MqttDisconnected, func(eventbus.Event) { p.connected = false }); err == nil {
			p.subs = append(p.subs, s)
		}
	}
	return p
}

// Close cancels every subscription the pipeline registered.
func (p *Pipeline) Close() {
	for _, s := range p.subs {
		s.Cancel()
	}
}

func (p *Pipeline) onCardScanned(e eventbus.Event) {
	payload := e.Payload.(eventbus.CardScannedPayload)
	uid := nfc.UID{Bytes: payload.UID, Len: payload.UIDLen}
	now := p.clock.MonotonicMs()

	p.metrics.RecordsReceived++
	p.metrics.LastRecordReceived = now

	if !p.debounce.accept(uid, now) {
		p.metrics.CardsDebounced = p.debounce.debounced
		return
	}

	p.sequence++
	rec := Record{UID: uid, MonotonicMs: now, Sequence: p.sequence}
	p.current.Append(rec, now)
	p.lastActivityMs = now

	if p.shouldFlush(now) {
		p.flush(now)
	}
}

func (p *Pipeline) shouldFlush(now uint64) bool {
	if !p.cfg.BatchingEnabled {
		return true
	}
	if p.current.Count() >= p.cfg.BatchMaxSize {
		return true
	}
	if now-p.current.BatchStartMs >= uint64(p.cfg.BatchFlushIntervalMs) {
		return true
	}
	return false
}

// Tick evaluates the idle-flush trigger; called by the scheduler at a
// cadence independent of CardScanned arrivals.
func (p *Pipeline) Tick() {
	now := p.clock.MonotonicMs()
	if p.current.Count() > 0 && now-p.lastActivityMs >= uint64(p.cfg.BatchFlushOnIdleMs) {
		p.flush(now)
	}
	p.drainOffline()
}

// FlushForSleep is the external flush trigger PowerManager calls before
// entering sleep (spec.md §4.5 "Batch flush triggers ... External").
func (p *Pipeline) FlushForSleep() {
	if p.current.Count() > 0 {
		p.flush(p.clock.MonotonicMs())
	}
}

func (p *Pipeline) flush(now uint64) {
	if p.current.Count() == 0 {
		return
	}
	batch := p.current
	p.current = Batch{}

	payload, err := p.serialize(&batch)
	if err != nil {
		// Serialisation failure aborts the flush and leaves the batch in
		// place for the next attempt (spec.md §4.5 "Failure semantics").
		p.current = batch
		p.log.Error("batch serialisation failed", "error", err)
		return
	}

	if p.connected && p.transport != nil {
		if err := p.transport.Publish("attendance/batch", payload); err == nil {
			if p.bus != nil {
				_ = p.bus.Publish(eventbus.Event{Kind: eventbus.AttendanceRecorded, TimestampMs: now})
			}
			return
		}
	}
	p.storeOffline(&batch)
}

func (p *Pipeline) storeOffline(batch *Batch) {
	// insert() itself accounts for every record it discards under the
	// configured overflow policy (droppedCount, folded in by Metrics());
	// nothing else to track here.
	p.offline.insert(batch)
	p.metrics.OfflineCount = p.offline.len()
}

// drainOffline attempts to publish up to DrainPerTick oldest-first
// batches once connected, to avoid starving other scheduler tasks.
func (p *Pipeline) drainOffline() {
	if !p.connected || p.transport == nil || p.offline.len() == 0 {
		return
	}
	head := p.offline.peekHead(p.cfg.DrainPerTick)
	sent := 0
	for _, b := range head {
		payload, err := p.serialize(b)
		if err != nil {
			break
		}
		if err := p.transport.Publish("attendance/batch", payload); err != nil {
			b.SendAttempts++
			if b.SendAttempts >= p.cfg.MaxSendAttempts {
				p.metrics.RecordsDropped += uint64(b.Count())
				sent++ // drop it from the head regardless
				continue
			}
			break
		}
		sent++
	}
	p.offline.removeHead(sent)
	p.metrics.OfflineCount = p.offline.len()
}

func (p *Pipeline) serialize(b *Batch) ([]byte, error) {
	env := envelope{
		Count:      b.Count(),
		FirstTs:    b.FirstTs,
		LastTs:     b.LastTs,
		DeviceID:   p.deviceID,
		LocationID: p.locationID,
		TsSource:   b.TsSource,
		Records:    make([]wireRecord, 0, b.Count()),
	}
	for _, r := range b.Records {
		env.Records = append(env.Records, wireRecord{UID: uidHex(r.UID), Ts: r.MonotonicMs, Seq: r.Sequence})
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, apperr.Wrap("attendance", apperr.InvalidArg, "marshal batch", err)
	}
	return out, nil
}

// SetDeviceInfo stamps device/location identifiers into every envelope
// produced after this call.
func (p *Pipeline) SetDeviceInfo(deviceID, locationID string) {
	p.deviceID = deviceID
	p.locationID = locationID
}

func uidHex(u nfc.UID) string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, 0, int(u.Len)*2)
	for i := uint8(0); i < u.Len; i++ {
		b := u.Bytes[i]
		out = append(out, hexDigits[b>>4], hexDigits[b&0x0F])
	}
	return string(out)
}

// Metrics returns a snapshot of the pipeline's observability counters.
func (p *Pipeline) Metrics() Metrics {
	m := p.metrics
	m.NextSequence = p.sequence + 1
	m.OfflineCount = p.offline.len()
	m.RecordsDropped += p.offline.droppedCount()
	return m
}

// PendingCount returns the number of records accumulated in the current,
// not-yet-flushed batch.
func (p *Pipeline) PendingCount() int { return p.current.Count() }
