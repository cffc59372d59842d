package acceptance

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/cucumber/godog"

	"github.com/isic-edge/reader-core/internal/attendance"
	"github.com/isic-edge/reader-core/internal/clock"
	"github.com/isic-edge/reader-core/internal/config"
	"github.com/isic-edge/reader-core/internal/eventbus"
)

func uidPayload(uidHex string) eventbus.CardScannedPayload {
	raw, err := hex.DecodeString(uidHex)
	if err != nil {
		raw = []byte(uidHex)
	}
	var bytes [10]byte
	n := copy(bytes[:], raw)
	return eventbus.CardScannedPayload{UID: bytes, UIDLen: uint8(n)}
}

type recordingTransport struct {
	fail      bool
	published int
}

func (t *recordingTransport) Publish(topic string, payload []byte) error {
	if t.fail {
		return fmt.Errorf("transport unavailable")
	}
	t.published++
	return nil
}

type attendanceCtx struct {
	bus      *eventbus.Bus
	clock    *clock.Manual
	tr       *recordingTransport
	pipeline *attendance.Pipeline
	cfg      config.Attendance
}

func (a *attendanceCtx) reset() {
	a.bus = eventbus.New(nil)
	a.clock = clock.NewManual(0)
	a.tr = &recordingTransport{}
	a.cfg = config.Attendance{
		DebounceRingSize: 8, BatchFlushIntervalMs: 60000, BatchFlushOnIdleMs: 60000,
		BatchingEnabled: true, OfflineCapacity: 10, OfflineOverflowPolicy: "drop_oldest",
		MaxSendAttempts: 5, DrainPerTick: 10,
	}
}

func (a *attendanceCtx) givenPipeline(debounceMs, batchMaxSize int) error {
	a.reset()
	a.cfg.DebounceMs = uint32(debounceMs)
	a.cfg.BatchMaxSize = batchMaxSize
	a.pipeline = attendance.New(a.bus, a.clock, nil, a.tr, a.cfg)
	return nil
}

func (a *attendanceCtx) brokerConnected() error {
	_ = a.bus.Publish(eventbus.Event{Kind: eventbus.MqttConnected})
	a.bus.Dispatch()
	return nil
}

func (a *attendanceCtx) brokerDisconnected() error {
	a.tr.fail = true
	_ = a.bus.Publish(eventbus.Event{Kind: eventbus.MqttDisconnected})
	a.bus.Dispatch()
	return nil
}

func (a *attendanceCtx) offlineCapacity(n int) error {
	a.cfg.OfflineCapacity = n
	a.pipeline = attendance.New(a.bus, a.clock, nil, a.tr, a.cfg)
	return nil
}

func (a *attendanceCtx) cardScannedAt(uid string, atMs int) error {
	a.clock.Set(uint64(atMs))
	_ = a.bus.Publish(eventbus.Event{Kind: eventbus.CardScanned, Payload: uidPayload(uid)})
	a.bus.Dispatch()
	return nil
}

func (a *attendanceCtx) nDistinctCardsStartingAt(n, spacingMs, startMs int) error {
	for i := 0; i < n; i++ {
		a.clock.Set(uint64(startMs + i*spacingMs))
		var bytes [10]byte
		bytes[0] = byte(i + 1)
		_ = a.bus.Publish(eventbus.Event{Kind: eventbus.CardScanned, Payload: eventbus.CardScannedPayload{UID: bytes, UIDLen: 4}})
		a.bus.Dispatch()
	}
	return nil
}

func (a *attendanceCtx) exactlyCardsDebounced(n int) error {
	if got := int(a.pipeline.Metrics().CardsDebounced); got != n {
		return fmt.Errorf("expected %d debounced, got %d", n, got)
	}
	return nil
}

func (a *attendanceCtx) exactlyBatchesPublished(n int) error {
	if a.tr.published != n {
		return fmt.Errorf("expected %d published batches, got %d", n, a.tr.published)
	}
	return nil
}

func (a *attendanceCtx) nextBatchHoldsPending(n int) error {
	if got := a.pipeline.PendingCount(); got != n {
		return fmt.Errorf("expected %d pending records, got %d", n, got)
	}
	return nil
}

func (a *attendanceCtx) offlineBufferHolds(n int) error {
	if got := a.pipeline.Metrics().OfflineCount; got != n {
		return fmt.Errorf("expected offline count %d, got %d", n, got)
	}
	return nil
}

func (a *attendanceCtx) exactlyRecordsDropped(n int) error {
	if got := int(a.pipeline.Metrics().RecordsDropped); got != n {
		return fmt.Errorf("expected %d dropped, got %d", n, got)
	}
	return nil
}

func TestAttendanceFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			tc := &attendanceCtx{}

			ctx.Given(`^an attendance pipeline with debounce_ms (\d+) and batch_max_size (\d+)$`, tc.givenPipeline)
			ctx.Given(`^the broker is connected$`, tc.brokerConnected)
			ctx.Given(`^the broker is disconnected$`, tc.brokerDisconnected)
			ctx.Given(`^the offline buffer capacity is (\d+)$`, tc.offlineCapacity)
			ctx.When(`^card "([^"]*)" is scanned at (\d+)$`, tc.cardScannedAt)
			ctx.When(`^(\d+) distinct cards are scanned (\d+) ms apart starting at (\d+)$`, tc.nDistinctCardsStartingAt)
			ctx.Then(`^exactly (\d+) cards have been debounced$`, tc.exactlyCardsDebounced)
			ctx.Then(`^exactly (\d+) batches have been published$`, tc.exactlyBatchesPublished)
			ctx.Then(`^the next batch holds (\d+) pending records$`, tc.nextBatchHoldsPending)
			ctx.Then(`^the offline buffer holds (\d+) batches$`, tc.offlineBufferHolds)
			ctx.Then(`^exactly (\d+) records have been dropped$`, tc.exactlyRecordsDropped)
		},
		Options: &godog.Options{
			Format: "pretty",
			Paths:  []string{"features"},
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
