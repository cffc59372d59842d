package nfc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isic-edge/reader-core/internal/clock"
	"github.com/isic-edge/reader-core/internal/config"
	"github.com/isic-edge/reader-core/internal/eventbus"
)

type fakeTransport struct {
	probeErr   error
	nextUID    *UID
	readErr    error
	resetCalls int
}

func (f *fakeTransport) Probe() error { return f.probeErr }
func (f *fakeTransport) ReadUID(time.Duration) (*UID, error) {
	return f.nextUID, f.readErr
}
func (f *fakeTransport) Reset() error { f.resetCalls++; return nil }
func (f *fakeTransport) Close() error { return nil }

func testConfig() config.NFC {
	return config.NFC{
		PollIntervalMs:       200,
		ReadTimeoutMs:        50,
		MaxConsecutiveErrors: 3,
		RecoveryDelayMs:      100,
		MaxRecoveryAttempts:  2,
	}
}

func TestBeginProbeSuccessPublishesNfcReady(t *testing.T) {
	bus := eventbus.New(nil)
	var ready bool
	sub, err := bus.Subscribe(eventbus.NfcReady, func(eventbus.Event) { ready = true })
	require.NoError(t, err)
	defer sub.Cancel()

	tr := &fakeTransport{}
	r := New(bus, clock.NewManual(0), nil, tr, nil, testConfig())
	r.Begin()
	bus.Dispatch()

	assert.Equal(t, Ready, r.State())
	assert.True(t, ready)
}

func TestCardScannedEmittedOnEachRead(t *testing.T) {
	bus := eventbus.New(nil)
	var scans int
	sub, err := bus.Subscribe(eventbus.CardScanned, func(eventbus.Event) { scans++ })
	require.NoError(t, err)
	defer sub.Cancel()

	uid := &UID{Len: 4, Bytes: [10]byte{0x04, 0xA1, 0xB2, 0xC3}}
	tr := &fakeTransport{nextUID: uid}
	r := New(bus, clock.NewManual(0), nil, tr, nil, testConfig())
	r.Begin()
	r.Tick()
	r.Tick()
	bus.Dispatch()

	assert.Equal(t, 2, scans, "each successful read emits an event even for the same UID")
}

func TestRepeatedFailuresEmitSingleNfcErrorThenRecover(t *testing.T) {
	bus := eventbus.New(nil)
	errCount := 0
	sub, err := bus.Subscribe(eventbus.NfcError, func(eventbus.Event) { errCount++ })
	require.NoError(t, err)
	defer sub.Cancel()

	tr := &fakeTransport{readErr: errors.New("comm error")}
	c := clock.NewManual(0)
	r := New(bus, c, nil, tr, nil, testConfig())
	r.Begin()

	r.Tick()
	r.Tick()
	r.Tick() // 3rd consecutive failure -> Recovering
	bus.Dispatch()
	assert.Equal(t, Recovering, r.State())
	assert.Equal(t, 1, errCount, "repeated failure publishes exactly one NfcError")

	// First recovery attempt still fails to probe.
	tr.probeErr = errors.New("still down")
	tr.readErr = nil
	r.Tick()
	assert.Equal(t, Recovering, r.State())

	c.Advance(100)
	r.Tick() // second (last allowed) recovery attempt fails -> Offline
	assert.Equal(t, Offline, r.State())

	tr.probeErr = nil
	c.Advance(100)
	r.Tick() // offline retry succeeds -> Ready
	bus.Dispatch()
	assert.Equal(t, Ready, r.State())
	assert.Equal(t, 1, errCount, "recovery must not emit additional NfcError events")
}

func TestDisabledWakeRoundTrip(t *testing.T) {
	bus := eventbus.New(nil)
	tr := &fakeTransport{}
	r := New(bus, clock.NewManual(0), nil, tr, nil, testConfig())
	r.Begin()

	r.EnterLowPower()
	assert.Equal(t, Disabled, r.State())
	r.Tick() // no-op while Disabled
	assert.Equal(t, Disabled, r.State())

	r.Wake()
	assert.Equal(t, Ready, r.State())
}
