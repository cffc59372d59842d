package power

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isic-edge/reader-core/internal/clock"
	"github.com/isic-edge/reader-core/internal/config"
	"github.com/isic-edge/reader-core/internal/eventbus"
)

type fakeSleeper struct {
	lightCalls  int
	deepCalls   int
	cause       WakeupReason
	armedPin    int
	armNfcCalls int
}

func (f *fakeSleeper) EnterLightSleep(uint32)    { f.lightCalls++ }
func (f *fakeSleeper) EnterDeepSleep(uint32)     { f.deepCalls++ }
func (f *fakeSleeper) WakeupCause() WakeupReason { return f.cause }
func (f *fakeSleeper) ArmNfcWakeup(pin int) error {
	f.armNfcCalls++
	f.armedPin = pin
	return nil
}

type memRTC struct {
	data []byte
}

func (m *memRTC) ReadRTC() ([]byte, error)   { return m.data, nil }
func (m *memRTC) WriteRTC(data []byte) error { m.data = append([]byte(nil), data...); return nil }

func testPowerCfg() config.Power {
	return config.Power{SleepEnabled: true, IdleTimeoutMs: 1000, ShortThresholdMs: 500, MediumThresholdMs: 5000, TimerWakeMs: 2000}
}

func TestIdleThenSleepTransition(t *testing.T) {
	bus := eventbus.New(nil)
	c := clock.NewManual(0)
	sleeper := &fakeSleeper{cause: Timer}
	m := New(bus, c, nil, sleeper, &memRTC{}, testPowerCfg())
	m.Boot()

	c.Advance(1500)
	m.Tick()
	assert.Equal(t, Idle, m.State())

	m.Tick()
	assert.Equal(t, Active, m.State(), "manager wakes back up after a simulated sleep")
	assert.Equal(t, 1, sleeper.lightCalls+sleeper.deepCalls)
}

func TestWakeLockPreventsSleep(t *testing.T) {
	bus := eventbus.New(nil)
	c := clock.NewManual(0)
	sleeper := &fakeSleeper{}
	m := New(bus, c, nil, sleeper, &memRTC{}, testPowerCfg())
	m.Boot()
	id := m.RequestWakeLock("nfc-read")

	c.Advance(2000)
	m.Tick()
	assert.Equal(t, Idle, m.State())
	m.Tick()
	assert.Equal(t, Idle, m.State(), "sleep is cancelled while a wake lock is held")
	assert.Equal(t, 0, sleeper.lightCalls+sleeper.deepCalls)
	assert.EqualValues(t, 1, m.Stats().SleepCancelledCount)

	m.ReleaseWakeLock(id)
	m.Tick()
	assert.Equal(t, Active, m.State(), "sleep now proceeds and the simulated sleeper wakes immediately")
	assert.Equal(t, 1, sleeper.lightCalls+sleeper.deepCalls)
}

func TestSmartSleepDepthSelection(t *testing.T) {
	bus := eventbus.New(nil)
	c := clock.NewManual(0)
	cfg := testPowerCfg()
	cfg.SmartSleepEnabled = true
	cfg.TimerWakeMs = 10000 // >= medium threshold
	m := New(bus, c, nil, &fakeSleeper{}, &memRTC{}, cfg)
	m.Boot()
	assert.Equal(t, DeepSleep, m.selectDepth())
}

func TestActivityResetsIdleTimer(t *testing.T) {
	bus := eventbus.New(nil)
	c := clock.NewManual(0)
	m := New(bus, c, nil, &fakeSleeper{}, &memRTC{}, testPowerCfg())
	m.Boot()

	c.Advance(900)
	require.NoError(t, bus.Publish(eventbus.Event{Kind: eventbus.CardScanned}))
	bus.Dispatch()

	c.Advance(900) // total 1800ms since boot, but only 900ms since the scan
	m.Tick()
	assert.Equal(t, Active, m.State())
}

func TestActivityMaskFiltersResetEvents(t *testing.T) {
	bus := eventbus.New(nil)
	c := clock.NewManual(0)
	cfg := testPowerCfg()
	cfg.ActivityMask = uint8(ActivityNfcReady) // only NfcReady resets idle
	m := New(bus, c, nil, &fakeSleeper{}, &memRTC{}, cfg)
	m.Boot()

	c.Advance(900)
	require.NoError(t, bus.Publish(eventbus.Event{Kind: eventbus.CardScanned}))
	bus.Dispatch()

	c.Advance(900) // 1800ms since boot; CardScanned was masked out, so idle fires
	m.Tick()
	assert.Equal(t, Idle, m.State(), "CardScanned does not reset idle when masked out")
}

func TestDeepSleepArmsNfcWakeupAndPersistsPendingFlag(t *testing.T) {
	bus := eventbus.New(nil)
	c := clock.NewManual(0)
	cfg := testPowerCfg()
	cfg.SmartSleepEnabled = true
	cfg.TimerWakeMs = 10000 // >= medium threshold, selects DeepSleep
	cfg.NfcWakePin = 4
	sleeper := &fakeSleeper{}
	rtc := &memRTC{}
	m := New(bus, c, nil, sleeper, rtc, cfg)
	m.Boot()

	c.Advance(2000)
	m.Tick()
	assert.Equal(t, Idle, m.State())
	m.Tick()

	assert.Equal(t, 1, sleeper.armNfcCalls)
	assert.Equal(t, 4, sleeper.armedPin)
	assert.True(t, m.pendingNfcWakeup)

	decoded, ok := decodeRTCState(rtc.data)
	require.True(t, ok)
	assert.True(t, decoded.PendingNfcWakeup, "deep sleep with an NFC wake pin persists the pending flag for Boot to consult")
}

func TestLightSleepDoesNotArmNfcWakeup(t *testing.T) {
	bus := eventbus.New(nil)
	c := clock.NewManual(0)
	cfg := testPowerCfg()
	cfg.NfcWakePin = 4 // smart sleep disabled, so selectDepth always returns LightSleep
	sleeper := &fakeSleeper{}
	m := New(bus, c, nil, sleeper, &memRTC{}, cfg)
	m.Boot()

	c.Advance(2000)
	m.Tick()
	m.Tick()

	assert.Equal(t, 0, sleeper.armNfcCalls)
	assert.False(t, m.pendingNfcWakeup)
}

func TestRTCRoundTripValidatesCRC(t *testing.T) {
	s := RTCState{WakeupCount: 3, TotalSleepMs: 45000, LastRequestedState: DeepSleep, PendingNfcWakeup: true, RemainingSleepMs: 0}
	buf := s.encode()
	decoded, ok := decodeRTCState(buf[:])
	require.True(t, ok)
	assert.Equal(t, s.WakeupCount, decoded.WakeupCount)
	assert.Equal(t, s.PendingNfcWakeup, decoded.PendingNfcWakeup)

	buf[0] ^= 0xFF // corrupt magic
	_, ok = decodeRTCState(buf[:])
	assert.False(t, ok)
}
