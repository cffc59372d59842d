// Package power implements PowerManager (spec.md §4.6): idle detection,
// wake-lock arbitration, smart sleep-depth selection, and the deep-sleep
// persistence region.
package power

import (
	"github.com/isic-edge/reader-core/internal/apperr"
	"github.com/isic-edge/reader-core/internal/clock"
	"github.com/isic-edge/reader-core/internal/config"
	"github.com/isic-edge/reader-core/internal/eventbus"
	"github.com/isic-edge/reader-core/internal/logging"
)

// Manager drives PowerManager's state machine. Tick() is called once per
// scheduler pass at low precedence, so sleep is only ever entered between
// two ticks of everything else.
type Manager struct {
	bus   *eventbus.Bus
	clock clock.Clock
	log   logging.Logger
	sleep PlatformSleeper
	rtc   RTCStore

	cfg config.Power

	state               State
	wakeLocks           *wakeLockSet
	lastActivityMs      uint64
	wakeupCount         uint32
	totalSleepMs        uint32
	sleepCancelledCount uint32

	pendingNfcWakeup bool

	subs []*eventbus.Subscription
}

// New constructs a Manager and subscribes it to the event kinds that reset
// the idle timer.
func New(bus *eventbus.Bus, clk clock.Clock, log logging.Logger, sleeper PlatformSleeper, rtc RTCStore, cfg config.Power) *Manager {
	if log == nil {
		log = logging.Nop{}
	}
	m := &Manager{
		bus:       bus,
		clock:     clk,
		log:       log,
		sleep:     sleeper,
		rtc:       rtc,
		cfg:       cfg,
		state:     Active,
		wakeLocks: newWakeLockSet(),
	}
	if bus != nil {
		mask := ActivityTypeMask(cfg.ActivityMask)
		if mask == 0 {
			mask = DefaultActivityMask
		}
		resetIdle := func(eventbus.Event) { m.lastActivityMs = m.clock.MonotonicMs() }
		for _, b := range activityBindings {
			if mask&b.bit == 0 {
				continue
			}
			if s, err := bus.Subscribe(b.kind, resetIdle); err == nil {
				m.subs = append(m.subs, s)
			}
		}
	}
	return m
}

func (m *Manager) Close() {
	for _, s := range m.subs {
		s.Cancel()
	}
}

func (m *Manager) State() State { return m.state }

// RequestWakeLock issues a named lock that forbids sleep until released.
func (m *Manager) RequestWakeLock(name string) uint64 {
	return m.wakeLocks.acquire(name, m.clock.MonotonicMs())
}

// ReleaseWakeLock releases a previously issued lock. Releasing a lock does
// NOT reset the idle timer (spec.md §8 Scenario E, an explicit Open
// Question resolved in this implementation's favour).
func (m *Manager) ReleaseWakeLock(id uint64) {
	m.wakeLocks.release(id)
}

func (m *Manager) HasActiveWakeLocks() bool {
	return m.wakeLocks.hasActive()
}

// Boot runs wakeup-reason detection once at process start, restoring the
// persisted RTC region if it validates.
func (m *Manager) Boot() {
	reason := UnknownReason
	if m.sleep != nil {
		reason = m.sleep.WakeupCause()
	}
	var restored RTCState
	if m.rtc != nil {
		if buf, err := m.rtc.ReadRTC(); err == nil {
			if s, ok := decodeRTCState(buf); ok {
				restored = s
				m.wakeupCount = s.WakeupCount
				m.totalSleepMs = s.TotalSleepMs
			}
		}
	}
	if reason == External && restored.PendingNfcWakeup {
		m.RequestWakeLock("nfc-wakeup-settle")
	}
	m.state = Active
	m.lastActivityMs = m.clock.MonotonicMs()
	m.publish(eventbus.WakeupOccurred, eventbus.WakeupOccurredPayload{Reason: reason.String()})
}

// Tick evaluates idle detection and, if eligible, runs the sleep sequence.
func (m *Manager) Tick() {
	now := m.clock.MonotonicMs()
	switch m.state {
	case Active:
		if now-m.lastActivityMs >= uint64(m.cfg.IdleTimeoutMs) {
			m.state = Idle
		}
	case Idle:
		if m.canSleep(now) {
			m.enterSleep(now)
		} else if now-m.lastActivityMs < uint64(m.cfg.IdleTimeoutMs) {
			m.state = Active
		}
	}
}

// canSleep reports whether Idle has persisted long enough to attempt
// sleep. It does NOT consult wake locks: a held lock must still reach
// enterSleep so the cancellation is actually counted (spec.md §4.6 "a
// sleep attempt while a wake lock is held is silently cancelled and
// counted"), rather than being silently skipped here.
func (m *Manager) canSleep(now uint64) bool {
	if !m.cfg.SleepEnabled {
		return false
	}
	return now-m.lastActivityMs >= uint64(m.cfg.IdleTimeoutMs)
}

// selectDepth implements spec.md §4.6's smart sleep depth selection.
func (m *Manager) selectDepth() State {
	if !m.cfg.SmartSleepEnabled {
		return LightSleep
	}
	estimate := uint64(m.cfg.TimerWakeMs)
	switch {
	case estimate < uint64(m.cfg.ShortThresholdMs):
		return LightSleep
	case estimate < uint64(m.cfg.MediumThresholdMs):
		return ModemSleep
	default:
		return DeepSleep
	}
}

func (m *Manager) enterSleep(now uint64) {
	if m.wakeLocks.hasActive() {
		// Cancelled between the Idle check and here; count and bail
		// (spec.md §4.6 "a sleep attempt while a wake lock is held is
		// silently cancelled and counted").
		m.sleepCancelledCount++
		m.log.Warn("sleep attempt cancelled: wake lock held")
		return
	}
	target := m.selectDepth()
	previous := m.state

	m.publish(eventbus.SleepRequested, nil)
	m.publish(eventbus.PowerStateChange, eventbus.PowerStateChangePayload{Target: target.String(), Previous: previous.String()})

	// Deep sleep loses everything but the RTC region, so only it needs an
	// armed external wakeup source; arm it before persisting so the RTC
	// record reflects the pin actually configured for this sleep cycle
	// (spec.md §6 "nfc_wake_pin").
	m.pendingNfcWakeup = target == DeepSleep && m.cfg.NfcWakePin != 0
	if m.pendingNfcWakeup && m.sleep != nil {
		if err := m.sleep.ArmNfcWakeup(m.cfg.NfcWakePin); err != nil {
			m.log.Warn("nfc wakeup arm failed", "error", err)
		}
	}

	m.persistRTC(target)

	m.state = target
	switch target {
	case LightSleep, ModemSleep:
		if m.sleep != nil {
			m.sleep.EnterLightSleep(m.cfg.TimerWakeMs)
		}
		m.wakeupCount++
		m.totalSleepMs += m.cfg.TimerWakeMs
		m.wake()
	case DeepSleep:
		if m.sleep != nil {
			m.sleep.EnterDeepSleep(m.cfg.TimerWakeMs)
		}
		// Production: does not return. Simulated sleepers return so the
		// caller (tests, or a simulated main loop) can observe the wake.
		m.wakeupCount++
		m.totalSleepMs += m.cfg.TimerWakeMs
		m.wake()
	}
}

func (m *Manager) persistRTC(target State) {
	if m.rtc == nil {
		return
	}
	s := RTCState{
		WakeupCount:        m.wakeupCount,
		TotalSleepMs:       m.totalSleepMs,
		LastRequestedState: target,
		PendingNfcWakeup:   m.pendingNfcWakeup,
		RemainingSleepMs:   0,
	}
	buf := s.encode()
	if err := m.rtc.WriteRTC(buf[:]); err != nil {
		m.log.Error("rtc persist failed", "error", err)
	}
}

func (m *Manager) wake() {
	m.state = Active
	m.lastActivityMs = m.clock.MonotonicMs()
	reason := Timer
	if m.sleep != nil {
		reason = m.sleep.WakeupCause()
	}
	m.publish(eventbus.WakeupOccurred, eventbus.WakeupOccurredPayload{Reason: reason.String()})
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	State               State
	WakeupCount         uint32
	TotalSleepMs        uint32
	SleepCancelledCount uint32
	ActiveLocks         []WakeLock
}

func (m *Manager) Stats() Stats {
	return Stats{
		State:               m.state,
		WakeupCount:         m.wakeupCount,
		TotalSleepMs:        m.totalSleepMs,
		SleepCancelledCount: m.sleepCancelledCount,
		ActiveLocks:         m.wakeLocks.list(),
	}
}

func (m *Manager) publish(kind eventbus.Kind, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(eventbus.Event{Kind: kind, TimestampMs: m.clock.MonotonicMs(), Payload: payload}); err != nil {
		if apperr.KindOf(err) != apperr.Unknown {
			m.log.Warn("power publish dropped", "kind", kind.String(), "error", err)
		}
	}
}
