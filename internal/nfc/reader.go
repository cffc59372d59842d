package nfc

import (
	"time"

	"github.com/isic-edge/reader-core/internal/clock"
	"github.com/isic-edge/reader-core/internal/config"
	"github.com/isic-edge/reader-core/internal/eventbus"
	"github.com/isic-edge/reader-core/internal/logging"
)

// Reader drives the card-reader chip through its lifecycle state machine
// (spec.md §4.3). One tick of Reader corresponds to one scheduler task
// invocation; Reader never blocks inside a tick beyond the transport's own
// short read timeout.
type Reader struct {
	bus       *eventbus.Bus
	clock     clock.Clock
	log       logging.Logger
	transport ChipTransport
	gpio      GPIO

	cfg config.NFC

	state State
	snap  Snapshot

	irqPin        int
	prevIRQLow    bool
	interruptMode bool

	errorStartedThisEpisode bool
	recoveringSince         uint64
	nextRetryAtMs           uint64
}

// New constructs a Reader in Uninitialized state. interruptMode is decided
// once at construction per spec.md §4.3 "selected when an IRQ line is
// wired and poll_interval_ms == 0".
func New(bus *eventbus.Bus, clk clock.Clock, log logging.Logger, transport ChipTransport, gpio GPIO, cfg config.NFC) *Reader {
	if log == nil {
		log = logging.Nop{}
	}
	return &Reader{
		bus:           bus,
		clock:         clk,
		log:           log,
		transport:     transport,
		gpio:          gpio,
		cfg:           cfg,
		state:         Uninitialized,
		irqPin:        cfg.IRQPin,
		interruptMode: cfg.IRQPin != 0 && cfg.PollIntervalMs == 0,
	}
}

// Begin probes the chip once. On success the reader becomes Ready and
// publishes NfcReady; on failure it records the error but stays usable —
// the next Tick will drive recovery the same way a runtime failure would.
func (r *Reader) Begin() {
	r.state = Initializing
	if r.gpio != nil && r.irqPin != 0 {
		_ = r.gpio.ConfigureInput(r.irqPin, true)
	}
	if err := r.transport.Probe(); err != nil {
		r.recordError(ChipErrorInitFailed, err.Error())
		r.state = errorState
		return
	}
	r.state = Ready
	r.publish(eventbus.NfcReady, nil)
}

// State returns the reader's current lifecycle state.
func (r *Reader) State() State { return r.state }

// Snapshot returns a point-in-time health view for the Health component.
func (r *Reader) Snapshot() Snapshot {
	s := r.snap
	s.State = r.state
	return s
}

// Tick advances the state machine by one scheduler invocation.
func (r *Reader) Tick() {
	now := r.clock.MonotonicMs()
	switch r.state {
	case Ready, errorState:
		r.tickReady(now)
	case Recovering:
		r.tickRecovering(now)
	case Offline:
		r.tickOffline(now)
	case Disabled, Uninitialized, Initializing, Reading:
		// Disabled: intentionally idle until Wake(). Uninitialized/
		// Initializing: nothing to do until Begin() runs. Reading is
		// entered and exited within a single tickReady call, never
		// observed here.
	}
}

func (r *Reader) tickReady(now uint64) {
	present, err := r.detect(now)
	if err != nil {
		r.onReadFailure(now, err)
		return
	}
	if present == nil {
		if r.snap.IsCardPresent {
			r.snap.IsCardPresent = false
			r.publish(eventbus.CardRemoved, eventbus.CardRemovedPayload{UID: r.snap.LastCardUID.Bytes, UIDLen: r.snap.LastCardUID.Len})
		}
		return
	}
	r.state = Reading
	r.snap.IsCardPresent = true
	r.snap.LastCardUID = *present
	r.snap.LastSuccessfulReadMs = now
	r.snap.TotalCardsRead++
	r.snap.ConsecutiveErrorCount = 0
	r.state = Ready
	r.publish(eventbus.CardScanned, eventbus.CardScannedPayload{UID: present.Bytes, UIDLen: present.Len})
}

// detect runs one read attempt appropriate to the configured detection
// mode. A nil UID and nil error means "no card present right now".
func (r *Reader) detect(now uint64) (*UID, error) {
	if r.interruptMode {
		low, err := r.gpio.Read(r.irqPin)
		if err != nil {
			return nil, err
		}
		fallingEdge := r.prevIRQLow == false && low == true
		r.prevIRQLow = low
		if !fallingEdge {
			return nil, nil
		}
	}
	readTimeout := time.Duration(r.cfg.ReadTimeoutMs) * time.Millisecond
	return r.transport.ReadUID(readTimeout)
}

func (r *Reader) onReadFailure(now uint64, err error) {
	r.snap.ConsecutiveErrorCount++
	r.snap.TotalErrorCount++
	r.snap.LastCommunicationMs = now
	if r.snap.ConsecutiveErrorCount == 1 {
		r.snap.ErrorStartMs = now
	}
	r.snap.LastError = ChipErrorCommError
	r.snap.LastErrorMessage = err.Error()

	if r.snap.ConsecutiveErrorCount >= r.cfg.MaxConsecutiveErrors {
		r.enterRecovering(now)
	}
}

func (r *Reader) enterRecovering(now uint64) {
	if !r.errorStartedThisEpisode {
		r.publish(eventbus.NfcError, eventbus.ErrorPayload{Message: r.snap.LastErrorMessage})
		r.errorStartedThisEpisode = true
	}
	r.state = Recovering
	r.recoveringSince = now
	r.nextRetryAtMs = now
	r.snap.RecoveryAttempts = 0
}

func (r *Reader) tickRecovering(now uint64) {
	if now < r.nextRetryAtMs {
		return
	}
	_ = r.transport.Reset()
	if err := r.transport.Probe(); err != nil {
		r.snap.RecoveryAttempts++
		r.snap.TotalErrorCount++
		r.snap.LastError = ChipErrorRecoveryFailed
		r.snap.LastErrorMessage = err.Error()
		if r.snap.RecoveryAttempts >= r.cfg.MaxRecoveryAttempts {
			r.state = Offline
			r.nextRetryAtMs = now + uint64(r.cfg.RecoveryDelayMs)
			return
		}
		r.nextRetryAtMs = now + uint64(r.cfg.RecoveryDelayMs)
		return
	}
	r.recoverToReady()
}

func (r *Reader) tickOffline(now uint64) {
	// While Offline the driver still ticks and periodically retries a
	// full recovery (spec.md §4.3).
	if now < r.nextRetryAtMs {
		return
	}
	_ = r.transport.Reset()
	if err := r.transport.Probe(); err != nil {
		r.snap.LastError = ChipErrorHardwareNotFound
		r.snap.LastErrorMessage = err.Error()
		r.nextRetryAtMs = now + uint64(r.cfg.RecoveryDelayMs)
		return
	}
	r.recoverToReady()
}

func (r *Reader) recoverToReady() {
	r.state = Ready
	r.snap.ConsecutiveErrorCount = 0
	r.snap.RecoveryAttempts = 0
	r.errorStartedThisEpisode = false
	r.publish(eventbus.NfcReady, nil)
}

// EnterLowPower transitions Ready -> Disabled, putting the chip in
// powerdown mode. A no-op outside Ready.
func (r *Reader) EnterLowPower() {
	if r.state == Ready {
		r.state = Disabled
	}
}

// Wake transitions Disabled -> Ready.
func (r *Reader) Wake() {
	if r.state == Disabled {
		r.state = Ready
	}
}

func (r *Reader) recordError(kind ChipError, message string) {
	r.snap.LastError = kind
	r.snap.LastErrorMessage = message
	r.snap.TotalErrorCount++
	r.snap.ErrorStartMs = r.clock.MonotonicMs()
	r.publish(eventbus.NfcError, eventbus.ErrorPayload{Message: message})
}

func (r *Reader) publish(kind eventbus.Kind, payload any) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(eventbus.Event{Kind: kind, TimestampMs: r.clock.MonotonicMs(), Payload: payload})
}
