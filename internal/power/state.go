package power

import "github.com/isic-edge/reader-core/internal/eventbus"

// State is the PowerManager's lifecycle state (spec.md §4.6). Only Active
// and Idle are observable from the event loop; the sleep states are
// entered by platform calls that do not return until wake, or that reset
// the device outright.
type State uint8

const (
	Active State = iota
	Idle
	LightSleep
	ModemSleep
	DeepSleep
	Hibernating
	WakingUp
)

func (s State) String() string {
	switch s {
	case Active:
		return "Active"
	case Idle:
		return "Idle"
	case LightSleep:
		return "LightSleep"
	case ModemSleep:
		return "ModemSleep"
	case DeepSleep:
		return "DeepSleep"
	case Hibernating:
		return "Hibernating"
	case WakingUp:
		return "WakingUp"
	default:
		return "Unknown"
	}
}

// WakeupReason is the chip's reported cause for returning from sleep
// (spec.md §4.6 "Wakeup reason detection").
type WakeupReason uint8

const (
	PowerOn WakeupReason = iota
	Timer
	External
	WatchdogReset
	UnknownReason
)

func (r WakeupReason) String() string {
	switch r {
	case PowerOn:
		return "PowerOn"
	case Timer:
		return "Timer"
	case External:
		return "External"
	case WatchdogReset:
		return "WatchdogReset"
	default:
		return "Unknown"
	}
}

// ActivityTypeMask selects which event kinds reset the idle timer.
type ActivityTypeMask uint8

const (
	ActivityCardScanned ActivityTypeMask = 1 << iota
	ActivityMessage
	ActivityConnectionChange
	ActivityNfcReady
)

// DefaultActivityMask resets the idle timer on every activity kind the
// spec names.
const DefaultActivityMask = ActivityCardScanned | ActivityMessage | ActivityConnectionChange | ActivityNfcReady

// activityBinding pairs one bus event kind with the mask bit that must be
// set for it to reset the idle timer.
type activityBinding struct {
	kind eventbus.Kind
	bit  ActivityTypeMask
}

// activityBindings is the full set Manager.New consults, filtered by the
// configured ActivityTypeMask (config.Power.ActivityMask).
var activityBindings = []activityBinding{
	{eventbus.CardScanned, ActivityCardScanned},
	{eventbus.MqttMessage, ActivityMessage},
	{eventbus.MqttConnected, ActivityConnectionChange},
	{eventbus.MqttDisconnected, ActivityConnectionChange},
	{eventbus.WifiConnected, ActivityConnectionChange},
	{eventbus.WifiDisconnected, ActivityConnectionChange},
	{eventbus.NfcReady, ActivityNfcReady},
}

// PlatformSleeper is the narrow platform contract PowerManager drives
// (spec.md §6 "Platform sleep contract"). EnterDeepSleep does not return
// in production; the simulated implementation used in tests returns
// immediately so the caller can assert what would have happened.
type PlatformSleeper interface {
	EnterLightSleep(durationMs uint32)
	EnterDeepSleep(durationMs uint32)
	WakeupCause() WakeupReason
	// ArmNfcWakeup configures pin as an external wakeup source ahead of a
	// deep sleep call, the same wake-on-IRQ pin nfc.Reader configures as
	// an input for normal operation (spec.md §6 "Platform sleep contract
	// ... nfc_wake_pin").
	ArmNfcWakeup(pin int) error
}
