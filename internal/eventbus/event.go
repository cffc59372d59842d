package eventbus

// Event is the tagged variant every publish/dispatch moves around. Payload
// holds one of the dedicated payload shapes below, or nil for kinds that
// carry no data (e.g. SystemReady). Events are moved, never shared
// mutably: a handler that needs to keep data past its own invocation must
// copy it out of Payload.
type Event struct {
	Kind        Kind
	TimestampMs uint64
	Priority    Priority
	Payload     any
}

// Payload shapes, one per event kind that carries data. Kinds not listed
// here (SystemReady, WifiConnected, MqttConnected, ...) carry a nil
// payload; their meaning is entirely in the Kind tag.

type ErrorPayload struct {
	Message string
}

type ConfigChangedPayload struct {
	// Changed lists the dotted field paths that config.Store.Update had
	// to reset to their defaults during validation, e.g.
	// "attendance.debounce_ms". It does not list the fields the update
	// itself edited, so an empty list says nothing about which fields
	// changed; consumers re-read the whole snapshot.
	Changed []string
}

type MqttMessagePayload struct {
	Topic   string
	Payload []byte
}

type MqttPublishRequestPayload struct {
	Topic    string
	Payload  []byte
	Retained bool
}

type MqttSubscribeRequestPayload struct {
	Topic string
}

type CardScannedPayload struct {
	UID    [10]byte
	UIDLen uint8
}

type CardRemovedPayload struct {
	UID    [10]byte
	UIDLen uint8
}

type AttendanceRecordedPayload struct {
	Sequence    uint32
	UID         [10]byte
	UIDLen      uint8
	MonotonicMs uint64
}

type OtaProgressPayload struct {
	PercentComplete int
}

type FeedbackRequestPayload struct {
	// Kind names the feedback pattern to play (e.g. "card_ok",
	// "card_error", "boot"); the feedback component owns the mapping to
	// LED/buzzer waveforms and is out of scope here.
	Kind string
}

type HealthChangedPayload struct {
	Component string
	State     string
}

type PowerStateChangePayload struct {
	Target   string
	Previous string
}

type WakeupOccurredPayload struct {
	Reason string
}
