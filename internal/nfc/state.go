// Package nfc implements the driver state machine for the card-reader
// chip (spec.md §4.3): probe/init, interrupt or polling card detection,
// UID reads, and autonomous error recovery.
package nfc

// State is the NfcReader's lifecycle state.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Reading
	Recovering
	Offline
	Disabled
	errorState
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initializing:
		return "Initializing"
	case Ready:
		return "Ready"
	case Reading:
		return "Reading"
	case Recovering:
		return "Recovering"
	case Offline:
		return "Offline"
	case Disabled:
		return "Disabled"
	case errorState:
		return "Error"
	default:
		return "Unknown"
	}
}

// ChipError classifies why a chip operation failed, grounded on the
// original driver's Pn532Error enum. It feeds the single coalesced
// NfcError event rather than being surfaced per failure.
type ChipError int

const (
	ChipErrorNone ChipError = iota
	ChipErrorInitFailed
	ChipErrorCommTimeout
	ChipErrorCommError
	ChipErrorInvalidResponse
	ChipErrorCardReadFailed
	ChipErrorRecoveryFailed
	ChipErrorHardwareNotFound
)

func (e ChipError) String() string {
	switch e {
	case ChipErrorNone:
		return "none"
	case ChipErrorInitFailed:
		return "init_failed"
	case ChipErrorCommTimeout:
		return "communication_timeout"
	case ChipErrorCommError:
		return "communication_error"
	case ChipErrorInvalidResponse:
		return "invalid_response"
	case ChipErrorCardReadFailed:
		return "card_read_failed"
	case ChipErrorRecoveryFailed:
		return "recovery_failed"
	case ChipErrorHardwareNotFound:
		return "hardware_not_found"
	default:
		return "unknown"
	}
}

// UID is a fixed-capacity card identifier of at most 10 bytes with an
// explicit valid-length field; equality is over the valid prefix only.
type UID struct {
	Bytes [10]byte
	Len   uint8
}

// Equal compares the valid prefix of two UIDs.
func (u UID) Equal(other UID) bool {
	if u.Len != other.Len {
		return false
	}
	for i := uint8(0); i < u.Len; i++ {
		if u.Bytes[i] != other.Bytes[i] {
			return false
		}
	}
	return true
}

// Snapshot mirrors the original driver's Pn532State struct: a
// point-in-time view of the chip's health, exposed for Health sampling.
type Snapshot struct {
	State                 State
	LastError             ChipError
	LastErrorMessage      string
	LastCommunicationMs   uint64
	LastSuccessfulReadMs  uint64
	ErrorStartMs          uint64
	ConsecutiveErrorCount uint32
	RecoveryAttempts      uint32
	TotalErrorCount       uint64
	TotalCardsRead        uint64
	IsCardPresent         bool
	LastCardUID           UID
}
