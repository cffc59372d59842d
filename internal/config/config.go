// Package config defines the nested configuration document consumed by
// every component (spec.md §6 "Configuration surface"), its validated
// defaults, and the ConfigStore that owns the current snapshot, applies
// environment overrides, and publishes ConfigChanged when the document
// changes.
package config

import "time"

// Document is the single nested configuration document. Every numeric
// field has a default in Defaults. The numeric fields checked by Validate
// have a minimum; such a field below its minimum falls back to its default
// rather than failing the load. The other numeric fields (WiFi timeouts,
// broker port, NFC recovery bounds, power thresholds, CPU frequency and
// health thresholds) are used as loaded, with no range check.
type Document struct {
	WiFi       WiFi       `yaml:"wifi"`
	Broker     Broker     `yaml:"broker"`
	Device     Device     `yaml:"device"`
	NFC        NFC        `yaml:"nfc"`
	Attendance Attendance `yaml:"attendance"`
	Power      Power      `yaml:"power"`
	Feedback   Feedback   `yaml:"feedback"`
	Health     Health     `yaml:"health"`
}

type WiFi struct {
	SSID             string `yaml:"ssid"`
	Password         string `yaml:"password"`
	ConnectTimeoutMs uint32 `yaml:"connect_timeout_ms"`
	MaxRetries       uint32 `yaml:"max_retries"`
}

type Broker struct {
	Host              string `yaml:"host"`
	Port              uint16 `yaml:"port"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	BaseTopic         string `yaml:"base_topic"`
	BackoffMinMs      uint32 `yaml:"backoff_min_ms"`
	BackoffMaxMs      uint32 `yaml:"backoff_max_ms"`
	AvailabilityTopic string `yaml:"availability_topic"`
}

type Device struct {
	ID              string `yaml:"id"`
	LocationID      string `yaml:"location_id"`
	FirmwareVersion string `yaml:"firmware_version"`
}

type NFC struct {
	IRQPin               int    `yaml:"irq_pin"`
	ResetPin             int    `yaml:"reset_pin"`
	PollIntervalMs       uint32 `yaml:"poll_interval_ms"`
	ReadTimeoutMs        uint32 `yaml:"read_timeout_ms"`
	MaxConsecutiveErrors uint32 `yaml:"max_consecutive_errors"`
	RecoveryDelayMs      uint32 `yaml:"recovery_delay_ms"`
	MaxRecoveryAttempts  uint32 `yaml:"max_recovery_attempts"`
}

type Attendance struct {
	DebounceMs            uint32 `yaml:"debounce_ms"`
	DebounceRingSize      int    `yaml:"debounce_ring_size"`
	BatchMaxSize          int    `yaml:"batch_max_size"`
	BatchFlushIntervalMs  uint32 `yaml:"batch_flush_interval_ms"`
	BatchFlushOnIdleMs    uint32 `yaml:"batch_flush_on_idle_ms"`
	BatchingEnabled       bool   `yaml:"batching_enabled"`
	OfflineCapacity       int    `yaml:"offline_capacity"`
	OfflineOverflowPolicy string `yaml:"offline_overflow_policy"`
	MaxSendAttempts       int    `yaml:"max_send_attempts"`
	DrainPerTick          int    `yaml:"drain_per_tick"`
}

type Power struct {
	SleepEnabled      bool   `yaml:"sleep_enabled"`
	SmartSleepEnabled bool   `yaml:"smart_sleep_enabled"`
	IdleTimeoutMs     uint32 `yaml:"idle_timeout_ms"`
	ShortThresholdMs  uint32 `yaml:"short_threshold_ms"`
	MediumThresholdMs uint32 `yaml:"medium_threshold_ms"`
	TimerWakeMs       uint32 `yaml:"timer_wake_ms"`
	NfcWakePin        int    `yaml:"nfc_wake_pin"`
	CPUFrequencyMhz   uint32 `yaml:"cpu_frequency_mhz"`
	// ActivityMask selects which event kinds reset the idle timer (bits
	// per power.ActivityTypeMask: card_scanned=1, message=2,
	// connection_change=4, nfc_ready=8). Zero means "use the package
	// default", matching every other zero-sentinel field in this struct.
	ActivityMask uint8 `yaml:"activity_mask"`
}

type Feedback struct {
	Enabled bool `yaml:"enabled"`
}

type Health struct {
	CheckIntervalMs         uint32 `yaml:"check_interval_ms"`
	ReportIntervalMs        uint32 `yaml:"report_interval_ms"`
	LowMemoryThresholdBytes uint32 `yaml:"low_memory_threshold_bytes"`
	MaxFragmentationPct     uint8  `yaml:"max_fragmentation_pct"`
	MinSignalStrengthDBm    int8   `yaml:"min_signal_strength_dbm"`
}

// Defaults returns the built-in default document, used both as the
// starting point for Load and as the fallback for any field that fails
// validation.
func Defaults() Document {
	return Document{
		WiFi: WiFi{ConnectTimeoutMs: 15000, MaxRetries: 5},
		Broker: Broker{
			Port:         1883,
			BaseTopic:    "isic/attendance",
			BackoffMinMs: 1000,
			BackoffMaxMs: 60000,
		},
		Device: Device{ID: "unknown-device", LocationID: "unknown-location"},
		NFC: NFC{
			PollIntervalMs:       200,
			ReadTimeoutMs:        500,
			MaxConsecutiveErrors: 3,
			RecoveryDelayMs:      100,
			MaxRecoveryAttempts:  2,
		},
		Attendance: Attendance{
			DebounceMs:            1000,
			DebounceRingSize:      8,
			BatchMaxSize:          10,
			BatchFlushIntervalMs:  5000,
			BatchFlushOnIdleMs:    2000,
			BatchingEnabled:       true,
			OfflineCapacity:       10,
			OfflineOverflowPolicy: "drop_oldest",
			MaxSendAttempts:       5,
			DrainPerTick:          3,
		},
		Power: Power{
			SleepEnabled:      true,
			IdleTimeoutMs:     30000,
			ShortThresholdMs:  1000,
			MediumThresholdMs: 10000,
			TimerWakeMs:       60000,
			CPUFrequencyMhz:   80,
			ActivityMask:      0x0F, // card_scanned|message|connection_change|nfc_ready
		},
		Feedback: Feedback{Enabled: true},
		Health: Health{
			CheckIntervalMs:         5000,
			ReportIntervalMs:        60000,
			LowMemoryThresholdBytes: 20000,
			MaxFragmentationPct:     60,
			MinSignalStrengthDBm:    -85,
		},
	}
}

// minimums holds the lowest acceptable value for each numeric field that
// Validate range-checks; Validate falls such a field back to its default
// when below its minimum rather than rejecting the whole document.
var minimums = struct {
	debounceMs, batchFlushIntervalMs, batchFlushOnIdleMs, pollIntervalMs, readTimeoutMs uint32
	batchMaxSize, debounceRingSize, offlineCapacity, maxSendAttempts, drainPerTick      int
	checkIntervalMs, reportIntervalMs, idleTimeoutMs                                    uint32
}{
	debounceMs:           50,
	batchFlushIntervalMs: 100,
	batchFlushOnIdleMs:   100,
	pollIntervalMs:       10,
	readTimeoutMs:        10,
	batchMaxSize:         1,
	debounceRingSize:     1,
	offlineCapacity:      1,
	maxSendAttempts:      1,
	drainPerTick:         1,
	checkIntervalMs:      100,
	reportIntervalMs:     1000,
	idleTimeoutMs:        100,
}

// Validate resets each checked field that is out of range back to its
// default in place, returning the list of dotted field paths it touched.
// Fields not named below are not checked.
func Validate(d *Document) []string {
	def := Defaults()
	var fixed []string

	if d.Attendance.DebounceMs < minimums.debounceMs {
		d.Attendance.DebounceMs = def.Attendance.DebounceMs
		fixed = append(fixed, "attendance.debounce_ms")
	}
	if d.Attendance.BatchFlushIntervalMs < minimums.batchFlushIntervalMs {
		d.Attendance.BatchFlushIntervalMs = def.Attendance.BatchFlushIntervalMs
		fixed = append(fixed, "attendance.batch_flush_interval_ms")
	}
	if d.Attendance.BatchFlushOnIdleMs < minimums.batchFlushOnIdleMs {
		d.Attendance.BatchFlushOnIdleMs = def.Attendance.BatchFlushOnIdleMs
		fixed = append(fixed, "attendance.batch_flush_on_idle_ms")
	}
	if d.Attendance.BatchMaxSize < minimums.batchMaxSize {
		d.Attendance.BatchMaxSize = def.Attendance.BatchMaxSize
		fixed = append(fixed, "attendance.batch_max_size")
	}
	if d.Attendance.DebounceRingSize < minimums.debounceRingSize {
		d.Attendance.DebounceRingSize = def.Attendance.DebounceRingSize
		fixed = append(fixed, "attendance.debounce_ring_size")
	}
	if d.Attendance.OfflineCapacity < minimums.offlineCapacity {
		d.Attendance.OfflineCapacity = def.Attendance.OfflineCapacity
		fixed = append(fixed, "attendance.offline_capacity")
	}
	if d.Attendance.MaxSendAttempts < minimums.maxSendAttempts {
		d.Attendance.MaxSendAttempts = def.Attendance.MaxSendAttempts
		fixed = append(fixed, "attendance.max_send_attempts")
	}
	if d.Attendance.DrainPerTick < minimums.drainPerTick {
		d.Attendance.DrainPerTick = def.Attendance.DrainPerTick
		fixed = append(fixed, "attendance.drain_per_tick")
	}
	switch d.Attendance.OfflineOverflowPolicy {
	case "drop_oldest", "drop_newest", "drop_all":
	default:
		d.Attendance.OfflineOverflowPolicy = def.Attendance.OfflineOverflowPolicy
		fixed = append(fixed, "attendance.offline_overflow_policy")
	}

	if d.NFC.PollIntervalMs != 0 && d.NFC.PollIntervalMs < minimums.pollIntervalMs {
		d.NFC.PollIntervalMs = def.NFC.PollIntervalMs
		fixed = append(fixed, "nfc.poll_interval_ms")
	}
	if d.NFC.ReadTimeoutMs < minimums.readTimeoutMs {
		d.NFC.ReadTimeoutMs = def.NFC.ReadTimeoutMs
		fixed = append(fixed, "nfc.read_timeout_ms")
	}
	if d.NFC.MaxConsecutiveErrors == 0 {
		d.NFC.MaxConsecutiveErrors = def.NFC.MaxConsecutiveErrors
		fixed = append(fixed, "nfc.max_consecutive_errors")
	}

	if d.Health.CheckIntervalMs < minimums.checkIntervalMs {
		d.Health.CheckIntervalMs = def.Health.CheckIntervalMs
		fixed = append(fixed, "health.check_interval_ms")
	}
	if d.Health.ReportIntervalMs < minimums.reportIntervalMs {
		d.Health.ReportIntervalMs = def.Health.ReportIntervalMs
		fixed = append(fixed, "health.report_interval_ms")
	}
	if d.Power.IdleTimeoutMs < minimums.idleTimeoutMs {
		d.Power.IdleTimeoutMs = def.Power.IdleTimeoutMs
		fixed = append(fixed, "power.idle_timeout_ms")
	}
	if d.Broker.BackoffMinMs == 0 {
		d.Broker.BackoffMinMs = def.Broker.BackoffMinMs
		fixed = append(fixed, "broker.backoff_min_ms")
	}
	if d.Broker.BackoffMaxMs < d.Broker.BackoffMinMs {
		d.Broker.BackoffMaxMs = def.Broker.BackoffMaxMs
		fixed = append(fixed, "broker.backoff_max_ms")
	}

	return fixed
}

// DebounceWindow is a convenience accessor used by the attendance pipeline.
func (d Document) DebounceWindow() time.Duration {
	return time.Duration(d.Attendance.DebounceMs) * time.Millisecond
}
