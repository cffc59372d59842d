// Command reader wires the attendance-reader coordination core together:
// EventBus, Scheduler, ConfigStore, NfcReader, Attendance pipeline,
// BrokerClient, PowerManager, and Health, driven by one cooperative event
// loop (spec.md §5 "Single-threaded cooperative").
package main

import (
	"flag"
	"os"
	"time"

	"github.com/isic-edge/reader-core/internal/attendance"
	"github.com/isic-edge/reader-core/internal/broker"
	"github.com/isic-edge/reader-core/internal/clock"
	"github.com/isic-edge/reader-core/internal/config"
	"github.com/isic-edge/reader-core/internal/eventbus"
	"github.com/isic-edge/reader-core/internal/health"
	"github.com/isic-edge/reader-core/internal/logging"
	"github.com/isic-edge/reader-core/internal/nfc"
	"github.com/isic-edge/reader-core/internal/power"
	"github.com/isic-edge/reader-core/internal/scheduler"
)

// alwaysUpLink is a placeholder LinkChecker for hosted/simulated builds
// where the network link is whatever the OS already provides. A real
// platform build supplies its own WiFi-state LinkChecker.
type alwaysUpLink struct{}

func (alwaysUpLink) LinkUp() bool { return true }

// noopSleeper simulates platform sleep for hosted builds: neither call
// blocks, matching the "deep sleep does not return on real hardware"
// contract only on the target platform.
type noopSleeper struct{}

func (noopSleeper) EnterLightSleep(uint32)          {}
func (noopSleeper) EnterDeepSleep(uint32)           {}
func (noopSleeper) WakeupCause() power.WakeupReason { return power.PowerOn }
func (noopSleeper) ArmNfcWakeup(int) error          { return nil }

// memRTC is an in-process stand-in for the platform's retained-RAM
// region; a real build persists this through an actual RTC memory
// segment.
type memRTC struct{ data []byte }

func (m *memRTC) ReadRTC() ([]byte, error) { return m.data, nil }
func (m *memRTC) WriteRTC(d []byte) error  { m.data = append([]byte(nil), d...); return nil }

func main() {
	configPath := flag.String("config", "/etc/isic-reader/config.yaml", "path to the configuration blob")
	nfcDevice := flag.String("nfc-device", "/dev/ttyUSB0", "serial device for the NFC chip")
	flag.Parse()

	logger := logging.NewJSON("reader")

	sysClock := clock.NewSystem()
	bus := eventbus.New(logger)

	store := config.New(bus, config.FileKV{Path: *configPath}, logger)
	store.Load()
	if err := store.Watch(*configPath, 200*time.Millisecond); err != nil {
		logger.Warn("config watch disabled", "error", err)
	}
	defer store.Close()

	doc := store.Get()

	sched := scheduler.New(sysClock, logger)

	gpio, err := nfc.NewPeriphGPIO()
	if err != nil {
		logger.Error("gpio init failed", "error", err)
		os.Exit(1)
	}
	transport, err := nfc.NewSerialTransport(*nfcDevice, gpio, doc.NFC.ResetPin)
	if err != nil {
		logger.Error("nfc transport init failed", "error", err)
		os.Exit(1)
	}
	reader := nfc.New(bus, sysClock, logger, transport, gpio, doc.NFC)
	reader.Begin()

	dialer := broker.TCPDialer{Host: doc.Broker.Host, Port: doc.Broker.Port}
	brokerClient := broker.New(bus, sysClock, logger, dialer, alwaysUpLink{}, doc.Broker, doc.Device.ID,
		func() (config.Broker, string) {
			d := store.Get()
			return d.Broker, d.Device.ID
		})

	pipeline := attendance.New(bus, sysClock, logger, brokerClient, doc.Attendance)
	pipeline.SetDeviceInfo(doc.Device.ID, doc.Device.LocationID)

	powerMgr := power.New(bus, sysClock, logger, noopSleeper{}, &memRTC{}, doc.Power)
	powerMgr.Boot()

	healthAgg := health.New(bus, sysClock, logger, &health.SimulatedSampler{}, doc.Health)
	healthAgg.Register(nfcChecker{reader})
	healthAgg.Register(brokerChecker{brokerClient})

	// Precedence 0: dispatch pending events before anything reacts to them
	// this tick (spec.md §4.2 "EventBus dispatch runs before lower
	// precedence tasks").
	_ = sched.RegisterTask("eventbus.dispatch", 10*time.Millisecond, 0, func() { bus.Dispatch() })
	_ = sched.RegisterTask("nfc.tick", 20*time.Millisecond, 1, reader.Tick)
	_ = sched.RegisterTask("broker.tick", 50*time.Millisecond, 1, brokerClient.Tick)
	_ = sched.RegisterTask("attendance.tick", 100*time.Millisecond, 2, pipeline.Tick)
	_ = sched.RegisterTask("health.tick", 1000*time.Millisecond, 3, healthAgg.Tick)
	_ = sched.RegisterTask("power.tick", 200*time.Millisecond, 4, powerMgr.Tick)

	logger.Info("reader core started", "device_id", doc.Device.ID)
	for {
		sched.RunOnce()
		time.Sleep(5 * time.Millisecond)
	}
}

type nfcChecker struct{ r *nfc.Reader }

func (c nfcChecker) Name() string { return "nfc" }
func (c nfcChecker) Sample() (health.State, error) {
	snap := c.r.Snapshot()
	switch snap.State {
	case nfc.Ready, nfc.Reading:
		return health.Healthy, nil
	case nfc.Recovering:
		return health.Degraded, nil
	case nfc.Offline:
		return health.Unhealthy, nil
	default:
		return health.Unknown, nil
	}
}

type brokerChecker struct{ c *broker.Client }

func (c brokerChecker) Name() string { return "broker" }
func (c brokerChecker) Sample() (health.State, error) {
	switch c.c.State() {
	case broker.Connected:
		return health.Healthy, nil
	case broker.Connecting:
		return health.Degraded, nil
	default:
		return health.Unhealthy, nil
	}
}
