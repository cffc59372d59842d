// Package health implements the Health aggregator (spec.md §4.7): sample
// each registered component, detect state changes, aggregate to a single
// overall state, and publish periodic reports.
package health

import (
	"encoding/json"

	"github.com/isic-edge/reader-core/internal/clock"
	"github.com/isic-edge/reader-core/internal/config"
	"github.com/isic-edge/reader-core/internal/eventbus"
	"github.com/isic-edge/reader-core/internal/logging"
)

// State is a component's health state. Ordering is intentionally
// monotonic under worst-of aggregation (spec.md §4.7): Healthy is best,
// Critical is worst, Degraded and Unknown compare equal in severity.
type State int

const (
	Healthy State = iota
	Degraded
	Unhealthy
	Warning
	Critical
	Unknown
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "Healthy"
	case Degraded:
		return "Degraded"
	case Unhealthy:
		return "Unhealthy"
	case Warning:
		return "Warning"
	case Critical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// severity maps State to the ordering spec.md §4.7 names explicitly:
// Healthy < Degraded = Unknown < Unhealthy < Warning < Critical.
func severity(s State) int {
	switch s {
	case Healthy:
		return 0
	case Degraded, Unknown:
		return 1
	case Unhealthy:
		return 2
	case Warning:
		return 3
	case Critical:
		return 4
	default:
		return 1
	}
}

func worseOf(a, b State) State {
	if severity(b) > severity(a) {
		return b
	}
	return a
}

// Checker is a single component's local health source. Grounded on the
// pack's HealthChecker interface (Name/Check), narrowed to a synchronous,
// allocation-free sample suited to a single-threaded scheduler tick
// instead of a context-cancellable async call.
type Checker interface {
	Name() string
	Sample() (State, error)
}

// SystemSampler reports platform-level metrics consumed by the periodic
// report (spec.md §4.7 "Reporting").
type SystemSampler interface {
	FreeMemoryBytes() uint32
	HeapFragmentationPct() uint8
	SignalStrengthDBm() int8
	UptimeMs() uint64
}

type componentRecord struct {
	checker Checker
	last    State
	errors  uint32
}

// Aggregator samples registered components on check_interval_ms, detects
// state changes, and publishes a report on report_interval_ms.
type Aggregator struct {
	bus     *eventbus.Bus
	clock   clock.Clock
	log     logging.Logger
	sampler SystemSampler
	cfg     config.Health

	components   []*componentRecord
	overall      State
	lastSampleMs uint64
	lastReportMs uint64
	lastReport   Report
}

// New constructs an Aggregator. sampler may be nil, in which case the
// system-level report fields are left zero.
func New(bus *eventbus.Bus, clk clock.Clock, log logging.Logger, sampler SystemSampler, cfg config.Health) *Aggregator {
	if log == nil {
		log = logging.Nop{}
	}
	return &Aggregator{bus: bus, clock: clk, log: log, sampler: sampler, cfg: cfg, overall: Unknown}
}

// Register adds a component to the sampled set.
func (a *Aggregator) Register(c Checker) {
	a.components = append(a.components, &componentRecord{checker: c, last: Unknown})
}

// Tick runs sampling and, if due, reporting. Called once per scheduler
// pass; cheap no-ops until either interval elapses.
func (a *Aggregator) Tick() {
	now := a.clock.MonotonicMs()
	if now-a.lastSampleMs >= uint64(a.cfg.CheckIntervalMs) {
		a.sample(now)
		a.lastSampleMs = now
	}
	if now-a.lastReportMs >= uint64(a.cfg.ReportIntervalMs) {
		a.report(now)
		a.lastReportMs = now
	}
}

func (a *Aggregator) sample(now uint64) {
	overall := Healthy
	for _, rec := range a.components {
		state, err := rec.checker.Sample()
		if err != nil {
			rec.errors++
			state = Critical
		}
		if state != rec.last {
			a.publish(eventbus.HealthChanged, eventbus.HealthChangedPayload{Component: rec.checker.Name(), State: state.String()})
			rec.last = state
		}
		overall = worseOf(overall, state)
	}
	if len(a.components) == 0 {
		overall = Unknown
	}
	overall = a.applyThresholds(overall)
	a.overall = overall
}

// applyThresholds promotes overall by one level on any threshold crossing
// (spec.md §4.7 "Reporting ... promotes the overall state by one level").
func (a *Aggregator) applyThresholds(overall State) State {
	if a.sampler == nil {
		return overall
	}
	crossed := false
	if a.cfg.LowMemoryThresholdBytes > 0 && a.sampler.FreeMemoryBytes() < a.cfg.LowMemoryThresholdBytes {
		crossed = true
	}
	if a.cfg.MaxFragmentationPct > 0 && a.sampler.HeapFragmentationPct() > a.cfg.MaxFragmentationPct {
		crossed = true
	}
	if a.cfg.MinSignalStrengthDBm != 0 && a.sampler.SignalStrengthDBm() < a.cfg.MinSignalStrengthDBm {
		crossed = true
	}
	if !crossed {
		return overall
	}
	return promote(overall)
}

func promote(s State) State {
	switch s {
	case Healthy:
		return Degraded
	case Degraded, Unknown:
		return Unhealthy
	case Unhealthy:
		return Warning
	default:
		return Critical
	}
}

// Report is the periodic status snapshot published as a PublishRequest
// (spec.md §4.7).
type Report struct {
	Overall              State
	Components           map[string]State
	ErrorCounts          map[string]uint32
	FreeMemoryBytes      uint32
	HeapFragmentationPct uint8
	SignalStrengthDBm    int8
	UptimeMs             uint64
}

// wireReport is the JSON shape published to the broker (spec.md §4.7
// "publish a status object ... containing per-component states, error
// counters, free memory, heap-fragmentation percentage, signal strength,
// and uptime"). States are rendered as their string names rather than
// raw ints, matching the attendance pipeline's wire-envelope convention.
type wireReport struct {
	Overall              string            `json:"overall"`
	Components           map[string]string `json:"components"`
	ErrorCounts          map[string]uint32 `json:"error_counts"`
	FreeMemoryBytes      uint32            `json:"free_memory_bytes"`
	HeapFragmentationPct uint8             `json:"heap_fragmentation_pct"`
	SignalStrengthDBm    int8              `json:"signal_strength_dbm"`
	UptimeMs             uint64            `json:"uptime_ms"`
}

func (a *Aggregator) report(now uint64) {
	rep := Report{Overall: a.overall, Components: make(map[string]State, len(a.components)), ErrorCounts: make(map[string]uint32, len(a.components))}
	for _, rec := range a.components {
		rep.Components[rec.checker.Name()] = rec.last
		rep.ErrorCounts[rec.checker.Name()] = rec.errors
	}
	if a.sampler != nil {
		rep.FreeMemoryBytes = a.sampler.FreeMemoryBytes()
		rep.HeapFragmentationPct = a.sampler.HeapFragmentationPct()
		rep.SignalStrengthDBm = a.sampler.SignalStrengthDBm()
		rep.UptimeMs = a.sampler.UptimeMs()
	}
	a.lastReport = rep
	a.publish(eventbus.HealthChanged, eventbus.HealthChangedPayload{Component: "*", State: rep.Overall.String()})
	a.publishReport(rep)
	_ = now
}

func (a *Aggregator) publishReport(rep Report) {
	wire := wireReport{
		Overall:              rep.Overall.String(),
		Components:           make(map[string]string, len(rep.Components)),
		ErrorCounts:          rep.ErrorCounts,
		FreeMemoryBytes:      rep.FreeMemoryBytes,
		HeapFragmentationPct: rep.HeapFragmentationPct,
		SignalStrengthDBm:    rep.SignalStrengthDBm,
		UptimeMs:             rep.UptimeMs,
	}
	for name, s := range rep.Components {
		wire.Components[name] = s.String()
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		a.log.Error("health report marshal failed", "error", err)
		return
	}
	a.publish(eventbus.MqttPublishRequest, eventbus.MqttPublishRequestPayload{Topic: "health/report", Payload: payload})
}

func (a *Aggregator) Overall() State { return a.overall }

// LastReport returns the most recently published periodic report.
func (a *Aggregator) LastReport() Report { return a.lastReport }

func (a *Aggregator) publish(kind eventbus.Kind, payload any) {
	if a.bus == nil {
		return
	}
	_ = a.bus.Publish(eventbus.Event{Kind: kind, TimestampMs: a.clock.MonotonicMs(), Payload: payload})
}
