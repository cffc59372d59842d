package health

// SimulatedSampler is a fixed-value SystemSampler for environments without
// real platform instrumentation (hosted testing, simulation builds).
type SimulatedSampler struct {
	FreeMemory     uint32
	Fragmentation  uint8
	SignalStrength int8
	Uptime         uint64
}

func (s *SimulatedSampler) FreeMemoryBytes() uint32     { return s.FreeMemory }
func (s *SimulatedSampler) HeapFragmentationPct() uint8 { return s.Fragmentation }
func (s *SimulatedSampler) SignalStrengthDBm() int8     { return s.SignalStrength }
func (s *SimulatedSampler) UptimeMs() uint64            { return s.Uptime }
