package ring

import "time"

// RebalanceConfig carries the thresholds that gate a full ring recompute
// (spec.md §4.6 "Rebalance triggers").
type RebalanceConfig struct {
	MaxCPUThreshold      float64
	MaxMemThreshold      float64
	CPUSpreadThreshold   float64
	MemSpreadThreshold   float64
	StabilityThresholdPct float64
	PeriodicInterval     time.Duration
}

// DefaultRebalanceConfig returns the spec's default threshold values.
func DefaultRebalanceConfig() RebalanceConfig {
	return RebalanceConfig{
		MaxCPUThreshold:       0.80,
		MaxMemThreshold:       0.85,
		CPUSpreadThreshold:    0.40,
		MemSpreadThreshold:    0.40,
		StabilityThresholdPct: 0.10,
		PeriodicInterval:      10 * time.Minute,
	}
}

// ShouldRebalance implements the rebalance-trigger disjunction: membership
// change, a node over its max threshold, too wide a spread between the
// busiest and idlest node, a weight swing beyond the stability threshold,
// or simply enough time elapsed since the last recompute.
func ShouldRebalance(membershipChanged bool, metrics map[string]NodeMetrics, weightsChanged bool, sinceLastRecompute time.Duration, cfg RebalanceConfig) (bool, string) {
	if membershipChanged {
		return true, "membership changed"
	}

	if len(metrics) > 0 {
		maxCPU, minCPU := metrics[firstKey(metrics)].CPU, metrics[firstKey(metrics)].CPU
		maxMem, minMem := metrics[firstKey(metrics)].Mem, metrics[firstKey(metrics)].Mem
		for _, m := range metrics {
			if m.CPU > maxCPU {
				maxCPU = m.CPU
			}
			if m.CPU < minCPU {
				minCPU = m.CPU
			}
			if m.Mem > maxMem {
				maxMem = m.Mem
			}
			if m.Mem < minMem {
				minMem = m.Mem
			}
		}
		if maxCPU > cfg.MaxCPUThreshold {
			return true, "node cpu above threshold"
		}
		if maxMem > cfg.MaxMemThreshold {
			return true, "node mem above threshold"
		}
		if maxCPU-minCPU > cfg.CPUSpreadThreshold {
			return true, "cpu spread above threshold"
		}
		if maxMem-minMem > cfg.MemSpreadThreshold {
			return true, "mem spread above threshold"
		}
	}

	if weightsChanged {
		return true, "weights changed beyond stability threshold"
	}

	if cfg.PeriodicInterval > 0 && sinceLastRecompute >= cfg.PeriodicInterval {
		return true, "periodic recompute interval elapsed"
	}

	return false, ""
}

func firstKey(m map[string]NodeMetrics) string {
	for k := range m {
		return k
	}
	return ""
}
