// Package ring computes per-node placement weights from scraped metrics,
// decides when to recompute and broadcast the placement snapshot, and
// installs snapshots from a RingUpdate broadcast on every node (spec.md
// §4.6).
package ring

import "math"

// epsilon keeps the unnormalised weight finite when a node reports a
// zero load score.
const epsilon = 1e-6

// minWeight is the floor every node's scaled weight is clamped to, so a
// momentarily idle node never starves entirely.
const minWeight = 10

// NodeMetrics is the per-node metric tuple fetched from the metrics query
// API for one scan (spec.md §4.6 step 3).
type NodeMetrics struct {
	CPU       float64 // fraction [0,1]
	Mem       float64 // fraction [0,1]
	LatencyMs float64 // p95 end-to-end
	BacklogMs float64
	Conn      int
}

// WeightConfig carries the load-score coefficients (ALPHA/BETA/GAMMA/DELTA
// in the environment surface; the fifth, connection-count, coefficient is
// implied as 1-Alpha-Beta-Gamma-Delta) and the normalisation ceilings for
// the three terms that aren't already fractions in [0,1]. Values above the
// ceiling clamp to 1.0; the spec leaves these ceilings to the deployment,
// so the defaults are conservative round numbers rather than measured
// values.
type WeightConfig struct {
	CPUCoef       float64
	MemCoef       float64
	LatencyCoef   float64
	BacklogCoef   float64
	ConnCoef      float64
	LatencyNormMs float64
	BacklogNormMs float64
	ConnNorm      float64
}

// DefaultWeightConfig returns the package's default coefficients (the
// spec.md §4.6 weights: 0.4/0.4/0.1/0.05/0.05) and normalisation ceilings.
func DefaultWeightConfig() WeightConfig {
	return WeightConfig{
		CPUCoef:       0.4,
		MemCoef:       0.4,
		LatencyCoef:   0.1,
		BacklogCoef:   0.05,
		ConnCoef:      0.05,
		LatencyNormMs: 500,
		BacklogNormMs: 2000,
		ConnNorm:      5000,
	}
}

// WeightConfigFromCoefficients builds a WeightConfig from the ALPHA/BETA/
// GAMMA/DELTA environment coefficients (config.Config's Alpha..Delta),
// deriving the connection-count coefficient as the remainder so the five
// terms still sum to 1, and keeping the package's default normalisation
// ceilings.
func WeightConfigFromCoefficients(alpha, beta, gamma, delta float64) WeightConfig {
	cfg := DefaultWeightConfig()
	cfg.CPUCoef = alpha
	cfg.MemCoef = beta
	cfg.LatencyCoef = gamma
	cfg.BacklogCoef = delta
	remainder := 1 - alpha - beta - gamma - delta
	if remainder < 0 {
		remainder = 0
	}
	cfg.ConnCoef = remainder
	return cfg
}

func clampNorm(x, ceiling float64) float64 {
	if ceiling <= 0 {
		return 0
	}
	v := x / ceiling
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// loadScore computes L_i = cpuCoef·cpu + memCoef·mem + latencyCoef·norm(latency) +
// backlogCoef·norm(backlog) + connCoef·norm(conn), the spec.md §4.6 default
// coefficients being 0.4/0.4/0.1/0.05/0.05.
func loadScore(m NodeMetrics, cfg WeightConfig) float64 {
	return cfg.CPUCoef*clamp01(m.CPU) +
		cfg.MemCoef*clamp01(m.Mem) +
		cfg.LatencyCoef*clampNorm(m.LatencyMs, cfg.LatencyNormMs) +
		cfg.BacklogCoef*clampNorm(m.BacklogMs, cfg.BacklogNormMs) +
		cfg.ConnCoef*clampNorm(float64(m.Conn), cfg.ConnNorm)
}

// ComputeWeights derives integer placement weights from a per-node metric
// snapshot: lower load gives a higher unnormalised weight, weights are
// scaled so they sum to 100·n, then clamped to a floor and rounded.
func ComputeWeights(metrics map[string]NodeMetrics, cfg WeightConfig) map[string]int {
	n := len(metrics)
	if n == 0 {
		return nil
	}

	raw := make(map[string]float64, n)
	var sum float64
	for id, m := range metrics {
		w := 1.0 / (loadScore(m, cfg) + epsilon)
		raw[id] = w
		sum += w
	}

	target := 100.0 * float64(n)
	scale := target / sum

	out := make(map[string]int, n)
	for id, w := range raw {
		scaled := w * scale
		if scaled < minWeight {
			scaled = minWeight
		}
		out[id] = int(math.Round(scaled))
	}
	return out
}

// WeightsChanged reports whether any node's weight moved by more than
// thresholdPct of its previous value (or is new/removed), the "stability
// threshold" gate from spec.md §4.6 step 5.
func WeightsChanged(prev, cur map[string]int, thresholdPct float64) bool {
	if len(prev) != len(cur) {
		return true
	}
	for id, curW := range cur {
		prevW, ok := prev[id]
		if !ok {
			return true
		}
		if prevW == 0 {
			if curW != 0 {
				return true
			}
			continue
		}
		delta := math.Abs(float64(curW-prevW)) / float64(prevW)
		if delta > thresholdPct {
			return true
		}
	}
	return false
}
