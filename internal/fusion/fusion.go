// Package fusion combines the per-source confidence signals into a single
// fused score.
package fusion

import "github.com/locallens/resolve-cli/internal/model"

// Weights are the fusion coefficients. Missing sources contribute zero
// through their signal, not through a changed weight.
type Weights struct {
	Vector          float64
	External        float64
	Integrity       float64
	MismatchPenalty float64
}

// DefaultWeights returns the standard coefficients.
func DefaultWeights() Weights {
	return Weights{
		Vector:          0.3,
		External:        0.35,
		Integrity:       0.25,
		MismatchPenalty: 0.2,
	}
}

// Engine computes fused confidence scores.
type Engine struct {
	w Weights
}

// New creates an Engine. Zero-valued weights fall back to the defaults.
func New(w Weights) *Engine {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Engine{w: w}
}

// Fuse computes the weighted score. The mismatch penalty saturates at 10 km
// of disagreement between sources; no mismatch signal means no penalty. The
// result is clamped to [0,1].
func (e *Engine) Fuse(in model.FusionInput) float64 {
	score := e.w.Vector*clamp01(in.VectorSimilarity) +
		e.w.External*clamp01(in.ExternalConfidence) +
		e.w.Integrity*clamp01(float64(in.IntegrityScore)/100)

	if in.MismatchKm != nil {
		frac := *in.MismatchKm / 10
		if frac > 1 {
			frac = 1
		}
		if frac < 0 {
			frac = 0
		}
		score -= e.w.MismatchPenalty * frac
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
