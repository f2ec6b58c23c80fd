package neural

import "math"

// AdamW applies the Adam update with decoupled weight decay: the decay term
// is subtracted from the parameter directly and never folded into the
// gradient. The moment tensors live in OptimizerState so the watchdog can
// snapshot and restore them alongside Parameters.
type AdamW struct {
	cfg OptimizerConfig
}

func NewAdamW(cfg OptimizerConfig) *AdamW {
	cfg.clamp()
	return &AdamW{cfg: cfg}
}

func (a *AdamW) Config() OptimizerConfig { return a.cfg }

// Step mutates params in place using grads and the given learning rate.
func (a *AdamW) Step(params *Parameters, grads Gradients, state *OptimizerState, lr float64) error {
	if len(grads) != len(params.Layers) || len(state.M) != len(params.Layers) {
		return &ShapeError{
			Layer:    -1,
			Got:      [2]int{len(grads), len(state.M)},
			Expected: [2]int{len(params.Layers), len(params.Layers)},
			Phase:    "optimizer",
		}
	}

	state.Step++
	t := float64(state.Step)
	bc1 := 1.0 - math.Pow(a.cfg.Beta1, t)
	bc2 := 1.0 - math.Pow(a.cfg.Beta2, t)

	for l := range params.Layers {
		for i := range params.Layers[l] {
			if len(grads[l]) <= i || len(grads[l][i]) != len(params.Layers[l][i]) {
				return &ShapeError{
					Layer:    l,
					Got:      [2]int{len(grads[l]), 0},
					Expected: [2]int{len(params.Layers[l]), len(params.Layers[l][i])},
					Phase:    "optimizer",
				}
			}
			for j := range params.Layers[l][i] {
				g := grads[l][i][j]

				state.M[l][i][j] = a.cfg.Beta1*state.M[l][i][j] + (1.0-a.cfg.Beta1)*g
				state.V[l][i][j] = a.cfg.Beta2*state.V[l][i][j] + (1.0-a.cfg.Beta2)*g*g

				mHat := state.M[l][i][j] / bc1
				vHat := state.V[l][i][j] / bc2

				theta := params.Layers[l][i][j]
				params.Layers[l][i][j] = theta - lr*(mHat/(math.Sqrt(vHat)+a.cfg.Epsilon)+a.cfg.WeightDecay*theta)
			}
		}
	}
	return nil
}
