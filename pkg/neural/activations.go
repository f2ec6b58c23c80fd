package neural

import "math"

// outputBound caps every activation output so a single overflowing unit
// cannot propagate Inf downstream.
const outputBound = 1e6

// defaultInputClip bounds pre-activation sums before evaluation. Well inside
// float64 exp overflow territory but large enough to never bite in healthy
// training.
const defaultInputClip = 1e4

// ActivationKind enumerates the supported activation functions.
type ActivationKind string

const (
	ActLeakyReLU ActivationKind = "leaky_relu"
	ActSigmoid   ActivationKind = "sigmoid"
	ActTanh      ActivationKind = "tanh"
)

// Activation is a pure, numerically bounded activation function. Input is
// clipped to [-InputClip, InputClip] before evaluation, output to
// [-1e6, 1e6].
type Activation struct {
	Kind      ActivationKind `json:"kind"`
	InputClip float64        `json:"input_clip"`
}

func NewActivation(kind ActivationKind) Activation {
	return Activation{Kind: kind, InputClip: defaultInputClip}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Apply evaluates the activation at x.
func (a Activation) Apply(x float64) float64 {
	clip := a.InputClip
	if clip <= 0 {
		clip = defaultInputClip
	}
	x = clamp(x, -clip, clip)

	var y float64
	switch a.Kind {
	case ActSigmoid:
		y = 1.0 / (1.0 + math.Exp(-x))
	case ActTanh:
		y = math.Tanh(x)
	default: // leaky ReLU
		if x > 0 {
			y = x
		} else {
			y = 0.01 * x
		}
	}
	return clamp(y, -outputBound, outputBound)
}

// Derivative evaluates d(activation)/dx at the pre-activation value x.
func (a Activation) Derivative(x float64) float64 {
	clip := a.InputClip
	if clip <= 0 {
		clip = defaultInputClip
	}
	x = clamp(x, -clip, clip)

	switch a.Kind {
	case ActSigmoid:
		s := 1.0 / (1.0 + math.Exp(-x))
		return s * (1.0 - s)
	case ActTanh:
		t := math.Tanh(x)
		return 1.0 - t*t
	default:
		if x > 0 {
			return 1.0
		}
		return 0.01
	}
}

// softmax normalizes scores into a probability distribution, shifted by the
// max score for numerical stability.
func softmax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	maxScore := scores[0]
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}

	expSum := 0.0
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		expSum += out[i]
	}
	if expSum == 0 {
		uniform := 1.0 / float64(len(scores))
		for i := range out {
			out[i] = uniform
		}
		return out
	}
	for i := range out {
		out[i] /= expSum
	}
	return out
}
