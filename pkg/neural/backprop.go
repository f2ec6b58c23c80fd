package neural

import "math"

// forwardCache retains every layer's pre-activation sums and activation
// vectors for one sample. acts[0] is the input vector, acts[l+1] the output
// of layer l.
type forwardCache struct {
	acts    [][]float64
	preActs [][]float64
}

// prediction is the raw first component of the final layer output, used as
// the scalar regression target.
func (c *forwardCache) prediction() float64 {
	out := c.acts[len(c.acts)-1]
	if len(out) == 0 {
		return 0
	}
	return out[0]
}

// distribution softmax-normalizes the final layer output for use as class
// probabilities.
func (c *forwardCache) distribution() []float64 {
	return softmax(c.acts[len(c.acts)-1])
}

func (nc *NetworkConfig) activationAt(layer int) Activation {
	if layer == len(nc.Shapes)-1 {
		return nc.OutputActivation
	}
	return nc.HiddenActivation
}

// forwardSample applies output = activation(input . W) layer by layer,
// retaining every activation vector for the backward pass.
func (nc *NetworkConfig) forwardSample(params *Parameters, input []float64) (*forwardCache, error) {
	if err := nc.CheckShapes(params, "forward"); err != nil {
		return nil, err
	}
	if len(input) != nc.InputSize {
		return nil, &ShapeError{Layer: 0, Got: [2]int{len(input), 0}, Expected: [2]int{nc.InputSize, 0}, Phase: "forward"}
	}

	cache := &forwardCache{
		acts:    make([][]float64, 0, len(nc.Shapes)+1),
		preActs: make([][]float64, 0, len(nc.Shapes)),
	}
	cache.acts = append(cache.acts, append([]float64(nil), input...))

	current := input
	for l, shape := range nc.Shapes {
		act := nc.activationAt(l)
		w := params.Layers[l]

		pre := make([]float64, shape.Cols)
		for j := 0; j < shape.Cols; j++ {
			sum := 0.0
			for i := 0; i < shape.Rows; i++ {
				sum += current[i] * w[i][j]
			}
			pre[j] = sum
		}

		out := make([]float64, shape.Cols)
		for j, v := range pre {
			out[j] = act.Apply(v)
		}

		cache.preActs = append(cache.preActs, pre)
		cache.acts = append(cache.acts, out)
		current = out
	}
	return cache, nil
}

// Predict runs a forward pass and returns the scalar prediction plus the
// softmax distribution over the output layer. Used for inference scoring
// outside the training loop.
func (nc *NetworkConfig) Predict(params *Parameters, input []float64) (float64, []float64, error) {
	cache, err := nc.forwardSample(params, input)
	if err != nil {
		return 0, nil, err
	}
	return cache.prediction(), cache.distribution(), nil
}

// backward computes per-layer gradients for a batch via the chain rule,
// averaged over the batch. Targets are scalar regression targets against the
// first output component; loss is MSE.
func (nc *NetworkConfig) backward(params *Parameters, caches []*forwardCache, targets []float64) (Gradients, float64, error) {
	if err := nc.CheckShapes(params, "backward"); err != nil {
		return nil, 0, err
	}

	grads := make(Gradients, len(nc.Shapes))
	for l, s := range nc.Shapes {
		grads[l] = zeroMatrix(s.Rows, s.Cols)
	}

	n := float64(len(caches))
	if n == 0 {
		return grads, 0, nil
	}

	totalLoss := 0.0
	for s, cache := range caches {
		pred := cache.prediction()
		diff := pred - targets[s]
		totalLoss += diff * diff

		// Output delta: d(MSE)/d(pred) through the output activation.
		// Only the first component carries the regression signal.
		last := len(nc.Shapes) - 1
		outAct := nc.activationAt(last)
		delta := make([]float64, nc.Shapes[last].Cols)
		delta[0] = (2.0 * diff / n) * outAct.Derivative(cache.preActs[last][0])

		for l := last; l >= 0; l-- {
			w := params.Layers[l]
			in := cache.acts[l]

			for i := 0; i < nc.Shapes[l].Rows; i++ {
				for j := 0; j < nc.Shapes[l].Cols; j++ {
					grads[l][i][j] += delta[j] * in[i]
				}
			}

			if l == 0 {
				break
			}
			prevAct := nc.activationAt(l - 1)
			prevDelta := make([]float64, nc.Shapes[l].Rows)
			for i := 0; i < nc.Shapes[l].Rows; i++ {
				sum := 0.0
				for j := 0; j < nc.Shapes[l].Cols; j++ {
					sum += delta[j] * w[i][j]
				}
				prevDelta[i] = sum * prevAct.Derivative(cache.preActs[l-1][i])
			}
			delta = prevDelta
		}
	}

	return grads, totalLoss / n, nil
}

// addL2Regularization adds lambda*theta to every gradient element and
// returns the (lambda/2)*sum(theta^2) penalty term. Applied after backprop
// and before clipping.
func addL2Regularization(params *Parameters, grads Gradients, lambda float64) float64 {
	if lambda <= 0 {
		return 0
	}
	penalty := 0.0
	for l := range grads {
		for i := range grads[l] {
			for j := range grads[l][i] {
				theta := params.Layers[l][i][j]
				grads[l][i][j] += lambda * theta
				penalty += theta * theta
			}
		}
	}
	return lambda / 2.0 * penalty
}

// countNonFinite tallies NaN and Inf values in a tensor.
func countNonFinite(t [][][]float64) (nan, inf int) {
	for _, m := range t {
		for _, row := range m {
			for _, v := range row {
				if math.IsNaN(v) {
					nan++
				} else if math.IsInf(v, 0) {
					inf++
				}
			}
		}
	}
	return nan, inf
}
