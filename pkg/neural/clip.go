package neural

import "math"

// GlobalNorm computes the L2 norm across all layers' gradients.
func GlobalNorm(g Gradients) float64 {
	sum := 0.0
	for _, m := range g {
		for _, row := range m {
			for _, v := range row {
				sum += v * v
			}
		}
	}
	return math.Sqrt(sum)
}

// ClipGradients rescales the gradient set in place so its global L2 norm
// does not exceed maxNorm, preserving direction. Returns the pre-clip norm
// and whether rescaling happened.
func ClipGradients(g Gradients, maxNorm float64) (float64, bool) {
	norm := GlobalNorm(g)
	if maxNorm <= 0 || norm <= maxNorm || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return norm, false
	}
	scale := maxNorm / norm
	for _, m := range g {
		for _, row := range m {
			for j := range row {
				row[j] *= scale
			}
		}
	}
	return norm, true
}
