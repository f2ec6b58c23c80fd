package neural

import (
	"math"
	"math/rand"
	"time"
)

// Initializer produces variance-scaled initial weight matrices. Deterministic
// under an explicit seed; the unseeded path draws its seed from the clock so
// tests can always inject reproducibility.
type Initializer struct {
	rng  *rand.Rand
	gain float64
}

// NewInitializer builds a Xavier initializer. seed == 0 selects a time-based
// source; gain <= 0 falls back to 1.
func NewInitializer(seed int64, gain float64) *Initializer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if gain <= 0 {
		gain = 1.0
	}
	return &Initializer{
		rng:  rand.New(rand.NewSource(seed)),
		gain: gain,
	}
}

// XavierMatrix returns a rows x cols weight matrix with element variance
// approximately gain^2 * 2/(fanIn+fanOut), drawn uniformly from
// [-limit, limit] with limit = gain * sqrt(6/(fanIn+fanOut)).
func (in *Initializer) XavierMatrix(rows, cols int) [][]float64 {
	limit := in.gain * math.Sqrt(6.0/float64(rows+cols))
	w := make([][]float64, rows)
	for i := range w {
		w[i] = make([]float64, cols)
		for j := range w[i] {
			w[i][j] = (in.rng.Float64()*2.0 - 1.0) * limit
		}
	}
	return w
}
