package neural

import (
	"math"
	"testing"
)

func TestXavierMatrixShape(t *testing.T) {
	in := NewInitializer(42, 1.0)
	w := in.XavierMatrix(16, 8)
	if len(w) != 16 {
		t.Fatalf("expected 16 rows, got %d", len(w))
	}
	for i, row := range w {
		if len(row) != 8 {
			t.Fatalf("row %d: expected 8 cols, got %d", i, len(row))
		}
	}
}

func TestXavierMatrixDeterministicWithSeed(t *testing.T) {
	a := NewInitializer(7, 1.0).XavierMatrix(10, 10)
	b := NewInitializer(7, 1.0).XavierMatrix(10, 10)
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("same seed produced different weights at [%d][%d]: %v vs %v", i, j, a[i][j], b[i][j])
			}
		}
	}
}

func TestXavierMatrixVariance(t *testing.T) {
	rows, cols := 100, 100
	w := NewInitializer(123, 1.0).XavierMatrix(rows, cols)

	limit := math.Sqrt(6.0 / float64(rows+cols))
	sum, sumSq := 0.0, 0.0
	n := 0.0
	for _, row := range w {
		for _, v := range row {
			if math.Abs(v) > limit {
				t.Fatalf("weight %v outside xavier limit %v", v, limit)
			}
			sum += v
			sumSq += v * v
			n++
		}
	}
	mean := sum / n
	variance := sumSq/n - mean*mean

	// Uniform on [-limit, limit] has variance limit^2/3 = 2/(fanIn+fanOut).
	want := 2.0 / float64(rows+cols)
	if variance < want*0.7 || variance > want*1.3 {
		t.Fatalf("variance %v too far from expected %v", variance, want)
	}
}

func TestXavierGainScalesLimit(t *testing.T) {
	base := NewInitializer(5, 1.0).XavierMatrix(50, 50)
	gained := NewInitializer(5, 2.0).XavierMatrix(50, 50)
	for i := range base {
		for j := range base[i] {
			if math.Abs(gained[i][j]-2.0*base[i][j]) > 1e-12 {
				t.Fatalf("gain should scale draws: %v vs %v", gained[i][j], base[i][j])
			}
		}
	}
}
