package neural

import (
	"math"
	"testing"
)

func TestGlobalNorm(t *testing.T) {
	g := Gradients{{{3.0, 0.0}}, {{0.0, 4.0}}}
	if got := GlobalNorm(g); math.Abs(got-5.0) > 1e-12 {
		t.Fatalf("global norm = %v, want 5", got)
	}
}

func TestClipGradientsRescalesToMaxNorm(t *testing.T) {
	g := Gradients{{{6.0, 0.0}}, {{0.0, 8.0}}} // norm 10
	preNorm, clipped := ClipGradients(g, 5.0)
	if !clipped {
		t.Fatal("expected clipping")
	}
	if math.Abs(preNorm-10.0) > 1e-12 {
		t.Fatalf("pre-clip norm = %v, want 10", preNorm)
	}
	if got := GlobalNorm(g); math.Abs(got-5.0) > 1e-9 {
		t.Fatalf("post-clip norm = %v, want 5", got)
	}
	// Direction preserved: components keep their 6:8 ratio.
	if math.Abs(g[0][0][0]/g[1][0][1]-0.75) > 1e-9 {
		t.Fatalf("direction changed: %v / %v", g[0][0][0], g[1][0][1])
	}
}

func TestClipGradientsNoOpUnderThreshold(t *testing.T) {
	g := Gradients{{{1.0, 2.0}}}
	preNorm, clipped := ClipGradients(g, 5.0)
	if clipped {
		t.Fatal("should not clip under threshold")
	}
	if g[0][0][0] != 1.0 || g[0][0][1] != 2.0 {
		t.Fatalf("gradients mutated without clipping: %v", g)
	}
	if preNorm != GlobalNorm(g) {
		t.Fatalf("reported norm %v != actual %v", preNorm, GlobalNorm(g))
	}
}

func TestClipGradientsPassesThroughNonFinite(t *testing.T) {
	g := Gradients{{{math.NaN()}}}
	_, clipped := ClipGradients(g, 5.0)
	if clipped {
		t.Fatal("non-finite norm must not be rescaled")
	}
	if !math.IsNaN(g[0][0][0]) {
		t.Fatalf("non-finite gradient was altered: %v", g[0][0][0])
	}
}
