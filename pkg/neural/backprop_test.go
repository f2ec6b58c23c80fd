package neural

import (
	"errors"
	"math"
	"testing"
)

func testNetwork(t *testing.T, arch Architecture, inputSize, outputSize int) (*NetworkConfig, *Parameters) {
	t.Helper()
	nc, err := BuildNetworkConfig(arch, inputSize, outputSize)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	return nc, nc.InitParameters(NewInitializer(42, 1.0))
}

func TestPredictBoundedAndNormalized(t *testing.T) {
	nc, params := testNetwork(t, ArchCompact, 4, 3)

	pred, probs, err := nc.Predict(params, []float64{0.1, 0.2, 0.3, 0.4})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if pred < 0 || pred > 1 {
		t.Fatalf("sigmoid prediction %v out of [0,1]", pred)
	}
	if len(probs) != 3 {
		t.Fatalf("distribution size %d, want 3", len(probs))
	}
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Fatalf("distribution sums to %v", sum)
	}
}

func TestPredictRejectsWrongInputSize(t *testing.T) {
	nc, params := testNetwork(t, ArchCompact, 4, 1)
	_, _, err := nc.Predict(params, []float64{1, 2})
	var shapeErr *ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected *ShapeError, got %v", err)
	}
	if shapeErr.Phase != "forward" {
		t.Fatalf("phase = %q, want forward", shapeErr.Phase)
	}
}

func TestPredictRejectsMalformedWeights(t *testing.T) {
	nc, params := testNetwork(t, ArchCompact, 4, 1)
	params.Layers[1] = params.Layers[1][:10]
	_, _, err := nc.Predict(params, []float64{1, 2, 3, 4})
	var shapeErr *ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected *ShapeError, got %v", err)
	}
}

func TestBackwardGradientDecreasesLoss(t *testing.T) {
	nc, params := testNetwork(t, ArchCompact, 4, 1)
	input := []float64{0.5, -0.2, 0.8, 0.1}
	target := 1.0

	lossAt := func(p *Parameters) float64 {
		cache, err := nc.forwardSample(p, input)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		diff := cache.prediction() - target
		return diff * diff
	}

	cache, err := nc.forwardSample(params, input)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	grads, loss, err := nc.backward(params, []*forwardCache{cache}, []float64{target})
	if err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	if math.Abs(loss-lossAt(params)) > 1e-9 {
		t.Fatalf("reported loss %v != recomputed %v", loss, lossAt(params))
	}

	// One plain gradient-descent step must reduce the loss.
	stepped := params.Clone()
	for l := range stepped.Layers {
		for i := range stepped.Layers[l] {
			for j := range stepped.Layers[l][i] {
				stepped.Layers[l][i][j] -= 0.1 * grads[l][i][j]
			}
		}
	}
	if after := lossAt(stepped); after >= loss {
		t.Fatalf("loss did not decrease: %v -> %v", loss, after)
	}
}

func TestBackwardBatchAveraging(t *testing.T) {
	nc, params := testNetwork(t, ArchCompact, 2, 1)
	input := []float64{0.3, 0.7}

	single, err := nc.forwardSample(params, input)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	gradsSingle, _, err := nc.backward(params, []*forwardCache{single}, []float64{1.0})
	if err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	// A batch of two identical samples must produce identical averaged grads.
	a, _ := nc.forwardSample(params, input)
	b, _ := nc.forwardSample(params, input)
	gradsBatch, _, err := nc.backward(params, []*forwardCache{a, b}, []float64{1.0, 1.0})
	if err != nil {
		t.Fatalf("batch backward failed: %v", err)
	}
	for l := range gradsSingle {
		for i := range gradsSingle[l] {
			for j := range gradsSingle[l][i] {
				if math.Abs(gradsSingle[l][i][j]-gradsBatch[l][i][j]) > 1e-12 {
					t.Fatalf("batch averaging broken at [%d][%d][%d]: %v vs %v",
						l, i, j, gradsSingle[l][i][j], gradsBatch[l][i][j])
				}
			}
		}
	}
}

func TestAddL2Regularization(t *testing.T) {
	params := &Parameters{Layers: [][][]float64{{{2.0, -1.0}}}}
	grads := Gradients{{{0.5, 0.5}}}

	penalty := addL2Regularization(params, grads, 0.1)
	if math.Abs(penalty-0.05*(4.0+1.0)) > 1e-12 {
		t.Fatalf("penalty = %v, want 0.25", penalty)
	}
	if math.Abs(grads[0][0][0]-0.7) > 1e-12 || math.Abs(grads[0][0][1]-0.4) > 1e-12 {
		t.Fatalf("gradients after decay: %v", grads[0][0])
	}
}

func TestCountNonFinite(t *testing.T) {
	tensor := [][][]float64{{{1.0, math.NaN()}, {math.Inf(1), math.Inf(-1)}}}
	nan, inf := countNonFinite(tensor)
	if nan != 1 || inf != 2 {
		t.Fatalf("counted %d NaN %d Inf, want 1 and 2", nan, inf)
	}
}
