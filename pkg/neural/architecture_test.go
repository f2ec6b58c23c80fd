package neural

import (
	"errors"
	"testing"
)

func TestBuildNetworkConfigShapes(t *testing.T) {
	cases := []struct {
		arch   Architecture
		hidden []int
	}{
		{ArchCompact, []int{32}},
		{ArchHybrid, []int{64, 32}},
		{ArchDeep, []int{128, 64, 32}},
	}
	for _, tc := range cases {
		nc, err := BuildNetworkConfig(tc.arch, 10, 3)
		if err != nil {
			t.Fatalf("%s: %v", tc.arch, err)
		}
		if len(nc.Shapes) != len(tc.hidden)+1 {
			t.Fatalf("%s: %d layers, want %d", tc.arch, len(nc.Shapes), len(tc.hidden)+1)
		}
		if nc.Shapes[0].Rows != 10 {
			t.Fatalf("%s: first fan-in %d, want 10", tc.arch, nc.Shapes[0].Rows)
		}
		if nc.Shapes[len(nc.Shapes)-1].Cols != 3 {
			t.Fatalf("%s: last fan-out %d, want 3", tc.arch, nc.Shapes[len(nc.Shapes)-1].Cols)
		}
		// Adjacent layers must chain: fan-out of l == fan-in of l+1.
		for i := 0; i < len(nc.Shapes)-1; i++ {
			if nc.Shapes[i].Cols != nc.Shapes[i+1].Rows {
				t.Fatalf("%s: layer %d fan-out %d != layer %d fan-in %d",
					tc.arch, i, nc.Shapes[i].Cols, i+1, nc.Shapes[i+1].Rows)
			}
		}
	}
}

func TestBuildNetworkConfigUnknownArchFallsBack(t *testing.T) {
	nc, err := BuildNetworkConfig("experimental", 8, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nc.Architecture != ArchHybrid {
		t.Fatalf("unknown tag resolved to %s, want hybrid", nc.Architecture)
	}
}

func TestBuildNetworkConfigRejectsBadSizes(t *testing.T) {
	var cfgErr *ConfigError
	if _, err := BuildNetworkConfig(ArchCompact, 0, 1); !errors.As(err, &cfgErr) {
		t.Fatalf("inputSize=0: expected *ConfigError, got %v", err)
	}
	if _, err := BuildNetworkConfig(ArchCompact, 10, -1); !errors.As(err, &cfgErr) {
		t.Fatalf("outputSize=-1: expected *ConfigError, got %v", err)
	}
}

func TestInitParametersMatchShapes(t *testing.T) {
	nc, err := BuildNetworkConfig(ArchHybrid, 10, 1)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	params := nc.InitParameters(NewInitializer(1, 1.0))
	if err := nc.CheckShapes(params, "test"); err != nil {
		t.Fatalf("initialized parameters fail shape check: %v", err)
	}
	opt := nc.NewOptimizerState()
	if err := nc.CheckShapes(&Parameters{Layers: opt.M}, "test"); err != nil {
		t.Fatalf("optimizer moments shape mismatch: %v", err)
	}
}

func TestCheckShapesDetectsMismatch(t *testing.T) {
	nc, _ := BuildNetworkConfig(ArchCompact, 4, 1)
	params := nc.InitParameters(NewInitializer(1, 1.0))

	params.Layers[0] = params.Layers[0][:2]
	err := nc.CheckShapes(params, "test")
	var shapeErr *ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected *ShapeError, got %v", err)
	}
	if shapeErr.Layer != 0 {
		t.Fatalf("wrong layer flagged: %d", shapeErr.Layer)
	}
}
