package neural

// Architecture is a closed set of dense-network variants. Each variant maps
// to a fixed stack of hidden widths between the input and output sizes.
type Architecture string

const (
	ArchCompact Architecture = "compact"
	ArchHybrid  Architecture = "hybrid"
	ArchDeep    Architecture = "deep"
)

func hiddenWidths(arch Architecture) []int {
	switch arch {
	case ArchCompact:
		return []int{32}
	case ArchDeep:
		return []int{128, 64, 32}
	default: // hybrid
		return []int{64, 32}
	}
}

// NetworkConfig is immutable after InitializeNetwork; any change requires
// re-initialization of Parameters and OptimizerState.
type NetworkConfig struct {
	Architecture     Architecture `json:"architecture"`
	InputSize        int          `json:"input_size"`
	OutputSize       int          `json:"output_size"`
	Hidden           []int        `json:"hidden"`
	Shapes           []LayerShape `json:"shapes"`
	HiddenActivation Activation   `json:"hidden_activation"`
	OutputActivation Activation   `json:"output_activation"`
}

// BuildNetworkConfig resolves an architecture tag into the ordered layer
// shapes. Unknown tags fall back to hybrid.
func BuildNetworkConfig(arch Architecture, inputSize, outputSize int) (*NetworkConfig, error) {
	if inputSize <= 0 {
		return nil, &ConfigError{Field: "inputSize", Value: inputSize, Cause: "must be positive"}
	}
	if outputSize <= 0 {
		return nil, &ConfigError{Field: "outputSize", Value: outputSize, Cause: "must be positive"}
	}

	switch arch {
	case ArchCompact, ArchHybrid, ArchDeep:
	default:
		arch = ArchHybrid
	}

	hidden := hiddenWidths(arch)
	widths := make([]int, 0, len(hidden)+2)
	widths = append(widths, inputSize)
	widths = append(widths, hidden...)
	widths = append(widths, outputSize)

	shapes := make([]LayerShape, 0, len(widths)-1)
	for i := 0; i < len(widths)-1; i++ {
		shapes = append(shapes, LayerShape{Rows: widths[i], Cols: widths[i+1]})
	}

	return &NetworkConfig{
		Architecture:     arch,
		InputSize:        inputSize,
		OutputSize:       outputSize,
		Hidden:           hidden,
		Shapes:           shapes,
		HiddenActivation: NewActivation(ActLeakyReLU),
		OutputActivation: NewActivation(ActSigmoid),
	}, nil
}

// InitParameters invokes the initializer once per layer shape.
func (nc *NetworkConfig) InitParameters(in *Initializer) *Parameters {
	layers := make([][][]float64, len(nc.Shapes))
	for i, s := range nc.Shapes {
		layers[i] = in.XavierMatrix(s.Rows, s.Cols)
	}
	return &Parameters{Layers: layers}
}

// NewOptimizerState allocates zeroed moment tensors matching the layer
// shapes.
func (nc *NetworkConfig) NewOptimizerState() *OptimizerState {
	m := make([][][]float64, len(nc.Shapes))
	v := make([][][]float64, len(nc.Shapes))
	for i, s := range nc.Shapes {
		m[i] = zeroMatrix(s.Rows, s.Cols)
		v[i] = zeroMatrix(s.Rows, s.Cols)
	}
	return &OptimizerState{M: m, V: v}
}

func zeroMatrix(rows, cols int) [][]float64 {
	w := make([][]float64, rows)
	for i := range w {
		w[i] = make([]float64, cols)
	}
	return w
}

// CheckShapes verifies that params matches the declared layer shapes.
func (nc *NetworkConfig) CheckShapes(params *Parameters, phase string) error {
	if params == nil || len(params.Layers) != len(nc.Shapes) {
		got := 0
		if params != nil {
			got = len(params.Layers)
		}
		return &ShapeError{Layer: -1, Got: [2]int{got, 0}, Expected: [2]int{len(nc.Shapes), 0}, Phase: phase}
	}
	for i, s := range nc.Shapes {
		layer := params.Layers[i]
		if len(layer) != s.Rows {
			return &ShapeError{Layer: i, Got: [2]int{len(layer), 0}, Expected: [2]int{s.Rows, s.Cols}, Phase: phase}
		}
		for _, row := range layer {
			if len(row) != s.Cols {
				return &ShapeError{Layer: i, Got: [2]int{len(layer), len(row)}, Expected: [2]int{s.Rows, s.Cols}, Phase: phase}
			}
		}
	}
	return nil
}
