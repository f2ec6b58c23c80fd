package neural

import (
	"time"
)

// Experience is one (state, action, reward) training sample. TDError is
// overwritten in place by the replay buffer after each training step and
// drives prioritized sampling.
type Experience struct {
	State     []float64 `json:"state"`
	Action    int       `json:"action"` // 0=hold, 1=buy, 2=sell
	Reward    float64   `json:"reward"`
	NextState []float64 `json:"next_state,omitempty"`
	TDError   float64   `json:"td_error,omitempty"`
}

// LayerShape is the (rows, cols) of one dense weight matrix: rows is the
// fan-in, cols the fan-out.
type LayerShape struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Parameters holds the ordered per-layer weight matrices of the network,
// indexed layer -> row -> column. Exclusively owned by the Engine; the only
// components allowed to copy it wholesale are the watchdog and the
// checkpoint writer, and both must use Clone.
type Parameters struct {
	Layers [][][]float64 `json:"layers"`
}

// Gradients mirrors the Parameters layout.
type Gradients [][][]float64

// OptimizerState carries the AdamW first/second moment tensors plus the
// global step counter. Shape-bound 1:1 to Parameters and reinitialized
// whenever the architecture changes.
type OptimizerState struct {
	M    [][][]float64 `json:"m"`
	V    [][][]float64 `json:"v"`
	Step int           `json:"step"`
}

// SchedulerState is the mutable part of the plateau scheduler.
type SchedulerState struct {
	LR          float64   `json:"lr"`
	LossHistory []float64 `json:"loss_history"`
	BadSteps    int       `json:"bad_steps"`
	BestLoss    float64   `json:"best_loss"`
}

// ExplorationState tracks the epsilon/temperature decay. It is policy-level
// state, independent of gradients, and is never touched by watchdog rollback.
type ExplorationState struct {
	Epsilon   float64 `json:"epsilon"`
	StepCount int     `json:"step_count"`
}

// TrainingState is the engine-level progress record.
type TrainingState struct {
	RunID              string    `json:"run_id"`
	Step               int       `json:"step"`
	Epoch              int       `json:"epoch"`
	BestValidationLoss float64   `json:"best_validation_loss"`
	PatienceCounter    int       `json:"patience_counter"`
	TotalSamplesSeen   int       `json:"total_samples_seen"`
	StartedAt          time.Time `json:"started_at"`
}

// TrainingMetrics is emitted once per step. Immutable once produced; used
// only for observability and early-stopping decisions.
type TrainingMetrics struct {
	Step                   int       `json:"step"`
	Epoch                  int       `json:"epoch"`
	Loss                   float64   `json:"loss"`
	MAE                    float64   `json:"mae"`
	RMSE                   float64   `json:"rmse"`
	DirectionalAccuracy    float64   `json:"directional_accuracy"`
	ClassificationAccuracy float64   `json:"classification_accuracy"`
	GradientNorm           float64   `json:"gradient_norm"`
	Clipped                bool      `json:"clipped"`
	LearningRate           float64   `json:"learning_rate"`
	Epsilon                float64   `json:"epsilon"`
	ExplorationRatio       float64   `json:"exploration_ratio"`
	ResetCount             int       `json:"reset_count"`
	RolledBack             bool      `json:"rolled_back"`
	Timestamp              time.Time `json:"timestamp"`
}

// TrainingConfig is immutable after InitializeNetwork.
type TrainingConfig struct {
	BatchSize             int     `json:"batch_size"`
	Epochs                int     `json:"epochs"`
	ValidationSplit       float64 `json:"validation_split"`
	EarlyStoppingPatience int     `json:"early_stopping_patience"`
	CheckpointInterval    int     `json:"checkpoint_interval"`
	LogInterval           int     `json:"log_interval"`
	MaxGradientNorm       float64 `json:"max_gradient_norm"`
	Regularization        struct {
		Lambda  float64 `json:"lambda"`
		Enabled bool    `json:"enabled"`
	} `json:"regularization"`
	Seed int64 `json:"seed"`
}

// DefaultTrainingConfig mirrors the clamped defaulting style used across the
// service configs.
func DefaultTrainingConfig() TrainingConfig {
	cfg := TrainingConfig{
		BatchSize:             32,
		Epochs:                10,
		ValidationSplit:       0.2,
		EarlyStoppingPatience: 5,
		CheckpointInterval:    100,
		LogInterval:           10,
		MaxGradientNorm:       5.0,
	}
	cfg.Regularization.Lambda = 1e-4
	return cfg
}

func (cfg *TrainingConfig) clamp() {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 32
	}
	if cfg.Epochs < 1 {
		cfg.Epochs = 1
	}
	if cfg.ValidationSplit < 0 || cfg.ValidationSplit >= 1 {
		cfg.ValidationSplit = 0.2
	}
	if cfg.EarlyStoppingPatience < 1 {
		cfg.EarlyStoppingPatience = 5
	}
	if cfg.CheckpointInterval < 1 {
		cfg.CheckpointInterval = 100
	}
	if cfg.LogInterval < 1 {
		cfg.LogInterval = 10
	}
	if cfg.MaxGradientNorm <= 0 {
		cfg.MaxGradientNorm = 5.0
	}
	if cfg.Regularization.Lambda < 0 {
		cfg.Regularization.Lambda = 0
	}
}

// OptimizerConfig holds the AdamW hyperparameters.
type OptimizerConfig struct {
	LearningRate float64 `json:"learning_rate"`
	Beta1        float64 `json:"beta1"`
	Beta2        float64 `json:"beta2"`
	WeightDecay  float64 `json:"weight_decay"`
	Epsilon      float64 `json:"epsilon"`
}

func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		WeightDecay:  0.01,
		Epsilon:      1e-8,
	}
}

func (cfg *OptimizerConfig) clamp() {
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.001
	}
	if cfg.Beta1 <= 0 || cfg.Beta1 >= 1 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 <= 0 || cfg.Beta2 >= 1 {
		cfg.Beta2 = 0.999
	}
	if cfg.WeightDecay < 0 {
		cfg.WeightDecay = 0
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 1e-8
	}
}

// SchedulerConfig drives the plateau-based learning rate scheduler.
type SchedulerConfig struct {
	InitialLR   float64 `json:"initial_lr"`
	DecayFactor float64 `json:"decay_factor"`
	Patience    int     `json:"patience"`
	MinLR       float64 `json:"min_lr"`
	Window      int     `json:"window"`
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		InitialLR:   0.001,
		DecayFactor: 0.5,
		Patience:    10,
		MinLR:       1e-6,
		Window:      20,
	}
}

func (cfg *SchedulerConfig) clamp() {
	if cfg.InitialLR <= 0 {
		cfg.InitialLR = 0.001
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor >= 1 {
		cfg.DecayFactor = 0.5
	}
	if cfg.Patience < 1 {
		cfg.Patience = 10
	}
	if cfg.MinLR <= 0 {
		cfg.MinLR = 1e-6
	}
	if cfg.Window < 3 {
		cfg.Window = 20
	}
}

// WatchdogConfig bounds the instability detector.
type WatchdogConfig struct {
	CheckInterval     int     `json:"check_interval"`
	NaNThreshold      int     `json:"nan_threshold"`
	InfThreshold      int     `json:"inf_threshold"`
	LossThreshold     float64 `json:"loss_threshold"`
	GradientThreshold float64 `json:"gradient_threshold"`
	ResetLRFactor     float64 `json:"reset_lr_factor"`
	MaxResets         int     `json:"max_resets"`
}

func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		CheckInterval:     10,
		NaNThreshold:      0,
		InfThreshold:      0,
		LossThreshold:     1e4,
		GradientThreshold: 100.0,
		ResetLRFactor:     0.5,
		MaxResets:         5,
	}
}

func (cfg *WatchdogConfig) clamp() {
	if cfg.CheckInterval < 1 {
		cfg.CheckInterval = 10
	}
	if cfg.NaNThreshold < 0 {
		cfg.NaNThreshold = 0
	}
	if cfg.InfThreshold < 0 {
		cfg.InfThreshold = 0
	}
	if cfg.LossThreshold <= 0 {
		cfg.LossThreshold = 1e4
	}
	if cfg.GradientThreshold <= 0 {
		cfg.GradientThreshold = 100.0
	}
	if cfg.ResetLRFactor <= 0 || cfg.ResetLRFactor >= 1 {
		cfg.ResetLRFactor = 0.5
	}
	if cfg.MaxResets < 1 {
		cfg.MaxResets = 5
	}
}

// ExplorationMode selects how the exploration value is interpreted.
type ExplorationMode string

const (
	ExplorationEpsilonGreedy ExplorationMode = "epsilon_greedy"
	ExplorationSoftmax       ExplorationMode = "softmax_temperature"
)

// ExplorationConfig drives the epsilon/temperature decay schedule.
type ExplorationConfig struct {
	Start      float64         `json:"start"`
	End        float64         `json:"end"`
	DecaySteps int             `json:"decay_steps"`
	Mode       ExplorationMode `json:"mode"`
}

func DefaultExplorationConfig() ExplorationConfig {
	return ExplorationConfig{
		Start:      1.0,
		End:        0.05,
		DecaySteps: 10000,
		Mode:       ExplorationEpsilonGreedy,
	}
}

func (cfg *ExplorationConfig) clamp() {
	if cfg.Start <= 0 {
		cfg.Start = 1.0
	}
	if cfg.End < 0 || cfg.End > cfg.Start {
		cfg.End = cfg.Start * 0.05
	}
	if cfg.DecaySteps < 1 {
		cfg.DecaySteps = 10000
	}
	if cfg.Mode != ExplorationEpsilonGreedy && cfg.Mode != ExplorationSoftmax {
		cfg.Mode = ExplorationEpsilonGreedy
	}
}

// BufferConfig bounds the prioritized replay buffer.
type BufferConfig struct {
	Capacity        int     `json:"capacity"`
	Prioritized     bool    `json:"prioritized"`
	PriorityEpsilon float64 `json:"priority_epsilon"`
	WithReplacement bool    `json:"with_replacement"`
	Seed            int64   `json:"seed"`
}

func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		Capacity:        10000,
		Prioritized:     true,
		PriorityEpsilon: 0.01,
	}
}

func (cfg *BufferConfig) clamp() {
	if cfg.Capacity < 1 {
		cfg.Capacity = 10000
	}
	if cfg.PriorityEpsilon <= 0 {
		cfg.PriorityEpsilon = 0.01
	}
}
