package neural

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func testEngine(opts Options) *Engine {
	opts.Logger = zerolog.Nop()
	return NewEngine(opts)
}

func syntheticExperiences(n, features int) []Experience {
	exps := make([]Experience, n)
	for i := 0; i < n; i++ {
		state := make([]float64, features)
		for j := range state {
			state[j] = 0.5 * math.Sin(float64(i*features+j))
		}
		exps[i] = Experience{State: state, Action: 1, Reward: 1.0}
	}
	return exps
}

func TestEngineRequiresInitialization(t *testing.T) {
	e := testEngine(Options{})

	if _, err := e.TrainStep(syntheticExperiences(4, 10)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("TrainStep: %v", err)
	}
	if _, _, err := e.Predict(make([]float64, 10)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Predict: %v", err)
	}
	if _, err := e.GetParameters(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetParameters: %v", err)
	}
	if _, err := e.TrainEpoch(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("TrainEpoch: %v", err)
	}
}

func TestEngineTrainingRun(t *testing.T) {
	e := testEngine(Options{
		Training:  TrainingConfig{BatchSize: 16, MaxGradientNorm: 5.0, Seed: 42},
		Optimizer: OptimizerConfig{LearningRate: 0.05},
		Scheduler: SchedulerConfig{InitialLR: 0.05},
		Buffer:    BufferConfig{Capacity: 128, Prioritized: true, Seed: 7},
	})
	if err := e.InitializeNetwork(ArchHybrid, 10, 1); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	exps := syntheticExperiences(64, 10)
	var collected []TrainingMetrics
	for s := 0; s < 10; s++ {
		start := (s * 16) % 64
		m, err := e.TrainStep(exps[start : start+16])
		if err != nil {
			t.Fatalf("step %d failed: %v", s, err)
		}
		if math.IsNaN(m.Loss) || math.IsInf(m.Loss, 0) {
			t.Fatalf("step %d: non-finite loss %v", s, m.Loss)
		}
		if !m.Clipped && m.GradientNorm > 5.0 {
			t.Fatalf("step %d: unclipped norm %v above limit", s, m.GradientNorm)
		}
		if m.LearningRate <= 0 {
			t.Fatalf("step %d: lr %v", s, m.LearningRate)
		}
		collected = append(collected, *m)
	}

	// Steps 0 and 8 see the same batch; loss must not have gotten worse.
	if collected[8].Loss > collected[0].Loss {
		t.Fatalf("loss increased on repeated batch: %v -> %v", collected[0].Loss, collected[8].Loss)
	}
	// Every target is 1, so the tenth step must direct at least as well as
	// the first.
	if collected[9].DirectionalAccuracy < collected[0].DirectionalAccuracy {
		t.Fatalf("directional accuracy regressed: %v -> %v",
			collected[0].DirectionalAccuracy, collected[9].DirectionalAccuracy)
	}
	if st := e.Status(); st.Step != 10 || st.ResetCount != 0 || st.Halted {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestEngineDeterministicWithSeeds(t *testing.T) {
	opts := Options{
		Training: TrainingConfig{BatchSize: 8, Seed: 99},
		Buffer:   BufferConfig{Capacity: 64, Seed: 5},
	}
	a := testEngine(opts)
	b := testEngine(opts)
	if err := a.InitializeNetwork(ArchCompact, 6, 1); err != nil {
		t.Fatalf("init a: %v", err)
	}
	if err := b.InitializeNetwork(ArchCompact, 6, 1); err != nil {
		t.Fatalf("init b: %v", err)
	}

	exps := syntheticExperiences(8, 6)
	for s := 0; s < 5; s++ {
		ma, err := a.TrainStep(exps)
		if err != nil {
			t.Fatalf("a step %d: %v", s, err)
		}
		mb, err := b.TrainStep(exps)
		if err != nil {
			t.Fatalf("b step %d: %v", s, err)
		}
		if ma.Loss != mb.Loss || ma.GradientNorm != mb.GradientNorm {
			t.Fatalf("step %d diverged: %v/%v vs %v/%v", s, ma.Loss, ma.GradientNorm, mb.Loss, mb.GradientNorm)
		}
	}

	pa, _ := a.GetParameters()
	pb, _ := b.GetParameters()
	for l := range pa.Layers {
		for i := range pa.Layers[l] {
			for j := range pa.Layers[l][i] {
				if pa.Layers[l][i][j] != pb.Layers[l][i][j] {
					t.Fatalf("parameters diverged at [%d][%d][%d]", l, i, j)
				}
			}
		}
	}
}

func TestEngineParametersAreDeepCopies(t *testing.T) {
	e := testEngine(Options{Training: TrainingConfig{Seed: 1}})
	if err := e.InitializeNetwork(ArchCompact, 4, 1); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	p1, err := e.GetParameters()
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	original := p1.Layers[0][0][0]
	p1.Layers[0][0][0] = 12345

	p2, _ := e.GetParameters()
	if p2.Layers[0][0][0] != original {
		t.Fatal("GetParameters leaked a live reference")
	}
}

func TestEngineSetParametersValidatesShapes(t *testing.T) {
	e := testEngine(Options{Training: TrainingConfig{Seed: 1}})
	if err := e.InitializeNetwork(ArchCompact, 4, 1); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	var shapeErr *ShapeError
	if err := e.SetParameters(&Parameters{Layers: [][][]float64{{{1}}}}); !errors.As(err, &shapeErr) {
		t.Fatalf("expected *ShapeError, got %v", err)
	}

	p, _ := e.GetParameters()
	p.Layers[0][0][0] = 0.123
	if err := e.SetParameters(p); err != nil {
		t.Fatalf("valid set failed: %v", err)
	}
	got, _ := e.GetParameters()
	if got.Layers[0][0][0] != 0.123 {
		t.Fatal("SetParameters did not install the new values")
	}
}

func TestEngineAddMarketDataExperiences(t *testing.T) {
	e := testEngine(Options{Buffer: BufferConfig{Capacity: 16, Seed: 1}})

	market := [][]float64{{0.1, 0.2}, {0.2, 0.3}, {0.3, 0.4}}
	accepted, err := e.AddMarketDataExperiences(market, []int{0, 1, 2}, []float64{1, -1, 0})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if accepted != 3 || e.BufferLen() != 3 {
		t.Fatalf("accepted %d, buffered %d; want 3 and 3", accepted, e.BufferLen())
	}

	var cfgErr *ConfigError
	if _, err := e.AddMarketDataExperiences(market, []int{0}, []float64{1, -1, 0}); !errors.As(err, &cfgErr) {
		t.Fatalf("length mismatch: expected *ConfigError, got %v", err)
	}
}

func TestEngineTrainEpoch(t *testing.T) {
	e := testEngine(Options{
		Training: TrainingConfig{BatchSize: 16, ValidationSplit: 0.2, Seed: 3},
		Buffer:   BufferConfig{Capacity: 128, Prioritized: true, Seed: 11},
	})
	if err := e.InitializeNetwork(ArchCompact, 8, 1); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	for _, exp := range syntheticExperiences(80, 8) {
		e.AddExperience(exp)
	}

	metrics, err := e.TrainEpoch(context.Background())
	if err != nil {
		t.Fatalf("epoch failed: %v", err)
	}
	// 80 buffered, 20% validation tail, 64 train / batch 16 = 4 steps.
	if len(metrics) != 4 {
		t.Fatalf("ran %d steps, want 4", len(metrics))
	}
	st := e.Status()
	if st.Epoch != 1 || st.Step != 4 {
		t.Fatalf("status after epoch: %+v", st)
	}
	if st.BestValidationLoss >= math.MaxFloat64 {
		t.Fatal("validation loss was not recorded")
	}
	if e.ShouldStopEarly() {
		t.Fatal("early stop triggered after a single epoch")
	}
}

func TestEngineTrainEpochInsufficientData(t *testing.T) {
	e := testEngine(Options{Training: TrainingConfig{BatchSize: 16, Seed: 1}})
	if err := e.InitializeNetwork(ArchCompact, 8, 1); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	e.AddExperience(syntheticExperiences(1, 8)[0])

	if _, err := e.TrainEpoch(context.Background()); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestEngineTrainEpochHonorsContext(t *testing.T) {
	e := testEngine(Options{
		Training: TrainingConfig{BatchSize: 8, Seed: 1},
		Buffer:   BufferConfig{Capacity: 64, Seed: 1},
	})
	if err := e.InitializeNetwork(ArchCompact, 4, 1); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	for _, exp := range syntheticExperiences(32, 4) {
		e.AddExperience(exp)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.TrainEpoch(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEngineWatchdogRollbackAndHalt(t *testing.T) {
	e := testEngine(Options{
		Training: TrainingConfig{BatchSize: 4, Seed: 42},
		Watchdog: WatchdogConfig{
			CheckInterval:     1,
			LossThreshold:     1e4,
			GradientThreshold: 100,
			ResetLRFactor:     0.5,
			MaxResets:         1,
		},
	})
	if err := e.InitializeNetwork(ArchCompact, 4, 1); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	exps := syntheticExperiences(4, 4)

	// First step is stable and becomes the rollback target.
	if _, err := e.TrainStep(exps); err != nil {
		t.Fatalf("stable step failed: %v", err)
	}
	lrBefore := e.Status().LearningRate

	poison := func() {
		p, err := e.GetParameters()
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		p.Layers[0][0][0] = math.NaN()
		if err := e.SetParameters(p); err != nil {
			t.Fatalf("set failed: %v", err)
		}
	}

	poison()
	m, err := e.TrainStep(exps)
	if err != nil {
		t.Fatalf("rollback step errored: %v", err)
	}
	if !m.RolledBack || m.ResetCount != 1 {
		t.Fatalf("expected rollback: %+v", m)
	}
	if got := e.Status().LearningRate; math.Abs(got-lrBefore*0.5) > 1e-15 {
		t.Fatalf("lr after demotion = %v, want %v", got, lrBefore*0.5)
	}

	// Parameters are finite again after the restore.
	p, _ := e.GetParameters()
	if nan, inf := countNonFinite(p.Layers); nan+inf != 0 {
		t.Fatalf("restored parameters still non-finite: %d NaN %d Inf", nan, inf)
	}

	poison()
	if _, err := e.TrainStep(exps); !errors.Is(err, ErrResetBudgetExceeded) {
		t.Fatalf("expected ErrResetBudgetExceeded, got %v", err)
	}
	if !e.Status().Halted {
		t.Fatal("engine should report halted")
	}
	if _, err := e.TrainStep(exps); !errors.Is(err, ErrResetBudgetExceeded) {
		t.Fatalf("halted engine must keep refusing: %v", err)
	}
	if log := e.ResetLog(); len(log) != 1 {
		t.Fatalf("reset log length = %d, want 1", len(log))
	}
}

func TestTargetFromReward(t *testing.T) {
	if targetFromReward(2.5) != 1.0 || targetFromReward(-0.1) != 0.0 || targetFromReward(0) != 0.5 {
		t.Fatal("reward-to-target mapping broken")
	}
}

func TestPredictionBucket(t *testing.T) {
	if predictionBucket(0.1) != 0 || predictionBucket(0.5) != 1 || predictionBucket(0.9) != 2 {
		t.Fatal("prediction bucketing broken")
	}
}
