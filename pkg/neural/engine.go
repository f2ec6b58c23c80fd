package neural

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options wires all component configs into one engine. Zero-value fields
// fall back to defaults, so Options{} is a usable starting point.
type Options struct {
	Training    TrainingConfig
	Optimizer   OptimizerConfig
	Scheduler   SchedulerConfig
	Watchdog    WatchdogConfig
	Exploration ExplorationConfig
	Buffer      BufferConfig
	Logger      zerolog.Logger
}

// Engine composes initializer, backprop, clipper, optimizer, scheduler,
// replay buffer, exploration schedule and watchdog into a step/epoch
// training loop. All mutable training state is owned here; collaborators
// only push experiences in and read parameter deep copies out.
type Engine struct {
	mu  sync.RWMutex
	log zerolog.Logger

	cfg    TrainingConfig
	optCfg OptimizerConfig

	netCfg    *NetworkConfig
	params    *Parameters
	optState  *OptimizerState
	optimizer *AdamW
	scheduler *PlateauScheduler
	watchdog  *Watchdog
	explore   *ExplorationSchedule
	buffer    *ExperienceBuffer

	state       TrainingState
	initialized bool
	stopFlag    int32

	schedCfg SchedulerConfig
	wdCfg    WatchdogConfig
	expCfg   ExplorationConfig
}

func NewEngine(opts Options) *Engine {
	opts.Training.clamp()
	opts.Optimizer.clamp()
	opts.Scheduler.clamp()
	opts.Watchdog.clamp()
	opts.Exploration.clamp()
	opts.Buffer.clamp()

	return &Engine{
		log:      opts.Logger,
		cfg:      opts.Training,
		optCfg:   opts.Optimizer,
		schedCfg: opts.Scheduler,
		wdCfg:    opts.Watchdog,
		expCfg:   opts.Exploration,
		buffer:   NewExperienceBuffer(opts.Buffer),
	}
}

// InitializeNetwork builds the network configuration and (re)initializes all
// per-architecture state. Must be called before any train or inference call.
func (e *Engine) InitializeNetwork(arch Architecture, inputFeatures, outputSize int) error {
	netCfg, err := BuildNetworkConfig(arch, inputFeatures, outputSize)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	init := NewInitializer(e.cfg.Seed, 1.0)
	e.netCfg = netCfg
	e.params = netCfg.InitParameters(init)
	e.optState = netCfg.NewOptimizerState()
	e.optimizer = NewAdamW(e.optCfg)
	e.scheduler = NewPlateauScheduler(e.schedCfg)
	e.watchdog = NewWatchdog(e.wdCfg, e.log)
	e.explore = NewExplorationSchedule(e.expCfg)
	e.state = TrainingState{
		RunID:              uuid.NewString(),
		BestValidationLoss: math.MaxFloat64,
		StartedAt:          time.Now().UTC(),
	}
	e.initialized = true
	atomic.StoreInt32(&e.stopFlag, 0)

	e.log.Info().
		Str("run_id", e.state.RunID).
		Str("architecture", string(arch)).
		Int("input_features", inputFeatures).
		Int("output_size", outputSize).
		Ints("hidden", netCfg.Hidden).
		Msg("network initialized")
	return nil
}

func (e *Engine) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// RequestStop asks the epoch loop to stop at the next step boundary.
func (e *Engine) RequestStop() { atomic.StoreInt32(&e.stopFlag, 1) }

func (e *Engine) stopRequested() bool { return atomic.LoadInt32(&e.stopFlag) == 1 }

// AddExperience pushes one experience into the replay buffer.
func (e *Engine) AddExperience(exp Experience) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer.Add(exp)
}

// AddMarketDataExperiences constructs Experience records from parallel
// market-state/action/reward slices and inserts them into the buffer.
// Returns the number accepted.
func (e *Engine) AddMarketDataExperiences(marketData [][]float64, actions []int, rewards []float64) (int, error) {
	if len(marketData) != len(actions) || len(actions) != len(rewards) {
		return 0, &ConfigError{
			Field: "marketData/actions/rewards",
			Value: []int{len(marketData), len(actions), len(rewards)},
			Cause: "length mismatch",
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	accepted := 0
	for i, state := range marketData {
		if len(state) == 0 {
			continue
		}
		exp := Experience{
			State:  append([]float64(nil), state...),
			Action: actions[i],
			Reward: rewards[i],
		}
		if i+1 < len(marketData) {
			exp.NextState = append([]float64(nil), marketData[i+1]...)
		}
		e.buffer.Add(exp)
		accepted++
	}
	return accepted, nil
}

func (e *Engine) BufferLen() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.buffer.Len()
}

// GetParameters returns a deep copy; callers never receive a live reference.
func (e *Engine) GetParameters() (*Parameters, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return e.params.Clone(), nil
}

// SetParameters installs a deep copy of the given parameters after shape
// validation. The optimizer moments are kept: the architecture is unchanged.
func (e *Engine) SetParameters(p *Parameters) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return ErrNotInitialized
	}
	if err := e.netCfg.CheckShapes(p, "set-parameters"); err != nil {
		return err
	}
	e.params = p.Clone()
	return nil
}

// NetworkConfig returns the immutable network description.
func (e *Engine) NetworkConfig() *NetworkConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.netCfg
}

// Predict scores one state vector against the current parameters.
func (e *Engine) Predict(state []float64) (float64, []float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return 0, nil, ErrNotInitialized
	}
	return e.netCfg.Predict(e.params, state)
}

// targetFromReward maps a reward sign onto the scalar regression target.
func targetFromReward(r float64) float64 {
	switch {
	case r > 0:
		return 1.0
	case r < 0:
		return 0.0
	default:
		return 0.5
	}
}

// predictionBucket maps the scalar prediction onto the 3-class action space.
func predictionBucket(pred float64) int {
	switch {
	case pred < 0.33:
		return 0 // hold
	case pred < 0.66:
		return 1 // buy
	default:
		return 2 // sell
	}
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// TrainStep runs one optimizer update over the given batch and returns the
// step metrics. Numerical instability is handled internally by the watchdog;
// only a halted watchdog surfaces as an error.
func (e *Engine) TrainStep(experiences []Experience) (*TrainingMetrics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, _, err := e.trainStepLocked(experiences)
	return m, err
}

func (e *Engine) trainStepLocked(experiences []Experience) (*TrainingMetrics, []float64, error) {
	if !e.initialized {
		return nil, nil, ErrNotInitialized
	}
	if e.watchdog.Halted() {
		return nil, nil, ErrResetBudgetExceeded
	}
	if len(experiences) == 0 {
		return nil, nil, ErrInsufficientData
	}

	step := e.state.Step + 1

	caches := make([]*forwardCache, len(experiences))
	targets := make([]float64, len(experiences))
	preds := make([]float64, len(experiences))
	for i, exp := range experiences {
		cache, err := e.netCfg.forwardSample(e.params, exp.State)
		if err != nil {
			return nil, nil, err
		}
		caches[i] = cache
		targets[i] = targetFromReward(exp.Reward)
		preds[i] = cache.prediction()
	}

	grads, loss, err := e.netCfg.backward(e.params, caches, targets)
	if err != nil {
		return nil, nil, err
	}
	if e.cfg.Regularization.Enabled {
		loss += addL2Regularization(e.params, grads, e.cfg.Regularization.Lambda)
	}

	gradNorm := GlobalNorm(grads)

	check := e.watchdog.Check(step, e.params, grads, e.optState, loss, gradNorm)
	if check.Checked && !check.IsStable && !check.ShouldReset {
		return nil, nil, ErrResetBudgetExceeded
	}

	metrics := &TrainingMetrics{
		Step:         step,
		Epoch:        e.state.Epoch,
		Loss:         loss,
		GradientNorm: gradNorm,
		ResetCount:   e.watchdog.ResetCount(),
		Timestamp:    time.Now().UTC(),
	}

	tdErrors := make([]float64, len(experiences))
	for i := range preds {
		tdErrors[i] = preds[i] - targets[i]
	}
	e.fillAccuracy(metrics, preds, targets, experiences)

	if check.ShouldReset {
		if check.RestoredParams != nil {
			e.params = check.RestoredParams
			e.optState = check.RestoredOpt
		}
		demoted := e.scheduler.ForceLR(e.scheduler.CurrentLR() * check.NewLRFactor)
		e.watchdog.AckReset()

		metrics.RolledBack = true
		metrics.ResetCount = e.watchdog.ResetCount()
		metrics.LearningRate = demoted
		metrics.Epsilon = e.explore.Step()
		metrics.ExplorationRatio = e.explore.ExplorationRatio()
		e.state.Step = step
		e.state.TotalSamplesSeen += len(experiences)
		return metrics, tdErrors, nil
	}

	_, clipped := ClipGradients(grads, e.cfg.MaxGradientNorm)
	metrics.Clipped = clipped

	if err := e.optimizer.Step(e.params, grads, e.optState, e.scheduler.CurrentLR()); err != nil {
		return nil, nil, err
	}

	metrics.LearningRate = e.scheduler.Step(loss)
	metrics.Epsilon = e.explore.Step()
	metrics.ExplorationRatio = e.explore.ExplorationRatio()

	e.state.Step = step
	e.state.TotalSamplesSeen += len(experiences)

	if step%e.cfg.LogInterval == 0 {
		e.log.Debug().
			Int("step", step).
			Float64("loss", loss).
			Float64("gradient_norm", gradNorm).
			Float64("lr", metrics.LearningRate).
			Float64("directional_accuracy", metrics.DirectionalAccuracy).
			Msg("train step")
	}
	return metrics, tdErrors, nil
}

func (e *Engine) fillAccuracy(m *TrainingMetrics, preds, targets []float64, experiences []Experience) {
	n := float64(len(preds))
	if n == 0 {
		return
	}
	directional := 0
	classified := 0
	absSum := 0.0
	sqSum := 0.0
	for i, pred := range preds {
		if sign(pred-0.5) == sign(experiences[i].Reward) {
			directional++
		}
		if predictionBucket(pred) == experiences[i].Action {
			classified++
		}
		diff := pred - targets[i]
		absSum += math.Abs(diff)
		sqSum += diff * diff
	}
	m.DirectionalAccuracy = float64(directional) / n
	m.ClassificationAccuracy = float64(classified) / n
	m.MAE = absSum / n
	m.RMSE = math.Sqrt(sqSum / n)
}

// TrainEpoch splits the buffered slots into train/validation by the
// configured split, runs floor(trainSize/batchSize) optimizer steps against
// prioritized batches from the train region, evaluates the validation tail
// with a forward pass only, and updates the early-stopping counters. The
// tail is time-causal until the buffer first fills; once eviction starts
// the split is positional. The stop flag and ctx are honored at step
// granularity.
func (e *Engine) TrainEpoch(ctx context.Context) ([]TrainingMetrics, error) {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return nil, ErrNotInitialized
	}
	total := e.buffer.Len()
	valSize := int(float64(total) * e.cfg.ValidationSplit)
	trainSize := total - valSize
	steps := trainSize / e.cfg.BatchSize
	e.mu.Unlock()

	if steps == 0 {
		return nil, ErrInsufficientData
	}

	var collected []TrainingMetrics
	for s := 0; s < steps; s++ {
		if err := ctx.Err(); err != nil {
			return collected, err
		}
		if e.stopRequested() {
			return collected, nil
		}

		e.mu.Lock()
		batch, idxs, err := e.buffer.sampleRange(e.cfg.BatchSize, trainSize)
		if err != nil {
			e.mu.Unlock()
			return collected, err
		}
		metrics, tdErrors, err := e.trainStepLocked(batch)
		if err != nil {
			e.mu.Unlock()
			return collected, err
		}
		e.buffer.UpdatePriorities(idxs, tdErrors)
		e.mu.Unlock()

		collected = append(collected, *metrics)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Epoch++
	valLoss := e.validationLossLocked(trainSize)
	if valLoss < e.state.BestValidationLoss {
		e.state.BestValidationLoss = valLoss
		e.state.PatienceCounter = 0
	} else {
		e.state.PatienceCounter++
	}

	e.log.Info().
		Int("epoch", e.state.Epoch).
		Int("steps", len(collected)).
		Float64("validation_loss", valLoss).
		Int("patience", e.state.PatienceCounter).
		Msg("epoch complete")
	return collected, nil
}

// validationLossLocked computes the forward-only MSE over the validation
// tail slots. Falls back to the best-known loss when the tail is empty.
func (e *Engine) validationLossLocked(trainSize int) float64 {
	snapshot := e.buffer.Snapshot()
	if trainSize >= len(snapshot) {
		if len(e.scheduler.state.LossHistory) > 0 {
			return e.scheduler.state.LossHistory[len(e.scheduler.state.LossHistory)-1]
		}
		return math.MaxFloat64
	}

	sum := 0.0
	count := 0
	for _, exp := range snapshot[trainSize:] {
		cache, err := e.netCfg.forwardSample(e.params, exp.State)
		if err != nil {
			continue
		}
		diff := cache.prediction() - targetFromReward(exp.Reward)
		sum += diff * diff
		count++
	}
	if count == 0 {
		return math.MaxFloat64
	}
	return sum / float64(count)
}

// ShouldStopEarly reports whether the patience budget is exhausted.
func (e *Engine) ShouldStopEarly() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.PatienceCounter >= e.cfg.EarlyStoppingPatience
}

// Status is a read-only summary for API handlers and dashboards.
type Status struct {
	Initialized        bool         `json:"initialized"`
	RunID              string       `json:"run_id"`
	Architecture       Architecture `json:"architecture"`
	Step               int          `json:"step"`
	Epoch              int          `json:"epoch"`
	BufferLen          int          `json:"buffer_len"`
	BufferCapacity     int          `json:"buffer_capacity"`
	LearningRate       float64      `json:"learning_rate"`
	Epsilon            float64      `json:"epsilon"`
	ResetCount         int          `json:"reset_count"`
	Halted             bool         `json:"halted"`
	BestValidationLoss float64      `json:"best_validation_loss"`
	PatienceCounter    int          `json:"patience_counter"`
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{
		Initialized:    e.initialized,
		BufferLen:      e.buffer.Len(),
		BufferCapacity: e.buffer.Capacity(),
	}
	if !e.initialized {
		return st
	}
	st.RunID = e.state.RunID
	st.Architecture = e.netCfg.Architecture
	st.Step = e.state.Step
	st.Epoch = e.state.Epoch
	st.LearningRate = e.scheduler.CurrentLR()
	st.Epsilon = e.explore.CurrentEpsilon()
	st.ResetCount = e.watchdog.ResetCount()
	st.Halted = e.watchdog.Halted()
	st.BestValidationLoss = e.state.BestValidationLoss
	st.PatienceCounter = e.state.PatienceCounter
	return st
}

// ResetLog exposes a copy of the watchdog rollback log.
func (e *Engine) ResetLog() []ResetEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil
	}
	return e.watchdog.ResetLog()
}

// TrainingConfigSnapshot returns the immutable training config.
func (e *Engine) TrainingConfigSnapshot() TrainingConfig { return e.cfg }
