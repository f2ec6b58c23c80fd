package neural

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CheckpointVersion is bumped on any incompatible format change.
const CheckpointVersion = 1

// Checkpoint is the versioned on-disk model state. Unlike the in-memory
// clone layer, this path goes through JSON, which cannot represent NaN/Inf;
// a save attempt against non-finite state is rejected with evidence instead
// of silently mangling it.
type Checkpoint struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	Parameters       *Parameters      `json:"parameters"`
	OptimizerState   *OptimizerState  `json:"optimizer_state"`
	SchedulerState   SchedulerState   `json:"scheduler_state"`
	WatchdogState    WatchdogState    `json:"watchdog_state"`
	ExplorationState ExplorationState `json:"exploration_state"`
	TrainingState    TrainingState    `json:"training_state"`

	Config            TrainingConfig    `json:"config"`
	OptimizerConfig   OptimizerConfig   `json:"optimizer_config"`
	SchedulerConfig   SchedulerConfig   `json:"scheduler_config"`
	WatchdogConfig    WatchdogConfig    `json:"watchdog_config"`
	ExplorationConfig ExplorationConfig `json:"exploration_config"`
	NetworkConfig     *NetworkConfig    `json:"network_config"`
}

// SaveModelCheckpoint serializes the full state tuple to path. The snapshot
// is copied under the read lock and written outside it, so training never
// blocks on disk and the file never contains a torn state.
func (e *Engine) SaveModelCheckpoint(path string) error {
	e.mu.RLock()
	if !e.initialized {
		e.mu.RUnlock()
		return ErrNotInitialized
	}
	cp := Checkpoint{
		Version:           CheckpointVersion,
		Timestamp:         time.Now().UTC(),
		Parameters:        e.params.Clone(),
		OptimizerState:    e.optState.Clone(),
		SchedulerState:    e.scheduler.State(),
		WatchdogState:     e.watchdog.State(),
		ExplorationState:  e.explore.State(),
		TrainingState:     e.state,
		Config:            e.cfg,
		OptimizerConfig:   e.optCfg,
		SchedulerConfig:   e.schedCfg,
		WatchdogConfig:    e.wdCfg,
		ExplorationConfig: e.expCfg,
		NetworkConfig:     e.netCfg,
	}
	e.mu.RUnlock()

	if nan, inf := countNonFinite(cp.Parameters.Layers); nan > 0 || inf > 0 {
		return &CheckpointError{
			Path: path,
			Op:   "save",
			Err:  fmt.Errorf("parameters contain %d NaN and %d Inf values", nan, inf),
		}
	}
	if nan, inf := countNonFinite(cp.OptimizerState.M); nan > 0 || inf > 0 {
		return &CheckpointError{
			Path: path,
			Op:   "save",
			Err:  fmt.Errorf("optimizer first moments contain %d NaN and %d Inf values", nan, inf),
		}
	}
	if nan, inf := countNonFinite(cp.OptimizerState.V); nan > 0 || inf > 0 {
		return &CheckpointError{
			Path: path,
			Op:   "save",
			Err:  fmt.Errorf("optimizer second moments contain %d NaN and %d Inf values", nan, inf),
		}
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return &CheckpointError{Path: path, Op: "save", Err: err}
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &CheckpointError{Path: path, Op: "save", Err: err}
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &CheckpointError{Path: path, Op: "save", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &CheckpointError{Path: path, Op: "save", Err: err}
	}

	e.log.Info().Str("path", path).Int("bytes", len(data)).Msg("checkpoint saved")
	return nil
}

// LoadModelCheckpoint restores the full state tuple from path, replacing the
// engine's architecture, parameters and all component states.
func (e *Engine) LoadModelCheckpoint(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &CheckpointError{Path: path, Op: "load", Err: err}
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return &CheckpointError{Path: path, Op: "load", Err: err}
	}
	if cp.Version != CheckpointVersion {
		return &CheckpointError{
			Path: path,
			Op:   "load",
			Err:  fmt.Errorf("unsupported checkpoint version %d (want %d)", cp.Version, CheckpointVersion),
		}
	}
	if cp.NetworkConfig == nil || cp.Parameters == nil || cp.OptimizerState == nil {
		return &CheckpointError{Path: path, Op: "load", Err: errors.New("incomplete checkpoint")}
	}
	if err := cp.NetworkConfig.CheckShapes(cp.Parameters, "load"); err != nil {
		return &CheckpointError{Path: path, Op: "load", Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cp.Config
	e.cfg.clamp()
	e.optCfg = cp.OptimizerConfig
	e.schedCfg = cp.SchedulerConfig
	e.wdCfg = cp.WatchdogConfig
	e.expCfg = cp.ExplorationConfig

	e.netCfg = cp.NetworkConfig
	e.params = cp.Parameters.Clone()
	e.optState = cp.OptimizerState.Clone()
	e.optimizer = NewAdamW(e.optCfg)

	e.scheduler = NewPlateauScheduler(e.schedCfg)
	e.scheduler.Restore(cp.SchedulerState)

	e.watchdog = NewWatchdog(e.wdCfg, e.log)
	e.watchdog.RestoreState(cp.WatchdogState)

	e.explore = NewExplorationSchedule(e.expCfg)
	e.explore.Restore(cp.ExplorationState)

	e.state = cp.TrainingState
	e.initialized = true

	e.log.Info().
		Str("path", path).
		Str("run_id", e.state.RunID).
		Int("step", e.state.Step).
		Time("saved_at", cp.Timestamp).
		Msg("checkpoint loaded")
	return nil
}
