package neural

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WatchdogPhase is the watchdog state machine position.
type WatchdogPhase string

const (
	PhaseStable    WatchdogPhase = "stable"
	PhaseResetting WatchdogPhase = "resetting"
	PhaseHalted    WatchdogPhase = "halted"
)

// StableCheckpoint is a deep copy of the training state at a step verified
// free of non-finite values. It must never alias the live tensors: a later
// live mutation would silently corrupt the rollback target.
type StableCheckpoint struct {
	Params   *Parameters     `json:"params"`
	OptState *OptimizerState `json:"opt_state"`
	Loss     float64         `json:"loss"`
	Step     int             `json:"step"`
}

// ResetEvent is one entry of the append-only rollback log. Loss and
// GradientNorm are stored JSON-safe: a reset triggered by a non-finite
// reading caps the numeric field and keeps the verbatim reading in the
// Raw* counterpart, so the log never poisons a later checkpoint save.
type ResetEvent struct {
	ID              string    `json:"id"`
	Step            int       `json:"step"`
	Cause           string    `json:"cause"`
	Loss            float64   `json:"loss"`
	GradientNorm    float64   `json:"gradient_norm"`
	RawLoss         string    `json:"raw_loss,omitempty"`
	RawGradientNorm string    `json:"raw_gradient_norm,omitempty"`
	NaNCount        int       `json:"nan_count"`
	InfCount        int       `json:"inf_count"`
	LRFactor        float64   `json:"lr_factor"`
	Restored        bool      `json:"restored"`
	At              time.Time `json:"at"`
}

// WatchdogState is everything the watchdog needs to survive a checkpoint
// round trip.
type WatchdogState struct {
	Phase         WatchdogPhase     `json:"phase"`
	LastCheckStep int               `json:"last_check_step"`
	ResetCount    int               `json:"reset_count"`
	NaNTotal      int               `json:"nan_total"`
	InfTotal      int               `json:"inf_total"`
	LastStable    *StableCheckpoint `json:"last_stable,omitempty"`
	ResetLog      []ResetEvent      `json:"reset_log"`
}

func (s *WatchdogState) clone() WatchdogState {
	out := *s
	if s.LastStable != nil {
		out.LastStable = &StableCheckpoint{
			Params:   s.LastStable.Params.Clone(),
			OptState: s.LastStable.OptState.Clone(),
			Loss:     s.LastStable.Loss,
			Step:     s.LastStable.Step,
		}
	}
	out.ResetLog = append([]ResetEvent(nil), s.ResetLog...)
	return out
}

// CheckResult reports one watchdog inspection.
type CheckResult struct {
	Checked      bool
	IsStable     bool
	ShouldReset  bool
	Cause        string
	NaNCount     int
	InfCount     int
	Loss         float64
	GradientNorm float64
	// NewLRFactor is resetLRFactor^resetCount, the multiplier the caller
	// must apply to the learning rate when ShouldReset is set.
	NewLRFactor float64
	// RestoredParams/RestoredOpt are deep copies of the last stable
	// checkpoint, nil when no checkpoint exists yet.
	RestoredParams *Parameters
	RestoredOpt    *OptimizerState
}

// Watchdog periodically inspects parameters, gradients and loss for
// non-finite values or explosive norms, and drives checkpoint rollback with
// learning-rate demotion when training destabilizes.
type Watchdog struct {
	cfg   WatchdogConfig
	state WatchdogState
	log   zerolog.Logger
}

func NewWatchdog(cfg WatchdogConfig, log zerolog.Logger) *Watchdog {
	cfg.clamp()
	return &Watchdog{
		cfg:   cfg,
		state: WatchdogState{Phase: PhaseStable},
		log:   log,
	}
}

func (w *Watchdog) Config() WatchdogConfig { return w.cfg }
func (w *Watchdog) Halted() bool           { return w.state.Phase == PhaseHalted }
func (w *Watchdog) ResetCount() int        { return w.state.ResetCount }

// State returns a deep copy for checkpointing.
func (w *Watchdog) State() WatchdogState { return w.state.clone() }

// RestoreState replaces the watchdog state from a checkpoint.
func (w *Watchdog) RestoreState(st WatchdogState) {
	w.state = st.clone()
	if w.state.Phase == "" {
		w.state.Phase = PhaseStable
	}
}

// Check inspects the training state at the given step. Outside a check-due
// step it returns Checked=false and touches nothing. On a due step it either
// snapshots the state as the new stable checkpoint or initiates a reset.
func (w *Watchdog) Check(step int, params *Parameters, grads Gradients, optState *OptimizerState, loss, gradNorm float64) CheckResult {
	if w.state.Phase == PhaseHalted {
		return CheckResult{Checked: true, Cause: "Max resets exceeded"}
	}
	if step-w.state.LastCheckStep < w.cfg.CheckInterval {
		return CheckResult{Checked: false, IsStable: true}
	}
	w.state.LastCheckStep = step

	nanP, infP := countNonFinite(params.Layers)
	nanG, infG := countNonFinite(grads)
	nanCount := nanP + nanG
	infCount := infP + infG
	w.state.NaNTotal += nanCount
	w.state.InfTotal += infCount

	causes := w.evaluate(nanCount, infCount, loss, gradNorm)
	if len(causes) == 0 {
		w.snapshot(step, params, optState, loss)
		return CheckResult{
			Checked:      true,
			IsStable:     true,
			NaNCount:     nanCount,
			InfCount:     infCount,
			Loss:         loss,
			GradientNorm: gradNorm,
		}
	}

	cause := strings.Join(causes, "; ")
	if w.state.ResetCount >= w.cfg.MaxResets {
		w.state.Phase = PhaseHalted
		w.log.Error().
			Int("step", step).
			Int("reset_count", w.state.ResetCount).
			Int("max_resets", w.cfg.MaxResets).
			Str("trigger", cause).
			Msg("watchdog halt: Max resets exceeded")
		return CheckResult{
			Checked:      true,
			IsStable:     false,
			ShouldReset:  false,
			Cause:        "Max resets exceeded",
			NaNCount:     nanCount,
			InfCount:     infCount,
			Loss:         loss,
			GradientNorm: gradNorm,
		}
	}

	w.state.ResetCount++
	w.state.Phase = PhaseResetting
	factor := math.Pow(w.cfg.ResetLRFactor, float64(w.state.ResetCount))

	lossSafe, lossRaw := jsonSafe(loss)
	normSafe, normRaw := jsonSafe(gradNorm)
	event := ResetEvent{
		ID:              uuid.NewString(),
		Step:            step,
		Cause:           cause,
		Loss:            lossSafe,
		GradientNorm:    normSafe,
		RawLoss:         lossRaw,
		RawGradientNorm: normRaw,
		NaNCount:        nanCount,
		InfCount:        infCount,
		LRFactor:        factor,
		Restored:        w.state.LastStable != nil,
		At:              time.Now().UTC(),
	}
	w.state.ResetLog = append(w.state.ResetLog, event)

	w.log.Warn().
		Str("event_id", event.ID).
		Int("step", step).
		Str("cause", cause).
		Float64("loss", loss).
		Float64("gradient_norm", gradNorm).
		Int("nan_count", nanCount).
		Int("inf_count", infCount).
		Int("reset_count", w.state.ResetCount).
		Float64("lr_factor", factor).
		Bool("checkpoint_available", w.state.LastStable != nil).
		Msg("watchdog reset: restoring last stable checkpoint")

	result := CheckResult{
		Checked:      true,
		IsStable:     false,
		ShouldReset:  true,
		Cause:        cause,
		NaNCount:     nanCount,
		InfCount:     infCount,
		Loss:         loss,
		GradientNorm: gradNorm,
		NewLRFactor:  factor,
	}
	if w.state.LastStable != nil {
		result.RestoredParams = w.state.LastStable.Params.Clone()
		result.RestoredOpt = w.state.LastStable.OptState.Clone()
	}
	return result
}

// AckReset moves Resetting back to Stable once the caller has applied the
// restored state and the reduced learning rate.
func (w *Watchdog) AckReset() {
	if w.state.Phase == PhaseResetting {
		w.state.Phase = PhaseStable
	}
}

// ResetLog returns a copy of the append-only rollback log.
func (w *Watchdog) ResetLog() []ResetEvent {
	return append([]ResetEvent(nil), w.state.ResetLog...)
}

func (w *Watchdog) evaluate(nanCount, infCount int, loss, gradNorm float64) []string {
	var causes []string
	if nanCount > w.cfg.NaNThreshold {
		causes = append(causes, fmt.Sprintf("NaN values detected (%d > %d)", nanCount, w.cfg.NaNThreshold))
	}
	if infCount > w.cfg.InfThreshold {
		causes = append(causes, fmt.Sprintf("Inf values detected (%d > %d)", infCount, w.cfg.InfThreshold))
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		causes = append(causes, fmt.Sprintf("non-finite loss (%v)", loss))
	} else if loss > w.cfg.LossThreshold {
		causes = append(causes, fmt.Sprintf("loss divergence (%.4g > %.4g)", loss, w.cfg.LossThreshold))
	}
	if math.IsNaN(gradNorm) || math.IsInf(gradNorm, 0) {
		causes = append(causes, fmt.Sprintf("non-finite gradient norm (%v)", gradNorm))
	} else if gradNorm > w.cfg.GradientThreshold {
		causes = append(causes, fmt.Sprintf("gradient explosion (%.4g > %.4g)", gradNorm, w.cfg.GradientThreshold))
	}
	return causes
}

// jsonSafe caps a reading so the reset log survives json.Marshal, which
// rejects NaN and Inf. The second return carries the verbatim reading when
// it had to be capped, empty otherwise.
func jsonSafe(v float64) (float64, string) {
	switch {
	case math.IsNaN(v):
		return 0, "NaN"
	case math.IsInf(v, 1):
		return math.MaxFloat64, "+Inf"
	case math.IsInf(v, -1):
		return -math.MaxFloat64, "-Inf"
	}
	return v, ""
}

func (w *Watchdog) snapshot(step int, params *Parameters, optState *OptimizerState, loss float64) {
	w.state.LastStable = &StableCheckpoint{
		Params:   params.Clone(),
		OptState: optState.Clone(),
		Loss:     loss,
		Step:     step,
	}
	w.state.Phase = PhaseStable
}
