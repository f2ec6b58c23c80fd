package neural

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// plateauSlopeTolerance: trends flatter than this count as a plateau.
const plateauSlopeTolerance = 1e-5

// PlateauScheduler tracks a bounded window of recent losses and multiplies
// the learning rate by DecayFactor once the loss trend has plateaued or
// worsened for Patience consecutive steps, bounded below by MinLR.
type PlateauScheduler struct {
	cfg   SchedulerConfig
	state SchedulerState
}

func NewPlateauScheduler(cfg SchedulerConfig) *PlateauScheduler {
	cfg.clamp()
	return &PlateauScheduler{
		cfg: cfg,
		state: SchedulerState{
			LR: cfg.InitialLR,
			// MaxFloat64 instead of +Inf so the state survives a JSON
			// checkpoint round trip.
			BestLoss: math.MaxFloat64,
		},
	}
}

// CurrentLR returns the learning rate in effect.
func (s *PlateauScheduler) CurrentLR() float64 { return s.state.LR }

// State returns a deep copy for checkpointing.
func (s *PlateauScheduler) State() SchedulerState { return *s.state.Clone() }

// Restore replaces the scheduler state from a checkpoint.
func (s *PlateauScheduler) Restore(st SchedulerState) {
	s.state = *st.Clone()
	if s.state.LR <= 0 {
		s.state.LR = s.cfg.InitialLR
	}
}

// ForceLR overrides the learning rate, used by the watchdog's demotion path.
// Never drops below MinLR.
func (s *PlateauScheduler) ForceLR(lr float64) float64 {
	if lr < s.cfg.MinLR {
		lr = s.cfg.MinLR
	}
	s.state.LR = lr
	return s.state.LR
}

// Step records the latest loss and returns the (possibly decayed) learning
// rate. Non-finite losses are ignored: the watchdog owns that failure mode.
func (s *PlateauScheduler) Step(loss float64) float64 {
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return s.state.LR
	}

	s.state.LossHistory = append(s.state.LossHistory, loss)
	if len(s.state.LossHistory) > s.cfg.Window {
		s.state.LossHistory = s.state.LossHistory[len(s.state.LossHistory)-s.cfg.Window:]
	}

	if loss < s.state.BestLoss-plateauSlopeTolerance {
		s.state.BestLoss = loss
	}

	if len(s.state.LossHistory) < s.cfg.Window {
		return s.state.LR
	}

	if s.trendSlope() >= -plateauSlopeTolerance {
		s.state.BadSteps++
	} else {
		s.state.BadSteps = 0
	}

	if s.state.BadSteps >= s.cfg.Patience {
		next := s.state.LR * s.cfg.DecayFactor
		if next < s.cfg.MinLR {
			next = s.cfg.MinLR
		}
		s.state.LR = next
		s.state.BadSteps = 0
	}
	return s.state.LR
}

// trendSlope fits a least-squares line through the loss window. A negative
// slope means the loss is still improving.
func (s *PlateauScheduler) trendSlope() float64 {
	n := len(s.state.LossHistory)
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, s.state.LossHistory, nil, false)
	if math.IsNaN(slope) {
		return 0
	}
	return slope
}
