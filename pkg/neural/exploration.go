package neural

// ExplorationSchedule decays epsilon (or softmax temperature) linearly from
// Start to End over DecaySteps. Purely a reporting statistic for the policy
// layer: it never participates in gradient computation and the watchdog
// never rolls it back.
type ExplorationSchedule struct {
	cfg   ExplorationConfig
	state ExplorationState
}

func NewExplorationSchedule(cfg ExplorationConfig) *ExplorationSchedule {
	cfg.clamp()
	return &ExplorationSchedule{
		cfg:   cfg,
		state: ExplorationState{Epsilon: cfg.Start},
	}
}

func (e *ExplorationSchedule) Mode() ExplorationMode { return e.cfg.Mode }

// CurrentEpsilon returns the epsilon/temperature in effect.
func (e *ExplorationSchedule) CurrentEpsilon() float64 { return e.state.Epsilon }

// ExplorationRatio reports the fraction of decisions expected to explore.
func (e *ExplorationSchedule) ExplorationRatio() float64 {
	if e.cfg.Start == 0 {
		return 0
	}
	return e.state.Epsilon / e.cfg.Start
}

// ExploitationRatio is the complement of ExplorationRatio.
func (e *ExplorationSchedule) ExploitationRatio() float64 {
	return 1.0 - e.ExplorationRatio()
}

// Step advances the decay by one training step.
func (e *ExplorationSchedule) Step() float64 {
	e.state.StepCount++
	progress := float64(e.state.StepCount) / float64(e.cfg.DecaySteps)
	if progress > 1.0 {
		progress = 1.0
	}
	e.state.Epsilon = e.cfg.Start + (e.cfg.End-e.cfg.Start)*progress
	return e.state.Epsilon
}

// State returns a copy for checkpointing.
func (e *ExplorationSchedule) State() ExplorationState { return e.state }

// Restore replaces the decay state from a checkpoint.
func (e *ExplorationSchedule) Restore(st ExplorationState) {
	if st.Epsilon <= 0 && st.StepCount == 0 {
		st.Epsilon = e.cfg.Start
	}
	e.state = st
}
