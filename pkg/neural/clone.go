package neural

// Explicit structural clones per state type. JSON round-tripping is never
// used for in-memory copies: it drops non-finite values, which is exactly
// the corruption the watchdog has to observe.

func cloneMatrix(m [][]float64) [][]float64 {
	if m == nil {
		return nil
	}
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

func cloneTensor(t [][][]float64) [][][]float64 {
	if t == nil {
		return nil
	}
	out := make([][][]float64, len(t))
	for i, m := range t {
		out[i] = cloneMatrix(m)
	}
	return out
}

// Clone returns a deep copy sharing no memory with the receiver.
func (p *Parameters) Clone() *Parameters {
	if p == nil {
		return nil
	}
	return &Parameters{Layers: cloneTensor(p.Layers)}
}

// Clone returns a deep copy of the gradient set.
func (g Gradients) Clone() Gradients {
	return Gradients(cloneTensor(g))
}

// Clone returns a deep copy of the optimizer moments and step counter.
func (s *OptimizerState) Clone() *OptimizerState {
	if s == nil {
		return nil
	}
	return &OptimizerState{
		M:    cloneTensor(s.M),
		V:    cloneTensor(s.V),
		Step: s.Step,
	}
}

// Clone returns a deep copy of the scheduler state.
func (s *SchedulerState) Clone() *SchedulerState {
	if s == nil {
		return nil
	}
	return &SchedulerState{
		LR:          s.LR,
		LossHistory: append([]float64(nil), s.LossHistory...),
		BadSteps:    s.BadSteps,
		BestLoss:    s.BestLoss,
	}
}

// Clone returns a deep copy of one experience.
func (e Experience) Clone() Experience {
	out := e
	out.State = append([]float64(nil), e.State...)
	if e.NextState != nil {
		out.NextState = append([]float64(nil), e.NextState...)
	}
	return out
}
