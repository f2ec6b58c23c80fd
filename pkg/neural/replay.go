package neural

import (
	"math"
	"math/rand"
	"time"
)

type bufferSlot struct {
	exp      Experience
	priority float64
	seq      uint64
}

// ExperienceBuffer is a fixed-capacity, priority-weighted replay store.
// Slots are stable: an index returned by SampleBatch stays valid until the
// slot is evicted. Eviction is deterministic: lowest priority first, oldest
// insertion breaking ties.
type ExperienceBuffer struct {
	cfg     BufferConfig
	slots   []bufferSlot
	nextSeq uint64
	rng     *rand.Rand
}

func NewExperienceBuffer(cfg BufferConfig) *ExperienceBuffer {
	cfg.clamp()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &ExperienceBuffer{
		cfg:   cfg,
		slots: make([]bufferSlot, 0, cfg.Capacity),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (b *ExperienceBuffer) Len() int      { return len(b.slots) }
func (b *ExperienceBuffer) Capacity() int { return b.cfg.Capacity }

// Add inserts an experience with the default priority (1 + epsilon). When
// full, the lowest-priority oldest slot is replaced in place so other
// indices stay stable.
func (b *ExperienceBuffer) Add(exp Experience) {
	b.AddWithPriority(exp, 1.0+b.cfg.PriorityEpsilon)
}

// AddWithPriority inserts an experience with an explicit priority.
func (b *ExperienceBuffer) AddWithPriority(exp Experience, priority float64) {
	if priority <= 0 || math.IsNaN(priority) {
		priority = b.cfg.PriorityEpsilon
	}
	slot := bufferSlot{exp: exp.Clone(), priority: priority, seq: b.nextSeq}
	b.nextSeq++

	if len(b.slots) < b.cfg.Capacity {
		b.slots = append(b.slots, slot)
		return
	}
	b.slots[b.victimIndex()] = slot
}

func (b *ExperienceBuffer) victimIndex() int {
	victim := 0
	for i := 1; i < len(b.slots); i++ {
		if b.slots[i].priority < b.slots[victim].priority ||
			(b.slots[i].priority == b.slots[victim].priority && b.slots[i].seq < b.slots[victim].seq) {
			victim = i
		}
	}
	return victim
}

// SampleBatch draws n experiences with probability proportional to priority
// (uniformly when prioritization is disabled), returning copies plus their
// slot indices for a later UpdatePriorities call. Without-replacement is the
// default; n must not exceed the buffer size unless replacement is enabled.
func (b *ExperienceBuffer) SampleBatch(n int) ([]Experience, []int, error) {
	return b.sampleRange(n, len(b.slots))
}

// sampleRange draws from the first limit slots only, which lets the engine
// keep a validation region out of the training draw. The tail slots hold
// the newest experiences only until the buffer first fills; after that,
// priority eviction reuses arbitrary slots and the region is positional,
// not strictly time-ordered.
func (b *ExperienceBuffer) sampleRange(n, limit int) ([]Experience, []int, error) {
	if limit > len(b.slots) {
		limit = len(b.slots)
	}
	if n <= 0 || (limit < n && !b.cfg.WithReplacement) {
		return nil, nil, ErrInsufficientData
	}

	weights := make([]float64, limit)
	total := 0.0
	for i := 0; i < limit; i++ {
		w := 1.0
		if b.cfg.Prioritized {
			w = b.slots[i].priority
		}
		weights[i] = w
		total += w
	}

	exps := make([]Experience, 0, n)
	idxs := make([]int, 0, n)
	for len(exps) < n {
		idx := b.drawIndex(weights, total)
		exps = append(exps, b.slots[idx].exp.Clone())
		idxs = append(idxs, idx)
		if !b.cfg.WithReplacement {
			total -= weights[idx]
			weights[idx] = 0
		}
	}
	return exps, idxs, nil
}

func (b *ExperienceBuffer) drawIndex(weights []float64, total float64) int {
	if total <= 0 {
		// All remaining weights zeroed; fall back to the first non-drawn slot.
		for i, w := range weights {
			if w > 0 {
				return i
			}
		}
		return b.rng.Intn(len(weights))
	}
	target := b.rng.Float64() * total
	cum := 0.0
	for i, w := range weights {
		cum += w
		if target < cum {
			return i
		}
	}
	return len(weights) - 1
}

// UpdatePriorities overwrites priorities as |tdError| + epsilon and stores
// the TD error on the experience itself.
func (b *ExperienceBuffer) UpdatePriorities(indices []int, tdErrors []float64) {
	for k, idx := range indices {
		if idx < 0 || idx >= len(b.slots) || k >= len(tdErrors) {
			continue
		}
		td := tdErrors[k]
		if math.IsNaN(td) || math.IsInf(td, 0) {
			td = 0
		}
		b.slots[idx].priority = math.Abs(td) + b.cfg.PriorityEpsilon
		b.slots[idx].exp.TDError = td
	}
}

// Snapshot returns copies of the slots in insertion-index order, used for
// the epoch-level validation split.
func (b *ExperienceBuffer) Snapshot() []Experience {
	out := make([]Experience, len(b.slots))
	for i := range b.slots {
		out[i] = b.slots[i].exp.Clone()
	}
	return out
}
