package neural

import (
	"math"
	"testing"
)

func expWithReward(r float64) Experience {
	return Experience{State: []float64{r}, Reward: r}
}

func TestBufferSampleExactSizeWithoutReplacement(t *testing.T) {
	b := NewExperienceBuffer(BufferConfig{Capacity: 10, Prioritized: true, PriorityEpsilon: 0.01, Seed: 1})
	for i := 0; i < 5; i++ {
		b.Add(expWithReward(float64(i)))
	}

	exps, idxs, err := b.SampleBatch(5)
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	if len(exps) != 5 || len(idxs) != 5 {
		t.Fatalf("got %d exps %d idxs, want 5 each", len(exps), len(idxs))
	}
	seen := make(map[int]bool)
	for _, idx := range idxs {
		if seen[idx] {
			t.Fatalf("index %d drawn twice without replacement", idx)
		}
		seen[idx] = true
	}
}

func TestBufferInsufficientData(t *testing.T) {
	b := NewExperienceBuffer(BufferConfig{Capacity: 10, Seed: 1})
	b.Add(expWithReward(1))
	if _, _, err := b.SampleBatch(2); err != ErrInsufficientData {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if _, _, err := b.SampleBatch(0); err != ErrInsufficientData {
		t.Fatalf("expected ErrInsufficientData for n=0, got %v", err)
	}
}

func TestBufferEvictsLowestPriorityOldestFirst(t *testing.T) {
	b := NewExperienceBuffer(BufferConfig{Capacity: 3, Prioritized: true, PriorityEpsilon: 0.01, Seed: 1})
	b.AddWithPriority(expWithReward(10), 5.0)
	b.AddWithPriority(expWithReward(11), 1.0)
	b.AddWithPriority(expWithReward(12), 3.0)

	// Full: the priority-1.0 slot (index 1) is the victim.
	b.AddWithPriority(expWithReward(13), 2.0)
	snap := b.Snapshot()
	if snap[1].Reward != 13 {
		t.Fatalf("expected slot 1 replaced with reward 13, got %v", snap[1].Reward)
	}
	if snap[0].Reward != 10 || snap[2].Reward != 12 {
		t.Fatalf("other slots must stay stable: %v", snap)
	}

	// Tie on priority: the older sequence number loses.
	b2 := NewExperienceBuffer(BufferConfig{Capacity: 2, Prioritized: true, PriorityEpsilon: 0.01, Seed: 1})
	b2.AddWithPriority(expWithReward(1), 1.0)
	b2.AddWithPriority(expWithReward(2), 1.0)
	b2.AddWithPriority(expWithReward(3), 1.0)
	snap2 := b2.Snapshot()
	if snap2[0].Reward != 3 {
		t.Fatalf("tie break should evict the oldest, got %v", snap2)
	}
}

func TestBufferPrioritizedSamplingFavorsHighPriority(t *testing.T) {
	b := NewExperienceBuffer(BufferConfig{
		Capacity:        2,
		Prioritized:     true,
		PriorityEpsilon: 0.01,
		WithReplacement: true,
		Seed:            42,
	})
	b.AddWithPriority(expWithReward(0), 0.01)
	b.AddWithPriority(expWithReward(1), 100.0)

	high := 0
	const draws = 1000
	for i := 0; i < draws; i++ {
		exps, _, err := b.SampleBatch(1)
		if err != nil {
			t.Fatalf("sample failed: %v", err)
		}
		if exps[0].Reward == 1 {
			high++
		}
	}
	if float64(high)/draws < 0.95 {
		t.Fatalf("high-priority slot drawn only %d/%d times", high, draws)
	}
}

func TestBufferUpdatePriorities(t *testing.T) {
	b := NewExperienceBuffer(BufferConfig{Capacity: 4, Prioritized: true, PriorityEpsilon: 0.01, Seed: 1})
	b.Add(expWithReward(1))
	b.Add(expWithReward(2))

	b.UpdatePriorities([]int{0, 1}, []float64{-0.5, math.NaN()})

	if b.slots[0].priority != 0.51 {
		t.Fatalf("priority = %v, want |td|+eps = 0.51", b.slots[0].priority)
	}
	if b.slots[0].exp.TDError != -0.5 {
		t.Fatalf("td error not stored: %v", b.slots[0].exp.TDError)
	}
	// Non-finite TD errors are treated as zero.
	if b.slots[1].priority != 0.01 || b.slots[1].exp.TDError != 0 {
		t.Fatalf("NaN td not sanitized: priority %v td %v", b.slots[1].priority, b.slots[1].exp.TDError)
	}
}

func TestBufferSampleReturnsCopies(t *testing.T) {
	b := NewExperienceBuffer(BufferConfig{Capacity: 4, Seed: 1})
	b.Add(Experience{State: []float64{1, 2, 3}, Reward: 1})

	exps, _, err := b.SampleBatch(1)
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	exps[0].State[0] = 99
	if b.slots[0].exp.State[0] == 99 {
		t.Fatal("sampled experience aliases buffer storage")
	}
}
