package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"

	"github.com/rs/zerolog"

	"github.com/neurotrade/pkg/neural"
)

// trainsim runs a fully offline training session against synthetic market
// data, useful for smoke-testing engine behavior without Kafka or databases.
func main() {
	arch := flag.String("arch", "hybrid", "Network architecture (compact, hybrid, deep)")
	features := flag.Int("features", 24, "Input feature count")
	samples := flag.Int("samples", 2000, "Synthetic experiences to generate")
	epochs := flag.Int("epochs", 10, "Epochs to run")
	batch := flag.Int("batch", 32, "Batch size")
	seed := flag.Int64("seed", 42, "RNG seed for weights and data")
	lr := flag.Float64("lr", 0.001, "Initial learning rate")
	checkpoint := flag.String("checkpoint", "", "Optional path to write the final checkpoint")
	verbose := flag.Bool("v", false, "Per-step debug logging")

	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	training := neural.DefaultTrainingConfig()
	training.BatchSize = *batch
	training.Epochs = *epochs
	training.Seed = *seed

	optimizer := neural.DefaultOptimizerConfig()
	optimizer.LearningRate = *lr
	scheduler := neural.DefaultSchedulerConfig()
	scheduler.InitialLR = *lr

	buffer := neural.DefaultBufferConfig()
	buffer.Capacity = *samples
	buffer.Seed = *seed

	engine := neural.NewEngine(neural.Options{
		Training:  training,
		Optimizer: optimizer,
		Scheduler: scheduler,
		Buffer:    buffer,
		Logger:    logger,
	})
	if err := engine.InitializeNetwork(neural.Architecture(*arch), *features, 1); err != nil {
		log.Fatalf("network init failed: %v", err)
	}

	market, actions, rewards := synthesizeMarket(*samples, *features, *seed)
	accepted, err := engine.AddMarketDataExperiences(market, actions, rewards)
	if err != nil {
		log.Fatalf("experience load failed: %v", err)
	}
	fmt.Printf("loaded %d synthetic experiences (%d features, arch=%s)\n", accepted, *features, *arch)

	ctx := context.Background()
	for epoch := 1; epoch <= *epochs; epoch++ {
		steps, err := engine.TrainEpoch(ctx)
		if err != nil {
			if errors.Is(err, neural.ErrResetBudgetExceeded) {
				fmt.Println("training halted: watchdog reset budget exceeded")
				break
			}
			log.Fatalf("epoch %d failed: %v", epoch, err)
		}

		status := engine.Status()
		var lossSum, dirSum float64
		for _, m := range steps {
			lossSum += m.Loss
			dirSum += m.DirectionalAccuracy
		}
		n := float64(len(steps))
		fmt.Printf("epoch %2d  steps=%-3d loss=%.6f dir_acc=%.3f val_loss=%.6f lr=%.6f eps=%.3f resets=%d\n",
			epoch, len(steps), lossSum/n, dirSum/n,
			status.BestValidationLoss, status.LearningRate,
			status.Epsilon, status.ResetCount)

		if engine.ShouldStopEarly() {
			fmt.Printf("early stopping after epoch %d (patience exhausted)\n", epoch)
			break
		}
	}

	if *checkpoint != "" {
		if err := engine.SaveModelCheckpoint(*checkpoint); err != nil {
			log.Fatalf("checkpoint save failed: %v", err)
		}
		fmt.Printf("checkpoint written to %s\n", *checkpoint)
	}
}

// synthesizeMarket builds a noisy trending series: features are lagged
// normalized returns, the action follows the local trend and the reward is
// positive when the trend continues.
func synthesizeMarket(samples, features int, seed int64) ([][]float64, []int, []float64) {
	rng := rand.New(rand.NewSource(seed))

	prices := make([]float64, samples+features+1)
	prices[0] = 100.0
	for i := 1; i < len(prices); i++ {
		trend := 0.0005 * math.Sin(float64(i)/50.0)
		prices[i] = prices[i-1] * (1.0 + trend + rng.NormFloat64()*0.002)
	}

	market := make([][]float64, samples)
	actions := make([]int, samples)
	rewards := make([]float64, samples)
	for i := 0; i < samples; i++ {
		state := make([]float64, features)
		for j := 0; j < features; j++ {
			prev, cur := prices[i+j], prices[i+j+1]
			state[j] = (cur - prev) / prev * 100.0
		}
		market[i] = state

		futureReturn := (prices[i+features+1] - prices[i+features]) / prices[i+features]
		switch {
		case futureReturn > 0.0005:
			actions[i] = 1
			rewards[i] = 1.0
		case futureReturn < -0.0005:
			actions[i] = 2
			rewards[i] = -1.0
		default:
			actions[i] = 0
			rewards[i] = 0.0
		}
	}
	return market, actions, rewards
}
