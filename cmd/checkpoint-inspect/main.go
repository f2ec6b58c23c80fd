package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/neurotrade/pkg/neural"
)

// checkpoint-inspect prints a human-readable summary of a checkpoint file
// without loading it into an engine.
func main() {
	file := flag.String("file", "", "Path to checkpoint JSON (required)")
	showResets := flag.Bool("resets", false, "Print the full reset log")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("read failed: %v", err)
	}
	var cp neural.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		log.Fatalf("parse failed: %v", err)
	}

	fmt.Printf("checkpoint:   %s (%d bytes)\n", *file, len(data))
	fmt.Printf("version:      %d\n", cp.Version)
	fmt.Printf("saved at:     %s\n", cp.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("run id:       %s\n", cp.TrainingState.RunID)

	if cp.NetworkConfig != nil {
		fmt.Printf("architecture: %s (in=%d out=%d hidden=%v)\n",
			cp.NetworkConfig.Architecture, cp.NetworkConfig.InputSize,
			cp.NetworkConfig.OutputSize, cp.NetworkConfig.Hidden)
		total := 0
		for _, s := range cp.NetworkConfig.Shapes {
			total += s.Rows * s.Cols
		}
		fmt.Printf("weights:      %d layers, %d values\n", len(cp.NetworkConfig.Shapes), total)
	}

	fmt.Printf("progress:     step=%d epoch=%d samples=%d\n",
		cp.TrainingState.Step, cp.TrainingState.Epoch, cp.TrainingState.TotalSamplesSeen)
	fmt.Printf("validation:   best=%.6g patience=%d\n",
		cp.TrainingState.BestValidationLoss, cp.TrainingState.PatienceCounter)
	fmt.Printf("scheduler:    lr=%.6g best_loss=%.6g window=%d\n",
		cp.SchedulerState.LR, cp.SchedulerState.BestLoss, len(cp.SchedulerState.LossHistory))
	fmt.Printf("exploration:  epsilon=%.4f steps=%d\n",
		cp.ExplorationState.Epsilon, cp.ExplorationState.StepCount)
	fmt.Printf("watchdog:     phase=%s resets=%d nan_total=%d inf_total=%d\n",
		cp.WatchdogState.Phase, cp.WatchdogState.ResetCount,
		cp.WatchdogState.NaNTotal, cp.WatchdogState.InfTotal)

	if *showResets {
		for _, ev := range cp.WatchdogState.ResetLog {
			loss := fmt.Sprintf("%.6g", ev.Loss)
			if ev.RawLoss != "" {
				loss = ev.RawLoss
			}
			norm := fmt.Sprintf("%.6g", ev.GradientNorm)
			if ev.RawGradientNorm != "" {
				norm = ev.RawGradientNorm
			}
			fmt.Printf("  reset step=%d cause=%q loss=%s norm=%s lr_factor=%.4f at=%s\n",
				ev.Step, ev.Cause, loss, norm, ev.LRFactor,
				ev.At.Format("2006-01-02 15:04:05"))
		}
	}
}
