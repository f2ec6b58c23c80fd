package common

import (
	"time"
)

// Candle represents a single candlestick consumed from the market stream.
type Candle struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// ExperiencePayload is the wire format for one training sample pushed by the
// strategy pipeline. Features is the observed market state vector, Action the
// decision taken (0=hold, 1=buy, 2=sell) and Reward the realized outcome.
type ExperiencePayload struct {
	Symbol    string    `json:"symbol"`
	Features  []float64 `json:"features"`
	Action    int       `json:"action"`
	Reward    float64   `json:"reward"`
	Timestamp int64     `json:"timestamp"`
}

// TrainingEvent is published after every completed training epoch so
// downstream consumers (dashboard, gateway) can track model evolution.
type TrainingEvent struct {
	RunID           string    `json:"run_id"`
	Symbol          string    `json:"symbol"`
	Epoch           int       `json:"epoch"`
	Steps           int       `json:"steps"`
	TrainSamples    int       `json:"train_samples"`
	ValSamples      int       `json:"val_samples"`
	Loss            float64   `json:"loss"`
	ValidationLoss  float64   `json:"validation_loss"`
	DirectionalAcc  float64   `json:"directional_accuracy"`
	ClassAcc        float64   `json:"classification_accuracy"`
	GradientNorm    float64   `json:"gradient_norm"`
	LearningRate    float64   `json:"learning_rate"`
	ResetCount      int       `json:"reset_count"`
	Epsilon         float64   `json:"epsilon"`
	CreatedAt       time.Time `json:"created_at"`
}

// ResetEventRecord mirrors one watchdog rollback for persistence.
type ResetEventRecord struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Step         int       `json:"step"`
	Cause        string    `json:"cause"`
	Loss         float64   `json:"loss"`
	GradientNorm float64   `json:"gradient_norm"`
	NaNCount     int       `json:"nan_count"`
	InfCount     int       `json:"inf_count"`
	LRFactor     float64   `json:"lr_factor"`
	CreatedAt    time.Time `json:"created_at"`
}

// ModelSnapshot summarizes a persisted model for API consumers.
type ModelSnapshot struct {
	Symbol       string    `json:"symbol"`
	Architecture string    `json:"architecture"`
	Step         int       `json:"step"`
	BestLoss     float64   `json:"best_loss"`
	LearningRate float64   `json:"learning_rate"`
	ResetCount   int       `json:"reset_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}
