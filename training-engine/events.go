package main

import (
	"database/sql"
	"time"

	"github.com/neurotrade/pkg/common"
	"github.com/neurotrade/pkg/logger"
	"github.com/neurotrade/pkg/metrics"
)

// EventSink writes epoch summaries and watchdog rollbacks to ClickHouse and
// serves the training-history API queries.
type EventSink struct {
	db *sql.DB
}

func NewEventSink(db *sql.DB) (*EventSink, error) {
	s := &EventSink{db: db}
	if err := s.ensureTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *EventSink) ensureTables() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS training_events (
		run_id String,
		symbol String,
		epoch Int32,
		steps Int32,
		train_samples Int32,
		val_samples Int32,
		loss Float64,
		validation_loss Float64,
		directional_accuracy Float64,
		classification_accuracy Float64,
		gradient_norm Float64,
		learning_rate Float64,
		reset_count Int32,
		epsilon Float64,
		created_at DateTime DEFAULT now()
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(created_at)
	ORDER BY (symbol, created_at)`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS reset_events (
		id String,
		symbol String,
		step Int32,
		cause String,
		loss Float64,
		gradient_norm Float64,
		nan_count Int32,
		inf_count Int32,
		lr_factor Float64,
		created_at DateTime DEFAULT now()
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(created_at)
	ORDER BY (symbol, created_at)`)
	return err
}

// RecordEpoch inserts one per-epoch summary row.
func (s *EventSink) RecordEpoch(ev common.TrainingEvent) {
	start := time.Now()
	_, err := s.db.Exec(`INSERT INTO training_events
		(run_id, symbol, epoch, steps, train_samples, val_samples, loss, validation_loss,
		 directional_accuracy, classification_accuracy, gradient_norm, learning_rate, reset_count, epsilon)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Symbol, ev.Epoch, ev.Steps, ev.TrainSamples, ev.ValSamples,
		ev.Loss, ev.ValidationLoss, ev.DirectionalAcc, ev.ClassAcc,
		ev.GradientNorm, ev.LearningRate, ev.ResetCount, ev.Epsilon)
	metrics.DatabaseQueriesDuration.WithLabelValues("training_event_insert").Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error().Err(err).Str("symbol", ev.Symbol).Msg("failed to store training event")
	}
}

// RecordReset inserts one watchdog rollback row.
func (s *EventSink) RecordReset(rec common.ResetEventRecord) {
	start := time.Now()
	_, err := s.db.Exec(`INSERT INTO reset_events
		(id, symbol, step, cause, loss, gradient_norm, nan_count, inf_count, lr_factor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Symbol, rec.Step, rec.Cause, rec.Loss, rec.GradientNorm,
		rec.NaNCount, rec.InfCount, rec.LRFactor)
	metrics.DatabaseQueriesDuration.WithLabelValues("reset_event_insert").Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error().Err(err).Str("symbol", rec.Symbol).Msg("failed to store reset event")
	}
}

// TrainingHistory returns the most recent epoch summaries for a symbol,
// newest first.
func (s *EventSink) TrainingHistory(symbol string, limit int) ([]common.TrainingEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT run_id, symbol, epoch, steps, train_samples, val_samples,
		loss, validation_loss, directional_accuracy, classification_accuracy,
		gradient_norm, learning_rate, reset_count, epsilon, created_at
		FROM training_events WHERE symbol = ? ORDER BY created_at DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.TrainingEvent
	for rows.Next() {
		var ev common.TrainingEvent
		if err := rows.Scan(&ev.RunID, &ev.Symbol, &ev.Epoch, &ev.Steps,
			&ev.TrainSamples, &ev.ValSamples, &ev.Loss, &ev.ValidationLoss,
			&ev.DirectionalAcc, &ev.ClassAcc, &ev.GradientNorm, &ev.LearningRate,
			&ev.ResetCount, &ev.Epsilon, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
