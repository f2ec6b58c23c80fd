package main

import (
	"database/sql"
	"errors"
	"time"

	"github.com/neurotrade/pkg/common"
	"github.com/neurotrade/pkg/logger"
	"github.com/neurotrade/pkg/metrics"
)

// ErrModelUntrusted marks a persisted model whose recorded accuracy is below
// the trust threshold; callers fall back to a fresh initialization.
var ErrModelUntrusted = errors.New("persisted model below trust threshold")

// ModelStore persists full checkpoint documents to Postgres, keyed by symbol.
// Only the latest row per symbol matters; older rows are kept for audit.
type ModelStore struct {
	db               *sql.DB
	minTrustAccuracy float64
}

func NewModelStore(db *sql.DB, minTrustAccuracy float64) (*ModelStore, error) {
	s := &ModelStore{db: db, minTrustAccuracy: minTrustAccuracy}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ModelStore) ensureSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS model_checkpoints (
		id           BIGSERIAL PRIMARY KEY,
		symbol       TEXT NOT NULL,
		run_id       TEXT NOT NULL,
		architecture TEXT NOT NULL,
		step         BIGINT NOT NULL,
		best_loss    DOUBLE PRECISION NOT NULL,
		learning_rate DOUBLE PRECISION NOT NULL,
		reset_count  INT NOT NULL,
		accuracy     DOUBLE PRECISION NOT NULL,
		checkpoint   JSONB NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_model_checkpoints_symbol
		ON model_checkpoints (symbol, updated_at DESC)`)
	return err
}

// Save inserts a new checkpoint row for the symbol.
func (s *ModelStore) Save(snap common.ModelSnapshot, runID string, accuracy float64, checkpoint []byte) error {
	start := time.Now()
	_, err := s.db.Exec(`INSERT INTO model_checkpoints
		(symbol, run_id, architecture, step, best_loss, learning_rate, reset_count, accuracy, checkpoint)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		snap.Symbol, runID, snap.Architecture, snap.Step, snap.BestLoss,
		snap.LearningRate, snap.ResetCount, accuracy, checkpoint)
	metrics.DatabaseQueriesDuration.WithLabelValues("model_save").Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	logger.Info().
		Str("symbol", snap.Symbol).
		Int("step", snap.Step).
		Float64("accuracy", accuracy).
		Msg("model checkpoint persisted")
	return nil
}

// Load returns the latest checkpoint document for the symbol. A row whose
// accuracy is below the trust threshold returns ErrModelUntrusted; a missing
// row returns sql.ErrNoRows.
func (s *ModelStore) Load(symbol string) ([]byte, error) {
	start := time.Now()
	var checkpoint []byte
	var accuracy float64
	err := s.db.QueryRow(`SELECT checkpoint, accuracy FROM model_checkpoints
		WHERE symbol = $1 ORDER BY updated_at DESC LIMIT 1`, symbol).
		Scan(&checkpoint, &accuracy)
	metrics.DatabaseQueriesDuration.WithLabelValues("model_load").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if accuracy < s.minTrustAccuracy {
		logger.Warn().
			Str("symbol", symbol).
			Float64("accuracy", accuracy).
			Float64("threshold", s.minTrustAccuracy).
			Msg("persisted model below trust threshold, ignoring")
		return nil, ErrModelUntrusted
	}
	return checkpoint, nil
}

// Snapshots lists the latest persisted model per symbol.
func (s *ModelStore) Snapshots() ([]common.ModelSnapshot, error) {
	rows, err := s.db.Query(`SELECT DISTINCT ON (symbol)
		symbol, architecture, step, best_loss, learning_rate, reset_count, updated_at
		FROM model_checkpoints ORDER BY symbol, updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.ModelSnapshot
	for rows.Next() {
		var snap common.ModelSnapshot
		if err := rows.Scan(&snap.Symbol, &snap.Architecture, &snap.Step,
			&snap.BestLoss, &snap.LearningRate, &snap.ResetCount, &snap.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
