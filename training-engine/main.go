package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/segmentio/kafka-go"

	"github.com/neurotrade/pkg/common"
	"github.com/neurotrade/pkg/logger"
	"github.com/neurotrade/pkg/metrics"
	"github.com/neurotrade/pkg/neural"
	"github.com/neurotrade/pkg/validator"
)

// TrainingService owns one online-learning engine per symbol and wires them
// to Kafka (experience intake, event publishing), ClickHouse (event history),
// Postgres (weight persistence) and the HTTP/websocket API.
type TrainingService struct {
	cfg ServiceConfig

	chDB  *sql.DB
	pgDB  *sql.DB
	store *ModelStore
	sink  *EventSink

	kafkaReader *kafka.Reader
	kafkaWriter *kafka.Writer

	enginesMu    sync.RWMutex
	engines      map[string]*neural.Engine
	lastEpoch    map[string]common.TrainingEvent
	resetsSeen   map[string]int
	lastAccuracy map[string]float64

	hub        *Hub
	httpServer *http.Server

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

func NewTrainingService(cfg ServiceConfig) (*TrainingService, error) {
	chDB, err := sql.Open("clickhouse", cfg.ClickHouseDSN)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := chDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	sink, err := NewEventSink(chDB)
	if err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	pgDB, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pgDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := NewModelStore(pgDB, cfg.MinTrustAccuracy)
	if err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.ExperienceTopic,
		GroupID:        cfg.GroupID,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxAttempts:    10,
	})
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.EventsTopic,
		Balancer: &kafka.LeastBytes{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &TrainingService{
		cfg:          cfg,
		chDB:         chDB,
		pgDB:         pgDB,
		store:        store,
		sink:         sink,
		kafkaReader:  reader,
		kafkaWriter:  writer,
		engines:      make(map[string]*neural.Engine),
		lastEpoch:    make(map[string]common.TrainingEvent),
		resetsSeen:   make(map[string]int),
		lastAccuracy: make(map[string]float64),
		hub:          NewHub(),
		ctx:          ctx,
		cancel:       cancel,
		startTime:    time.Now(),
	}

	if err := os.MkdirAll(cfg.CheckpointDir, 0o755); err != nil {
		cancel()
		return nil, fmt.Errorf("checkpoint dir: %w", err)
	}
	for _, symbol := range cfg.Symbols {
		if _, err := svc.engineFor(symbol); err != nil {
			cancel()
			return nil, fmt.Errorf("engine for %s: %w", symbol, err)
		}
	}
	return svc, nil
}

// engineFor returns the engine for a symbol, creating it on first use. A
// trusted persisted model is restored; anything else starts fresh.
func (s *TrainingService) engineFor(symbol string) (*neural.Engine, error) {
	s.enginesMu.RLock()
	engine, ok := s.engines[symbol]
	s.enginesMu.RUnlock()
	if ok {
		return engine, nil
	}

	s.enginesMu.Lock()
	defer s.enginesMu.Unlock()
	if engine, ok = s.engines[symbol]; ok {
		return engine, nil
	}

	opts := s.cfg.engineOptions()
	opts.Logger = logger.Component("engine").With().Str("symbol", symbol).Logger()
	engine = neural.NewEngine(opts)

	restored := false
	if s.store != nil {
		if data, err := s.store.Load(symbol); err == nil {
			path := s.checkpointPath(symbol)
			if err := os.WriteFile(path, data, 0o644); err == nil {
				if err := engine.LoadModelCheckpoint(path); err == nil {
					restored = true
					logger.Info().Str("symbol", symbol).Msg("restored persisted model")
				} else {
					logger.Warn().Err(err).Str("symbol", symbol).Msg("persisted model unusable, starting fresh")
				}
			}
		} else if !errors.Is(err, sql.ErrNoRows) && !errors.Is(err, ErrModelUntrusted) {
			logger.Error().Err(err).Str("symbol", symbol).Msg("model load query failed")
		}
	}
	if !restored {
		if err := engine.InitializeNetwork(s.cfg.Architecture, s.cfg.InputFeatures, s.cfg.OutputSize); err != nil {
			return nil, err
		}
	}

	s.engines[symbol] = engine
	return engine, nil
}

func (s *TrainingService) checkpointPath(symbol string) string {
	return filepath.Join(s.cfg.CheckpointDir, symbol+".json")
}

// consumeExperiences is the Kafka intake loop: validate, buffer, commit.
func (s *TrainingService) consumeExperiences(ctx context.Context) {
	logger.Info().
		Str("topic", s.cfg.ExperienceTopic).
		Strs("brokers", s.cfg.KafkaBrokers).
		Msg("experience consumer started")

	for {
		m, err := s.kafkaReader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info().Msg("experience consumer stopped")
				return
			}
			logger.Error().Err(err).Msg("kafka fetch failed")
			time.Sleep(time.Second)
			continue
		}

		var payload common.ExperiencePayload
		if err := json.Unmarshal(m.Value, &payload); err != nil {
			logger.Warn().Err(err).Msg("malformed experience payload, skipping")
		} else if err := s.ingestExperience(payload); err != nil {
			logger.Warn().Err(err).Str("symbol", payload.Symbol).Msg("experience rejected")
		}

		if err := s.kafkaReader.CommitMessages(ctx, m); err != nil {
			logger.Error().Err(err).Msg("kafka commit failed")
		}
	}
}

func (s *TrainingService) ingestExperience(p common.ExperiencePayload) error {
	if err := validator.ValidateSymbol(p.Symbol); err != nil {
		return err
	}
	if err := validator.ValidateTimestamp(p.Timestamp); err != nil {
		return err
	}
	if err := validator.ValidateAction(p.Action); err != nil {
		return err
	}
	if err := validator.ValidateFeatures(p.Features); err != nil {
		return err
	}
	if err := validator.ValidateReward(p.Reward); err != nil {
		return err
	}
	if len(p.Features) != s.cfg.InputFeatures {
		return fmt.Errorf("expected %d features, got %d", s.cfg.InputFeatures, len(p.Features))
	}

	engine, err := s.engineFor(p.Symbol)
	if err != nil {
		return err
	}
	engine.AddExperience(neural.Experience{
		State:  p.Features,
		Action: p.Action,
		Reward: p.Reward,
	})
	metrics.ExperiencesIngestedTotal.WithLabelValues(p.Symbol).Inc()
	return nil
}

// trainingLoop runs one epoch per symbol every TrainInterval, for every
// engine whose buffer has enough data.
func (s *TrainingService) trainingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("training loop stopped")
			return
		case <-ticker.C:
			for _, symbol := range s.symbols() {
				s.trainSymbol(ctx, symbol)
			}
		}
	}
}

func (s *TrainingService) symbols() []string {
	s.enginesMu.RLock()
	defer s.enginesMu.RUnlock()
	out := make([]string, 0, len(s.engines))
	for symbol := range s.engines {
		out = append(out, symbol)
	}
	return out
}

func (s *TrainingService) trainSymbol(ctx context.Context, symbol string) {
	engine, err := s.engineFor(symbol)
	if err != nil {
		logger.Error().Err(err).Str("symbol", symbol).Msg("engine unavailable")
		return
	}

	status := engine.Status()
	if status.Halted {
		logger.Error().Str("symbol", symbol).Int("resets", status.ResetCount).
			Msg("engine halted by watchdog, operator intervention required")
		return
	}
	if status.BufferLen < s.cfg.MinBufferForEpoch {
		return
	}
	if engine.ShouldStopEarly() {
		logger.Debug().Str("symbol", symbol).Msg("early stopping active, skipping epoch")
		return
	}

	stepMetrics, err := engine.TrainEpoch(ctx)
	if err != nil {
		if errors.Is(err, neural.ErrResetBudgetExceeded) {
			logger.Error().Str("symbol", symbol).Msg("training halted: reset budget exceeded")
		} else if !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Str("symbol", symbol).Msg("epoch failed")
		}
		s.publishResets(symbol, engine)
		return
	}
	if len(stepMetrics) == 0 {
		return
	}

	event := s.summarizeEpoch(symbol, engine, stepMetrics)
	s.recordEpoch(symbol, engine, event)
	s.publishResets(symbol, engine)
	s.persistModel(symbol, engine, event)
}

func (s *TrainingService) summarizeEpoch(symbol string, engine *neural.Engine, steps []neural.TrainingMetrics) common.TrainingEvent {
	status := engine.Status()
	last := steps[len(steps)-1]

	lossSum, dirSum, classSum, normSum := 0.0, 0.0, 0.0, 0.0
	for _, m := range steps {
		lossSum += m.Loss
		dirSum += m.DirectionalAccuracy
		classSum += m.ClassificationAccuracy
		normSum += m.GradientNorm
		metrics.TrainStepsTotal.WithLabelValues(symbol).Inc()
		metrics.GradientNorm.WithLabelValues(symbol).Observe(m.GradientNorm)
	}
	n := float64(len(steps))

	trainSamples := status.BufferLen - int(float64(status.BufferLen)*engine.TrainingConfigSnapshot().ValidationSplit)
	event := common.TrainingEvent{
		RunID:          status.RunID,
		Symbol:         symbol,
		Epoch:          status.Epoch,
		Steps:          len(steps),
		TrainSamples:   trainSamples,
		ValSamples:     status.BufferLen - trainSamples,
		Loss:           lossSum / n,
		ValidationLoss: status.BestValidationLoss,
		DirectionalAcc: dirSum / n,
		ClassAcc:       classSum / n,
		GradientNorm:   normSum / n,
		LearningRate:   last.LearningRate,
		ResetCount:     status.ResetCount,
		Epsilon:        last.Epsilon,
		CreatedAt:      time.Now().UTC(),
	}

	metrics.TrainingLoss.WithLabelValues(symbol).Set(event.Loss)
	metrics.LearningRate.WithLabelValues(symbol).Set(event.LearningRate)
	return event
}

func (s *TrainingService) recordEpoch(symbol string, engine *neural.Engine, event common.TrainingEvent) {
	s.enginesMu.Lock()
	s.lastEpoch[symbol] = event
	s.lastAccuracy[symbol] = event.DirectionalAcc
	s.enginesMu.Unlock()

	if s.sink != nil {
		s.sink.RecordEpoch(event)
	}
	s.hub.Broadcast(event)
	s.publishEvent(event)

	logger.Info().
		Str("symbol", symbol).
		Int("epoch", event.Epoch).
		Float64("loss", event.Loss).
		Float64("validation_loss", event.ValidationLoss).
		Float64("directional_accuracy", event.DirectionalAcc).
		Float64("lr", event.LearningRate).
		Msg("epoch recorded")
}

func (s *TrainingService) publishEvent(event common.TrainingEvent) {
	if s.kafkaWriter == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error().Err(err).Msg("training event marshal failed")
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := s.kafkaWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Symbol),
		Value: data,
	}); err != nil {
		logger.Error().Err(err).Str("symbol", event.Symbol).Msg("training event publish failed")
	}
}

// publishResets persists watchdog rollbacks that happened since the last
// inspection of this symbol's reset log.
func (s *TrainingService) publishResets(symbol string, engine *neural.Engine) {
	log := engine.ResetLog()

	s.enginesMu.Lock()
	seen := s.resetsSeen[symbol]
	s.resetsSeen[symbol] = len(log)
	s.enginesMu.Unlock()

	for _, ev := range log[seen:] {
		metrics.InstabilityResetsTotal.WithLabelValues(symbol, ev.Cause).Inc()
		if s.sink != nil {
			s.sink.RecordReset(common.ResetEventRecord{
				ID:           ev.ID,
				Symbol:       symbol,
				Step:         ev.Step,
				Cause:        ev.Cause,
				Loss:         ev.Loss,
				GradientNorm: ev.GradientNorm,
				NaNCount:     ev.NaNCount,
				InfCount:     ev.InfCount,
				LRFactor:     ev.LRFactor,
				CreatedAt:    ev.At,
			})
		}
		logger.Warn().
			Str("symbol", symbol).
			Str("cause", ev.Cause).
			Int("step", ev.Step).
			Float64("lr_factor", ev.LRFactor).
			Msg("instability reset recorded")
	}
}

// persistModel checkpoints the engine to disk and mirrors the document into
// Postgres together with the gating accuracy.
func (s *TrainingService) persistModel(symbol string, engine *neural.Engine, event common.TrainingEvent) {
	path := s.checkpointPath(symbol)
	if err := engine.SaveModelCheckpoint(path); err != nil {
		logger.Error().Err(err).Str("symbol", symbol).Msg("checkpoint save failed")
		return
	}
	if s.store == nil {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("symbol", symbol).Msg("checkpoint read-back failed")
		return
	}
	status := engine.Status()
	snap := common.ModelSnapshot{
		Symbol:       symbol,
		Architecture: string(status.Architecture),
		Step:         status.Step,
		BestLoss:     status.BestValidationLoss,
		LearningRate: status.LearningRate,
		ResetCount:   status.ResetCount,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.store.Save(snap, status.RunID, event.DirectionalAcc, data); err != nil {
		logger.Error().Err(err).Str("symbol", symbol).Msg("model persist failed")
	}
}

// Run starts all loops and blocks until SIGINT/SIGTERM.
func (s *TrainingService) Run() {
	go s.startHTTPServer()
	go s.consumeExperiences(s.ctx)
	go s.trainingLoop(s.ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutdown signal received")
	s.Shutdown()
}

// Shutdown stops the loops, flushes checkpoints and closes all connections.
func (s *TrainingService) Shutdown() {
	s.cancel()

	for _, symbol := range s.symbols() {
		engine, err := s.engineFor(symbol)
		if err != nil {
			continue
		}
		engine.RequestStop()
		if err := engine.SaveModelCheckpoint(s.checkpointPath(symbol)); err != nil {
			logger.Error().Err(err).Str("symbol", symbol).Msg("shutdown checkpoint failed")
		}
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("http shutdown failed")
		}
	}
	s.hub.Close()

	if s.kafkaReader != nil {
		s.kafkaReader.Close()
	}
	if s.kafkaWriter != nil {
		s.kafkaWriter.Close()
	}
	if s.chDB != nil {
		s.chDB.Close()
	}
	if s.pgDB != nil {
		s.pgDB.Close()
	}
	logger.Info().Msg("training engine stopped")
}

func main() {
	_ = godotenv.Load()
	logger.InitLogger("training-engine")

	cfg := loadServiceConfig()
	svc, err := NewTrainingService(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start training engine")
	}

	logger.Info().
		Str("port", cfg.Port).
		Strs("symbols", cfg.Symbols).
		Str("architecture", string(cfg.Architecture)).
		Msg("training engine starting")
	svc.Run()
}
