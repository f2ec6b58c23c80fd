package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neurotrade/pkg/logger"
	"github.com/neurotrade/pkg/neural"
	"github.com/neurotrade/pkg/validator"
)

func (s *TrainingService) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealthz)
	r.GET("/healthz", s.handleHealthz)
	r.GET("/readyz", s.handleReadyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/api/v1/ml/metrics", s.handleMLMetrics)
	r.GET("/api/v1/ml/training-history", s.handleTrainingHistory)
	r.GET("/api/v1/ml/resets", s.handleResetLog)
	r.POST("/api/v1/ml/checkpoint/save", s.handleCheckpointSave)
	r.POST("/api/v1/ml/checkpoint/load", s.handleCheckpointLoad)
	r.GET("/api/v1/model/parameters", s.handleModelParameters)
	r.GET("/api/v1/model/snapshots", s.handleModelSnapshots)
	r.POST("/api/v1/model/retrain", s.handleModelRetrain)

	r.GET("/ws/training", func(c *gin.Context) {
		s.hub.Serve(c.Writer, c.Request)
	})
	return r
}

func (s *TrainingService) startHTTPServer() {
	s.httpServer = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.setupRouter(),
		ReadTimeout:  s.cfg.HTTPReadTimeout,
		WriteTimeout: s.cfg.HTTPWriteTimeout,
		IdleTimeout:  s.cfg.HTTPIdleTimeout,
	}
	logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("http server failed")
	}
}

func (s *TrainingService) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "training-engine",
		"uptime":  time.Since(s.startTime).String(),
	})
}

func (s *TrainingService) handleReadyz(c *gin.Context) {
	if s.chDB == nil || s.pgDB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "reason": "database not connected"})
		return
	}
	if err := s.chDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "reason": "clickhouse unreachable"})
		return
	}
	if err := s.pgDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "reason": "postgres unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// handleMLMetrics reports per-symbol engine status plus the last recorded
// epoch summary.
func (s *TrainingService) handleMLMetrics(c *gin.Context) {
	s.enginesMu.RLock()
	defer s.enginesMu.RUnlock()

	out := make(map[string]gin.H, len(s.engines))
	for symbol, engine := range s.engines {
		entry := gin.H{"status": engine.Status()}
		if event, ok := s.lastEpoch[symbol]; ok {
			entry["last_epoch"] = event
		}
		out[symbol] = entry
	}
	c.JSON(http.StatusOK, gin.H{
		"symbols":    out,
		"ws_clients": s.hub.ClientCount(),
		"uptime":     time.Since(s.startTime).String(),
	})
}

func (s *TrainingService) handleTrainingHistory(c *gin.Context) {
	symbol := c.Query("symbol")
	if err := validator.ValidateSymbol(symbol); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	if s.sink == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event store not available"})
		return
	}
	history, err := s.sink.TrainingHistory(symbol, limit)
	if err != nil {
		logger.Error().Err(err).Str("symbol", symbol).Msg("training history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "events": history, "count": len(history)})
}

func (s *TrainingService) handleResetLog(c *gin.Context) {
	symbol := c.Query("symbol")
	if err := validator.ValidateSymbol(symbol); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	engine, err := s.engineFor(symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "resets": engine.ResetLog()})
}

// handleModelParameters returns a deep-copy weight snapshot; the caller can
// never mutate live training state through this endpoint.
func (s *TrainingService) handleModelParameters(c *gin.Context) {
	symbol := c.Query("symbol")
	if err := validator.ValidateSymbol(symbol); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	engine, err := s.engineFor(symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	params, err := engine.GetParameters()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":     symbol,
		"network":    engine.NetworkConfig(),
		"parameters": params,
	})
}

func (s *TrainingService) handleModelSnapshots(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model store not available"})
		return
	}
	snaps, err := s.store.Snapshots()
	if err != nil {
		logger.Error().Err(err).Msg("snapshot query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": snaps, "count": len(snaps)})
}

type retrainRequest struct {
	Symbol       string `json:"symbol" binding:"required"`
	Architecture string `json:"architecture"`
}

// handleModelRetrain discards a symbol's model and reinitializes it from
// scratch, optionally on a different architecture. Buffered experiences are
// kept so the fresh model retrains on the same history.
func (s *TrainingService) handleModelRetrain(c *gin.Context) {
	var req retrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validator.ValidateSymbol(req.Symbol); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	engine, err := s.engineFor(req.Symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	arch := s.cfg.Architecture
	if req.Architecture != "" {
		arch = neural.Architecture(req.Architecture)
	}
	if err := engine.InitializeNetwork(arch, s.cfg.InputFeatures, s.cfg.OutputSize); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.enginesMu.Lock()
	delete(s.lastEpoch, req.Symbol)
	s.resetsSeen[req.Symbol] = 0
	s.enginesMu.Unlock()

	status := engine.Status()
	logger.Info().
		Str("symbol", req.Symbol).
		Str("architecture", string(arch)).
		Str("run_id", status.RunID).
		Msg("model reinitialized via retrain endpoint")
	c.JSON(http.StatusOK, gin.H{
		"symbol":       req.Symbol,
		"run_id":       status.RunID,
		"architecture": string(arch),
		"buffer_len":   status.BufferLen,
	})
}

type checkpointRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

func (s *TrainingService) handleCheckpointSave(c *gin.Context) {
	var req checkpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	engine, err := s.engineFor(req.Symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	path := s.checkpointPath(req.Symbol)
	if err := engine.SaveModelCheckpoint(path); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": req.Symbol, "path": path})
}

func (s *TrainingService) handleCheckpointLoad(c *gin.Context) {
	var req checkpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	engine, err := s.engineFor(req.Symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	path := s.checkpointPath(req.Symbol)
	if err := engine.LoadModelCheckpoint(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": req.Symbol, "status": engine.Status()})
}
