package api

import (
	"net/http"

	"tv-trading-bot/internal/database"
	"tv-trading-bot/internal/risk"
	"tv-trading-bot/internal/trading"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleGetTrailingSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.settings.Get())
}

func (s *Server) handleUpdateTrailingSettings(c *gin.Context) {
	var req risk.TrailingSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := s.settings.Update(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.settings.Get())
}

// Symbol overrides apply stop parameters to exchange positions that were
// not opened by a bot.

func (s *Server) handleListSymbolOverrides(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"overrides": s.settings.SymbolOverrides()})
}

func (s *Server) handleSetSymbolOverride(c *gin.Context) {
	symbol := trading.NormalizeSymbol(c.Param("symbol"))

	var ov risk.SymbolOverride
	if err := c.ShouldBindJSON(&ov); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := s.settings.SetSymbolOverride(symbol, ov); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "override": ov})
}

func (s *Server) handleDeleteSymbolOverride(c *gin.Context) {
	symbol := trading.NormalizeSymbol(c.Param("symbol"))
	s.settings.DeleteSymbolOverride(symbol)
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "symbol": symbol})
}

func (s *Server) handleGetPortfolioConfig(c *gin.Context) {
	cfg, err := s.db.GetPortfolioConfig(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load portfolio config"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type portfolioConfigRequest struct {
	Enabled   bool     `json:"enabled"`
	TargetPnl *float64 `json:"target_pnl"`
	LockRatio *float64 `json:"lock_ratio"`
}

func (s *Server) handleUpdatePortfolioConfig(c *gin.Context) {
	var req portfolioConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Enabled && (req.TargetPnl == nil || *req.TargetPnl <= 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_pnl must be positive when enabled"})
		return
	}
	if req.LockRatio != nil && (*req.LockRatio <= 0 || *req.LockRatio > 1) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lock_ratio must be within (0, 1]"})
		return
	}

	cfg := &database.PortfolioTrailingConfig{
		ID:        1,
		Enabled:   req.Enabled,
		TargetPnl: req.TargetPnl,
		LockRatio: req.LockRatio,
	}
	if err := s.db.UpdatePortfolioConfig(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update portfolio config"})
		return
	}
	if !req.Enabled && s.portfolio != nil {
		s.portfolio.ResetWatermark()
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handlePortfolioStatus(c *gin.Context) {
	status, err := s.portfolio.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute portfolio status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleWorkerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running":  s.worker.IsRunning(),
		"settings": s.settings.Get(),
	})
}

func (s *Server) handleWorkerStart(c *gin.Context) {
	if err := s.worker.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleWorkerStop(c *gin.Context) {
	if err := s.worker.Stop(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// handleWorkerForceCheck runs one monitoring cycle immediately
func (s *Server) handleWorkerForceCheck(c *gin.Context) {
	s.worker.RunCycle(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "cycle completed"})
}
