package api

import (
	"math"
	"net/http"
	"strconv"

	"tv-trading-bot/internal/database"
	"tv-trading-bot/internal/risk"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListPositions(c *gin.Context) {
	positions, err := s.db.ListOpenPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list positions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

func (s *Server) handlePositionHistory(c *gin.Context) {
	status := c.DefaultQuery("status", database.PositionStatusClosed)
	limit := parseLimit(c, 100, 500)

	positions, err := s.db.ListPositions(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list position history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

// handlePositionStopState evaluates the stop calculator for one position at
// the current mark price without persisting anything
func (s *Server) handlePositionStopState(c *gin.Context) {
	pos, ok := s.positionFromParam(c)
	if !ok {
		return
	}

	mp, err := s.client.GetMarkPrice(pos.Symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch mark price"})
		return
	}
	mark := mp.MarkPrice

	in := risk.StopInput{
		Side:                    pos.Side,
		EntryPrice:              pos.EntryPrice,
		MarkPrice:               mark,
		Quantity:                pos.Qty,
		ExtremePrice:            pos.ExtremePrice,
		LockRatioOverride:       pos.TrailCallback,
		ProfitThresholdOverride: pos.DynProfitThresholdPct,
		BaseStopPctOverride:     pos.BaseStopLossPct,
	}
	if exch, err := s.client.GetPositionBySymbol(pos.Symbol); err == nil && exch != nil {
		in.Leverage = exch.Leverage
		if exch.EntryPrice > 0 && math.Abs(exch.PositionAmt) > 0 {
			margin := exch.EntryPrice * math.Abs(exch.PositionAmt) / float64(maxInt(exch.Leverage, 1))
			if margin > 0 {
				pct := exch.UnrealizedProfit / margin * 100
				in.UnrealizedPnlPct = &pct
			}
		}
	}

	state := risk.Compute(in, s.settings.Get())
	c.JSON(http.StatusOK, gin.H{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"mark_price":  mark,
		"stop_state":  state,
	})
}

type stopConfigRequest struct {
	TrailCallback   *float64 `json:"trail_callback"`
	ProfitThreshold *float64 `json:"profit_threshold"`
	BaseStopLossPct *float64 `json:"base_stop_loss_pct"`
	StopEnabled     bool     `json:"stop_enabled"`
}

func (s *Server) handleUpdateStopConfig(c *gin.Context) {
	pos, ok := s.positionFromParam(c)
	if !ok {
		return
	}

	var req stopConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.TrailCallback != nil && (*req.TrailCallback < 0 || *req.TrailCallback > 1) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trail_callback must be within [0, 1]"})
		return
	}
	if req.BaseStopLossPct != nil && *req.BaseStopLossPct < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "base_stop_loss_pct must not be negative"})
		return
	}

	err := s.db.UpdatePositionStopConfig(c.Request.Context(), pos.ID,
		req.TrailCallback, req.ProfitThreshold, req.BaseStopLossPct, req.StopEnabled)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update stop config"})
		return
	}

	updated, err := s.db.GetPositionByID(c.Request.Context(), pos.ID)
	if err != nil || updated == nil {
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "position": updated})
}

func (s *Server) handleClosePosition(c *gin.Context) {
	pos, ok := s.positionFromParam(c)
	if !ok {
		return
	}

	if err := s.manager.ClosePosition(c.Request.Context(), pos, database.ExitReasonManualClose); err != nil {
		s.logger.Error("manual close failed", "position_id", pos.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to close position"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "position_id": pos.ID})
}

func (s *Server) handleCloseAll(c *gin.Context) {
	count, err := s.manager.CloseAllPositions(c.Request.Context(), database.ExitReasonManualCloseAll)
	if err != nil {
		s.logger.Error("close-all finished with errors", "closed", count, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "some positions failed to close",
			"closed": count,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "closed": count})
}

// handleListExternalPositions surfaces exchange positions next to what the
// database tracks so drift is visible
func (s *Server) handleListExternalPositions(c *gin.Context) {
	exchange, err := s.client.GetPositions()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch exchange positions"})
		return
	}

	tracked := make(map[string]bool)
	if open, err := s.db.ListOpenPositions(c.Request.Context()); err == nil {
		for _, p := range open {
			tracked[p.Symbol+"|"+p.Side] = true
		}
	}

	type externalPosition struct {
		Symbol           string  `json:"symbol"`
		Side             string  `json:"side"`
		Qty              float64 `json:"qty"`
		EntryPrice       float64 `json:"entry_price"`
		MarkPrice        float64 `json:"mark_price"`
		UnrealizedProfit float64 `json:"unrealized_profit"`
		Leverage         int     `json:"leverage"`
		Tracked          bool    `json:"tracked"`
	}

	out := make([]externalPosition, 0)
	for _, p := range exchange {
		if p.PositionAmt == 0 {
			continue
		}
		side := database.SideLong
		if p.PositionAmt < 0 {
			side = database.SideShort
		}
		out = append(out, externalPosition{
			Symbol:           p.Symbol,
			Side:             side,
			Qty:              math.Abs(p.PositionAmt),
			EntryPrice:       p.EntryPrice,
			MarkPrice:        p.MarkPrice,
			UnrealizedProfit: p.UnrealizedProfit,
			Leverage:         p.Leverage,
			Tracked:          tracked[p.Symbol+"|"+side],
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out, "count": len(out)})
}

// positionFromParam loads the open position named in the :id path parameter
func (s *Server) positionFromParam(c *gin.Context) (*database.Position, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid position id"})
		return nil, false
	}

	pos, err := s.db.GetPositionByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load position"})
		return nil, false
	}
	if pos == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
		return nil, false
	}
	return pos, true
}

func parseLimit(c *gin.Context, def, max int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
