package api

import (
	"errors"
	"net/http"
	"strconv"

	"tv-trading-bot/internal/signals"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListPendingOrders(c *gin.Context) {
	status := c.Query("status")
	limit := parseLimit(c, 100, 500)

	orders, err := s.db.ListPendingOrders(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pending orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// handleApprovePendingOrder approves and immediately executes a queued
// semi-auto order
func (s *Server) handleApprovePendingOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pending order id"})
		return
	}

	pos, err := s.processor.ApproveAndExecute(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, signals.ErrPendingNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "pending order not found"})
		case errors.Is(err, signals.ErrPendingNotOpen):
			c.JSON(http.StatusConflict, gin.H{"error": "pending order is no longer approvable"})
		case errors.Is(err, signals.ErrPendingBotGone):
			c.JSON(http.StatusConflict, gin.H{"error": "bot for this order no longer exists"})
		default:
			s.logger.Error("pending order execution failed", "pending_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "order execution failed"})
		}
		return
	}

	resp := gin.H{"status": "executed", "pending_id": id}
	if pos != nil {
		resp["position"] = pos
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRejectPendingOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pending order id"})
		return
	}

	rejected, err := s.db.RejectPendingOrder(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reject pending order"})
		return
	}
	if !rejected {
		c.JSON(http.StatusConflict, gin.H{"error": "pending order is no longer rejectable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected", "pending_id": id})
}
