package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"tv-trading-bot/internal/logging"
	"tv-trading-bot/internal/signals"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodySize = 64 * 1024

// handleWebhook receives TradingView alert deliveries
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodySize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	var payload signals.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}

	result, err := s.processor.Process(c.Request.Context(), &payload, string(body))
	if err != nil {
		switch {
		case errors.Is(err, signals.ErrInvalidSecret):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		case errors.Is(err, signals.ErrNoRoute):
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload carries neither bot_key nor signal_key"})
		case errors.Is(err, signals.ErrUnknownSide):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized side"})
		default:
			logging.FromContext(c.Request.Context()).Error("webhook processing failed", "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "signal processing failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"result": result,
	})
}

// handleHealth reports service liveness and dependency health
func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	dbStatus := "ok"

	if s.db != nil {
		if err := s.db.HealthCheck(c.Request.Context()); err != nil {
			status = "degraded"
			dbStatus = "unreachable"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":         status,
		"database":       dbStatus,
		"worker_running": s.worker != nil && s.worker.IsRunning(),
		"ws_clients":     s.wsHub.GetClientCount(),
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}
