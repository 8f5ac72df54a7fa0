package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultRetentionDays = 30

// handlePrunePositions deletes closed positions older than the cutoff
func (s *Server) handlePrunePositions(c *gin.Context) {
	cutoff, ok := cutoffFromQuery(c)
	if !ok {
		return
	}

	deleted, err := s.db.DeleteClosedPositionsBefore(c.Request.Context(), cutoff)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prune positions"})
		return
	}
	s.logger.Info("pruned closed positions", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "cutoff": cutoff.UTC().Format(time.RFC3339)})
}

// handlePruneSignalLogs deletes signal logs older than the cutoff
func (s *Server) handlePruneSignalLogs(c *gin.Context) {
	cutoff, ok := cutoffFromQuery(c)
	if !ok {
		return
	}

	deleted, err := s.db.DeleteSignalLogsBefore(c.Request.Context(), cutoff)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prune signal logs"})
		return
	}
	s.logger.Info("pruned signal logs", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "cutoff": cutoff.UTC().Format(time.RFC3339)})
}

// handleClearErrorPositions removes position rows stuck in ERROR status
func (s *Server) handleClearErrorPositions(c *gin.Context) {
	deleted, err := s.db.DeleteErrorPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear error positions"})
		return
	}
	s.logger.Info("cleared error positions", "deleted", deleted)
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// cutoffFromQuery resolves the retention cutoff from the older_than_days
// query parameter, defaulting to 30 days
func cutoffFromQuery(c *gin.Context) (time.Time, bool) {
	days := defaultRetentionDays
	if raw := c.Query("older_than_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "older_than_days must be a non-negative integer"})
			return time.Time{}, false
		}
		days = n
	}
	return time.Now().AddDate(0, 0, -days), true
}
