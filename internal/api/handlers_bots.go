package api

import (
	"net/http"
	"strconv"

	"tv-trading-bot/internal/database"
	"tv-trading-bot/internal/trading"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListBots(c *gin.Context) {
	bots, err := s.db.ListBotConfigs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list bots"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bots": bots, "count": len(bots)})
}

func (s *Server) handleGetBot(c *gin.Context) {
	bot, ok := s.botFromParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (s *Server) handleCreateBot(c *gin.Context) {
	var bot database.BotConfig
	if err := c.ShouldBindJSON(&bot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if msg := validateBotConfig(&bot); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	if err := s.db.CreateBotConfig(c.Request.Context(), &bot); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create bot"})
		return
	}
	c.JSON(http.StatusCreated, bot)
}

func (s *Server) handleUpdateBot(c *gin.Context) {
	existing, ok := s.botFromParam(c)
	if !ok {
		return
	}

	var bot database.BotConfig
	if err := c.ShouldBindJSON(&bot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	bot.ID = existing.ID
	if msg := validateBotConfig(&bot); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	if err := s.db.UpdateBotConfig(c.Request.Context(), &bot); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update bot"})
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (s *Server) handleDeleteBot(c *gin.Context) {
	bot, ok := s.botFromParam(c)
	if !ok {
		return
	}
	if err := s.db.DeleteBotConfig(c.Request.Context(), bot.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete bot"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": bot.ID})
}

func validateBotConfig(bot *database.BotConfig) string {
	if bot.Name == "" {
		return "name is required"
	}
	if bot.BotKey == "" && bot.SignalID == nil {
		return "bot requires a bot_key or a signal_id"
	}
	bot.Symbol = trading.NormalizeSymbol(bot.Symbol)
	if !bot.UseSignalSide {
		if bot.FixedSide == nil || (*bot.FixedSide != database.SideLong && *bot.FixedSide != database.SideShort) {
			return "fixed_side must be LONG or SHORT when use_signal_side is false"
		}
	}
	if bot.Qty < 0 {
		return "qty must not be negative"
	}
	if bot.MaxInvestUSDT != nil && *bot.MaxInvestUSDT <= 0 {
		return "max_invest_usdt must be positive"
	}
	if bot.Leverage < 0 || bot.Leverage > 125 {
		return "leverage must be within [0, 125]"
	}
	if bot.TrailingCallbackPercent != nil && (*bot.TrailingCallbackPercent < 0 || *bot.TrailingCallbackPercent > 1) {
		return "trailing_callback_percent must be within [0, 1]"
	}
	if bot.BaseStopLossPct < 0 {
		return "base_stop_loss_pct must not be negative"
	}
	switch bot.TradingMode {
	case "":
		bot.TradingMode = database.TradingModeAuto
	case database.TradingModeAuto, database.TradingModeSemiAuto, database.TradingModeManual:
	default:
		return "trading_mode must be auto, semi-auto or manual"
	}
	return ""
}

func (s *Server) handleListSignalConfigs(c *gin.Context) {
	configs, err := s.db.ListSignalConfigs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list signal configs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": configs, "count": len(configs)})
}

func (s *Server) handleCreateSignalConfig(c *gin.Context) {
	var cfg database.TVSignalConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if cfg.Name == "" || cfg.SignalKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and signal_key are required"})
		return
	}

	if err := s.db.CreateSignalConfig(c.Request.Context(), &cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create signal config"})
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

func (s *Server) handleUpdateSignalConfig(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signal config id"})
		return
	}
	existing, err := s.db.GetSignalConfigByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load signal config"})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal config not found"})
		return
	}

	var cfg database.TVSignalConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	cfg.ID = id
	if cfg.Name == "" || cfg.SignalKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and signal_key are required"})
		return
	}

	if err := s.db.UpdateSignalConfig(c.Request.Context(), &cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update signal config"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleDeleteSignalConfig(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signal config id"})
		return
	}
	if err := s.db.DeleteSignalConfig(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete signal config"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

func (s *Server) handleListSignalLogs(c *gin.Context) {
	limit := parseLimit(c, 100, 500)
	logs, err := s.db.ListSignalLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list signal logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

func (s *Server) botFromParam(c *gin.Context) (*database.BotConfig, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bot id"})
		return nil, false
	}
	bot, err := s.db.GetBotConfigByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load bot"})
		return nil, false
	}
	if bot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
		return nil, false
	}
	return bot, true
}
