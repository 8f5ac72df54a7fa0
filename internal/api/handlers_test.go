package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tv-trading-bot/internal/database"
	"tv-trading-bot/internal/logging"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("fourth request should be rejected")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("different key should not share the limit")
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)

	if !rl.Allow("k") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("k") {
		t.Fatal("second request inside the window should be rejected")
	}

	time.Sleep(30 * time.Millisecond)
	if !rl.Allow("k") {
		t.Error("request after the window expires should be allowed")
	}
}

func TestWebhookRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := &Server{
		rateLimiter: NewRateLimiter(2, time.Minute),
		logger:      logging.Default().WithComponent("api"),
	}

	router := gin.New()
	router.POST("/webhook/tradingview", s.webhookRateLimit(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook/tradingview", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("first two deliveries should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third delivery should be rate limited, got %d", codes[2])
	}
}

func TestValidateBotConfig(t *testing.T) {
	short := database.SideShort
	negCallback := -0.1
	signalID := int64(1)

	tests := []struct {
		name    string
		bot     database.BotConfig
		wantErr bool
	}{
		{
			name: "valid direct-key bot",
			bot:  database.BotConfig{Name: "b1", BotKey: "key", Symbol: "BTCUSDT", UseSignalSide: true, Qty: 1},
		},
		{
			name: "valid signal-bound fixed-side bot",
			bot:  database.BotConfig{Name: "b2", SignalID: &signalID, Symbol: "ETHUSDT", FixedSide: &short, Qty: 1},
		},
		{
			name:    "missing name",
			bot:     database.BotConfig{BotKey: "key", UseSignalSide: true},
			wantErr: true,
		},
		{
			name:    "no routing key",
			bot:     database.BotConfig{Name: "b3", UseSignalSide: true},
			wantErr: true,
		},
		{
			name:    "fixed side required",
			bot:     database.BotConfig{Name: "b4", BotKey: "key", UseSignalSide: false},
			wantErr: true,
		},
		{
			name:    "callback out of range",
			bot:     database.BotConfig{Name: "b5", BotKey: "key", UseSignalSide: true, TrailingCallbackPercent: &negCallback},
			wantErr: true,
		},
		{
			name:    "bad trading mode",
			bot:     database.BotConfig{Name: "b6", BotKey: "key", UseSignalSide: true, TradingMode: "yolo"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := validateBotConfig(&tt.bot)
			if tt.wantErr && msg == "" {
				t.Error("expected a validation error")
			}
			if !tt.wantErr && msg != "" {
				t.Errorf("unexpected validation error: %s", msg)
			}
		})
	}
}

func TestValidateBotConfigNormalizesSymbolAndMode(t *testing.T) {
	bot := database.BotConfig{Name: "b", BotKey: "key", UseSignalSide: true, Symbol: "BINANCE:BTCUSDT.P"}

	if msg := validateBotConfig(&bot); msg != "" {
		t.Fatalf("unexpected validation error: %s", msg)
	}
	if bot.Symbol != "BTCUSDT" {
		t.Errorf("symbol not normalized: %s", bot.Symbol)
	}
	if bot.TradingMode != database.TradingModeAuto {
		t.Errorf("empty trading mode should default to auto, got %s", bot.TradingMode)
	}
}

func TestParseLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limitFor := func(query string) int {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/x"+query, nil)
		return parseLimit(c, 100, 500)
	}

	if got := limitFor(""); got != 100 {
		t.Errorf("default limit = %d, want 100", got)
	}
	if got := limitFor("?limit=50"); got != 50 {
		t.Errorf("explicit limit = %d, want 50", got)
	}
	if got := limitFor("?limit=9999"); got != 500 {
		t.Errorf("capped limit = %d, want 500", got)
	}
	if got := limitFor("?limit=abc"); got != 100 {
		t.Errorf("garbage limit = %d, want default 100", got)
	}
}
