// Package signals processes TradingView webhook alerts: secret
// verification, normalization, duplicate suppression and fan-out to the
// configured bots in order-based or position-based mode.
package signals

import (
	"errors"
	"strings"

	"tv-trading-bot/internal/database"
)

// WebhookPayload is the alert body TradingView posts to the webhook.
// Either bot_key (single bot) or signal_key (fan-out to subscribed bots)
// routes the alert.
type WebhookPayload struct {
	Secret       string   `json:"secret"`
	BotKey       string   `json:"bot_key,omitempty"`
	SignalKey    string   `json:"signal_key,omitempty"`
	Symbol       string   `json:"symbol"`
	Side         string   `json:"side,omitempty"`
	Qty          *float64 `json:"qty,omitempty"`
	PositionSize *float64 `json:"position_size,omitempty"` // signed target, strategy alerts
}

var (
	ErrInvalidSecret = errors.New("invalid webhook secret")
	ErrNoRoute       = errors.New("payload carries neither bot_key nor signal_key")
	ErrUnknownSide   = errors.New("unrecognized signal side")
)

// sideExit marks flatten/close alerts after normalization
const sideExit = "EXIT"

// NormalizeSide maps the TradingView vocabulary onto position sides.
// "buy"/"long" open long, "sell"/"short" open short, "exit"/"close"/
// "flat" flatten.
func NormalizeSide(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return database.SideLong, nil
	case "sell", "short":
		return database.SideShort, nil
	case "exit", "close", "flat":
		return sideExit, nil
	default:
		return "", ErrUnknownSide
	}
}
