package signals

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"tv-trading-bot/config"
	"tv-trading-bot/internal/cache"
	"tv-trading-bot/internal/database"
	"tv-trading-bot/internal/events"
	"tv-trading-bot/internal/trading"

	"github.com/rs/zerolog"
)

// DefaultDedupeWindow suppresses identical alerts TradingView re-fires
const DefaultDedupeWindow = 60 * time.Second

// Store is the persistence surface the processor needs
type Store interface {
	CreateSignalLog(ctx context.Context, l *database.TVSignalLog) error
	MarkSignalLogProcessed(ctx context.Context, id int64, result string) error
	GetSignalConfigByKey(ctx context.Context, signalKey string) (*database.TVSignalConfig, error)
	GetBotConfigByKey(ctx context.Context, botKey string) (*database.BotConfig, error)
	GetBotConfigByID(ctx context.Context, id int64) (*database.BotConfig, error)
	ListEnabledBotsBySignalID(ctx context.Context, signalID int64) ([]*database.BotConfig, error)
	GetOpenPositionByBotAndSymbol(ctx context.Context, botID int64, symbol string) (*database.Position, error)
	CreatePendingOrder(ctx context.Context, o *database.PendingOrder) error
	GetPendingOrderByID(ctx context.Context, id int64) (*database.PendingOrder, error)
	ApprovePendingOrder(ctx context.Context, id int64) (bool, error)
	MarkPendingOrderExecuted(ctx context.Context, id int64, positionID *int64) error
	MarkPendingOrderFailed(ctx context.Context, id int64, errMsg string) error
}

// Executor places and reconciles orders on behalf of the processor
type Executor interface {
	OpenPosition(ctx context.Context, bot *database.BotConfig, signalLog *database.TVSignalLog, side string, qty float64) (*database.Position, error)
	ClosePosition(ctx context.Context, pos *database.Position, exitReason string) error
	ApplyTargetPosition(ctx context.Context, bot *database.BotConfig, signalLog *database.TVSignalLog, target float64) (trading.ReconcileAction, error)
	QuantityForBot(bot *database.BotConfig, signalQty *float64) (float64, error)
}

// Processor turns verified webhook payloads into order activity
type Processor struct {
	store    Store
	executor Executor
	cache    *cache.CacheService
	bus      *events.EventBus
	cfg      config.WebhookConfig
	logger   zerolog.Logger

	// In-memory dedupe fallback for when Redis is down.
	seenMu sync.Mutex
	seen   map[string]time.Time
}

// NewProcessor creates a signal processor
func NewProcessor(store Store, executor Executor, cacheService *cache.CacheService, bus *events.EventBus, cfg config.WebhookConfig, logger zerolog.Logger) *Processor {
	return &Processor{
		store:    store,
		executor: executor,
		cache:    cacheService,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With().Str("component", "signal_processor").Logger(),
		seen:     make(map[string]time.Time),
	}
}

// Process handles one webhook payload end to end. The secret gates
// everything; past it, a signal log row is always written and its
// process_result records what happened.
func (p *Processor) Process(ctx context.Context, payload *WebhookPayload, rawBody string) (string, error) {
	if p.cfg.Secret == "" || subtle.ConstantTimeCompare([]byte(payload.Secret), []byte(p.cfg.Secret)) != 1 {
		return "", ErrInvalidSecret
	}
	if payload.BotKey == "" && payload.SignalKey == "" {
		return "", ErrNoRoute
	}

	symbol := trading.NormalizeSymbol(payload.Symbol)

	log := &database.TVSignalLog{
		Symbol:       symbol,
		Side:         strings.ToLower(strings.TrimSpace(payload.Side)),
		PositionSize: payload.PositionSize,
		RawPayload:   &rawBody,
	}
	if payload.Qty != nil {
		log.Qty = *payload.Qty
	}
	if payload.BotKey != "" {
		k := payload.BotKey
		log.BotKey = &k
	}
	if err := p.store.CreateSignalLog(ctx, log); err != nil {
		return "", fmt.Errorf("failed to persist signal log: %w", err)
	}

	result := p.process(ctx, payload, symbol, log)
	if err := p.store.MarkSignalLogProcessed(ctx, log.ID, result); err != nil {
		p.logger.Error().Err(err).Int64("signal_log_id", log.ID).Msg("failed to mark signal log processed")
	}
	return result, nil
}

func (p *Processor) process(ctx context.Context, payload *WebhookPayload, symbol string, log *database.TVSignalLog) string {
	if p.isDuplicate(ctx, payload, symbol) {
		p.logger.Info().Str("symbol", symbol).Str("side", log.Side).Msg("duplicate signal suppressed")
		if p.bus != nil {
			p.bus.PublishSignalRejected(symbol, "duplicate")
		}
		return "duplicate"
	}

	if p.bus != nil {
		p.bus.PublishSignalReceived(log.ID, symbol, log.Side, log.Qty)
	}

	bots, routeErr := p.resolveBots(ctx, payload, log)
	if routeErr != "" {
		if p.bus != nil {
			p.bus.PublishSignalRejected(symbol, routeErr)
		}
		return routeErr
	}

	var results []string
	for _, bot := range bots {
		outcome := p.processForBot(ctx, bot, payload, symbol, log)
		results = append(results, fmt.Sprintf("%s: %s", bot.Name, outcome))
	}
	return strings.Join(results, "; ")
}

// resolveBots routes the payload to its target bots. The second return
// value is a non-empty rejection result when routing fails.
func (p *Processor) resolveBots(ctx context.Context, payload *WebhookPayload, log *database.TVSignalLog) ([]*database.BotConfig, string) {
	if payload.SignalKey != "" {
		sig, err := p.store.GetSignalConfigByKey(ctx, payload.SignalKey)
		if err != nil {
			p.logger.Error().Err(err).Msg("signal config lookup failed")
			return nil, "error: signal lookup failed"
		}
		if sig == nil || !sig.Enabled {
			return nil, "rejected: unknown or disabled signal_key"
		}
		log.SignalID = &sig.ID
		bots, err := p.store.ListEnabledBotsBySignalID(ctx, sig.ID)
		if err != nil {
			p.logger.Error().Err(err).Msg("bot fan-out lookup failed")
			return nil, "error: bot lookup failed"
		}
		if len(bots) == 0 {
			return nil, "rejected: no enabled bots for signal"
		}
		return bots, ""
	}

	bot, err := p.store.GetBotConfigByKey(ctx, payload.BotKey)
	if err != nil {
		p.logger.Error().Err(err).Msg("bot config lookup failed")
		return nil, "error: bot lookup failed"
	}
	if bot == nil || !bot.Enabled {
		return nil, "rejected: unknown or disabled bot_key"
	}
	return []*database.BotConfig{bot}, ""
}

// processForBot applies one payload to one bot and describes the outcome
func (p *Processor) processForBot(ctx context.Context, bot *database.BotConfig, payload *WebhookPayload, symbol string, log *database.TVSignalLog) string {
	botSymbol := bot.Symbol
	if botSymbol == "" {
		botSymbol = symbol
	}
	if botSymbol != symbol {
		return "skipped: symbol mismatch"
	}

	switch bot.TradingMode {
	case database.TradingModeManual:
		return "recorded: manual mode"
	case database.TradingModeSemiAuto:
		return p.queuePendingOrder(ctx, bot, payload, symbol, log)
	}

	return p.execute(ctx, bot, payload, symbol, log)
}

// execute runs a payload against a bot immediately (auto mode and
// approved pending orders take this path).
func (p *Processor) execute(ctx context.Context, bot *database.BotConfig, payload *WebhookPayload, symbol string, log *database.TVSignalLog) string {
	// Strategy alerts carry a signed target position.
	if payload.PositionSize != nil {
		action, err := p.executor.ApplyTargetPosition(ctx, bot, log, *payload.PositionSize)
		if err != nil {
			p.logger.Error().Err(err).Str("bot", bot.Name).Msg("position reconciliation failed")
			return fmt.Sprintf("error: %v", err)
		}
		return string(action)
	}

	side, err := p.effectiveSide(bot, payload)
	if err != nil {
		return fmt.Sprintf("rejected: %v", err)
	}

	if side == sideExit {
		pos, err := p.store.GetOpenPositionByBotAndSymbol(ctx, bot.ID, symbol)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		if pos == nil {
			return "no_position"
		}
		if !pos.TVSignalCloseEnabled {
			return "skipped: signal close disabled"
		}
		if err := p.executor.ClosePosition(ctx, pos, database.ExitReasonTVExit); err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return "closed"
	}

	// An open signal against an existing same-side position is a no-op;
	// an opposite-side position is reversed through a signed target.
	existing, err := p.store.GetOpenPositionByBotAndSymbol(ctx, bot.ID, symbol)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	if existing != nil && existing.Side == side {
		return "already_open"
	}

	qty, err := p.executor.QuantityForBot(bot, payload.Qty)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}

	if existing != nil {
		target := qty
		if side == database.SideShort {
			target = -qty
		}
		action, err := p.executor.ApplyTargetPosition(ctx, bot, log, target)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(action)
	}

	if _, err := p.executor.OpenPosition(ctx, bot, log, side, qty); err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return "opened"
}

// queuePendingOrder records a semi-auto signal for operator approval
func (p *Processor) queuePendingOrder(ctx context.Context, bot *database.BotConfig, payload *WebhookPayload, symbol string, log *database.TVSignalLog) string {
	side, err := p.effectiveSide(bot, payload)
	if err != nil && payload.PositionSize == nil {
		return fmt.Sprintf("rejected: %v", err)
	}

	pending := &database.PendingOrder{
		BotID:           bot.ID,
		TVSignalLogID:   log.ID,
		Symbol:          symbol,
		Side:            side,
		Qty:             payload.Qty,
		PositionSize:    payload.PositionSize,
		IsPositionBased: payload.PositionSize != nil,
		Status:          database.PendingOrderStatusPending,
	}

	// Pre-compute what an approval would execute, so the operator sees it.
	if payload.PositionSize == nil && side != sideExit {
		if qty, qerr := p.executor.QuantityForBot(bot, payload.Qty); qerr == nil {
			pending.CalculatedQty = &qty
		}
		s := side
		pending.CalculatedSide = &s
	}

	if err := p.store.CreatePendingOrder(ctx, pending); err != nil {
		p.logger.Error().Err(err).Str("bot", bot.Name).Msg("failed to queue pending order")
		return fmt.Sprintf("error: %v", err)
	}

	p.logger.Info().Int64("pending_order_id", pending.ID).Str("bot", bot.Name).
		Str("symbol", symbol).Str("side", side).Msg("signal queued for approval")
	if p.bus != nil {
		p.bus.PublishPendingOrder(pending.ID, bot.ID, symbol, side)
	}
	return fmt.Sprintf("pending_approval: %d", pending.ID)
}

// effectiveSide resolves the trade side from the payload and the bot's
// fixed-side override.
func (p *Processor) effectiveSide(bot *database.BotConfig, payload *WebhookPayload) (string, error) {
	side, err := NormalizeSide(payload.Side)
	if err != nil {
		return "", err
	}
	if side != sideExit && !bot.UseSignalSide && bot.FixedSide != nil {
		return *bot.FixedSide, nil
	}
	return side, nil
}

// isDuplicate reports whether an identical payload was seen inside the
// dedupe window. Redis backs the check; a local map covers Redis outages.
func (p *Processor) isDuplicate(ctx context.Context, payload *WebhookPayload, symbol string) bool {
	window := DefaultDedupeWindow
	if p.cfg.DedupeWindowSec > 0 {
		window = time.Duration(p.cfg.DedupeWindowSec) * time.Second
	}
	fp := fingerprint(payload, symbol)

	if p.cache != nil {
		fresh, err := p.cache.SetNX(ctx, cache.SignalFingerprintKey(fp), "1", window)
		if err == nil {
			return !fresh
		}
		p.logger.Warn().Err(err).Msg("dedupe cache unavailable, using in-memory window")
	}

	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	now := time.Now()
	for k, t := range p.seen {
		if now.Sub(t) > window {
			delete(p.seen, k)
		}
	}
	if t, ok := p.seen[fp]; ok && now.Sub(t) <= window {
		return true
	}
	p.seen[fp] = now
	return false
}

// fingerprint hashes the routing-relevant payload fields
func fingerprint(payload *WebhookPayload, symbol string) string {
	parts := []string{
		payload.SignalKey,
		payload.BotKey,
		symbol,
		strings.ToLower(payload.Side),
		floatPart(payload.Qty),
		floatPart(payload.PositionSize),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

func floatPart(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%g", *v)
}
