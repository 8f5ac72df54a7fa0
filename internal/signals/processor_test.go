package signals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"tv-trading-bot/config"
	"tv-trading-bot/internal/database"
	"tv-trading-bot/internal/trading"

	"github.com/rs/zerolog"
)

type stubStore struct {
	nextID        int64
	logs          map[int64]*database.TVSignalLog
	processed     map[int64]string
	signalConfigs map[string]*database.TVSignalConfig
	botsByKey     map[string]*database.BotConfig
	botsByID      map[int64]*database.BotConfig
	botsBySignal  map[int64][]*database.BotConfig
	open          map[string]*database.Position
	pending       map[int64]*database.PendingOrder
}

func newStubStore() *stubStore {
	return &stubStore{
		logs:          make(map[int64]*database.TVSignalLog),
		processed:     make(map[int64]string),
		signalConfigs: make(map[string]*database.TVSignalConfig),
		botsByKey:     make(map[string]*database.BotConfig),
		botsByID:      make(map[int64]*database.BotConfig),
		botsBySignal:  make(map[int64][]*database.BotConfig),
		open:          make(map[string]*database.Position),
		pending:       make(map[int64]*database.PendingOrder),
	}
}

func (s *stubStore) addBot(b *database.BotConfig) {
	s.botsByKey[b.BotKey] = b
	s.botsByID[b.ID] = b
	if b.SignalID != nil {
		s.botsBySignal[*b.SignalID] = append(s.botsBySignal[*b.SignalID], b)
	}
}

func posKey(botID int64, symbol string) string {
	return fmt.Sprintf("%d|%s", botID, symbol)
}

func (s *stubStore) CreateSignalLog(ctx context.Context, l *database.TVSignalLog) error {
	s.nextID++
	l.ID = s.nextID
	s.logs[l.ID] = l
	return nil
}

func (s *stubStore) MarkSignalLogProcessed(ctx context.Context, id int64, result string) error {
	s.processed[id] = result
	return nil
}

func (s *stubStore) GetSignalConfigByKey(ctx context.Context, key string) (*database.TVSignalConfig, error) {
	return s.signalConfigs[key], nil
}

func (s *stubStore) GetBotConfigByKey(ctx context.Context, key string) (*database.BotConfig, error) {
	return s.botsByKey[key], nil
}

func (s *stubStore) GetBotConfigByID(ctx context.Context, id int64) (*database.BotConfig, error) {
	return s.botsByID[id], nil
}

func (s *stubStore) ListEnabledBotsBySignalID(ctx context.Context, signalID int64) ([]*database.BotConfig, error) {
	var out []*database.BotConfig
	for _, b := range s.botsBySignal[signalID] {
		if b.Enabled {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *stubStore) GetOpenPositionByBotAndSymbol(ctx context.Context, botID int64, symbol string) (*database.Position, error) {
	return s.open[posKey(botID, symbol)], nil
}

func (s *stubStore) CreatePendingOrder(ctx context.Context, o *database.PendingOrder) error {
	s.nextID++
	o.ID = s.nextID
	s.pending[o.ID] = o
	return nil
}

func (s *stubStore) GetPendingOrderByID(ctx context.Context, id int64) (*database.PendingOrder, error) {
	return s.pending[id], nil
}

func (s *stubStore) ApprovePendingOrder(ctx context.Context, id int64) (bool, error) {
	o, ok := s.pending[id]
	if !ok || o.Status != database.PendingOrderStatusPending {
		return false, nil
	}
	o.Status = database.PendingOrderStatusApproved
	return true, nil
}

func (s *stubStore) MarkPendingOrderExecuted(ctx context.Context, id int64, positionID *int64) error {
	s.pending[id].Status = database.PendingOrderStatusExecuted
	s.pending[id].PositionID = positionID
	return nil
}

func (s *stubStore) MarkPendingOrderFailed(ctx context.Context, id int64, errMsg string) error {
	s.pending[id].Status = database.PendingOrderStatusFailed
	s.pending[id].ErrorMessage = &errMsg
	return nil
}

type openCall struct {
	botID int64
	side  string
	qty   float64
}

type stubExecutor struct {
	opened  []openCall
	closed  []int64
	targets []float64
	openErr error
}

func (e *stubExecutor) OpenPosition(ctx context.Context, bot *database.BotConfig, log *database.TVSignalLog, side string, qty float64) (*database.Position, error) {
	if e.openErr != nil {
		return nil, e.openErr
	}
	e.opened = append(e.opened, openCall{botID: bot.ID, side: side, qty: qty})
	return &database.Position{ID: int64(len(e.opened)), Symbol: bot.Symbol, Side: side, Qty: qty, Status: database.PositionStatusOpen}, nil
}

func (e *stubExecutor) ClosePosition(ctx context.Context, pos *database.Position, exitReason string) error {
	e.closed = append(e.closed, pos.ID)
	return nil
}

func (e *stubExecutor) ApplyTargetPosition(ctx context.Context, bot *database.BotConfig, log *database.TVSignalLog, target float64) (trading.ReconcileAction, error) {
	e.targets = append(e.targets, target)
	return trading.ActionOpened, nil
}

func (e *stubExecutor) QuantityForBot(bot *database.BotConfig, signalQty *float64) (float64, error) {
	if bot.Qty > 0 {
		return bot.Qty, nil
	}
	if signalQty != nil && *signalQty > 0 {
		return *signalQty, nil
	}
	return 0, errors.New("no quantity configured")
}

func newTestProcessor(store *stubStore, exec *stubExecutor) *Processor {
	cfg := config.WebhookConfig{Secret: "s3cret", DedupeWindowSec: 60}
	return NewProcessor(store, exec, nil, nil, cfg, zerolog.Nop())
}

func autoBot(id int64, key, symbol string) *database.BotConfig {
	return &database.BotConfig{
		ID:            id,
		Name:          fmt.Sprintf("bot-%d", id),
		BotKey:        key,
		Enabled:       true,
		Symbol:        symbol,
		Qty:           1,
		UseSignalSide: true,
		TradingMode:   database.TradingModeAuto,
	}
}

func TestProcessRejectsBadSecret(t *testing.T) {
	p := newTestProcessor(newStubStore(), &stubExecutor{})

	_, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "wrong", BotKey: "k", Symbol: "BTCUSDT", Side: "buy",
	}, "{}")
	if !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("err = %v, want ErrInvalidSecret", err)
	}
}

func TestProcessRejectsMissingRoute(t *testing.T) {
	p := newTestProcessor(newStubStore(), &stubExecutor{})

	_, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "s3cret", Symbol: "BTCUSDT", Side: "buy",
	}, "{}")
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("err = %v, want ErrNoRoute", err)
	}
}

func TestProcessOpensViaBotKey(t *testing.T) {
	store := newStubStore()
	store.addBot(autoBot(1, "alpha", "BTCUSDT"))
	exec := &stubExecutor{}
	p := newTestProcessor(store, exec)

	result, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "s3cret", BotKey: "alpha", Symbol: "BINANCE:BTCUSDT.P", Side: "buy",
	}, "{}")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(result, "opened") {
		t.Errorf("result = %q, want opened", result)
	}
	if len(exec.opened) != 1 || exec.opened[0].side != database.SideLong || exec.opened[0].qty != 1 {
		t.Errorf("open calls = %+v", exec.opened)
	}
	// The signal log was persisted and marked with the outcome.
	if len(store.logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(store.logs))
	}
	for id := range store.logs {
		if store.logs[id].Symbol != "BTCUSDT" {
			t.Errorf("logged symbol = %q, want normalized BTCUSDT", store.logs[id].Symbol)
		}
		if !strings.Contains(store.processed[id], "opened") {
			t.Errorf("process result = %q", store.processed[id])
		}
	}
}

func TestProcessSuppressesDuplicateWithinWindow(t *testing.T) {
	store := newStubStore()
	store.addBot(autoBot(1, "alpha", "BTCUSDT"))
	exec := &stubExecutor{}
	p := newTestProcessor(store, exec)

	payload := &WebhookPayload{Secret: "s3cret", BotKey: "alpha", Symbol: "BTCUSDT", Side: "buy"}
	if _, err := p.Process(context.Background(), payload, "{}"); err != nil {
		t.Fatalf("first: %v", err)
	}
	result, err := p.Process(context.Background(), payload, "{}")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if result != "duplicate" {
		t.Errorf("result = %q, want duplicate", result)
	}
	if len(exec.opened) != 1 {
		t.Errorf("open calls = %d, want 1", len(exec.opened))
	}
	// Both deliveries are in the audit log.
	if len(store.logs) != 2 {
		t.Errorf("logs = %d, want 2", len(store.logs))
	}
}

func TestProcessExitClosesOpenPosition(t *testing.T) {
	store := newStubStore()
	store.addBot(autoBot(1, "alpha", "BTCUSDT"))
	store.open[posKey(1, "BTCUSDT")] = &database.Position{
		ID: 9, Symbol: "BTCUSDT", Side: database.SideLong, Status: database.PositionStatusOpen,
		TVSignalCloseEnabled: true,
	}
	exec := &stubExecutor{}
	p := newTestProcessor(store, exec)

	result, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "s3cret", BotKey: "alpha", Symbol: "BTCUSDT", Side: "exit",
	}, "{}")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(result, "closed") {
		t.Errorf("result = %q, want closed", result)
	}
	if len(exec.closed) != 1 || exec.closed[0] != 9 {
		t.Errorf("closed = %v, want [9]", exec.closed)
	}
}

func TestProcessExitHonorsSignalCloseToggle(t *testing.T) {
	store := newStubStore()
	store.addBot(autoBot(1, "alpha", "BTCUSDT"))
	store.open[posKey(1, "BTCUSDT")] = &database.Position{
		ID: 9, Symbol: "BTCUSDT", Side: database.SideLong, Status: database.PositionStatusOpen,
		TVSignalCloseEnabled: false,
	}
	exec := &stubExecutor{}
	p := newTestProcessor(store, exec)

	result, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "s3cret", BotKey: "alpha", Symbol: "BTCUSDT", Side: "exit",
	}, "{}")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(result, "signal close disabled") {
		t.Errorf("result = %q", result)
	}
	if len(exec.closed) != 0 {
		t.Error("close must be skipped when the toggle is off")
	}
}

func TestProcessSameSideSignalIsNoOp(t *testing.T) {
	store := newStubStore()
	store.addBot(autoBot(1, "alpha", "BTCUSDT"))
	store.open[posKey(1, "BTCUSDT")] = &database.Position{
		ID: 9, Symbol: "BTCUSDT", Side: database.SideLong, Status: database.PositionStatusOpen,
	}
	exec := &stubExecutor{}
	p := newTestProcessor(store, exec)

	result, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "s3cret", BotKey: "alpha", Symbol: "BTCUSDT", Side: "buy",
	}, "{}")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(result, "already_open") {
		t.Errorf("result = %q, want already_open", result)
	}
	if len(exec.opened) != 0 {
		t.Error("no order must be placed for a same-side repeat")
	}
}

func TestProcessOppositeSideReversesThroughTarget(t *testing.T) {
	store := newStubStore()
	store.addBot(autoBot(1, "alpha", "BTCUSDT"))
	store.open[posKey(1, "BTCUSDT")] = &database.Position{
		ID: 9, Symbol: "BTCUSDT", Side: database.SideLong, Qty: 1, Status: database.PositionStatusOpen,
	}
	exec := &stubExecutor{}
	p := newTestProcessor(store, exec)

	_, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "s3cret", BotKey: "alpha", Symbol: "BTCUSDT", Side: "sell",
	}, "{}")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(exec.targets) != 1 || exec.targets[0] != -1 {
		t.Errorf("targets = %v, want [-1]", exec.targets)
	}
}

func TestProcessSignalKeyFansOutToEnabledBots(t *testing.T) {
	store := newStubStore()
	sigID := int64(5)
	store.signalConfigs["trend"] = &database.TVSignalConfig{ID: sigID, SignalKey: "trend", Enabled: true}

	b1 := autoBot(1, "a", "BTCUSDT")
	b1.SignalID = &sigID
	b2 := autoBot(2, "b", "BTCUSDT")
	b2.SignalID = &sigID
	b3 := autoBot(3, "c", "BTCUSDT")
	b3.SignalID = &sigID
	b3.Enabled = false
	store.addBot(b1)
	store.addBot(b2)
	store.addBot(b3)

	exec := &stubExecutor{}
	p := newTestProcessor(store, exec)

	result, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "s3cret", SignalKey: "trend", Symbol: "BTCUSDT", Side: "buy",
	}, "{}")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(exec.opened) != 2 {
		t.Fatalf("open calls = %d, want 2 (disabled bot skipped)", len(exec.opened))
	}
	if !strings.Contains(result, "bot-1") || !strings.Contains(result, "bot-2") {
		t.Errorf("result = %q", result)
	}
}

func TestProcessUnknownSignalKeyRejected(t *testing.T) {
	p := newTestProcessor(newStubStore(), &stubExecutor{})

	result, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "s3cret", SignalKey: "ghost", Symbol: "BTCUSDT", Side: "buy",
	}, "{}")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(result, "rejected") {
		t.Errorf("result = %q, want rejection", result)
	}
}

func TestProcessFixedSideOverridesSignal(t *testing.T) {
	store := newStubStore()
	bot := autoBot(1, "alpha", "BTCUSDT")
	bot.UseSignalSide = false
	short := database.SideShort
	bot.FixedSide = &short
	store.addBot(bot)
	exec := &stubExecutor{}
	p := newTestProcessor(store, exec)

	_, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "s3cret", BotKey: "alpha", Symbol: "BTCUSDT", Side: "buy",
	}, "{}")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(exec.opened) != 1 || exec.opened[0].side != database.SideShort {
		t.Errorf("open calls = %+v, want fixed SHORT", exec.opened)
	}
}

func TestProcessPositionBasedUsesTarget(t *testing.T) {
	store := newStubStore()
	store.addBot(autoBot(1, "alpha", "BTCUSDT"))
	exec := &stubExecutor{}
	p := newTestProcessor(store, exec)

	target := -2.5
	_, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "s3cret", BotKey: "alpha", Symbol: "BTCUSDT", Side: "sell", PositionSize: &target,
	}, "{}")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(exec.targets) != 1 || exec.targets[0] != -2.5 {
		t.Errorf("targets = %v, want [-2.5]", exec.targets)
	}
	if len(exec.opened) != 0 {
		t.Error("position-based path must not call OpenPosition directly")
	}
}

func TestProcessSemiAutoQueuesPendingOrder(t *testing.T) {
	store := newStubStore()
	bot := autoBot(1, "alpha", "BTCUSDT")
	bot.TradingMode = database.TradingModeSemiAuto
	store.addBot(bot)
	exec := &stubExecutor{}
	p := newTestProcessor(store, exec)

	result, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "s3cret", BotKey: "alpha", Symbol: "BTCUSDT", Side: "buy",
	}, "{}")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(result, "pending_approval") {
		t.Fatalf("result = %q, want pending_approval", result)
	}
	if len(exec.opened) != 0 {
		t.Fatal("semi-auto must not execute immediately")
	}

	var pending *database.PendingOrder
	for _, o := range store.pending {
		pending = o
	}
	if pending == nil {
		t.Fatal("pending order missing")
	}
	if pending.Status != database.PendingOrderStatusPending {
		t.Errorf("status = %s, want PENDING", pending.Status)
	}
	if pending.CalculatedQty == nil || *pending.CalculatedQty != 1 {
		t.Errorf("calculated qty = %v, want 1", pending.CalculatedQty)
	}
	if pending.CalculatedSide == nil || *pending.CalculatedSide != database.SideLong {
		t.Errorf("calculated side = %v", pending.CalculatedSide)
	}
}

func TestApproveAndExecuteRunsQueuedOrder(t *testing.T) {
	store := newStubStore()
	bot := autoBot(1, "alpha", "BTCUSDT")
	bot.TradingMode = database.TradingModeSemiAuto
	store.addBot(bot)
	exec := &stubExecutor{}
	p := newTestProcessor(store, exec)

	if _, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "s3cret", BotKey: "alpha", Symbol: "BTCUSDT", Side: "buy",
	}, "{}"); err != nil {
		t.Fatalf("process: %v", err)
	}

	var pendingID int64
	for id := range store.pending {
		pendingID = id
	}

	pos, err := p.ApproveAndExecute(context.Background(), pendingID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if pos == nil {
		t.Fatal("expected an opened position")
	}
	if len(exec.opened) != 1 {
		t.Fatalf("open calls = %d, want 1", len(exec.opened))
	}
	if store.pending[pendingID].Status != database.PendingOrderStatusExecuted {
		t.Errorf("status = %s, want EXECUTED", store.pending[pendingID].Status)
	}
	if store.pending[pendingID].PositionID == nil {
		t.Error("executed pending order must link the position")
	}

	// A second approval attempt finds the order no longer pending.
	if _, err := p.ApproveAndExecute(context.Background(), pendingID); !errors.Is(err, ErrPendingNotOpen) {
		t.Errorf("second approve err = %v, want ErrPendingNotOpen", err)
	}
}

func TestApproveAndExecuteRecordsFailure(t *testing.T) {
	store := newStubStore()
	bot := autoBot(1, "alpha", "BTCUSDT")
	bot.TradingMode = database.TradingModeSemiAuto
	store.addBot(bot)
	exec := &stubExecutor{openErr: errors.New("exchange down")}
	p := newTestProcessor(store, exec)

	if _, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "s3cret", BotKey: "alpha", Symbol: "BTCUSDT", Side: "buy",
	}, "{}"); err != nil {
		t.Fatalf("process: %v", err)
	}
	var pendingID int64
	for id := range store.pending {
		pendingID = id
	}

	if _, err := p.ApproveAndExecute(context.Background(), pendingID); err == nil {
		t.Fatal("expected execution failure to surface")
	}
	o := store.pending[pendingID]
	if o.Status != database.PendingOrderStatusFailed {
		t.Errorf("status = %s, want FAILED", o.Status)
	}
	if o.ErrorMessage == nil || !strings.Contains(*o.ErrorMessage, "exchange down") {
		t.Errorf("error message = %v", o.ErrorMessage)
	}
}

func TestProcessSkipsSymbolMismatch(t *testing.T) {
	store := newStubStore()
	store.addBot(autoBot(1, "alpha", "ETHUSDT"))
	exec := &stubExecutor{}
	p := newTestProcessor(store, exec)

	result, err := p.Process(context.Background(), &WebhookPayload{
		Secret: "s3cret", BotKey: "alpha", Symbol: "BTCUSDT", Side: "buy",
	}, "{}")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(result, "symbol mismatch") {
		t.Errorf("result = %q", result)
	}
	if len(exec.opened) != 0 {
		t.Error("mismatched symbol must not trade")
	}
}

func TestNormalizeSideVocabulary(t *testing.T) {
	cases := map[string]string{
		"buy": database.SideLong, "LONG": database.SideLong,
		"sell": database.SideShort, "Short": database.SideShort,
		"exit": sideExit, "close": sideExit, "FLAT": sideExit,
	}
	for in, want := range cases {
		got, err := NormalizeSide(in)
		if err != nil || got != want {
			t.Errorf("NormalizeSide(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := NormalizeSide("hodl"); !errors.Is(err, ErrUnknownSide) {
		t.Error("unknown side must error")
	}
}
