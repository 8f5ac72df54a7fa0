package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalReceived   EventType = "SIGNAL_RECEIVED"
	EventSignalRejected   EventType = "SIGNAL_REJECTED"
	EventPositionOpened   EventType = "POSITION_OPENED"
	EventPositionClosed   EventType = "POSITION_CLOSED"
	EventPositionError    EventType = "POSITION_ERROR"
	EventPositionUpdate   EventType = "POSITION_UPDATE"
	EventStopTriggered    EventType = "STOP_TRIGGERED"
	EventStopModeChanged  EventType = "STOP_MODE_CHANGED"
	EventPortfolioTrigger EventType = "PORTFOLIO_TRIGGER"
	EventPendingOrder     EventType = "PENDING_ORDER"
	EventWorkerStarted    EventType = "WORKER_STARTED"
	EventWorkerStopped    EventType = "WORKER_STOPPED"
	EventError            EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignalReceived publishes a signal received event
func (eb *EventBus) PublishSignalReceived(signalLogID int64, symbol, side string, qty float64) {
	eb.Publish(Event{
		Type: EventSignalReceived,
		Data: map[string]interface{}{
			"signal_log_id": signalLogID,
			"symbol":        symbol,
			"side":          side,
			"qty":           qty,
		},
	})
}

// PublishSignalRejected publishes a signal rejected event
func (eb *EventBus) PublishSignalRejected(symbol, reason string) {
	eb.Publish(Event{
		Type: EventSignalRejected,
		Data: map[string]interface{}{
			"symbol": symbol,
			"reason": reason,
		},
	})
}

// PublishPositionOpened publishes a position opened event
func (eb *EventBus) PublishPositionOpened(positionID int64, symbol, side string, entryPrice, qty float64) {
	eb.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"position_id": positionID,
			"symbol":      symbol,
			"side":        side,
			"entry_price": entryPrice,
			"qty":         qty,
		},
	})
}

// PublishPositionClosed publishes a position closed event
func (eb *EventBus) PublishPositionClosed(positionID int64, symbol, side string, exitPrice float64, exitReason string) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"position_id": positionID,
			"symbol":      symbol,
			"side":        side,
			"exit_price":  exitPrice,
			"exit_reason": exitReason,
		},
	})
}

// PublishStopTriggered publishes a stop trigger event
func (eb *EventBus) PublishStopTriggered(positionID int64, symbol, side, mode string, stopPrice, markPrice float64) {
	eb.Publish(Event{
		Type: EventStopTriggered,
		Data: map[string]interface{}{
			"position_id": positionID,
			"symbol":      symbol,
			"side":        side,
			"mode":        mode,
			"stop_price":  stopPrice,
			"mark_price":  markPrice,
		},
	})
}

// PublishStopModeChanged publishes a stop mode transition event
func (eb *EventBus) PublishStopModeChanged(positionID int64, symbol, prevMode, newMode string, stopPrice float64) {
	eb.Publish(Event{
		Type: EventStopModeChanged,
		Data: map[string]interface{}{
			"position_id": positionID,
			"symbol":      symbol,
			"prev_mode":   prevMode,
			"new_mode":    newMode,
			"stop_price":  stopPrice,
		},
	})
}

// PublishPortfolioTrigger publishes a portfolio trailing stop trigger event
func (eb *EventBus) PublishPortfolioTrigger(totalPnl, maxPnl, threshold float64, closed int) {
	eb.Publish(Event{
		Type: EventPortfolioTrigger,
		Data: map[string]interface{}{
			"total_pnl": totalPnl,
			"max_pnl":   maxPnl,
			"threshold": threshold,
			"closed":    closed,
		},
	})
}

// PublishPendingOrder publishes a pending order created event
func (eb *EventBus) PublishPendingOrder(pendingOrderID, botID int64, symbol, side string) {
	eb.Publish(Event{
		Type: EventPendingOrder,
		Data: map[string]interface{}{
			"pending_order_id": pendingOrderID,
			"bot_id":           botID,
			"symbol":           symbol,
			"side":             side,
		},
	})
}

// PublishPositionUpdate publishes a live position state event
func (eb *EventBus) PublishPositionUpdate(positionID int64, symbol, side string, markPrice, stopPrice float64, mode string) {
	eb.Publish(Event{
		Type: EventPositionUpdate,
		Data: map[string]interface{}{
			"position_id": positionID,
			"symbol":      symbol,
			"side":        side,
			"mark_price":  markPrice,
			"stop_price":  stopPrice,
			"mode":        mode,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
