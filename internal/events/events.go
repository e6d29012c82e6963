package events

import (
	"context"
	"sync"
	"time"

	"merchant-actions-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventTransactionIngested is emitted when transaction records are stored
	EventTransactionIngested EventType = "transaction.ingested"
	// EventActionsEvaluated is emitted when void/capture eligibility is evaluated
	EventActionsEvaluated EventType = "actions.evaluated"
	// EventSessionEstablished is emitted when a deep-link handoff establishes a session
	EventSessionEstablished EventType = "session.established"
	// EventDeepLinkFailed is emitted when a deep-link parse or token exchange fails
	EventDeepLinkFailed EventType = "deeplink.failed"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// TransactionIngestedData contains data for transaction ingested events.
type TransactionIngestedData struct {
	Count int
}

// ActionsEvaluatedData contains data for eligibility evaluation events.
type ActionsEvaluatedData struct {
	Actions     models.TransactionActions
	EvaluatedAt time.Time
}

// SessionEstablishedData contains data for session established events.
type SessionEstablishedData struct {
	SessionID  string
	MerchantID string
}

// DeepLinkFailedData contains data for deep-link failure events.
type DeepLinkFailedData struct {
	Reason string
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if !m.enabled {
		return
	}

	m.mu.RLock()
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// Handlers run asynchronously so publishing never blocks a request.
	for _, handler := range handlers {
		go func(h Handler) {
			if err := h(ctx, event); err != nil {
				_ = err
			}
		}(handler)
	}
}

// PublishTransactionIngested publishes a transaction ingested event.
func (m *Manager) PublishTransactionIngested(ctx context.Context, count int) {
	m.Publish(ctx, EventTransactionIngested, TransactionIngestedData{Count: count})
}

// PublishActionsEvaluated publishes an eligibility evaluation event.
func (m *Manager) PublishActionsEvaluated(ctx context.Context, actions models.TransactionActions) {
	m.Publish(ctx, EventActionsEvaluated, ActionsEvaluatedData{
		Actions:     actions,
		EvaluatedAt: time.Now(),
	})
}

// PublishSessionEstablished publishes a session established event.
func (m *Manager) PublishSessionEstablished(ctx context.Context, sessionID, merchantID string) {
	m.Publish(ctx, EventSessionEstablished, SessionEstablishedData{
		SessionID:  sessionID,
		MerchantID: merchantID,
	})
}

// PublishDeepLinkFailed publishes a deep-link failure event.
func (m *Manager) PublishDeepLinkFailed(ctx context.Context, reason string) {
	m.Publish(ctx, EventDeepLinkFailed, DeepLinkFailedData{Reason: reason})
}

// Shutdown shuts down the event manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
}
