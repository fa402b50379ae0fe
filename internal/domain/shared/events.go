// Package shared contains common domain types, errors, and events
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven parts of the service.
// Each event represents something significant that happened in the attempt lifecycle.
const (
	// Attempt lifecycle events
	EventAttemptCreated       EventType = "attempt.created"
	EventAttemptStatusChanged EventType = "attempt.status_changed"
	EventAttemptRemoved       EventType = "attempt.removed"

	// Cascade events
	EventAttemptDeclinedByCascade EventType = "attempt.declined_by_cascade"

	// Side-effect events
	EventCreditStatusPushed     EventType = "credit.status_pushed"
	EventGradeOverridden        EventType = "grades.overridden"
	EventGradeOverrideUndone    EventType = "grades.override_undone"
	EventCertificateInvalidated EventType = "certificates.invalidated"
	EventStatusEmailSent        EventType = "notification.status_email_sent"
	EventStatusEmailFailed      EventType = "notification.status_email_failed"

	// Sweep events
	EventAttemptTimedOutBySweep EventType = "attempt.timed_out_by_sweep"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Attempt Events
// ═══════════════════════════════════════════════════════════════════════════

// AttemptCreatedEvent is emitted when a new exam attempt is created.
// The Status field carries the status the attempt was created in - usually
// "created", but onboarding remediation statuses are possible when the vendor
// reported an onboarding profile issue during registration.
type AttemptCreatedEvent struct {
	BaseEvent
	ExamID            string `json:"exam_id"`
	UserID            string `json:"user_id"`
	AttemptCode       string `json:"attempt_code"`
	Status            string `json:"status"`
	TakingAsProctored bool   `json:"taking_as_proctored"`
	Resumed           bool   `json:"resumed"`
}

// NewAttemptCreatedEvent creates a new AttemptCreatedEvent.
func NewAttemptCreatedEvent(attemptID, examID, userID, attemptCode, status string, takingAsProctored, resumed bool) *AttemptCreatedEvent {
	return &AttemptCreatedEvent{
		BaseEvent:         NewBaseEvent(EventAttemptCreated, attemptID),
		ExamID:            examID,
		UserID:            userID,
		AttemptCode:       attemptCode,
		Status:            status,
		TakingAsProctored: takingAsProctored,
		Resumed:           resumed,
	}
}

// Payload implements Event interface.
func (e *AttemptCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"attempt_id":          e.AggregateId,
		"exam_id":             e.ExamID,
		"user_id":             e.UserID,
		"attempt_code":        e.AttemptCode,
		"status":              e.Status,
		"taking_as_proctored": e.TakingAsProctored,
		"resumed":             e.Resumed,
	}
}

// AttemptStatusChangedEvent is emitted after the status funnel persists
// a transition. Cache invalidation and other read-side reactions hang off it.
type AttemptStatusChangedEvent struct {
	BaseEvent
	AttemptCode string `json:"attempt_code"`
	ExamID      string `json:"exam_id"`
	UserID      string `json:"user_id"`
	FromStatus  string `json:"from_status"`
	ToStatus    string `json:"to_status"`
	Cascaded    bool   `json:"cascaded"`
}

// NewAttemptStatusChangedEvent creates a new AttemptStatusChangedEvent.
func NewAttemptStatusChangedEvent(attemptID, attemptCode, examID, userID, fromStatus, toStatus string, cascaded bool) *AttemptStatusChangedEvent {
	return &AttemptStatusChangedEvent{
		BaseEvent:   NewBaseEvent(EventAttemptStatusChanged, attemptID),
		AttemptCode: attemptCode,
		ExamID:      examID,
		UserID:      userID,
		FromStatus:  fromStatus,
		ToStatus:    toStatus,
		Cascaded:    cascaded,
	}
}

// Payload implements Event interface.
func (e *AttemptStatusChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"attempt_id":   e.AggregateId,
		"attempt_code": e.AttemptCode,
		"exam_id":      e.ExamID,
		"user_id":      e.UserID,
		"from_status":  e.FromStatus,
		"to_status":    e.ToStatus,
		"cascaded":     e.Cascaded,
	}
}

// AttemptRemovedEvent is emitted when an attempt is hard-deleted.
type AttemptRemovedEvent struct {
	BaseEvent
	AttemptCode string `json:"attempt_code"`
	ExamID      string `json:"exam_id"`
	UserID      string `json:"user_id"`
}

// NewAttemptRemovedEvent creates a new AttemptRemovedEvent.
func NewAttemptRemovedEvent(attemptID, attemptCode, examID, userID string) *AttemptRemovedEvent {
	return &AttemptRemovedEvent{
		BaseEvent:   NewBaseEvent(EventAttemptRemoved, attemptID),
		AttemptCode: attemptCode,
		ExamID:      examID,
		UserID:      userID,
	}
}

// Payload implements Event interface.
func (e *AttemptRemovedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"attempt_id":   e.AggregateId,
		"attempt_code": e.AttemptCode,
		"exam_id":      e.ExamID,
		"user_id":      e.UserID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Side-effect markers
// ═══════════════════════════════════════════════════════════════════════════

// SideEffectEvent marks a downstream side effect (credit push, grade
// override, certificate invalidation, email) applied for an attempt.
// The attempt ID is the aggregate; no further payload is carried.
type SideEffectEvent struct {
	BaseEvent
}

// NewSideEffectEvent creates a side-effect marker event.
func NewSideEffectEvent(eventType EventType, attemptID string) *SideEffectEvent {
	return &SideEffectEvent{BaseEvent: NewBaseEvent(eventType, attemptID)}
}

// Payload implements Event interface.
func (e *SideEffectEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"attempt_id": e.AggregateId,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
