package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Events are published after the unit of work that
// produced them has committed, never before.
const (
	// Progression events
	EventLessonCompleted EventType = "progression.lesson_completed"
	EventModuleCompleted EventType = "progression.module_completed"

	// Ledger events
	EventXPAwarded EventType = "ledger.xp_awarded"

	// Quiz events
	EventQuizSubmitted EventType = "quiz.submitted"

	// Badge events
	EventBadgeAwarded EventType = "badge.awarded"

	// Challenge events
	EventChallengeJoined    EventType = "challenge.joined"
	EventChallengeCompleted EventType = "challenge.completed"

	// Community events
	EventCommunityActivity EventType = "community.activity_recorded"

	// Content events
	EventContentPublished EventType = "content.published"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	// For learner events this is the learner id.
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

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }

// NewBaseEvent creates a new base event stamped with the given time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
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
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// LessonCompletedEvent is emitted when a learner completes a lesson.
type LessonCompletedEvent struct {
	BaseEvent
	LessonID         string `json:"lesson_id"`
	ModuleID         string `json:"module_id"`
	UnlockedLessonID string `json:"unlocked_lesson_id,omitempty"`
}

func (e LessonCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"lesson_id":          e.LessonID,
		"module_id":          e.ModuleID,
		"unlocked_lesson_id": e.UnlockedLessonID,
	}
}

func NewLessonCompletedEvent(learnerID, lessonID, moduleID, unlocked string, at time.Time) LessonCompletedEvent {
	return LessonCompletedEvent{
		BaseEvent:        NewBaseEvent(EventLessonCompleted, learnerID, at),
		LessonID:         lessonID,
		ModuleID:         moduleID,
		UnlockedLessonID: unlocked,
	}
}

// ModuleCompletedEvent is emitted once when the last lesson of a module is completed.
type ModuleCompletedEvent struct {
	BaseEvent
	ModuleID string `json:"module_id"`
}

func (e ModuleCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"module_id": e.ModuleID}
}

func NewModuleCompletedEvent(learnerID, moduleID string, at time.Time) ModuleCompletedEvent {
	return ModuleCompletedEvent{
		BaseEvent: NewBaseEvent(EventModuleCompleted, learnerID, at),
		ModuleID:  moduleID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Events
// ═══════════════════════════════════════════════════════════════════════════

// XPAwardedEvent is emitted for every new ledger transaction. Duplicates never emit.
type XPAwardedEvent struct {
	BaseEvent
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	Amount     int64  `json:"amount"`
	Balance    int64  `json:"balance"`
}

func (e XPAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"source_type": e.SourceType,
		"source_id":   e.SourceID,
		"amount":      e.Amount,
		"balance":     e.Balance,
	}
}

func NewXPAwardedEvent(learnerID, sourceType, sourceID string, amount, balance int64, at time.Time) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent:  NewBaseEvent(EventXPAwarded, learnerID, at),
		SourceType: sourceType,
		SourceID:   sourceID,
		Amount:     amount,
		Balance:    balance,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Quiz Events
// ═══════════════════════════════════════════════════════════════════════════

// QuizSubmittedEvent is emitted when an attempt is locked and scored.
type QuizSubmittedEvent struct {
	BaseEvent
	AttemptID    string `json:"attempt_id"`
	QuizID       string `json:"quiz_id"`
	ScorePercent int    `json:"score_percent"`
	Passed       bool   `json:"passed"`
	XPAwarded    int64  `json:"xp_awarded"`
	AutoSubmit   bool   `json:"auto_submit"`
}

func (e QuizSubmittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"attempt_id":    e.AttemptID,
		"quiz_id":       e.QuizID,
		"score_percent": e.ScorePercent,
		"passed":        e.Passed,
		"xp_awarded":    e.XPAwarded,
		"auto_submit":   e.AutoSubmit,
	}
}

func NewQuizSubmittedEvent(learnerID, attemptID, quizID string, score int, passed bool, xp int64, auto bool, at time.Time) QuizSubmittedEvent {
	return QuizSubmittedEvent{
		BaseEvent:    NewBaseEvent(EventQuizSubmitted, learnerID, at),
		AttemptID:    attemptID,
		QuizID:       quizID,
		ScorePercent: score,
		Passed:       passed,
		XPAwarded:    xp,
		AutoSubmit:   auto,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Badge Events
// ═══════════════════════════════════════════════════════════════════════════

// BadgeAwardedEvent is emitted once per (learner, badge).
type BadgeAwardedEvent struct {
	BaseEvent
	BadgeID   string `json:"badge_id"`
	Source    string `json:"source"`
	XPAwarded int64  `json:"xp_awarded"`
}

func (e BadgeAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"badge_id":   e.BadgeID,
		"source":     e.Source,
		"xp_awarded": e.XPAwarded,
	}
}

func NewBadgeAwardedEvent(learnerID, badgeID, source string, xp int64, at time.Time) BadgeAwardedEvent {
	return BadgeAwardedEvent{
		BaseEvent: NewBaseEvent(EventBadgeAwarded, learnerID, at),
		BadgeID:   badgeID,
		Source:    source,
		XPAwarded: xp,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Challenge Events
// ═══════════════════════════════════════════════════════════════════════════

type ChallengeJoinedEvent struct {
	BaseEvent
	ChallengeID string `json:"challenge_id"`
}

func (e ChallengeJoinedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"challenge_id": e.ChallengeID}
}

func NewChallengeJoinedEvent(learnerID, challengeID string, at time.Time) ChallengeJoinedEvent {
	return ChallengeJoinedEvent{
		BaseEvent:   NewBaseEvent(EventChallengeJoined, learnerID, at),
		ChallengeID: challengeID,
	}
}

type ChallengeCompletedEvent struct {
	BaseEvent
	ChallengeID string `json:"challenge_id"`
	XPAwarded   int64  `json:"xp_awarded"`
}

func (e ChallengeCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"challenge_id": e.ChallengeID,
		"xp_awarded":   e.XPAwarded,
	}
}

func NewChallengeCompletedEvent(learnerID, challengeID string, xp int64, at time.Time) ChallengeCompletedEvent {
	return ChallengeCompletedEvent{
		BaseEvent:   NewBaseEvent(EventChallengeCompleted, learnerID, at),
		ChallengeID: challengeID,
		XPAwarded:   xp,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Community & Content Events
// ═══════════════════════════════════════════════════════════════════════════

type CommunityActivityEvent struct {
	BaseEvent
	Kind       string `json:"kind"`
	ExternalID string `json:"external_id"`
	Posts      int64  `json:"posts"`
}

func (e CommunityActivityEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"kind":        e.Kind,
		"external_id": e.ExternalID,
		"posts":       e.Posts,
	}
}

func NewCommunityActivityEvent(learnerID, kind, externalID string, posts int64, at time.Time) CommunityActivityEvent {
	return CommunityActivityEvent{
		BaseEvent:  NewBaseEvent(EventCommunityActivity, learnerID, at),
		Kind:       kind,
		ExternalID: externalID,
		Posts:      posts,
	}
}

// ContentPublishedEvent announces a new active content version to every replica.
type ContentPublishedEvent struct {
	BaseEvent
	Version  int64  `json:"version"`
	Checksum string `json:"checksum"`
}

func (e ContentPublishedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"version":  e.Version,
		"checksum": e.Checksum,
	}
}

func NewContentPublishedEvent(version int64, checksum string, at time.Time) ContentPublishedEvent {
	return ContentPublishedEvent{
		BaseEvent: NewBaseEvent(EventContentPublished, "catalog", at),
		Version:   version,
		Checksum:  checksum,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport over Redis pub/sub.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope serializes an event's payload into an envelope.
func NewEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if b, ok := event.(interface{ Correlation() string }); ok {
		env.CorrelationID = b.Correlation()
	}
	return env, nil
}

// Correlation returns the correlation id carried by the event.
func (e BaseEvent) Correlation() string { return e.CorrelationID }

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
