// Package shared contains common domain types, errors, and events that are
// used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound = errors.New("entity not found")

	// Input errors
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")

	// State errors
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDuplicateEvent    = errors.New("duplicate event")
	ErrAttemptLocked     = errors.New("attempt locked")

	// Challenge errors
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrChallengeNotActive = errors.New("challenge not active")
	ErrLateSubmission     = errors.New("late submission")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")

	// Infrastructure errors
	ErrServiceUnavailable     = errors.New("service unavailable")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progression", "quiz", "ledger"
	Op      string // Operation that failed, e.g., "CompleteLesson"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Errorf builds a DomainError with a formatted message.
func Errorf(domain, op string, kind error, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, kind, fmt.Sprintf(format, args...))
}

// Ledger errors
var (
	ErrNonPositiveAmount = NewDomainError("ledger", "Award", ErrValidation, "amount must be greater than zero")
	ErrUnknownSource     = NewDomainError("ledger", "Award", ErrValidation, "unknown source type")
	ErrEmptyLearnerID    = NewDomainError("ledger", "Award", ErrValidation, "learner id is required")
	ErrEmptySourceID     = NewDomainError("ledger", "Award", ErrValidation, "source id is required")
)

// Progression errors
var (
	ErrLessonNotFound    = NewDomainError("progression", "Find", ErrNotFound, "lesson not found")
	ErrModuleNotFound    = NewDomainError("progression", "Find", ErrNotFound, "module not found")
	ErrLessonLocked      = NewDomainError("progression", "CompleteLesson", ErrInvalidTransition, "lesson is locked")
	ErrLessonCompleted   = NewDomainError("progression", "CompleteLesson", ErrDuplicateEvent, "lesson already completed")
	ErrLessonNotUnlocked = NewDomainError("progression", "Unlock", ErrInvalidTransition, "only locked lessons can be unlocked")
)

// Quiz errors
var (
	ErrQuizNotFound     = NewDomainError("quiz", "Find", ErrNotFound, "quiz not found")
	ErrAttemptNotFound  = NewDomainError("quiz", "FindAttempt", ErrNotFound, "attempt not found")
	ErrQuestionNotFound = NewDomainError("quiz", "SubmitAnswer", ErrValidation, "question does not belong to quiz")
	ErrAnswerOutOfRange = NewDomainError("quiz", "SubmitAnswer", ErrValidation, "answer index out of range")
	ErrAttemptIsLocked  = NewDomainError("quiz", "SubmitAnswer", ErrAttemptLocked, "attempt is locked")
	ErrAttemptExpired   = NewDomainError("quiz", "SubmitAnswer", ErrAttemptLocked, "attempt deadline has passed")
)

// Badge errors
var (
	ErrBadgeNotFound     = NewDomainError("badge", "Find", ErrNotFound, "badge not found")
	ErrUnknownStatType   = NewDomainError("badge", "Validate", ErrConfiguration, "unknown stat type")
	ErrUnknownOperator   = NewDomainError("badge", "Validate", ErrConfiguration, "unknown operator")
	ErrNoConditions      = NewDomainError("badge", "Validate", ErrConfiguration, "badge has no unlock conditions")
	ErrNegativeThreshold = NewDomainError("badge", "Validate", ErrConfiguration, "threshold cannot be negative")
)

// Challenge errors
var (
	ErrChallengeNotFound  = NewDomainError("challenge", "Find", ErrNotFound, "challenge not found")
	ErrChallengeFull      = NewDomainError("challenge", "Join", ErrCapacityExceeded, "challenge is full")
	ErrChallengeScheduled = NewDomainError("challenge", "Join", ErrChallengeNotActive, "challenge has not started")
	ErrChallengeClosed    = NewDomainError("challenge", "Join", ErrChallengeNotActive, "challenge is closed")
	ErrChallengeLate      = NewDomainError("challenge", "Complete", ErrLateSubmission, "challenge window has ended")
	ErrNotParticipant     = NewDomainError("challenge", "Complete", ErrInvalidTransition, "learner has not joined the challenge")
)

// Content errors
var (
	ErrNoActiveContent = NewDomainError("catalog", "Active", ErrNotFound, "no content version has been published")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConfiguration checks if the error is a content configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsDuplicate checks if the error reports an already-applied event.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateEvent)
}

// IsConflict checks if the error is a state conflict the caller cannot retry
// its way out of.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAttemptLocked) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrChallengeNotActive) ||
		errors.Is(err, ErrLateSubmission)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrConcurrentModification)
}
