package quiz

import (
	"context"
	"time"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// Attempt is one learner's run at a quiz. Once Locked, answers and score
// never change again.
type Attempt struct {
	ID        string
	LearnerID string
	QuizID    string
	StartedAt time.Time
	Deadline  time.Time

	// Answers maps question id to chosen option index. Last write wins.
	Answers map[string]int

	SubmittedAt   *time.Time
	ScorePercent  *int
	Passed        bool
	XPAwarded     shared.XP
	Locked        bool
	AutoSubmitted bool
}

// Start creates an unlocked attempt whose deadline is now + the quiz time limit.
func Start(id, learnerID string, q *Quiz, now time.Time) *Attempt {
	return &Attempt{
		ID:        id,
		LearnerID: learnerID,
		QuizID:    q.ID,
		StartedAt: now,
		Deadline:  now.Add(q.TimeLimit()),
		Answers:   make(map[string]int),
	}
}

// Expired reports whether now is strictly past the deadline.
// A write at exactly the deadline is still accepted.
func (a *Attempt) Expired(now time.Time) bool {
	return now.After(a.Deadline)
}

// SetAnswer records an answer. It returns ErrAttemptIsLocked for a locked
// attempt and ErrAttemptExpired when the deadline has passed; in the latter
// case the caller is expected to lock the attempt via Lock.
func (a *Attempt) SetAnswer(q *Quiz, questionID string, answerIndex int, now time.Time) error {
	if a.Locked {
		return shared.ErrAttemptIsLocked
	}
	if a.Expired(now) {
		return shared.ErrAttemptExpired
	}
	question, ok := q.Question(questionID)
	if !ok {
		return shared.ErrQuestionNotFound
	}
	if answerIndex < 0 || answerIndex >= len(question.Options) {
		return shared.ErrAnswerOutOfRange
	}
	if a.Answers == nil {
		a.Answers = make(map[string]int)
	}
	a.Answers[questionID] = answerIndex
	return nil
}

// Result is the outcome of a submitted attempt.
type Result struct {
	AttemptID    string    `json:"attempt_id"`
	QuizID       string    `json:"quiz_id"`
	ScorePercent int       `json:"score_percent"`
	Passed       bool      `json:"passed"`
	XPAwarded    shared.XP `json:"xp_awarded"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Lock scores and locks the attempt, returning the tier reward it qualifies
// for. The reward is 0 when the attempt did not pass. Locking an already
// locked attempt is a no-op that returns 0.
func (a *Attempt) Lock(q *Quiz, now time.Time, auto bool) shared.XP {
	if a.Locked {
		return 0
	}
	_, _, score := q.Score(a.Answers)
	submitted := now
	if auto && now.After(a.Deadline) {
		submitted = a.Deadline
	}
	a.Locked = true
	a.AutoSubmitted = auto
	a.SubmittedAt = &submitted
	a.ScorePercent = &score
	a.Passed = score >= q.PassingScorePercent
	if !a.Passed {
		return 0
	}
	return q.Tiers.Lookup(score)
}

// Result returns the stored outcome of a locked attempt.
func (a *Attempt) Result() Result {
	r := Result{
		AttemptID: a.ID,
		QuizID:    a.QuizID,
		Passed:    a.Passed,
		XPAwarded: a.XPAwarded,
	}
	if a.ScorePercent != nil {
		r.ScorePercent = *a.ScorePercent
	}
	if a.SubmittedAt != nil {
		r.SubmittedAt = *a.SubmittedAt
	}
	return r
}

// Repository stores quiz attempts.
type Repository interface {
	Create(ctx context.Context, a *Attempt) error
	// Get returns shared.ErrNotFound for an unknown attempt.
	Get(ctx context.Context, id string) (*Attempt, error)
	Save(ctx context.Context, a *Attempt) error
	// CountPassedQuizzes counts distinct quizzes with at least one passed attempt.
	CountPassedQuizzes(ctx context.Context, learnerID string) (int64, error)
	// ListExpired returns unlocked attempts whose deadline is before the
	// given time, oldest first.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Attempt, error)
}
