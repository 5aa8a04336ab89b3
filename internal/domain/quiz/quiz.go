// Package quiz implements timed quiz attempts and deterministic scoring.
//
// Scores are integer percentages rounded half-up. Reward tiers are data: a
// per-quiz table of (min_score, xp) rows sorted by min_score descending, and
// a score qualifies for a tier when it is greater than or equal to min_score.
package quiz

import (
	"sort"
	"time"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// Question is a single-choice question.
type Question struct {
	ID           string   `json:"id" yaml:"id"`
	Prompt       string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Options      []string `json:"options" yaml:"options"`
	CorrectIndex int      `json:"correct_index" yaml:"correct_index"`
}

// RewardTier maps a minimum score to an XP reward.
type RewardTier struct {
	MinScore int       `json:"min_score" yaml:"min_score"`
	XP       shared.XP `json:"xp" yaml:"xp"`
}

// TierTable is sorted by MinScore, highest first.
type TierTable []RewardTier

// Normalize sorts the table descending by MinScore.
func (t TierTable) Normalize() {
	sort.SliceStable(t, func(i, j int) bool { return t[i].MinScore > t[j].MinScore })
}

// Lookup returns the XP of the first tier whose MinScore <= score, or 0.
func (t TierTable) Lookup(score int) shared.XP {
	for _, tier := range t {
		if score >= tier.MinScore {
			return tier.XP
		}
	}
	return 0
}

// Validate rejects out-of-range scores, negative rewards and repeated thresholds.
func (t TierTable) Validate(quizID string) error {
	seen := make(map[int]bool, len(t))
	for _, tier := range t {
		if tier.MinScore < 0 || tier.MinScore > 100 {
			return shared.Errorf("quiz", "ValidateTiers", shared.ErrConfiguration, "quiz %q: tier min_score %d out of range 0..100", quizID, tier.MinScore)
		}
		if tier.XP < 0 {
			return shared.Errorf("quiz", "ValidateTiers", shared.ErrConfiguration, "quiz %q: tier %d has negative xp", quizID, tier.MinScore)
		}
		if seen[tier.MinScore] {
			return shared.Errorf("quiz", "ValidateTiers", shared.ErrConfiguration, "quiz %q: duplicate tier min_score %d", quizID, tier.MinScore)
		}
		seen[tier.MinScore] = true
	}
	return nil
}

// Quiz is the published definition of a timed quiz.
type Quiz struct {
	ID                  string     `json:"id" yaml:"id"`
	Title               string     `json:"title,omitempty" yaml:"title,omitempty"`
	Questions           []Question `json:"questions" yaml:"questions"`
	TimeLimitSeconds    int        `json:"time_limit_seconds" yaml:"time_limit_seconds"`
	PassingScorePercent int        `json:"passing_score_percent" yaml:"passing_score_percent"`
	Tiers               TierTable  `json:"tiers" yaml:"tiers"`
}

// Validate checks a quiz definition at publish time.
func (q *Quiz) Validate() error {
	const op = "ValidateQuiz"
	if err := shared.ValidateID("quiz", op, "quiz id", q.ID); err != nil {
		return shared.WrapError("quiz", op, shared.ErrConfiguration, "bad quiz id", err)
	}
	if len(q.Questions) == 0 {
		return shared.Errorf("quiz", op, shared.ErrConfiguration, "quiz %q has no questions", q.ID)
	}
	if q.TimeLimitSeconds <= 0 {
		return shared.Errorf("quiz", op, shared.ErrConfiguration, "quiz %q: time_limit_seconds must be positive", q.ID)
	}
	if q.PassingScorePercent < 0 || q.PassingScorePercent > 100 {
		return shared.Errorf("quiz", op, shared.ErrConfiguration, "quiz %q: passing_score_percent out of range 0..100", q.ID)
	}
	ids := make(map[string]bool, len(q.Questions))
	for _, question := range q.Questions {
		if err := shared.ValidateID("quiz", op, "question id", question.ID); err != nil {
			return shared.WrapError("quiz", op, shared.ErrConfiguration, "bad question id", err)
		}
		if ids[question.ID] {
			return shared.Errorf("quiz", op, shared.ErrConfiguration, "quiz %q: duplicate question %q", q.ID, question.ID)
		}
		ids[question.ID] = true
		if len(question.Options) < 2 {
			return shared.Errorf("quiz", op, shared.ErrConfiguration, "question %q needs at least two options", question.ID)
		}
		if question.CorrectIndex < 0 || question.CorrectIndex >= len(question.Options) {
			return shared.Errorf("quiz", op, shared.ErrConfiguration, "question %q: correct_index out of range", question.ID)
		}
	}
	return q.Tiers.Validate(q.ID)
}

// Question returns a question by id.
func (q *Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// TimeLimit returns the time limit as a duration.
func (q *Quiz) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitSeconds) * time.Second
}

// Score counts correct answers and returns round_half_up(100*correct/total).
// Unanswered questions count as wrong.
func (q *Quiz) Score(answers map[string]int) (correct, total, percent int) {
	total = len(q.Questions)
	for _, question := range q.Questions {
		if idx, ok := answers[question.ID]; ok && idx == question.CorrectIndex {
			correct++
		}
	}
	return correct, total, ScorePercent(correct, total)
}

// ScorePercent rounds 100*correct/total half-up using integer arithmetic only.
func ScorePercent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*correct + total) / (2 * total)
}
