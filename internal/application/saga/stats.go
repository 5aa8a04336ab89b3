package saga

import (
	"context"
	"fmt"

	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/badge"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// LoadStats builds the learner's stat snapshot from committed and pending
// writes of the current unit of work.
func LoadStats(ctx context.Context, r txn.Repos, learnerID string) (badge.Stats, error) {
	l, err := r.Learners.Get(ctx, learnerID)
	if err != nil && !shared.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load learner: %w", err)
	}

	totalXP, err := r.Ledger.Balance(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	lessons, err := r.Progress.CountCompletedLessons(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count lessons: %w", err)
	}
	modules, err := r.Progress.ListModuleCompletions(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list module completions: %w", err)
	}
	quizzes, err := r.Attempts.CountPassedQuizzes(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count passed quizzes: %w", err)
	}
	challenges, err := r.Challenges.CountCompleted(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count challenges: %w", err)
	}

	stats := badge.Stats{
		badge.StatTotalXP:             totalXP.Int64(),
		badge.StatLessonsCompleted:    lessons,
		badge.StatModulesCompleted:    int64(len(modules)),
		badge.StatQuizzesPassed:       quizzes,
		badge.StatChallengesCompleted: challenges,
	}
	if l != nil {
		stats[badge.StatCommunityPosts] = l.CommunityPosts
		stats[badge.StatStreakCount] = int64(l.StreakCount)
	}
	return stats, nil
}
