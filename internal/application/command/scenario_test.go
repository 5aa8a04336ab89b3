package command_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/application/command"
	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/badge"
	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/progression"
	"github.com/alem-hub/civiclearn/internal/domain/quiz"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

func (h *harness) activate(b catalog.Bundle) {
	h.t.Helper()
	_, err := h.publish.Handle(context.Background(), command.PublishContentCommand{Bundle: b})
	require.NoError(h.t, err)
}

func (h *harness) awards(learnerID string) []badge.Award {
	h.t.Helper()
	var awards []badge.Award
	require.NoError(h.t, h.store.Read(context.Background(), func(ctx context.Context, r txn.Repos) error {
		var err error
		awards, err = r.Badges.ListAwards(ctx, learnerID)
		return err
	}))
	return awards
}

func TestScenario_ModuleFinisher(t *testing.T) {
	h := newHarness(t)
	h.activate(catalog.Bundle{
		Modules: []progression.Module{{
			ID:       "local-government",
			Title:    "Local government",
			XPReward: 20,
			Lessons: []progression.Lesson{
				{ID: "lesson1", OrderIndex: 1, XPReward: 10},
				{ID: "lesson2", OrderIndex: 2, XPReward: 15},
			},
		}},
		Badges: []badge.Badge{{
			ID:         "module-finisher",
			Name:       "Module Finisher",
			Conditions: []badge.Condition{{StatType: badge.StatModulesCompleted, Operator: badge.OpGTE, Threshold: 1}},
			XPReward:   5,
		}},
	})

	first, err := h.completeLesson("L", "lesson1")
	require.NoError(t, err)
	assert.Equal(t, shared.XP(10), first.XPAwarded)
	assert.Equal(t, "lesson2", first.UnlockedLessonID)
	assert.Empty(t, first.BadgesAwarded)

	second, err := h.completeLesson("L", "lesson2")
	require.NoError(t, err)
	assert.Equal(t, shared.XP(15), second.XPAwarded)
	assert.True(t, second.ModuleCompleted)
	assert.Equal(t, shared.XP(20), second.ModuleXPAwarded)
	require.Len(t, second.BadgesAwarded, 1)
	assert.Equal(t, "module-finisher", second.BadgesAwarded[0].BadgeID)
	assert.Equal(t, shared.XP(5), second.BadgesAwarded[0].XPAwarded)
	assert.Equal(t, shared.XP(50), second.TotalXP)

	replay, err := h.completeLesson("L", "lesson2")
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, shared.XP(50), h.balance("L"))
	assert.Len(t, h.awards("L"), 1)
	assert.Equal(t, 1, h.events.count(shared.EventModuleCompleted))
	assert.Equal(t, 4, h.events.count(shared.EventXPAwarded))
}

func TestScenario_ConjunctiveBadgeUnlocksOnce(t *testing.T) {
	h := newHarness(t)

	var lessons []progression.Lesson
	for i := 1; i <= 6; i++ {
		lessons = append(lessons, progression.Lesson{ID: fmt.Sprintf("s%d", i), OrderIndex: i, XPReward: 10})
	}
	h.activate(catalog.Bundle{
		Modules: []progression.Module{{ID: "elections", Title: "Elections", Lessons: lessons}},
		Quizzes: []quiz.Quiz{{
			ID:                  "ballots",
			TimeLimitSeconds:    300,
			PassingScorePercent: 50,
			Questions:           []quiz.Question{{ID: "b1", Options: []string{"yes", "no"}, CorrectIndex: 0}},
			Tiers:               quiz.TierTable{{MinScore: 50, XP: 200}},
		}},
		Badges: []badge.Badge{{
			ID:   "scholar",
			Name: "Scholar",
			Conditions: []badge.Condition{
				{StatType: badge.StatLessonsCompleted, Operator: badge.OpGTE, Threshold: 5},
				{StatType: badge.StatTotalXP, Operator: badge.OpGTE, Threshold: 200},
			},
		}},
	})

	// Lessons alone reach 50 XP, far from the XP condition.
	for i := 1; i <= 5; i++ {
		res, err := h.completeLesson("ana", fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		assert.Empty(t, res.BadgesAwarded)
	}
	assert.Empty(t, h.awards("ana"))

	ctx := context.Background()
	started, err := h.start.Handle(ctx, command.StartQuizAttemptCommand{LearnerID: "ana", QuizID: "ballots"})
	require.NoError(t, err)
	require.NoError(t, h.answer.Handle(ctx, command.SubmitQuizAnswerCommand{AttemptID: started.AttemptID, QuestionID: "b1", AnswerIndex: 0}))
	submitted, err := h.submit.Handle(ctx, command.SubmitQuizAttemptCommand{AttemptID: started.AttemptID})
	require.NoError(t, err)
	require.Len(t, submitted.BadgesAwarded, 1)
	assert.Equal(t, "scholar", submitted.BadgesAwarded[0].BadgeID)

	last, err := h.completeLesson("ana", "s6")
	require.NoError(t, err)
	assert.Empty(t, last.BadgesAwarded)

	for i := 0; i < 3; i++ {
		err := h.store.WithinLearner(ctx, "ana", func(ctx context.Context, r txn.Repos) error {
			granted, err := h.deps.Badges.Reevaluate(ctx, r, &txn.Outbox{}, h.registry.Current(), "ana", h.clock.Now())
			assert.Empty(t, granted)
			return err
		})
		require.NoError(t, err)
	}
	assert.Len(t, h.awards("ana"), 1)
	assert.Equal(t, 1, h.events.count(shared.EventBadgeAwarded))
}
