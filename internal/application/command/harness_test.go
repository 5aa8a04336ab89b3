package command_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/application/command"
	"github.com/alem-hub/civiclearn/internal/application/content"
	"github.com/alem-hub/civiclearn/internal/application/reward"
	"github.com/alem-hub/civiclearn/internal/application/saga"
	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/badge"
	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/challenge"
	"github.com/alem-hub/civiclearn/internal/domain/learner"
	"github.com/alem-hub/civiclearn/internal/domain/progression"
	"github.com/alem-hub/civiclearn/internal/domain/quiz"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/civiclearn/internal/infrastructure/service"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/timeutil"
)

var (
	epoch          = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	challengeStart = epoch.Add(-24 * time.Hour)
	challengeEnd   = epoch.Add(6 * 24 * time.Hour)
)

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(t shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

type harness struct {
	t        *testing.T
	store    *memory.Store
	clock    *timeutil.FixedClock
	registry *content.Registry
	events   *recorder
	deps     command.Deps

	publish   *command.PublishContentHandler
	lessons   *command.CompleteLessonHandler
	start     *command.StartQuizAttemptHandler
	answer    *command.SubmitQuizAnswerHandler
	submit    *command.SubmitQuizAttemptHandler
	join      *command.JoinChallengeHandler
	complete  *command.CompleteChallengeHandler
	community *command.RecordCommunityActivityHandler
}

type option func(d *command.Deps)

func withStreaks(d *command.Deps) { d.Streaks = true }

func withUoW(wrap func(txn.UnitOfWork) txn.UnitOfWork) option {
	return func(d *command.Deps) { d.UoW = wrap(d.UoW) }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	log := logger.Nop()
	h := &harness{
		t:      t,
		store:  memory.NewStore(),
		clock:  timeutil.NewFixedClock(epoch),
		events: &recorder{},
	}
	h.registry = content.NewRegistry(h.store.Content(), log)

	awarder := reward.NewAwarder(service.NewIDGenerator())
	h.deps = command.Deps{
		UoW:       h.store,
		Content:   h.registry,
		Awarder:   awarder,
		Badges:    saga.NewBadgeReevaluation(awarder),
		Clock:     h.clock,
		IDs:       service.NewIDGenerator(),
		Publisher: h.events,
		Logger:    log,
	}
	for _, o := range opts {
		o(&h.deps)
	}

	h.publish = command.NewPublishContentHandler(h.store.Content(), h.registry, h.clock, h.events, log)
	h.lessons = command.NewCompleteLessonHandler(h.deps)
	h.start = command.NewStartQuizAttemptHandler(h.deps)
	h.submit = command.NewSubmitQuizAttemptHandler(h.deps)
	h.answer = command.NewSubmitQuizAnswerHandler(h.deps, h.submit)
	h.join = command.NewJoinChallengeHandler(h.deps)
	h.complete = command.NewCompleteChallengeHandler(h.deps)
	h.community = command.NewRecordCommunityActivityHandler(h.deps)

	_, err := h.publish.Handle(context.Background(), command.PublishContentCommand{Bundle: fixtureBundle()})
	require.NoError(t, err)
	return h
}

// fixtureBundle is a small but complete catalog:
//   - module civics-101: three lessons of 10 XP, 25 XP module bonus;
//   - quiz constitution: ten questions, pass at 70, tiers 70→50 and 90→100;
//   - badges first-steps (1 lesson, +5 XP), talkative (2 posts) and
//     town-hall-hero (challenge reward, +15 XP);
//   - challenge town-hall: two seats, 40 XP and the town-hall-hero badge.
func fixtureBundle() catalog.Bundle {
	hero := "town-hall-hero"
	q := quiz.Quiz{
		ID:                  "constitution",
		TimeLimitSeconds:    600,
		PassingScorePercent: 70,
		Tiers:               quiz.TierTable{{MinScore: 70, XP: 50}, {MinScore: 90, XP: 100}},
	}
	for i := 1; i <= 10; i++ {
		q.Questions = append(q.Questions, quiz.Question{
			ID:           fmt.Sprintf("q%d", i),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: 2,
		})
	}
	return catalog.Bundle{
		Modules: []progression.Module{{
			ID:       "civics-101",
			Title:    "How government works",
			XPReward: 25,
			Lessons: []progression.Lesson{
				{ID: "l1", OrderIndex: 1, XPReward: 10},
				{ID: "l2", OrderIndex: 2, XPReward: 10},
				{ID: "l3", OrderIndex: 3, XPReward: 10},
			},
		}},
		Quizzes: []quiz.Quiz{q},
		Badges: []badge.Badge{
			{
				ID:         "first-steps",
				Name:       "First steps",
				Conditions: []badge.Condition{{StatType: badge.StatLessonsCompleted, Operator: badge.OpGTE, Threshold: 1}},
				XPReward:   5,
			},
			{
				ID:         "talkative",
				Name:       "Talkative",
				Conditions: []badge.Condition{{StatType: badge.StatCommunityPosts, Operator: badge.OpGTE, Threshold: 2}},
			},
			{ID: hero, Name: "Town hall hero", XPReward: 15},
		},
		Challenges: []challenge.Challenge{{
			ID:              "town-hall",
			StartAt:         challengeStart,
			EndAt:           challengeEnd,
			MaxParticipants: 2,
			XPReward:        40,
			BadgeReward:     &hero,
		}},
	}
}

func (h *harness) completeLesson(learnerID, lessonID string) (*command.CompleteLessonResult, error) {
	return h.lessons.Handle(context.Background(), command.CompleteLessonCommand{LearnerID: learnerID, LessonID: lessonID})
}

// answerQuiz starts an attempt and answers the first `correct` questions right
// and the rest wrong.
func (h *harness) answerQuiz(learnerID string, correct int) string {
	h.t.Helper()
	ctx := context.Background()
	started, err := h.start.Handle(ctx, command.StartQuizAttemptCommand{LearnerID: learnerID, QuizID: "constitution"})
	require.NoError(h.t, err)
	for i := 1; i <= 10; i++ {
		idx := 0
		if i <= correct {
			idx = 2
		}
		require.NoError(h.t, h.answer.Handle(ctx, command.SubmitQuizAnswerCommand{
			AttemptID:   started.AttemptID,
			QuestionID:  fmt.Sprintf("q%d", i),
			AnswerIndex: idx,
		}))
	}
	return started.AttemptID
}

func (h *harness) balance(learnerID string) shared.XP {
	h.t.Helper()
	var total shared.XP
	require.NoError(h.t, h.store.Read(context.Background(), func(ctx context.Context, r txn.Repos) error {
		var err error
		total, err = r.Ledger.Balance(ctx, learnerID)
		return err
	}))
	return total
}

func (h *harness) learner(learnerID string) *learner.Learner {
	h.t.Helper()
	var l *learner.Learner
	require.NoError(h.t, h.store.Read(context.Background(), func(ctx context.Context, r txn.Repos) error {
		var err error
		l, err = r.Learners.Get(ctx, learnerID)
		return err
	}))
	return l
}
