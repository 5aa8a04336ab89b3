package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/application/command"
	"github.com/alem-hub/civiclearn/internal/application/content"
	"github.com/alem-hub/civiclearn/internal/application/reward"
	"github.com/alem-hub/civiclearn/internal/application/saga"
	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/internal/infrastructure/contentfile"
	"github.com/alem-hub/civiclearn/internal/infrastructure/service"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/retry"
	"github.com/alem-hub/civiclearn/pkg/timeutil"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err       error
		transient bool
	}{
		{&pgconn.PgError{Code: "40001"}, true},
		{&pgconn.PgError{Code: "40P01"}, true},
		{&pgconn.PgError{Code: "08006"}, true},
		{&pgconn.PgError{Code: "57P01"}, true},
		{&pgconn.PgError{Code: "23505"}, false},
		{fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503"}), false},
		{pgx.ErrNoRows, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.transient, IsTransient(tt.err), "%v", tt.err)
		assert.Equal(t, tt.transient, retry.IsRetryable(classify(tt.err)), "%v", tt.err)
	}

	assert.True(t, IsUniqueViolation(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "23505"})))
	assert.True(t, IsNoRows(fmt.Errorf("wrap: %w", pgx.ErrNoRows)))

	already := retry.Retryable(errors.New("x"))
	assert.Equal(t, already, classify(already))
}

// Runs against a real database when TEST_POSTGRES_DSN is set.
func TestEngine_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	log := logger.Nop()

	conn, err := NewConnectionFromURL(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	require.NoError(t, NewMigrator(conn).Migrate(ctx))
	db, err := OpenGorm(conn)
	require.NoError(t, err)

	run := uuid.NewString()[:8]
	moduleID, challengeID := "m-"+run, "c-"+run
	now := time.Now().UTC()
	bundleYAML := fmt.Sprintf(`
modules:
  - id: %s
    xp_reward: 25
    lessons:
      - {id: %s-l1, order_index: 1, xp_reward: 10}
      - {id: %s-l2, order_index: 2, xp_reward: 10}
challenges:
  - id: %s
    start_at: %s
    end_at: %s
    max_participants: 2
    xp_reward: 40
`, moduleID, run, run, challengeID, now.Add(-time.Hour).Format(time.RFC3339), now.Add(time.Hour).Format(time.RFC3339))

	repo := NewContentRepository(db)
	registry := content.NewRegistry(repo, log)
	require.NoError(t, registry.Reload(ctx))
	bundle, err := contentfile.Parse([]byte(bundleYAML), contentfile.FormatYAML)
	require.NoError(t, err)
	clock := timeutil.RealClock{}
	_, err = command.NewPublishContentHandler(repo, registry, clock, nil, log).
		Handle(ctx, command.PublishContentCommand{Bundle: *bundle})
	require.NoError(t, err)

	uow := txn.WithRetry(NewUnitOfWork(conn), 3, 5*time.Second, log)
	awarder := reward.NewAwarder(service.NewIDGenerator())
	deps := command.Deps{
		UoW:     uow,
		Content: registry,
		Awarder: awarder,
		Badges:  saga.NewBadgeReevaluation(awarder),
		Clock:   clock,
		IDs:     service.NewIDGenerator(),
		Logger:  log,
		Streaks: true,
	}

	t.Run("lessons", func(t *testing.T) {
		lessons := command.NewCompleteLessonHandler(deps)
		learnerID := "pg-" + run

		res, err := lessons.Handle(ctx, command.CompleteLessonCommand{LearnerID: learnerID, LessonID: run + "-l1"})
		require.NoError(t, err)
		assert.Equal(t, shared.XP(10), res.XPAwarded)
		assert.Equal(t, run+"-l2", res.UnlockedLessonID)

		again, err := lessons.Handle(ctx, command.CompleteLessonCommand{LearnerID: learnerID, LessonID: run + "-l1"})
		require.NoError(t, err)
		assert.True(t, again.Duplicate)

		res, err = lessons.Handle(ctx, command.CompleteLessonCommand{LearnerID: learnerID, LessonID: run + "-l2"})
		require.NoError(t, err)
		assert.True(t, res.ModuleCompleted)
		assert.Equal(t, shared.XP(45), res.TotalXP)
	})

	t.Run("challenge capacity", func(t *testing.T) {
		join := command.NewJoinChallengeHandler(deps)
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			joined  int
			refused int
		)
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := join.Handle(ctx, command.JoinChallengeCommand{
					LearnerID:   fmt.Sprintf("pg-%s-%d", run, i),
					ChallengeID: challengeID,
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					joined++
				case errors.Is(err, shared.ErrCapacityExceeded):
					refused++
				default:
					t.Errorf("unexpected join error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 2, joined)
		assert.Equal(t, 4, refused)
	})
}
