package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/application/content"
	"github.com/alem-hub/civiclearn/internal/application/query"
	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/badge"
	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/ledger"
	"github.com/alem-hub/civiclearn/internal/domain/progression"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/timeutil"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, cache query.ProgressCache) (*memory.Store, *query.GetLearnerProgressHandler) {
	t.Helper()
	store := memory.NewStore()
	registry := content.NewRegistry(store.Content(), logger.Nop())
	registry.Activate(&catalog.Version{
		Version:  4,
		Checksum: "sum",
		Bundle: catalog.Bundle{
			Modules: []progression.Module{
				{ID: "civics-101", Title: "Government", Lessons: []progression.Lesson{
					{ID: "l1", OrderIndex: 1, XPReward: 10},
					{ID: "l2", OrderIndex: 2, XPReward: 10},
				}},
				{ID: "civics-102", Title: "Elections", Lessons: []progression.Lesson{
					{ID: "e1", OrderIndex: 1},
				}},
			},
			Badges: []badge.Badge{{ID: "first-steps", Name: "First steps"}},
		},
	})
	h := query.NewGetLearnerProgressHandler(store, registry, cache, timeutil.NewFixedClock(now), logger.Nop())
	return store, h
}

func TestGetLearnerProgress_UnknownLearnerGetsInitialState(t *testing.T) {
	store, h := setup(t, nil)

	dto, err := h.Handle(context.Background(), query.GetLearnerProgressQuery{LearnerID: "ana"})
	require.NoError(t, err)

	assert.Equal(t, int64(4), dto.ContentVersion)
	assert.Equal(t, int64(0), dto.TotalXP)
	assert.Empty(t, dto.LastActiveOn)
	assert.Empty(t, dto.BadgesEarned)
	require.Len(t, dto.Modules, 2)
	assert.Equal(t, "not_started", dto.Modules[0].Status)
	assert.Equal(t, "unlocked", dto.Modules[0].Lessons[0].Status)
	assert.Equal(t, "locked", dto.Modules[0].Lessons[1].Status)

	err = store.Read(context.Background(), func(ctx context.Context, r txn.Repos) error {
		rows, err := r.Progress.ListByLearner(ctx, "ana")
		assert.Empty(t, rows, "reads never materialize progress rows")
		return err
	})
	require.NoError(t, err)
}

func TestGetLearnerProgress_ReflectsCommittedState(t *testing.T) {
	store, h := setup(t, nil)
	ctx := context.Background()

	require.NoError(t, store.WithinLearner(ctx, "ana", func(ctx context.Context, r txn.Repos) error {
		l, err := r.Learners.GetOrCreate(ctx, "ana", now)
		if err != nil {
			return err
		}
		l.TouchStreak(now)
		if err := r.Learners.Save(ctx, l); err != nil {
			return err
		}

		m := &progression.Module{ID: "civics-101", Lessons: []progression.Lesson{
			{ID: "l1", ModuleID: "civics-101", OrderIndex: 1},
			{ID: "l2", ModuleID: "civics-101", OrderIndex: 2},
		}}
		track := progression.NewTrack("ana", m, nil, now)
		if _, err := track.Complete("l1", now); err != nil {
			return err
		}
		if err := r.Progress.Save(ctx, track.Dirty()); err != nil {
			return err
		}

		tx, err := ledger.NewTransaction("tx-1", ledger.Key{LearnerID: "ana", SourceType: ledger.SourceLesson, SourceID: "l1"}, 10, now)
		if err != nil {
			return err
		}
		if _, err := r.Ledger.Insert(ctx, tx); err != nil {
			return err
		}
		_, err = r.Badges.InsertAward(ctx, badge.Award{LearnerID: "ana", BadgeID: "first-steps", AwardedAt: now, Source: badge.SourceRule})
		return err
	}))

	dto, err := h.Handle(ctx, query.GetLearnerProgressQuery{LearnerID: "ana"})
	require.NoError(t, err)

	assert.Equal(t, int64(10), dto.TotalXP)
	assert.Equal(t, 1, dto.StreakCount)
	assert.Equal(t, "2026-06-01", dto.LastActiveOn)
	assert.Equal(t, "in_progress", dto.Modules[0].Status)
	assert.Equal(t, "completed", dto.Modules[0].Lessons[0].Status)
	assert.Equal(t, "unlocked", dto.Modules[0].Lessons[1].Status)
	assert.Equal(t, "not_started", dto.Modules[1].Status)
	require.Len(t, dto.BadgesEarned, 1)
	assert.Equal(t, "First steps", dto.BadgesEarned[0].Name)
}

type stubCache struct {
	gen         int64
	entries     map[int64]*query.LearnerProgressDTO
	sets        int
	invalidated []string
}

func newStubCache() *stubCache {
	return &stubCache{entries: map[int64]*query.LearnerProgressDTO{}}
}

func (c *stubCache) Generation(context.Context, string) (int64, error) { return c.gen, nil }

func (c *stubCache) Get(_ context.Context, learnerID string, gen, version int64) (*query.LearnerProgressDTO, bool, error) {
	hit := c.entries[gen]
	if hit != nil && hit.LearnerID == learnerID && hit.ContentVersion == version {
		return hit, true, nil
	}
	return nil, false, nil
}

func (c *stubCache) Set(_ context.Context, dto *query.LearnerProgressDTO, gen int64) error {
	c.sets++
	c.entries[gen] = dto
	return nil
}

func (c *stubCache) Invalidate(_ context.Context, learnerID string) error {
	c.invalidated = append(c.invalidated, learnerID)
	c.gen++
	return nil
}

func TestGetLearnerProgress_UsesCache(t *testing.T) {
	cache := newStubCache()
	_, h := setup(t, cache)
	ctx := context.Background()

	_, err := h.Handle(ctx, query.GetLearnerProgressQuery{LearnerID: "ana"})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	cache.entries[0] = &query.LearnerProgressDTO{LearnerID: "ana", ContentVersion: 4, TotalXP: 999}
	dto, err := h.Handle(ctx, query.GetLearnerProgressQuery{LearnerID: "ana"})
	require.NoError(t, err)
	assert.Equal(t, int64(999), dto.TotalXP)
	assert.Equal(t, 1, cache.sets)

	require.NoError(t, h.Invalidate(ctx, "ana"))
	assert.Equal(t, []string{"ana"}, cache.invalidated)

	dto, err = h.Handle(ctx, query.GetLearnerProgressQuery{LearnerID: "ana"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), dto.TotalXP, "invalidated generation is never read again")
	assert.Equal(t, 2, cache.sets)
}

func TestGetLearnerProgress_LateSetAfterInvalidationIsNotServed(t *testing.T) {
	cache := newStubCache()
	store, h := setup(t, cache)
	ctx := context.Background()

	// Response built before the commit.
	stale, err := h.Handle(ctx, query.GetLearnerProgressQuery{LearnerID: "ana"})
	require.NoError(t, err)
	require.Equal(t, int64(0), stale.TotalXP)

	require.NoError(t, store.WithinLearner(ctx, "ana", func(ctx context.Context, r txn.Repos) error {
		tx, err := ledger.NewTransaction("tx-1", ledger.Key{LearnerID: "ana", SourceType: ledger.SourceLesson, SourceID: "l1"}, 10, now)
		if err != nil {
			return err
		}
		_, err = r.Ledger.Insert(ctx, tx)
		return err
	}))
	require.NoError(t, h.Invalidate(ctx, "ana"))

	// The pre-commit reader stores its result only after the invalidation.
	require.NoError(t, cache.Set(ctx, stale, 0))

	dto, err := h.Handle(ctx, query.GetLearnerProgressQuery{LearnerID: "ana"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), dto.TotalXP)
}

func TestGetLearnerProgress_RejectsBadID(t *testing.T) {
	_, h := setup(t, nil)
	_, err := h.Handle(context.Background(), query.GetLearnerProgressQuery{LearnerID: ""})
	assert.True(t, shared.IsValidation(err))
}
