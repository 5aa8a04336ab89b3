package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

func threeLessonModule() *Module {
	m := &Module{
		ID:       "civics-101",
		XPReward: 25,
		Lessons: []Lesson{
			{ID: "l3", OrderIndex: 3, XPReward: 10},
			{ID: "l1", OrderIndex: 1, XPReward: 10},
			{ID: "l2", OrderIndex: 2, XPReward: 10},
		},
	}
	m.Normalize()
	return m
}

func TestModule_NormalizeAndValidate(t *testing.T) {
	m := threeLessonModule()
	require.NoError(t, m.Validate())

	assert.Equal(t, "l1", m.Lessons[0].ID)
	assert.Equal(t, "civics-101", m.Lessons[2].ModuleID)

	next, ok := m.Successor("l1")
	require.True(t, ok)
	assert.Equal(t, "l2", next.ID)
	_, ok = m.Successor("l3")
	assert.False(t, ok)
}

func TestModule_ValidateRejectsBadOrdering(t *testing.T) {
	m := threeLessonModule()
	m.Lessons[2].OrderIndex = 5
	assert.True(t, shared.IsConfiguration(m.Validate()))

	m = threeLessonModule()
	m.Lessons = nil
	assert.True(t, shared.IsConfiguration(m.Validate()))

	m = threeLessonModule()
	m.Lessons[1].XPReward = -1
	assert.True(t, shared.IsConfiguration(m.Validate()))
}

func TestNewTrack_MaterializesInitialState(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	tr := NewTrack("learner-1", threeLessonModule(), nil, now)

	rows := tr.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, StatusUnlocked, rows[0].Status)
	assert.Equal(t, StatusLocked, rows[1].Status)
	assert.Equal(t, StatusLocked, rows[2].Status)
	assert.Len(t, tr.Dirty(), 3)
	assert.Equal(t, ModuleNotStarted, tr.Status())
}

func TestTrack_CompleteUnlocksSuccessor(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	tr := NewTrack("learner-1", threeLessonModule(), nil, now)

	_, err := tr.Complete("l2", now)
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)

	out, err := tr.Complete("l1", now)
	require.NoError(t, err)
	require.NotNil(t, out.Unlocked)
	assert.Equal(t, "l2", out.Unlocked.ID)
	assert.False(t, out.ModuleIsDone)
	assert.Equal(t, ModuleInProgress, tr.Status())

	_, err = tr.Complete("l1", now)
	assert.True(t, shared.IsDuplicate(err))

	_, err = tr.Complete("l2", now)
	require.NoError(t, err)
	out, err = tr.Complete("l3", now)
	require.NoError(t, err)
	assert.Nil(t, out.Unlocked)
	assert.True(t, out.ModuleIsDone)
	assert.Equal(t, ModuleCompleted, tr.Status())

	_, err = tr.Complete("missing", now)
	assert.True(t, shared.IsNotFound(err))
}

func TestNewTrack_LessonAddedAfterCompletedPredecessor(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	done := now.Add(-time.Hour)
	stored := []*LessonProgress{
		{LearnerID: "learner-1", LessonID: "l1", ModuleID: "civics-101", OrderIndex: 1, Status: StatusCompleted, CompletedAt: &done},
		{LearnerID: "learner-1", LessonID: "l2", ModuleID: "civics-101", OrderIndex: 2, Status: StatusCompleted, CompletedAt: &done},
	}
	tr := NewTrack("learner-1", threeLessonModule(), stored, now)

	p, ok := tr.Get("l3")
	require.True(t, ok)
	assert.Equal(t, StatusUnlocked, p.Status)

	dirty := tr.Dirty()
	require.Len(t, dirty, 1)
	assert.Equal(t, "l3", dirty[0].LessonID)
}

func TestTrack_StaleUnlockedRowStillGated(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	stored := []*LessonProgress{
		{LearnerID: "learner-1", LessonID: "l1", OrderIndex: 1, Status: StatusUnlocked},
		{LearnerID: "learner-1", LessonID: "l2", OrderIndex: 2, Status: StatusLocked},
		{LearnerID: "learner-1", LessonID: "l3", OrderIndex: 3, Status: StatusUnlocked},
	}
	tr := NewTrack("learner-1", threeLessonModule(), stored, now)

	_, err := tr.Complete("l3", now)
	assert.ErrorIs(t, err, shared.ErrLessonLocked)
}
