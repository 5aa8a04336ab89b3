package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

func TestNewTransaction(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	key := Key{LearnerID: "learner-1", SourceType: SourceLesson, SourceID: "l1"}

	tx, err := NewTransaction("tx-1", key, 10, now)
	require.NoError(t, err)
	assert.Equal(t, key, tx.Key())
	assert.Equal(t, shared.XP(10), tx.Amount)
	assert.Equal(t, now, tx.CreatedAt)
}

func TestNewTransaction_Rejects(t *testing.T) {
	now := time.Now()
	cases := map[string]struct {
		key    Key
		amount shared.XP
		want   error
	}{
		"zero amount":     {Key{"l", SourceQuiz, "q"}, 0, shared.ErrNonPositiveAmount},
		"negative amount": {Key{"l", SourceQuiz, "q"}, -5, shared.ErrNonPositiveAmount},
		"unknown source":  {Key{"l", "streak", "q"}, 5, shared.ErrUnknownSource},
		"no learner":      {Key{"", SourceBadge, "b"}, 5, shared.ErrEmptyLearnerID},
		"no source id":    {Key{"l", SourceBadge, ""}, 5, shared.ErrEmptySourceID},
	}
	for name, tc := range cases {
		_, err := NewTransaction("tx", tc.key, tc.amount, now)
		assert.ErrorIs(t, err, tc.want, name)
		assert.True(t, shared.IsValidation(err), name)
	}
}
