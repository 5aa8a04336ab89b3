package badge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

func TestOperator_Apply(t *testing.T) {
	assert.True(t, OpGTE.Apply(5, 5))
	assert.False(t, OpGT.Apply(5, 5))
	assert.True(t, OpEQ.Apply(3, 3))
	assert.True(t, OpLT.Apply(2, 3))
	assert.True(t, OpLTE.Apply(3, 3))
	assert.False(t, Operator("!=").Apply(1, 2))
}

func TestBadge_EvaluateIsConjunctive(t *testing.T) {
	b := &Badge{
		ID: "engaged-citizen",
		Conditions: []Condition{
			{StatType: StatLessonsCompleted, Operator: OpGTE, Threshold: 5},
			{StatType: StatQuizzesPassed, Operator: OpGTE, Threshold: 1},
		},
		XPReward: 20,
	}

	assert.False(t, b.Evaluate(Stats{StatLessonsCompleted: 5}))
	assert.False(t, b.Evaluate(Stats{StatLessonsCompleted: 4, StatQuizzesPassed: 3}))
	assert.True(t, b.Evaluate(Stats{StatLessonsCompleted: 5, StatQuizzesPassed: 1}))
}

func TestBadge_WithoutConditionsNeverEvaluates(t *testing.T) {
	b := &Badge{ID: "winner"}
	assert.NoError(t, b.Validate())
	assert.False(t, b.Evaluable())
	assert.False(t, b.Evaluate(Stats{StatTotalXP: 1_000_000}))
}

func TestBadge_Validate(t *testing.T) {
	cases := map[string]Badge{
		"unknown stat":       {ID: "b", Conditions: []Condition{{StatType: "karma", Operator: OpGTE, Threshold: 1}}},
		"unknown operator":   {ID: "b", Conditions: []Condition{{StatType: StatTotalXP, Operator: "~", Threshold: 1}}},
		"negative threshold": {ID: "b", Conditions: []Condition{{StatType: StatTotalXP, Operator: OpGTE, Threshold: -1}}},
		"negative xp":        {ID: "b", XPReward: -1},
		"empty id":           {ID: ""},
	}
	for name, b := range cases {
		assert.True(t, shared.IsConfiguration(b.Validate()), name)
	}

	err := (&Badge{ID: "b", Conditions: []Condition{{StatType: "karma", Operator: OpGTE}}}).Validate()
	assert.ErrorIs(t, err, shared.ErrUnknownStatType)
}
