// Package badge evaluates conjunctive unlock rules over a learner's stats.
//
// A rule is data: an ordered list of {stat_type, operator, threshold}
// conditions. A badge unlocks when every condition holds.
package badge

import (
	"fmt"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// StatType names an aggregate learner statistic.
type StatType string

const (
	StatTotalXP             StatType = "total_xp"
	StatLessonsCompleted    StatType = "lessons_completed"
	StatModulesCompleted    StatType = "modules_completed"
	StatQuizzesPassed       StatType = "quizzes_passed"
	StatChallengesCompleted StatType = "challenges_completed"
	StatCommunityPosts      StatType = "community_posts"
	StatStreakCount         StatType = "streak_count"
)

// KnownStats lists every stat the evaluator can resolve.
var KnownStats = []StatType{
	StatTotalXP,
	StatLessonsCompleted,
	StatModulesCompleted,
	StatQuizzesPassed,
	StatChallengesCompleted,
	StatCommunityPosts,
	StatStreakCount,
}

func (s StatType) IsValid() bool {
	for _, k := range KnownStats {
		if s == k {
			return true
		}
	}
	return false
}

// Operator compares a stat against a threshold.
type Operator string

const (
	OpGTE Operator = ">="
	OpGT  Operator = ">"
	OpEQ  Operator = "="
	OpLT  Operator = "<"
	OpLTE Operator = "<="
)

func (o Operator) IsValid() bool {
	switch o {
	case OpGTE, OpGT, OpEQ, OpLT, OpLTE:
		return true
	}
	return false
}

// Apply evaluates "value <op> threshold".
func (o Operator) Apply(value, threshold int64) bool {
	switch o {
	case OpGTE:
		return value >= threshold
	case OpGT:
		return value > threshold
	case OpEQ:
		return value == threshold
	case OpLT:
		return value < threshold
	case OpLTE:
		return value <= threshold
	default:
		return false
	}
}

// Condition is a single comparison.
type Condition struct {
	StatType  StatType `json:"stat_type" yaml:"stat_type"`
	Operator  Operator `json:"operator" yaml:"operator"`
	Threshold int64    `json:"threshold" yaml:"threshold"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %d", c.StatType, c.Operator, c.Threshold)
}

// Validate returns a ConfigurationError for unknown stats or operators.
func (c Condition) Validate(badgeID string) error {
	if !c.StatType.IsValid() {
		return shared.WrapError("badge", "Validate", shared.ErrConfiguration,
			fmt.Sprintf("badge %q references stat_type %q", badgeID, c.StatType), shared.ErrUnknownStatType)
	}
	if !c.Operator.IsValid() {
		return shared.WrapError("badge", "Validate", shared.ErrConfiguration,
			fmt.Sprintf("badge %q uses operator %q", badgeID, c.Operator), shared.ErrUnknownOperator)
	}
	if c.Threshold < 0 {
		return shared.WrapError("badge", "Validate", shared.ErrConfiguration,
			fmt.Sprintf("badge %q condition %s", badgeID, c), shared.ErrNegativeThreshold)
	}
	return nil
}

// Holds reports whether the condition is satisfied by stats.
func (c Condition) Holds(stats Stats) bool {
	return c.Operator.Apply(stats.Get(c.StatType), c.Threshold)
}

// Stats is a point-in-time snapshot of a learner's aggregate statistics.
type Stats map[StatType]int64

// Get returns the value of a stat, 0 if absent.
func (s Stats) Get(t StatType) int64 {
	return s[t]
}
