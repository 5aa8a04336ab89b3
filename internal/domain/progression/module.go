// Package progression содержит машину состояний прохождения уроков:
// Locked → Unlocked → Completed, с последовательным открытием уроков модуля.
package progression

import (
	"sort"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

// Lesson - урок внутри модуля. OrderIndex начинается с 1 и уникален в модуле.
type Lesson struct {
	ID         string    `json:"id" yaml:"id"`
	ModuleID   string    `json:"module_id" yaml:"module_id"`
	Title      string    `json:"title,omitempty" yaml:"title,omitempty"`
	OrderIndex int       `json:"order_index" yaml:"order_index"`
	XPReward   shared.XP `json:"xp_reward" yaml:"xp_reward"`
}

// Module - упорядоченная последовательность уроков с бонусом за завершение.
type Module struct {
	ID       string    `json:"id" yaml:"id"`
	Title    string    `json:"title,omitempty" yaml:"title,omitempty"`
	XPReward shared.XP `json:"xp_reward" yaml:"xp_reward"`
	Lessons  []Lesson  `json:"lessons" yaml:"lessons"`
}

// Normalize сортирует уроки по OrderIndex и проставляет ModuleID.
func (m *Module) Normalize() {
	for i := range m.Lessons {
		if m.Lessons[i].ModuleID == "" {
			m.Lessons[i].ModuleID = m.ID
		}
	}
	sort.SliceStable(m.Lessons, func(i, j int) bool {
		return m.Lessons[i].OrderIndex < m.Lessons[j].OrderIndex
	})
}

// Validate проверяет определение модуля. Вызывается при публикации контента.
// Порядковые номера уроков должны идти 1..N без пропусков.
func (m *Module) Validate() error {
	const op = "ValidateModule"
	if err := shared.ValidateID("progression", op, "module id", m.ID); err != nil {
		return shared.WrapError("progression", op, shared.ErrConfiguration, "bad module id", err)
	}
	if len(m.Lessons) == 0 {
		return shared.Errorf("progression", op, shared.ErrConfiguration, "module %q has no lessons", m.ID)
	}
	if m.XPReward < 0 {
		return shared.Errorf("progression", op, shared.ErrConfiguration, "module %q has negative xp_reward", m.ID)
	}
	for i, l := range m.Lessons {
		if err := shared.ValidateID("progression", op, "lesson id", l.ID); err != nil {
			return shared.WrapError("progression", op, shared.ErrConfiguration, "bad lesson id", err)
		}
		if l.ModuleID != m.ID {
			return shared.Errorf("progression", op, shared.ErrConfiguration, "lesson %q belongs to module %q, listed under %q", l.ID, l.ModuleID, m.ID)
		}
		if l.OrderIndex != i+1 {
			return shared.Errorf("progression", op, shared.ErrConfiguration, "module %q: lesson %q has order_index %d, want %d", m.ID, l.ID, l.OrderIndex, i+1)
		}
		if l.XPReward < 0 {
			return shared.Errorf("progression", op, shared.ErrConfiguration, "lesson %q has negative xp_reward", l.ID)
		}
	}
	return nil
}

// Lesson возвращает урок модуля по ID.
func (m *Module) Lesson(id string) (Lesson, bool) {
	for _, l := range m.Lessons {
		if l.ID == id {
			return l, true
		}
	}
	return Lesson{}, false
}

// Successor возвращает следующий по порядку урок, если он есть.
func (m *Module) Successor(lessonID string) (Lesson, bool) {
	for i, l := range m.Lessons {
		if l.ID == lessonID && i+1 < len(m.Lessons) {
			return m.Lessons[i+1], true
		}
	}
	return Lesson{}, false
}
