package progression

import (
	"context"
	"time"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON STATUS
// ══════════════════════════════════════════════════════════════════════════════

// LessonStatus - состояние урока для конкретного ученика.
type LessonStatus string

const (
	StatusLocked    LessonStatus = "locked"
	StatusUnlocked  LessonStatus = "unlocked"
	StatusCompleted LessonStatus = "completed"
)

func (s LessonStatus) IsValid() bool {
	switch s {
	case StatusLocked, StatusUnlocked, StatusCompleted:
		return true
	}
	return false
}

// ModuleStatus - агрегированное состояние модуля (только для чтения).
type ModuleStatus string

const (
	ModuleNotStarted ModuleStatus = "not_started"
	ModuleInProgress ModuleStatus = "in_progress"
	ModuleCompleted  ModuleStatus = "completed"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// LessonProgress - строка прогресса (learner × lesson).
type LessonProgress struct {
	LearnerID   string
	LessonID    string
	ModuleID    string
	OrderIndex  int
	Status      LessonStatus
	UnlockedAt  *time.Time
	CompletedAt *time.Time
}

// InitialStates строит начальное состояние модуля для ученика:
// первый урок открыт, остальные закрыты.
func InitialStates(learnerID string, m *Module, now time.Time) []*LessonProgress {
	rows := make([]*LessonProgress, 0, len(m.Lessons))
	for _, l := range m.Lessons {
		p := &LessonProgress{
			LearnerID:  learnerID,
			LessonID:   l.ID,
			ModuleID:   m.ID,
			OrderIndex: l.OrderIndex,
			Status:     StatusLocked,
		}
		if l.OrderIndex == 1 {
			t := now
			p.Status = StatusUnlocked
			p.UnlockedAt = &t
		}
		rows = append(rows, p)
	}
	return rows
}

// ══════════════════════════════════════════════════════════════════════════════
// TRACK (state of one module for one learner)
// ══════════════════════════════════════════════════════════════════════════════

// Track - состояние всех уроков одного модуля для одного ученика.
// Изменённые строки копятся в Dirty и сохраняются репозиторием.
type Track struct {
	Module    *Module
	LearnerID string

	byLesson map[string]*LessonProgress
	dirty    map[string]bool
}

// NewTrack собирает трек из сохранённых строк. Недостающие строки (первое
// взаимодействие с модулем или урок, добавленный новой версией контента)
// материализуются по правилам начального состояния и помечаются как изменённые.
func NewTrack(learnerID string, m *Module, stored []*LessonProgress, now time.Time) *Track {
	t := &Track{
		Module:    m,
		LearnerID: learnerID,
		byLesson:  make(map[string]*LessonProgress, len(m.Lessons)),
		dirty:     make(map[string]bool),
	}
	for _, p := range stored {
		t.byLesson[p.LessonID] = p
	}
	for i, initial := range InitialStates(learnerID, m, now) {
		if _, ok := t.byLesson[initial.LessonID]; ok {
			continue
		}
		// Урок, добавленный после того, как предыдущий уже пройден, сразу открыт.
		if i > 0 {
			if prev, ok := t.byLesson[m.Lessons[i-1].ID]; ok && prev.Status == StatusCompleted {
				ts := now
				initial.Status = StatusUnlocked
				initial.UnlockedAt = &ts
			}
		}
		t.byLesson[initial.LessonID] = initial
		t.dirty[initial.LessonID] = true
	}
	return t
}

// Get возвращает строку прогресса урока.
func (t *Track) Get(lessonID string) (*LessonProgress, bool) {
	p, ok := t.byLesson[lessonID]
	return p, ok
}

// Rows возвращает строки в порядке уроков модуля.
func (t *Track) Rows() []*LessonProgress {
	rows := make([]*LessonProgress, 0, len(t.Module.Lessons))
	for _, l := range t.Module.Lessons {
		rows = append(rows, t.byLesson[l.ID])
	}
	return rows
}

// Dirty возвращает строки, которые нужно сохранить.
func (t *Track) Dirty() []*LessonProgress {
	rows := make([]*LessonProgress, 0, len(t.dirty))
	for _, l := range t.Module.Lessons {
		if t.dirty[l.ID] {
			rows = append(rows, t.byLesson[l.ID])
		}
	}
	return rows
}

// Status возвращает агрегированное состояние модуля.
func (t *Track) Status() ModuleStatus {
	completed := 0
	for _, l := range t.Module.Lessons {
		if t.byLesson[l.ID].Status == StatusCompleted {
			completed++
		}
	}
	switch {
	case completed == len(t.Module.Lessons):
		return ModuleCompleted
	case completed > 0:
		return ModuleInProgress
	default:
		return ModuleNotStarted
	}
}

// Outcome - результат завершения урока.
type Outcome struct {
	Lesson       Lesson
	Unlocked     *Lesson
	ModuleIsDone bool
}

// Complete переводит урок в Completed.
//   - Completed → ErrLessonCompleted (DuplicateEvent, без изменений);
//   - Locked → ErrLessonLocked (InvalidTransition);
//   - Unlocked → Completed, следующий урок открывается.
func (t *Track) Complete(lessonID string, now time.Time) (Outcome, error) {
	lesson, ok := t.Module.Lesson(lessonID)
	if !ok {
		return Outcome{}, shared.ErrLessonNotFound
	}
	p := t.byLesson[lessonID]

	switch p.Status {
	case StatusCompleted:
		return Outcome{Lesson: lesson}, shared.ErrLessonCompleted
	case StatusLocked:
		return Outcome{}, shared.ErrLessonLocked
	}

	// Предыдущий урок обязан быть завершён: строка могла быть открыта
	// старой версией контента с другим порядком уроков.
	if lesson.OrderIndex > 1 {
		prev := t.byLesson[t.Module.Lessons[lesson.OrderIndex-2].ID]
		if prev.Status != StatusCompleted {
			return Outcome{}, shared.ErrLessonLocked
		}
	}

	ts := now
	p.Status = StatusCompleted
	p.CompletedAt = &ts
	t.dirty[lessonID] = true

	out := Outcome{Lesson: lesson}
	if next, ok := t.Module.Successor(lessonID); ok {
		np := t.byLesson[next.ID]
		if np.Status == StatusLocked {
			np.Status = StatusUnlocked
			np.UnlockedAt = &ts
			t.dirty[next.ID] = true
			out.Unlocked = &next
		}
	}
	out.ModuleIsDone = t.Status() == ModuleCompleted
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MODULE COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

// ModuleCompletion - факт завершения модуля. Не более одной записи на пару.
type ModuleCompletion struct {
	LearnerID   string
	ModuleID    string
	CompletedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository - хранилище прогресса.
type Repository interface {
	// ListByModule возвращает сохранённые строки ученика по модулю.
	ListByModule(ctx context.Context, learnerID, moduleID string) ([]*LessonProgress, error)

	// ListByLearner возвращает все строки ученика.
	ListByLearner(ctx context.Context, learnerID string) ([]*LessonProgress, error)

	// Save вставляет или обновляет строки (upsert по learner × lesson).
	Save(ctx context.Context, rows []*LessonProgress) error

	// InsertModuleCompletion записывает завершение модуля.
	// Возвращает false, если запись уже была.
	InsertModuleCompletion(ctx context.Context, mc ModuleCompletion) (bool, error)

	// ListModuleCompletions возвращает завершённые модули ученика.
	ListModuleCompletions(ctx context.Context, learnerID string) ([]ModuleCompletion, error)

	// CountCompletedLessons возвращает число завершённых уроков ученика.
	CountCompletedLessons(ctx context.Context, learnerID string) (int64, error)
}
