package catalog

import (
	"github.com/alem-hub/civiclearn/internal/domain/badge"
	"github.com/alem-hub/civiclearn/internal/domain/challenge"
	"github.com/alem-hub/civiclearn/internal/domain/progression"
	"github.com/alem-hub/civiclearn/internal/domain/quiz"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// Snapshot is an indexed, read-only view of one content version.
// Handlers take a snapshot once per event so a concurrent publish never
// changes the rules halfway through an event.
type Snapshot struct {
	version  int64
	checksum string

	modules      []*progression.Module
	moduleByID   map[string]*progression.Module
	lessonModule map[string]*progression.Module
	quizzes      map[string]*quiz.Quiz
	badges       []*badge.Badge
	badgeByID    map[string]*badge.Badge
	challenges   map[string]*challenge.Challenge
}

// NewSnapshot indexes a validated bundle.
func NewSnapshot(v *Version) *Snapshot {
	b := v.Bundle
	s := &Snapshot{
		version:      v.Version,
		checksum:     v.Checksum,
		moduleByID:   make(map[string]*progression.Module, len(b.Modules)),
		lessonModule: make(map[string]*progression.Module),
		quizzes:      make(map[string]*quiz.Quiz, len(b.Quizzes)),
		badgeByID:    make(map[string]*badge.Badge, len(b.Badges)),
		challenges:   make(map[string]*challenge.Challenge, len(b.Challenges)),
	}
	for i := range b.Modules {
		m := &b.Modules[i]
		s.modules = append(s.modules, m)
		s.moduleByID[m.ID] = m
		for _, l := range m.Lessons {
			s.lessonModule[l.ID] = m
		}
	}
	for i := range b.Quizzes {
		s.quizzes[b.Quizzes[i].ID] = &b.Quizzes[i]
	}
	for i := range b.Badges {
		s.badges = append(s.badges, &b.Badges[i])
		s.badgeByID[b.Badges[i].ID] = &b.Badges[i]
	}
	for i := range b.Challenges {
		s.challenges[b.Challenges[i].ID] = &b.Challenges[i]
	}
	return s
}

// Empty returns a snapshot with no content, used before the first publish.
func Empty() *Snapshot {
	return NewSnapshot(&Version{})
}

func (s *Snapshot) Version() int64   { return s.version }
func (s *Snapshot) Checksum() string { return s.checksum }

// Modules returns modules in bundle order.
func (s *Snapshot) Modules() []*progression.Module { return s.modules }

// Module returns a module by id.
func (s *Snapshot) Module(id string) (*progression.Module, error) {
	if m, ok := s.moduleByID[id]; ok {
		return m, nil
	}
	return nil, shared.ErrModuleNotFound
}

// ModuleOfLesson returns the module that contains the lesson.
func (s *Snapshot) ModuleOfLesson(lessonID string) (*progression.Module, error) {
	if m, ok := s.lessonModule[lessonID]; ok {
		return m, nil
	}
	return nil, shared.ErrLessonNotFound
}

// Quiz returns a quiz by id.
func (s *Snapshot) Quiz(id string) (*quiz.Quiz, error) {
	if q, ok := s.quizzes[id]; ok {
		return q, nil
	}
	return nil, shared.ErrQuizNotFound
}

// Badges returns badges in bundle order.
func (s *Snapshot) Badges() []*badge.Badge { return s.badges }

// Badge returns a badge by id.
func (s *Snapshot) Badge(id string) (*badge.Badge, error) {
	if b, ok := s.badgeByID[id]; ok {
		return b, nil
	}
	return nil, shared.ErrBadgeNotFound
}

// Challenge returns a challenge by id.
func (s *Snapshot) Challenge(id string) (*challenge.Challenge, error) {
	if c, ok := s.challenges[id]; ok {
		return c, nil
	}
	return nil, shared.ErrChallengeNotFound
}
