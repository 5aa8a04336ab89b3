package memory

import (
	"context"
	"sort"
	"time"

	"github.com/alem-hub/civiclearn/internal/domain/badge"
	"github.com/alem-hub/civiclearn/internal/domain/challenge"
	"github.com/alem-hub/civiclearn/internal/domain/learner"
	"github.com/alem-hub/civiclearn/internal/domain/ledger"
	"github.com/alem-hub/civiclearn/internal/domain/progression"
	"github.com/alem-hub/civiclearn/internal/domain/quiz"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// Репозитории работают с копиями: изменения объекта, полученного из
// хранилища, не видны до явного Save. Save пишет только в слой tx.

// ══════════════════════════════════════════════════════════════════════════════
// LEARNERS
// ══════════════════════════════════════════════════════════════════════════════

type learnerRepo struct{ t *tx }

// learner возвращает запись из слоя или из хранилища. Вызывается под store.mu.
func (t *tx) learner(id string) (*learner.Learner, bool) {
	if l, ok := t.learners[id]; ok {
		return l, true
	}
	l, ok := t.store.learners[id]
	return l, ok
}

func (r *learnerRepo) GetOrCreate(_ context.Context, id string, now time.Time) (*learner.Learner, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := r.t.learner(id); ok {
		c := *l
		return &c, nil
	}
	l := learner.New(id, now)
	r.t.learners[id] = l
	c := *l
	return &c, nil
}

func (r *learnerRepo) Get(_ context.Context, id string) (*learner.Learner, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := r.t.learner(id)
	if !ok {
		return nil, shared.NewDomainError("learner", "Get", shared.ErrNotFound, "learner not found")
	}
	c := *l
	return &c, nil
}

func (r *learnerRepo) Save(_ context.Context, l *learner.Learner) error {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *l
	r.t.learners[l.ID] = &c
	return nil
}

func (r *learnerRepo) RecordCommunityActivity(_ context.Context, learnerID string, _ learner.ActivityKind, externalID string, _ time.Time) (bool, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := learnerID + "|" + externalID
	if s.community[key] || r.t.community[key] {
		return false, nil
	}
	r.t.community[key] = true
	return true, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

type ledgerRepo struct{ t *tx }

// ledgerKeys - ключи ученика в порядке вставки: сначала закоммиченные,
// потом из слоя. Вызывается под store.mu.
func (t *tx) ledgerKeys(learnerID string) []ledger.Key {
	keys := append([]ledger.Key(nil), t.store.txByLearner[learnerID]...)
	for _, key := range t.txKeys {
		if key.LearnerID == learnerID {
			keys = append(keys, key)
		}
	}
	return keys
}

func (t *tx) transaction(key ledger.Key) (*ledger.Transaction, bool) {
	if tx, ok := t.transactions[key]; ok {
		return tx, true
	}
	tx, ok := t.store.transactions[key]
	return tx, ok
}

func (r *ledgerRepo) Insert(_ context.Context, tx *ledger.Transaction) (bool, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tx.Key()
	if _, ok := r.t.transaction(key); ok {
		return false, nil
	}
	c := *tx
	r.t.transactions[key] = &c
	r.t.txKeys = append(r.t.txKeys, key)
	return true, nil
}

func (r *ledgerRepo) FindByKey(_ context.Context, key ledger.Key) (*ledger.Transaction, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := r.t.transaction(key)
	if !ok {
		return nil, shared.NewDomainError("ledger", "FindByKey", shared.ErrNotFound, "transaction not found")
	}
	c := *tx
	return &c, nil
}

func (r *ledgerRepo) Balance(_ context.Context, learnerID string) (shared.XP, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var total shared.XP
	for _, key := range r.t.ledgerKeys(learnerID) {
		tx, _ := r.t.transaction(key)
		total += tx.Amount
	}
	return total, nil
}

func (r *ledgerRepo) ListByLearner(_ context.Context, learnerID string) ([]*ledger.Transaction, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := r.t.ledgerKeys(learnerID)
	out := make([]*ledger.Transaction, 0, len(keys))
	for _, key := range keys {
		tx, _ := r.t.transaction(key)
		c := *tx
		out = append(out, &c)
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION
// ══════════════════════════════════════════════════════════════════════════════

type progressRepo struct{ t *tx }

func copyProgress(p *progression.LessonProgress) *progression.LessonProgress {
	c := *p
	if p.UnlockedAt != nil {
		t := *p.UnlockedAt
		c.UnlockedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// lessonRows - строки прогресса ученика, слой поверх хранилища.
// Вызывается под store.mu.
func (t *tx) lessonRows(learnerID string) map[string]*progression.LessonProgress {
	rows := make(map[string]*progression.LessonProgress, len(t.store.progress[learnerID]))
	for id, p := range t.store.progress[learnerID] {
		rows[id] = p
	}
	for id, p := range t.progress[learnerID] {
		rows[id] = p
	}
	return rows
}

func (r *progressRepo) ListByModule(_ context.Context, learnerID, moduleID string) ([]*progression.LessonProgress, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*progression.LessonProgress
	for _, p := range r.t.lessonRows(learnerID) {
		if p.ModuleID == moduleID {
			out = append(out, copyProgress(p))
		}
	}
	sortProgress(out)
	return out, nil
}

func (r *progressRepo) ListByLearner(_ context.Context, learnerID string) ([]*progression.LessonProgress, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := r.t.lessonRows(learnerID)
	out := make([]*progression.LessonProgress, 0, len(rows))
	for _, p := range rows {
		out = append(out, copyProgress(p))
	}
	sortProgress(out)
	return out, nil
}

func sortProgress(rows []*progression.LessonProgress) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ModuleID != rows[j].ModuleID {
			return rows[i].ModuleID < rows[j].ModuleID
		}
		return rows[i].OrderIndex < rows[j].OrderIndex
	})
}

func (r *progressRepo) Save(_ context.Context, rows []*progression.LessonProgress) error {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range rows {
		byLesson, ok := r.t.progress[p.LearnerID]
		if !ok {
			byLesson = make(map[string]*progression.LessonProgress)
			r.t.progress[p.LearnerID] = byLesson
		}
		byLesson[p.LessonID] = copyProgress(p)
	}
	return nil
}

// moduleRows - завершённые модули ученика, слой поверх хранилища.
func (t *tx) moduleRows(learnerID string) map[string]progression.ModuleCompletion {
	rows := make(map[string]progression.ModuleCompletion, len(t.store.modules[learnerID]))
	for id, mc := range t.store.modules[learnerID] {
		rows[id] = mc
	}
	for id, mc := range t.modules[learnerID] {
		rows[id] = mc
	}
	return rows
}

func (r *progressRepo) InsertModuleCompletion(_ context.Context, mc progression.ModuleCompletion) (bool, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := r.t.moduleRows(mc.LearnerID)[mc.ModuleID]; done {
		return false, nil
	}
	byModule, ok := r.t.modules[mc.LearnerID]
	if !ok {
		byModule = make(map[string]progression.ModuleCompletion)
		r.t.modules[mc.LearnerID] = byModule
	}
	byModule[mc.ModuleID] = mc
	return true, nil
}

func (r *progressRepo) ListModuleCompletions(_ context.Context, learnerID string) ([]progression.ModuleCompletion, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := r.t.moduleRows(learnerID)
	out := make([]progression.ModuleCompletion, 0, len(rows))
	for _, mc := range rows {
		out = append(out, mc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out, nil
}

func (r *progressRepo) CountCompletedLessons(_ context.Context, learnerID string) (int64, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, p := range r.t.lessonRows(learnerID) {
		if p.Status == progression.StatusCompleted {
			n++
		}
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// QUIZ ATTEMPTS
// ══════════════════════════════════════════════════════════════════════════════

type attemptRepo struct{ t *tx }

func copyAttempt(a *quiz.Attempt) *quiz.Attempt {
	c := *a
	c.Answers = make(map[string]int, len(a.Answers))
	for k, v := range a.Answers {
		c.Answers[k] = v
	}
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		c.SubmittedAt = &t
	}
	if a.ScorePercent != nil {
		p := *a.ScorePercent
		c.ScorePercent = &p
	}
	return &c
}

func (t *tx) attempt(id string) (*quiz.Attempt, bool) {
	if a, ok := t.attempts[id]; ok {
		return a, true
	}
	a, ok := t.store.attempts[id]
	return a, ok
}

// eachAttempt обходит попытки, слой поверх хранилища. Вызывается под store.mu.
func (t *tx) eachAttempt(fn func(a *quiz.Attempt)) {
	for id, a := range t.store.attempts {
		if staged, ok := t.attempts[id]; ok {
			a = staged
		}
		fn(a)
	}
	for id, a := range t.attempts {
		if _, ok := t.store.attempts[id]; !ok {
			fn(a)
		}
	}
}

func (r *attemptRepo) Create(_ context.Context, a *quiz.Attempt) error {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := r.t.attempt(a.ID); ok {
		return shared.Errorf("quiz", "CreateAttempt", shared.ErrValidation, "attempt %q already exists", a.ID)
	}
	r.t.attempts[a.ID] = copyAttempt(a)
	return nil
}

func (r *attemptRepo) Get(_ context.Context, id string) (*quiz.Attempt, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := r.t.attempt(id)
	if !ok {
		return nil, shared.ErrAttemptNotFound
	}
	return copyAttempt(a), nil
}

func (r *attemptRepo) Save(_ context.Context, a *quiz.Attempt) error {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := r.t.attempt(a.ID); !ok {
		return shared.ErrAttemptNotFound
	}
	r.t.attempts[a.ID] = copyAttempt(a)
	return nil
}

func (r *attemptRepo) CountPassedQuizzes(_ context.Context, learnerID string) (int64, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	passed := make(map[string]bool)
	r.t.eachAttempt(func(a *quiz.Attempt) {
		if a.LearnerID == learnerID && a.Locked && a.Passed {
			passed[a.QuizID] = true
		}
	})
	return int64(len(passed)), nil
}

func (r *attemptRepo) ListExpired(_ context.Context, before time.Time, limit int) ([]*quiz.Attempt, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*quiz.Attempt
	r.t.eachAttempt(func(a *quiz.Attempt) {
		if !a.Locked && a.Deadline.Before(before) {
			out = append(out, copyAttempt(a))
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGES
// ══════════════════════════════════════════════════════════════════════════════

type badgeRepo struct{ t *tx }

func (t *tx) badgeAwards(learnerID string) []badge.Award {
	out := append([]badge.Award(nil), t.store.awards[learnerID]...)
	return append(out, t.awards[learnerID]...)
}

func (r *badgeRepo) InsertAward(_ context.Context, a badge.Award) (bool, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range r.t.badgeAwards(a.LearnerID) {
		if existing.BadgeID == a.BadgeID {
			return false, nil
		}
	}
	r.t.awards[a.LearnerID] = append(r.t.awards[a.LearnerID], a)
	return true, nil
}

func (r *badgeRepo) ListAwards(_ context.Context, learnerID string) ([]badge.Award, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	return r.t.badgeAwards(learnerID), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGES
// ══════════════════════════════════════════════════════════════════════════════

type challengeRepo struct{ t *tx }

func participationKey(learnerID, challengeID string) string {
	return learnerID + "|" + challengeID
}

func copyParticipation(p *challenge.Participation) *challenge.Participation {
	c := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (t *tx) participation(key string) (*challenge.Participation, bool) {
	if p, ok := t.participants[key]; ok {
		return p, true
	}
	p, ok := t.store.participations[key]
	return p, ok
}

// eachParticipation обходит участия, слой поверх хранилища.
func (t *tx) eachParticipation(fn func(p *challenge.Participation)) {
	for key, p := range t.store.participations {
		if staged, ok := t.participants[key]; ok {
			p = staged
		}
		fn(p)
	}
	for key, p := range t.participants {
		if _, ok := t.store.participations[key]; !ok {
			fn(p)
		}
	}
}

// ReserveSeat держит блокировку мест челленджа до конца единицы работы, как
// строчная блокировка UPDATE в Postgres: параллельное вступление ждёт коммита
// или отката и видит только закоммиченные места.
func (r *challengeRepo) ReserveSeat(_ context.Context, challengeID string, max int) (bool, error) {
	if !r.t.readOnly {
		r.t.lockSeat(challengeID)
	}

	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if max > 0 && s.seats[challengeID]+r.t.seats[challengeID] >= int64(max) {
		return false, nil
	}
	r.t.seats[challengeID]++
	return true, nil
}

func (r *challengeRepo) GetParticipation(_ context.Context, learnerID, challengeID string) (*challenge.Participation, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := r.t.participation(participationKey(learnerID, challengeID))
	if !ok {
		return nil, shared.NewDomainError("challenge", "GetParticipation", shared.ErrNotFound, "participation not found")
	}
	return copyParticipation(p), nil
}

func (r *challengeRepo) InsertParticipation(_ context.Context, p *challenge.Participation) error {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := participationKey(p.LearnerID, p.ChallengeID)
	if _, ok := r.t.participation(key); ok {
		return shared.NewDomainError("challenge", "Join", shared.ErrDuplicateEvent, "already joined")
	}
	r.t.participants[key] = copyParticipation(p)
	return nil
}

func (r *challengeRepo) SaveParticipation(_ context.Context, p *challenge.Participation) error {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := participationKey(p.LearnerID, p.ChallengeID)
	if _, ok := r.t.participation(key); !ok {
		return shared.NewDomainError("challenge", "SaveParticipation", shared.ErrNotFound, "participation not found")
	}
	r.t.participants[key] = copyParticipation(p)
	return nil
}

func (r *challengeRepo) ListByLearner(_ context.Context, learnerID string) ([]*challenge.Participation, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*challenge.Participation
	r.t.eachParticipation(func(p *challenge.Participation) {
		if p.LearnerID == learnerID {
			out = append(out, copyParticipation(p))
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (r *challengeRepo) CountCompleted(_ context.Context, learnerID string) (int64, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	r.t.eachParticipation(func(p *challenge.Participation) {
		if p.LearnerID == learnerID && p.Completed() {
			n++
		}
	})
	return n, nil
}

func (r *challengeRepo) CountParticipants(_ context.Context, challengeID string) (int64, error) {
	s := r.t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seats[challengeID] + r.t.seats[challengeID], nil
}
