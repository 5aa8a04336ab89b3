// Package memory - хранилище в памяти процесса. Используется в тестах и в
// режиме STORAGE_DRIVER=memory (один экземпляр, без БД).
//
// Семантика совпадает с Postgres: операции одного ученика сериализуются,
// записи WithinLearner копятся в отдельном слое и попадают в общие данные
// только при коммите, место в челлендже держит блокировку до конца
// единицы работы.
package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/badge"
	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/challenge"
	"github.com/alem-hub/civiclearn/internal/domain/learner"
	"github.com/alem-hub/civiclearn/internal/domain/ledger"
	"github.com/alem-hub/civiclearn/internal/domain/progression"
	"github.com/alem-hub/civiclearn/internal/domain/quiz"
)

// Store хранит все данные движка.
type Store struct {
	mu sync.Mutex

	learners  map[string]*learner.Learner
	community map[string]bool // learnerID|externalID

	transactions map[ledger.Key]*ledger.Transaction
	txByLearner  map[string][]ledger.Key

	progress map[string]map[string]*progression.LessonProgress // learner → lesson
	modules  map[string]map[string]progression.ModuleCompletion

	attempts map[string]*quiz.Attempt

	awards map[string][]badge.Award

	seats          map[string]int64
	participations map[string]*challenge.Participation // learnerID|challengeID

	versions []*catalog.Version

	locks     *keyedMutex
	seatLocks *keyedMutex

	// fault, если задан, вызывается в начале каждой единицы работы.
	fault func(op string) error
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		learners:       make(map[string]*learner.Learner),
		community:      make(map[string]bool),
		transactions:   make(map[ledger.Key]*ledger.Transaction),
		txByLearner:    make(map[string][]ledger.Key),
		progress:       make(map[string]map[string]*progression.LessonProgress),
		modules:        make(map[string]map[string]progression.ModuleCompletion),
		attempts:       make(map[string]*quiz.Attempt),
		awards:         make(map[string][]badge.Award),
		seats:          make(map[string]int64),
		participations: make(map[string]*challenge.Participation),
		locks:          newKeyedMutex(),
		seatLocks:      newKeyedMutex(),
	}
}

// SetFaultInjector задаёт функцию, которая может вернуть ошибку перед
// выполнением единицы работы (для тестов повторов).
func (s *Store) SetFaultInjector(fn func(op string) error) {
	s.mu.Lock()
	s.fault = fn
	s.mu.Unlock()
}

// Ping всегда успешен.
func (s *Store) Ping(context.Context) error { return nil }

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// ══════════════════════════════════════════════════════════════════════════════

// WithinLearner выполняет fn под блокировкой ученика. Записи fn видны только
// ей самой и применяются к хранилищу целиком, если fn вернула nil.
func (s *Store) WithinLearner(ctx context.Context, learnerID string, fn txn.Func) error {
	if err := s.injectFault("WithinLearner"); err != nil {
		return err
	}
	unlock := s.locks.Lock(learnerID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	t := newTx(s, false)
	defer t.release()
	if err := fn(ctx, t.repos()); err != nil {
		return err
	}
	t.commit()
	return nil
}

// Read выполняет fn по закоммиченным данным без блокировки ученика.
// Записи внутри Read отбрасываются.
func (s *Store) Read(ctx context.Context, fn txn.Func) error {
	if err := s.injectFault("Read"); err != nil {
		return err
	}
	t := newTx(s, true)
	defer t.release()
	return fn(ctx, t.repos())
}

func (s *Store) injectFault(op string) error {
	s.mu.Lock()
	fault := s.fault
	s.mu.Unlock()
	if fault == nil {
		return nil
	}
	return fault(op)
}

// tx - слой незакоммиченных записей одной единицы работы. Чтения сначала
// смотрят в слой, потом в хранилище. Все поля защищены store.mu.
type tx struct {
	store    *Store
	readOnly bool

	learners     map[string]*learner.Learner
	community    map[string]bool
	transactions map[ledger.Key]*ledger.Transaction
	txKeys       []ledger.Key
	progress     map[string]map[string]*progression.LessonProgress
	modules      map[string]map[string]progression.ModuleCompletion
	attempts     map[string]*quiz.Attempt
	awards       map[string][]badge.Award
	seats        map[string]int64
	participants map[string]*challenge.Participation

	// held - блокировки мест, снимаются после коммита или отката.
	held map[string]func()
}

func newTx(s *Store, readOnly bool) *tx {
	return &tx{
		store:        s,
		readOnly:     readOnly,
		learners:     make(map[string]*learner.Learner),
		community:    make(map[string]bool),
		transactions: make(map[ledger.Key]*ledger.Transaction),
		progress:     make(map[string]map[string]*progression.LessonProgress),
		modules:      make(map[string]map[string]progression.ModuleCompletion),
		attempts:     make(map[string]*quiz.Attempt),
		awards:       make(map[string][]badge.Award),
		seats:        make(map[string]int64),
		participants: make(map[string]*challenge.Participation),
		held:         make(map[string]func()),
	}
}

func (t *tx) repos() txn.Repos {
	return txn.Repos{
		Learners:   &learnerRepo{t},
		Ledger:     &ledgerRepo{t},
		Progress:   &progressRepo{t},
		Attempts:   &attemptRepo{t},
		Badges:     &badgeRepo{t},
		Challenges: &challengeRepo{t},
	}
}

// lockSeat берёт блокировку мест челленджа один раз за единицу работы.
// Вызывается без store.mu.
func (t *tx) lockSeat(challengeID string) {
	if _, ok := t.held[challengeID]; ok {
		return
	}
	t.held[challengeID] = t.store.seatLocks.Lock(challengeID)
}

func (t *tx) release() {
	for id, unlock := range t.held {
		unlock()
		delete(t.held, id)
	}
}

// commit переносит слой в хранилище под одним store.mu.
func (t *tx) commit() {
	if t.readOnly {
		return
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, l := range t.learners {
		s.learners[id] = l
	}
	for key := range t.community {
		s.community[key] = true
	}
	for _, key := range t.txKeys {
		s.transactions[key] = t.transactions[key]
		s.txByLearner[key.LearnerID] = append(s.txByLearner[key.LearnerID], key)
	}
	for learnerID, rows := range t.progress {
		byLesson, ok := s.progress[learnerID]
		if !ok {
			byLesson = make(map[string]*progression.LessonProgress)
			s.progress[learnerID] = byLesson
		}
		for lessonID, p := range rows {
			byLesson[lessonID] = p
		}
	}
	for learnerID, done := range t.modules {
		byModule, ok := s.modules[learnerID]
		if !ok {
			byModule = make(map[string]progression.ModuleCompletion)
			s.modules[learnerID] = byModule
		}
		for moduleID, mc := range done {
			byModule[moduleID] = mc
		}
	}
	for id, a := range t.attempts {
		s.attempts[id] = a
	}
	for learnerID, list := range t.awards {
		s.awards[learnerID] = append(s.awards[learnerID], list...)
	}
	for challengeID, n := range t.seats {
		s.seats[challengeID] += n
	}
	for key, p := range t.participants {
		s.participations[key] = p
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// KEYED MUTEX
// ══════════════════════════════════════════════════════════════════════════════

// keyedMutex - мьютекс на каждый ключ. Записи удаляются, когда ключ никому
// не нужен.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock захватывает мьютекс ключа и возвращает функцию освобождения.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
