// Package reward is the single path through which XP enters the ledger.
package reward

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/ledger"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/timeutil"
)

// IDGenerator generates unique IDs.
type IDGenerator interface {
	GenerateID() string
}

// Award is the outcome of one ledger write.
type Award struct {
	Transaction *ledger.Transaction
	// Duplicate is true when the key was already in the ledger; Transaction
	// is then the original one and nothing was written.
	Duplicate bool
}

// Awarded returns the XP this call actually added to the balance.
func (a Award) Awarded() shared.XP {
	if a.Duplicate || a.Transaction == nil {
		return 0
	}
	return a.Transaction.Amount
}

// Awarder writes ledger transactions inside an existing unit of work.
type Awarder struct {
	ids IDGenerator
}

func NewAwarder(ids IDGenerator) *Awarder {
	return &Awarder{ids: ids}
}

// Award inserts a transaction keyed by (learner, source_type, source_id).
// A repeated key returns the stored transaction with Duplicate=true.
func (a *Awarder) Award(ctx context.Context, r txn.Repos, out *txn.Outbox, key ledger.Key, amount shared.XP, now time.Time) (Award, error) {
	tx, err := ledger.NewTransaction(a.ids.GenerateID(), key, amount, now)
	if err != nil {
		return Award{}, err
	}

	inserted, err := r.Ledger.Insert(ctx, tx)
	if err != nil {
		return Award{}, fmt.Errorf("failed to insert xp transaction: %w", err)
	}
	if !inserted {
		existing, err := r.Ledger.FindByKey(ctx, key)
		if err != nil {
			return Award{}, fmt.Errorf("failed to load existing xp transaction: %w", err)
		}
		return Award{Transaction: existing, Duplicate: true}, nil
	}

	if out != nil {
		balance, err := r.Ledger.Balance(ctx, key.LearnerID)
		if err != nil {
			return Award{}, fmt.Errorf("failed to read balance: %w", err)
		}
		out.Record(shared.NewXPAwardedEvent(key.LearnerID, key.SourceType.String(), key.SourceID,
			amount.Int64(), balance.Int64(), now))
	}
	return Award{Transaction: tx}, nil
}

// AwardIfPositive is Award for configurable rewards that may be zero: a zero
// amount is not an error, it simply writes nothing.
func (a *Awarder) AwardIfPositive(ctx context.Context, r txn.Repos, out *txn.Outbox, key ledger.Key, amount shared.XP, now time.Time) (Award, error) {
	if amount <= 0 {
		return Award{}, nil
	}
	return a.Award(ctx, r, out, key, amount, now)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Service exposes award and balance as standalone operations, each in its own
// learner-serialized unit of work.
type Service struct {
	uow       txn.UnitOfWork
	awarder   *Awarder
	clock     timeutil.Clock
	publisher shared.EventPublisher
	log       *logger.Logger
}

func NewService(uow txn.UnitOfWork, awarder *Awarder, clock timeutil.Clock, publisher shared.EventPublisher, log *logger.Logger) *Service {
	return &Service{
		uow:       uow,
		awarder:   awarder,
		clock:     clock,
		publisher: publisher,
		log:       log.With(logger.Component("ledger")),
	}
}

// Award credits amount XP to the learner exactly once per source.
func (s *Service) Award(ctx context.Context, learnerID string, source ledger.SourceType, sourceID string, amount shared.XP) (Award, error) {
	if err := shared.ValidateID("ledger", "Award", "learner_id", learnerID); err != nil {
		return Award{}, err
	}
	var (
		result Award
		out    txn.Outbox
	)
	now := s.clock.Now()
	err := s.uow.WithinLearner(ctx, learnerID, func(ctx context.Context, r txn.Repos) error {
		out.Reset()
		if _, err := r.Learners.GetOrCreate(ctx, learnerID, now); err != nil {
			return err
		}
		award, err := s.awarder.Award(ctx, r, &out, ledger.Key{LearnerID: learnerID, SourceType: source, SourceID: sourceID}, amount, now)
		result = award
		return err
	})
	if err != nil {
		return Award{}, err
	}
	out.Flush(s.publisher, s.log)
	return result, nil
}

// Balance returns the sum of the learner's transactions.
func (s *Service) Balance(ctx context.Context, learnerID string) (shared.XP, error) {
	var balance shared.XP
	err := s.uow.Read(ctx, func(ctx context.Context, r txn.Repos) error {
		b, err := r.Ledger.Balance(ctx, learnerID)
		balance = b
		return err
	})
	return balance, err
}
