package command

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/alem-hub/civiclearn/internal/application/saga"
	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/ledger"
	"github.com/alem-hub/civiclearn/internal/domain/progression"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE LESSON COMMAND
// Unlocked → Completed, lesson XP, successor unlock, module bonus, badge re-check.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteLessonCommand is the LessonCompleted event.
type CompleteLessonCommand struct {
	LearnerID     string
	LessonID      string
	CorrelationID string
}

// Validate validates the command.
func (c CompleteLessonCommand) Validate() error {
	if err := shared.ValidateID("progression", "CompleteLesson", "learner_id", c.LearnerID); err != nil {
		return err
	}
	return shared.ValidateID("progression", "CompleteLesson", "lesson_id", c.LessonID)
}

// CompleteLessonResult contains the result of completing a lesson.
type CompleteLessonResult struct {
	LearnerID        string              `json:"learner_id"`
	LessonID         string              `json:"lesson_id"`
	ModuleID         string              `json:"module_id"`
	XPAwarded        shared.XP           `json:"xp_awarded"`
	UnlockedLessonID string              `json:"unlocked_lesson_id,omitempty"`
	ModuleCompleted  bool                `json:"module_completed"`
	ModuleXPAwarded  shared.XP           `json:"module_xp_awarded"`
	BadgesAwarded    []saga.AwardedBadge `json:"badges_awarded"`
	TotalXP          shared.XP           `json:"total_xp"`
	Duplicate        bool                `json:"duplicate"`
}

// CompleteLessonHandler handles the CompleteLessonCommand.
type CompleteLessonHandler struct {
	deps Deps
	log  *logger.Logger
}

// NewCompleteLessonHandler creates a new CompleteLessonHandler.
func NewCompleteLessonHandler(deps Deps) *CompleteLessonHandler {
	return &CompleteLessonHandler{
		deps: deps,
		log:  deps.Logger.With(logger.Component("complete_lesson")),
	}
}

// Handle executes the command.
func (h *CompleteLessonHandler) Handle(ctx context.Context, cmd CompleteLessonCommand) (result *CompleteLessonResult, err error) {
	ctx, span := startSpan(ctx, "command.CompleteLesson", cmd.LearnerID)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("lesson.id", cmd.LessonID))

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	snap := h.deps.Content.Current()
	module, err := snap.ModuleOfLesson(cmd.LessonID)
	if err != nil {
		return nil, err
	}

	now := h.deps.now()
	var out txn.Outbox

	err = h.deps.UoW.WithinLearner(ctx, cmd.LearnerID, func(ctx context.Context, r txn.Repos) error {
		out.Reset()
		result = &CompleteLessonResult{LearnerID: cmd.LearnerID, LessonID: cmd.LessonID, ModuleID: module.ID}

		if _, err := r.Learners.GetOrCreate(ctx, cmd.LearnerID, now); err != nil {
			return fmt.Errorf("failed to load learner: %w", err)
		}
		rows, err := r.Progress.ListByModule(ctx, cmd.LearnerID, module.ID)
		if err != nil {
			return fmt.Errorf("failed to load lesson progress: %w", err)
		}
		track := progression.NewTrack(cmd.LearnerID, module, rows, now)

		outcome, err := track.Complete(cmd.LessonID, now)
		if errors.Is(err, shared.ErrDuplicateEvent) {
			return h.priorResult(ctx, r, track, result)
		}
		if err != nil {
			return err
		}

		if err := r.Progress.Save(ctx, track.Dirty()); err != nil {
			return fmt.Errorf("failed to save lesson progress: %w", err)
		}

		lessonAward, err := h.deps.Awarder.AwardIfPositive(ctx, r, &out,
			ledger.Key{LearnerID: cmd.LearnerID, SourceType: ledger.SourceLesson, SourceID: cmd.LessonID},
			outcome.Lesson.XPReward, now)
		if err != nil {
			return err
		}
		result.XPAwarded = lessonAward.Awarded()

		unlocked := ""
		if outcome.Unlocked != nil {
			unlocked = outcome.Unlocked.ID
			result.UnlockedLessonID = unlocked
		}
		out.Record(withCorrelation(shared.NewLessonCompletedEvent(cmd.LearnerID, cmd.LessonID, module.ID, unlocked, now), cmd.CorrelationID))

		if outcome.ModuleIsDone {
			inserted, err := r.Progress.InsertModuleCompletion(ctx, progression.ModuleCompletion{
				LearnerID:   cmd.LearnerID,
				ModuleID:    module.ID,
				CompletedAt: now,
			})
			if err != nil {
				return fmt.Errorf("failed to record module completion: %w", err)
			}
			result.ModuleCompleted = true
			if inserted {
				moduleAward, err := h.deps.Awarder.AwardIfPositive(ctx, r, &out,
					ledger.Key{LearnerID: cmd.LearnerID, SourceType: ledger.SourceModule, SourceID: module.ID},
					module.XPReward, now)
				if err != nil {
					return err
				}
				result.ModuleXPAwarded = moduleAward.Awarded()
				out.Record(shared.NewModuleCompletedEvent(cmd.LearnerID, module.ID, now))
			}
		}

		if _, err := h.deps.touchLearner(ctx, r, cmd.LearnerID, now); err != nil {
			return err
		}

		badges, err := h.deps.Badges.Reevaluate(ctx, r, &out, snap, cmd.LearnerID, now)
		if err != nil {
			return err
		}
		result.BadgesAwarded = badges

		total, err := r.Ledger.Balance(ctx, cmd.LearnerID)
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		result.TotalXP = total
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Duplicate {
		h.log.Debug("duplicate lesson completion ignored",
			logger.LearnerID(cmd.LearnerID), logger.String("lesson_id", cmd.LessonID))
		return result, nil
	}

	h.deps.afterCommit(ctx, &out, cmd.LearnerID, h.log)
	h.log.Info("lesson completed",
		logger.LearnerID(cmd.LearnerID),
		logger.String("lesson_id", cmd.LessonID),
		logger.Int64("xp_awarded", result.XPAwarded.Int64()),
		logger.Bool("module_completed", result.ModuleCompleted),
		logger.Int("badges_awarded", len(result.BadgesAwarded)),
	)
	return result, nil
}

// priorResult rebuilds the result of the original completion. It writes nothing.
func (h *CompleteLessonHandler) priorResult(ctx context.Context, r txn.Repos, track *progression.Track, result *CompleteLessonResult) error {
	result.Duplicate = true

	lessonTx, err := r.Ledger.FindByKey(ctx, ledger.Key{LearnerID: result.LearnerID, SourceType: ledger.SourceLesson, SourceID: result.LessonID})
	switch {
	case err == nil:
		result.XPAwarded = lessonTx.Amount
	case !shared.IsNotFound(err):
		return fmt.Errorf("failed to load lesson transaction: %w", err)
	}

	if next, ok := track.Module.Successor(result.LessonID); ok {
		result.UnlockedLessonID = next.ID
	}
	if track.Status() == progression.ModuleCompleted {
		result.ModuleCompleted = true
		moduleTx, err := r.Ledger.FindByKey(ctx, ledger.Key{LearnerID: result.LearnerID, SourceType: ledger.SourceModule, SourceID: result.ModuleID})
		switch {
		case err == nil:
			result.ModuleXPAwarded = moduleTx.Amount
		case !shared.IsNotFound(err):
			return fmt.Errorf("failed to load module transaction: %w", err)
		}
	}

	total, err := r.Ledger.Balance(ctx, result.LearnerID)
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}
	result.TotalXP = total
	return nil
}

// withCorrelation stamps a correlation id on events that embed BaseEvent.
func withCorrelation(e shared.LessonCompletedEvent, id string) shared.LessonCompletedEvent {
	if id != "" {
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
	}
	return e
}
