// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/civiclearn/internal/application/txn"
	"github.com/alem-hub/civiclearn/internal/domain/badge"
	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/progression"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEARNER PROGRESS QUERY
// Собирает полную картину прогресса ученика: модули и уроки, общий XP,
// серию дней и полученные значки. Это единственный источник истины для UI.
// ══════════════════════════════════════════════════════════════════════════════

// GetLearnerProgressQuery - параметры запроса.
type GetLearnerProgressQuery struct {
	LearnerID string
}

// Validate проверяет параметры.
func (q GetLearnerProgressQuery) Validate() error {
	return shared.ValidateID("progression", "GetLearnerProgress", "learner_id", q.LearnerID)
}

// LessonProgressDTO - состояние одного урока.
type LessonProgressDTO struct {
	ID          string     `json:"id"`
	Title       string     `json:"title,omitempty"`
	OrderIndex  int        `json:"order_index"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ModuleProgressDTO - состояние модуля.
type ModuleProgressDTO struct {
	ID      string              `json:"id"`
	Title   string              `json:"title,omitempty"`
	Status  string              `json:"status"`
	Lessons []LessonProgressDTO `json:"lessons"`
}

// EarnedBadgeDTO - полученный значок.
type EarnedBadgeDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AwardedAt time.Time `json:"awarded_at"`
}

// LearnerProgressDTO - ответ запроса.
type LearnerProgressDTO struct {
	LearnerID      string              `json:"learner_id"`
	ContentVersion int64               `json:"content_version"`
	Modules        []ModuleProgressDTO `json:"modules"`
	TotalXP        int64               `json:"total_xp"`
	StreakCount    int                 `json:"streak_count"`
	LastActiveOn   string              `json:"last_active_on,omitempty"`
	CommunityPosts int64               `json:"community_posts"`
	BadgesEarned   []EarnedBadgeDTO    `json:"badges_earned"`
}

// ProgressCache - кэш готовых ответов (Redis). Ошибки кэша не ломают запрос.
//
// Записи привязаны к поколению ученика. Invalidate увеличивает поколение,
// поэтому ответ, собранный до коммита, сохраняется под старым поколением и
// больше никогда не читается.
type ProgressCache interface {
	Generation(ctx context.Context, learnerID string) (int64, error)
	Get(ctx context.Context, learnerID string, generation, contentVersion int64) (*LearnerProgressDTO, bool, error)
	Set(ctx context.Context, dto *LearnerProgressDTO, generation int64) error
	Invalidate(ctx context.Context, learnerID string) error
}

// ContentSource отдаёт активный снимок контента.
type ContentSource interface {
	Current() *catalog.Snapshot
}

// GetLearnerProgressHandler обрабатывает запрос прогресса.
type GetLearnerProgressHandler struct {
	uow     txn.UnitOfWork
	content ContentSource
	cache   ProgressCache
	clock   timeutil.Clock
	log     *logger.Logger

	// Параллельные промахи одного поколения схлопываются в одно чтение.
	group singleflight.Group
}

// NewGetLearnerProgressHandler создаёт обработчик. cache может быть nil.
func NewGetLearnerProgressHandler(uow txn.UnitOfWork, content ContentSource, cache ProgressCache, clock timeutil.Clock, log *logger.Logger) *GetLearnerProgressHandler {
	return &GetLearnerProgressHandler{
		uow:     uow,
		content: content,
		cache:   cache,
		clock:   clock,
		log:     log.With(logger.Component("get_learner_progress")),
	}
}

// Handle выполняет запрос. Ничего не записывает: для модулей, которых ученик
// ещё не касался, отдаются начальные (виртуальные) состояния.
func (h *GetLearnerProgressHandler) Handle(ctx context.Context, q GetLearnerProgressQuery) (*LearnerProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	snap := h.content.Current()
	if h.cache == nil {
		return h.load(ctx, snap, q.LearnerID)
	}

	gen, err := h.cache.Generation(ctx, q.LearnerID)
	if err != nil {
		h.log.Debug("progress cache bypassed", logger.LearnerID(q.LearnerID), logger.Err(err))
		return h.load(ctx, snap, q.LearnerID)
	}
	dto, ok, err := h.cache.Get(ctx, q.LearnerID, gen, snap.Version())
	if err != nil {
		h.log.Debug("progress cache miss on error", logger.LearnerID(q.LearnerID), logger.Err(err))
	} else if ok {
		return dto, nil
	}

	// Запросы одного поколения схлопываются; после инвалидации ключ другой.
	key := fmt.Sprintf("%s@%d#%d", q.LearnerID, snap.Version(), gen)
	v, err, _ := h.group.Do(key, func() (interface{}, error) {
		return h.load(ctx, snap, q.LearnerID)
	})
	if err != nil {
		return nil, err
	}
	dto = v.(*LearnerProgressDTO)

	if err := h.cache.Set(ctx, dto, gen); err != nil {
		h.log.Debug("failed to cache progress", logger.LearnerID(q.LearnerID), logger.Err(err))
	}
	return dto, nil
}

func (h *GetLearnerProgressHandler) load(ctx context.Context, snap *catalog.Snapshot, learnerID string) (*LearnerProgressDTO, error) {
	var (
		rows   []*progression.LessonProgress
		awards []badge.Award
		total  shared.XP
		streak int
		active string
		posts  int64
	)
	err := h.uow.Read(ctx, func(ctx context.Context, r txn.Repos) error {
		var err error
		if rows, err = r.Progress.ListByLearner(ctx, learnerID); err != nil {
			return fmt.Errorf("failed to load lesson progress: %w", err)
		}
		if awards, err = r.Badges.ListAwards(ctx, learnerID); err != nil {
			return fmt.Errorf("failed to load badge awards: %w", err)
		}
		if total, err = r.Ledger.Balance(ctx, learnerID); err != nil {
			return fmt.Errorf("failed to load balance: %w", err)
		}
		l, err := r.Learners.Get(ctx, learnerID)
		switch {
		case err == nil:
			streak, posts = l.StreakCount, l.CommunityPosts
			if !l.LastActiveOn.IsZero() {
				active = timeutil.FormatDate(l.LastActiveOn)
			}
		case !shared.IsNotFound(err):
			return fmt.Errorf("failed to load learner: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	byModule := make(map[string][]*progression.LessonProgress)
	for _, p := range rows {
		byModule[p.ModuleID] = append(byModule[p.ModuleID], p)
	}

	now := h.clock.Now()
	dto := &LearnerProgressDTO{
		LearnerID:      learnerID,
		ContentVersion: snap.Version(),
		Modules:        make([]ModuleProgressDTO, 0, len(snap.Modules())),
		TotalXP:        total.Int64(),
		StreakCount:    streak,
		LastActiveOn:   active,
		CommunityPosts: posts,
		BadgesEarned:   make([]EarnedBadgeDTO, 0, len(awards)),
	}
	for _, m := range snap.Modules() {
		// NewTrack достраивает недостающие строки в памяти; Dirty не сохраняется.
		track := progression.NewTrack(learnerID, m, byModule[m.ID], now)
		md := ModuleProgressDTO{
			ID:      m.ID,
			Title:   m.Title,
			Status:  string(track.Status()),
			Lessons: make([]LessonProgressDTO, 0, len(m.Lessons)),
		}
		for i, p := range track.Rows() {
			md.Lessons = append(md.Lessons, LessonProgressDTO{
				ID:          p.LessonID,
				Title:       m.Lessons[i].Title,
				OrderIndex:  m.Lessons[i].OrderIndex,
				Status:      string(p.Status),
				CompletedAt: p.CompletedAt,
			})
		}
		dto.Modules = append(dto.Modules, md)
	}

	for _, a := range awards {
		name := a.BadgeID
		if b, err := snap.Badge(a.BadgeID); err == nil {
			name = b.Name
		}
		dto.BadgesEarned = append(dto.BadgesEarned, EarnedBadgeDTO{ID: a.BadgeID, Name: name, AwardedAt: a.AwardedAt})
	}
	return dto, nil
}

// Invalidate сбрасывает кэш ученика. Команды вызывают его после коммита,
// подписчик на события - для событий с других реплик.
func (h *GetLearnerProgressHandler) Invalidate(ctx context.Context, learnerID string) error {
	if h.cache == nil {
		return nil
	}
	return h.cache.Invalidate(ctx, learnerID)
}
