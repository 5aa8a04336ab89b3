package postgres

// GetMigrations возвращает встроенные миграции по порядку версий.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_learners", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_progression", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_ledger", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_quiz_attempts", UpSQL: migration004Up, DownSQL: migration004Down},
		{Version: 5, Name: "create_badges_and_challenges", UpSQL: migration005Up, DownSQL: migration005Down},
		{Version: 6, Name: "create_content_versions", UpSQL: migration006Up, DownSQL: migration006Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: LEARNERS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS learners (
    id VARCHAR(128) PRIMARY KEY,
    streak_count INTEGER NOT NULL DEFAULT 0,
    last_active_on DATE,
    community_posts BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT learners_streak_non_negative CHECK (streak_count >= 0),
    CONSTRAINT learners_posts_non_negative CHECK (community_posts >= 0)
);

-- Внешняя активность в сообществе, учитывается один раз по external_id.
CREATE TABLE IF NOT EXISTS community_activity (
    learner_id VARCHAR(128) NOT NULL REFERENCES learners(id),
    external_id VARCHAR(128) NOT NULL,
    kind VARCHAR(16) NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (learner_id, external_id),
    CONSTRAINT community_activity_kind CHECK (kind IN ('post', 'reply'))
);
`

const migration001Down = `
DROP TABLE IF EXISTS community_activity;
DROP TABLE IF EXISTS learners;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: PROGRESSION
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS lesson_progress (
    learner_id VARCHAR(128) NOT NULL,
    lesson_id VARCHAR(128) NOT NULL,
    module_id VARCHAR(128) NOT NULL,
    order_index INTEGER NOT NULL,
    status VARCHAR(16) NOT NULL,
    unlocked_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,

    PRIMARY KEY (learner_id, lesson_id),
    CONSTRAINT lesson_progress_status CHECK (status IN ('locked', 'unlocked', 'completed')),
    CONSTRAINT lesson_progress_completed_at CHECK ((status = 'completed') = (completed_at IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_lesson_progress_module ON lesson_progress(learner_id, module_id, order_index);

CREATE TABLE IF NOT EXISTS module_completions (
    learner_id VARCHAR(128) NOT NULL,
    module_id VARCHAR(128) NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (learner_id, module_id)
);
`

const migration002Down = `
DROP TABLE IF EXISTS module_completions;
DROP TABLE IF EXISTS lesson_progress;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: XP LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Журнал только на добавление. Уникальный ключ - гарантия "не более одного
-- начисления за источник".
CREATE TABLE IF NOT EXISTS xp_transactions (
    id UUID PRIMARY KEY,
    learner_id VARCHAR(128) NOT NULL,
    source_type VARCHAR(16) NOT NULL,
    source_id VARCHAR(256) NOT NULL,
    amount BIGINT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT xp_transactions_key UNIQUE (learner_id, source_type, source_id),
    CONSTRAINT xp_transactions_positive CHECK (amount > 0),
    CONSTRAINT xp_transactions_source CHECK (source_type IN ('lesson', 'module', 'quiz', 'badge', 'challenge'))
);

CREATE INDEX IF NOT EXISTS idx_xp_transactions_learner ON xp_transactions(learner_id, created_at);
`

const migration003Down = `
DROP TABLE IF EXISTS xp_transactions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: QUIZ ATTEMPTS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS quiz_attempts (
    id VARCHAR(64) PRIMARY KEY,
    learner_id VARCHAR(128) NOT NULL,
    quiz_id VARCHAR(128) NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    deadline TIMESTAMP WITH TIME ZONE NOT NULL,
    answers JSONB NOT NULL DEFAULT '{}'::jsonb,
    submitted_at TIMESTAMP WITH TIME ZONE,
    score_percent INTEGER,
    passed BOOLEAN NOT NULL DEFAULT FALSE,
    xp_awarded BIGINT NOT NULL DEFAULT 0,
    locked BOOLEAN NOT NULL DEFAULT FALSE,
    auto_submitted BOOLEAN NOT NULL DEFAULT FALSE,

    CONSTRAINT quiz_attempts_score CHECK (score_percent IS NULL OR score_percent BETWEEN 0 AND 100),
    CONSTRAINT quiz_attempts_locked CHECK (locked = (submitted_at IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_quiz_attempts_passed ON quiz_attempts(learner_id, quiz_id) WHERE passed;
CREATE INDEX IF NOT EXISTS idx_quiz_attempts_open ON quiz_attempts(deadline) WHERE NOT locked;
`

const migration004Down = `
DROP TABLE IF EXISTS quiz_attempts;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 005: BADGES & CHALLENGES
// ══════════════════════════════════════════════════════════════════════════════

const migration005Up = `
CREATE TABLE IF NOT EXISTS badge_awards (
    learner_id VARCHAR(128) NOT NULL,
    badge_id VARCHAR(128) NOT NULL,
    awarded_at TIMESTAMP WITH TIME ZONE NOT NULL,
    source VARCHAR(160) NOT NULL,

    PRIMARY KEY (learner_id, badge_id)
);

-- Счётчик мест. Одна строка на челлендж, обновляется атомарно.
CREATE TABLE IF NOT EXISTS challenge_seats (
    challenge_id VARCHAR(128) PRIMARY KEY,
    participant_count BIGINT NOT NULL DEFAULT 0,

    CONSTRAINT challenge_seats_non_negative CHECK (participant_count >= 0)
);

CREATE TABLE IF NOT EXISTS challenge_participations (
    learner_id VARCHAR(128) NOT NULL,
    challenge_id VARCHAR(128) NOT NULL,
    joined_at TIMESTAMP WITH TIME ZONE NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE,

    PRIMARY KEY (learner_id, challenge_id)
);
`

const migration005Down = `
DROP TABLE IF EXISTS challenge_participations;
DROP TABLE IF EXISTS challenge_seats;
DROP TABLE IF EXISTS badge_awards;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 006: CONTENT VERSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration006Up = `
CREATE TABLE IF NOT EXISTS content_versions (
    version BIGSERIAL PRIMARY KEY,
    checksum CHAR(64) NOT NULL UNIQUE,
    bundle JSONB NOT NULL,
    published_at TIMESTAMP WITH TIME ZONE NOT NULL
);
`

const migration006Down = `
DROP TABLE IF EXISTS content_versions;
`
