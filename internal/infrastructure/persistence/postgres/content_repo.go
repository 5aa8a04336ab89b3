package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/datatypes"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT REPOSITORY (GORM)
// ══════════════════════════════════════════════════════════════════════════════

// contentVersionRow - строка таблицы content_versions.
type contentVersionRow struct {
	Version     int64          `gorm:"column:version;primaryKey;autoIncrement"`
	Checksum    string         `gorm:"column:checksum;uniqueIndex"`
	Bundle      datatypes.JSON `gorm:"column:bundle;type:jsonb"`
	PublishedAt time.Time      `gorm:"column:published_at"`
}

func (contentVersionRow) TableName() string { return "content_versions" }

// ContentRepository реализует catalog.Repository через GORM.
// Бандл хранится как есть в JSONB, версии только добавляются.
type ContentRepository struct {
	db *gorm.DB
}

// OpenGorm открывает GORM поверх уже существующего пула pgx.
func OpenGorm(conn *Connection) (*gorm.DB, error) {
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(gormpg.New(gormpg.Config{Conn: stdlib.OpenDBFromPool(conn.Pool())}), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return db, nil
}

// NewContentRepository создаёт репозиторий версий контента.
func NewContentRepository(db *gorm.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// Save вставляет новую версию; номер назначает BIGSERIAL.
func (r *ContentRepository) Save(ctx context.Context, v *catalog.Version) error {
	raw, err := json.Marshal(v.Bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle: %w", err)
	}
	row := contentVersionRow{
		Checksum:    v.Checksum,
		Bundle:      datatypes.JSON(raw),
		PublishedAt: v.PublishedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.WrapError("catalog", "Save", shared.ErrDuplicateEvent, "content version already stored", err)
		}
		return classify(fmt.Errorf("failed to insert content version: %w", err))
	}
	v.Version = row.Version
	return nil
}

func (r *ContentRepository) Latest(ctx context.Context) (*catalog.Version, error) {
	var row contentVersionRow
	err := r.db.WithContext(ctx).Order("version DESC").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNoActiveContent
		}
		return nil, classify(fmt.Errorf("failed to load latest content: %w", err))
	}
	return row.toDomain()
}

func (r *ContentRepository) FindByChecksum(ctx context.Context, checksum string) (*catalog.Version, error) {
	var row contentVersionRow
	err := r.db.WithContext(ctx).Where("checksum = ?", checksum).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewDomainError("catalog", "FindByChecksum", shared.ErrNotFound, "content version not found")
		}
		return nil, classify(fmt.Errorf("failed to find content version: %w", err))
	}
	return row.toDomain()
}

// History возвращает последние limit версий без тела бандла.
func (r *ContentRepository) History(ctx context.Context, limit int) ([]catalog.Version, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []contentVersionRow
	err := r.db.WithContext(ctx).
		Select("version", "checksum", "published_at").
		Order("version DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list content versions: %w", err)
	}
	out := make([]catalog.Version, 0, len(rows))
	for _, row := range rows {
		out = append(out, catalog.Version{
			Version:     row.Version,
			Checksum:    row.Checksum,
			PublishedAt: row.PublishedAt.UTC(),
		})
	}
	return out, nil
}

func (row *contentVersionRow) toDomain() (*catalog.Version, error) {
	var b catalog.Bundle
	if err := json.Unmarshal(row.Bundle, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bundle v%d: %w", row.Version, err)
	}
	return &catalog.Version{
		Version:     row.Version,
		Checksum:    row.Checksum,
		PublishedAt: row.PublishedAt.UTC(),
		Bundle:      b,
	}, nil
}

var _ catalog.Repository = (*ContentRepository)(nil)
