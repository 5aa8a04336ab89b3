package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/civiclearn/internal/application/command"
	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/internal/infrastructure/contentfile"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT ADMINISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// Publisher validates and activates a content bundle.
type Publisher interface {
	Handle(ctx context.Context, cmd command.PublishContentCommand) (*command.PublishContentResult, error)
}

// ContentView exposes the active snapshot.
type ContentView interface {
	Current() *catalog.Snapshot
	Loaded() bool
}

// ContentHistory lists stored versions, newest first.
type ContentHistory interface {
	History(ctx context.Context, limit int) ([]catalog.Version, error)
}

// ContentStatus is the body of GET /admin/content.
type ContentStatus struct {
	Version     int64  `json:"version"`
	Checksum    string `json:"checksum"`
	Modules     int    `json:"modules"`
	Badges      int    `json:"badges"`
	Initialized bool   `json:"initialized"`
}

// VersionInfo is one entry of GET /admin/content/history.
type VersionInfo struct {
	Version     int64     `json:"version"`
	Checksum    string    `json:"checksum"`
	PublishedAt time.Time `json:"published_at"`
}

// AdminHandler serves /api/v1/admin/content.
type AdminHandler struct {
	publisher Publisher
	content   ContentView
	history   ContentHistory
	log       *logger.Logger
}

// NewAdminHandler creates the admin handler. history may be nil.
func NewAdminHandler(publisher Publisher, content ContentView, history ContentHistory, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		publisher: publisher,
		content:   content,
		history:   history,
		log:       log.With(logger.Component("admin")),
	}
}

func (h *AdminHandler) Register(g *gin.RouterGroup) {
	g.PUT("/content", h.PutContent)
	g.GET("/content", h.GetContent)
	if h.history != nil {
		g.GET("/content/history", h.GetHistory)
	}
}

var errBundleTooLarge = shared.Errorf("catalog", "Publish", shared.ErrConfiguration,
	"bundle exceeds %d bytes", contentfile.MaxBundleSize)

// PutContent handles PUT /admin/content with a YAML or JSON bundle body.
func (h *AdminHandler) PutContent(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, contentfile.MaxBundleSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			HandleError(c, h.log, errBundleTooLarge)
			return
		}
		RespondError(c, http.StatusBadRequest, CodeValidation, err)
		return
	}

	bundle, err := contentfile.Parse(body, contentfile.DetectFormat(c.ContentType(), body))
	if err != nil {
		HandleError(c, h.log, err)
		return
	}

	result, err := h.publisher.Handle(c.Request.Context(), command.PublishContentCommand{Bundle: *bundle})
	if err != nil {
		HandleError(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	h.log.Info("content published",
		logger.Int64("version", result.Version),
		logger.String("checksum", result.Checksum),
		logger.Bool("duplicate", result.Duplicate),
	)
	c.JSON(status, result)
}

// GetContent handles GET /admin/content.
func (h *AdminHandler) GetContent(c *gin.Context) {
	snap := h.content.Current()
	RespondOK(c, ContentStatus{
		Version:     snap.Version(),
		Checksum:    snap.Checksum(),
		Modules:     len(snap.Modules()),
		Badges:      len(snap.Badges()),
		Initialized: h.content.Loaded(),
	})
}

// GetHistory handles GET /admin/content/history?limit=N.
func (h *AdminHandler) GetHistory(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			RespondError(c, http.StatusBadRequest, CodeValidation, errors.New("limit must be between 1 and 200"))
			return
		}
		limit = n
	}
	versions, err := h.history.History(c.Request.Context(), limit)
	if err != nil {
		HandleError(c, h.log, err)
		return
	}
	out := make([]VersionInfo, 0, len(versions))
	for _, v := range versions {
		out = append(out, VersionInfo{Version: v.Version, Checksum: v.Checksum, PublishedAt: v.PublishedAt})
	}
	RespondOK(c, gin.H{"versions": out})
}
